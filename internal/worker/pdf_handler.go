package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/database"
	"cardDesigner/internal/errcode"
	"cardDesigner/internal/metrics"
	"cardDesigner/internal/pdf"
	"cardDesigner/internal/tasks"
)

type printDataFetcher interface {
	FetchPrintData(ctx context.Context, visitorID string) (PrintData, error)
}

type objectUploader interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RenderFunc 把打印 HTML 渲染成 PDF（及预览图）。
type RenderFunc func(ctx context.Context, html string, opts pdf.Options) (pdf.Output, error)

// BadgePrintHandler 负责消费工牌打印任务。
type BadgePrintHandler struct {
	db          *gorm.DB
	storage     objectUploader
	redisClient redisPublisher
	printData   printDataFetcher
	render      RenderFunc
	logger      *slog.Logger

	finalAttempt func(ctx context.Context) bool
}

// NewBadgePrintHandler 创建任务处理器。
func NewBadgePrintHandler(
	db *gorm.DB,
	storage objectUploader,
	redisClient redisPublisher,
	printData printDataFetcher,
	render RenderFunc,
	logger *slog.Logger,
) *BadgePrintHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgePrintHandler{
		db:           db,
		storage:      storage,
		redisClient:  redisClient,
		printData:    printData,
		render:       render,
		logger:       logger,
		finalAttempt: isFinalAsynqAttempt,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *BadgePrintHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.BadgePrintPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("print_id", uint64(payload.PrintID)),
		slog.String("visitor_id", payload.VisitorID),
	)
	log.Info("starting badge print task")

	var record database.BadgePrint
	if err := h.db.WithContext(ctx).First(&record, payload.PrintID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("badge print not found, skipping task")
			return nil
		}
		log.Error("query badge print failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || !h.finalAttempt(ctx) {
			return
		}
		message := strings.TrimSpace(retErr.Error())
		if message == "" {
			message = errcode.Message(errcode.SystemError)
		}
		if err := h.db.WithContext(ctx).Model(&record).Updates(map[string]any{
			"status":        database.PrintStatusFailed,
			"error_message": truncate(message, 512),
		}).Error; err != nil {
			log.Error("mark badge print failed", slog.Any("error", err))
		}
		notify := BadgePrintNotifyMessage{
			Status:        "error",
			PrintID:       record.ID,
			VisitorID:     record.VisitorID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  message,
		}
		if err := h.publish(ctx, notify); err != nil {
			log.Error("publish badge print error notification failed", slog.Any("error", err))
		}
	}()

	data, err := h.printData.FetchPrintData(ctx, record.VisitorID)
	if err != nil {
		log.Error("fetch print data failed", slog.Any("error", err))
		return err
	}
	missingKeys, elements := extractResourceMissing(data.Warnings)

	out, err := h.render(ctx, data.HTML, pdf.Options{Size: data.PrintSize(), Preview: true, Logger: log})
	if err != nil {
		log.Error("render badge pdf failed", slog.Any("error", err))
		return err
	}

	base := fmt.Sprintf("printed-badges/%s/%s", record.VisitorID, uuid.NewString())
	pdfKey := base + ".pdf"
	if _, err := h.storage.UploadFile(ctx, pdfKey, bytes.NewReader(out.PDF), int64(len(out.PDF)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}
	var previewKey string
	if len(out.Preview) > 0 {
		previewKey = base + ".png"
		if _, err := h.storage.UploadFile(ctx, previewKey, bytes.NewReader(out.Preview), int64(len(out.Preview)), "image/png"); err != nil {
			log.Warn("upload badge preview failed", slog.Any("error", err))
			previewKey = ""
		}
	}

	update := map[string]any{
		"status":        database.PrintStatusCompleted,
		"pdf_key":       pdfKey,
		"preview_key":   previewKey,
		"error_message": "",
	}
	if len(missingKeys) > 0 {
		raw, _ := json.Marshal(missingKeys)
		update["missing_keys"] = raw
	}
	if err := h.db.WithContext(ctx).Model(&record).Updates(update).Error; err != nil {
		log.Error("update badge print failed", slog.Any("error", err))
		return err
	}

	hidden := make([]cardlayout.ElementID, 0, len(elements))
	for _, e := range elements {
		hidden = append(hidden, cardlayout.ElementID(e))
	}
	metrics.ObserveRender("print", hidden)

	notify := BadgePrintNotifyMessage{
		Status:        "completed",
		PrintID:       record.ID,
		VisitorID:     record.VisitorID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if len(elements) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "部分素材缺失/无效，已自动隐藏并继续打印"
		notify.MissingKeys = missingKeys
		notify.Elements = elements
		log.Warn("badge printed with missing assets",
			slog.Int("missing_count", len(missingKeys)),
			slog.Any("missing_keys", missingKeys),
		)
	}
	if err := h.publish(ctx, notify); err != nil {
		// PDF 已生成，通知失败不再重试任务。
		log.Error("publish redis notification failed", slog.Any("error", err))
	}

	log.Info("badge print task completed", slog.String("pdf_key", pdfKey))
	return nil
}

func (h *BadgePrintHandler) publish(ctx context.Context, notify BadgePrintNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := BadgePrintChannel(notify.VisitorID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

// extractResourceMissing 汇总 4004 告警中的缺失地址与被隐藏的元素（去重，保持顺序）。
func extractResourceMissing(warnings []printDataWarning) (missingKeys, elements []string) {
	seenKeys := make(map[string]struct{})
	seenElements := make(map[string]struct{})
	for _, w := range warnings {
		if w.Code != errcode.ResourceMissing {
			continue
		}
		for _, k := range w.MissingKeys {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			if _, ok := seenKeys[key]; ok {
				continue
			}
			seenKeys[key] = struct{}{}
			missingKeys = append(missingKeys, key)
		}
		for _, e := range w.Elements {
			if _, ok := seenElements[e]; ok {
				continue
			}
			seenElements[e] = struct{}{}
			elements = append(elements, e)
		}
	}
	return missingKeys, elements
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
