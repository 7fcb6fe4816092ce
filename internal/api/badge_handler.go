package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"cardDesigner/internal/api/middleware"
	"cardDesigner/internal/assets"
	"cardDesigner/internal/badge"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/database"
	"cardDesigner/internal/errcode"
	"cardDesigner/internal/fonts"
	"cardDesigner/internal/metrics"
	"cardDesigner/internal/storage"
	"cardDesigner/internal/tasks"
	"cardDesigner/internal/visitors"
)

const (
	formatHTML = "html"
	formatSVG  = "svg"
	formatPNG  = "png"
	formatPDF  = "pdf"
	formatJSON = "json"

	// WarningsHeader 列出因素材无法加载而隐藏的元素。
	WarningsHeader    = "X-Badge-Warnings"
	PhotoSourceHeader = "X-Badge-Photo-Source"

	printRateWindow = time.Hour
)

var errInvalidPrintID = errors.New("invalid print id")

// PDFFunc 把打印 HTML 转换为 PDF。
type PDFFunc func(ctx context.Context, html string, size cardlayout.PrintSize) ([]byte, error)

type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type printStorage interface {
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, storage.ObjectMeta, error)
	GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// BadgeHandler 负责工牌渲染与打印任务。
type BadgeHandler struct {
	Service *BadgeService
	DB      *gorm.DB
	Queue   taskEnqueuer
	Storage printStorage
	Fonts   *fonts.Library
	Images  badge.ImageLoader
	// PDF 为 nil 表示本进程不提供同步 PDF。
	PDF PDFFunc
	// Rate 与 PrintLimit 限制单个访客每小时的打印次数，任一为零值时不限制。
	Rate       redisRateCounter
	PrintLimit int64
}

type renderBadgeRequest struct {
	Layout  json.RawMessage `json:"layout"`
	Visitor badge.Visitor   `json:"visitor"`
	Format  string          `json:"format"`
	Mode    string          `json:"mode"`
}

type printResponse struct {
	ID          uint      `json:"id"`
	VisitorID   string    `json:"visitor_id"`
	Status      string    `json:"status"`
	MissingKeys []string  `json:"missing_keys,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetBadge 渲染已保存布局下的访客工牌：GET /v1/badges/:visitorId?format=&mode=
func (h *BadgeHandler) GetBadge(c *gin.Context) {
	format, opts, ok := parseRenderParams(c, c.Query("format"), c.Query("mode"))
	if !ok {
		return
	}

	prepared, err := h.Service.PrepareForVisitor(c.Request.Context(), c.Param("visitorId"), format == formatPDF)
	if err != nil {
		h.writePrepareError(c, err)
		return
	}
	h.writeBadge(c, format, prepared, opts)
}

// RenderBadge 渲染请求体中的布局与访客：POST /v1/badges/render
// 未提供 layout 时使用已保存的布局。
func (h *BadgeHandler) RenderBadge(c *gin.Context) {
	var req renderBadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	format, opts, ok := parseRenderParams(c, req.Format, req.Mode)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var layout cardlayout.CardLayout
	raw := bytes.TrimSpace(req.Layout)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		current, err := h.Service.CurrentLayout(ctx)
		if err != nil {
			middleware.LoggerFromContext(c).Error("load card design failed", slog.Any("error", err))
			Internal(c, "failed to load card design")
			return
		}
		layout = current
	} else {
		decoded, err := cardlayout.Decode(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		layout = decoded
	}

	prepared, err := h.Service.Prepare(ctx, layout, req.Visitor, format == formatPDF)
	if err != nil {
		h.writePrepareError(c, err)
		return
	}
	h.writeBadge(c, format, prepared, opts)
}

func parseRenderParams(c *gin.Context, format, mode string) (string, badge.Options, bool) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = formatHTML
	}
	switch format {
	case formatHTML, formatSVG, formatPNG, formatPDF, formatJSON:
	default:
		BadRequest(c, "unsupported format")
		return "", badge.Options{}, false
	}

	var opts badge.Options
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "preview":
	case "print":
		opts.Print = true
	case "editor":
		opts.Interactive = true
	default:
		BadRequest(c, "unsupported mode")
		return "", badge.Options{}, false
	}
	if format == formatPDF {
		opts = badge.Options{Print: true}
	}
	return format, opts, true
}

func (h *BadgeHandler) writePrepareError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, visitors.ErrNotFound):
		NotFound(c, "visitor not found")
	default:
		middleware.LoggerFromContext(c).Error("prepare badge failed", slog.Any("error", err))
		Internal(c, "failed to prepare badge")
	}
}

func (h *BadgeHandler) writeBadge(c *gin.Context, format string, prepared PreparedBadge, opts badge.Options) {
	ctx := c.Request.Context()
	card := prepared.Render(opts)

	hidden := make([]cardlayout.ElementID, 0, len(prepared.Assets.Removed))
	for _, r := range prepared.Assets.Removed {
		hidden = append(hidden, r.Element)
	}

	var (
		buf         bytes.Buffer
		contentType string
		err         error
	)
	switch format {
	case formatHTML:
		contentType = "text/html; charset=utf-8"
		err = badge.WriteHTML(&buf, card, "badge "+prepared.Visitor.VisitorID)
	case formatSVG:
		contentType = "image/svg+xml"
		err = badge.WriteSVG(&buf, card)
	case formatJSON:
		contentType = "application/json; charset=utf-8"
		err = json.NewEncoder(&buf).Encode(card)
	case formatPNG:
		contentType = "image/png"
		scale, _ := strconv.ParseFloat(c.DefaultQuery("scale", "1"), 64)
		if scale <= 0 || scale > 4 {
			scale = 1
		}
		var skipped []cardlayout.ElementID
		skipped, err = badge.WritePNG(ctx, &buf, card, badge.RasterOptions{Scale: scale, Fonts: h.Fonts, Images: h.Images})
		hidden = appendMissing(hidden, skipped)
	case formatPDF:
		if h.PDF == nil {
			ServiceUnavailable(c, "pdf rendering is not available")
			return
		}
		contentType = "application/pdf"
		var page bytes.Buffer
		if err = badge.WriteHTML(&page, card, "badge "+prepared.Visitor.VisitorID); err == nil {
			var data []byte
			data, err = h.PDF(ctx, page.String(), prepared.Layout.Print)
			buf.Write(data)
		}
	}
	if err != nil {
		middleware.LoggerFromContext(c).Error("render badge failed", slog.String("format", format), slog.Any("error", err))
		Internal(c, "failed to render badge")
		return
	}

	metrics.ObserveRender(format, hidden)
	if len(hidden) > 0 {
		ids := make([]string, 0, len(hidden))
		for _, id := range hidden {
			ids = append(ids, string(id))
		}
		c.Header(WarningsHeader, strings.Join(ids, ","))
	}
	if prepared.Assets.PhotoSource != "" {
		c.Header(PhotoSourceHeader, string(prepared.Assets.PhotoSource))
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func appendMissing(ids, more []cardlayout.ElementID) []cardlayout.ElementID {
	for _, id := range more {
		found := false
		for _, existing := range ids {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, id)
		}
	}
	return ids
}

// EnqueuePrint 创建打印记录并将任务入队，立即返回 202。
func (h *BadgeHandler) EnqueuePrint(c *gin.Context) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	visitor, err := h.Service.Visitors.Find(ctx, c.Param("visitorId"))
	if err != nil {
		h.writePrepareError(c, err)
		return
	}

	if h.Rate != nil && h.PrintLimit > 0 {
		count, err := incrWithTTL(ctx, h.Rate, "badge_print_rate:"+visitor.VisitorID, printRateWindow)
		if err != nil {
			log.Warn("print rate counter unavailable", slog.Any("error", err))
		} else if count > h.PrintLimit {
			ErrorCode(c, http.StatusTooManyRequests, errcode.PrintLimited)
			return
		}
	}

	correlationID := middleware.GetCorrelationID(c)
	record := database.BadgePrint{
		VisitorID:     visitor.VisitorID,
		Status:        database.PrintStatusPending,
		CorrelationID: correlationID,
	}
	if err := h.DB.WithContext(ctx).Create(&record).Error; err != nil {
		log.Error("create print record failed", slog.Any("error", err))
		Internal(c, "failed to create print job")
		return
	}

	task, err := tasks.NewBadgePrintTask(record.ID, visitor.VisitorID, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}
	info, err := h.Queue.Enqueue(task, asynq.MaxRetry(3))
	if err != nil {
		log.Error("enqueue badge print failed", slog.Any("error", err))
		_ = h.DB.WithContext(ctx).Model(&record).Updates(map[string]any{
			"status":        database.PrintStatusFailed,
			"error_message": "enqueue failed",
		}).Error
		Internal(c, "failed to enqueue badge print")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "badge print request accepted",
		"print_id": record.ID,
		"task_id":  info.ID,
	})
}

// GetPrint 返回打印任务状态。
func (h *BadgeHandler) GetPrint(c *gin.Context) {
	record, ok := h.loadPrint(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newPrintResponse(*record))
}

// GetPrintDownloadLink 生成打印 PDF 的预签名下载链接。
func (h *BadgeHandler) GetPrintDownloadLink(c *gin.Context) {
	record, ok := h.loadPrint(c)
	if !ok {
		return
	}
	if record.Status != database.PrintStatusCompleted || record.PdfKey == "" {
		Conflict(c, "pdf not ready")
		return
	}

	ctx := c.Request.Context()
	params := map[string]string{
		"response-content-disposition": fmt.Sprintf(`attachment; filename="badge-%s.pdf"`, record.VisitorID),
	}
	signedURL, err := h.Storage.GeneratePresignedURLWithParams(ctx, record.PdfKey, 5*time.Minute, params)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	resp := gin.H{"url": signedURL}
	if record.PreviewKey != "" {
		if preview, err := h.Storage.GeneratePresignedURLWithParams(ctx, record.PreviewKey, 5*time.Minute, nil); err == nil {
			resp["preview_url"] = preview
		}
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadPrint 通过 API 直接输出 PDF，适用于打印机所在网络无法访问对象存储的场景。
func (h *BadgeHandler) DownloadPrint(c *gin.Context) {
	record, ok := h.loadPrint(c)
	if !ok {
		return
	}
	if record.Status != database.PrintStatusCompleted || record.PdfKey == "" {
		Conflict(c, "pdf not ready")
		return
	}

	reader, meta, err := h.Storage.OpenObject(c.Request.Context(), record.PdfKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "pdf not found")
			return
		}
		middleware.LoggerFromContext(c).Error("open printed badge failed", slog.Any("error", err))
		Internal(c, "failed to open pdf")
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, meta.Size, "application/pdf", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="badge-%s.pdf"`, record.VisitorID),
	})
}

// DeletePrint 删除打印记录及其对象。
func (h *BadgeHandler) DeletePrint(c *gin.Context) {
	record, ok := h.loadPrint(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	for _, key := range []string{record.PdfKey, record.PreviewKey} {
		if key == "" {
			continue
		}
		if err := h.Storage.DeleteObject(ctx, key); err != nil {
			log.Error("delete printed badge object failed", slog.String("object_key", key), slog.Any("error", err))
			Internal(c, "failed to delete print")
			return
		}
	}
	if err := h.DB.WithContext(ctx).Delete(&database.BadgePrint{}, record.ID).Error; err != nil {
		Internal(c, "failed to delete print")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetInternalPrintData 返回 worker 渲染 PDF 所需的数据，素材已内联。
// 对象不存在 => 隐藏该元素并记录 warning(4004)；Bucket 不存在 => 500。
func (h *BadgeHandler) GetInternalPrintData(c *gin.Context) {
	data, _, err := h.Service.BuildPrintData(c.Request.Context(), c.Param("visitorId"))
	if err != nil {
		h.writePrepareError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *BadgeHandler) loadPrint(c *gin.Context) (*database.BadgePrint, bool) {
	record, err := h.findPrint(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, errInvalidPrintID):
			BadRequest(c, "invalid print id")
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "print not found")
		default:
			Internal(c, "failed to query print")
		}
		return nil, false
	}
	return record, true
}

func (h *BadgeHandler) findPrint(ctx context.Context, idParam string) (*database.BadgePrint, error) {
	printID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil || printID == 0 {
		return nil, errInvalidPrintID
	}
	var record database.BadgePrint
	if err := h.DB.WithContext(ctx).First(&record, uint(printID)).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func newPrintResponse(p database.BadgePrint) printResponse {
	resp := printResponse{
		ID:        p.ID,
		VisitorID: p.VisitorID,
		Status:    p.Status,
		Error:     p.ErrorMessage,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if len(p.MissingKeys) > 0 {
		_ = json.Unmarshal(p.MissingKeys, &resp.MissingKeys)
	}
	return resp
}

// 编译期确认 Fetcher 满足渲染所需的接口。
var (
	_ badge.ImageLoader = (*assets.Fetcher)(nil)
	_ assets.Prober     = (*assets.Fetcher)(nil)
)
