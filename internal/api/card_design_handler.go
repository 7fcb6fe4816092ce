package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cardDesigner/internal/api/middleware"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/editor"
	"cardDesigner/internal/store"
)

const maxCardDesignBytes = 1 << 20

// CardDesignHandler 提供卡片设计的读取与整体覆盖。
type CardDesignHandler struct {
	store    store.Store
	notifier editor.Notifier
	logger   *slog.Logger
}

// NewCardDesignHandler 构造处理器；notifier 可为 nil。
func NewCardDesignHandler(layouts store.Store, notifier editor.Notifier, logger *slog.Logger) *CardDesignHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardDesignHandler{store: layouts, notifier: notifier, logger: logger}
}

// GetCardDesign 返回已保存的扁平文档；从未保存时返回 null。
func (h *CardDesignHandler) GetCardDesign(c *gin.Context) {
	layout, err := h.store.Get(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, nil)
			return
		}
		middleware.LoggerFromContext(c).Error("load card design failed", slog.Any("error", err))
		Internal(c, "failed to load card design")
		return
	}
	c.JSON(http.StatusOK, layout)
}

// PutCardDesign 以默认设计为底解码请求体，规范化后整体覆盖（后写者胜），返回实际保存的文档。
func (h *CardDesignHandler) PutCardDesign(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCardDesignBytes+1))
	if err != nil {
		BadRequest(c, "failed to read body")
		return
	}
	if len(body) > maxCardDesignBytes {
		Error(c, http.StatusRequestEntityTooLarge, "card design too large")
		return
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		BadRequest(c, "card design body required")
		return
	}

	layout, err := cardlayout.Decode(trimmed)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	if err := h.store.Put(ctx, layout); err != nil {
		log.Error("save card design failed", slog.Any("error", err))
		Internal(c, "failed to save card design")
		return
	}
	if h.notifier != nil {
		if err := h.notifier.LayoutSaved(ctx, layout); err != nil {
			log.Warn("notify card design update failed", slog.Any("error", err))
		}
	}

	log.Info("card design saved", slog.String("subject", middleware.GetSubject(c)))
	c.JSON(http.StatusOK, layout)
}
