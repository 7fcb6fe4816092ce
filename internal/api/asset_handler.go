package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"cardDesigner/internal/api/middleware"
	"cardDesigner/internal/storage"
)

const defaultBackgroundMaxBytes = 5 * 1024 * 1024

type backgroundStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// AssetHandler 管理卡片背景图：上传前扫描病毒，通过稳定的 API 地址访问。
type AssetHandler struct {
	Storage   backgroundStorage
	ClamdAddr string
	// BaseURL 是写入 backgroundUrl 的公开前缀。
	BaseURL  string
	MaxBytes int64
}

// NewAssetHandler 返回 AssetHandler 实例。
func NewAssetHandler(storageClient backgroundStorage, clamdAddr, baseURL string) *AssetHandler {
	return &AssetHandler{
		Storage:   storageClient,
		ClamdAddr: clamdAddr,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		MaxBytes:  defaultBackgroundMaxBytes,
	}
}

func (h *AssetHandler) backgroundURL(name string) string {
	return h.BaseURL + "/v1/assets/backgrounds/" + name
}

// UploadBackground 处理背景图上传，返回可直接写入 backgroundUrl 的地址。
func (h *AssetHandler) UploadBackground(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	maxBytes := h.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultBackgroundMaxBytes
	}
	if file.Size > maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(fileReader, maxBytes+1))
	fileReader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(data)) > maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := backgroundExtensions[contentType]
	if !ok {
		BadRequest(c, "unsupported image type")
		return
	}

	if h.ClamdAddr != "" {
		clean, err := scanBytes(h.ClamdAddr, data)
		if err != nil {
			log.Error("scan file", slog.String("error", err.Error()))
			Internal(c, "failed to scan file")
			return
		}
		if !clean {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	name := uuid.NewString() + ext
	objectKey := BackgroundPrefix + name
	if _, err := h.Storage.UploadFile(c.Request.Context(), objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.Error("upload file", slog.String("error", err.Error()))
		Internal(c, "failed to upload file")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"objectKey": objectKey, "url": h.backgroundURL(name)})
}

func scanBytes(addr string, data []byte) (bool, error) {
	clamdClient := clamd.NewClamd(addr)
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamdClient.ScanStream(bytes.NewReader(data), abortChan)
	if err != nil {
		return false, err
	}
	clean := true
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			clean = false
		}
	}
	return clean, nil
}

// ListBackgrounds 列出已上传的背景图，新的在前。
func (h *AssetHandler) ListBackgrounds(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "60"))
	if err != nil || limit <= 0 {
		limit = 60
	}
	if limit > 200 {
		limit = 200
	}

	objects, err := h.Storage.ListObjects(c.Request.Context(), BackgroundPrefix, limit)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list backgrounds", slog.String("error", err.Error()))
		Internal(c, "failed to list backgrounds")
		return
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	items := make([]gin.H, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, BackgroundPrefix)
		if !isValidBackgroundName(name) {
			continue
		}
		items = append(items, gin.H{
			"objectKey":    obj.Key,
			"url":          h.backgroundURL(name),
			"size":         obj.Size,
			"lastModified": obj.LastModified,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ServeBackground 重定向到背景图的临时预签名 URL，使 backgroundUrl 长期有效。
func (h *AssetHandler) ServeBackground(c *gin.Context) {
	name := c.Param("name")
	if !isValidBackgroundName(name) {
		NotFound(c, "background not found")
		return
	}

	signedURL, err := h.Storage.GeneratePresignedURL(c.Request.Context(), BackgroundPrefix+name, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}

	c.Header("Cache-Control", "private, max-age=600")
	c.Redirect(http.StatusFound, signedURL)
}

// DeleteBackground 删除背景图。
func (h *AssetHandler) DeleteBackground(c *gin.Context) {
	name := c.Param("name")
	if !isValidBackgroundName(name) {
		BadRequest(c, "invalid background name")
		return
	}
	if err := h.Storage.DeleteObject(c.Request.Context(), BackgroundPrefix+name); err != nil {
		middleware.LoggerFromContext(c).Error("delete background", slog.String("error", err.Error()))
		Internal(c, "failed to delete background")
		return
	}
	c.Status(http.StatusNoContent)
}
