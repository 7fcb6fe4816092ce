package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cardDesigner/internal/codes"
)

// CodeHandler 生成条码与二维码图片，供工牌中的图片元素引用。
type CodeHandler struct{}

func NewCodeHandler() *CodeHandler {
	return &CodeHandler{}
}

// Barcode 返回 Code128 条码 PNG：GET /v1/codes/barcode/:id?width=&height=
func (h *CodeHandler) Barcode(c *gin.Context) {
	width := queryInt(c, "width", codes.DefaultBarcodeWidth)
	height := queryInt(c, "height", codes.DefaultBarcodeHeight)

	data, err := codes.BarcodePNG(c.Param("id"), width, height)
	if err != nil {
		writeCodeError(c, err)
		return
	}
	writeImage(c, data)
}

// QRCode 返回二维码 PNG：GET /v1/codes/qr?data=&size=
func (h *CodeHandler) QRCode(c *gin.Context) {
	size := queryInt(c, "size", codes.DefaultQRSize)

	data, err := codes.QRPNG(c.Query("data"), size)
	if err != nil {
		writeCodeError(c, err)
		return
	}
	writeImage(c, data)
}

func writeImage(c *gin.Context, data []byte) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", data)
}

func writeCodeError(c *gin.Context, err error) {
	if errors.Is(err, codes.ErrEmptyPayload) {
		BadRequest(c, "code payload is required")
		return
	}
	// code128 只接受可编码字符，其余输入属于请求错误。
	BadRequest(c, err.Error())
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
