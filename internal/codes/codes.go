package codes

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/url"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultBarcodeWidth  = 400
	DefaultBarcodeHeight = 120
	DefaultQRSize        = 256
	MaxSize              = 2048
)

var ErrEmptyPayload = errors.New("code payload is empty")

// BarcodeImage 生成 Code128 条码，并缩放到 width×height。
func BarcodeImage(payload string, width, height int) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	raw, err := code128.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode code128: %w", err)
	}
	// 条码模块数多于目标宽度时放大，否则 Scale 会失败。
	width = max(clampSize(width, DefaultBarcodeWidth), raw.Bounds().Dx())
	height = clampSize(height, DefaultBarcodeHeight)
	scaled, err := barcode.Scale(raw, width, height)
	if err != nil {
		return nil, fmt.Errorf("scale code128: %w", err)
	}
	return scaled, nil
}

// BarcodePNG 返回 Code128 条码的 PNG 编码。
func BarcodePNG(payload string, width, height int) ([]byte, error) {
	img, err := BarcodeImage(payload, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// QRPNG 返回二维码 PNG，纠错等级 Medium。
func QRPNG(payload string, size int) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	data, err := qrcode.Encode(payload, qrcode.Medium, clampSize(size, DefaultQRSize))
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return data, nil
}

// QRImage 与 QRPNG 相同，但返回可直接合成的 image.Image。
func QRImage(payload string, size int) (image.Image, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return q.Image(clampSize(size, DefaultQRSize)), nil
}

func clampSize(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return min(v, MaxSize)
}

// URLBuilder 为访客 ID 生成条码/二维码图片地址。
// 条码使用路径风格；二维码优先使用配置的第三方模板（{data} 与 {size} 占位），否则走本服务。
type URLBuilder struct {
	BaseURL    string
	QRTemplate string
}

func NewURLBuilder(baseURL, qrTemplate string) URLBuilder {
	return URLBuilder{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		QRTemplate: strings.TrimSpace(qrTemplate),
	}
}

func (b URLBuilder) Barcode(visitorID string) string {
	if strings.TrimSpace(visitorID) == "" {
		return ""
	}
	return b.BaseURL + "/v1/codes/barcode/" + url.PathEscape(visitorID)
}

func (b URLBuilder) QRCode(visitorID string, size int) string {
	if strings.TrimSpace(visitorID) == "" {
		return ""
	}
	size = clampSize(size, DefaultQRSize)
	if b.QRTemplate != "" {
		r := strings.NewReplacer(
			"{data}", url.QueryEscape(visitorID),
			"{size}", fmt.Sprintf("%d", size),
		)
		return r.Replace(b.QRTemplate)
	}
	q := url.Values{}
	q.Set("data", visitorID)
	q.Set("size", fmt.Sprintf("%d", size))
	return b.BaseURL + "/v1/codes/qr?" + q.Encode()
}
