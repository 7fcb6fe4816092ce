package cardlayout

import (
	"encoding/json"
	"fmt"
)

// Settings 是与持久化接口交换的扁平 JSON 文档。
type Settings struct {
	CanvasWidth   float64 `json:"canvasWidth"`
	CanvasHeight  float64 `json:"canvasHeight"`
	BackgroundURL string  `json:"backgroundUrl"`
	PrintWidth    float64 `json:"printWidth"`
	PrintHeight   float64 `json:"printHeight"`
	PrintUnit     Unit    `json:"printUnit"`

	ImageWidth      float64 `json:"imageWidth"`
	ImageHeight     float64 `json:"imageHeight"`
	ImageTopMargin  float64 `json:"imageTopMargin"`
	ImageLeftMargin float64 `json:"imageLeftMargin"`
	ImageShape      Shape   `json:"imageShape"`

	VisitorNameWidth      float64 `json:"visitorNameWidth"`
	VisitorNameHeight     float64 `json:"visitorNameHeight"`
	VisitorNameTopMargin  float64 `json:"visitorNameTopMargin"`
	VisitorNameLeftMargin float64 `json:"visitorNameLeftMargin"`
	VisitorNameFontSize   float64 `json:"visitorNameFontSize"`
	VisitorNameColor      string  `json:"visitorNameColor"`
	VisitorNameFontFamily string  `json:"visitorNameFontFamily"`
	VisitorNameAlign      Align   `json:"visitorNameAlign"`

	CompanyNameWidth      float64 `json:"companyNameWidth"`
	CompanyNameHeight     float64 `json:"companyNameHeight"`
	CompanyNameTopMargin  float64 `json:"companyNameTopMargin"`
	CompanyNameLeftMargin float64 `json:"companyNameLeftMargin"`
	CompanyNameFontSize   float64 `json:"companyNameFontSize"`
	CompanyNameColor      string  `json:"companyNameColor"`
	CompanyNameFontFamily string  `json:"companyNameFontFamily"`
	CompanyNameAlign      Align   `json:"companyNameAlign"`

	BarcodeImageWidth      float64  `json:"barcodeImageWidth"`
	BarcodeImageHeight     float64  `json:"barcodeImageHeight"`
	BarcodeImageTopMargin  float64  `json:"barcodeImageTopMargin"`
	BarcodeImageLeftMargin float64  `json:"barcodeImageLeftMargin"`
	BarcodeType            CodeKind `json:"barcodeType"`
	ShowBarcode            bool     `json:"showBarcode"`

	QRCodeWidth      float64 `json:"qrCodeWidth"`
	QRCodeHeight     float64 `json:"qrCodeHeight"`
	QRCodeTopMargin  float64 `json:"qrCodeTopMargin"`
	QRCodeLeftMargin float64 `json:"qrCodeLeftMargin"`
	ShowQRCode       bool    `json:"showQRCode"`
}

// Settings 将布局展开为线上格式。
func (l CardLayout) Settings() Settings {
	return Settings{
		CanvasWidth:   l.Canvas.WidthPx,
		CanvasHeight:  l.Canvas.HeightPx,
		BackgroundURL: l.BackgroundURL,
		PrintWidth:    l.Print.Width,
		PrintHeight:   l.Print.Height,
		PrintUnit:     l.Print.Unit,

		ImageWidth:      l.Photo.Width,
		ImageHeight:     l.Photo.Height,
		ImageTopMargin:  l.Photo.MarginTop,
		ImageLeftMargin: l.Photo.MarginLeft,
		ImageShape:      l.Photo.Shape,

		VisitorNameWidth:      l.VisitorName.Width,
		VisitorNameHeight:     l.VisitorName.Height,
		VisitorNameTopMargin:  l.VisitorName.MarginTop,
		VisitorNameLeftMargin: l.VisitorName.MarginLeft,
		VisitorNameFontSize:   l.VisitorName.FontSizePx,
		VisitorNameColor:      l.VisitorName.Color,
		VisitorNameFontFamily: l.VisitorName.FontFamily,
		VisitorNameAlign:      l.VisitorName.Align,

		CompanyNameWidth:      l.CompanyName.Width,
		CompanyNameHeight:     l.CompanyName.Height,
		CompanyNameTopMargin:  l.CompanyName.MarginTop,
		CompanyNameLeftMargin: l.CompanyName.MarginLeft,
		CompanyNameFontSize:   l.CompanyName.FontSizePx,
		CompanyNameColor:      l.CompanyName.Color,
		CompanyNameFontFamily: l.CompanyName.FontFamily,
		CompanyNameAlign:      l.CompanyName.Align,

		BarcodeImageWidth:      l.Barcode.Width,
		BarcodeImageHeight:     l.Barcode.Height,
		BarcodeImageTopMargin:  l.Barcode.MarginTop,
		BarcodeImageLeftMargin: l.Barcode.MarginLeft,
		BarcodeType:            l.Barcode.Kind,
		ShowBarcode:            l.Barcode.Visible,

		QRCodeWidth:      l.QRCode.Width,
		QRCodeHeight:     l.QRCode.Height,
		QRCodeTopMargin:  l.QRCode.MarginTop,
		QRCodeLeftMargin: l.QRCode.MarginLeft,
		ShowQRCode:       l.QRCode.Visible,
	}
}

// Layout 将线上格式还原为布局（未做 Normalize）。
func (s Settings) Layout() CardLayout {
	return CardLayout{
		Canvas:        Canvas{WidthPx: s.CanvasWidth, HeightPx: s.CanvasHeight},
		BackgroundURL: s.BackgroundURL,
		Print:         PrintSize{Width: s.PrintWidth, Height: s.PrintHeight, Unit: s.PrintUnit},
		Photo: PhotoElement{
			Box:   Box{Width: s.ImageWidth, Height: s.ImageHeight, MarginTop: s.ImageTopMargin, MarginLeft: s.ImageLeftMargin},
			Shape: s.ImageShape,
		},
		VisitorName: TextElement{
			Box:        Box{Width: s.VisitorNameWidth, Height: s.VisitorNameHeight, MarginTop: s.VisitorNameTopMargin, MarginLeft: s.VisitorNameLeftMargin},
			FontSizePx: s.VisitorNameFontSize,
			Color:      s.VisitorNameColor,
			FontFamily: s.VisitorNameFontFamily,
			Align:      s.VisitorNameAlign,
		},
		CompanyName: TextElement{
			Box:        Box{Width: s.CompanyNameWidth, Height: s.CompanyNameHeight, MarginTop: s.CompanyNameTopMargin, MarginLeft: s.CompanyNameLeftMargin},
			FontSizePx: s.CompanyNameFontSize,
			Color:      s.CompanyNameColor,
			FontFamily: s.CompanyNameFontFamily,
			Align:      s.CompanyNameAlign,
		},
		Barcode: CodeElement{
			Box:     Box{Width: s.BarcodeImageWidth, Height: s.BarcodeImageHeight, MarginTop: s.BarcodeImageTopMargin, MarginLeft: s.BarcodeImageLeftMargin},
			Visible: s.ShowBarcode,
			Kind:    s.BarcodeType,
		},
		QRCode: CodeElement{
			Box:     Box{Width: s.QRCodeWidth, Height: s.QRCodeHeight, MarginTop: s.QRCodeTopMargin, MarginLeft: s.QRCodeLeftMargin},
			Visible: s.ShowQRCode,
			Kind:    CodeKindQR,
		},
	}
}

// MarshalJSON 使 CardLayout 直接以扁平格式序列化。
func (l CardLayout) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Settings())
}

// UnmarshalJSON 以默认设计为底解码，缺失字段保留默认值，随后 Normalize。
func (l *CardLayout) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}

// Decode 解析扁平文档。缺省字段取 DefaultCardLayout 的值，越界几何会被收进画布。
func Decode(data []byte) (CardLayout, error) {
	s := DefaultCardLayout.Settings()
	if err := json.Unmarshal(data, &s); err != nil {
		return CardLayout{}, fmt.Errorf("decode card layout: %w", err)
	}
	return s.Layout().Normalize(), nil
}

// Encode 返回规范化后的扁平 JSON。
func Encode(l CardLayout) ([]byte, error) {
	data, err := json.Marshal(l.Normalize().Settings())
	if err != nil {
		return nil, fmt.Errorf("encode card layout: %w", err)
	}
	return data, nil
}
