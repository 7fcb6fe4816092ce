package cardlayout

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"cardDesigner/internal/geometry"
)

// ElementID 标识卡片上的固定元素。
type ElementID string

const (
	ElementPhoto       ElementID = "photo"
	ElementVisitorName ElementID = "visitorName"
	ElementCompanyName ElementID = "companyName"
	ElementBarcode     ElementID = "barcode"
	ElementQRCode      ElementID = "qrCode"
)

// ElementIDs 是渲染顺序（后画的在上层）。
var ElementIDs = []ElementID{
	ElementPhoto,
	ElementVisitorName,
	ElementCompanyName,
	ElementBarcode,
	ElementQRCode,
}

// Valid 判断 id 是否为已知元素。
func (id ElementID) Valid() bool {
	for _, known := range ElementIDs {
		if id == known {
			return true
		}
	}
	return false
}

// Kind 区分元素的变体。
type Kind string

const (
	KindPhoto Kind = "photo"
	KindText  Kind = "text"
	KindCode  Kind = "code"
)

// KindOf 返回元素所属的变体。
func KindOf(id ElementID) Kind {
	switch id {
	case ElementPhoto:
		return KindPhoto
	case ElementVisitorName, ElementCompanyName:
		return KindText
	default:
		return KindCode
	}
}

type Unit string

const (
	UnitMM     Unit = "mm"
	UnitInches Unit = "inches"
)

type Shape string

const (
	ShapeCircle  Shape = "circle"
	ShapeSquare  Shape = "square"
	ShapeRounded Shape = "rounded"
)

type Align string

const (
	AlignTopLeft      Align = "top-left"
	AlignTopCenter    Align = "top-center"
	AlignTopRight     Align = "top-right"
	AlignCenterLeft   Align = "center-left"
	AlignCenter       Align = "center"
	AlignCenterRight  Align = "center-right"
	AlignBottomLeft   Align = "bottom-left"
	AlignBottomCenter Align = "bottom-center"
	AlignBottomRight  Align = "bottom-right"
)

var aligns = map[Align]struct{}{
	AlignTopLeft: {}, AlignTopCenter: {}, AlignTopRight: {},
	AlignCenterLeft: {}, AlignCenter: {}, AlignCenterRight: {},
	AlignBottomLeft: {}, AlignBottomCenter: {}, AlignBottomRight: {},
}

// Split 将九宫格对齐拆成垂直与水平两部分，例如 "top-left" => ("top", "left")。
func (a Align) Split() (vertical, horizontal string) {
	if a == AlignCenter {
		return "center", "center"
	}
	v, h, ok := strings.Cut(string(a), "-")
	if !ok {
		return "center", "center"
	}
	return v, h
}

// CodeKind 决定条码元素使用的码制。二维码元素始终是 qr，两者可同时显示。
type CodeKind string

const (
	CodeKindBarcode CodeKind = "barcode"
	CodeKindQR      CodeKind = "qr"
)

// Canvas 是设计画布的像素尺寸。
type Canvas struct {
	WidthPx  float64
	HeightPx float64
}

func (c Canvas) Size() geometry.Size {
	return geometry.Size{Width: c.WidthPx, Height: c.HeightPx}
}

// PrintSize 是实际打印尺寸，与画布像素尺寸互相独立。
type PrintSize struct {
	Width  float64
	Height float64
	Unit   Unit
}

// CSSPixelsPerInch 是浏览器与打印输出共用的换算基准。
const CSSPixelsPerInch = 96.0

// Inches 返回打印尺寸的英寸值。
func (p PrintSize) Inches() (w, h float64) {
	if p.Unit == UnitInches {
		return p.Width, p.Height
	}
	return p.Width / 25.4, p.Height / 25.4
}

// Pixels 按 96 DPI 返回打印尺寸对应的 CSS 像素。
func (p PrintSize) Pixels() (w, h float64) {
	w, h = p.Inches()
	return w * CSSPixelsPerInch, h * CSSPixelsPerInch
}

// CSS 返回 @page size 可用的长度，例如 "54mm 86mm"。
func (p PrintSize) CSS() string {
	unit := "mm"
	if p.Unit == UnitInches {
		unit = "in"
	}
	return strconv.FormatFloat(p.Width, 'f', -1, 64) + unit + " " +
		strconv.FormatFloat(p.Height, 'f', -1, 64) + unit
}

// Box 是所有元素共享的几何字段。
type Box struct {
	Width      float64
	Height     float64
	MarginTop  float64
	MarginLeft float64
}

func (b Box) Rect() geometry.Rect {
	return geometry.Rect{Left: b.MarginLeft, Top: b.MarginTop, Width: b.Width, Height: b.Height}
}

func (b *Box) SetRect(r geometry.Rect) {
	b.MarginLeft, b.MarginTop, b.Width, b.Height = r.Left, r.Top, r.Width, r.Height
}

type PhotoElement struct {
	Box
	Shape Shape
}

type TextElement struct {
	Box
	FontSizePx float64
	Color      string
	FontFamily string
	Align      Align
}

type CodeElement struct {
	Box
	Visible bool
	Kind    CodeKind
}

// CardLayout 是持久化的卡片设计。所有字段都是值类型，赋值即深拷贝。
type CardLayout struct {
	Canvas        Canvas
	BackgroundURL string
	Print         PrintSize

	Photo       PhotoElement
	VisitorName TextElement
	CompanyName TextElement
	Barcode     CodeElement
	QRCode      CodeElement
}

// MinElementSize 是持久化模型允许的最小边长。
const MinElementSize = 10.0

// MinCanvasSize 是画布允许的最小边长，与编辑器交互时的最小元素尺寸一致，
// 更小的画布放不下元素，Normalize 会换回默认画布。
const MinCanvasSize = 50.0

// Box 返回元素几何字段的指针，编辑器通过它统一读写所有元素。
func (l *CardLayout) Box(id ElementID) *Box {
	switch id {
	case ElementPhoto:
		return &l.Photo.Box
	case ElementVisitorName:
		return &l.VisitorName.Box
	case ElementCompanyName:
		return &l.CompanyName.Box
	case ElementBarcode:
		return &l.Barcode.Box
	case ElementQRCode:
		return &l.QRCode.Box
	}
	return nil
}

// Text 返回文本元素的指针，非文本元素返回 nil。
func (l *CardLayout) Text(id ElementID) *TextElement {
	switch id {
	case ElementVisitorName:
		return &l.VisitorName
	case ElementCompanyName:
		return &l.CompanyName
	}
	return nil
}

// Code 返回条码/二维码元素的指针。
func (l *CardLayout) Code(id ElementID) *CodeElement {
	switch id {
	case ElementBarcode:
		return &l.Barcode
	case ElementQRCode:
		return &l.QRCode
	}
	return nil
}

// Visible 报告元素是否参与渲染。照片与文本始终可见。
func (l CardLayout) Visible(id ElementID) bool {
	if c := l.Code(id); c != nil {
		return c.Visible
	}
	return id.Valid()
}

// Clamp 把所有元素收进画布，重复调用结果不变。
func (l CardLayout) Clamp() CardLayout {
	canvas := l.Canvas.Size()
	minimum := geometry.Size{Width: MinElementSize, Height: MinElementSize}
	for _, id := range ElementIDs {
		box := l.Box(id)
		box.SetRect(geometry.ClampRect(box.Rect(), canvas, minimum))
	}
	return l
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// ValidColor 判断是否为 #rgb/#rrggbb/#rrggbbaa。
func ValidColor(s string) bool {
	return hexColor.MatchString(s)
}

// Normalize 将枚举、颜色与尺寸中的非法值替换为默认值，然后 Clamp。
// 与几何一样，非法数据只会被修正，从不报错。
func (l CardLayout) Normalize() CardLayout {
	d := DefaultCardLayout

	l.Canvas.WidthPx = geometry.Snap(l.Canvas.WidthPx)
	l.Canvas.HeightPx = geometry.Snap(l.Canvas.HeightPx)
	if !positive(l.Canvas.WidthPx) || !positive(l.Canvas.HeightPx) ||
		l.Canvas.WidthPx < MinCanvasSize || l.Canvas.HeightPx < MinCanvasSize {
		l.Canvas = d.Canvas
	}
	l.BackgroundURL = strings.TrimSpace(l.BackgroundURL)

	if !positive(l.Print.Width) {
		l.Print.Width = d.Print.Width
	}
	if !positive(l.Print.Height) {
		l.Print.Height = d.Print.Height
	}
	switch l.Print.Unit {
	case UnitMM, UnitInches:
	default:
		l.Print.Unit = d.Print.Unit
	}

	switch l.Photo.Shape {
	case ShapeCircle, ShapeSquare, ShapeRounded:
	default:
		l.Photo.Shape = d.Photo.Shape
	}

	normalizeText(&l.VisitorName, d.VisitorName)
	normalizeText(&l.CompanyName, d.CompanyName)

	switch l.Barcode.Kind {
	case CodeKindBarcode, CodeKindQR:
	default:
		l.Barcode.Kind = d.Barcode.Kind
	}
	if l.QRCode.Kind != CodeKindQR {
		l.QRCode.Kind = CodeKindQR
	}

	return l.Clamp()
}

func normalizeText(t *TextElement, fallback TextElement) {
	if !positive(t.FontSizePx) {
		t.FontSizePx = fallback.FontSizePx
	}
	if !ValidColor(t.Color) {
		t.Color = fallback.Color
	}
	t.FontFamily = strings.TrimSpace(t.FontFamily)
	if t.FontFamily == "" {
		t.FontFamily = fallback.FontFamily
	}
	if _, ok := aligns[t.Align]; !ok {
		t.Align = fallback.Align
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// ValidAlign 报告 a 是否为九宫格对齐之一。
func ValidAlign(a Align) bool {
	_, ok := aligns[a]
	return ok
}
