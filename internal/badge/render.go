package badge

import (
	"strconv"
	"strings"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/geometry"
)

// NoCompany 是访客没有公司名时显示的文字。
const NoCompany = "No Company"

// RoundedRadiusPx 是 rounded 形状照片的圆角。
const RoundedRadiusPx = 12

// FallbackGradient 是没有背景图时使用的渐变。
var FallbackGradient = [2]string{"#667eea", "#764ba2"}

// Visitor 提供卡片上替换的数据。
type Visitor struct {
	VisitorID   string `json:"visitorId"`
	Name        string `json:"name"`
	CompanyName string `json:"companyName"`
	Photo       string `json:"photo"`
}

// Assets 是已解析且确认可加载的素材地址。空字符串表示不可用：
// 条码/二维码会被隐藏，照片位置留空。
type Assets struct {
	PhotoURL   string
	BarcodeURL string
	QRCodeURL  string
}

// Options 控制同一棵元素树的呈现方式。
type Options struct {
	// Interactive 为编辑器预览加上拖拽/缩放手柄与虚线框。
	Interactive bool
	// Print 去掉背景图、阴影与边框，同时关闭 Interactive。
	Print bool
}

type NodeKind string

const (
	NodeImage NodeKind = "image"
	NodeText  NodeKind = "text"
)

// Style 是节点的呈现属性，文本字段只对文本节点有意义。
type Style struct {
	BorderRadius string           `json:"borderRadius,omitempty"`
	FontSizePx   float64          `json:"fontSize,omitempty"`
	Color        string           `json:"color,omitempty"`
	FontFamily   string           `json:"fontFamily,omitempty"`
	Align        cardlayout.Align `json:"align,omitempty"`
}

// Node 是卡片上一个绝对定位的元素。
type Node struct {
	ID      cardlayout.ElementID `json:"id"`
	Kind    NodeKind             `json:"kind"`
	Rect    geometry.Rect        `json:"rect"`
	Src     string               `json:"src,omitempty"`
	Text    string               `json:"text,omitempty"`
	Style   Style                `json:"style"`
	Outline bool                 `json:"outline,omitempty"`
	Handles bool                 `json:"handles,omitempty"`
}

// Background 要么是图片，要么是渐变。
type Background struct {
	ImageURL string    `json:"imageUrl,omitempty"`
	Gradient [2]string `json:"gradient,omitempty"`
}

// Card 是渲染结果：固定尺寸画布上的元素树。
type Card struct {
	Width      float64                `json:"width"`
	Height     float64                `json:"height"`
	Print      cardlayout.PrintSize   `json:"print"`
	PrintMode  bool                   `json:"printMode"`
	Background *Background            `json:"background,omitempty"`
	Shadow     bool                   `json:"shadow"`
	Border     bool                   `json:"border"`
	Nodes      []Node                 `json:"nodes"`
	Hidden     []cardlayout.ElementID `json:"hidden,omitempty"`
}

// Node 返回 id 对应的节点。
func (c Card) Node(id cardlayout.ElementID) (Node, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Render 把布局与访客数据组合成元素树。
// 纯函数：相同输入得到相同输出，且不会修改 layout。
func Render(layout cardlayout.CardLayout, visitor Visitor, assets Assets, opts Options) Card {
	l := layout.Normalize()
	interactive := opts.Interactive && !opts.Print

	card := Card{
		Width:     l.Canvas.WidthPx,
		Height:    l.Canvas.HeightPx,
		Print:     l.Print,
		PrintMode: opts.Print,
		Shadow:    !opts.Print,
		Border:    !opts.Print,
		Nodes:     make([]Node, 0, len(cardlayout.ElementIDs)),
	}
	if !opts.Print {
		if l.BackgroundURL != "" {
			card.Background = &Background{ImageURL: l.BackgroundURL}
		} else {
			card.Background = &Background{Gradient: FallbackGradient}
		}
	}

	for _, id := range cardlayout.ElementIDs {
		node, ok := renderElement(l, id, visitor, assets)
		if !ok {
			card.Hidden = append(card.Hidden, id)
			continue
		}
		node.Outline = interactive
		node.Handles = interactive
		card.Nodes = append(card.Nodes, node)
	}
	return card
}

func renderElement(l cardlayout.CardLayout, id cardlayout.ElementID, v Visitor, a Assets) (Node, bool) {
	box := l.Box(id)
	node := Node{ID: id, Rect: box.Rect()}

	switch id {
	case cardlayout.ElementPhoto:
		// 照片缺失时保留空位，不替换为其他图片。
		node.Kind = NodeImage
		node.Src = a.PhotoURL
		node.Style.BorderRadius = BorderRadius(l.Photo.Shape)
		return node, true

	case cardlayout.ElementVisitorName:
		node.Kind = NodeText
		node.Text = strings.TrimSpace(v.Name)
		node.Style = textStyle(l.VisitorName)
		return node, true

	case cardlayout.ElementCompanyName:
		node.Kind = NodeText
		node.Text = strings.TrimSpace(v.CompanyName)
		if node.Text == "" {
			node.Text = NoCompany
		}
		node.Style = textStyle(l.CompanyName)
		return node, true

	case cardlayout.ElementBarcode:
		if !l.Barcode.Visible || a.BarcodeURL == "" {
			return Node{}, false
		}
		node.Kind = NodeImage
		node.Src = a.BarcodeURL
		return node, true

	case cardlayout.ElementQRCode:
		if !l.QRCode.Visible || a.QRCodeURL == "" {
			return Node{}, false
		}
		node.Kind = NodeImage
		node.Src = a.QRCodeURL
		return node, true
	}
	return Node{}, false
}

func textStyle(t cardlayout.TextElement) Style {
	return Style{
		FontSizePx: t.FontSizePx,
		Color:      t.Color,
		FontFamily: t.FontFamily,
		Align:      t.Align,
	}
}

// BorderRadius 把照片形状转换成 CSS border-radius。
func BorderRadius(s cardlayout.Shape) string {
	switch s {
	case cardlayout.ShapeCircle:
		return "50%"
	case cardlayout.ShapeRounded:
		return strconv.Itoa(RoundedRadiusPx) + "px"
	default:
		return "0"
	}
}
