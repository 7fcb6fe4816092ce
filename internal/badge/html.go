package badge

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"cardDesigner/internal/cardlayout"
)

// cardTemplateString 渲染单张工牌。打印模式下 @page 使用卡片的物理尺寸，
// 画布按比例缩放到打印尺寸，一张卡片一页。
const cardTemplateString = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        {{if .PrintMode}}@page { size: {{.PageSize}}; margin: 0; }{{end}}
        html, body { margin: 0; padding: 0; }
        body { {{if not .PrintMode}}background: #f3f4f6; padding: 24px;{{end}} }
        .badge-page {
            {{.PageStyle}}
            overflow: hidden;
        }
        .badge {
            position: relative;
            overflow: hidden;
            box-sizing: border-box;
            {{.CardStyle}}
        }
        .badge-bg { position: absolute; inset: 0; width: 100%; height: 100%; object-fit: cover; }
        .el { position: absolute; box-sizing: border-box; overflow: hidden; }
        .el img { width: 100%; height: 100%; object-fit: cover; display: block; }
        .el.code img { object-fit: contain; }
        .el.text { display: flex; word-break: break-word; line-height: 1.2; }
        .el.outline { outline: 1px dashed #3b82f6; cursor: move; }
        .handle {
            position: absolute; right: -4px; bottom: -4px; width: 8px; height: 8px;
            background: #3b82f6; border: 1px solid #ffffff; cursor: nwse-resize;
        }
    </style>
</head>
<body>
<div class="badge-page">
    <div class="badge">
        {{if .BackgroundURL}}<img class="badge-bg" src="{{.BackgroundURL}}" alt="">{{end}}
        {{range .Nodes}}
        <div class="el {{.Class}}" data-element="{{.ID}}" style="{{.Style}}">
            {{if eq .Kind "image"}}{{if .Src}}<img src="{{.Src}}" alt="{{.ID}}" style="{{.ImageStyle}}">{{end}}
            {{else}}<span>{{.Text}}</span>{{end}}
            {{if .Handles}}<div class="handle" data-element="{{.ID}}"></div>{{end}}
        </div>
        {{end}}
    </div>
</div>
</body>
</html>
`

var cardTemplate = template.Must(template.New("badge").Parse(cardTemplateString))

type htmlNode struct {
	ID         cardlayout.ElementID
	Kind       NodeKind
	Class      string
	Style      template.CSS
	ImageStyle template.CSS
	Src        template.URL
	Text       string
	Handles    bool
}

type htmlPage struct {
	Title         string
	PrintMode     bool
	PageSize      template.CSS
	PageStyle     template.CSS
	CardStyle     template.CSS
	BackgroundURL template.URL
	Nodes         []htmlNode
}

// WriteHTML 输出可直接打印或预览的 HTML 文档。
func WriteHTML(w io.Writer, card Card, title string) error {
	page := htmlPage{
		Title:     title,
		PrintMode: card.PrintMode,
		PageSize:  template.CSS(card.Print.CSS()),
		Nodes:     make([]htmlNode, 0, len(card.Nodes)),
	}

	var cardStyle strings.Builder
	fmt.Fprintf(&cardStyle, "width: %spx; height: %spx;", px(card.Width), px(card.Height))
	if card.PrintMode {
		pw, ph := card.Print.Pixels()
		page.PageStyle = template.CSS(fmt.Sprintf("width: %spx; height: %spx;", px(pw), px(ph)))
		fmt.Fprintf(&cardStyle, " transform-origin: top left; transform: scale(%s, %s);",
			ratio(pw, card.Width), ratio(ph, card.Height))
	}
	if card.Border {
		cardStyle.WriteString(" border: 1px solid #e5e7eb; border-radius: 12px;")
	}
	if card.Shadow {
		cardStyle.WriteString(" box-shadow: 0 10px 25px rgba(0, 0, 0, 0.15);")
	}
	if bg := card.Background; bg != nil {
		if u, ok := SafeURL(bg.ImageURL); ok {
			page.BackgroundURL = template.URL(u)
		} else if bg.ImageURL == "" {
			fmt.Fprintf(&cardStyle, " background: linear-gradient(135deg, %s 0%%, %s 100%%);",
				cssColor(bg.Gradient[0]), cssColor(bg.Gradient[1]))
		}
	}
	page.CardStyle = template.CSS(cardStyle.String())

	for _, n := range card.Nodes {
		page.Nodes = append(page.Nodes, toHTMLNode(n))
	}
	return cardTemplate.Execute(w, page)
}

func toHTMLNode(n Node) htmlNode {
	out := htmlNode{ID: n.ID, Kind: n.Kind, Text: n.Text, Handles: n.Handles}

	var style strings.Builder
	fmt.Fprintf(&style, "left: %spx; top: %spx; width: %spx; height: %spx;",
		px(n.Rect.Left), px(n.Rect.Top), px(n.Rect.Width), px(n.Rect.Height))

	classes := []string{string(n.Kind)}
	if cardlayout.KindOf(n.ID) == cardlayout.KindCode {
		classes = append(classes, "code")
	}
	if n.Outline {
		classes = append(classes, "outline")
	}
	out.Class = strings.Join(classes, " ")

	switch n.Kind {
	case NodeImage:
		if u, ok := SafeURL(n.Src); ok {
			out.Src = template.URL(u)
		}
		if n.Style.BorderRadius != "" {
			fmt.Fprintf(&style, " border-radius: %s;", n.Style.BorderRadius)
			out.ImageStyle = template.CSS("border-radius: " + n.Style.BorderRadius + ";")
		}
	case NodeText:
		v, h := n.Style.Align.Split()
		fmt.Fprintf(&style, " font-size: %spx; color: %s; font-family: %s;"+
			" align-items: %s; justify-content: %s; text-align: %s;",
			px(n.Style.FontSizePx), cssColor(n.Style.Color), CSSFontFamily(n.Style.FontFamily),
			flexAlign(v), flexAlign(h), textAlign(h))
	}
	out.Style = template.CSS(style.String())
	return out
}

// SafeURL 只放行 http(s)、站内绝对路径与 data:image。
func SafeURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	lower := strings.ToLower(u)
	switch {
	case u == "":
		return "", false
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.HasPrefix(lower, "data:image/"):
	case strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//"):
	default:
		return "", false
	}
	if strings.ContainsAny(u, "\"'<>\\ \n\r\t") {
		return "", false
	}
	return u, true
}

// CSSFontFamily 过滤字体族名中的特殊字符，并追加通用字体。
func CSSFontFamily(family string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-', r == '_':
			return r
		}
		return -1
	}, family)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "sans-serif"
	}
	return "'" + clean + "', sans-serif"
}

func cssColor(c string) string {
	if cardlayout.ValidColor(c) {
		return c
	}
	return "#000000"
}

func flexAlign(part string) string {
	switch part {
	case "top", "left":
		return "flex-start"
	case "bottom", "right":
		return "flex-end"
	default:
		return "center"
	}
}

func textAlign(h string) string {
	switch h {
	case "left", "right":
		return h
	default:
		return "center"
	}
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func ratio(a, b float64) string {
	if b <= 0 {
		return "1"
	}
	return strconv.FormatFloat(a/b, 'f', 6, 64)
}
