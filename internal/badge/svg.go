package badge

import (
	"fmt"
	"io"
	"math"
	"strings"

	svg "github.com/ajstarks/svgo"

	"cardDesigner/internal/cardlayout"
)

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

// WriteSVG 输出与 HTML 相同的元素树，供不依赖浏览器的预览使用。
// svgo 按整数坐标输出，布局本身已按整像素取整。
func WriteSVG(w io.Writer, card Card) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)

	width, height := iround(card.Width), iround(card.Height)
	canvas.Start(width, height)
	canvas.Title("badge")

	canvas.Def()
	canvas.ClipPath(`id="badge-clip"`)
	canvas.Roundrect(0, 0, width, height, cardRadius(card), cardRadius(card))
	canvas.ClipEnd()
	if bg := card.Background; bg != nil && bg.ImageURL == "" {
		canvas.LinearGradient("badge-bg", 0, 0, 100, 100, []svg.Offcolor{
			{Offset: 0, Color: cssColor(bg.Gradient[0]), Opacity: 1},
			{Offset: 100, Color: cssColor(bg.Gradient[1]), Opacity: 1},
		})
	}
	for _, n := range card.Nodes {
		if n.Kind == NodeImage && n.Style.BorderRadius != "" && n.Style.BorderRadius != "0" {
			canvas.ClipPath(fmt.Sprintf(`id="clip-%s"`, n.ID))
			writeClipShape(canvas, n)
			canvas.ClipEnd()
		}
	}
	canvas.DefEnd()

	canvas.Group(`clip-path="url(#badge-clip)"`)
	switch bg := card.Background; {
	case bg == nil:
		canvas.Rect(0, 0, width, height, "fill:#ffffff")
	case bg.ImageURL != "":
		canvas.Rect(0, 0, width, height, "fill:#ffffff")
		if u, ok := SafeURL(bg.ImageURL); ok {
			canvas.Image(0, 0, width, height, attrEscaper.Replace(u), `preserveAspectRatio="xMidYMid slice"`)
		}
	default:
		canvas.Rect(0, 0, width, height, "fill:url(#badge-bg)")
	}

	for _, n := range card.Nodes {
		writeSVGNode(canvas, n)
	}
	canvas.Gend()

	if card.Border {
		canvas.Roundrect(0, 0, width, height, cardRadius(card), cardRadius(card), "fill:none;stroke:#e5e7eb;stroke-width:1")
	}
	canvas.End()
	return ew.err
}

func writeSVGNode(canvas *svg.SVG, n Node) {
	x, y := iround(n.Rect.Left), iround(n.Rect.Top)
	w, h := iround(n.Rect.Width), iround(n.Rect.Height)

	switch n.Kind {
	case NodeImage:
		u, ok := SafeURL(n.Src)
		if !ok {
			break
		}
		attrs := []string{`preserveAspectRatio="xMidYMid slice"`}
		if cardlayout.KindOf(n.ID) == cardlayout.KindCode {
			attrs[0] = `preserveAspectRatio="xMidYMid meet"`
		}
		if n.Style.BorderRadius != "" && n.Style.BorderRadius != "0" {
			attrs = append(attrs, fmt.Sprintf(`clip-path="url(#clip-%s)"`, n.ID))
		}
		canvas.Image(x, y, w, h, attrEscaper.Replace(u), attrs...)

	case NodeText:
		v, hAlign := n.Style.Align.Split()
		tx, anchor := x+w/2, "middle"
		switch hAlign {
		case "left":
			tx, anchor = x, "start"
		case "right":
			tx, anchor = x+w, "end"
		}
		ty, baseline := y+h/2, "central"
		switch v {
		case "top":
			ty, baseline = y, "hanging"
		case "bottom":
			ty, baseline = y+h, "text-after-edge"
		}
		style := fmt.Sprintf("font-size:%spx;fill:%s;font-family:%s;text-anchor:%s;dominant-baseline:%s",
			px(n.Style.FontSizePx), cssColor(n.Style.Color), CSSFontFamily(n.Style.FontFamily), anchor, baseline)
		canvas.Text(tx, ty, n.Text, style)
	}

	if n.Outline {
		canvas.Rect(x, y, w, h, "fill:none;stroke:#3b82f6;stroke-width:1;stroke-dasharray:4,2")
	}
	if n.Handles {
		canvas.Rect(x+w-4, y+h-4, 8, 8, "fill:#3b82f6;stroke:#ffffff;stroke-width:1")
	}
}

func writeClipShape(canvas *svg.SVG, n Node) {
	x, y := iround(n.Rect.Left), iround(n.Rect.Top)
	w, h := iround(n.Rect.Width), iround(n.Rect.Height)
	if n.Style.BorderRadius == "50%" {
		canvas.Ellipse(x+w/2, y+h/2, w/2, h/2)
		return
	}
	r := min(RoundedRadiusPx, w/2, h/2)
	canvas.Roundrect(x, y, w, h, r, r)
}

func cardRadius(card Card) int {
	if card.Border {
		return 12
	}
	return 0
}

func iround(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}

// errWriter 记录第一次写入错误，svgo 本身不返回错误。
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return len(p), nil
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
