package badge

import (
	"context"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/fonts"
)

// ImageLoader 下载并解码图片。
type ImageLoader interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// RasterOptions 控制 PNG 输出。
type RasterOptions struct {
	// Scale 是输出像素与画布像素之比，<=0 时为 1。
	Scale  float64
	Fonts  *fonts.Library
	Images ImageLoader
}

// WritePNG 栅格化卡片并编码为 PNG，返回图片加载失败而被跳过的元素。
func WritePNG(ctx context.Context, w io.Writer, card Card, opts RasterOptions) ([]cardlayout.ElementID, error) {
	img, skipped := Rasterize(ctx, card, opts)
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return skipped, err
	}
	return skipped, nil
}

// Rasterize 用 gg 绘制卡片。单个图片失败只影响该元素。
func Rasterize(ctx context.Context, card Card, opts RasterOptions) (image.Image, []cardlayout.ElementID) {
	s := opts.Scale
	if s <= 0 {
		s = 1
	}
	if opts.Fonts == nil {
		opts.Fonts = fonts.Default()
	}
	r := rasterizer{ctx: ctx, s: s, opts: opts}

	width, height := iround(card.Width*s), iround(card.Height*s)
	dc := gg.NewContext(max(width, 1), max(height, 1))

	radius := float64(cardRadius(card)) * s
	dc.DrawRoundedRectangle(0, 0, float64(width), float64(height), radius)
	dc.Clip()

	r.background(dc, card, width, height)

	var skipped []cardlayout.ElementID
	for _, n := range card.Nodes {
		if !r.node(dc, n) {
			skipped = append(skipped, n.ID)
		}
	}

	dc.ResetClip()
	if card.Border {
		dc.SetHexColor("#e5e7eb")
		dc.SetLineWidth(s)
		dc.DrawRoundedRectangle(s/2, s/2, float64(width)-s, float64(height)-s, radius)
		dc.Stroke()
	}
	return dc.Image(), skipped
}

type rasterizer struct {
	ctx  context.Context
	s    float64
	opts RasterOptions
}

func (r rasterizer) load(src string) (image.Image, bool) {
	if r.opts.Images == nil || src == "" {
		return nil, false
	}
	img, err := r.opts.Images.Load(r.ctx, src)
	if err != nil || img == nil {
		return nil, false
	}
	return img, true
}

func (r rasterizer) background(dc *gg.Context, card Card, width, height int) {
	bg := card.Background
	if bg != nil && bg.ImageURL != "" {
		if img, ok := r.load(bg.ImageURL); ok {
			dc.DrawImage(imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos), 0, 0)
			return
		}
	}
	if bg != nil && bg.ImageURL == "" {
		g := gg.NewLinearGradient(0, 0, float64(width), float64(height))
		g.AddColorStop(0, parseHex(bg.Gradient[0]))
		g.AddColorStop(1, parseHex(bg.Gradient[1]))
		dc.SetFillStyle(g)
	} else {
		dc.SetColor(color.White)
	}
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()
}

// node 绘制单个元素，图片加载失败时返回 false。
func (r rasterizer) node(dc *gg.Context, n Node) bool {
	s := r.s
	x, y := n.Rect.Left*s, n.Rect.Top*s
	w, h := n.Rect.Width*s, n.Rect.Height*s
	pw, ph := max(iround(w), 1), max(iround(h), 1)
	ok := true

	dc.Push()
	switch n.Kind {
	case NodeImage:
		if n.Src == "" {
			break
		}
		img, loaded := r.load(n.Src)
		if !loaded {
			ok = false
			break
		}
		switch n.Style.BorderRadius {
		case "50%":
			dc.DrawEllipse(x+w/2, y+h/2, w/2, h/2)
			dc.Clip()
		case "", "0":
		default:
			dc.DrawRoundedRectangle(x, y, w, h, min(float64(RoundedRadiusPx)*s, w/2, h/2))
			dc.Clip()
		}
		if cardlayout.KindOf(n.ID) == cardlayout.KindCode {
			fitted := fitNearest(img, pw, ph)
			dx := (pw - fitted.Bounds().Dx()) / 2
			dy := (ph - fitted.Bounds().Dy()) / 2
			dc.DrawImage(fitted, iround(x)+dx, iround(y)+dy)
		} else {
			dc.DrawImage(imaging.Fill(img, pw, ph, imaging.Center, imaging.Lanczos), iround(x), iround(y))
		}

	case NodeText:
		dc.DrawRectangle(x, y, w, h)
		dc.Clip()
		r.text(dc, n, x, y, w, h)
	}
	dc.Pop()

	if n.Outline {
		dc.SetHexColor("#3b82f6")
		dc.SetLineWidth(s)
		dc.SetDash(4*s, 2*s)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()
		dc.SetDash()
	}
	if n.Handles {
		dc.SetHexColor("#3b82f6")
		dc.DrawRectangle(x+w-4*s, y+h-4*s, 8*s, 8*s)
		dc.Fill()
	}
	return ok
}

func (r rasterizer) text(dc *gg.Context, n Node, x, y, w, h float64) {
	size := n.Style.FontSizePx * r.s
	dc.SetFontFace(r.opts.Fonts.Face(n.Style.FontFamily, false, size))
	dc.SetColor(parseHex(n.Style.Color))

	lines := dc.WordWrap(n.Text, w)
	lineHeight := size * 1.2
	total := lineHeight * float64(len(lines))

	v, hAlign := n.Style.Align.Split()
	top := y + (h-total)/2
	switch v {
	case "top":
		top = y
	case "bottom":
		top = y + h - total
	}
	ax, tx := 0.5, x+w/2
	switch hAlign {
	case "left":
		ax, tx = 0, x
	case "right":
		ax, tx = 1, x+w
	}
	for i, line := range lines {
		dc.DrawStringAnchored(line, tx, top+lineHeight*float64(i)+lineHeight/2, ax, 0.35)
	}
}

// fitNearest 等比缩放到框内。条码使用最近邻插值以保持边缘锐利。
func fitNearest(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return img
	}
	f := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	return imaging.Resize(img, max(iround(float64(b.Dx())*f), 1), max(iround(float64(b.Dy())*f), 1), imaging.NearestNeighbor)
}

// parseHex 解析 #rgb/#rrggbb/#rrggbbaa，非法值返回黑色。
func parseHex(s string) color.Color {
	if !cardlayout.ValidColor(s) {
		return color.Black
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.Black
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
