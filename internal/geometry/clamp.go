package geometry

import "math"

// Point 表示指针坐标。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub 返回 p - q。
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Size 描述宽高。
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect 描述画布内元素的位置与尺寸，坐标原点在画布左上角。
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClampSize 将尺寸限制在 [minimum, canvas-margin] 内，minimum 优先。
// 负的 margin 按 0 计算，保证 ClampRect 幂等。结果按整像素取整。
func ClampSize(requested, margin, canvas, minimum float64) float64 {
	if !finite(minimum) || minimum < 0 {
		minimum = 0
	}
	minimum = math.Ceil(minimum)
	if !finite(requested) {
		return minimum
	}
	if !finite(margin) || margin < 0 {
		margin = 0
	}
	requested, margin, canvas = Snap(requested), Snap(margin), Snap(canvas)
	available := canvas - margin
	if !finite(available) {
		available = requested
	}
	return math.Max(minimum, math.Min(requested, available))
}

// ClampOffset 将 margin 限制在 [0, canvas-size] 内，不取整。
// 拖动过程中累计小于 1px 的指针增量时使用。
func ClampOffset(margin, size, canvas float64) float64 {
	if !finite(margin) {
		return 0
	}
	limit := canvas - size
	if !finite(limit) {
		limit = 0
	}
	return math.Max(0, math.Min(margin, limit))
}

// ClampPosition 与 ClampOffset 相同，但输入先取整到整像素；元素比画布大时贴边为 0。
func ClampPosition(margin, size, canvas float64) float64 {
	return ClampOffset(Snap(margin), Snap(size), Snap(canvas))
}

// ClampRect 先按当前 margin 限制尺寸，再按新尺寸限制位置。
func ClampRect(r Rect, canvas Size, minimum Size) Rect {
	r.Width = ClampSize(r.Width, r.Left, canvas.Width, minimum.Width)
	r.Height = ClampSize(r.Height, r.Top, canvas.Height, minimum.Height)
	r.Left = ClampPosition(r.Left, r.Width, canvas.Width)
	r.Top = ClampPosition(r.Top, r.Height, canvas.Height)
	return r
}

// Fits 判断 r 是否完整落在画布内。
func Fits(r Rect, canvas Size) bool {
	return r.Left >= 0 && r.Top >= 0 &&
		r.Left+r.Width <= canvas.Width &&
		r.Top+r.Height <= canvas.Height
}

// Snap 将坐标取整到整像素；非有限值原样返回。
func Snap(v float64) float64 {
	if !finite(v) {
		return v
	}
	return math.Round(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
