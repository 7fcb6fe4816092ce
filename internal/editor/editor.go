package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/geometry"
	"cardDesigner/internal/store"
)

// ErrSaveInFlight 表示上一次保存尚未返回。
var ErrSaveInFlight = errors.New("save already in flight")

// State 是单次指针交互的状态。
type State string

const (
	StateIdle     State = "idle"
	StateDragging State = "dragging"
	StateResizing State = "resizing"
)

// LoadSource 说明 Load 的结果来自哪里，便于界面给出非阻塞提示。
type LoadSource string

const (
	SourceServer   LoadSource = "server"
	SourceCache    LoadSource = "cache"
	SourceDefaults LoadSource = "defaults"
)

// 交互时的最小尺寸，比持久化模型的 10px 更严格。
var (
	minBlockSize = geometry.Size{Width: 50, Height: 50}
	minTextSize  = geometry.Size{Width: 50, Height: 20}
)

// MinimumSize 返回元素在缩放时允许的最小宽高。
func MinimumSize(id cardlayout.ElementID) geometry.Size {
	if cardlayout.KindOf(id) == cardlayout.KindText {
		return minTextSize
	}
	return minBlockSize
}

// Notifier 在保存成功后广播变更。
type Notifier interface {
	LayoutSaved(ctx context.Context, layout cardlayout.CardLayout) error
}

type Option func(*Editor)

func WithNotifier(n Notifier) Option {
	return func(e *Editor) { e.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Editor 持有正在编辑的卡片设计。所有方法并发安全，
// Continue* 只做本地几何计算，不做任何 I/O。
type Editor struct {
	store    store.Store
	cache    store.Cache
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	layout cardlayout.CardLayout
	state  State
	active cardlayout.ElementID
	last   geometry.Point // drag: 上一次指针位置；resize: 起点
	start  geometry.Size  // resize 起始宽高
	offset geometry.Point // drag: 未取整的 margin，布局里只保存取整后的值

	loadGen uint64
	saving  bool
}

// New 构造编辑器，初始内容为默认布局。store 为服务端，cache 可为 nil。
func New(primary store.Store, cache store.Cache, opts ...Option) *Editor {
	e := &Editor{
		store:  primary,
		cache:  cache,
		logger: slog.Default(),
		layout: cardlayout.DefaultCardLayout,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Layout 返回当前布局的副本。
func (e *Editor) Layout() cardlayout.CardLayout {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layout
}

// State 返回当前交互状态及其目标元素。
func (e *Editor) State() (State, cardlayout.ElementID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.active
}

// Load 读取服务端保存的布局；失败时回落到缓存，再回落到默认值，从不返回错误。
// 并发的多次 Load 以最后发起的那次为准。
func (e *Editor) Load(ctx context.Context) (cardlayout.CardLayout, LoadSource) {
	e.mu.Lock()
	e.loadGen++
	gen := e.loadGen
	e.mu.Unlock()

	layout, source := e.fetch(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.loadGen {
		// 更新的 Load 已经发起，丢弃本次结果。
		return e.layout, source
	}
	e.layout = layout
	e.resetInteraction()
	return layout, source
}

func (e *Editor) fetch(ctx context.Context) (cardlayout.CardLayout, LoadSource) {
	layout, err := e.store.Get(ctx)
	switch {
	case err == nil:
		return layout.Normalize(), SourceServer
	case errors.Is(err, store.ErrNotFound):
		return cardlayout.DefaultCardLayout, SourceDefaults
	}
	e.logger.Warn("load card layout failed", slog.Any("error", err))

	if e.cache != nil {
		cached, cacheErr := e.cache.Read(ctx)
		if cacheErr == nil {
			return cached.Normalize(), SourceCache
		}
		if !errors.Is(cacheErr, store.ErrNotFound) {
			e.logger.Warn("read card layout cache failed", slog.Any("error", cacheErr))
		}
	}
	return cardlayout.DefaultCardLayout, SourceDefaults
}

// BeginDrag 开始拖动 id。非空闲状态或未知元素时忽略，返回是否生效。
func (e *Editor) BeginDrag(id cardlayout.ElementID, pointer geometry.Point) bool {
	return e.begin(StateDragging, id, pointer)
}

// ContinueDrag 把相对上一次指针位置的增量加到 margin 上并收进画布。
func (e *Editor) ContinueDrag(pointer geometry.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDragging || !usable(pointer) {
		return
	}

	delta := pointer.Sub(e.last)
	e.last = pointer

	canvas := e.layout.Canvas.Size()
	box := e.layout.Box(e.active)
	// 增量累加在未取整的 offset 上，亚像素移动不会在取整时丢失。
	e.offset.X = geometry.ClampOffset(e.offset.X+delta.X, box.Width, canvas.Width)
	e.offset.Y = geometry.ClampOffset(e.offset.Y+delta.Y, box.Height, canvas.Height)
	box.MarginLeft = geometry.ClampPosition(e.offset.X, box.Width, canvas.Width)
	box.MarginTop = geometry.ClampPosition(e.offset.Y, box.Height, canvas.Height)
}

func (e *Editor) EndDrag() {
	e.end(StateDragging)
}

// BeginResize 开始缩放 id，记录起始宽高。
func (e *Editor) BeginResize(id cardlayout.ElementID, pointer geometry.Point) bool {
	return e.begin(StateResizing, id, pointer)
}

// ContinueResize 以起点为基准计算增量，尺寸先按 canvas-margin 收紧，再套用交互最小值。
// 最小值可能把元素撑出画布，此时位置随之回收。
func (e *Editor) ContinueResize(pointer geometry.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateResizing || !usable(pointer) {
		return
	}

	delta := pointer.Sub(e.last)
	canvas := e.layout.Canvas.Size()
	minimum := MinimumSize(e.active)
	box := e.layout.Box(e.active)

	box.Width = geometry.ClampSize(e.start.Width+delta.X, box.MarginLeft, canvas.Width, minimum.Width)
	box.Height = geometry.ClampSize(e.start.Height+delta.Y, box.MarginTop, canvas.Height, minimum.Height)
	box.MarginLeft = geometry.ClampPosition(box.MarginLeft, box.Width, canvas.Width)
	box.MarginTop = geometry.ClampPosition(box.MarginTop, box.Height, canvas.Height)
}

func (e *Editor) EndResize() {
	e.end(StateResizing)
}

func (e *Editor) begin(state State, id cardlayout.ElementID, pointer geometry.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle || !id.Valid() || !usable(pointer) {
		return false
	}
	e.state = state
	e.active = id
	e.last = pointer
	box := e.layout.Box(id)
	e.start = geometry.Size{Width: box.Width, Height: box.Height}
	e.offset = geometry.Point{X: box.MarginLeft, Y: box.MarginTop}
	return true
}

func (e *Editor) end(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == state {
		e.resetInteraction()
	}
}

func (e *Editor) resetInteraction() {
	e.state = StateIdle
	e.active = ""
	e.last = geometry.Point{}
	e.start = geometry.Size{}
	e.offset = geometry.Point{}
}

// Style 是元素样式的局部更新，nil 字段保持不变。
type Style struct {
	Color      *string              `json:"color,omitempty"`
	FontFamily *string              `json:"fontFamily,omitempty"`
	FontSizePx *float64             `json:"fontSize,omitempty"`
	Align      *cardlayout.Align    `json:"align,omitempty"`
	Shape      *cardlayout.Shape    `json:"shape,omitempty"`
	Visible    *bool                `json:"visible,omitempty"`
	CodeKind   *cardlayout.CodeKind `json:"codeKind,omitempty"`
}

// SetElementStyle 合并样式字段，不触碰几何。与元素类型不符或非法的字段被忽略。
func (e *Editor) SetElementStyle(id cardlayout.ElementID, style Style) error {
	if !id.Valid() {
		return fmt.Errorf("unknown element %q", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if t := e.layout.Text(id); t != nil {
		if style.Color != nil && cardlayout.ValidColor(*style.Color) {
			t.Color = *style.Color
		}
		if style.FontFamily != nil && *style.FontFamily != "" {
			t.FontFamily = *style.FontFamily
		}
		if style.FontSizePx != nil && *style.FontSizePx > 0 {
			t.FontSizePx = *style.FontSizePx
		}
		if style.Align != nil && cardlayout.ValidAlign(*style.Align) {
			t.Align = *style.Align
		}
	}
	if id == cardlayout.ElementPhoto && style.Shape != nil {
		switch *style.Shape {
		case cardlayout.ShapeCircle, cardlayout.ShapeSquare, cardlayout.ShapeRounded:
			e.layout.Photo.Shape = *style.Shape
		}
	}
	if c := e.layout.Code(id); c != nil {
		if style.Visible != nil {
			c.Visible = *style.Visible
		}
		if id == cardlayout.ElementBarcode && style.CodeKind != nil {
			switch *style.CodeKind {
			case cardlayout.CodeKindBarcode, cardlayout.CodeKindQR:
				c.Kind = *style.CodeKind
			}
		}
	}
	return nil
}

// CardAttributes 是卡片级属性的局部更新。
type CardAttributes struct {
	BackgroundURL *string          `json:"backgroundUrl,omitempty"`
	PrintWidth    *float64         `json:"printWidth,omitempty"`
	PrintHeight   *float64         `json:"printHeight,omitempty"`
	PrintUnit     *cardlayout.Unit `json:"printUnit,omitempty"`
}

// SetCardAttributes 更新背景与打印尺寸。非正数尺寸与未知单位被忽略。
func (e *Editor) SetCardAttributes(attrs CardAttributes) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if attrs.BackgroundURL != nil {
		e.layout.BackgroundURL = *attrs.BackgroundURL
	}
	if attrs.PrintWidth != nil && *attrs.PrintWidth > 0 {
		e.layout.Print.Width = *attrs.PrintWidth
	}
	if attrs.PrintHeight != nil && *attrs.PrintHeight > 0 {
		e.layout.Print.Height = *attrs.PrintHeight
	}
	if attrs.PrintUnit != nil {
		switch *attrs.PrintUnit {
		case cardlayout.UnitMM, cardlayout.UnitInches:
			e.layout.Print.Unit = *attrs.PrintUnit
		}
	}
}

// Save 重新校验所有元素后整体写入服务端。
// 成功时写缓存并采用校验后的布局；失败时把尝试保存的文档写入缓存作为备份，
// 编辑器状态保持不变。
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.saving {
		e.mu.Unlock()
		return ErrSaveInFlight
	}
	e.saving = true
	snapshot := e.layout
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.saving = false
		e.mu.Unlock()
	}()

	attempt := snapshot.Normalize()
	if err := e.store.Put(ctx, attempt); err != nil {
		if e.cache != nil {
			if cacheErr := e.cache.Write(ctx, attempt); cacheErr != nil {
				e.logger.Warn("backup card layout to cache failed", slog.Any("error", cacheErr))
			}
		}
		return fmt.Errorf("save card layout: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Write(ctx, attempt); err != nil {
			e.logger.Warn("write card layout cache failed", slog.Any("error", err))
		}
	}

	e.mu.Lock()
	// 保存期间若有新的编辑，保留编辑结果，不用快照覆盖。
	if e.layout == snapshot {
		e.layout = attempt
	}
	e.mu.Unlock()

	if e.notifier != nil {
		if err := e.notifier.LayoutSaved(ctx, attempt); err != nil {
			e.logger.Warn("notify card layout saved failed", slog.Any("error", err))
		}
	}
	return nil
}

func usable(p geometry.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
