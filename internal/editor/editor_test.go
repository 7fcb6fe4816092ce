package editor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/geometry"
	"cardDesigner/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	layout  *cardlayout.CardLayout
	getErr  error
	putErr  error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeStore) Get(context.Context) (cardlayout.CardLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return cardlayout.CardLayout{}, f.getErr
	}
	if f.layout == nil {
		return cardlayout.CardLayout{}, store.ErrNotFound
	}
	return *f.layout, nil
}

func (f *fakeStore) Put(_ context.Context, l cardlayout.CardLayout) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.layout = &l
	return nil
}

type recordingNotifier struct {
	saved []cardlayout.CardLayout
}

func (n *recordingNotifier) LayoutSaved(_ context.Context, l cardlayout.CardLayout) error {
	n.saved = append(n.saved, l)
	return nil
}

func photoAt(left, top, w, h float64) cardlayout.CardLayout {
	l := cardlayout.DefaultCardLayout
	l.Photo.Box = cardlayout.Box{Width: w, Height: h, MarginLeft: left, MarginTop: top}
	return l
}

func loadedEditor(t *testing.T, l cardlayout.CardLayout) (*Editor, *fakeStore) {
	t.Helper()
	fs := &fakeStore{layout: &l}
	e := New(fs, store.NewMemoryCache())
	if _, src := e.Load(context.Background()); src != SourceServer {
		t.Fatalf("load source = %s", src)
	}
	return e, fs
}

func TestDragThenResizeClampsToCanvas(t *testing.T) {
	e, _ := loadedEditor(t, photoAt(20, 20, 100, 100))

	if !e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{X: 10, Y: 10}) {
		t.Fatal("begin drag ignored")
	}
	e.ContinueDrag(geometry.Point{X: 135, Y: 15})
	e.ContinueDrag(geometry.Point{X: 260, Y: 20})
	e.EndDrag()

	got := e.Layout().Photo.Box
	if got.MarginLeft != 209 || got.MarginTop != 30 {
		t.Fatalf("after drag got left=%v top=%v, want 209/30", got.MarginLeft, got.MarginTop)
	}

	if !e.BeginResize(cardlayout.ElementPhoto, geometry.Point{X: 300, Y: 120}) {
		t.Fatal("begin resize ignored")
	}
	e.ContinueResize(geometry.Point{X: 340, Y: 160})
	e.ContinueResize(geometry.Point{X: 380, Y: 200})
	e.EndResize()

	got = e.Layout().Photo.Box
	want := cardlayout.Box{Width: 100, Height: 180, MarginLeft: 209, MarginTop: 30}
	if got != want {
		t.Fatalf("after resize got %+v, want %+v", got, want)
	}
	if st, _ := e.State(); st != StateIdle {
		t.Fatalf("state = %s", st)
	}
}

func TestResizeAppliesInteractionMinimum(t *testing.T) {
	cases := []struct {
		id   cardlayout.ElementID
		want geometry.Size
	}{
		{cardlayout.ElementPhoto, geometry.Size{Width: 50, Height: 50}},
		{cardlayout.ElementBarcode, geometry.Size{Width: 50, Height: 50}},
		{cardlayout.ElementVisitorName, geometry.Size{Width: 50, Height: 20}},
	}
	for _, tc := range cases {
		t.Run(string(tc.id), func(t *testing.T) {
			e := New(&fakeStore{}, nil)
			e.BeginResize(tc.id, geometry.Point{})
			e.ContinueResize(geometry.Point{X: -1000, Y: -1000})
			e.EndResize()

			l := e.Layout()
			box := l.Box(tc.id)
			if box.Width != tc.want.Width || box.Height != tc.want.Height {
				t.Fatalf("got %vx%v, want %vx%v", box.Width, box.Height, tc.want.Width, tc.want.Height)
			}
		})
	}
}

func TestResizeMinimumPullsElementBackOnCanvas(t *testing.T) {
	l := photoAt(290, 460, 19, 15)
	e, _ := loadedEditor(t, l)

	e.BeginResize(cardlayout.ElementPhoto, geometry.Point{})
	e.ContinueResize(geometry.Point{X: 1, Y: 1})
	e.EndResize()

	box := e.Layout().Photo.Box
	if !geometry.Fits(box.Rect(), e.Layout().Canvas.Size()) {
		t.Fatalf("element left the canvas: %+v", box)
	}
	if box.Width < 50 || box.Height < 50 {
		t.Fatalf("minimum not applied: %+v", box)
	}
}

func TestRandomInteractionsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := New(&fakeStore{}, nil)
	canvas := e.Layout().Canvas.Size()

	for i := 0; i < 2000; i++ {
		id := cardlayout.ElementIDs[rng.Intn(len(cardlayout.ElementIDs))]
		pointer := func() geometry.Point {
			return geometry.Point{X: rng.Float64()*2000 - 1000, Y: rng.Float64()*2000 - 1000}
		}

		resize := rng.Intn(2) == 0
		if resize {
			e.BeginResize(id, pointer())
		} else {
			e.BeginDrag(id, pointer())
		}
		for j := 0; j < 5; j++ {
			if resize {
				e.ContinueResize(pointer())
			} else {
				e.ContinueDrag(pointer())
			}

			l := e.Layout()
			box := l.Box(id)
			if !geometry.Fits(box.Rect(), canvas) {
				t.Fatalf("step %d/%d: %s left canvas: %+v", i, j, id, *box)
			}
			floor := MinimumSize(id)
			if resize && (box.Width < floor.Width || box.Height < floor.Height) {
				t.Fatalf("step %d/%d: %s below minimum: %+v", i, j, id, *box)
			}
		}
		if resize {
			e.EndResize()
		} else {
			e.EndDrag()
		}
	}
}

func TestDragAccumulatesSubPixelSteps(t *testing.T) {
	e := New(&fakeStore{}, nil)
	start := e.Layout().Photo.MarginLeft

	if !e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{X: 0, Y: 0}) {
		t.Fatal("begin drag ignored")
	}
	for i := 1; i <= 50; i++ {
		e.ContinueDrag(geometry.Point{X: float64(i) * 0.4, Y: 0})
		if i == 3 {
			// 1.2px 累计后显示为 1px。
			if got := e.Layout().Photo.MarginLeft; got != start+1 {
				t.Fatalf("after 3 steps marginLeft = %v, want %v", got, start+1)
			}
		}
	}
	e.EndDrag()
	if got := e.Layout().Photo.MarginLeft; got != start+20 {
		t.Fatalf("marginLeft = %v, want %v", got, start+20)
	}

	// 0.6px 的步长不应被逐步放大成 1px。
	e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{X: 0, Y: 0})
	for i := 1; i <= 5; i++ {
		e.ContinueDrag(geometry.Point{X: 0, Y: float64(i) * 0.6})
	}
	e.EndDrag()
	if got, want := e.Layout().Photo.MarginTop, cardlayout.DefaultCardLayout.Photo.MarginTop+3; got != want {
		t.Fatalf("marginTop = %v, want %v", got, want)
	}
}

func TestRandomDragFollowsPointer(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	e := New(&fakeStore{}, nil)
	canvas := e.Layout().Canvas.Size()

	for i := 0; i < 500; i++ {
		id := cardlayout.ElementIDs[rng.Intn(len(cardlayout.ElementIDs))]
		startLayout := e.Layout()
		box := *startLayout.Box(id)
		pointer := geometry.Point{X: rng.Float64() * 300, Y: rng.Float64() * 400}
		if !e.BeginDrag(id, pointer) {
			t.Fatalf("begin drag %s ignored", id)
		}

		// 参考模型：增量累加到未取整的位置，越界时贴边，显示值取整。
		x, y := box.MarginLeft, box.MarginTop
		for j := 0; j < 20; j++ {
			next := geometry.Point{
				X: pointer.X + rng.NormFloat64()*3,
				Y: pointer.Y + rng.NormFloat64()*3,
			}
			delta := next.Sub(pointer)
			pointer = next
			x = math.Max(0, math.Min(x+delta.X, canvas.Width-box.Width))
			y = math.Max(0, math.Min(y+delta.Y, canvas.Height-box.Height))

			e.ContinueDrag(pointer)
			cur := e.Layout()
			got := cur.Box(id)
			if got.MarginLeft != math.Round(x) || got.MarginTop != math.Round(y) {
				t.Fatalf("step %d/%d: %s at (%v,%v), want (%v,%v)",
					i, j, id, got.MarginLeft, got.MarginTop, math.Round(x), math.Round(y))
			}
			if got.Width != box.Width || got.Height != box.Height {
				t.Fatalf("drag changed size of %s: %+v", id, *got)
			}
		}
		e.EndDrag()
	}
}

func TestBeginWhileBusyIsIgnored(t *testing.T) {
	e := New(&fakeStore{}, nil)
	before := e.Layout()

	if !e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{X: 0, Y: 0}) {
		t.Fatal("begin drag ignored")
	}
	if e.BeginResize(cardlayout.ElementBarcode, geometry.Point{X: 0, Y: 0}) {
		t.Fatal("resize accepted while dragging")
	}
	e.ContinueDrag(geometry.Point{X: 5, Y: 7})
	e.ContinueResize(geometry.Point{X: 500, Y: 500})
	e.EndResize()
	if st, active := e.State(); st != StateDragging || active != cardlayout.ElementPhoto {
		t.Fatalf("state = %s/%s", st, active)
	}
	e.EndDrag()

	after := e.Layout()
	if after.Barcode != before.Barcode {
		t.Fatalf("barcode changed: %+v", after.Barcode)
	}
	if after.Photo.MarginLeft != before.Photo.MarginLeft+5 || after.Photo.MarginTop != before.Photo.MarginTop+7 {
		t.Fatalf("photo moved to %+v", after.Photo.Box)
	}
	for _, id := range cardlayout.ElementIDs {
		b := after.Box(id)
		for _, v := range []float64{b.Width, b.Height, b.MarginLeft, b.MarginTop} {
			if math.IsNaN(v) || v < 0 {
				t.Fatalf("%s has invalid geometry %+v", id, *b)
			}
		}
	}
}

func TestNonFinitePointerIsIgnored(t *testing.T) {
	e := New(&fakeStore{}, nil)
	before := e.Layout()
	e.BeginDrag(cardlayout.ElementQRCode, geometry.Point{})
	e.ContinueDrag(geometry.Point{X: math.NaN(), Y: math.Inf(1)})
	e.EndDrag()
	if e.Layout() != before {
		t.Fatal("non-finite pointer changed the layout")
	}
}

func TestUnknownElementCannotBeginInteraction(t *testing.T) {
	e := New(&fakeStore{}, nil)
	if e.BeginDrag("logo", geometry.Point{}) {
		t.Fatal("unknown element accepted")
	}
	if err := e.SetElementStyle("logo", Style{}); err == nil {
		t.Fatal("expected error for unknown element")
	}
}

func TestSetElementStyleLeavesGeometry(t *testing.T) {
	e := New(&fakeStore{}, nil)
	before := e.Layout()

	color, align := "#123456", cardlayout.AlignBottomRight
	shape, off := cardlayout.ShapeRounded, false
	bad := "red"
	_ = e.SetElementStyle(cardlayout.ElementVisitorName, Style{Color: &color, Align: &align})
	_ = e.SetElementStyle(cardlayout.ElementCompanyName, Style{Color: &bad})
	_ = e.SetElementStyle(cardlayout.ElementPhoto, Style{Shape: &shape, Color: &color})
	_ = e.SetElementStyle(cardlayout.ElementBarcode, Style{Visible: &off})

	after := e.Layout()
	if after.VisitorName.Color != color || after.VisitorName.Align != align {
		t.Fatalf("visitor name style not applied: %+v", after.VisitorName)
	}
	if after.CompanyName.Color != before.CompanyName.Color {
		t.Fatal("invalid color must be ignored")
	}
	if after.Photo.Shape != shape || after.Barcode.Visible {
		t.Fatal("photo shape or barcode visibility not applied")
	}
	for _, id := range cardlayout.ElementIDs {
		if *after.Box(id) != *before.Box(id) {
			t.Fatalf("%s geometry changed", id)
		}
	}
}

func TestSetCardAttributes(t *testing.T) {
	e := New(&fakeStore{}, nil)
	bg, w, unit, neg := "https://cdn.example.com/bg.png", 3.5, cardlayout.UnitInches, -1.0
	e.SetCardAttributes(CardAttributes{BackgroundURL: &bg, PrintWidth: &w, PrintHeight: &neg, PrintUnit: &unit})

	l := e.Layout()
	if l.BackgroundURL != bg || l.Print.Width != w || l.Print.Unit != unit {
		t.Fatalf("attributes not applied: %+v", l.Print)
	}
	if l.Print.Height != cardlayout.DefaultCardLayout.Print.Height {
		t.Fatal("negative print height must be ignored")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	cache := store.NewMemoryCache()
	notifier := &recordingNotifier{}
	e := New(fs, cache, WithNotifier(notifier))

	e.BeginDrag(cardlayout.ElementBarcode, geometry.Point{})
	e.ContinueDrag(geometry.Point{X: -40, Y: 30})
	e.EndDrag()
	on := true
	_ = e.SetElementStyle(cardlayout.ElementQRCode, Style{Visible: &on})
	edited := e.Layout()

	if err := e.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(notifier.saved) != 1 {
		t.Fatalf("notifier called %d times", len(notifier.saved))
	}
	if cached, err := cache.Read(ctx); err != nil || cached != edited.Normalize() {
		t.Fatalf("cache not written: %v", err)
	}

	other := New(fs, nil)
	got, src := other.Load(ctx)
	if src != SourceServer {
		t.Fatalf("source = %s", src)
	}
	if got != edited.Normalize() {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, edited.Normalize())
	}
	if !got.Barcode.Visible || !got.QRCode.Visible {
		t.Fatal("barcode and QR must be independently visible")
	}
}

func TestLoadFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing saved", func(t *testing.T) {
		e := New(&fakeStore{}, nil)
		if l, src := e.Load(ctx); src != SourceDefaults || l != cardlayout.DefaultCardLayout {
			t.Fatalf("got source %s", src)
		}
	})

	t.Run("server down with cache", func(t *testing.T) {
		cache := store.NewMemoryCache()
		cached := photoAt(0, 0, 60, 60)
		_ = cache.Write(ctx, cached)
		e := New(&fakeStore{getErr: errors.New("dial tcp: connection refused")}, cache)
		l, src := e.Load(ctx)
		if src != SourceCache || l != cached {
			t.Fatalf("got source %s layout %+v", src, l.Photo)
		}
	})

	t.Run("server down without cache", func(t *testing.T) {
		e := New(&fakeStore{getErr: errors.New("timeout")}, store.NewMemoryCache())
		if l, src := e.Load(ctx); src != SourceDefaults || l != cardlayout.DefaultCardLayout {
			t.Fatalf("got source %s", src)
		}
	})

	t.Run("corrupt stored geometry is clamped", func(t *testing.T) {
		e, _ := loadedEditor(t, photoAt(-30, 900, 5000, 2))
		box := e.Layout().Photo.Box
		if !geometry.Fits(box.Rect(), e.Layout().Canvas.Size()) || box.Height < cardlayout.MinElementSize {
			t.Fatalf("loaded geometry not clamped: %+v", box)
		}
	})
}

func TestSaveFailureKeepsStateAndBacksUp(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{putErr: errors.New("502 bad gateway")}
	cache := store.NewMemoryCache()
	notifier := &recordingNotifier{}
	e := New(fs, cache, WithNotifier(notifier))

	e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{})
	e.ContinueDrag(geometry.Point{X: 3, Y: 4})
	e.EndDrag()
	before := e.Layout()

	if err := e.Save(ctx); err == nil {
		t.Fatal("expected save error")
	}
	if e.Layout() != before {
		t.Fatal("failed save changed editor state")
	}
	backup, err := cache.Read(ctx)
	if err != nil || backup != before.Normalize() {
		t.Fatalf("attempted document not backed up: %v", err)
	}
	if len(notifier.saved) != 0 {
		t.Fatal("failed save must not notify")
	}
}

func TestConcurrentSaveIsRejected(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	e := New(fs, nil)

	done := make(chan error, 1)
	go func() { done <- e.Save(ctx) }()
	<-fs.entered

	if err := e.Save(ctx); !errors.Is(err, ErrSaveInFlight) {
		t.Fatalf("expected ErrSaveInFlight, got %v", err)
	}

	// 保存期间的编辑不应被快照覆盖。
	e.BeginDrag(cardlayout.ElementPhoto, geometry.Point{})
	e.ContinueDrag(geometry.Point{X: -10})
	e.EndDrag()
	edited := e.Layout()

	close(fs.block)
	if err := <-done; err != nil {
		t.Fatalf("first save: %v", err)
	}
	if e.Layout() != edited {
		t.Fatal("edit made during save was lost")
	}
	fs.entered = nil
	if err := e.Save(ctx); err != nil {
		t.Fatalf("save after completion: %v", err)
	}
}
