package assets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"cardDesigner/internal/badge"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/codes"
	"cardDesigner/internal/errcode"
)

// Prober 确认素材可以加载，并可选地把它内联为 data URL。
type Prober interface {
	Probe(ctx context.Context, src string) error
	Inline(ctx context.Context, src string) (string, error)
}

// Warning 随渲染结果一起返回，格式与打印数据中的告警保持一致。
type Warning struct {
	Code        int                    `json:"code"`
	Message     string                 `json:"message"`
	Elements    []cardlayout.ElementID `json:"elements,omitempty"`
	MissingKeys []string               `json:"missing_keys,omitempty"`
}

// RemovedAsset 记录一个因加载失败被隐藏（或留空）的元素。
type RemovedAsset struct {
	Element cardlayout.ElementID
	URL     string
	Reason  string
}

// Result 是一次素材收集的结果。
type Result struct {
	Assets      badge.Assets
	PhotoSource Source
	Removed     []RemovedAsset
	Warnings    []Warning
}

// Gatherer 为一张卡片解析并检查所有外部素材。
type Gatherer struct {
	Resolver *Resolver
	Prober   Prober
	Codes    codes.URLBuilder
	Logger   *slog.Logger
}

// Gather 解析照片与条码/二维码地址并逐个检查。检查并发进行，单个失败只影响对应元素：
// 条码/二维码被隐藏，照片位置留空。inline 为 true 时可用的素材会被转换成 data URL，
// 供无法访问外网的打印环境使用。Bucket 不存在视为系统错误直接返回。
func (g *Gatherer) Gather(ctx context.Context, layout cardlayout.CardLayout, visitor badge.Visitor, inline bool) (Result, error) {
	var res Result

	if g.Resolver != nil {
		photo, source, err := g.Resolver.ResolvePhoto(ctx, visitor.Photo, visitor.VisitorID, visitor.Name)
		if err != nil {
			return Result{}, fmt.Errorf("resolve photo: %w", err)
		}
		res.Assets.PhotoURL, res.PhotoSource = photo, source
	} else {
		res.Assets.PhotoURL, res.PhotoSource = visitor.Photo, SourceDirect
	}
	if layout.Barcode.Visible {
		res.Assets.BarcodeURL = g.barcodeURL(layout, visitor.VisitorID)
	}
	if layout.QRCode.Visible {
		res.Assets.QRCodeURL = g.Codes.QRCode(visitor.VisitorID, qrPixels(layout.QRCode.Box))
	}

	slots := []struct {
		id  cardlayout.ElementID
		url *string
	}{
		{cardlayout.ElementPhoto, &res.Assets.PhotoURL},
		{cardlayout.ElementBarcode, &res.Assets.BarcodeURL},
		{cardlayout.ElementQRCode, &res.Assets.QRCodeURL},
	}

	// 地址为空的条码/二维码在启动检查前统一记录，之后 removed 只由持锁的检查 goroutine 追加。
	var removed []RemovedAsset
	for _, slot := range slots {
		if *slot.url == "" && slot.id != cardlayout.ElementPhoto && layout.Visible(slot.id) {
			removed = append(removed, RemovedAsset{Element: slot.id, Reason: "visitor id 为空"})
		}
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	for _, slot := range slots {
		slot := slot
		src := *slot.url
		if src == "" || g.Prober == nil {
			continue
		}
		eg.Go(func() error {
			out, err := g.check(egCtx, src, inline)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				*slot.url = ""
				removed = append(removed, RemovedAsset{Element: slot.id, URL: src, Reason: err.Error()})
				return nil
			}
			*slot.url = out
			return nil
		})
	}
	_ = eg.Wait()

	res.Removed = sortRemoved(removed)
	if len(res.Removed) > 0 {
		res.Warnings = append(res.Warnings, missingWarning(res.Removed))
		LogRemoved(g.Logger, visitor.VisitorID, res.Removed)
	}
	return res, nil
}

func (g *Gatherer) check(ctx context.Context, src string, inline bool) (string, error) {
	if inline {
		return g.Prober.Inline(ctx, src)
	}
	if err := g.Prober.Probe(ctx, src); err != nil {
		return "", err
	}
	return src, nil
}

// barcodeURL 按条码元素的码制生成地址。
func (g *Gatherer) barcodeURL(layout cardlayout.CardLayout, visitorID string) string {
	if layout.Barcode.Kind == cardlayout.CodeKindQR {
		return g.Codes.QRCode(visitorID, qrPixels(layout.Barcode.Box))
	}
	return g.Codes.Barcode(visitorID)
}

// qrPixels 按元素的较长边请求二维码，乘 2 以适配高分屏与打印。
func qrPixels(b cardlayout.Box) int {
	side := math.Max(b.Width, b.Height) * 2
	if math.IsNaN(side) || side <= 0 {
		return codes.DefaultQRSize
	}
	return int(math.Round(side))
}

func sortRemoved(removed []RemovedAsset) []RemovedAsset {
	if len(removed) == 0 {
		return nil
	}
	out := make([]RemovedAsset, 0, len(removed))
	for _, id := range cardlayout.ElementIDs {
		for _, r := range removed {
			if r.Element == id {
				out = append(out, r)
			}
		}
	}
	return out
}

func missingWarning(removed []RemovedAsset) Warning {
	w := Warning{
		Code:    errcode.ResourceMissing,
		Message: errcode.Message(errcode.ResourceMissing),
	}
	seen := make(map[string]struct{}, len(removed))
	for _, r := range removed {
		w.Elements = append(w.Elements, r.Element)
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		w.MissingKeys = append(w.MissingKeys, r.URL)
	}
	return w
}

// LogRemoved 逐条记录被隐藏的素材。
func LogRemoved(log *slog.Logger, visitorID string, removed []RemovedAsset) {
	if log == nil {
		return
	}
	for _, r := range removed {
		log.Warn("badge asset removed",
			slog.String("visitor_id", visitorID),
			slog.String("element", string(r.Element)),
			slog.String("url", r.URL),
			slog.String("reason", r.Reason),
		)
	}
}
