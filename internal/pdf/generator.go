package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"cardDesigner/internal/cardlayout"
)

// ErrDisabled 表示当前进程未启用无头浏览器。
var ErrDisabled = errors.New("chromium rendering disabled")

// Options 控制一次浏览器渲染。
type Options struct {
	// Size 是纸张尺寸，与 HTML 中的 @page size 一致。
	Size cardlayout.PrintSize
	// Preview 为 true 时额外截取工牌 PNG。
	Preview bool
	Timeout time.Duration
	Logger  *slog.Logger
}

// Output 是渲染结果。
type Output struct {
	PDF     []byte
	Preview []byte
}

const waitImagesScript = `() => Promise.race([
  Promise.all(Array.from(document.images).map(img => img.complete ? true :
    new Promise(resolve => { img.onload = img.onerror = () => resolve(true); }))),
  new Promise(resolve => setTimeout(() => resolve(true), 5000))
])`

const waitFontsScript = `() => {
  if (document && document.fonts && document.fonts.ready) {
    return Promise.race([
      document.fonts.ready.then(() => true),
      new Promise((resolve) => setTimeout(() => resolve(true), 3000))
    ]);
  }
  return true;
}`

// GeneratePDFFromHTML 使用 go-rod 在无头浏览器中渲染 HTML 并返回 PDF 字节。
func GeneratePDFFromHTML(ctx context.Context, htmlContent string, size cardlayout.PrintSize) ([]byte, error) {
	out, err := Render(ctx, htmlContent, Options{Size: size})
	if err != nil {
		return nil, err
	}
	return out.PDF, nil
}

// Render 打开 HTML 文档，等待图片与字体就绪后导出 PDF（可选 PNG 预览）。
func Render(ctx context.Context, htmlContent string, opts Options) (Output, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return Output{}, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return Output{}, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(opts.Timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return Output{}, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(opts.Timeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return Output{}, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return Output{}, fmt.Errorf("wait load: %w", err)
	}

	if _, err := page.Eval(waitImagesScript); err != nil {
		log.Warn("wait for badge images failed, continue", slog.Any("error", err))
	}
	// 额外等待 WebFont/系统字体就绪，避免回退字体度量导致排版差异
	if _, err := page.Eval(waitFontsScript); err != nil {
		log.Warn("document.fonts.ready wait failed, continue", slog.Any("error", err))
	}

	if err := (proto.EmulationSetEmulatedMedia{Media: "print"}).Call(page); err != nil {
		return Output{}, fmt.Errorf("set emulated media to print: %w", err)
	}

	var out Output
	if opts.Preview {
		out.Preview, err = capturePreview(page)
		if err != nil {
			log.Warn("capture badge preview failed", slog.Any("error", err))
		}
	}

	out.PDF, err = exportPDF(page, opts.Size)
	if err != nil {
		return Output{}, err
	}
	return out, nil
}

func exportPDF(page *rod.Page, size cardlayout.PrintSize) ([]byte, error) {
	params := &proto.PagePrintToPDF{
		PrintBackground:   true,
		MarginTop:         float64Ptr(0),
		MarginBottom:      float64Ptr(0),
		MarginLeft:        float64Ptr(0),
		MarginRight:       float64Ptr(0),
		PreferCSSPageSize: true,
	}
	if w, h := size.Inches(); w > 0 && h > 0 {
		params.PaperWidth = float64Ptr(w)
		params.PaperHeight = float64Ptr(h)
	}

	reader, err := page.PDF(params)
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

func capturePreview(page *rod.Page) ([]byte, error) {
	element, err := page.Timeout(5 * time.Second).Element(".badge-page")
	if err == nil {
		if data, shotErr := element.Screenshot(proto.PageCaptureScreenshotFormatPng, 0); shotErr == nil {
			return data, nil
		}
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("page screenshot: %w", err)
	}
	return data, nil
}

func float64Ptr(value float64) *float64 {
	return &value
}
