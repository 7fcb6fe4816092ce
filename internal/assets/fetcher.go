package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-retryablehttp"
)

// MaxImageBytes 限制单个素材的下载大小。
const MaxImageBytes = 10 << 20

var ErrUnsupportedURL = errors.New("unsupported asset url")

// Fetcher 下载并解码素材图片，http 请求带重试。
type Fetcher struct {
	client  *retryablehttp.Client
	baseURL *url.URL
}

// NewFetcher 构造 Fetcher；baseURL 用于解析站内相对路径，可为空。
func NewFetcher(baseURL string, timeout time.Duration, retries int) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = timeout

	f := &Fetcher{client: client}
	if u, err := url.Parse(strings.TrimSpace(baseURL)); err == nil && u.Host != "" {
		f.baseURL = u
	}
	return f
}

// Fetch 返回素材的原始字节与 Content-Type，并确认其可以被解码为图片。
func (f *Fetcher) Fetch(ctx context.Context, src string) ([]byte, string, error) {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(strings.ToLower(src), "data:") {
		return decodeDataURL(src)
	}

	target, err := f.resolve(src)
	if err != nil {
		return nil, "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build asset request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch asset: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("asset larger than %d bytes", MaxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Load 下载并解码图片。
func (f *Fetcher) Load(ctx context.Context, src string) (image.Image, error) {
	data, _, err := f.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	return img, nil
}

// Probe 确认素材可以加载并解码。
func (f *Fetcher) Probe(ctx context.Context, src string) error {
	_, err := f.Load(ctx, src)
	return err
}

// Inline 把素材转换成 data URL，供无网络的打印环境使用。
func (f *Fetcher) Inline(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(src)), "data:") {
		return src, nil
	}
	data, contentType, err := f.Fetch(ctx, src)
	if err != nil {
		return "", err
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("decode asset: %w", err)
	}
	return DataURL(contentType, data), nil
}

func (f *Fetcher) resolve(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil || src == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, src)
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		return u.String(), nil
	case u.Scheme == "" && strings.HasPrefix(src, "/") && f.baseURL != nil:
		return f.baseURL.ResolveReference(u).String(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, src)
}

// DataURL 编码 data:<type>;base64,<data>。
func DataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func decodeDataURL(src string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(src, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", ErrUnsupportedURL)
	}
	meta := strings.TrimPrefix(header, "data:")
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", fmt.Errorf("%w: data url must be base64", ErrUnsupportedURL)
	}
	contentType := meta[:len(meta)-len(";base64")]
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("asset larger than %d bytes", MaxImageBytes)
	}
	return data, contentType, nil
}
