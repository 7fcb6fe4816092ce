package assets

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/fogleman/gg"

	"cardDesigner/internal/fonts"
	"cardDesigner/internal/storage"
)

// ObjectStore 是文件管理器（MinIO）中与照片查找相关的操作。
type ObjectStore interface {
	StatObject(ctx context.Context, objectKey string) (storage.ObjectMeta, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// Source 说明照片地址是通过哪一步解析出来的。
type Source string

const (
	SourceDirect      Source = "direct"
	SourceFile        Source = "file"
	SourceFileStem    Source = "file-stem"
	SourceVisitorID   Source = "visitor-id"
	SourcePlaceholder Source = "placeholder"
)

// Resolver 按固定顺序为访客照片引用查找可显示的地址：
// 完整 URL → 文件名 → 去扩展名的文件名 → 访客 ID → 姓名首字母头像。
type Resolver struct {
	objects    ObjectStore
	prefix     string
	presignTTL time.Duration
	fonts      *fonts.Library
}

func NewResolver(objects ObjectStore, prefix string, presignTTL time.Duration, lib *fonts.Library) *Resolver {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	if lib == nil {
		lib = fonts.Default()
	}
	return &Resolver{objects: objects, prefix: prefix, presignTTL: presignTTL, fonts: lib}
}

// ResolvePhoto 返回照片地址及其来源。只有 Bucket 不存在这类系统错误才会返回 error，
// 其余查找失败都会继续尝试下一步，最终落到占位头像。
func (r *Resolver) ResolvePhoto(ctx context.Context, ref, visitorID, name string) (string, Source, error) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:image/") {
		return ref, SourceDirect, nil
	}

	if r.objects != nil {
		base := path.Base(path.Clean("/" + ref))
		if ref != "" && base != "/" && base != "." {
			u, err := r.byKey(ctx, r.prefix+base)
			if err != nil || u != "" {
				return u, SourceFile, err
			}
			if stem := strings.TrimSuffix(base, path.Ext(base)); stem != "" {
				u, err := r.byStem(ctx, stem)
				if err != nil || u != "" {
					return u, SourceFileStem, err
				}
			}
		}
		if id := strings.TrimSpace(visitorID); id != "" && !strings.ContainsAny(id, "/\\") {
			u, err := r.byStem(ctx, id)
			if err != nil || u != "" {
				return u, SourceVisitorID, err
			}
		}
	}

	// 编码失败时照片位置留空。
	placeholder, _ := InitialsDataURL(r.fonts, name, 256)
	return placeholder, SourcePlaceholder, nil
}

func (r *Resolver) byKey(ctx context.Context, key string) (string, error) {
	if _, err := r.objects.StatObject(ctx, key); err != nil {
		if storage.IsNoSuchBucket(err) {
			return "", err
		}
		return "", nil
	}
	return r.presign(ctx, key)
}

// byStem 查找文件名（不含扩展名）等于 stem 的对象。
func (r *Resolver) byStem(ctx context.Context, stem string) (string, error) {
	objects, err := r.objects.ListObjects(ctx, r.prefix+stem, 20)
	if err != nil {
		if storage.IsNoSuchBucket(err) {
			return "", err
		}
		return "", nil
	}
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if strings.TrimSuffix(base, path.Ext(base)) == stem {
			return r.presign(ctx, obj.Key)
		}
	}
	return "", nil
}

func (r *Resolver) presign(ctx context.Context, key string) (string, error) {
	u, err := r.objects.GeneratePresignedURL(ctx, key, r.presignTTL)
	if err != nil {
		if storage.IsNoSuchBucket(err) {
			return "", err
		}
		return "", nil
	}
	return u, nil
}

var placeholderPalette = []string{"#2563eb", "#7c3aed", "#db2777", "#ea580c", "#059669", "#0891b2"}

// Initials 取姓名中前两个单词的首字母；没有可用字符时返回 "?"。
func Initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

// InitialsDataURL 生成首字母头像 PNG 的 data URL。颜色由姓名决定，同名结果一致。
func InitialsDataURL(lib *fonts.Library, name string, size int) (string, error) {
	if size <= 0 {
		size = 256
	}
	initials := Initials(name)

	var sum int
	for _, r := range name {
		sum += int(r)
	}
	bg := placeholderPalette[sum%len(placeholderPalette)]

	dc := gg.NewContext(size, size)
	dc.SetHexColor(bg)
	dc.Clear()
	dc.SetColor(color.White)
	dc.SetFontFace(lib.Face("", true, float64(size)*0.4))
	dc.DrawStringAnchored(initials, float64(size)/2, float64(size)/2, 0.5, 0.35)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return "", fmt.Errorf("encode placeholder: %w", err)
	}
	return DataURL("image/png", buf.Bytes()), nil
}
