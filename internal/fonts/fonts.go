package fonts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Library 按字体族名提供 font.Face。
// 配置了目录时优先加载 <dir>/<family>.ttf，找不到时回落到内置 Go 字体。
type Library struct {
	dir string

	mu     sync.Mutex
	parsed map[string]*truetype.Font
}

func NewLibrary(dir string) *Library {
	return &Library{
		dir:    strings.TrimSpace(dir),
		parsed: make(map[string]*truetype.Font),
	}
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
)

// Default 返回只使用内置字体的共享 Library。
func Default() *Library {
	defaultOnce.Do(func() { defaultLib = NewLibrary("") })
	return defaultLib
}

// Face 返回指定字体族、粗细与像素大小的字形，永远不会返回 nil。
// font.Face 不是并发安全的，每次调用都会新建。
func (l *Library) Face(family string, bold bool, size float64) font.Face {
	if size <= 0 {
		size = 12
	}
	family = strings.ToLower(strings.TrimSpace(family))

	l.mu.Lock()
	f := l.lookup(family, bold)
	l.mu.Unlock()

	if f != nil {
		return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
	}
	return builtinFace(bold, size)
}

func (l *Library) lookup(family string, bold bool) *truetype.Font {
	if l.dir == "" || family == "" {
		return nil
	}
	name := strings.ReplaceAll(family, " ", "")
	if bold {
		name += "-bold"
	}
	if f, ok := l.parsed[name]; ok {
		return f
	}

	f, err := loadFont(filepath.Join(l.dir, name+".ttf"))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Default().Warn("load font failed", slog.String("family", family), slog.Any("error", err))
		}
		f = nil
	}
	// 失败也缓存，避免每次渲染都访问磁盘。
	l.parsed[name] = f
	return f
}

func loadFont(path string) (*truetype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

var (
	builtinOnce    sync.Once
	regular, boldF *opentype.Font
)

func builtinFace(bold bool, size float64) font.Face {
	builtinOnce.Do(func() {
		// 内置 TTF 解析失败属于编译期问题。
		var err error
		if regular, err = opentype.Parse(goregular.TTF); err != nil {
			panic(err)
		}
		if boldF, err = opentype.Parse(gobold.TTF); err != nil {
			panic(err)
		}
	})
	f := regular
	if bold {
		f = boldF
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		panic(fmt.Sprintf("go font face (size=%.1f): %v", size, err))
	}
	return face
}
