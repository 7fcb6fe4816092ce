package api

import (
	"strings"
	"unicode/utf8"
)

// BackgroundPrefix 是背景图在 Bucket 中的目录。
const BackgroundPrefix = "backgrounds/"

var backgroundExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

func isValidBackgroundName(name string) bool {
	if name == "" || !utf8.ValidString(name) || len(name) > 128 {
		return false
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return false
	}
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
