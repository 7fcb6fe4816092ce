package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"

	"cardDesigner/internal/storage"
)

type fakeStorage struct {
	uploaded map[string][]byte
	types    map[string]string
	deleted  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		uploaded: map[string][]byte{},
		types:    map[string]string{},
	}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	s.types[objectName] = contentType
	return &minio.UploadInfo{}, nil
}

func (s *fakeStorage) ListObjects(_ context.Context, prefix string, limit int) ([]storage.ObjectMeta, error) {
	out := []storage.ObjectMeta{}
	for key, data := range s.uploaded {
		if strings.HasPrefix(key, prefix) && len(out) < limit {
			out = append(out, storage.ObjectMeta{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	return out, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey + "?sig=1", nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func newMultipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func newAssetRouter(h *AssetHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/assets/backgrounds", h.UploadBackground)
	r.GET("/v1/assets/backgrounds", h.ListBackgrounds)
	r.GET("/v1/assets/backgrounds/:name", h.ServeBackground)
	r.DELETE("/v1/assets/backgrounds/:name", h.DeleteBackground)
	return r
}

func upload(t *testing.T, r *gin.Engine, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := newMultipartUpload(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/backgrounds", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadBackground(t *testing.T) {
	store := newFakeStorage()
	h := NewAssetHandler(store, "", "https://badges.test/")
	r := newAssetRouter(h)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	w := upload(t, r, "bg.png", png)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		ObjectKey string `json:"objectKey"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ObjectKey, BackgroundPrefix) || !strings.HasSuffix(resp.ObjectKey, ".png") {
		t.Fatalf("object key = %q", resp.ObjectKey)
	}
	name := strings.TrimPrefix(resp.ObjectKey, BackgroundPrefix)
	if resp.URL != "https://badges.test/v1/assets/backgrounds/"+name {
		t.Fatalf("url = %q", resp.URL)
	}
	if store.types[resp.ObjectKey] != "image/png" {
		t.Fatalf("content type = %q", store.types[resp.ObjectKey])
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/assets/backgrounds/"+name, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), resp.ObjectKey) {
		t.Fatalf("serve: %d %q", rec.Code, rec.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/assets/backgrounds", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), resp.ObjectKey) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/assets/backgrounds/"+name, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || len(store.deleted) != 1 {
		t.Fatalf("delete: %d %v", rec.Code, store.deleted)
	}
}

func TestUploadBackgroundRejectsInvalidFiles(t *testing.T) {
	h := NewAssetHandler(newFakeStorage(), "", "https://badges.test")
	h.MaxBytes = 32
	r := newAssetRouter(h)

	if w := upload(t, r, "notes.png", []byte("just some text")); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for text got %d", w.Code)
	}
	if w := upload(t, r, "big.png", bytes.Repeat([]byte{0x89}, 64)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestBackgroundNameValidation(t *testing.T) {
	cases := map[string]bool{
		"3f2a.png":       true,
		"3f2a.JPG":       true,
		"photo.webp":     true,
		"":               false,
		"../secret.png":  false,
		"a/b.png":        false,
		"a\\b.png":       false,
		"background.gif": false,
	}
	for name, want := range cases {
		if got := isValidBackgroundName(name); got != want {
			t.Fatalf("isValidBackgroundName(%q) = %v, want %v", name, got, want)
		}
	}
}
