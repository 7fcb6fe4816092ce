package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cardDesigner/internal/assets"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/codes"
	"cardDesigner/internal/database"
	"cardDesigner/internal/storage"
	"cardDesigner/internal/store"
	"cardDesigner/internal/tasks"
	"cardDesigner/internal/visitors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedVisitor(t *testing.T, db *gorm.DB, id, name, company string) {
	t.Helper()
	row := database.Visitor{VisitorID: id, Name: name, CompanyName: company}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed visitor: %v", err)
	}
}

// failingProber 让地址中包含 fail 子串的素材检查失败。
type failingProber struct {
	fail string
}

func (p failingProber) Probe(_ context.Context, src string) error {
	if p.fail != "" && strings.Contains(src, p.fail) {
		return errors.New("status 404")
	}
	return nil
}

func (p failingProber) Inline(ctx context.Context, src string) (string, error) {
	if err := p.Probe(ctx, src); err != nil {
		return "", err
	}
	return "data:image/png;base64,AAAA", nil
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

type fakePrintStorage struct {
	objects map[string][]byte
	deleted []string
}

func (s *fakePrintStorage) OpenObject(_ context.Context, key string) (io.ReadCloser, storage.ObjectMeta, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectMeta{}, errors.New("NoSuchKey: The specified key does not exist.")
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectMeta{Key: key, Size: int64(len(data))}, nil
}

func (s *fakePrintStorage) GeneratePresignedURLWithParams(_ context.Context, key string, _ time.Duration, params map[string]string) (string, error) {
	u := "https://minio.test/" + key
	if params["response-content-disposition"] != "" {
		u += "?disposition=attachment"
	}
	return u, nil
}

func (s *fakePrintStorage) DeleteObject(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.objects, key)
	return nil
}

type badgeFixture struct {
	db      *gorm.DB
	layouts *store.DBStore
	queue   *fakeQueue
	storage *fakePrintStorage
	handler *BadgeHandler
	router  *gin.Engine
}

func newBadgeFixture(t *testing.T, prober assets.Prober) *badgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	seedVisitor(t, db, "VIS-001", "Alice Zhang", "Acme")
	layouts := store.NewDBStore(db)

	f := &badgeFixture{
		db:      db,
		layouts: layouts,
		queue:   &fakeQueue{},
		storage: &fakePrintStorage{objects: map[string][]byte{}},
	}
	f.handler = &BadgeHandler{
		Service: &BadgeService{
			Layouts:  layouts,
			Visitors: visitors.NewGormDirectory(db),
			Assets: &assets.Gatherer{
				Prober: prober,
				Codes:  codes.NewURLBuilder("https://badges.test", ""),
			},
		},
		DB:      db,
		Queue:   f.queue,
		Storage: f.storage,
	}

	r := gin.New()
	r.GET("/v1/badges/:visitorId", f.handler.GetBadge)
	r.POST("/v1/badges/render", f.handler.RenderBadge)
	r.POST("/v1/badges/:visitorId/print", f.handler.EnqueuePrint)
	r.GET("/v1/badges/prints/:id", f.handler.GetPrint)
	r.GET("/v1/badges/prints/:id/download-link", f.handler.GetPrintDownloadLink)
	r.GET("/v1/badges/prints/:id/pdf", f.handler.DownloadPrint)
	r.DELETE("/v1/badges/prints/:id", f.handler.DeletePrint)
	r.GET("/internal/v1/badges/:visitorId/print-data", f.handler.GetInternalPrintData)
	f.router = r
	return f
}

func (f *badgeFixture) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetBadgeHTMLUsesStoredLayout(t *testing.T) {
	f := newBadgeFixture(t, nil)
	layout := cardlayout.DefaultCardLayout
	layout.QRCode.Visible = true
	if err := f.layouts.Put(context.Background(), layout); err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodGet, "/v1/badges/VIS-001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"Alice Zhang", "Acme", "/v1/codes/barcode/VIS-001", "/v1/codes/qr?"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q", want)
		}
	}
	if got := w.Header().Get(WarningsHeader); got != "" {
		t.Fatalf("unexpected warnings %q", got)
	}
}

func TestGetBadgeErrors(t *testing.T) {
	f := newBadgeFixture(t, nil)
	cases := []struct {
		target string
		want   int
	}{
		{"/v1/badges/VIS-404", http.StatusNotFound},
		{"/v1/badges/VIS-001?format=gif", http.StatusBadRequest},
		{"/v1/badges/VIS-001?mode=fullscreen", http.StatusBadRequest},
		{"/v1/badges/VIS-001?format=pdf", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if w := f.do(http.MethodGet, tc.target, nil); w.Code != tc.want {
			t.Fatalf("%s: expected %d got %d body=%s", tc.target, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestGetBadgeReportsHiddenAssets(t *testing.T) {
	f := newBadgeFixture(t, failingProber{fail: "/barcode/"})

	w := f.do(http.MethodGet, "/v1/badges/VIS-001?format=json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get(WarningsHeader); got != string(cardlayout.ElementBarcode) {
		t.Fatalf("warnings header = %q", got)
	}

	var card struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	for _, n := range card.Nodes {
		if n.ID == string(cardlayout.ElementBarcode) {
			t.Fatal("barcode should not be rendered")
		}
	}
	if len(card.Nodes) != 3 {
		t.Fatalf("expected photo and both texts, got %+v", card.Nodes)
	}
}

func TestGetBadgePDFUsesPrintSize(t *testing.T) {
	f := newBadgeFixture(t, failingProber{})
	var gotSize cardlayout.PrintSize
	var gotHTML string
	f.handler.PDF = func(_ context.Context, html string, size cardlayout.PrintSize) ([]byte, error) {
		gotHTML, gotSize = html, size
		return []byte("%PDF-1.7"), nil
	}

	w := f.do(http.MethodGet, "/v1/badges/VIS-001?format=pdf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/pdf" || w.Body.String() != "%PDF-1.7" {
		t.Fatalf("unexpected response %q %q", w.Header().Get("Content-Type"), w.Body.String())
	}
	if gotSize != cardlayout.DefaultCardLayout.Print {
		t.Fatalf("print size = %+v", gotSize)
	}
	if !strings.Contains(gotHTML, "data:image/png;base64,") {
		t.Fatal("pdf html should carry inlined assets")
	}
}

func TestRenderBadgeWithInlineLayout(t *testing.T) {
	f := newBadgeFixture(t, nil)
	body := `{"layout":{"imageShape":"square","showQRCode":true,"imageLeftMargin":5000},
		"visitor":{"visitorId":"V-9","name":"Bob"},"format":"json","mode":"editor"}`

	w := f.do(http.MethodPost, "/v1/badges/render", strings.NewReader(body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	var card struct {
		Nodes []struct {
			ID      string `json:"id"`
			Handles bool   `json:"handles"`
			Rect    struct {
				Left  float64 `json:"left"`
				Width float64 `json:"width"`
			} `json:"rect"`
			Style struct {
				BorderRadius string `json:"borderRadius"`
			} `json:"style"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	if len(card.Nodes) != 5 {
		t.Fatalf("expected all five elements, got %d", len(card.Nodes))
	}
	photo := card.Nodes[0]
	if photo.ID != "photo" || !photo.Handles || photo.Style.BorderRadius != "0" {
		t.Fatalf("photo node = %+v", photo)
	}
	if photo.Rect.Left+photo.Rect.Width > cardlayout.DefaultCardLayout.Canvas.WidthPx {
		t.Fatalf("photo should be clamped into the canvas: %+v", photo.Rect)
	}
}

func TestRenderBadgeRejectsBadLayout(t *testing.T) {
	f := newBadgeFixture(t, nil)
	w := f.do(http.MethodPost, "/v1/badges/render", strings.NewReader(`{"layout":[1,2],"visitor":{}}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestEnqueuePrint(t *testing.T) {
	f := newBadgeFixture(t, nil)
	f.handler.Rate = &fakeCounter{}
	f.handler.PrintLimit = 1

	w := f.do(http.MethodPost, "/v1/badges/VIS-001/print", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		PrintID uint   `json:"print_id"`
		TaskID  string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PrintID == 0 || resp.TaskID != "task-1" {
		t.Fatalf("response = %+v", resp)
	}

	if len(f.queue.tasks) != 1 || f.queue.tasks[0].Type() != tasks.TypeBadgePrint {
		t.Fatalf("queued = %+v", f.queue.tasks)
	}
	var payload tasks.BadgePrintPayload
	if err := json.Unmarshal(f.queue.tasks[0].Payload(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PrintID != resp.PrintID || payload.VisitorID != "VIS-001" {
		t.Fatalf("payload = %+v", payload)
	}

	var record database.BadgePrint
	if err := f.db.First(&record, resp.PrintID).Error; err != nil {
		t.Fatal(err)
	}
	if record.Status != database.PrintStatusPending {
		t.Fatalf("status = %q", record.Status)
	}

	if w := f.do(http.MethodPost, "/v1/badges/VIS-001/print", nil); w.Code != http.StatusTooManyRequests ||
		!strings.Contains(w.Body.String(), `"code":4029`) {
		t.Fatalf("expected 429 with code got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/v1/badges/VIS-404/print", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", w.Code)
	}
}

func TestEnqueuePrintMarksFailedWhenQueueIsDown(t *testing.T) {
	f := newBadgeFixture(t, nil)
	f.queue.err = errors.New("redis down")

	if w := f.do(http.MethodPost, "/v1/badges/VIS-001/print", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}
	var record database.BadgePrint
	if err := f.db.Where("visitor_id = ?", "VIS-001").First(&record).Error; err != nil {
		t.Fatal(err)
	}
	if record.Status != database.PrintStatusFailed {
		t.Fatalf("status = %q", record.Status)
	}
}

func TestPrintDownloadAndDelete(t *testing.T) {
	f := newBadgeFixture(t, nil)
	record := database.BadgePrint{VisitorID: "VIS-001", Status: database.PrintStatusPending}
	if err := f.db.Create(&record).Error; err != nil {
		t.Fatal(err)
	}
	base := "/v1/badges/prints/" + jsonNumber(record.ID)

	if w := f.do(http.MethodGet, base+"/download-link", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", w.Code)
	}

	pdfKey := "printed-badges/VIS-001/a.pdf"
	previewKey := "printed-badges/VIS-001/a.png"
	f.storage.objects[pdfKey] = []byte("%PDF")
	f.storage.objects[previewKey] = []byte("png")
	if err := f.db.Model(&record).Updates(map[string]any{
		"status":       database.PrintStatusCompleted,
		"pdf_key":      pdfKey,
		"preview_key":  previewKey,
		"missing_keys": []byte(`["https://cdn.test/missing.png"]`),
	}).Error; err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodGet, base, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "missing.png") {
		t.Fatalf("get print: %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, base+"/download-link", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "disposition=attachment") || !strings.Contains(w.Body.String(), "preview_url") {
		t.Fatalf("download link: %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, base+"/pdf", nil)
	if w.Code != http.StatusOK || w.Body.String() != "%PDF" {
		t.Fatalf("download: %d %q", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodDelete, base, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", w.Code)
	}
	if len(f.storage.deleted) != 2 {
		t.Fatalf("deleted = %v", f.storage.deleted)
	}
	if w := f.do(http.MethodGet, base, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/badges/prints/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestGetInternalPrintData(t *testing.T) {
	f := newBadgeFixture(t, failingProber{fail: "/barcode/"})

	w := f.do(http.MethodGet, "/internal/v1/badges/VIS-001/print-data", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	var data PrintData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if data.VisitorID != "VIS-001" || data.PrintSize() != cardlayout.DefaultCardLayout.Print {
		t.Fatalf("print data = %+v", data)
	}
	if !strings.Contains(data.HTML, "Alice Zhang") || strings.Contains(data.HTML, "/v1/codes/barcode/") {
		t.Fatal("print html should include the name and drop the broken barcode")
	}
	if len(data.Warnings) != 1 || len(data.Warnings[0].Elements) != 1 || data.Warnings[0].Elements[0] != cardlayout.ElementBarcode {
		t.Fatalf("warnings = %+v", data.Warnings)
	}
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
