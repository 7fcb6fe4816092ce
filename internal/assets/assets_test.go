package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardDesigner/internal/badge"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/codes"
	"cardDesigner/internal/errcode"
	"cardDesigner/internal/storage"
)

type fakeObjects struct {
	keys      []string
	bucketErr bool
}

func (f *fakeObjects) StatObject(_ context.Context, key string) (storage.ObjectMeta, error) {
	if f.bucketErr {
		return storage.ObjectMeta{}, errors.New("NoSuchBucket: The specified bucket does not exist")
	}
	for _, k := range f.keys {
		if k == key {
			return storage.ObjectMeta{Key: k}, nil
		}
	}
	return storage.ObjectMeta{}, errors.New("NoSuchKey")
}

func (f *fakeObjects) ListObjects(_ context.Context, prefix string, limit int) ([]storage.ObjectMeta, error) {
	if f.bucketErr {
		return nil, errors.New("NoSuchBucket")
	}
	var out []storage.ObjectMeta
	for _, k := range f.keys {
		if strings.HasPrefix(k, prefix) && len(out) < limit {
			out = append(out, storage.ObjectMeta{Key: k})
		}
	}
	return out, nil
}

func (f *fakeObjects) GeneratePresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.test/" + key + "?sig=1", nil
}

func TestResolvePhotoChain(t *testing.T) {
	objects := &fakeObjects{keys: []string{
		"visitor-photos/alice.jpg",
		"visitor-photos/bob.png",
		"visitor-photos/VIS-009.webp",
		"visitor-photos/bobby.png",
	}}
	r := NewResolver(objects, "visitor-photos", time.Minute, nil)
	ctx := context.Background()

	cases := []struct {
		name, ref, visitorID string
		wantURL              string
		wantSource           Source
	}{
		{"absolute", "https://cdn.example.com/a.jpg", "VIS-1", "https://cdn.example.com/a.jpg", SourceDirect},
		{"data url", "data:image/png;base64,AAAA", "VIS-1", "data:image/png;base64,AAAA", SourceDirect},
		{"filename", "uploads/alice.jpg", "VIS-1", "https://minio.test/visitor-photos/alice.jpg?sig=1", SourceFile},
		{"stem", "bob.jpeg", "VIS-1", "https://minio.test/visitor-photos/bob.png?sig=1", SourceFileStem},
		{"visitor id", "", "VIS-009", "https://minio.test/visitor-photos/VIS-009.webp?sig=1", SourceVisitorID},
		{"unknown file falls through to visitor id", "nobody.jpg", "VIS-009", "https://minio.test/visitor-photos/VIS-009.webp?sig=1", SourceVisitorID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, source, err := r.ResolvePhoto(ctx, tc.ref, tc.visitorID, "Alice")
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if u != tc.wantURL || source != tc.wantSource {
				t.Fatalf("got (%q, %s), want (%q, %s)", u, source, tc.wantURL, tc.wantSource)
			}
		})
	}
}

func TestResolvePhotoPlaceholder(t *testing.T) {
	r := NewResolver(&fakeObjects{}, "visitor-photos/", 0, nil)
	u, source, err := r.ResolvePhoto(context.Background(), "missing.jpg", "VIS-404", "Grace Hopper")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source != SourcePlaceholder || !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("got (%.40q, %s)", u, source)
	}
	data, _, err := decodeDataURL(u)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("placeholder bounds = %v", img.Bounds())
	}
}

func TestResolvePhotoMissingBucketIsAnError(t *testing.T) {
	r := NewResolver(&fakeObjects{bucketErr: true}, "visitor-photos", time.Minute, nil)
	_, _, err := r.ResolvePhoto(context.Background(), "alice.jpg", "VIS-1", "Alice")
	if err == nil || !storage.IsNoSuchBucket(err) {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"Alice Zhang":       "AZ",
		"  bob  ":           "B",
		"Jean-Luc Picard X": "JP",
		"":                  "?",
		"--- ***":           "?",
	}
	for in, want := range cases {
		if got := Initials(in); got != want {
			t.Fatalf("Initials(%q) = %q, want %q", in, got, want)
		}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newAssetServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/photos/alice.png", r.URL.Path == "/v1/codes/qr":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case r.URL.Path == "/not-an-image":
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatherHidesUnloadableBarcode(t *testing.T) {
	srv := newAssetServer(t)
	g := &Gatherer{
		Prober: NewFetcher(srv.URL, 2*time.Second, 0),
		Codes:  codes.NewURLBuilder(srv.URL, ""),
	}
	layout := cardlayout.DefaultCardLayout
	layout.QRCode.Visible = true
	visitor := badge.Visitor{VisitorID: "VIS-001", Name: "Alice", Photo: srv.URL + "/photos/alice.png"}

	res, err := g.Gather(context.Background(), layout, visitor, false)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if res.Assets.BarcodeURL != "" {
		t.Fatalf("barcode should be dropped, got %q", res.Assets.BarcodeURL)
	}
	if res.Assets.PhotoURL != visitor.Photo || res.Assets.QRCodeURL == "" {
		t.Fatalf("assets = %+v", res.Assets)
	}
	if len(res.Removed) != 1 || res.Removed[0].Element != cardlayout.ElementBarcode {
		t.Fatalf("removed = %+v", res.Removed)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Code != errcode.ResourceMissing {
		t.Fatalf("warnings = %+v", res.Warnings)
	}

	card := badge.Render(layout, visitor, res.Assets, badge.Options{})
	if _, ok := card.Node(cardlayout.ElementBarcode); ok {
		t.Fatal("barcode node should be absent")
	}
	for _, id := range []cardlayout.ElementID{cardlayout.ElementPhoto, cardlayout.ElementVisitorName, cardlayout.ElementCompanyName, cardlayout.ElementQRCode} {
		if _, ok := card.Node(id); !ok {
			t.Fatalf("%s should render", id)
		}
	}
}

func TestGatherEmptiesBrokenPhotoSlot(t *testing.T) {
	srv := newAssetServer(t)
	g := &Gatherer{
		Prober: NewFetcher(srv.URL, 2*time.Second, 0),
		Codes:  codes.NewURLBuilder(srv.URL, ""),
	}
	layout := cardlayout.DefaultCardLayout
	layout.Barcode.Visible = false
	visitor := badge.Visitor{VisitorID: "VIS-001", Name: "Alice", Photo: srv.URL + "/not-an-image"}

	res, err := g.Gather(context.Background(), layout, visitor, false)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if res.Assets.PhotoURL != "" {
		t.Fatalf("photo = %q", res.Assets.PhotoURL)
	}
	card := badge.Render(layout, visitor, res.Assets, badge.Options{})
	photo, ok := card.Node(cardlayout.ElementPhoto)
	if !ok || photo.Src != "" {
		t.Fatalf("photo slot = %+v, %v", photo, ok)
	}
}

func TestGatherInlinesForPrint(t *testing.T) {
	srv := newAssetServer(t)
	g := &Gatherer{
		Prober: NewFetcher(srv.URL, 2*time.Second, 0),
		Codes:  codes.NewURLBuilder(srv.URL, ""),
	}
	layout := cardlayout.DefaultCardLayout
	layout.Barcode.Kind = cardlayout.CodeKindQR
	visitor := badge.Visitor{VisitorID: "VIS-001", Photo: "/photos/alice.png"}

	res, err := g.Gather(context.Background(), layout, visitor, true)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for name, u := range map[string]string{"photo": res.Assets.PhotoURL, "barcode": res.Assets.BarcodeURL} {
		if !strings.HasPrefix(u, "data:image/png;base64,") {
			t.Fatalf("%s not inlined: %.40q", name, u)
		}
	}
	if len(res.Removed) != 0 {
		t.Fatalf("removed = %+v", res.Removed)
	}
}

func TestGatherWithoutVisitorIDHidesCodes(t *testing.T) {
	g := &Gatherer{Codes: codes.NewURLBuilder("https://badges.example.com", "")}
	res, err := g.Gather(context.Background(), cardlayout.DefaultCardLayout, badge.Visitor{Name: "Anon"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assets.BarcodeURL != "" || len(res.Removed) != 1 || res.Removed[0].Element != cardlayout.ElementBarcode {
		t.Fatalf("result = %+v", res)
	}
}

type brokenProber struct{}

func (brokenProber) Probe(context.Context, string) error { return errors.New("connection refused") }

func (brokenProber) Inline(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

// 访客没有 ID 且照片也加载失败时，空地址的条码/二维码与照片检查同时被记录。
// 用 -race 运行可以发现对 removed 的并发写。
func TestGatherRecordsEmptyCodesAndBrokenPhotoTogether(t *testing.T) {
	g := &Gatherer{
		Prober: brokenProber{},
		Codes:  codes.NewURLBuilder("https://badges.example.com", ""),
	}
	layout := cardlayout.DefaultCardLayout
	layout.Barcode.Visible = true
	layout.QRCode.Visible = true
	visitor := badge.Visitor{Name: "Anon", Photo: "https://photos.example.com/p.png"}

	want := []cardlayout.ElementID{cardlayout.ElementPhoto, cardlayout.ElementBarcode, cardlayout.ElementQRCode}
	for i := 0; i < 200; i++ {
		res, err := g.Gather(context.Background(), layout, visitor, i%2 == 0)
		if err != nil {
			t.Fatalf("gather: %v", err)
		}
		if len(res.Removed) != len(want) {
			t.Fatalf("iteration %d: removed = %+v", i, res.Removed)
		}
		for j, id := range want {
			if res.Removed[j].Element != id {
				t.Fatalf("iteration %d: removed[%d] = %s, want %s", i, j, res.Removed[j].Element, id)
			}
		}
		if res.Assets.PhotoURL != "" {
			t.Fatalf("photo should be emptied, got %q", res.Assets.PhotoURL)
		}
		if len(res.Warnings) != 1 || len(res.Warnings[0].Elements) != len(want) {
			t.Fatalf("warnings = %+v", res.Warnings)
		}
		if keys := res.Warnings[0].MissingKeys; len(keys) != 1 || keys[0] != visitor.Photo {
			t.Fatalf("missing keys = %v", keys)
		}
	}
}

func TestFetcherRejectsUnsupportedURLs(t *testing.T) {
	f := NewFetcher("", time.Second, 0)
	for _, src := range []string{"", "ftp://example.com/a.png", "/relative/without/base", "javascript:alert(1)"} {
		if _, _, err := f.Fetch(context.Background(), src); !errors.Is(err, ErrUnsupportedURL) {
			t.Fatalf("Fetch(%q) err = %v", src, err)
		}
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	data := pngBytes(t, 2, 2)
	u := DataURL("image/png", data)
	f := NewFetcher("", time.Second, 0)
	img, err := f.Load(context.Background(), u)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if _, _, err := f.Fetch(context.Background(), "data:image/png,rawdata"); !errors.Is(err, ErrUnsupportedURL) {
		t.Fatalf("non-base64 data url err = %v", err)
	}
}
