package placeholder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls int64
	err   error
	last  []byte
}

func (f *fakeUploader) Upload(_ context.Context, png []byte) (string, error) {
	n := atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.last = png
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("https://img.example/%d.png", n), nil
}

func openTestCache(t *testing.T, path string, up Uploader) *Cache {
	t.Helper()
	c, err := Open(path, up, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestSecondCallIsCacheHit(t *testing.T) {
	up := &fakeUploader{}
	c := openTestCache(t, filepath.Join(t.TempDir(), "res.json"), up)

	first, err := c.GetOrCreateResolutionURL(context.Background(), 1920, 1080)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.GetOrCreateResolutionURL(context.Background(), 1920, 1080)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first != second {
		t.Fatalf("expected identical URL, got %q vs %q", first, second)
	}
	if got := atomic.LoadInt64(&up.calls); got != 1 {
		t.Fatalf("expected at most one upload, got %d", got)
	}
}

func TestValidationErrorBeforeIO(t *testing.T) {
	up := &fakeUploader{}
	c := openTestCache(t, filepath.Join(t.TempDir(), "res.json"), up)

	for _, dims := range [][2]int{{-1, 100}, {0, 100}, {100, 0}, {100, -5}} {
		_, err := c.GetOrCreateResolutionURL(context.Background(), dims[0], dims[1])
		if !errors.Is(err, ErrInvalidDimensions) {
			t.Fatalf("%v: expected ErrInvalidDimensions, got %v", dims, err)
		}
	}
	if atomic.LoadInt64(&up.calls) != 0 {
		t.Fatal("validation failures must not reach the uploader")
	}
}

func TestUploadErrorPropagates(t *testing.T) {
	up := &fakeUploader{err: errors.New("host down")}
	c := openTestCache(t, filepath.Join(t.TempDir(), "res.json"), up)

	if _, err := c.GetOrCreateResolutionURL(context.Background(), 64, 64); err == nil {
		t.Fatal("expected upload error to propagate")
	}
	if c.Len() != 0 {
		t.Fatal("failed uploads must not be cached")
	}

	// A later call retries the upload.
	up.err = nil
	url, err := c.GetOrCreateResolutionURL(context.Background(), 64, 64)
	if err != nil || url == "" {
		t.Fatalf("retry after failure: %q, %v", url, err)
	}
}

func TestUploadedImageIsTransparentPNGOfExactSize(t *testing.T) {
	up := &fakeUploader{}
	c := openTestCache(t, filepath.Join(t.TempDir(), "res.json"), up)

	if _, err := c.GetOrCreateResolutionURL(context.Background(), 320, 200); err != nil {
		t.Fatal(err)
	}

	img, err := png.Decode(bytes.NewReader(up.last))
	if err != nil {
		t.Fatalf("uploaded payload is not PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 200 {
		t.Fatalf("unexpected dimensions: %dx%d", b.Dx(), b.Dy())
	}
	if _, _, _, a := img.At(10, 10).RGBA(); a != 0 {
		t.Fatalf("expected transparent pixels, alpha=%d", a)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "res.json")
	up := &fakeUploader{}

	c := openTestCache(t, path, up)
	url, err := c.GetOrCreateResolutionURL(context.Background(), 800, 600)
	if err != nil {
		t.Fatal(err)
	}

	reopened := openTestCache(t, path, up)
	got, err := reopened.GetOrCreateResolutionURL(context.Background(), 800, 600)
	if err != nil {
		t.Fatal(err)
	}
	if got != url {
		t.Fatalf("expected persisted URL %q, got %q", url, got)
	}
	if atomic.LoadInt64(&up.calls) != 1 {
		t.Fatalf("reopen must not re-upload, calls=%d", up.calls)
	}
}

func TestCorruptFileIsBackedUpAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "res.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{}
	c := openTestCache(t, path, up)

	url, err := c.GetOrCreateResolutionURL(context.Background(), 100, 100)
	if err != nil || url == "" {
		t.Fatalf("expected valid URL after reset, got %q, %v", url, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	foundBackup := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "res.json.corrupt-") {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Fatalf("expected a timestamped backup of the corrupt file, dir: %v", entries)
	}
}

func TestConcurrentColdRequestsShareOneUpload(t *testing.T) {
	up := &fakeUploader{}
	c := openTestCache(t, filepath.Join(t.TempDir(), "res.json"), up)

	const callers = 10
	urls := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := c.GetOrCreateResolutionURL(context.Background(), 512, 512)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			urls[i] = u
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&up.calls); got != 1 {
		t.Fatalf("expected one shared upload, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if urls[i] != urls[0] {
			t.Fatalf("caller %d saw %q, caller 0 saw %q", i, urls[i], urls[0])
		}
	}
}

func TestHTTPUploader(t *testing.T) {
	img, err := transparentPNG(10, 10)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("key") != "host-key" {
			t.Errorf("missing api key in form")
		}
		payload, err := base64.StdEncoding.DecodeString(r.PostFormValue("image"))
		if err != nil {
			t.Errorf("image field not base64: %v", err)
		}
		if _, err := png.Decode(bytes.NewReader(payload)); err != nil {
			t.Errorf("image field not a PNG: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"url": "https://img.example/p.png"},
		})
	}))
	defer srv.Close()

	up := NewHTTPUploader(UploaderConfig{BaseURL: srv.URL, APIKey: "host-key"}, zaptest.NewLogger(t))
	url, err := up.Upload(context.Background(), img)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://img.example/p.png" {
		t.Fatalf("unexpected url: %q", url)
	}
}

func TestHTTPUploaderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"message": "invalid key", "status_code": 400},
		})
	}))
	defer srv.Close()

	up := NewHTTPUploader(UploaderConfig{BaseURL: srv.URL, APIKey: "bad"}, zaptest.NewLogger(t))
	if _, err := up.Upload(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected rejection error")
	}
}
