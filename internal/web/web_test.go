package web

import (
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkyepd/internal/config"
	"inkyepd/internal/model"
)

type fakeBackend struct {
	status   model.Status
	preview  *image.NRGBA
	queued   bool
	triggers int
}

func (b *fakeBackend) Status() model.Status  { return b.status }
func (b *fakeBackend) Preview() *image.NRGBA { return b.preview }
func (b *fakeBackend) Trigger() bool         { b.triggers++; return b.queued }

func newTestServer(b *fakeBackend, auth *config.BasicAuthConfig) http.Handler {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	return NewServer(cfg, b).Handler()
}

func do(h http.Handler, method, path string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(newTestServer(&fakeBackend{}, nil), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	b := &fakeBackend{status: model.Status{Model: "2.13in-bwr", State: "idle", AtUpdate: 3, Warning: true}}
	h := newTestServer(b, nil)

	rec := do(h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d", rec.Code)
	}
	var got model.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Model != "2.13in-bwr" || got.AtUpdate != 3 || !got.Warning {
		t.Errorf("status = %+v", got)
	}

	if rec := do(h, http.MethodPost, "/api/status", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/status = %d", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	b := &fakeBackend{queued: true}
	h := newTestServer(b, nil)

	if rec := do(h, http.MethodGet, "/api/refresh", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d", rec.Code)
	}
	if b.triggers != 0 {
		t.Fatal("GET triggered a refresh")
	}

	rec := do(h, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/refresh = %d", rec.Code)
	}
	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Queued || b.triggers != 1 {
		t.Errorf("queued=%v triggers=%d", resp.Queued, b.triggers)
	}
}

func TestPreview(t *testing.T) {
	b := &fakeBackend{}
	h := newTestServer(b, nil)

	if rec := do(h, http.MethodGet, "/preview.png", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /preview.png before refresh = %d", rec.Code)
	}

	b.preview = image.NewNRGBA(image.Rect(0, 0, 122, 250))
	rec := do(h, http.MethodGet, "/preview.png", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("GET /preview.png = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 122 || img.Bounds().Dy() != 250 {
		t.Errorf("preview size = %v", img.Bounds())
	}
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(&fakeBackend{}, &config.BasicAuthConfig{Username: "ink", Password: "secret"})

	if rec := do(h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health behind auth = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /api/status = %d", rec.Code)
	}
	wrong := func(r *http.Request) { r.SetBasicAuth("ink", "guess") }
	if rec := do(h, http.MethodGet, "/api/status", wrong); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", rec.Code)
	}
	right := func(r *http.Request) { r.SetBasicAuth("ink", "secret") }
	if rec := do(h, http.MethodGet, "/api/status", right); rec.Code != http.StatusOK {
		t.Errorf("authorized /api/status = %d", rec.Code)
	}
}

func TestBasicAuthDisabledWithEmptyPassword(t *testing.T) {
	h := newTestServer(&fakeBackend{}, &config.BasicAuthConfig{Username: "ink"})
	if rec := do(h, http.MethodGet, "/api/status", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /api/status = %d, want auth disabled", rec.Code)
	}
}
