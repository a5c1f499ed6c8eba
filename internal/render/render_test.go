package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inkyepd/internal/config"
	"inkyepd/internal/epd"
)

func newFB(t *testing.T) *epd.FrameBuffer {
	t.Helper()
	fb, err := epd.NewFrameBuffer(epd.InkyPHAT213BWR.Geometry)
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func count(fb *epd.FrameBuffer, y0, y1 int, code epd.PlaneCode) int {
	n := 0
	for y := y0; y < y1; y++ {
		for x := 0; x < fb.Bounds().Dx(); x++ {
			if fb.Code(x, y) == code {
				n++
			}
		}
	}
	return n
}

func TestTextWriter(t *testing.T) {
	fb := newFB(t)
	fb.Fill(epd.ColorOn)
	w := &TextWriter{
		Title: "Status",
		Lines: []string{"hello", "world"},
		Now:   func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) },
	}
	if err := w.Draw(fb); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	if got := fb.Code(0, 0); got != epd.CodeRed {
		t.Errorf("title band = %v, want red", got)
	}
	if count(fb, 0, titleBand, epd.CodeWhite) == 0 {
		t.Error("title text missing from the band")
	}
	if count(fb, 0, titleBand, epd.CodeBlack) != 0 {
		t.Error("black ink inside the title band")
	}
	if count(fb, titleBand, titleBand+2*lineHeight, epd.CodeBlack) == 0 {
		t.Error("text lines not drawn")
	}
	if count(fb, 250-lineHeight, 250, epd.CodeBlack) == 0 {
		t.Error("timestamp not drawn")
	}
	if count(fb, titleBand, 250, epd.CodeRed) != 0 {
		t.Error("red ink below the title band")
	}
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImageWriter(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 122, 250))
	for y := 0; y < 250; y++ {
		for x := 0; x < 122; x++ {
			c := color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
			switch {
			case x < 10:
				c = color.NRGBA{A: 0xFF}
			case x >= 100:
				c = color.NRGBA{R: 0xE0, G: 0x10, B: 0x10, A: 0xFF}
			}
			src.SetNRGBA(x, y, c)
		}
	}
	w := &ImageWriter{Path: writePNG(t, src)}

	fb := newFB(t)
	if err := w.Draw(fb); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	for _, tt := range []struct {
		x    int
		want epd.PlaneCode
	}{{0, epd.CodeBlack}, {50, epd.CodeWhite}, {121, epd.CodeRed}} {
		if got := fb.Code(tt.x, 100); got != tt.want {
			t.Errorf("Code(%d,100) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestImageWriterMissingFile(t *testing.T) {
	w := &ImageWriter{Path: filepath.Join(t.TempDir(), "nope.png")}
	if err := w.Draw(newFB(t)); err == nil {
		t.Error("Draw() succeeded on a missing file")
	}
}

func TestNew(t *testing.T) {
	g := epd.InkyPHAT213BWR.Geometry

	w, err := New(config.WriterConfig{Kind: "text", Title: "t", Text: "a\nb"}, g)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if tw, ok := w.(*TextWriter); !ok || len(tw.Lines) != 2 {
		t.Errorf("text writer = %#v", w)
	}

	w, err = New(config.WriterConfig{Kind: "page", PageURL: "http://127.0.0.1/", CaptureTimeoutMs: 5000}, g)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	pw := w.(*PageWriter)
	if pw.Opts.Width != 122 || pw.Opts.Height != 250 || pw.Opts.Timeout != 5*time.Second {
		t.Errorf("page options = %+v", pw.Opts)
	}

	w, err = New(config.WriterConfig{Kind: "agenda", CalendarURL: "http://127.0.0.1/cal.ics"}, g)
	if err != nil {
		t.Fatalf("agenda: %v", err)
	}
	if aw := w.(*AgendaWriter); aw.Horizon != 7*24*time.Hour {
		t.Errorf("agenda horizon = %v", aw.Horizon)
	}

	for _, cfg := range []config.WriterConfig{
		{Kind: "agenda"},
		{Kind: "image"},
		{Kind: "page"},
		{Kind: "video"},
	} {
		if _, err := New(cfg, g); err == nil {
			t.Errorf("New(%+v) succeeded", cfg)
		}
	}
}

func TestAgendaWriter(t *testing.T) {
	feed := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//inkyepd//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240109T120000Z\r\nDTEND:20240109T130000Z\r\nSUMMARY:Lunch\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	w := &AgendaWriter{
		Title:   "Today",
		URL:     srv.URL,
		Horizon: 24 * time.Hour,
		Now:     func() time.Time { return time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC) },
	}
	fb := newFB(t)
	if err := w.Draw(fb); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if fb.Code(0, 0) != epd.CodeRed {
		t.Error("title band missing")
	}
	if count(fb, titleBand, titleBand+lineHeight+2, epd.CodeBlack) == 0 {
		t.Error("event line not drawn")
	}
}

func TestAgendaWriterFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	w := &AgendaWriter{URL: srv.URL, Horizon: time.Hour}
	if err := w.Draw(newFB(t)); err == nil {
		t.Error("Draw() succeeded without a feed")
	}
}
