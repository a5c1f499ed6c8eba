// Package render holds the drawing layer: writers that repaint the
// framebuffer before every refresh.
package render

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"inkyepd/internal/agenda"
	"inkyepd/internal/capture"
	"inkyepd/internal/config"
	"inkyepd/internal/convert"
	"inkyepd/internal/epd"
)

const (
	titleBand  = 18
	lineHeight = 15
	margin     = 3
)

// TextWriter draws a red title band, free text lines and a timestamp.
type TextWriter struct {
	Title string
	Lines []string
	Now   func() time.Time
}

func (w *TextWriter) Draw(fb *epd.FrameBuffer) error {
	b := fb.Bounds()
	fb.Fill(epd.ColorOff)

	for y := 0; y < titleBand && y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			fb.SetPixel(x, y, epd.ColorRed)
		}
	}

	d := &font.Drawer{
		Dst:  fb,
		Src:  image.NewUniform(epd.ColorOff),
		Face: basicfont.Face7x13,
	}
	d.Dot = fixed.P(margin, titleBand-5)
	d.DrawString(w.Title)

	d.Src = image.NewUniform(epd.ColorOn)
	y := titleBand + lineHeight
	for _, line := range w.Lines {
		if y > b.Dy()-lineHeight {
			break
		}
		d.Dot = fixed.P(margin, y)
		d.DrawString(line)
		y += lineHeight
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	d.Dot = fixed.P(margin, b.Dy()-margin)
	d.DrawString(now().Format("2006-01-02 15:04"))
	return nil
}

// ImageWriter draws a PNG or JPEG file, re-read on every refresh so the file
// can be replaced between updates.
type ImageWriter struct {
	Path string
}

func (w *ImageWriter) Draw(fb *epd.FrameBuffer) error {
	f, err := os.Open(w.Path)
	if err != nil {
		return fmt.Errorf("render: open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("render: decode %s: %w", w.Path, err)
	}
	fb.Fill(epd.ColorOff)
	convert.DrawImage(fb, img)
	return nil
}

// PageWriter screenshots a web page at panel resolution and draws it.
type PageWriter struct {
	Opts capture.CaptureOptions
}

func (w *PageWriter) Draw(fb *epd.FrameBuffer) error {
	img, err := capture.CaptureImage(context.Background(), w.Opts)
	if err != nil {
		return err
	}
	fb.Fill(epd.ColorOff)
	convert.DrawImage(fb, img)
	return nil
}

// AgendaWriter lists the next events of an ICS feed under a red title band.
type AgendaWriter struct {
	Title   string
	URL     string
	Horizon time.Duration
	Now     func() time.Time

	fetcher *agenda.Fetcher
}

func (w *AgendaWriter) Draw(fb *epd.FrameBuffer) error {
	if w.fetcher == nil {
		w.fetcher = agenda.NewFetcher(0)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	body, err := w.fetcher.Fetch(ctx, w.URL)
	if err != nil {
		return err
	}
	events, err := agenda.Parse(body)
	if err != nil {
		return err
	}

	t := now()
	maxLines := (fb.Bounds().Dy() - titleBand - lineHeight) / lineHeight
	var lines []string
	for _, o := range agenda.Upcoming(events, t, w.Horizon, maxLines) {
		lines = append(lines, agenda.Line(o, t))
	}
	if len(lines) == 0 {
		lines = []string{"nothing planned"}
	}

	tw := &TextWriter{Title: w.Title, Lines: lines, Now: now}
	return tw.Draw(fb)
}

// New builds the writer selected in the config.
func New(cfg config.WriterConfig, g epd.Geometry) (epd.Writer, error) {
	switch cfg.Kind {
	case "", "text":
		var lines []string
		if cfg.Text != "" {
			lines = strings.Split(cfg.Text, "\n")
		}
		return &TextWriter{Title: cfg.Title, Lines: lines}, nil
	case "image":
		if cfg.ImagePath == "" {
			return nil, fmt.Errorf("render: image writer needs image_path")
		}
		return &ImageWriter{Path: cfg.ImagePath}, nil
	case "page":
		if cfg.PageURL == "" {
			return nil, fmt.Errorf("render: page writer needs page_url")
		}
		return &PageWriter{Opts: capture.CaptureOptions{
			URL:           cfg.PageURL,
			Width:         g.VisibleWidth,
			Height:        g.Height,
			ReadySelector: cfg.ReadySelector,
			Timeout:       time.Duration(cfg.CaptureTimeoutMs) * time.Millisecond,
		}}, nil
	case "agenda":
		if cfg.CalendarURL == "" {
			return nil, fmt.Errorf("render: agenda writer needs calendar_url")
		}
		days := cfg.AgendaDays
		if days <= 0 {
			days = 7
		}
		return &AgendaWriter{
			Title:   cfg.Title,
			URL:     cfg.CalendarURL,
			Horizon: time.Duration(days) * 24 * time.Hour,
		}, nil
	default:
		return nil, fmt.Errorf("render: unknown writer kind %q", cfg.Kind)
	}
}
