package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultTimeoutSec bounds a capture when no timeout is given.
const DefaultTimeoutSec = 30

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/panel".
	URL string

	// Width and Height are the viewport dimensions in pixels, normally the
	// visible panel size.
	Width  int
	Height int

	// ReadySelector, if set, is waited for before the screenshot. Pages can
	// expose e.g. `[data-ready="true"]` once they finished rendering.
	ReadySelector string

	// Timeout bounds the entire capture operation. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration
}

// CapturePNG launches a headless Chromium instance via chromedp, navigates to
// opts.URL and returns a PNG screenshot of the viewport.
func CapturePNG(parentCtx context.Context, opts CaptureOptions) ([]byte, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var buf []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
	}
	if opts.ReadySelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(opts.ReadySelector, chromedp.ByQuery))
	}
	tasks = append(tasks,
		// Small extra delay to allow final paints.
		chromedp.Sleep(500*time.Millisecond),
		chromedp.CaptureScreenshot(&buf),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return buf, nil
}

// CaptureImage is CapturePNG followed by PNG decoding.
func CaptureImage(ctx context.Context, opts CaptureOptions) (image.Image, error) {
	buf, err := CapturePNG(ctx, opts)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
