// Package runner owns the display driver on a single goroutine and feeds it
// refresh requests from the cron schedule and the HTTP API.
package runner

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"inkyepd/internal/battery"
	"inkyepd/internal/convert"
	"inkyepd/internal/epd"
	appLog "inkyepd/internal/log"
	"inkyepd/internal/model"
)

// Display is the part of epd.Driver the runner uses.
type Display interface {
	Update() error
	Status() model.Status
	FrameBuffer() *epd.FrameBuffer
}

// Options configure a Runner.
type Options struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	// KeepAlive is called every KeepAliveEvery, both between refreshes and
	// while one is drawing or waiting on the panel.
	KeepAlive      func()
	KeepAliveEvery time.Duration
	// Battery, if set, is read after every refresh.
	Battery battery.Reader
}

// Runner serializes all access to the display.
type Runner struct {
	d    Display
	opts Options

	trigger chan struct{}

	mu      sync.RWMutex
	status  model.Status
	preview *image.NRGBA
}

func New(d Display, opts Options) *Runner {
	r := &Runner{
		d:       d,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
	r.status = d.Status()
	return r
}

// Trigger requests a refresh. Requests arriving while one is already queued
// are merged; it reports whether a new request was queued.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns the snapshot taken after the last refresh.
func (r *Runner) Status() model.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Preview returns the image pushed by the last refresh, or nil before the
// first one.
func (r *Runner) Preview() *image.NRGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preview
}

// Refresh runs one update on the calling goroutine. Only use it when Run is
// not running.
func (r *Runner) Refresh() error {
	start := time.Now()
	stop := r.keepAliveWhile()
	err := r.d.Update()
	stop()

	st := r.d.Status()
	st.Battery = r.readBattery()
	var preview *image.NRGBA
	if err == nil {
		preview = convert.Preview(r.d.FrameBuffer())
	}

	r.mu.Lock()
	r.status = st
	if preview != nil {
		r.preview = preview
	}
	r.mu.Unlock()

	if err != nil {
		appLog.Error("display update failed", err, "warning", st.Warning, "failures", st.Failures)
		return err
	}
	appLog.Info("display updated",
		"mode", st.LastMode,
		"at_update", st.AtUpdate,
		"next", st.NextMode,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// keepAliveWhile feeds KeepAlive from a helper goroutine until the returned
// func is called. Writers can block on a page capture or a feed download
// for longer than the watchdog interval.
func (r *Runner) keepAliveWhile() (stop func()) {
	if r.opts.KeepAlive == nil || r.opts.KeepAliveEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(r.opts.KeepAliveEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				r.opts.KeepAlive()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (r *Runner) readBattery() *model.Battery {
	if r.opts.Battery == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := r.opts.Battery.Read(ctx)
	if err != nil {
		appLog.Warn("battery read failed", "err", err)
		return nil
	}
	return &b
}

// Run refreshes once, then on every cron tick and every Trigger, until ctx
// is canceled.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.opts.Schedule, func() {
		if !r.Trigger() {
			appLog.Debug("refresh already pending; cron tick merged")
		}
	}); err != nil {
		return fmt.Errorf("runner: invalid refresh schedule %q: %w", r.opts.Schedule, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	var tick <-chan time.Time
	if r.opts.KeepAlive != nil && r.opts.KeepAliveEvery > 0 {
		t := time.NewTicker(r.opts.KeepAliveEvery)
		defer t.Stop()
		tick = t.C
	}

	appLog.Info("refresh loop started", "schedule", r.opts.Schedule)
	_ = r.Refresh()

	for {
		select {
		case <-ctx.Done():
			appLog.Info("refresh loop stopped")
			return nil
		case <-r.trigger:
			_ = r.Refresh()
		case <-tick:
			r.opts.KeepAlive()
		}
	}
}
