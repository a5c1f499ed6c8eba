package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/physic"

	"inkyepd/internal/battery"
	"inkyepd/internal/config"
	"inkyepd/internal/convert"
	"inkyepd/internal/epd"
	appLog "inkyepd/internal/log"
	"inkyepd/internal/render"
	"inkyepd/internal/runner"
	"inkyepd/internal/watchdog"
	"inkyepd/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	clear      bool
	renderOnly bool
	dump       string
}

func main() {
	appLog.Info("inkyepd starting", "version", "0.1.0")

	flags := parseFlags()
	if err := flags.validate(); err != nil {
		appLog.Error("invalid flags", err)
		os.Exit(2)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"model", conf.Panel.Model,
		"full_update_every", conf.Panel.FullUpdateEvery,
		"deep_sleep_between_updates", conf.Panel.DeepSleepBetweenUpdates,
		"writer", conf.Writer.Kind,
		"watchdog", conf.Watchdog,
		"battery", conf.Battery.Enabled,
		"once", flags.once,
		"clear", flags.clear,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	profile, err := epd.ProfileByName(conf.Panel.Model)
	if err != nil {
		appLog.Error("unsupported panel", err)
		os.Exit(1)
	}
	writer, err := render.New(conf.Writer, profile.Geometry)
	if err != nil {
		appLog.Error("failed to build writer", err)
		os.Exit(1)
	}

	if flags.renderOnly {
		if err := renderOnly(profile, writer, flags.dump); err != nil {
			appLog.Error("render failed", err)
			os.Exit(1)
		}
		return
	}

	if err := run(conf, flags, profile, writer); err != nil {
		appLog.Error("inkyepd failed", err)
		os.Exit(1)
	}
	appLog.Info("inkyepd exiting")
}

// renderOnly draws one frame and dumps it without touching the hardware.
func renderOnly(p *epd.Profile, w epd.Writer, dir string) error {
	if dir == "" {
		dir = "."
	}
	fb, err := epd.NewFrameBuffer(p.Geometry)
	if err != nil {
		return err
	}
	if err := w.Draw(fb); err != nil {
		return err
	}
	appLog.Info("rendered frame", "dir", dir)
	return convert.Dump(dir, fb)
}

func run(conf *config.Config, flags flagConfig, profile *epd.Profile, writer epd.Writer) error {
	hw, err := epd.OpenHardware(epd.HardwareConfig{
		SPIPort:  conf.Panel.SPIPort,
		SPIFreq:  physic.Frequency(conf.Panel.SPIHz) * physic.Hertz,
		CSPin:    conf.Panel.CSPin,
		DCPin:    conf.Panel.DCPin,
		ResetPin: conf.Panel.ResetPin,
		BusyPin:  conf.Panel.BusyPin,
	})
	if err != nil {
		return err
	}
	defer hw.Close()

	notifier := watchdog.New(conf.Watchdog)

	opts := hw.Opts(profile)
	opts.Liveness = notifier
	opts.FullUpdateEvery = conf.Panel.FullUpdateEvery
	opts.DeepSleepBetweenUpdates = conf.Panel.DeepSleepBetweenUpdates
	opts.IdleTimeout = time.Duration(conf.Panel.IdleTimeoutMs) * time.Millisecond
	opts.PollInterval = time.Duration(conf.Panel.PollIntervalMs) * time.Millisecond
	opts.Writer = writer

	d, err := epd.New(opts)
	if err != nil {
		return err
	}
	if err := d.Setup(); err != nil {
		return err
	}
	defer func() {
		if err := d.Shutdown(conf.Panel.SleepOnShutdown); err != nil {
			appLog.Error("panel shutdown failed", err)
		}
	}()

	if flags.clear {
		d.Fill(epd.ColorOff)
		return d.Display()
	}

	interval := notifier.Interval()
	ropts := runner.Options{
		Schedule:       conf.RefreshCron,
		KeepAlive:      notifier.ResetWatchdog,
		KeepAliveEvery: interval / 2,
	}
	if conf.Battery.Enabled {
		br, err := battery.Open(conf.Battery.Bus, conf.Battery.Addr)
		if err != nil {
			appLog.Warn("battery gauge unavailable", "err", err)
		} else {
			defer br.Close()
			ropts.Battery = br
		}
	}
	r := runner.New(d, ropts)

	if flags.once {
		err := r.Refresh()
		if flags.dump != "" {
			if dumpErr := convert.Dump(flags.dump, d.FrameBuffer()); dumpErr != nil {
				appLog.Error("dump failed", dumpErr, "dir", flags.dump)
			}
		}
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if conf.Listen != "" {
		srv := web.NewServer(conf, r)
		go func() {
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("HTTP server stopped", err)
			}
		}()
	}

	notifier.Ready()
	defer notifier.Stopping()

	return r.Run(ctx)
}

// validate rejects flag combinations that would be silently ignored.
func (f flagConfig) validate() error {
	if f.dump != "" && !f.once && !f.renderOnly {
		return errors.New("-dump needs -once or -render-only")
	}
	if f.renderOnly && (f.once || f.clear) {
		return errors.New("-render-only cannot be combined with -once or -clear")
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/inkyepd/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one draw+refresh cycle and exit")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.StringVar(&cfg.dump, "dump", "", "Directory to dump debug artifacts (black.bin, red.bin, preview.png)")

	flag.Parse()

	return cfg
}
