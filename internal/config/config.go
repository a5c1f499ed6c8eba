package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PanelConfig describes the panel model and how it is wired.
type PanelConfig struct {
	// Model selects a built-in panel profile (e.g. "2.13in-bwr").
	Model string `yaml:"model" json:"model"`

	// SPIPort is the periph.io SPI port name; "" picks the first port
	// (typically /dev/spidev0.0 on a Raspberry Pi).
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	SPIHz   int64  `yaml:"spi_hz" json:"spi_hz"`

	// Pin names as understood by periph.io gpioreg (e.g. "GPIO22").
	// CSPin, ResetPin and BusyPin are optional.
	CSPin    string `yaml:"cs_pin" json:"cs_pin"`
	DCPin    string `yaml:"dc_pin" json:"dc_pin"`
	ResetPin string `yaml:"reset_pin" json:"reset_pin"`
	BusyPin  string `yaml:"busy_pin" json:"busy_pin"`

	// FullUpdateEvery makes every Nth refresh a full one, the rest partial.
	// 0 or 1 means every refresh is full.
	FullUpdateEvery uint32 `yaml:"full_update_every" json:"full_update_every"`

	// DeepSleepBetweenUpdates puts the panel into deep sleep after each
	// refresh. Requires ResetPin.
	DeepSleepBetweenUpdates bool `yaml:"deep_sleep_between_updates" json:"deep_sleep_between_updates"`

	// SleepOnShutdown puts the panel into deep sleep when the process exits.
	SleepOnShutdown bool `yaml:"sleep_on_shutdown" json:"sleep_on_shutdown"`

	// IdleTimeoutMs and PollIntervalMs override the profile's busy-wait
	// parameters when non-zero.
	IdleTimeoutMs  int `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
}

// WriterConfig selects what is drawn on each refresh.
type WriterConfig struct {
	// Kind is one of "text" (default), "image", "page", "agenda".
	Kind string `yaml:"kind" json:"kind"`

	// Title and Text are used by the text writer; Text may span lines.
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`

	// ImagePath is a PNG/JPEG file for the image writer.
	ImagePath string `yaml:"image_path" json:"image_path"`

	// PageURL is captured with headless Chromium by the page writer.
	PageURL          string `yaml:"page_url" json:"page_url"`
	ReadySelector    string `yaml:"ready_selector" json:"ready_selector"`
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms" json:"capture_timeout_ms"`

	// CalendarURL is the ICS feed listed by the agenda writer, AgendaDays
	// how far ahead it looks.
	CalendarURL string `yaml:"calendar_url" json:"calendar_url"`
	AgendaDays  int    `yaml:"agenda_days" json:"agenda_days"`
}

// BatteryConfig enables the optional I2C battery gauge.
type BatteryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Bus is the periph.io I2C bus name; "" picks the first bus.
	Bus  string `yaml:"bus" json:"bus"`
	Addr uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables
	// the HTTP server.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Watchdog enables systemd watchdog keep-alives (WATCHDOG=1).
	Watchdog bool `yaml:"watchdog" json:"watchdog"`

	Panel   PanelConfig   `yaml:"panel" json:"panel"`
	Writer  WriterConfig  `yaml:"writer" json:"writer"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen  = "127.0.0.1:8080"
	defaultRefresh = "*/15 * * * *"
	defaultModel   = "2.13in-bwr"
	// PiSugar 3
	defaultBatteryAddr = 0x57
)

// DefaultConfig returns an in-memory default configuration wired for the
// Inky pHAT pinout on a Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		LogLevel:    "info",
		RefreshCron: defaultRefresh,
		Panel: PanelConfig{
			Model:           defaultModel,
			SPIHz:           2_000_000,
			CSPin:           "GPIO8",
			DCPin:           "GPIO22",
			ResetPin:        "GPIO27",
			BusyPin:         "GPIO17",
			FullUpdateEvery: 5,
		},
		Writer: WriterConfig{
			Kind:       "text",
			Title:      "inkyepd",
			AgendaDays: 7,
		},
		Battery: BatteryConfig{
			Addr: defaultBatteryAddr,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.Panel.Model == "" {
		c.Panel.Model = defaultModel
	}
	if c.Panel.SPIHz <= 0 {
		c.Panel.SPIHz = 2_000_000
	}
	if c.Panel.IdleTimeoutMs < 0 {
		c.Panel.IdleTimeoutMs = 0
	}
	if c.Panel.PollIntervalMs < 0 {
		c.Panel.PollIntervalMs = 0
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = defaultBatteryAddr
	}
	if c.Writer.AgendaDays <= 0 {
		c.Writer.AgendaDays = 7
	}
	switch c.Writer.Kind {
	case "text", "image", "page", "agenda":
		// ok
	default:
		// Unknown value; fall back to the status screen.
		c.Writer.Kind = "text"
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Panel.DCPin == "" {
		return errors.New("config: panel.dc_pin is required")
	}
	if c.Panel.DeepSleepBetweenUpdates && c.Panel.ResetPin == "" {
		return errors.New("config: panel.deep_sleep_between_updates requires panel.reset_pin")
	}
	if c.Writer.Kind == "image" && c.Writer.ImagePath == "" {
		return errors.New("config: writer.image_path is required for the image writer")
	}
	if c.Writer.Kind == "page" && c.Writer.PageURL == "" {
		return errors.New("config: writer.page_url is required for the page writer")
	}
	if c.Writer.Kind == "agenda" && c.Writer.CalendarURL == "" {
		return errors.New("config: writer.calendar_url is required for the agenda writer")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".inkyepd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
