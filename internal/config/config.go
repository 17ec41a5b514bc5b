// Package config holds roverctl settings. Values are layered: built-in
// defaults, then an optional YAML file, then ROVER_* environment variables.
// Command line flags are bound on top by the CLI.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"roverctl/internal/control"
	"roverctl/internal/remote"
	"roverctl/internal/transport/ble"
	"roverctl/internal/transport/wifi"
)

// DefaultReleaseAfter is how long the terminal UI waits without a key event
// before it treats a key as released.
const DefaultReleaseAfter = 650 * time.Millisecond

// Config is the full settings tree.
type Config struct {
	Transport string `yaml:"transport"`
	Mode      string `yaml:"mode"`
	Debug     bool   `yaml:"debug"`
	LogFile   string `yaml:"log_file"`

	WiFi     WiFi     `yaml:"wifi"`
	BLE      BLE      `yaml:"ble"`
	Keyboard Keyboard `yaml:"keyboard"`
	TUI      TUI      `yaml:"tui"`
}

// WiFi configures the WebSocket transport.
type WiFi struct {
	URL            string        `yaml:"url"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	RateInterval   time.Duration `yaml:"rate_interval"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	Pacing         time.Duration `yaml:"pacing"`
	FailureBackoff time.Duration `yaml:"failure_backoff"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingEvery      time.Duration `yaml:"ping_every"`
	PongWait       time.Duration `yaml:"pong_wait"`
}

// BLE configures the Bluetooth transport.
type BLE struct {
	NamePrefix        string        `yaml:"name_prefix"`
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	InterCommandDelay time.Duration `yaml:"inter_command_delay"`
}

// Keyboard configures the evdev source. An empty Device with Enabled set
// means auto-detect.
type Keyboard struct {
	Enabled    bool          `yaml:"enabled"`
	Device     string        `yaml:"device"`
	Grab       bool          `yaml:"grab"`
	Probe      time.Duration `yaml:"probe"`
	DumpEvents bool          `yaml:"dump_events"`
}

// TUI configures the terminal UI.
type TUI struct {
	ReleaseAfter time.Duration `yaml:"release_after"`
	Mouse        bool          `yaml:"mouse"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Transport: remote.WiFi.String(),
		Mode:      control.Hold.String(),
		WiFi: WiFi{
			URL:            wifi.DefaultURL,
			QueueCapacity:  wifi.DefaultQueueCapacity,
			RateInterval:   wifi.DefaultRateInterval,
			AckTimeout:     wifi.DefaultAckTimeout,
			MaxRetries:     wifi.DefaultMaxRetries,
			Pacing:         wifi.DefaultPacing,
			FailureBackoff: wifi.DefaultFailureBackoff,
			SettleDelay:    wifi.DefaultSettleDelay,
			ReconnectDelay: wifi.DefaultReconnectDelay,
			PingEvery:      wifi.DefaultPingEvery,
			PongWait:       wifi.DefaultPongWait,
		},
		BLE: BLE{
			NamePrefix:        ble.DeviceNamePrefix,
			ScanTimeout:       ble.DefaultScanTimeout,
			InterCommandDelay: ble.DefaultInterCommandDelay,
		},
		Keyboard: Keyboard{
			Probe: 1500 * time.Millisecond,
		},
		TUI: TUI{
			ReleaseAfter: DefaultReleaseAfter,
			Mouse:        true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config file %s", path)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Transport = getenvDefault("ROVER_TRANSPORT", c.Transport)
	c.Mode = getenvDefault("ROVER_MODE", c.Mode)
	c.Debug = getenvBoolDefault("ROVER_DEBUG", c.Debug)
	c.LogFile = getenvDefault("ROVER_LOG_FILE", c.LogFile)

	c.WiFi.URL = getenvDefault("ROVER_WS_URL", c.WiFi.URL)
	c.WiFi.AckTimeout = getenvDurationDefault("ROVER_ACK_TIMEOUT", c.WiFi.AckTimeout)
	c.WiFi.MaxRetries = getenvIntDefault("ROVER_MAX_RETRIES", c.WiFi.MaxRetries)
	c.WiFi.ReconnectDelay = getenvDurationDefault("ROVER_RECONNECT_DELAY", c.WiFi.ReconnectDelay)

	c.BLE.NamePrefix = getenvDefault("ROVER_BLE_PREFIX", c.BLE.NamePrefix)
	c.BLE.ScanTimeout = getenvDurationDefault("ROVER_BLE_SCAN_TIMEOUT", c.BLE.ScanTimeout)

	if dev := os.Getenv("ROVER_KEYBOARD"); dev != "" {
		c.Keyboard.Enabled = true
		if dev != "auto" {
			c.Keyboard.Device = dev
		}
	}
	c.Keyboard.Grab = getenvBoolDefault("ROVER_KEYBOARD_GRAB", c.Keyboard.Grab)

	c.TUI.ReleaseAfter = getenvDurationDefault("ROVER_RELEASE_AFTER", c.TUI.ReleaseAfter)
}

// Validate checks enum fields and timing bounds.
func (c Config) Validate() error {
	if _, err := remote.ParseTransportMode(c.Transport); err != nil {
		return err
	}
	if _, err := control.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.WiFi.QueueCapacity < 1 {
		return errors.Errorf("wifi.queue_capacity must be at least 1, got %d", c.WiFi.QueueCapacity)
	}
	if c.WiFi.MaxRetries < 0 {
		return errors.Errorf("wifi.max_retries must not be negative, got %d", c.WiFi.MaxRetries)
	}
	if c.TUI.ReleaseAfter <= 0 {
		return errors.Errorf("tui.release_after must be positive, got %s", c.TUI.ReleaseAfter)
	}
	return nil
}

// TransportMode returns the parsed transport.
func (c Config) TransportMode() remote.TransportMode {
	m, _ := remote.ParseTransportMode(c.Transport)
	return m
}

// ControlMode returns the parsed control mode.
func (c Config) ControlMode() control.Mode {
	m, _ := control.ParseMode(c.Mode)
	return m
}

// WiFiOptions converts the wifi section for the transport client.
func (c Config) WiFiOptions() wifi.Options {
	retries := c.WiFi.MaxRetries
	if retries == 0 {
		retries = wifi.NoRetries
	}
	return wifi.Options{
		URL:            c.WiFi.URL,
		QueueCapacity:  c.WiFi.QueueCapacity,
		RateInterval:   c.WiFi.RateInterval,
		AckTimeout:     c.WiFi.AckTimeout,
		MaxRetries:     retries,
		Pacing:         c.WiFi.Pacing,
		FailureBackoff: c.WiFi.FailureBackoff,
		SettleDelay:    c.WiFi.SettleDelay,
		ReconnectDelay: c.WiFi.ReconnectDelay,
		PingEvery:      c.WiFi.PingEvery,
		PongWait:       c.WiFi.PongWait,
	}
}

// BLEOptions converts the ble section for the transport client.
func (c Config) BLEOptions() ble.Options {
	return ble.Options{InterCommandDelay: c.BLE.InterCommandDelay}
}
