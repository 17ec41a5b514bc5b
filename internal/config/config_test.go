package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"roverctl/internal/control"
	"roverctl/internal/remote"
	"roverctl/internal/transport/wifi"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "roverctl.yaml")
	test.That(t, os.WriteFile(p, []byte(body), 0o600), test.ShouldBeNil)
	return p
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.TransportMode(), test.ShouldEqual, remote.WiFi)
	test.That(t, cfg.ControlMode(), test.ShouldEqual, control.Hold)
	test.That(t, cfg.WiFi.URL, test.ShouldEqual, wifi.DefaultURL)
	test.That(t, cfg.WiFi.QueueCapacity, test.ShouldEqual, 5)
	test.That(t, cfg.WiFi.AckTimeout, test.ShouldEqual, time.Second)
	test.That(t, cfg.BLE.NamePrefix, test.ShouldEqual, "ADCA07")
	test.That(t, cfg.TUI.ReleaseAfter, test.ShouldEqual, DefaultReleaseAfter)
	test.That(t, cfg.Keyboard.Enabled, test.ShouldBeFalse)
}

func TestFileThenEnv(t *testing.T) {
	p := writeFile(t, `
transport: ble
mode: toggle
wifi:
  url: ws://10.0.0.2/ws
  ack_timeout: 250ms
ble:
  name_prefix: ROVER
tui:
  release_after: 400ms
`)
	t.Setenv("ROVER_WS_URL", "ws://10.0.0.3/ws")
	t.Setenv("ROVER_KEYBOARD", "/dev/input/event5")

	cfg, err := Load(p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.TransportMode(), test.ShouldEqual, remote.BLE)
	test.That(t, cfg.ControlMode(), test.ShouldEqual, control.Toggle)
	test.That(t, cfg.WiFi.URL, test.ShouldEqual, "ws://10.0.0.3/ws")
	test.That(t, cfg.WiFi.AckTimeout, test.ShouldEqual, 250*time.Millisecond)
	// untouched fields keep their defaults
	test.That(t, cfg.WiFi.MaxRetries, test.ShouldEqual, wifi.DefaultMaxRetries)
	test.That(t, cfg.BLE.NamePrefix, test.ShouldEqual, "ROVER")
	test.That(t, cfg.TUI.ReleaseAfter, test.ShouldEqual, 400*time.Millisecond)
	test.That(t, cfg.Keyboard.Enabled, test.ShouldBeTrue)
	test.That(t, cfg.Keyboard.Device, test.ShouldEqual, "/dev/input/event5")

	opts := cfg.WiFiOptions()
	test.That(t, opts.URL, test.ShouldEqual, "ws://10.0.0.3/ws")
	test.That(t, opts.AckTimeout, test.ShouldEqual, 250*time.Millisecond)
}

func TestEnvParsing(t *testing.T) {
	t.Setenv("ROVER_DEBUG", "yes")
	t.Setenv("ROVER_RELEASE_AFTER", "800")
	t.Setenv("ROVER_MAX_RETRIES", "not a number")
	t.Setenv("ROVER_KEYBOARD", "auto")

	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Debug, test.ShouldBeTrue)
	test.That(t, cfg.TUI.ReleaseAfter, test.ShouldEqual, 800*time.Millisecond)
	test.That(t, cfg.WiFi.MaxRetries, test.ShouldEqual, wifi.DefaultMaxRetries)
	test.That(t, cfg.Keyboard.Enabled, test.ShouldBeTrue)
	test.That(t, cfg.Keyboard.Device, test.ShouldEqual, "")
}

func TestZeroRetriesMeansSingleAttempt(t *testing.T) {
	t.Setenv("ROVER_MAX_RETRIES", "0")

	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.WiFi.MaxRetries, test.ShouldEqual, 0)
	test.That(t, cfg.WiFiOptions().MaxRetries, test.ShouldEqual, wifi.NoRetries)
}

func TestValidate(t *testing.T) {
	t.Setenv("ROVER_TRANSPORT", "serial")
	_, err := Load("")
	test.That(t, err, test.ShouldNotBeNil)

	t.Setenv("ROVER_TRANSPORT", "wifi")
	t.Setenv("ROVER_MODE", "sticky")
	_, err = Load("")
	test.That(t, err, test.ShouldNotBeNil)

	t.Setenv("ROVER_MODE", "")
	p := writeFile(t, "wifi:\n  queue_capacity: 0\n")
	_, err = Load(p)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Load(writeFile(t, "wifi: [not, a, map]\n"))
	test.That(t, err, test.ShouldNotBeNil)
}
