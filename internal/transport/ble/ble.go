// Package ble drives the vehicle over a single writable GATT characteristic.
//
// Writes are serialized: while one is in flight, later commands land in a
// one-slot pending buffer that keeps only the newest command, except that a
// pending STOP is never displaced by anything but another STOP.
package ble

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"roverctl/internal/command"
	"roverctl/internal/logging"
)

// Peripheral identification.
const (
	DeviceNamePrefix   = "ADCA07"
	ServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

	// DefaultInterCommandDelay gives the peripheral time to drain its GATT buffer.
	DefaultInterCommandDelay = 30 * time.Millisecond
	DefaultScanTimeout       = 15 * time.Second
)

var (
	// ErrUnavailable means the host has no usable Bluetooth adapter.
	ErrUnavailable = errors.New("bluetooth is not available on this host")
	// ErrDeviceNotFound means no advertising device matched the name prefix.
	ErrDeviceNotFound = errors.New("no matching bluetooth device found")
	// ErrScanCancelled means the scan was aborted before a device was chosen.
	ErrScanCancelled = errors.New("device selection cancelled")
)

// Writer is the write side of a GATT characteristic.
type Writer interface {
	Write(p []byte) (int, error)
}

// Dialer finds and connects the peripheral. onDisconnect must be invoked
// when the peripheral drops the link.
type Dialer interface {
	Dial(ctx context.Context, onDisconnect func()) (Writer, func() error, error)
}

// Options tune a Client. Zero values take defaults.
type Options struct {
	InterCommandDelay time.Duration
	Clock             clock.Clock
	// InitialCommand is sent right after connecting (the current speed level).
	InitialCommand func() command.Command
	// OnSent observes every successful write.
	OnSent func(command.Command)
	// OnConnected observes connection changes.
	OnConnected func(bool)
}

// Client is the BLE transport adapter.
type Client struct {
	logger logging.Logger
	opts   Options

	mu        sync.Mutex
	char      Writer
	closer    func() error
	session   string
	gen       int
	inFlight  bool
	pending   command.Command
	followUp  *clock.Timer
	connected bool
}

// NewClient returns a disconnected Client.
func NewClient(logger logging.Logger, opts Options) *Client {
	if opts.InterCommandDelay <= 0 {
		opts.InterCommandDelay = DefaultInterCommandDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Client{logger: logger, opts: opts}
}

// Connect dials the peripheral, installs its characteristic and pushes the
// initial command.
func (c *Client) Connect(ctx context.Context, d Dialer) error {
	if c.Connected() {
		c.logger.Info("already connected")
		return nil
	}
	char, closer, err := d.Dial(ctx, c.handleDisconnect)
	if err != nil {
		switch {
		case errors.Is(err, ErrScanCancelled):
			c.logger.Info("device selection cancelled")
		default:
			c.logger.Errorw("error connecting", "error", err)
		}
		return err
	}
	c.attach(char, closer)
	if c.opts.InitialCommand != nil {
		c.Send(c.opts.InitialCommand())
	}
	return nil
}

func (c *Client) attach(char Writer, closer func() error) {
	c.mu.Lock()
	c.gen++
	c.char = char
	c.closer = closer
	c.session = uuid.NewString()
	c.inFlight = false
	c.pending = 0
	c.connected = true
	session := c.session
	c.mu.Unlock()

	c.logger.Infow("connected", "session", session)
	if c.opts.OnConnected != nil {
		c.opts.OnConnected(true)
	}
}

// Connected reports whether a characteristic is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes cmd, or parks it in the pending slot if a write is in flight.
func (c *Client) Send(cmd command.Command) {
	c.send(cmd, false)
}

// SendUrgent writes cmd at once when idle, otherwise makes it the next write
// regardless of what the pending slot holds.
func (c *Client) SendUrgent(cmd command.Command) {
	c.send(cmd, true)
}

func (c *Client) send(cmd command.Command, urgent bool) {
	c.mu.Lock()
	if c.char == nil {
		c.mu.Unlock()
		c.logger.Errorw("characteristic not available, are you connected?", "cmd", cmd)
		return
	}
	if c.inFlight {
		if urgent || cmd.IsStop() || c.pending != command.Stop {
			c.pending = cmd
			c.logger.Debugw("write in flight, command pending", "cmd", cmd)
		} else {
			c.logger.Debugw("stop pending, dropping command", "cmd", cmd)
		}
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	char, gen := c.char, c.gen
	c.mu.Unlock()

	go c.write(char, gen, cmd)
}

// write performs one characteristic write and then either releases the
// in-flight flag or schedules the pending command. The flag stays held over
// the inter-command delay so nothing overtakes the follow-up.
func (c *Client) write(char Writer, gen int, cmd command.Command) {
	if _, err := char.Write(cmd.Bytes()); err != nil {
		c.logger.Errorw("error writing characteristic", "cmd", cmd, "error", err)
	} else {
		c.logger.Debugw("command sent", "cmd", cmd)
		if c.opts.OnSent != nil {
			c.opts.OnSent(cmd)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.pending == 0 {
		c.inFlight = false
		return
	}
	next := c.pending
	c.pending = 0
	c.followUp = c.opts.Clock.AfterFunc(c.opts.InterCommandDelay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.followUp = nil
		char := c.char
		c.mu.Unlock()
		c.write(char, gen, next)
	})
}

// Disconnect drops the link locally.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	closer := c.closer
	c.mu.Unlock()

	var err error
	if closer != nil {
		err = closer()
	}
	c.handleDisconnect()
	return err
}

// handleDisconnect resets all adapter state. It is safe to call more than once.
func (c *Client) handleDisconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.char = nil
	c.closer = nil
	c.inFlight = false
	c.pending = 0
	if c.followUp != nil {
		c.followUp.Stop()
		c.followUp = nil
	}
	c.connected = false
	session := c.session
	c.mu.Unlock()

	c.logger.Infow("disconnected", "session", session)
	if c.opts.OnConnected != nil {
		c.opts.OnConnected(false)
	}
}

// Pending returns the command parked in the pending slot, or 0.
func (c *Client) Pending() command.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
