package ble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"roverctl/internal/logging"
)

// Connector finds the vehicle by advertised name and resolves its command
// characteristic through the host Bluetooth stack.
type Connector struct {
	Adapter     *bluetooth.Adapter
	NamePrefix  string
	ScanTimeout time.Duration
	Logger      logging.Logger

	enableOnce sync.Once
	enableErr  error

	mu           sync.Mutex
	current      bluetooth.Address
	haveCurrent  bool
	onDisconnect func()
}

// NewConnector returns a Connector on the default adapter.
func NewConnector(logger logging.Logger, namePrefix string, scanTimeout time.Duration) *Connector {
	if namePrefix == "" {
		namePrefix = DeviceNamePrefix
	}
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &Connector{
		Adapter:     bluetooth.DefaultAdapter,
		NamePrefix:  namePrefix,
		ScanTimeout: scanTimeout,
		Logger:      logger,
	}
}

func (c *Connector) enable() error {
	c.enableOnce.Do(func() {
		if err := c.Adapter.Enable(); err != nil {
			c.enableErr = errors.Wrap(ErrUnavailable, err.Error())
			return
		}
		c.Adapter.SetConnectHandler(c.connectHandler)
	})
	return c.enableErr
}

func (c *Connector) connectHandler(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	c.mu.Lock()
	match := c.haveCurrent && device.Address.String() == c.current.String()
	cb := c.onDisconnect
	if match {
		c.haveCurrent = false
		c.onDisconnect = nil
	}
	c.mu.Unlock()
	if match && cb != nil {
		c.Logger.Info("peripheral disconnected")
		cb()
	}
}

// Scan returns the first advertisement whose local name starts with the
// configured prefix.
func (c *Connector) Scan(ctx context.Context) (bluetooth.ScanResult, error) {
	if err := c.enable(); err != nil {
		return bluetooth.ScanResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.ScanTimeout)
	defer cancel()

	var (
		found  bluetooth.ScanResult
		ok     bool
		doneMu sync.Mutex
	)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Adapter.StopScan()
		case <-stopped:
		}
	}()

	c.Logger.Infow("scanning", "prefix", c.NamePrefix, "timeout", c.ScanTimeout)
	err := c.Adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !strings.HasPrefix(result.LocalName(), c.NamePrefix) {
			return
		}
		doneMu.Lock()
		defer doneMu.Unlock()
		if ok {
			return
		}
		found, ok = result, true
		_ = a.StopScan()
	})
	close(stopped)
	if err != nil {
		return bluetooth.ScanResult{}, errors.Wrap(err, "scan failed")
	}

	doneMu.Lock()
	defer doneMu.Unlock()
	if ok {
		return found, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return bluetooth.ScanResult{}, ErrScanCancelled
	}
	return bluetooth.ScanResult{}, errors.Wrapf(ErrDeviceNotFound, "no device named %s*", c.NamePrefix)
}

// Dial implements Dialer.
func (c *Connector) Dial(ctx context.Context, onDisconnect func()) (Writer, func() error, error) {
	result, err := c.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.Logger.Infow("found device", "name", result.LocalName(), "address", result.Address.String(), "rssi", result.RSSI)

	device, err := c.Adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect failed")
	}

	char, err := resolveCharacteristic(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, nil, err
	}

	c.mu.Lock()
	c.current = result.Address
	c.haveCurrent = true
	c.onDisconnect = onDisconnect
	c.mu.Unlock()

	closer := func() error {
		c.mu.Lock()
		c.haveCurrent = false
		c.onDisconnect = nil
		c.mu.Unlock()
		return device.Disconnect()
	}
	return char, closer, nil
}

func resolveCharacteristic(device bluetooth.Device) (Writer, error) {
	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return nil, err
	}
	charUUID, err := bluetooth.ParseUUID(CharacteristicUUID)
	if err != nil {
		return nil, err
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return nil, errors.Wrap(err, "service discovery failed")
	}
	if len(services) == 0 {
		return nil, errors.Errorf("service %s not found", ServiceUUID)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, errors.Wrap(err, "characteristic discovery failed")
	}
	if len(chars) == 0 {
		return nil, errors.Errorf("characteristic %s not found", CharacteristicUUID)
	}
	return chars[0], nil
}
