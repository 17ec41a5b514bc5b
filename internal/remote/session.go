// Package remote ties one Controller to the two vehicle transports and keeps
// the status the UI shows: which transport is active, whether it is
// connected, and which commands went out.
package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"roverctl/internal/command"
	"roverctl/internal/control"
	"roverctl/internal/logging"
	"roverctl/internal/transport/ble"
	"roverctl/internal/transport/wifi"
)

// HistorySize is the number of sent commands kept for display.
const HistorySize = 10

// TransportMode selects the active transport.
type TransportMode int

// Transport modes.
const (
	WiFi TransportMode = iota
	BLE
)

func (m TransportMode) String() string {
	switch m {
	case WiFi:
		return "wifi"
	case BLE:
		return "ble"
	}
	return fmt.Sprintf("TransportMode(%d)", int(m))
}

// ParseTransportMode accepts "wifi" or "ble". Empty means wifi.
func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wifi", "ws", "websocket":
		return WiFi, nil
	case "ble", "bluetooth":
		return BLE, nil
	}
	return WiFi, errors.Errorf("unknown transport %q", s)
}

// EventKind tells Event payloads apart.
type EventKind int

// Event kinds.
const (
	StatusChanged EventKind = iota
	CommandSent
)

// Event is published on the session's channel for the UI.
type Event struct {
	Kind      EventKind
	Transport TransportMode
	State     string
	Command   command.Command
	Time      time.Time
}

// Status is a snapshot of the session.
type Status struct {
	Transport TransportMode
	State     string
	Connected bool
	Mode      control.Mode
	Speed     int
	Last      command.Command
	History   []command.Command
}

// Options configure a Session.
type Options struct {
	Transport TransportMode
	Mode      control.Mode
	WiFi      wifi.Options
	BLE       ble.Options
	// Dialer finds the BLE peripheral. Nil disables the BLE transport.
	Dialer ble.Dialer
}

// Session owns the controller and both transport clients.
type Session struct {
	logger logging.Logger
	ctrl   *control.Controller
	wifi   *wifi.Client
	ble    *ble.Client
	dialer ble.Dialer
	events chan Event

	mu       sync.Mutex
	mode     TransportMode
	bleState string
	last     command.Command
	history  []command.Command
}

// New builds a disconnected session.
func New(logger logging.Logger, opts Options) *Session {
	s := &Session{
		logger:   logger,
		dialer:   opts.Dialer,
		events:   make(chan Event, 64),
		mode:     opts.Transport,
		bleState: "disconnected",
	}
	s.ctrl = control.NewController(nil, logger.Named("control"))
	s.ctrl.SetMode(opts.Mode)

	wopts := opts.WiFi
	wopts.InitialCommand = s.ctrl.SpeedCommand
	wopts.OnSent = func(cmd command.Command) { s.recordSent(WiFi, cmd) }
	wopts.OnState = s.onWiFiState
	s.wifi = wifi.NewClient(logger.Named("wifi"), wopts)

	bopts := opts.BLE
	bopts.InitialCommand = s.ctrl.SpeedCommand
	bopts.OnSent = func(cmd command.Command) { s.recordSent(BLE, cmd) }
	bopts.OnConnected = s.onBLEConnected
	s.ble = ble.NewClient(logger.Named("ble"), bopts)

	s.ctrl.SetLink(s.link(opts.Transport))
	return s
}

// Controller returns the input controller.
func (s *Session) Controller() *control.Controller { return s.ctrl }

// Events returns the UI event stream. Events are dropped when nobody reads.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) link(m TransportMode) control.Link {
	if m == BLE {
		return s.ble
	}
	return s.wifi
}

// Transport returns the active transport mode.
func (s *Session) Transport() TransportMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetTransport makes m the active transport. A connected transport is
// disconnected first.
func (s *Session) SetTransport(m TransportMode) error {
	s.mu.Lock()
	cur := s.mode
	s.mu.Unlock()
	if m == cur {
		return nil
	}

	var err error
	if s.link(cur).Connected() {
		s.logger.Infow("disconnecting before transport switch", "from", cur, "to", m)
		err = s.Disconnect()
	}

	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.ctrl.SetLink(s.link(m))
	s.logger.Infow("transport mode changed", "transport", m)
	s.publish(Event{Kind: StatusChanged, Transport: m, State: s.stateOf(m)})
	return err
}

// ToggleTransport flips between wifi and ble.
func (s *Session) ToggleTransport() (TransportMode, error) {
	next := BLE
	if s.Transport() == BLE {
		next = WiFi
	}
	return next, s.SetTransport(next)
}

// Connect connects the active transport.
func (s *Session) Connect(ctx context.Context) error {
	m := s.Transport()
	if m == WiFi {
		return s.wifi.Connect(ctx)
	}
	if s.dialer == nil {
		return ble.ErrUnavailable
	}
	s.setBLEState("connecting")
	err := s.ble.Connect(ctx, s.dialer)
	switch {
	case err == nil:
	case errors.Is(err, ble.ErrScanCancelled):
		s.setBLEState("disconnected")
	default:
		s.setBLEState("error")
	}
	return err
}

// Disconnect stops any active movement and closes the active transport.
func (s *Session) Disconnect() error {
	s.ctrl.Reset()
	if s.Transport() == BLE {
		return s.ble.Disconnect()
	}
	return s.wifi.Disconnect()
}

// ToggleConnection connects when disconnected and vice versa.
func (s *Session) ToggleConnection(ctx context.Context) error {
	if s.Connected() {
		return s.Disconnect()
	}
	return s.Connect(ctx)
}

// Connected reports whether the active transport is connected.
func (s *Session) Connected() bool {
	return s.link(s.Transport()).Connected()
}

// Send hands cmd to the active transport, bypassing the controller.
func (s *Session) Send(cmd command.Command) error {
	l := s.link(s.Transport())
	if !l.Connected() {
		return errors.Wrapf(wifi.ErrNotConnected, "send %s", cmd)
	}
	if cmd.IsStop() {
		l.SendUrgent(cmd)
		return nil
	}
	l.Send(cmd)
	return nil
}

// Close tears down both transports.
func (s *Session) Close() error {
	s.ctrl.Reset()
	return multierr.Combine(s.wifi.Close(), s.ble.Disconnect())
}

// Status returns a snapshot for display.
func (s *Session) Status() Status {
	m := s.Transport()
	st := Status{
		Transport: m,
		State:     s.stateOf(m),
		Connected: s.link(m).Connected(),
		Mode:      s.ctrl.Mode(),
		Speed:     s.ctrl.Speed(),
	}
	s.mu.Lock()
	st.Last = s.last
	st.History = append([]command.Command(nil), s.history...)
	s.mu.Unlock()
	return st
}

// History returns the last sent commands, oldest first.
func (s *Session) History() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Command(nil), s.history...)
}

func (s *Session) stateOf(m TransportMode) string {
	if m == WiFi {
		return s.wifi.State().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bleState
}

func (s *Session) recordSent(m TransportMode, cmd command.Command) {
	s.mu.Lock()
	s.last = cmd
	s.history = append(s.history, cmd)
	if len(s.history) > HistorySize {
		s.history = s.history[len(s.history)-HistorySize:]
	}
	s.mu.Unlock()
	s.publish(Event{Kind: CommandSent, Transport: m, Command: cmd})
}

func (s *Session) onWiFiState(st wifi.State) {
	if st == wifi.Connected || st == wifi.Disconnected {
		s.ctrl.Detach()
	}
	s.publish(Event{Kind: StatusChanged, Transport: WiFi, State: st.String()})
}

func (s *Session) onBLEConnected(connected bool) {
	s.ctrl.Detach()
	state := "disconnected"
	if connected {
		state = "connected"
	}
	s.setBLEState(state)
}

func (s *Session) setBLEState(state string) {
	s.mu.Lock()
	changed := s.bleState != state
	s.bleState = state
	s.mu.Unlock()
	if changed {
		s.publish(Event{Kind: StatusChanged, Transport: BLE, State: state})
	}
}

func (s *Session) publish(ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
		s.logger.Debugw("event channel full, dropping event", "kind", ev.Kind)
	}
}
