package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"roverctl/internal/command"
	"roverctl/internal/control"
	"roverctl/internal/logging"
	"roverctl/internal/transport/ble"
	"roverctl/internal/transport/wifi"
)

type instantChar struct {
	mu     sync.Mutex
	writes []command.Command
}

func (c *instantChar) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, command.Command(p[0]))
	return len(p), nil
}

func (c *instantChar) sent() []command.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command.Command(nil), c.writes...)
}

type fakeDialer struct {
	char         *instantChar
	err          error
	onDisconnect func()
}

func (d *fakeDialer) Dial(_ context.Context, onDisconnect func()) (ble.Writer, func() error, error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	d.onDisconnect = onDisconnect
	return d.char, func() error { return nil }, nil
}

func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, append([]byte("ACK:"), data...))
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func newSession(t *testing.T, transport TransportMode, d ble.Dialer, url string) *Session {
	t.Helper()
	s := New(logging.NewTestLogger(t), Options{
		Transport: transport,
		Dialer:    d,
		WiFi: wifi.Options{
			URL:          url,
			RateInterval: 5 * time.Millisecond,
			SettleDelay:  5 * time.Millisecond,
			PingEvery:    -1,
			PongWait:     -1,
		},
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseTransportMode(t *testing.T) {
	m, err := ParseTransportMode("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, WiFi)

	m, err = ParseTransportMode("BLE")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, BLE)

	_, err = ParseTransportMode("serial")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBLEConnectPushesSpeedAndRecords(t *testing.T) {
	char := &instantChar{}
	s := newSession(t, BLE, &fakeDialer{char: char}, "")

	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connected(), test.ShouldBeTrue)
	eventually(t, func() bool { return len(char.sent()) == 1 })
	test.That(t, char.sent()[0], test.ShouldEqual, command.Speed(command.DefaultSpeed))

	eventually(t, func() bool { return s.Status().Last == command.Speed(command.DefaultSpeed) })
	st := s.Status()
	test.That(t, st.Transport, test.ShouldEqual, BLE)
	test.That(t, st.State, test.ShouldEqual, "connected")
	test.That(t, st.Mode, test.ShouldEqual, control.Hold)
}

func TestBLEDialErrorState(t *testing.T) {
	s := newSession(t, BLE, &fakeDialer{err: errors.Wrap(ble.ErrDeviceNotFound, "scan")}, "")
	err := s.Connect(context.Background())
	test.That(t, errors.Is(err, ble.ErrDeviceNotFound), test.ShouldBeTrue)
	test.That(t, s.Status().State, test.ShouldEqual, "error")

	s = newSession(t, BLE, &fakeDialer{err: ble.ErrScanCancelled}, "")
	test.That(t, s.Connect(context.Background()), test.ShouldNotBeNil)
	test.That(t, s.Status().State, test.ShouldEqual, "disconnected")

	s = newSession(t, BLE, nil, "")
	test.That(t, errors.Is(s.Connect(context.Background()), ble.ErrUnavailable), test.ShouldBeTrue)
}

func TestPeripheralLossDropsInputState(t *testing.T) {
	char := &instantChar{}
	d := &fakeDialer{char: char}
	s := newSession(t, BLE, d, "")
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)

	ctrl := s.Controller()
	eventually(t, func() bool { return ctrl.KeyDown(control.KeyW, false) })
	test.That(t, ctrl.MovementActive(), test.ShouldBeTrue)

	d.onDisconnect()
	test.That(t, ctrl.MovementActive(), test.ShouldBeFalse)
	test.That(t, ctrl.Held(control.KeyW), test.ShouldBeFalse)
	test.That(t, s.Status().State, test.ShouldEqual, "disconnected")

	// no STOP went out for the lost session
	time.Sleep(50 * time.Millisecond)
	for _, cmd := range char.sent() {
		test.That(t, cmd, test.ShouldNotEqual, command.Stop)
	}
}

func TestSwitchTransportDisconnectsFirst(t *testing.T) {
	s := newSession(t, WiFi, &fakeDialer{char: &instantChar{}}, echoServer(t))
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connected(), test.ShouldBeTrue)

	test.That(t, s.SetTransport(BLE), test.ShouldBeNil)
	test.That(t, s.Transport(), test.ShouldEqual, BLE)
	test.That(t, s.Connected(), test.ShouldBeFalse)
	test.That(t, s.wifi.State(), test.ShouldEqual, wifi.Disconnected)

	// controller now drives the disconnected ble link
	test.That(t, s.Controller().KeyDown(control.KeyW, false), test.ShouldBeFalse)

	m, err := s.ToggleTransport()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, WiFi)
}

func TestWiFiSendRecordsHistory(t *testing.T) {
	s := newSession(t, WiFi, nil, echoServer(t))
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	eventually(t, func() bool { return len(s.History()) == 1 })

	test.That(t, s.Send(command.Forward), test.ShouldBeNil)
	eventually(t, func() bool { return s.Status().Last == command.Forward })
	test.That(t, s.Send(command.Stop), test.ShouldBeNil)
	eventually(t, func() bool { return s.Status().Last == command.Stop })
	test.That(t, s.History(), test.ShouldResemble,
		[]command.Command{command.Speed(command.DefaultSpeed), command.Forward, command.Stop})
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newSession(t, WiFi, nil, "ws://127.0.0.1:1/ws")
	test.That(t, s.Send(command.Forward), test.ShouldNotBeNil)
}

func TestHistoryKeepsNewest(t *testing.T) {
	s := newSession(t, WiFi, nil, "")
	for i := 0; i < HistorySize+2; i++ {
		s.recordSent(WiFi, command.Speed(i%10))
	}
	h := s.History()
	test.That(t, len(h), test.ShouldEqual, HistorySize)
	test.That(t, h[0], test.ShouldEqual, command.Speed(2))
	test.That(t, h[len(h)-1], test.ShouldEqual, command.Speed(1))
	test.That(t, s.Status().Last, test.ShouldEqual, command.Speed(1))
}

func TestEventsPublished(t *testing.T) {
	s := newSession(t, BLE, &fakeDialer{char: &instantChar{}}, "")
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)

	var sawConnected, sawSent bool
	timeout := time.After(2 * time.Second)
	for !(sawConnected && sawSent) {
		select {
		case ev := <-s.Events():
			switch ev.Kind {
			case StatusChanged:
				if ev.State == "connected" {
					sawConnected = true
				}
			case CommandSent:
				sawSent = true
			}
		case <-timeout:
			t.Fatal("missing events")
		}
	}
}
