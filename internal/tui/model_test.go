package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.viam.com/test"

	"roverctl/internal/command"
	"roverctl/internal/control"
	"roverctl/internal/logging"
	"roverctl/internal/remote"
	"roverctl/internal/transport/ble"
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

type dialer struct{ char *instantChar }

func (d dialer) Dial(context.Context, func()) (ble.Writer, func() error, error) {
	return d.char, func() error { return nil }, nil
}

func newModel(t *testing.T, connect bool) Model {
	t.Helper()
	logger := logging.NewTestLogger(t)
	s := remote.New(logger, remote.Options{
		Transport: remote.BLE,
		Dialer:    dialer{char: &instantChar{}},
	})
	t.Cleanup(func() { _ = s.Close() })
	if connect {
		test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, s, 150*time.Millisecond, logger)
}

func runes(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func waitRelease(t *testing.T, m Model) tea.Msg {
	t.Helper()
	done := make(chan tea.Msg, 1)
	go func() { done <- m.listenReleases()() }()
	select {
	case msg := <-done:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no synthetic release")
	}
	return nil
}

func TestControlKey(t *testing.T) {
	for _, tc := range []struct {
		msg  tea.KeyMsg
		want control.Key
		ok   bool
	}{
		{runes('w'), control.KeyW, true},
		{runes('W'), control.KeyW, true},
		{runes('q'), control.KeyQ, true},
		{runes('x'), control.KeyX, true},
		{tea.KeyMsg{Type: tea.KeyEsc}, control.KeyEscape, true},
		{tea.KeyMsg{Type: tea.KeyUp}, control.KeyUp, true},
		{tea.KeyMsg{Type: tea.KeyDown}, control.KeyDown, true},
		{runes('z'), "", false},
		{tea.KeyMsg{Type: tea.KeyLeft}, "", false},
	} {
		got, ok := controlKey(tc.msg)
		test.That(t, ok, test.ShouldEqual, tc.ok)
		test.That(t, got, test.ShouldEqual, tc.want)
	}
}

func TestSyntheticRelease(t *testing.T) {
	m := newModel(t, true)
	ctrl := m.ctrl

	m, _ = update(t, m, runes('w'))
	test.That(t, ctrl.Held(control.KeyW), test.ShouldBeTrue)
	test.That(t, ctrl.MovementActive(), test.ShouldBeTrue)

	msg := waitRelease(t, m)
	test.That(t, msg, test.ShouldEqual, releaseMsg(control.KeyW))
	m, _ = update(t, m, msg)
	test.That(t, ctrl.Held(control.KeyW), test.ShouldBeFalse)
	test.That(t, ctrl.MovementActive(), test.ShouldBeFalse)
	test.That(t, m.holding[control.KeyW], test.ShouldBeFalse)
}

func TestSyntheticReleaseSurvivesFullChannel(t *testing.T) {
	m := newModel(t, true)
	for i := 0; i < cap(m.releases); i++ {
		m.releases <- control.KeyA
	}

	m, _ = update(t, m, runes('w'))
	// let the release fire while the channel is full
	time.Sleep(300 * time.Millisecond)
	for i := 0; i < cap(m.releases); i++ {
		test.That(t, <-m.releases, test.ShouldEqual, control.KeyA)
	}
	test.That(t, waitRelease(t, m), test.ShouldEqual, releaseMsg(control.KeyW))
}

func TestAutoRepeatDoesNotToggle(t *testing.T) {
	m := newModel(t, true)
	ctrl := m.ctrl
	ctrl.SetMode(control.Toggle)

	m, _ = update(t, m, runes('w'))
	test.That(t, ctrl.Toggled(), test.ShouldEqual, command.Forward)

	// terminal auto-repeat while the synthetic hold is active
	m, _ = update(t, m, runes('w'))
	m, _ = update(t, m, runes('w'))
	test.That(t, ctrl.Toggled(), test.ShouldEqual, command.Forward)

	m, _ = update(t, m, waitRelease(t, m))
	test.That(t, ctrl.MovementActive(), test.ShouldBeTrue)

	m, _ = update(t, m, runes('w'))
	test.That(t, ctrl.Toggled(), test.ShouldEqual, command.Command(0))
	test.That(t, ctrl.MovementActive(), test.ShouldBeFalse)
}

func TestBlurResets(t *testing.T) {
	m := newModel(t, true)
	m, _ = update(t, m, runes('a'))
	test.That(t, m.ctrl.MovementActive(), test.ShouldBeTrue)

	m, _ = update(t, m, tea.BlurMsg{})
	test.That(t, m.ctrl.MovementActive(), test.ShouldBeFalse)
	test.That(t, len(m.holding), test.ShouldEqual, 0)
}

func TestDisconnectedKeysAreIgnored(t *testing.T) {
	m := newModel(t, false)
	m, _ = update(t, m, runes('w'))
	test.That(t, m.ctrl.Held(control.KeyW), test.ShouldBeFalse)
	test.That(t, len(m.holding), test.ShouldEqual, 0)
}

func TestMouseButtons(t *testing.T) {
	m := newModel(t, true)

	x := padLeft + cellWidth + 2
	m, _ = update(t, m, tea.MouseMsg{X: x, Y: padTop, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	test.That(t, m.ctrl.Held(control.KeyW), test.ShouldBeTrue)

	m, _ = update(t, m, tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	test.That(t, m.ctrl.Held(control.KeyW), test.ShouldBeFalse)
	test.That(t, m.ctrl.MovementActive(), test.ShouldBeFalse)
}

func TestButtonAt(t *testing.T) {
	s := newStyles()
	k, ok := s.buttonAt(padLeft, padTop)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, k, test.ShouldEqual, control.KeyQ)

	k, ok = s.buttonAt(padLeft+cellWidth, padTop+2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, k, test.ShouldEqual, control.KeyS)

	_, ok = s.buttonAt(padLeft, padTop+2)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.buttonAt(0, padTop)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.buttonAt(padLeft+3*cellWidth, padTop)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestModeKey(t *testing.T) {
	m := newModel(t, true)
	m, _ = update(t, m, runes('w'))
	m, _ = update(t, m, runes('m'))
	test.That(t, m.ctrl.Mode(), test.ShouldEqual, control.Toggle)
	test.That(t, m.ctrl.MovementActive(), test.ShouldBeFalse)
	test.That(t, m.status.Mode, test.ShouldEqual, control.Toggle)
}

func TestCtrlCQuits(t *testing.T) {
	m := newModel(t, true)
	m, _ = update(t, m, runes('d'))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	test.That(t, cmd, test.ShouldNotBeNil)
	_, isQuit := cmd().(tea.QuitMsg)
	test.That(t, isQuit, test.ShouldBeTrue)
	test.That(t, m.ctrl.MovementActive(), test.ShouldBeFalse)
	test.That(t, m.View(), test.ShouldEqual, "Stopped.\n")
}

func TestView(t *testing.T) {
	m := newModel(t, true)
	out := m.View()
	test.That(t, out, test.ShouldContainSubstring, "ROVERCTL")
	test.That(t, out, test.ShouldContainSubstring, "STOP")
	lines := strings.Split(out, "\n")
	test.That(t, strings.Contains(lines[padTop], "W"), test.ShouldBeTrue)
}
