// Package tui is the bubbletea front end.
//
// Terminals report key presses and auto-repeat but never releases. A
// per-key debouncer turns a quiet period of release_after into a synthetic
// release; presses that arrive while the synthetic hold is active are
// passed on as repeats.
package tui

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"roverctl/internal/control"
	"roverctl/internal/logging"
	"roverctl/internal/remote"
)

// Model is the TUI model.
type Model struct {
	ctx     context.Context
	session *remote.Session
	ctrl    *control.Controller
	logger  logging.Logger

	releaseAfter time.Duration
	releases     chan control.Key
	debouncers   map[control.Key]func(func())
	holding      map[control.Key]bool
	mouseKey     control.Key

	keys   keyMap
	help   help.Model
	styles styles

	status   remote.Status
	lastErr  string
	width    int
	quitting bool
}

// eventMsg wraps session events for bubbletea.
type eventMsg remote.Event

// releaseMsg is a synthetic key release.
type releaseMsg control.Key

// resultMsg carries the outcome of a blocking session call.
type resultMsg struct {
	op  string
	err error
}

// TickMsg is sent periodically to update the UI.
type TickMsg time.Time

// New creates the model.
func New(ctx context.Context, s *remote.Session, releaseAfter time.Duration, logger logging.Logger) Model {
	return Model{
		ctx:          ctx,
		session:      s,
		ctrl:         s.Controller(),
		logger:       logger,
		releaseAfter: releaseAfter,
		releases:     make(chan control.Key, 16),
		debouncers:   map[control.Key]func(func()){},
		holding:      map[control.Key]bool{},
		keys:         newKeyMap(),
		help:         help.New(),
		styles:       newStyles(),
		status:       s.Status(),
	}
}

// Options are the program options the model needs.
func Options() []tea.ProgramOption {
	return []tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.listenSession(),
		m.listenReleases(),
		m.tick(),
	)
}

func (m Model) listenSession() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.session.Events():
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) listenReleases() tea.Cmd {
	return func() tea.Msg {
		select {
		case k := <-m.releases:
			return releaseMsg(k)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)

	case tea.BlurMsg:
		m.ctrl.Blur()
		m.dropHolds()

	case tea.ResumeMsg:
		m.logger.Info("ui resumed")

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case eventMsg:
		if msg.Kind == remote.StatusChanged {
			m.logger.Debugw("status", "transport", msg.Transport, "state", msg.State)
		}
		cmds = append(cmds, m.listenSession())

	case releaseMsg:
		k := control.Key(msg)
		if m.holding[k] {
			delete(m.holding, k)
			m.ctrl.KeyUp(k)
		}
		cmds = append(cmds, m.listenReleases())

	case resultMsg:
		m.lastErr = ""
		if msg.err != nil {
			m.lastErr = msg.op + ": " + msg.err.Error()
		}

	case TickMsg:
		cmds = append(cmds, m.tick())
	}

	m.status = m.session.Status()
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Reset()
		m.dropHolds()
		m.quitting = true
		return m, tea.Quit
	case "ctrl+z":
		m.ctrl.Hide()
		m.dropHolds()
		return m, tea.Suspend
	case "c":
		return m, m.run("connect", m.session.ToggleConnection)
	case "t":
		return m, m.run("transport", func(context.Context) error {
			_, err := m.session.ToggleTransport()
			return err
		})
	case "m":
		m.dropHolds()
		m.ctrl.ToggleMode()
		m.status = m.session.Status()
		return m, nil
	}

	k, ok := controlKey(msg)
	if !ok {
		return m, nil
	}
	m.press(k)
	m.status = m.session.Status()
	return m, nil
}

// press forwards a terminal key press and arms its synthetic release.
func (m Model) press(k control.Key) {
	if _, ok := k.Command(); !ok {
		// speed and reset keys have no hold
		if k.IsReset() {
			m.dropHolds()
		}
		m.ctrl.KeyDown(k, false)
		return
	}

	repeat := m.holding[k]
	if !m.ctrl.KeyDown(k, repeat) && !k.IsGripper() {
		return
	}
	m.holding[k] = true

	d, ok := m.debouncers[k]
	if !ok {
		d = debounce.New(m.releaseAfter)
		m.debouncers[k] = d
	}
	releases, ctx := m.releases, m.ctx
	d(func() {
		select {
		case releases <- k:
		case <-ctx.Done():
		}
	})
}

func (m Model) dropHolds() {
	for k := range m.holding {
		delete(m.holding, k)
	}
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return
		}
		k, ok := m.styles.buttonAt(msg.X, msg.Y)
		if !ok {
			return
		}
		m.mouseKey = k
		m.ctrl.ButtonDown(k)
	case tea.MouseActionRelease:
		if m.mouseKey == "" {
			return
		}
		m.ctrl.ButtonUp(m.mouseKey)
		m.mouseKey = ""
	}
}

func (m Model) run(op string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, err: fn(ctx)}
	}
}
