// Package control turns key and button edges into vehicle commands.
//
// A Controller owns the held-key map and the movement-active flag for one
// transport session. It guarantees that STOP is emitted exactly when motion
// intent goes from active to none, whatever order press, release, repeat,
// blur and disconnect events arrive in.
package control

import (
	"sort"
	"sync"

	"roverctl/internal/command"
	"roverctl/internal/logging"
)

// Link is the transport capability a Controller drives. Implementations must
// not block and must not call back into the Controller.
type Link interface {
	Connected() bool
	// Send hands cmd to the transport's normal path (queue or write slot).
	Send(cmd command.Command)
	// SendUrgent delivers cmd ahead of anything queued. Used for the reset STOP.
	SendUrgent(cmd command.Command)
}

// inputState is the per-session state. A fresh one is installed on every
// connect and disconnect so nothing leaks across sessions.
type inputState struct {
	held           map[Key]bool
	movementActive bool
	toggled        command.Command
}

func newInputState() *inputState {
	return &inputState{held: map[Key]bool{}}
}

func (s *inputState) anyMotionHeld() bool {
	return s.held[KeyW] || s.held[KeyA] || s.held[KeyS] || s.held[KeyD]
}

func (s *inputState) heldKeys() []string {
	var out []string
	for k, v := range s.held {
		if v {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out
}

// Controller is the input state tracker plus the control mode policy.
type Controller struct {
	mu     sync.Mutex
	link   Link
	logger logging.Logger
	mode   Mode
	speed  int
	st     *inputState
}

// NewController returns a Controller in hold mode at the default speed.
func NewController(link Link, logger logging.Logger) *Controller {
	return &Controller{
		link:   link,
		logger: logger,
		mode:   Hold,
		speed:  command.DefaultSpeed,
		st:     newInputState(),
	}
}

// SetLink swaps the transport the controller drives and drops all input state.
func (c *Controller) SetLink(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
	c.st = newInputState()
}

// KeyDown handles a key press. repeat marks auto-repeat presses from sources
// that can tell them apart. The return value reports whether the key was
// consumed.
func (c *Controller) KeyDown(k Key, repeat bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return false
	}

	if k.IsReset() {
		c.logger.Info("manual reset")
		c.resetLocked()
		return true
	}
	switch k {
	case KeyUp:
		c.changeSpeedLocked(1)
		return true
	case KeyDown:
		c.changeSpeedLocked(-1)
		return true
	}
	return c.pressLocked(k, repeat)
}

// KeyUp handles a key release.
func (c *Controller) KeyUp(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return false
	}
	return c.releaseLocked(k)
}

// ButtonDown is the on-screen button press. It shares state with KeyDown.
func (c *Controller) ButtonDown(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return
	}
	if k.IsReset() {
		c.resetLocked()
		return
	}
	c.pressLocked(k, false)
}

// ButtonUp is the on-screen button release.
func (c *Controller) ButtonUp(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return
	}
	c.releaseLocked(k)
}

func (c *Controller) pressLocked(k Key, repeat bool) bool {
	cmd, ok := k.Command()
	if !ok {
		return false
	}
	st := c.st

	if k.IsMotion() && c.mode == Toggle {
		if repeat {
			return true
		}
		if st.toggled != 0 {
			c.logger.Infow("toggle stop", "key", k)
			st.toggled = 0
			st.movementActive = false
			c.link.Send(command.Stop)
			return true
		}
		c.logger.Infow("toggle start", "key", k, "cmd", cmd)
		st.toggled = cmd
		st.movementActive = true
		c.link.Send(cmd)
		return true
	}

	if st.held[k] {
		c.logger.Debugw("key already held, ignoring repeat", "key", k)
		return k.IsMotion()
	}
	st.held[k] = true
	if k.IsMotion() {
		st.movementActive = true
		c.logger.Infow("key pressed", "key", k, "cmd", cmd)
	}
	c.link.Send(cmd)
	return k.IsMotion()
}

func (c *Controller) releaseLocked(k Key) bool {
	st := c.st
	if k.IsGripper() {
		st.held[k] = false
		return false
	}
	if !k.IsMotion() || c.mode == Toggle {
		return false
	}
	if !st.held[k] {
		c.logger.Debugw("key released but was not held", "key", k)
		return false
	}
	st.held[k] = false
	c.logger.Infow("key released", "key", k)

	if st.anyMotionHeld() {
		c.logger.Infow("other motion keys still held", "held", st.heldKeys())
		return true
	}
	if st.movementActive {
		st.movementActive = false
		c.logger.Info("no motion key held, sending stop")
		c.link.Send(command.Stop)
	}
	return true
}

// ChangeSpeed moves the speed level by delta, clamped to [0, 9]. The new level
// is sent only when it actually changes.
func (c *Controller) ChangeSpeed(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return
	}
	c.changeSpeedLocked(delta)
}

func (c *Controller) changeSpeedLocked(delta int) {
	next := command.ClampSpeed(c.speed + delta)
	if next == c.speed {
		return
	}
	c.speed = next
	c.logger.Infow("speed changed", "level", next)
	c.link.Send(command.Speed(next))
}

// Speed returns the current speed level.
func (c *Controller) Speed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SpeedCommand returns the opcode for the current speed level. Transports
// push it as the first command after connecting.
func (c *Controller) SpeedCommand() command.Command {
	return command.Speed(c.Speed())
}

// Mode returns the active control mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the control mode. Active movement is reset (and stopped)
// first so no command survives into the other interpretation.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setModeLocked(m)
}

func (c *Controller) setModeLocked(m Mode) {
	if m == c.mode {
		return
	}
	if c.st.movementActive {
		c.resetLocked()
	}
	c.st.toggled = 0
	c.mode = m
	c.logger.Infow("control mode changed", "mode", m)
}

// ToggleMode flips between hold and toggle and returns the new mode.
func (c *Controller) ToggleMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := Toggle
	if c.mode == Toggle {
		next = Hold
	}
	c.setModeLocked(next)
	return next
}

// Reset clears every held key and the movement flag. If movement was active
// a single STOP goes out on the urgent path.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	wasActive := c.st.movementActive
	c.st = newInputState()
	if !wasActive {
		return
	}
	if !c.connectedLocked() {
		return
	}
	c.link.SendUrgent(command.Stop)
	c.logger.Warn("emergency stop sent after key reset")
}

// Blur handles loss of input focus.
func (c *Controller) Blur() {
	c.logger.Info("input focus lost, resetting keys")
	c.Reset()
}

// Hide handles the UI going to the background.
func (c *Controller) Hide() {
	c.logger.Info("ui hidden, resetting keys")
	c.Reset()
}

// Detach drops all input state without emitting anything. Called when the
// transport disconnects.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = newInputState()
}

// MovementActive reports whether a motion command is outstanding.
func (c *Controller) MovementActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.movementActive
}

// Held reports whether k is currently held.
func (c *Controller) Held(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.held[k]
}

// Toggled returns the active toggle command, or 0.
func (c *Controller) Toggled() command.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.toggled
}

func (c *Controller) connectedLocked() bool {
	return c.link != nil && c.link.Connected()
}
