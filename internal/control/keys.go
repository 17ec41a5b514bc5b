package control

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"roverctl/internal/command"
)

// Key is a logical key identifier, lowercase like the browser's KeyboardEvent.key.
type Key string

// Keys the controller understands.
const (
	KeyW      Key = "w"
	KeyA      Key = "a"
	KeyS      Key = "s"
	KeyD      Key = "d"
	KeyQ      Key = "q"
	KeyE      Key = "e"
	KeyX      Key = "x"
	KeyEscape Key = "escape"
	KeyUp     Key = "arrowup"
	KeyDown   Key = "arrowdown"
)

var keyCommands = map[Key]command.Command{
	KeyW: command.Forward,
	KeyA: command.Left,
	KeyS: command.Backward,
	KeyD: command.Right,
	KeyQ: command.GripOpen,
	KeyE: command.GripShut,
}

// NormalizeKey lowercases and trims a key name.
func NormalizeKey(name string) Key {
	return Key(strings.ToLower(strings.TrimSpace(name)))
}

// Command returns the opcode mapped to k, if any.
func (k Key) Command() (command.Command, bool) {
	c, ok := keyCommands[k]
	return c, ok
}

// IsMotion reports whether k drives the wheels.
func (k Key) IsMotion() bool {
	switch k {
	case KeyW, KeyA, KeyS, KeyD:
		return true
	}
	return false
}

// IsGripper reports whether k drives the gripper.
func (k Key) IsGripper() bool {
	return k == KeyQ || k == KeyE
}

// IsReset reports whether k is the emergency reset.
func (k Key) IsReset() bool {
	return k == KeyEscape || k == KeyX
}

// Mode selects how motion keys are interpreted.
type Mode int

// Control modes.
const (
	// Hold commands motion while the key is held.
	Hold Mode = iota
	// Toggle starts motion on one press and stops it on the next.
	Toggle
)

func (m Mode) String() string {
	switch m {
	case Hold:
		return "hold"
	case Toggle:
		return "toggle"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "hold" or "toggle".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold", "":
		return Hold, nil
	case "toggle":
		return Toggle, nil
	}
	return Hold, errors.Errorf("unknown control mode %q (want hold|toggle)", s)
}
