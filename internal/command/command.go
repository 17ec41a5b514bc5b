// Package command defines the single-character opcodes understood by the
// vehicle firmware.
package command

import (
	"github.com/pkg/errors"
)

// Command is one opcode byte. The zero value is not a valid command.
type Command byte

// Motion, gripper and stop opcodes.
const (
	Forward  Command = 'W'
	Left     Command = 'A'
	Backward Command = 'S'
	Right    Command = 'D'
	GripOpen Command = 'Q'
	GripShut Command = 'E'
	Stop     Command = 'X'
)

// Speed levels are the digits '0'..'9'.
const (
	MinSpeed     = 0
	MaxSpeed     = 9
	DefaultSpeed = 5
)

// Speed returns the opcode for a speed level, clamped to [MinSpeed, MaxSpeed].
func Speed(level int) Command {
	return Command('0' + ClampSpeed(level))
}

// ClampSpeed clamps level to [MinSpeed, MaxSpeed].
func ClampSpeed(level int) int {
	if level < MinSpeed {
		return MinSpeed
	}
	if level > MaxSpeed {
		return MaxSpeed
	}
	return level
}

// Parse converts a one-character string into a Command. Letters are
// accepted in either case.
func Parse(s string) (Command, error) {
	if len(s) != 1 {
		return 0, errors.Errorf("command must be a single character, got %q", s)
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	cmd := Command(c)
	if !cmd.Valid() {
		return 0, errors.Errorf("unknown command %q", s)
	}
	return cmd, nil
}

// Valid reports whether c belongs to the opcode alphabet.
func (c Command) Valid() bool {
	return c.IsMotion() || c.IsGripper() || c.IsStop() || c.IsSpeed()
}

// IsMotion reports whether c is one of W/A/S/D.
func (c Command) IsMotion() bool {
	switch c {
	case Forward, Left, Backward, Right:
		return true
	}
	return false
}

// IsGripper reports whether c is Q or E.
func (c Command) IsGripper() bool {
	return c == GripOpen || c == GripShut
}

// IsStop reports whether c is the stop opcode.
func (c Command) IsStop() bool {
	return c == Stop
}

// IsSpeed reports whether c is a speed digit.
func (c Command) IsSpeed() bool {
	return c >= '0' && c <= '9'
}

// SpeedLevel returns the level encoded by a speed opcode.
func (c Command) SpeedLevel() (int, bool) {
	if !c.IsSpeed() {
		return 0, false
	}
	return int(c - '0'), true
}

// Bytes is the wire encoding of c.
func (c Command) Bytes() []byte {
	return []byte{byte(c)}
}

func (c Command) String() string {
	if c == 0 {
		return ""
	}
	return string(rune(c))
}
