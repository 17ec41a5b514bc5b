// Package evdev reads a Linux keyboard from /dev/input/event* and feeds key
// edges into the controller. Unlike a terminal, evdev reports real releases
// and marks auto-repeat, so hold mode behaves exactly as on a desktop.
package evdev

// Linux input plumbing:
// - constants for event codes we care about
// - ioctl helper for EVIOCGRAB
// - parsing input_event stream (16B vs 24B timeval size)

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Minimal Linux input constants
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REP = 0x14
)

// Key codes (input-event-codes.h)
const (
	KEY_ESC  = 1
	KEY_Q    = 16
	KEY_W    = 17
	KEY_E    = 18
	KEY_A    = 30
	KEY_S    = 31
	KEY_D    = 32
	KEY_X    = 45
	KEY_UP   = 103
	KEY_DOWN = 108
)

// EV_KEY values
const (
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
)

func ioc(dir uint32, typ uint32, nr uint32, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

func evioCGrab() uintptr {
	// EVIOCGRAB = _IOW('E', 0x90, int)
	return ioc(iocWrite, uint32('E'), uint32(0x90), uint32(unsafe.Sizeof(int32(0))))
}

// grab takes exclusive access so keystrokes do not also reach the console.
func grab(fd int, on bool) error {
	var v int32
	if on {
		v = 1
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGrab(), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

// inputParser parses Linux input_event structs from a stream.
// Kernel uses different struct size depending on timeval size (32-bit vs 64-bit).
type inputParser struct {
	buf []byte
	sz  int // 0 unknown, else 16 or 24
}

func (p *inputParser) feed(chunk []byte, cb func(etype uint16, code uint16, value int32)) {
	p.buf = append(p.buf, chunk...)
	if p.sz == 0 {
		if len(p.buf) >= 48 && len(p.buf)%24 == 0 {
			p.sz = 24
		} else if len(p.buf) >= 32 && len(p.buf)%16 == 0 {
			p.sz = 16
		} else if len(p.buf) >= 24 {
			p.sz = 24
		}
	}
	for p.sz != 0 && len(p.buf) >= p.sz {
		ev := p.buf[:p.sz]
		p.buf = p.buf[p.sz:]
		off := p.sz - 8
		etype := binary.LittleEndian.Uint16(ev[off : off+2])
		code := binary.LittleEndian.Uint16(ev[off+2 : off+4])
		value := int32(binary.LittleEndian.Uint32(ev[off+4 : off+8]))
		cb(etype, code, value)
	}
}
