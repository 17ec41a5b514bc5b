package evdev

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"roverctl/internal/control"
	"roverctl/internal/logging"
)

// Sink receives key edges. *control.Controller implements it.
type Sink interface {
	KeyDown(k control.Key, repeat bool) bool
	KeyUp(k control.Key) bool
	Blur()
}

var keyMap = map[uint16]control.Key{
	KEY_W:    control.KeyW,
	KEY_A:    control.KeyA,
	KEY_S:    control.KeyS,
	KEY_D:    control.KeyD,
	KEY_Q:    control.KeyQ,
	KEY_E:    control.KeyE,
	KEY_X:    control.KeyX,
	KEY_ESC:  control.KeyEscape,
	KEY_UP:   control.KeyUp,
	KEY_DOWN: control.KeyDown,
}

// Keyboard streams one evdev device into a Sink.
type Keyboard struct {
	Path string
	Grab bool
	// DumpEvents logs every raw event at debug level.
	DumpEvents bool

	logger logging.Logger
	sink   Sink
}

// NewKeyboard returns a Keyboard reading path.
func NewKeyboard(path string, grab bool, sink Sink, logger logging.Logger) *Keyboard {
	return &Keyboard{Path: path, Grab: grab, sink: sink, logger: logger}
}

// Run reads until ctx is done or the device fails. Losing the device counts
// as losing focus, so the sink is blurred before Run returns an error.
func (k *Keyboard) Run(ctx context.Context) error {
	f, err := os.Open(k.Path)
	if err != nil {
		k.sink.Blur()
		return errors.Wrapf(err, "open %s", k.Path)
	}
	defer f.Close()

	fd := int(f.Fd())
	if k.Grab {
		if err := grab(fd, true); err != nil {
			k.logger.Warnw("could not grab keyboard", "path", k.Path, "error", err)
		} else {
			defer func() { _ = grab(fd, false) }()
		}
	}
	k.logger.Infow("reading keyboard", "path", k.Path, "grab", k.Grab)
	return k.readLoop(ctx, fd)
}

func (k *Keyboard) readLoop(ctx context.Context, fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		k.sink.Blur()
		return err
	}
	parser := &inputParser{}
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, 100); err != nil && !errors.Is(err, unix.EINTR) {
			k.sink.Blur()
			return errors.Wrap(err, "poll")
		}
		if pfd[0].Revents == 0 {
			continue
		}

		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n == 0 {
			if err == nil {
				err = errors.New("device closed")
			}
			k.logger.Warnw("keyboard lost, resetting", "path", k.Path, "error", err)
			k.sink.Blur()
			return err
		}
		parser.feed(buf[:n], k.handle)
	}
}

func (k *Keyboard) handle(etype uint16, code uint16, value int32) {
	if k.DumpEvents {
		k.logger.Debugw("event", "type", etype, "code", code, "value", value)
	}
	if etype != EV_KEY {
		return
	}
	key, ok := keyMap[code]
	if !ok {
		return
	}
	switch value {
	case keyPress:
		k.sink.KeyDown(key, false)
	case keyRepeat:
		k.sink.KeyDown(key, true)
	case keyRelease:
		k.sink.KeyUp(key)
	}
}
