package evdev

// Input device selection helpers.
//
// We support:
// - listing /proc/bus/input/devices (the `devices` command)
// - a name/capability heuristic for the keyboard
// - "probing" keyboard nodes for short activity when several qualify

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"roverctl/internal/logging"
)

const procDevices = "/proc/bus/input/devices"

// ErrNoDevice means no usable input device was found.
var ErrNoDevice = errors.New("no keyboard input device found")

// DeviceInfo is one block of /proc/bus/input/devices.
type DeviceInfo struct {
	Name     string
	Handlers []string
	// EV is the supported event type bitmask.
	EV uint64
}

// Path returns the /dev/input node of the device, or "".
func (d DeviceInfo) Path() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return "/dev/input/" + h
		}
	}
	return ""
}

// IsKeyboard reports whether the kernel attached a keyboard handler.
func (d DeviceInfo) IsKeyboard() bool {
	if d.EV&(1<<EV_KEY) == 0 {
		return false
	}
	for _, h := range d.Handlers {
		if h == "kbd" {
			return true
		}
	}
	return false
}

func (d DeviceInfo) score() int {
	s := 0
	ln := strings.ToLower(d.Name)
	if strings.Contains(ln, "keyboard") {
		s += 10
	}
	if d.IsKeyboard() {
		s += 5
	}
	if d.EV&(1<<EV_REP) != 0 {
		s += 3
	}
	// power buttons and lid switches also carry kbd
	if strings.Contains(ln, "button") || strings.Contains(ln, "switch") {
		s -= 8
	}
	return s
}

// ListDevices reads the kernel's input device table.
func ListDevices() ([]DeviceInfo, error) {
	f, err := os.Open(procDevices)
	if err != nil {
		return nil, errors.Wrap(err, "reading input device table")
	}
	defer f.Close()
	return parseDevices(f)
}

func parseDevices(r io.Reader) ([]DeviceInfo, error) {
	var (
		out []DeviceInfo
		cur DeviceInfo
	)
	flush := func() {
		if cur.Name != "" || len(cur.Handlers) > 0 {
			out = append(out, cur)
		}
		cur = DeviceInfo{}
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), " \"")
		case strings.HasPrefix(line, "H: Handlers="):
			cur.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		case strings.HasPrefix(line, "B: EV="):
			v, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "B: EV=")), 16, 64)
			if err == nil {
				cur.EV = v
			}
		}
	}
	flush()
	return out, sc.Err()
}

// pickKeyboard returns the best keyboard candidates, best first.
func pickKeyboard(devs []DeviceInfo) []string {
	type cand struct {
		path  string
		score int
	}
	var cands []cand
	for _, d := range devs {
		p := d.Path()
		if p == "" || !d.IsKeyboard() {
			continue
		}
		cands = append(cands, cand{p, d.score()})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.path)
	}
	return out
}

// FindKeyboard resolves the device to read. An explicit path wins. With a
// positive probe duration and several candidates, the one that sees key
// activity (type during this!) is chosen.
func FindKeyboard(explicit string, probe time.Duration, logger logging.Logger) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	devs, err := ListDevices()
	if err != nil {
		logger.Debugw("falling back to /dev/input glob", "error", err)
	}
	cands := pickKeyboard(devs)
	if len(cands) == 0 {
		matches, _ := filepath.Glob("/dev/input/event*")
		sort.Strings(matches)
		if len(matches) == 0 {
			return "", ErrNoDevice
		}
		cands = matches
	}
	if len(cands) == 1 || probe <= 0 {
		return cands[0], nil
	}

	best, bestScore := cands[0], 0
	for _, p := range cands {
		n, err := probeDevice(p, probe)
		if err != nil {
			logger.Debugw("probe failed", "path", p, "error", err)
			continue
		}
		logger.Debugw("probe", "path", p, "key_events", n)
		if n > bestScore {
			best, bestScore = p, n
		}
	}
	logger.Infow("selected keyboard", "path", best, "key_events", bestScore)
	return best, nil
}

// probeDevice counts key events on path for dur.
func probeDevice(path string, dur time.Duration) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fd := int(f.Fd())

	if err := unix.SetNonblock(fd, true); err != nil {
		return 0, err
	}

	parser := &inputParser{}
	deadline := time.Now().Add(dur)
	count := 0
	buf := make([]byte, 4096)

	for time.Now().Before(deadline) {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		_, _ = unix.Poll(pfd, 50)
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			continue
		}
		parser.feed(buf[:n], func(etype uint16, _ uint16, _ int32) {
			if etype == EV_KEY {
				count++
			}
		})
	}
	return count, nil
}
