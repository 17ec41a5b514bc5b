package wifi

import (
	"time"

	"golang.org/x/time/rate"

	"roverctl/internal/command"
)

type queuedCommand struct {
	cmd     command.Command
	retries int
}

type admission int

const (
	admitted admission = iota
	rateLimited
	saturated
	duplicate
)

func (a admission) String() string {
	switch a {
	case admitted:
		return "admitted"
	case rateLimited:
		return "rate limited"
	case saturated:
		return "queue saturated"
	case duplicate:
		return "duplicate of queue tail"
	}
	return "unknown"
}

// commandQueue is the bounded FIFO with the admission rules. It is not
// safe for concurrent use; Client guards it.
type commandQueue struct {
	capacity int
	interval time.Duration
	limiter  *rate.Limiter
	items    []*queuedCommand
}

func newCommandQueue(capacity int, interval time.Duration) *commandQueue {
	return &commandQueue{
		capacity: capacity,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// admit applies rate limiting, STOP priority, backpressure and tail
// de-duplication, in that order of precedence for non-STOP commands.
func (q *commandQueue) admit(cmd command.Command, now time.Time) admission {
	if cmd.IsStop() {
		q.markAdmitted(now)
		q.items = []*queuedCommand{{cmd: cmd}}
		return admitted
	}
	if !q.limiter.AllowN(now, 1) {
		return rateLimited
	}
	if len(q.items) >= q.capacity {
		return saturated
	}
	if tail := q.tail(); tail != nil && tail.cmd == cmd {
		return duplicate
	}
	q.items = append(q.items, &queuedCommand{cmd: cmd})
	return admitted
}

// markAdmitted restarts the rate window at now.
func (q *commandQueue) markAdmitted(now time.Time) {
	q.limiter = rate.NewLimiter(rate.Every(q.interval), 1)
	q.limiter.AllowN(now, 1)
}

func (q *commandQueue) head() *queuedCommand {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *commandQueue) tail() *queuedCommand {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[len(q.items)-1]
}

// remove pops item if it is still the head. A STOP or a disconnect may have
// replaced the queue while item was on the wire.
func (q *commandQueue) remove(item *queuedCommand) bool {
	if q.head() != item {
		return false
	}
	q.items[0] = nil
	q.items = q.items[1:]
	return true
}

func (q *commandQueue) clear() {
	q.items = nil
}

func (q *commandQueue) len() int {
	return len(q.items)
}

func (q *commandQueue) commands() []command.Command {
	out := make([]command.Command, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.cmd)
	}
	return out
}
