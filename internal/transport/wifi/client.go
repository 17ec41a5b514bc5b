// Package wifi drives the vehicle over a WebSocket served by its firmware.
//
// Outbound commands go through a small bounded queue drained by a single
// loop. Every non-STOP command waits for an "ACK:<opcode>" echo and is
// retried a bounded number of times; STOP is fire-and-forget and always
// jumps the queue. A dropped link reconnects on its own until Disconnect.
package wifi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"roverctl/internal/command"
	"roverctl/internal/logging"
)

// Defaults for Options.
const (
	DefaultURL            = "ws://192.168.4.1/ws"
	DefaultQueueCapacity  = 5
	DefaultRateInterval   = 50 * time.Millisecond
	DefaultAckTimeout     = 1000 * time.Millisecond
	DefaultMaxRetries     = 2
	DefaultPacing         = 10 * time.Millisecond
	DefaultFailureBackoff = 50 * time.Millisecond
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultReconnectDelay = 3000 * time.Millisecond
	DefaultPingEvery      = 2 * time.Second
	DefaultPongWait       = 8 * time.Second

	// NoRetries as Options.MaxRetries gives every command a single attempt.
	NoRetries = -1
)

var (
	// ErrNotConnected is returned when the socket is not open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// State is the connection status.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tune a Client. Zero values take defaults; a negative PingEvery or
// PongWait disables that keepalive.
type Options struct {
	URL            string
	QueueCapacity  int
	RateInterval   time.Duration
	AckTimeout     time.Duration
	// MaxRetries counts resends after the first attempt. Use NoRetries for
	// a single attempt.
	MaxRetries     int
	Pacing         time.Duration
	FailureBackoff time.Duration
	SettleDelay    time.Duration
	ReconnectDelay time.Duration
	PingEvery      time.Duration
	PongWait       time.Duration
	Clock          clock.Clock

	// InitialCommand is written straight to the socket once it settles.
	InitialCommand func() command.Command
	// OnSent observes every command written to the socket.
	OnSent func(command.Command)
	// OnState observes connection state changes.
	OnState func(State)
}

func (o *Options) setDefaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.RateInterval <= 0 {
		o.RateInterval = DefaultRateInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.Pacing <= 0 {
		o.Pacing = DefaultPacing
	}
	if o.FailureBackoff <= 0 {
		o.FailureBackoff = DefaultFailureBackoff
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.PingEvery == 0 {
		o.PingEvery = DefaultPingEvery
	}
	if o.PongWait == 0 {
		o.PongWait = DefaultPongWait
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

type ackWait struct {
	cmd  command.Command
	done chan bool
}

// resolve completes the wait once; false means abandoned.
func (w *ackWait) resolve(ok bool) {
	select {
	case w.done <- ok:
	default:
	}
}

// Client is the WiFi transport adapter.
type Client struct {
	logger logging.Logger
	opts   Options

	// sendMu orders socket writes from the drain loop and SendUrgent.
	// Lock order is sendMu then mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	conn       *wsConn
	session    string
	queue      *commandQueue
	processing bool
	ack        *ackWait
	reconnect  *clock.Timer
	settle     *clock.Timer
	manual     bool
	closed     bool
}

// NewClient returns a disconnected Client.
func NewClient(logger logging.Logger, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		logger: logger,
		opts:   opts,
		queue:  newCommandQueue(opts.QueueCapacity, opts.RateInterval),
	}
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Connect opens the socket. A dial failure puts the client in the error
// state and schedules a reconnect; a malformed URL does not.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case Connected:
		c.mu.Unlock()
		c.logger.Info("websocket already connected")
		return nil
	case Connecting:
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.state = Connecting
	c.mu.Unlock()
	c.notify(Connecting)

	c.logger.Infow("connecting", "url", c.opts.URL)
	conn, err := dialWS(ctx, c.opts.URL, c.opts.PingEvery, c.opts.PongWait, c.handleMessage)
	if err != nil {
		c.mu.Lock()
		c.state = Error
		retry := !isURLError(err) && !c.manual && !c.closed
		if retry {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		c.notify(Error)
		c.logger.Errorw("error connecting websocket", "url", c.opts.URL, "retry", retry, "error", err)
		return errors.Wrapf(err, "connect %s", c.opts.URL)
	}

	c.mu.Lock()
	if c.manual || c.closed {
		c.state = Disconnected
		c.mu.Unlock()
		conn.Close()
		c.notify(Disconnected)
		return ErrNotConnected
	}
	c.conn = conn
	c.session = uuid.NewString()
	c.state = Connected
	c.queue.clear()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.settle = c.opts.Clock.AfterFunc(c.opts.SettleDelay, func() { c.sendInitial(conn) })
	session := c.session
	c.mu.Unlock()

	c.logger.Infow("websocket connected", "session", session)
	c.notify(Connected)
	go c.watch(conn)
	return nil
}

func isURLError(err error) bool {
	return errors.Is(err, errBadURL)
}

func (c *Client) sendInitial(conn *wsConn) {
	c.mu.Lock()
	if c.conn != conn || c.opts.InitialCommand == nil {
		c.mu.Unlock()
		return
	}
	c.settle = nil
	c.mu.Unlock()

	cmd := c.opts.InitialCommand()
	if err := c.write(conn, cmd); err != nil {
		c.logger.Errorw("error sending initial command", "cmd", cmd, "error", err)
		return
	}
	c.logger.Infow("initial speed sent", "cmd", cmd)
}

func (c *Client) watch(conn *wsConn) {
	err := <-conn.Err()
	c.handleClose(conn, err)
}

// handleClose runs for every socket close, local or remote.
func (c *Client) handleClose(conn *wsConn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.dropQueueLocked()
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	retry := !c.manual && !c.closed
	if retry {
		c.scheduleReconnectLocked()
	}
	session := c.session
	c.mu.Unlock()

	conn.Close()
	c.logger.Infow("websocket disconnected", "session", session, "reason", err, "reconnect_in", c.opts.ReconnectDelay)
	c.notify(Disconnected)
}

func (c *Client) scheduleReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = c.opts.Clock.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		stop := c.manual || c.closed
		c.mu.Unlock()
		if stop {
			return
		}
		c.logger.Info("attempting reconnect")
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Debugw("reconnect failed", "error", err)
		}
	})
}

// Disconnect closes the socket and cancels any pending reconnect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	conn := c.conn
	c.conn = nil
	c.dropQueueLocked()
	changed := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		c.logger.Info("websocket disconnected by user")
		c.notify(Disconnected)
	}
	return nil
}

// Close disconnects for good.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Disconnect()
}

func (c *Client) dropQueueLocked() {
	c.queue.clear()
	if c.ack != nil {
		c.ack.resolve(false)
		c.ack = nil
	}
}

func (c *Client) notify(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// handleMessage is called from the read loop for every text frame.
func (c *Client) handleMessage(msg string) {
	switch {
	case strings.HasPrefix(msg, "ACK:") && len(msg) > len("ACK:"):
		cmd := command.Command(msg[len("ACK:")])
		c.mu.Lock()
		wait := c.ack
		if wait != nil && wait.cmd == cmd {
			c.ack = nil
		}
		c.mu.Unlock()
		if wait == nil || wait.cmd != cmd {
			c.logger.Debugw("ack without matching command", "ack", cmd)
			return
		}
		c.logger.Debugw("ack received", "cmd", cmd)
		wait.resolve(true)
	case msg == "CONNECTED":
		c.logger.Info("firmware confirmed connection")
	default:
		c.logger.Debugw("message received", "msg", msg)
	}
}

// Send enqueues cmd.
func (c *Client) Send(cmd command.Command) {
	c.Enqueue(cmd)
}

// Enqueue admits cmd into the outbound queue and makes sure the drain loop
// is running. Rejected commands are dropped silently.
func (c *Client) Enqueue(cmd command.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		c.logger.Debugw("not connected, dropping command", "cmd", cmd)
		return
	}
	res := c.queue.admit(cmd, c.opts.Clock.Now())
	if res != admitted {
		c.logger.Debugw("command dropped", "cmd", cmd, "reason", res, "queue", c.queue.len())
		return
	}
	if cmd.IsStop() && c.ack != nil {
		// the head was replaced; stop waiting on it
		c.ack.resolve(false)
		c.ack = nil
	}
	c.logger.Debugw("command queued", "cmd", cmd, "queue", c.queue.len())
	if !c.processing {
		c.processing = true
		go c.drain()
	}
}

// SendUrgent purges the queue and writes cmd straight to the socket.
func (c *Client) SendUrgent(cmd command.Command) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.dropQueueLocked()
	c.queue.markAdmitted(c.opts.Clock.Now())
	c.mu.Unlock()

	if err := c.write(conn, cmd); err != nil {
		c.logger.Errorw("error sending urgent command", "cmd", cmd, "error", err)
	}
}

func (c *Client) write(conn *wsConn, cmd command.Command) error {
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteText(cmd.String()); err != nil {
		return err
	}
	c.logger.Debugw("command sent", "cmd", cmd)
	if c.opts.OnSent != nil {
		c.opts.OnSent(cmd)
	}
	return nil
}

// drain is the single consumer of the queue. It exits when the queue is empty.
func (c *Client) drain() {
	for {
		c.mu.Lock()
		item := c.queue.head()
		if item == nil {
			c.processing = false
			c.mu.Unlock()
			return
		}
		var wait *ackWait
		if !item.cmd.IsStop() {
			wait = &ackWait{cmd: item.cmd, done: make(chan bool, 1)}
			c.ack = wait
		}
		c.mu.Unlock()

		// armed before the write so a fast ACK or an early timeout is never missed
		var timer *clock.Timer
		if wait != nil {
			timer = c.opts.Clock.Timer(c.opts.AckTimeout)
		}

		// an urgent STOP may have purged item since it was taken
		c.sendMu.Lock()
		c.mu.Lock()
		current := c.queue.head() == item
		conn := c.conn
		c.mu.Unlock()
		if !current {
			c.sendMu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			c.logger.Debugw("command superseded before send", "cmd", item.cmd)
			continue
		}
		err := c.write(conn, item.cmd)
		c.sendMu.Unlock()

		if err != nil {
			if timer != nil {
				timer.Stop()
			}
			c.logger.Errorw("error sending command", "cmd", item.cmd, "error", err)
			c.mu.Lock()
			if c.ack == wait {
				c.ack = nil
			}
			c.retryOrDropLocked(item, "send failed")
			c.mu.Unlock()
			c.opts.Clock.Sleep(c.opts.FailureBackoff)
			continue
		}

		if wait == nil {
			c.logger.Info("stop sent without waiting for ack")
			c.mu.Lock()
			c.queue.remove(item)
			c.mu.Unlock()
			c.opts.Clock.Sleep(c.opts.Pacing)
			continue
		}

		var acked bool
		select {
		case acked = <-wait.done:
		case <-timer.C:
		}
		timer.Stop()

		c.mu.Lock()
		if c.ack == wait {
			c.ack = nil
		}
		if acked {
			c.queue.remove(item)
		} else {
			c.retryOrDropLocked(item, "ack timeout")
		}
		c.mu.Unlock()
		c.opts.Clock.Sleep(c.opts.Pacing)
	}
}

// retryOrDropLocked accounts one failed attempt for item, if it is still
// the head of the queue.
func (c *Client) retryOrDropLocked(item *queuedCommand, reason string) {
	if c.queue.head() != item {
		return
	}
	if item.retries < c.opts.MaxRetries {
		item.retries++
		c.logger.Warnw("command attempt failed",
			"cmd", item.cmd, "attempt", item.retries, "of", c.opts.MaxRetries+1, "reason", reason)
		return
	}
	c.logger.Errorw("discarding command after retries", "cmd", item.cmd, "retries", c.opts.MaxRetries, "reason", reason)
	c.queue.remove(item)
}

// Queue returns the queued commands, head first.
func (c *Client) Queue() []command.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.commands()
}
