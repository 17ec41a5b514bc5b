package wifi

// WebSocket link with:
// - TCP keepalive on the dialer
// - ping ticker
// - pong watchdog (read deadline)
// - background reader that hands text frames to the client

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const writeWait = 5 * time.Second

var errBadURL = errors.New("invalid websocket url")

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	onMessage func(string)

	closeOnce sync.Once
	done      chan struct{}
	errC      chan error
}

func dialWS(ctx context.Context, wsURL string, pingEvery, pongWait time.Duration, onMessage func(string)) (*wsConn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errors.Wrap(errBadURL, err.Error())
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.Wrapf(errBadURL, "%q", wsURL)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 15 * time.Second,
		}).DialContext,
	}

	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	w := &wsConn{
		conn:      conn,
		onMessage: onMessage,
		done:      make(chan struct{}),
		errC:      make(chan error, 1),
	}

	// Keepalive needs READ to process PONG/close frames.
	conn.SetReadLimit(1 << 16)
	if pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(_ string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	go w.readLoop()
	if pingEvery > 0 {
		go w.pingLoop(pingEvery)
	}
	return w, nil
}

func (w *wsConn) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.mu.Unlock()
		_ = w.conn.Close()
	})
}

// Err reports the first read or keepalive failure.
func (w *wsConn) Err() <-chan error { return w.errC }

func (w *wsConn) sendErr(err error) {
	select {
	case w.errC <- err:
	default:
	}
}

func (w *wsConn) readLoop() {
	for {
		select {
		case <-w.done:
			w.sendErr(net.ErrClosed)
			return
		default:
		}
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			w.sendErr(err)
			return
		}
		if typ == websocket.TextMessage && w.onMessage != nil {
			w.onMessage(string(data))
		}
	}
}

func (w *wsConn) pingLoop(pingEvery time.Duration) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.mu.Lock()
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.conn.WriteMessage(websocket.PingMessage, []byte("ping"))
			w.mu.Unlock()
			if err != nil {
				w.sendErr(err)
				return
			}
		}
	}
}

// WriteText sends one text frame.
func (w *wsConn) WriteText(s string) error {
	select {
	case <-w.done:
		return errors.Wrap(ErrNotConnected, "link closed")
	default:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(s))
}
