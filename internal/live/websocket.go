package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interview-voice-lab/internal/logging"
)

const (
	// MaxMessageSize bounds one inbound frame (16MB).
	MaxMessageSize = 16 * 1024 * 1024

	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// ErrHandshake is wrapped by Dial when the server closes or replies with
// something other than setupComplete.
var ErrHandshake = errors.New("live: setup handshake failed")

// WebSocketDialer dials the realtime endpoint over gorilla/websocket.
type WebSocketDialer struct {
	URL    string
	APIKey string
	// HandshakeTimeout bounds the upgrade plus the wait for setupComplete.
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// Dial upgrades the connection, sends the setup message and blocks until
// setupComplete arrives.
func (d *WebSocketDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	setup, err := EncodeSetup(cfg)
	if err != nil {
		return nil, err
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: timeout}
	}
	headers := http.Header{}
	if d.APIKey != "" {
		headers.Set("x-goog-api-key", d.APIKey)
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ws, resp, err := dialer.DialContext(dctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live: dial %s: %w (status=%d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("live: dial %s: %w", d.URL, err)
	}
	ws.SetReadLimit(MaxMessageSize)
	c := &wsConn{ws: ws}

	if err := c.write(setup); err != nil {
		ws.Close()
		return nil, fmt.Errorf("live: send setup: %w", err)
	}
	if err := c.awaitSetup(dctx); err != nil {
		ws.Close()
		return nil, err
	}
	logging.Debugw("live: setup complete", "url", d.URL, "model", ModelPath(cfg.Model))
	return c, nil
}

type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) awaitSetup(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrHandshake, ctx.Err())
			}
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if msg.SetupComplete {
			_ = c.ws.SetReadDeadline(time.Time{})
			return nil
		}
		logging.Debugw("live: ignoring message before setupComplete", "bytes", len(data))
	}
}

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Send(ctx context.Context, pkt Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodePacket(pkt)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Receive returns the next non-empty server message. A normal close from
// the server is reported as io.EOF.
func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Message{}, io.EOF
			}
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, err
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			logging.Warnw("live: dropping undecodable server message", "err", err, "bytes", len(data))
			continue
		}
		if msg.Empty() {
			continue
		}
		return msg, nil
	}
}

// Close sends a close frame and releases the socket. Safe to call more
// than once and concurrently with Receive.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
