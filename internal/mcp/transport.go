package mcp

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/interview-voice-lab/internal/logging"
)

const writeTimeout = 10 * time.Second

// wsTransport serves one MCP session over an established websocket.
type wsTransport struct {
	conn *websocket.Conn
	id   string
}

// NewWebSocketTransport wraps conn as an MCP transport. Each JSON-RPC message
// travels as one websocket frame.
func NewWebSocketTransport(conn *websocket.Conn, sessionID string) sdk.Transport {
	return &wsTransport{conn: conn, id: sessionID}
}

func (t *wsTransport) Connect(ctx context.Context) (sdk.Connection, error) {
	return &wsConnection{conn: t.conn, id: t.id}, nil
}

type wsConnection struct {
	conn *websocket.Conn
	id   string
	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Read returns the next JSON-RPC message. Cancelling ctx unblocks a pending
// read, and a normal close from the peer ends the session with io.EOF.
func (w *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = w.conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		kind, data, err := w.conn.ReadMessage()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			return nil, io.EOF
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			return nil, err
		case kind != websocket.TextMessage:
			logging.Debugw("mcp: skipping non-text frame", "session_id", w.id, "type", kind)
			continue
		}
		return jsonrpc.DecodeMessage(data)
	}
}

func (w *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(writeTimeout)
	}
	_ = w.conn.SetWriteDeadline(dl)
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close says goodbye with a normal close frame before dropping the socket.
func (w *wsConnection) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

func (w *wsConnection) SessionID() string { return w.id }

// WebSocketHandler upgrades each request and runs an MCP session on it
// until the client disconnects.
func WebSocketHandler(server *sdk.Server) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: ws upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		id := newSessionID()
		ss, err := server.Connect(context.Background(), NewWebSocketTransport(conn, id), nil)
		if err != nil {
			logging.Errorw("mcp: server connect failed", "error", err, "session_id", id)
			_ = conn.Close()
			return
		}
		logging.Infow("mcp: session started", "session_id", id, "remote", r.RemoteAddr)
		go func() {
			if err := ss.Wait(); err != nil {
				logging.Debugw("mcp: session ended", "session_id", id, "error", err)
				return
			}
			logging.Infow("mcp: session ended", "session_id", id)
		}()
	})
}
