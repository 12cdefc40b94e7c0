package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocket carries one protocol line per client text frame.
type WebSocket struct {
	conn         net.Conn
	rw           io.ReadWriter
	writeTimeout time.Duration

	writeMu   sync.Mutex
	pending   []string
	closeOnce sync.Once
	closeErr  error
}

// lockedWriter serializes pong and close replies written by the frame
// reader with Send.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type readWriter struct {
	io.Reader
	io.Writer
}

// DialWebSocket performs the WebSocket handshake against a ws:// or wss://
// endpoint.
func DialWebSocket(ctx context.Context, endpoint string, cfg session.Config) (*WebSocket, error) {
	cfg = cfg.WithDefaults()
	u, err := session.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme != session.SchemeWS && u.Scheme != session.SchemeWSS {
		return nil, fmt.Errorf("transport: websocket cannot dial scheme %q", u.Scheme)
	}
	dialer := ws.Dialer{Timeout: cfg.ConnectTimeout}
	if u.Scheme == session.SchemeWSS {
		tc, err := cfg.ClientTLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}
		dialer.TLSConfig = tc
	}
	conn, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", u.Redacted(), err)
	}
	return newWebSocket(conn, br, cfg.WriteTimeout), nil
}

// newWebSocket wraps an upgraded client connection. br holds bytes the
// server sent right after the handshake and must be drained first.
func newWebSocket(conn net.Conn, br *bufio.Reader, writeTimeout time.Duration) *WebSocket {
	w := &WebSocket{conn: conn, writeTimeout: writeTimeout}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	w.rw = readWriter{Reader: r, Writer: lockedWriter{mu: &w.writeMu, w: conn}}
	return w
}

func (w *WebSocket) Send(ctx context.Context, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("transport: line contains CR or LF")
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.SetWriteDeadline(writeDeadline(ctx, w.writeTimeout)); err != nil {
		return mapIOError(ctx, err)
	}
	stop := interruptOnDone(ctx, w.conn.SetWriteDeadline)
	defer stop()
	return mapIOError(ctx, wsutil.WriteClientText(w.conn, []byte(line+"\r\n")))
}

// Receive returns the next line. A text frame holding several CRLF lines is
// split and queued.
func (w *WebSocket) Receive(ctx context.Context) (string, error) {
	if len(w.pending) > 0 {
		line := w.pending[0]
		w.pending = w.pending[1:]
		return line, nil
	}
	if err := w.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", mapIOError(ctx, err)
	}
	stop := interruptOnDone(ctx, w.conn.SetReadDeadline)
	defer stop()
	for {
		data, op, err := wsutil.ReadServerData(w.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return "", io.EOF
			}
			return "", mapIOError(ctx, err)
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		lines := strings.Split(trimLine(string(data)), "\r\n")
		if len(lines) > 1 {
			w.pending = append(w.pending, lines[1:]...)
		}
		return lines[0], nil
	}
}

// Close sends a normal-closure frame and closes the connection.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteClientMessage(w.conn, ws.OpClose, body)
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
