package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/frame"
	"github.com/danmuck/fsconnect/internal/protocol/session"
)

// Stream frames lines with CRLF over a byte-stream connection.
type Stream struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       frame.Limits
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewStream(conn net.Conn, limits frame.Limits) *Stream {
	if limits.MaxLineBytes <= 0 {
		limits = frame.DefaultLimits()
	}
	return &Stream{
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: limits,
	}
}

// DialTCP connects to a tcp:// or tls:// endpoint.
func DialTCP(ctx context.Context, endpoint string, cfg session.Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	u, err := session.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	var conn net.Conn
	switch u.Scheme {
	case session.SchemeTCP:
		conn, err = dialer.DialContext(ctx, "tcp", u.Host)
	case session.SchemeTLS:
		var tc *tls.Config
		tc, err = cfg.ClientTLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tc}
		conn, err = td.DialContext(ctx, "tcp", u.Host)
	default:
		return nil, fmt.Errorf("transport: stream cannot dial scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", u.Redacted(), err)
	}
	s := NewStream(conn, cfg.Limits)
	s.writeTimeout = cfg.WriteTimeout
	return s, nil
}

// Pipe returns two connected in-memory streams.
func Pipe() (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a, frame.DefaultLimits()), NewStream(b, frame.DefaultLimits())
}

func (s *Stream) Send(ctx context.Context, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(writeDeadline(ctx, s.writeTimeout)); err != nil {
		return mapIOError(ctx, err)
	}
	stop := interruptOnDone(ctx, s.conn.SetWriteDeadline)
	defer stop()
	return mapIOError(ctx, frame.WriteLine(s.conn, line, s.limits))
}

func (s *Stream) Receive(ctx context.Context) (string, error) {
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", mapIOError(ctx, err)
	}
	stop := interruptOnDone(ctx, s.conn.SetReadDeadline)
	defer stop()
	line, err := frame.ReadLine(s.reader, s.limits)
	if err != nil {
		return "", mapIOError(ctx, err)
	}
	return line, nil
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
