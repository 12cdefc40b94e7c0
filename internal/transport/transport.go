// Package transport carries protocol lines between the engine and the
// forecourt controller. Implementations append CRLF on Send, strip it on
// Receive, and serialize concurrent writers so each line is written whole.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/session"
)

var ErrClosed = errors.New("transport: closed")

// Transport is a message-preserving duplex line channel.
type Transport interface {
	Send(ctx context.Context, line string) error
	// Receive blocks for the next line. io.EOF or ErrClosed signal that the
	// peer or the local side closed the channel.
	Receive(ctx context.Context) (string, error)
	Close() error
}

// Dial opens a transport for endpoint based on its scheme: ws/wss use
// WebSocket text frames, tcp/tls use CRLF line framing on a byte stream.
func Dial(ctx context.Context, endpoint string, cfg session.Config) (Transport, error) {
	u, err := session.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case session.SchemeWS, session.SchemeWSS:
		return DialWebSocket(ctx, endpoint, cfg)
	case session.SchemeTCP, session.SchemeTLS:
		return DialTCP(ctx, endpoint, cfg)
	}
	return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
}

// interruptOnDone forces blocked I/O to return once ctx ends by moving the
// deadline into the past. The returned func stops the watcher.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = setDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

// writeDeadline picks the earlier of the ctx deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func mapIOError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	}
	return err
}

func trimLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
