// Package fscpeer is a scripted forecourt controller for tests. It sits on
// the far end of an in-memory transport and lets a test assert every line
// the client writes and inject the lines the controller would send.
package fscpeer

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/frame"
	"github.com/danmuck/fsconnect/internal/transport"
)

// DefaultTimeout bounds every Expect call.
const DefaultTimeout = 2 * time.Second

// DefaultCapabilities is what the scripted controller advertises unless a
// test passes its own list.
var DefaultCapabilities = []string{
	"CHARSET", "PLAINAUTH", "HEARTBEAT", "NEWSESSION", "SESSIONS", "QUIT",
	"PRICE", "PRODUCT", "PUMP", "TRANSACTION", "RECEIPTINFO",
}

type Peer struct {
	t      testing.TB
	stream *transport.Stream
	lines  chan string
}

// New returns the peer and the client end of the pipe.
func New(t testing.TB) (*Peer, transport.Transport) {
	t.Helper()
	return NewLimited(t, frame.DefaultLimits())
}

// NewLimited is New with the client end reading under limits. The peer end
// keeps the default limits so it can send lines the client must refuse.
func NewLimited(t testing.TB, limits frame.Limits) (*Peer, transport.Transport) {
	t.Helper()
	a, b := net.Pipe()
	client := transport.NewStream(a, limits)
	server := transport.NewStream(b, frame.DefaultLimits())
	p := &Peer{
		t:      t,
		stream: server,
		lines:  make(chan string, 64),
	}
	go p.readLoop()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return p, client
}

func (p *Peer) readLoop() {
	defer close(p.lines)
	for {
		line, err := p.stream.Receive(context.Background())
		if err != nil {
			return
		}
		p.lines <- line
	}
}

// Send writes one line to the client.
func (p *Peer) Send(line string) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := p.stream.Send(ctx, line); err != nil {
		p.t.Fatalf("fscpeer: send %q: %v", line, err)
	}
}

// Next returns the next line written by the client.
func (p *Peer) Next() string {
	p.t.Helper()
	select {
	case line, ok := <-p.lines:
		if !ok {
			p.t.Fatalf("fscpeer: client closed the transport")
		}
		return line
	case <-time.After(DefaultTimeout):
		p.t.Fatalf("fscpeer: timed out waiting for a line")
	}
	return ""
}

// Expect fails the test unless the next line equals want.
func (p *Peer) Expect(want string) {
	p.t.Helper()
	if got := p.Next(); got != want {
		p.t.Fatalf("fscpeer: line got=%q want=%q", got, want)
	}
}

// ExpectPrefix fails the test unless the next line starts with prefix. It
// returns the full line.
func (p *Peer) ExpectPrefix(prefix string) string {
	p.t.Helper()
	got := p.Next()
	if !strings.HasPrefix(got, prefix) {
		p.t.Fatalf("fscpeer: line got=%q want prefix=%q", got, prefix)
	}
	return got
}

// ExpectSilence fails the test if the client writes anything within d.
func (p *Peer) ExpectSilence(d time.Duration) {
	p.t.Helper()
	select {
	case line, ok := <-p.lines:
		if ok {
			p.t.Fatalf("fscpeer: unexpected line=%q", line)
		}
	case <-time.After(d):
	}
}

// ExpectClosed waits for the client to close its end.
func (p *Peer) ExpectClosed() {
	p.t.Helper()
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return
			}
			p.t.Logf("fscpeer: discarding line=%q while waiting for close", line)
		case <-deadline:
			p.t.Fatalf("fscpeer: client did not close the transport")
		}
	}
}

// Handshake plays the controller side of negotiation: it reads the client
// CAPABILITY, advertises caps (DefaultCapabilities when empty) and accepts
// CHARSET. It returns the client's capability tokens.
func (p *Peer) Handshake(caps ...string) []string {
	p.t.Helper()
	if len(caps) == 0 {
		caps = DefaultCapabilities
	}
	line := p.ExpectPrefix("* CAPABILITY")
	p.Send("* CAPABILITY " + strings.Join(caps, " "))
	p.Expect("C1 CHARSET UTF-8")
	p.Send("C1 OK")
	return strings.Fields(strings.TrimPrefix(line, "* CAPABILITY"))
}

// Close drops the controller end of the pipe.
func (p *Peer) Close() {
	_ = p.stream.Close()
}
