package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/frame"
	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/danmuck/fsconnect/internal/testutil/testlog"
	"github.com/danmuck/fsconnect/internal/testutil/tlstest"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func TestPipeRoundTrip(t *testing.T) {
	testlog.Start(t)
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(ctx, "* CAPABILITY PRODUCTS HEARTBEAT")
	}()
	line, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if line != "* CAPABILITY PRODUCTS HEARTBEAT" {
		t.Fatalf("unexpected line=%q", line)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestStreamReceiveHonorsContext(t *testing.T) {
	testlog.Start(t)
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStreamCloseSignalsPeer(t *testing.T) {
	testlog.Start(t)
	client, server := Pipe()
	_ = server.Close()
	_, err := client.Receive(context.Background())
	if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) {
		t.Fatalf("expected EOF or ErrClosed, got %v", err)
	}
	if err := client.Send(context.Background(), "C1 QUIT bye"); !errors.Is(err, ErrClosed) && !errors.Is(err, io.EOF) {
		t.Fatalf("expected closed send error, got %v", err)
	}
	_ = client.Close()
}

func TestDialTCPWritesCRLFLines(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		raw, _ := r.ReadString('\n')
		got <- raw
		_, _ = conn.Write([]byte("C1 OK\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialTCP(ctx, "tcp://"+ln.Addr().String(), session.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	if err := s.Send(ctx, "C1 CHARSET UTF-8"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if raw := <-got; raw != "C1 CHARSET UTF-8\r\n" {
		t.Fatalf("unexpected wire bytes=%q", raw)
	}
	line, err := s.Receive(ctx)
	if err != nil || line != "C1 OK" {
		t.Fatalf("receive got=%q err=%v", line, err)
	}
}

func TestDialTLSVerifiesServer(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "fsc-test-ca")
	ln, err := tls.Listen("tcp", "127.0.0.1:0", ca.LocalServerConfig(t, dir))
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		s := NewStream(conn, frame.DefaultLimits())
		line, err := s.Receive(context.Background())
		if err != nil {
			return
		}
		_ = s.Send(context.Background(), strings.Replace(line, "HEARTBEAT", "BEAT", 1))
	}()

	cfg := session.DefaultConfig()
	cfg.TLS = session.TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := DialTCP(ctx, "tls://"+ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("dial tls: %v", err)
	}
	defer s.Close()
	if err := s.Send(ctx, "C1 HEARTBEAT"); err != nil {
		t.Fatalf("send: %v", err)
	}
	line, err := s.Receive(ctx)
	if err != nil || line != "C1 BEAT" {
		t.Fatalf("receive got=%q err=%v", line, err)
	}
}

func TestWebSocketTextFrames(t *testing.T) {
	testlog.Start(t)
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		received <- string(msg)
		_ = wsutil.WriteServerText(conn, []byte("C1 PRODUCT 0010 ron98 0.19\r\nC1 OK\r\n"))
		_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		// wait for the client's close reply before dropping the socket
		_, _, _ = wsutil.ReadClientData(conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	w, err := DialWebSocket(ctx, endpoint, session.DefaultConfig())
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer w.Close()

	if err := w.Send(ctx, "C1 PRODUCTS"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := <-received; got != "C1 PRODUCTS\r\n" {
		t.Fatalf("server got=%q", got)
	}
	for _, want := range []string{"C1 PRODUCT 0010 ron98 0.19", "C1 OK"} {
		line, err := w.Receive(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if line != want {
			t.Fatalf("line got=%q want=%q", line, want)
		}
	}
	if _, err := w.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close frame, got %v", err)
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	testlog.Start(t)
	if _, err := Dial(context.Background(), "http://fsc.local", session.DefaultConfig()); !errors.Is(err, session.ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}
