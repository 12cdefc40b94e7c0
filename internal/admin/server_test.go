package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/fsconnect/internal/site"
	"github.com/danmuck/fsconnect/internal/testutil/testlog"
)

type stubSource struct {
	ready bool
	st    site.Status
}

func (s stubSource) Status() site.Status { return s.st }
func (s stubSource) Ready() bool         { return s.ready }

func readyStatus() site.Status {
	return site.Status{
		State:              "ready",
		ConnectionID:       "conn-1",
		Endpoint:           "tcp://fsc.test:7000",
		Policy:             site.PolicyReconnect,
		ServerCapabilities: []string{"CHARSET", "PLAINAUTH"},
		ClientCapabilities: []string{"HEARTBEAT", "PRODUCTS", "QUIT", "SESSIONMODE"},
		Sessions: []site.SessionStatus{
			{Prefix: "", Active: true, Authenticated: true},
			{Prefix: "shop1", Active: false, Authenticated: true, Pending: 1},
		},
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body=%q: %v", rec.Body.String(), err)
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	testlog.Start(t)
	s := New(stubSource{}, Config{Node: "site-a"})
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status got=%d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["service"] != "site-a" {
		t.Fatalf("unexpected body=%v", body)
	}
}

func TestReadyReflectsConnection(t *testing.T) {
	testlog.Start(t)
	down := New(stubSource{st: site.Status{State: "disconnected", LastError: "connection refused"}}, Config{})
	rec := get(t, down, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while down got=%d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["ready"] != false || body["last_error"] != "connection refused" {
		t.Fatalf("unexpected body=%v", body)
	}

	up := New(stubSource{ready: true, st: readyStatus()}, Config{})
	if rec := get(t, up, "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready while up got=%d", rec.Code)
	}
}

func TestSessionsAndCapabilities(t *testing.T) {
	testlog.Start(t)
	s := New(stubSource{ready: true, st: readyStatus()}, Config{})

	var sessions struct {
		Sessions []site.SessionStatus `json:"sessions"`
	}
	decode(t, get(t, s, "/sessions"), &sessions)
	if len(sessions.Sessions) != 2 || sessions.Sessions[1].Prefix != "shop1" || sessions.Sessions[1].Active {
		t.Fatalf("unexpected sessions=%+v", sessions.Sessions)
	}

	var caps struct {
		Server []string `json:"server"`
		Client []string `json:"client"`
	}
	decode(t, get(t, s, "/capabilities"), &caps)
	if strings.Join(caps.Server, " ") != "CHARSET PLAINAUTH" || len(caps.Client) != 4 {
		t.Fatalf("unexpected capabilities=%+v", caps)
	}

	var empty struct {
		Server []string `json:"server"`
	}
	rec := get(t, New(stubSource{}, Config{}), "/capabilities")
	decode(t, rec, &empty)
	if empty.Server == nil || !strings.Contains(rec.Body.String(), `"server":[]`) {
		t.Fatalf("capabilities must render empty lists, body=%s", rec.Body.String())
	}

	var st site.Status
	decode(t, get(t, s, "/status"), &st)
	if st.ConnectionID != "conn-1" || st.Policy != site.PolicyReconnect {
		t.Fatalf("unexpected status=%+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New(stubSource{}, Config{})
	get(t, s, "/health")
	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fsconnect_http_requests_total") {
		t.Fatalf("metrics missing request counter, code=%d", rec.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	testlog.Start(t)
	s := New(stubSource{}, Config{CORSOrigins: []string{"https://ops.example"}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("allow-origin got=%q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin got=%d", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(stubSource{}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health over tcp got=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
