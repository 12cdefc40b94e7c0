package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("fscctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrameSent("PRICE")
	RecordFrameReceived("OK")
	RecordFrameDropped("decode")
	ObserveDelegate("PRODUCTS", 3*time.Millisecond)
	ObserveRequest("PLAINAUTH", "ok", 40*time.Millisecond)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestSuppressedAndTerminalCounters(t *testing.T) {
	before := testutil.ToFloat64(sendsSuppressed.WithLabelValues("PUMP"))
	RecordSuppressedSend("PUMP")
	if got := testutil.ToFloat64(sendsSuppressed.WithLabelValues("PUMP")); got != before+1 {
		t.Fatalf("suppressed counter got=%v want=%v", got, before+1)
	}

	RecordTerminal("CLEAR", 404)
	RecordTerminal("CLEAR", 0)
	if got := testutil.ToFloat64(dispatchReplies.WithLabelValues("CLEAR", "404")); got < 1 {
		t.Fatalf("expected 404 terminal recorded, got=%v", got)
	}
	if got := testutil.ToFloat64(dispatchReplies.WithLabelValues("CLEAR", "ok")); got < 1 {
		t.Fatalf("expected ok terminal recorded, got=%v", got)
	}
}

func TestPendingGauge(t *testing.T) {
	before := testutil.ToFloat64(pendingCorrelations)
	AddPending(2)
	AddPending(-1)
	if got := testutil.ToFloat64(pendingCorrelations); got != before+1 {
		t.Fatalf("pending gauge got=%v want=%v", got, before+1)
	}
	AddPending(-1)
}

func TestRedactArgs(t *testing.T) {
	in := []string{"site-key", "s3cret"}
	out := RedactArgs("PLAINAUTH", in)
	if out[0] != "site-key" || out[1] != "***" {
		t.Fatalf("unexpected redaction: %v", out)
	}
	if in[1] != "s3cret" {
		t.Fatalf("input must not be mutated")
	}
	if got := RedactArgs("PUMP", []string{"3", "free"}); got[1] != "free" {
		t.Fatalf("non-auth args must pass through, got=%v", got)
	}
}
