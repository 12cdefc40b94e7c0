package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseFormatRoundTrip(t *testing.T) {
	in := "shop1.C4 PRICE 0010 LTR EUR 1.7590 ron98"
	f, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Tag != "shop1.C4" || f.Body != "PRICE 0010 LTR EUR 1.7590 ron98" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if out := Format(f); out != in {
		t.Fatalf("format mismatch: got=%q want=%q", out, in)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrEmptyLine) {
		t.Fatalf("expected ErrEmptyLine, got %v", err)
	}
	if _, err := Parse("C1"); !errors.Is(err, ErrMissingBody) {
		t.Fatalf("expected ErrMissingBody, got %v", err)
	}
	if _, err := Parse("C1 "); !errors.Is(err, ErrMissingBody) {
		t.Fatalf("expected ErrMissingBody for trailing space, got %v", err)
	}
}

func TestSplitTag(t *testing.T) {
	cases := []struct {
		tag    string
		prefix string
		inner  string
		sub    bool
	}{
		{"shop1.C4", "shop1", "C4", true},
		{"shop1.*", "shop1", "*", true},
		{"C4", "", "C4", false},
		{"*", "", "*", false},
		{"a.b.C1", "", "a.b.C1", false},
		{".C1", "", ".C1", false},
		{"shop1.", "", "shop1.", false},
	}
	for _, tc := range cases {
		prefix, inner, sub := SplitTag(tc.tag)
		if prefix != tc.prefix || inner != tc.inner || sub != tc.sub {
			t.Fatalf("SplitTag(%q) got=(%q,%q,%v) want=(%q,%q,%v)", tc.tag, prefix, inner, sub, tc.prefix, tc.inner, tc.sub)
		}
	}
}

func TestJoinTagAndClientTag(t *testing.T) {
	if got := JoinTag("", ClientTag(7)); got != "C7" {
		t.Fatalf("root tag got=%q", got)
	}
	if got := JoinTag("shop1", ClientTag(12)); got != "shop1.C12" {
		t.Fatalf("sub tag got=%q", got)
	}
	if !IsUntagged("*") || !IsUntagged("shop1.*") || IsUntagged("C1") {
		t.Fatalf("untagged classification mismatch")
	}
}

func TestReadLineStripsTerminators(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("C1 OK\r\n* PUMP 3 free\nC2 ERR 404 x\r\n"))
	want := []string{"C1 OK", "* PUMP 3 free", "C2 ERR 404 x"}
	for _, w := range want {
		got, err := ReadLine(r, DefaultLimits())
		if err != nil {
			t.Fatalf("read line: %v", err)
		}
		if got != w {
			t.Fatalf("line mismatch got=%q want=%q", got, w)
		}
	}
	if _, err := ReadLine(r, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end, got %v", err)
	}
}

func TestReadLineLimitsAndTruncation(t *testing.T) {
	long := strings.Repeat("x", 64) + "\r\n"
	r := bufio.NewReaderSize(strings.NewReader(long), 16)
	if _, err := ReadLine(r, Limits{MaxLineBytes: 32}); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	r = bufio.NewReaderSize(strings.NewReader(long+"C2 OK\r\n"), 16)
	if _, err := ReadLine(r, Limits{MaxLineBytes: 32}); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if got, err := ReadLine(r, Limits{MaxLineBytes: 32}); err != nil || got != "C2 OK" {
		t.Fatalf("expected next line after oversized one, got=%q err=%v", got, err)
	}

	r = bufio.NewReader(strings.NewReader("C1 OK"))
	if _, err := ReadLine(r, DefaultLimits()); !errors.Is(err, ErrUnterminatedLine) {
		t.Fatalf("expected ErrUnterminatedLine, got %v", err)
	}
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, "* CAPABILITY PRODUCTS HEARTBEAT", DefaultLimits()); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if buf.String() != "* CAPABILITY PRODUCTS HEARTBEAT\r\n" {
		t.Fatalf("unexpected bytes: %q", buf.String())
	}
	if err := WriteLine(&buf, "C1 OK\r\nC2 OK", DefaultLimits()); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("expected ErrEmbeddedNewline, got %v", err)
	}
	if err := WriteLine(&buf, strings.Repeat("y", 10), Limits{MaxLineBytes: 4}); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}
