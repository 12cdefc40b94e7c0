package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// Untagged marks a line that is not part of a request/response exchange.
	Untagged = "*"
	// PrefixSeparator splits "<prefix>.<inner>" session tags.
	PrefixSeparator = "."
	// ClientTagMarker starts every client-sequence tag ("C<n>").
	ClientTagMarker = "C"

	lineTerminator = "\r\n"
)

var (
	ErrEmptyLine        = errors.New("frame: empty line")
	ErrMissingBody      = errors.New("frame: tag without body")
	ErrLineTooLong      = errors.New("frame: line too long")
	ErrEmbeddedNewline  = errors.New("frame: line contains CR or LF")
	ErrUnterminatedLine = errors.New("frame: stream ended mid-line")
)

// Frame is one wire line split into its tag and the encoded message body.
type Frame struct {
	Tag  string
	Body string
}

// Limits constrains line read/write memory use.
type Limits struct {
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxLineBytes: 64 * 1024}
}

// Parse splits "<tag> <body>" on the first space.
func Parse(line string) (Frame, error) {
	line = strings.TrimSuffix(line, lineTerminator)
	if line == "" {
		return Frame{}, ErrEmptyLine
	}
	tag, body, ok := strings.Cut(line, " ")
	if !ok || body == "" {
		return Frame{}, fmt.Errorf("%w: %q", ErrMissingBody, tag)
	}
	return Frame{Tag: tag, Body: body}, nil
}

// Format renders the frame as "<tag> <body>" without a line terminator.
func Format(f Frame) string {
	return f.Tag + " " + f.Body
}

func (f Frame) String() string {
	return Format(f)
}

// SplitTag resolves a tag to its session prefix and inner tag. Only a tag with
// exactly one separator and two non-empty halves names a sub-session; every
// other tag belongs to the root session and is returned unchanged as inner.
func SplitTag(tag string) (prefix, inner string, sub bool) {
	if strings.Count(tag, PrefixSeparator) != 1 {
		return "", tag, false
	}
	p, in, _ := strings.Cut(tag, PrefixSeparator)
	if p == "" || in == "" {
		return "", tag, false
	}
	return p, in, true
}

// JoinTag is the inverse of SplitTag. An empty prefix yields inner unchanged.
func JoinTag(prefix, inner string) string {
	if prefix == "" {
		return inner
	}
	return prefix + PrefixSeparator + inner
}

// ClientTag renders the n-th client-sequence tag.
func ClientTag(n uint64) string {
	return ClientTagMarker + strconv.FormatUint(n, 10)
}

// IsUntagged reports whether tag is the untagged marker, with or without a
// session prefix.
func IsUntagged(tag string) bool {
	_, inner, _ := SplitTag(tag)
	return inner == Untagged
}

// ReadLine reads one CRLF (or bare LF) terminated line and strips the
// terminator. A stream that ends cleanly between lines returns io.EOF.
//
// An oversized line is consumed through its LF and reported as
// ErrLineTooLong, so the reader stays aligned on the next line.
func ReadLine(r *bufio.Reader, limits Limits) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if limits.MaxLineBytes > 0 && len(buf) > limits.MaxLineBytes+len(lineTerminator) {
			if err == nil {
				return "", ErrLineTooLong
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				if err := discardLine(r); err != nil {
					return "", err
				}
				return "", ErrLineTooLong
			}
			if errors.Is(err, io.EOF) {
				return "", ErrUnterminatedLine
			}
			return "", err
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			return "", ErrUnterminatedLine
		}
		return "", err
	}
	line := strings.TrimSuffix(string(buf), "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// WriteLine writes line followed by CRLF in a single Write call.
func WriteLine(w io.Writer, line string, limits Limits) error {
	if strings.ContainsAny(line, "\r\n") {
		return ErrEmbeddedNewline
	}
	if limits.MaxLineBytes > 0 && len(line) > limits.MaxLineBytes {
		return ErrLineTooLong
	}
	_, err := io.WriteString(w, line+lineTerminator)
	return err
}
