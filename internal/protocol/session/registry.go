package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/fsconnect/internal/observability"
	"github.com/danmuck/fsconnect/internal/protocol"
)

var (
	ErrDuplicateTag   = errors.New("session: tag already pending")
	ErrRequestTimeout = errors.New("session: request timed out")
	ErrRegistryClosed = errors.New("session: registry closed")
)

// RemoteError is a terminal ERR returned by the peer.
type RemoteError struct {
	Code int
	Text string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error %d: %s", e.Code, e.Text)
}

// Response is the outcome of one tagged request. Messages excludes the
// terminal OK/ERR.
type Response struct {
	Messages []protocol.Message
	Terminal protocol.Message
}

// Err maps a terminal ERR to *RemoteError. OK yields nil.
func (r Response) Err() error {
	if r.Terminal.Method != protocol.MethodErr {
		return nil
	}
	code, err := strconv.Atoi(r.Terminal.Arg(0))
	if err != nil {
		code = 0
	}
	text := ""
	if len(r.Terminal.Args) > 1 {
		text = strings.Join(r.Terminal.Args[1:], " ")
	}
	return &RemoteError{Code: code, Text: text}
}

// Pending tracks one tag awaiting a terminal reply.
type Pending struct {
	Tag          string
	Method       protocol.Method
	RegisteredAt time.Time
	Deadline     time.Time

	done     chan struct{}
	messages []protocol.Message
	terminal protocol.Message
	err      error
}

// Done is closed once the entry completes or fails.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// PendingInfo is a read-only snapshot of a pending entry.
type PendingInfo struct {
	Tag          string
	Method       protocol.Method
	Messages     int
	RegisteredAt time.Time
	Deadline     time.Time
}

// Registry stores pending correlations for one session by inner tag.
type Registry struct {
	mu     sync.Mutex
	items  map[string]*Pending
	closed error
}

func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]*Pending),
	}
}

// Register adds an empty entry for tag. It must be called before the request
// is transmitted so an immediate reply cannot be missed.
func (r *Registry) Register(tag string, method protocol.Method, deadline time.Time) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	if _, exists := r.items[tag]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}
	p := &Pending{
		Tag:          tag,
		Method:       method,
		RegisteredAt: time.Now(),
		Deadline:     deadline,
		done:         make(chan struct{}),
	}
	r.items[tag] = p
	observability.AddPending(1)
	return p, nil
}

// Resolve appends msg to the entry for tag and completes it on OK or ERR.
// It reports whether tag was pending.
func (r *Registry) Resolve(tag string, msg protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[tag]
	if !ok {
		return false
	}
	if !msg.Method.Terminal() {
		p.messages = append(p.messages, msg)
		return true
	}
	p.terminal = msg
	delete(r.items, tag)
	observability.AddPending(-1)
	close(p.done)
	return true
}

// Wait blocks until p completes, its deadline passes or ctx ends. On timeout
// or cancellation the entry is removed.
func (r *Registry) Wait(ctx context.Context, p *Pending) (Response, error) {
	var timeout <-chan time.Time
	if !p.Deadline.IsZero() {
		timer := time.NewTimer(time.Until(p.Deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-p.done:
		return r.outcome(p)
	case <-timeout:
		if r.remove(p, ErrRequestTimeout) {
			return Response{}, fmt.Errorf("%w: %s %s", ErrRequestTimeout, p.Tag, p.Method)
		}
		<-p.done
		return r.outcome(p)
	case <-ctx.Done():
		if r.remove(p, ctx.Err()) {
			return Response{}, ctx.Err()
		}
		<-p.done
		return r.outcome(p)
	}
}

func (r *Registry) outcome(p *Pending) (Response, error) {
	if p.err != nil {
		return Response{}, p.err
	}
	return Response{Messages: p.messages, Terminal: p.terminal}, nil
}

// remove fails p if it is still the entry registered under its tag.
func (r *Registry) remove(p *Pending, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[p.Tag]
	if !ok || cur != p {
		return false
	}
	delete(r.items, p.Tag)
	observability.AddPending(-1)
	p.err = err
	close(p.done)
	return true
}

// Cancel drops the entry for tag, failing its waiter with ErrRegistryClosed.
func (r *Registry) Cancel(tag string) {
	r.mu.Lock()
	p, ok := r.items[tag]
	r.mu.Unlock()
	if ok {
		r.remove(p, fmt.Errorf("%w: %s cancelled", ErrRegistryClosed, tag))
	}
}

// Close fails every pending entry with err and rejects later registrations.
func (r *Registry) Close(err error) {
	if err == nil {
		err = ErrRegistryClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = err
	}
	for tag, p := range r.items {
		delete(r.items, tag)
		observability.AddPending(-1)
		p.err = err
		close(p.done)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) List() []PendingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingInfo, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, PendingInfo{
			Tag:          p.Tag,
			Method:       p.Method,
			Messages:     len(p.messages),
			RegisteredAt: p.RegisteredAt,
			Deadline:     p.Deadline,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tag < out[j].Tag
	})
	return out
}
