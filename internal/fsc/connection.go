package fsc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/dispatch"
	"github.com/danmuck/fsconnect/internal/observability"
	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/danmuck/fsconnect/internal/protocol/frame"
	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/danmuck/fsconnect/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateConnecting State = iota
	StateNegotiating
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Options struct {
	Config session.Config
	// Delegate answers inbound requests on the root session and fixes the
	// advertised client capabilities.
	Delegate delegate.Set
	// Logger defaults to the process logger when nil.
	Logger *zerolog.Logger
	// Clock overrides the BEAT timestamp source.
	Clock func() time.Time
}

// Connection multiplexes sessions over one transport.
type Connection struct {
	id         string
	cfg        session.Config
	transport  transport.Transport
	table      *dispatch.Table
	logger     zerolog.Logger
	clientCaps protocol.CapabilitySet

	state   atomic.Int32
	writeMu sync.Mutex

	mu         sync.RWMutex
	serverCaps protocol.CapabilitySet
	root       *Session
	sessions   map[string]*Session

	capsSeen    chan struct{}
	capsOnce    sync.Once
	lastInbound atomic.Int64

	loopCancel context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	err        error
}

// Dial negotiates the protocol over t and returns a Ready connection. On any
// failure t is closed and a *HandshakeError is returned.
func Dial(ctx context.Context, t transport.Transport, opts Options) (*Connection, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	id := uuid.NewString()
	logger = logger.With().Str("conn", id).Logger()

	tableOpts := []dispatch.Option{dispatch.WithLogger(logger)}
	if opts.Clock != nil {
		tableOpts = append(tableOpts, dispatch.WithClock(opts.Clock))
	}
	c := &Connection{
		id:         id,
		cfg:        opts.Config.WithDefaults(),
		transport:  t,
		table:      dispatch.NewTable(tableOpts...),
		logger:     logger,
		clientCaps: opts.Delegate.Capabilities(),
		sessions:   make(map[string]*Session),
		capsSeen:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.setState(StateConnecting)
	// The root session exists before the first read so early requests from
	// the peer have somewhere to land.
	c.root = newSession(c, "", opts.Delegate)
	c.lastInbound.Store(time.Now().UnixNano())

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.setState(StateNegotiating)
	go c.readLoop(loopCtx)

	if err := c.handshake(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("fsc: handshake failed")
		c.shutdown(err)
		return nil, err
	}
	c.setState(StateReady)
	if c.cfg.SessionDeadAfter > 0 {
		go c.watchdog(loopCtx)
	}
	c.logger.Info().
		Strs("client_caps", c.clientCaps.Tokens()).
		Strs("server_caps", c.ServerCapabilities().Tokens()).
		Msg("fsc: connection ready")
	return c, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	capability := protocol.New(protocol.MethodCapability, c.clientCaps.Tokens()...)
	if _, err := c.root.Send(hctx, capability, false); err != nil {
		return &HandshakeError{Step: "capability", Err: err}
	}
	select {
	case <-c.capsSeen:
	case <-c.done:
		return &HandshakeError{Step: "capability", Err: c.closedErr()}
	case <-hctx.Done():
		return &HandshakeError{Step: "capability", Err: hctx.Err()}
	}

	resp, err := c.root.Send(hctx, protocol.New(protocol.MethodCharset, protocol.Charset), true)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return &HandshakeError{Step: "charset", Err: err}
	}
	return nil
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("fsc: state")
	}
}

// Done is closed once the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended. It is nil while the connection is
// open and after a local Close.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Connection) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return ErrConnectionClosed
}

// Root returns the unprefixed session.
func (c *Connection) Root() *Session {
	return c.root
}

// Session returns the sub-session registered under prefix.
func (c *Connection) Session(prefix string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[prefix]
	return s, ok
}

// Sessions returns the sub-sessions ordered by prefix.
func (c *Connection) Sessions() []*Session {
	c.mu.RLock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].prefix < out[j].prefix })
	return out
}

func (c *Connection) allSessions() []*Session {
	return append([]*Session{c.root}, c.Sessions()...)
}

// PendingCount sums outstanding correlations across all sessions.
func (c *Connection) PendingCount() int {
	n := 0
	for _, s := range c.allSessions() {
		n += s.registry.Len()
	}
	return n
}

// NewSession opens a prefixed session on the peer. The session is routable
// before NEWSESSION is sent so frames arriving right after OK are not lost.
func (c *Connection) NewSession(ctx context.Context, prefix string, set delegate.Set) (*Session, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	s := newSession(c, prefix, set)
	c.mu.Lock()
	if _, exists := c.sessions[prefix]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, prefix)
	}
	c.sessions[prefix] = s
	c.mu.Unlock()

	resp, err := c.root.Send(ctx, protocol.New(protocol.MethodNewSession, prefix), true)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		c.dropSession(s, err)
		return nil, err
	}
	c.logger.Info().Str("session", prefix).Msg("fsc: session opened")
	return s, nil
}

func (c *Connection) dropSession(s *Session, cause error) {
	c.mu.Lock()
	if cur, ok := c.sessions[s.prefix]; ok && cur == s {
		delete(c.sessions, s.prefix)
	}
	c.mu.Unlock()
	s.registry.Close(cause)
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("%w: empty", ErrInvalidPrefix)
	case prefix == frame.Untagged:
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	case strings.ContainsAny(prefix, frame.PrefixSeparator+" \t\r\n"):
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// ListSessions asks the peer for its session prefixes.
func (c *Connection) ListSessions(ctx context.Context) ([]string, error) {
	resp, err := c.root.Send(ctx, protocol.New(protocol.MethodSessions), true)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var out []string
	for _, msg := range resp.Messages {
		if msg.Method == protocol.MethodSessions {
			out = append(out, msg.Args...)
		}
	}
	return out, nil
}

// ServerCapabilities returns the set from the peer's latest CAPABILITY.
func (c *Connection) ServerCapabilities() protocol.CapabilitySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

func (c *Connection) ClientCapabilities() protocol.CapabilitySet {
	return c.clientCaps
}

// Supports reports whether a message with method may be sent to the peer.
func (c *Connection) Supports(method protocol.Method) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps.Sendable(method)
}

// Quit says goodbye on the root session and closes the connection. The
// connection is closed even when the peer rejects QUIT.
func (c *Connection) Quit(ctx context.Context, reason string) error {
	err := c.root.Quit(ctx, reason)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close tears the connection down and fails every pending request with
// ErrConnectionClosed.
func (c *Connection) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.err = cause
		c.loopCancel()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("fsc: transport close")
		}
		for _, s := range c.allSessions() {
			s.registry.Close(ErrConnectionClosed)
		}
		c.setState(StateClosed)
		close(c.done)
		ev := c.logger.Info()
		if cause != nil {
			ev = c.logger.Warn().Err(cause)
		}
		ev.Msg("fsc: connection closed")
	})
}

// checkSendable reports whether the connection accepts outbound frames.
func (c *Connection) checkSendable() error {
	switch c.State() {
	case StateNegotiating, StateReady:
		return nil
	case StateConnecting:
		return ErrNotReady
	}
	return c.closedErr()
}

// write encodes msg under tag and hands it to the transport as one line.
func (c *Connection) write(ctx context.Context, tag string, msg protocol.Message) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	line := frame.Format(frame.Frame{Tag: tag, Body: body})

	c.writeMu.Lock()
	err = c.transport.Send(ctx, line)
	c.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, transport.ErrClosed) || errors.Is(err, io.EOF) {
			c.shutdown(fmt.Errorf("fsc: send: %w", err))
			return c.closedErr()
		}
		return fmt.Errorf("fsc: send %s: %w", msg.Method, err)
	}
	observability.RecordFrameSent(string(msg.Method))
	c.logFrame("<", tag, msg)
	return nil
}

func (c *Connection) logFrame(dir, tag string, msg protocol.Message) {
	ev := c.logger.Debug()
	if !ev.Enabled() {
		return
	}
	ev.Str("dir", dir).
		Str("tag", tag).
		Str("method", string(msg.Method)).
		Strs("args", observability.RedactArgs(string(msg.Method), msg.Args)).
		Msg("fsc: frame")
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		line, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, frame.ErrLineTooLong) {
				c.drop("frame", "", err)
				continue
			}
			c.shutdown(fmt.Errorf("fsc: receive: %w", err))
			return
		}
		c.lastInbound.Store(time.Now().UnixNano())
		c.handleLine(ctx, line)
	}
}

func (c *Connection) handleLine(ctx context.Context, line string) {
	f, err := frame.Parse(line)
	if err != nil {
		c.drop("frame", line, err)
		return
	}
	msg, err := protocol.Decode(f.Body)
	if err != nil {
		c.drop("decode", line, err)
		return
	}
	observability.RecordFrameReceived(string(msg.Method))
	c.logFrame(">", f.Tag, msg)

	prefix, inner, _ := frame.SplitTag(f.Tag)
	s, ok := c.route(prefix)
	if !ok {
		c.drop("session", line, fmt.Errorf("%w: %q", ErrUnknownSession, prefix))
		return
	}

	if c.table.IsRequest(msg.Method) {
		c.answer(ctx, s, f.Tag, inner, msg)
		return
	}
	if inner == frame.Untagged {
		c.logger.Debug().Str("session", prefix).Str("method", string(msg.Method)).Msg("fsc: unsolicited message")
		return
	}
	if !s.registry.Resolve(inner, msg) {
		c.drop("uncorrelated", line, nil)
	}
}

func (c *Connection) route(prefix string) (*Session, bool) {
	if prefix == "" {
		return c.root, true
	}
	return c.Session(prefix)
}

func (c *Connection) drop(reason, line string, err error) {
	observability.RecordFrameDropped(reason)
	c.logger.Warn().Err(err).Str("reason", reason).Int("bytes", len(line)).Msg("fsc: frame dropped")
}

// answer evaluates an inbound request for s, applies its actions and writes
// the replies. Replies are not capability gated: the request itself shows the
// peer handles the answer.
func (c *Connection) answer(ctx context.Context, s *Session, tag, inner string, msg protocol.Message) {
	res, _ := c.table.Evaluate(ctx, s, dispatch.Request{
		Message: msg,
		Tagged:  inner != frame.Untagged,
	})
	for _, a := range res.Actions {
		if !s.HandleAction(a) {
			c.applyAction(a)
		}
	}
	for _, r := range res.Replies {
		if _, err := protocol.Encode(r.Message); err != nil {
			// Nothing has been written yet, so the request still gets a
			// single terminal.
			c.logger.Error().Err(err).Str("tag", tag).Str("method", string(msg.Method)).Msg("fsc: reply not encodable")
			res.Replies = []dispatch.Reply{{Message: dispatch.ErrMessage(delegate.CodeInternal, err.Error())}}
			observability.RecordTerminal(msg.Method.String(), delegate.CodeInternal)
			break
		}
	}
	for _, r := range res.Replies {
		replyTag := tag
		if r.Broadcast {
			replyTag = s.untaggedTag()
		}
		if err := c.write(ctx, replyTag, r.Message); err != nil {
			c.logger.Warn().Err(err).Str("tag", tag).Str("method", string(msg.Method)).Msg("fsc: reply failed")
			return
		}
	}
}

func (c *Connection) applyAction(a dispatch.Action) {
	switch act := a.(type) {
	case dispatch.SetServerCapabilities:
		set, unknown := protocol.ParseCapabilities(act.Tokens)
		c.mu.Lock()
		c.serverCaps = set
		c.mu.Unlock()
		if len(unknown) > 0 {
			c.logger.Warn().Strs("tokens", unknown).Msg("fsc: ignoring unknown server capabilities")
		}
		c.capsOnce.Do(func() { close(c.capsSeen) })
		c.logger.Info().Strs("server_caps", set.Tokens()).Msg("fsc: server capabilities")
	default:
		c.logger.Warn().Str("action", dispatch.ActionName(a)).Msg("fsc: unhandled action")
	}
}

// watchdog closes the connection once nothing has arrived for
// SessionDeadAfter.
func (c *Connection) watchdog(ctx context.Context) {
	interval := c.cfg.SessionDeadAfter / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastInbound.Load()))
			if idle >= c.cfg.SessionDeadAfter {
				c.shutdown(fmt.Errorf("fsc: peer silent for %s", idle.Truncate(time.Millisecond)))
				return
			}
		}
	}
}
