package fsc

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/rs/zerolog"
)

// DefaultQuitReason is sent when Quit is called without a reason.
const DefaultQuitReason = "Bye bye"

// Session is one logical conversation on a Connection. The root session has
// an empty prefix.
type Session struct {
	conn     *Connection
	prefix   string
	registry *session.Registry
	logger   zerolog.Logger

	sequence      atomic.Uint64
	active        atomic.Bool
	authenticated atomic.Bool

	mu       sync.RWMutex
	delegate delegate.Set
}

func newSession(c *Connection, prefix string, set delegate.Set) *Session {
	s := &Session{
		conn:     c,
		prefix:   prefix,
		registry: session.NewRegistry(),
		logger:   c.logger.With().Str("session", prefix).Logger(),
		delegate: set,
	}
	s.active.Store(true)
	return s
}

func (s *Session) Prefix() string {
	return s.prefix
}

// Active reports the mode last set by the peer with SESSIONMODE.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Authenticated reports whether PLAINAUTH was accepted on this session.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

func (s *Session) Delegate() delegate.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delegate
}

// SetDelegate swaps the capability set used for later inbound requests. The
// capabilities advertised at connect time do not change.
func (s *Session) SetDelegate(set delegate.Set) {
	s.mu.Lock()
	s.delegate = set
	s.mu.Unlock()
}

// NextSequence returns the next client sequence number, starting at 1.
func (s *Session) NextSequence() uint64 {
	return s.sequence.Add(1)
}

// Pending lists the requests this session is waiting on.
func (s *Session) Pending() []session.PendingInfo {
	return s.registry.List()
}

// HandleAction applies session-scoped actions and reports whether a was
// consumed. Everything else belongs to the connection.
func (s *Session) HandleAction(a dispatch.Action) bool {
	switch a.(type) {
	case dispatch.SetActive:
		s.active.Store(true)
	case dispatch.SetInactive:
		s.active.Store(false)
	default:
		return false
	}
	s.logger.Info().Bool("active", s.Active()).Msg("fsc: session mode")
	return true
}

func (s *Session) untaggedTag() string {
	return frame.JoinTag(s.prefix, frame.Untagged)
}

// Send transmits msg on this session. Without expectResponse the message goes
// out untagged and Send returns once it is written. Otherwise Send allocates
// the next tag, registers it, transmits and waits for OK or ERR. A terminal
// ERR is returned in the Response; use Response.Err to convert it.
func (s *Session) Send(ctx context.Context, msg protocol.Message, expectResponse bool) (session.Response, error) {
	c := s.conn
	if err := c.checkSendable(); err != nil {
		return session.Response{}, err
	}
	if !c.Supports(msg.Method) {
		observability.RecordSuppressedSend(string(msg.Method))
		s.logger.Warn().Str("method", string(msg.Method)).Msg("fsc: method not supported by server")
		return session.Response{}, fmt.Errorf("%w: %s", ErrCapabilityNotSupported, msg.Method)
	}
	if _, err := protocol.Encode(msg); err != nil {
		return session.Response{}, err
	}
	if !expectResponse {
		return session.Response{}, c.write(ctx, s.untaggedTag(), msg)
	}

	start := time.Now()
	inner := frame.ClientTag(s.NextSequence())
	p, err := s.registry.Register(inner, msg.Method, start.Add(c.cfg.RequestTimeout))
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return session.Response{}, c.closedErr()
		}
		return session.Response{}, err
	}
	if err := c.write(ctx, frame.JoinTag(s.prefix, inner), msg); err != nil {
		s.registry.Cancel(inner)
		observability.ObserveRequest(string(msg.Method), "send_error", time.Since(start))
		return session.Response{}, err
	}
	resp, err := s.registry.Wait(ctx, p)
	observability.ObserveRequest(string(msg.Method), requestOutcome(resp, err), time.Since(start))
	if err != nil {
		return session.Response{}, err
	}
	return resp, nil
}

func requestOutcome(resp session.Response, err error) string {
	switch {
	case errors.Is(err, session.ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case err != nil:
		return "error"
	case resp.Terminal.Method == protocol.MethodErr:
		return "err"
	}
	return "ok"
}

// request sends msg expecting a terminal and converts ERR to *RemoteError.
func (s *Session) request(ctx context.Context, msg protocol.Message) error {
	resp, err := s.Send(ctx, msg, true)
	if err != nil {
		return err
	}
	return resp.Err()
}

// Authenticate sends PLAINAUTH with the site access key and secret.
func (s *Session) Authenticate(ctx context.Context, accessKey, secret string) error {
	err := s.request(ctx, protocol.New(protocol.MethodPlainAuth, accessKey, secret))
	if err != nil {
		s.logger.Warn().Err(err).Msg("fsc: authentication failed")
		return err
	}
	s.authenticated.Store(true)
	s.logger.Info().Msg("fsc: authenticated")
	return nil
}

func (s *Session) Price(ctx context.Context, p delegate.Price) error {
	_, err := s.Send(ctx, p.Message(), false)
	return err
}

func (s *Session) Product(ctx context.Context, p delegate.Product) error {
	_, err := s.Send(ctx, p.Message(), false)
	return err
}

func (s *Session) Pump(ctx context.Context, p delegate.Pump) error {
	_, err := s.Send(ctx, p.Message(), false)
	return err
}

func (s *Session) Transaction(ctx context.Context, t delegate.Transaction) error {
	_, err := s.Send(ctx, t.Message(), false)
	return err
}

func (s *Session) ReceiptInfo(ctx context.Context, r delegate.ReceiptInfo) error {
	_, err := s.Send(ctx, r.Message(), false)
	return err
}

// Quit ends the session with reason. Words of the reason travel as separate
// arguments.
func (s *Session) Quit(ctx context.Context, reason string) error {
	words := strings.Fields(reason)
	if len(words) == 0 {
		words = strings.Fields(DefaultQuitReason)
	}
	return s.request(ctx, protocol.New(protocol.MethodQuit, words...))
}
