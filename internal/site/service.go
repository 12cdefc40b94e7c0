// Package site runs one forecourt connection for a long-lived process: dial,
// negotiate, authenticate, open sub-sessions, publish the catalog and
// reconnect with backoff when the controller goes away.
package site

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/fsconnect/internal/catalog"
	"github.com/danmuck/fsconnect/internal/fsc"
	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/danmuck/fsconnect/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEndpointRequired  = errors.New("site: endpoint required")
	ErrCatalogRequired   = errors.New("site: catalog required")
	ErrInvalidPolicy     = errors.New("site: invalid connection policy")
	ErrCredentialMissing = errors.New("site: access key and secret required")
)

// Policy controls what happens when the connection ends.
type Policy string

const (
	// PolicyOnce exits after the first connection ends.
	PolicyOnce Policy = "once"
	// PolicyReconnect retries forever.
	PolicyReconnect Policy = "reconnect"
	// PolicyRequired fails fast until the first connection succeeds, then
	// reconnects like PolicyReconnect.
	PolicyRequired Policy = "required"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyReconnect, nil
	case PolicyOnce, PolicyReconnect, PolicyRequired:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
}

// SessionConfig is one prefixed sub-session and its credentials.
type SessionConfig struct {
	Prefix    string
	AccessKey string
	Secret    string
}

type Config struct {
	Endpoint  string
	AccessKey string
	Secret    string
	Sessions  []SessionConfig
	Policy    Policy
	// PushCatalog sends products, prices and pumps right after login.
	PushCatalog bool
	// MaxConnectAttempts bounds consecutive failed connects. Zero means no
	// limit.
	MaxConnectAttempts int
	Session            session.Config
}

// Dialer opens the transport for one connection attempt.
type Dialer func(ctx context.Context, endpoint string, cfg session.Config) (transport.Transport, error)

type Option func(*Service)

func WithDialer(d Dialer) Option {
	return func(s *Service) {
		s.dial = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Status is a point-in-time view of the service for logs and the admin API.
type Status struct {
	State              string          `json:"state"`
	ConnectionID       string          `json:"connection_id,omitempty"`
	Endpoint           string          `json:"endpoint"`
	Policy             Policy          `json:"policy"`
	ConnectedAt        time.Time       `json:"connected_at,omitempty"`
	Attempts           int             `json:"attempts"`
	LastError          string          `json:"last_error,omitempty"`
	Pending            int             `json:"pending"`
	Sessions           []SessionStatus `json:"sessions"`
	ServerCapabilities []string        `json:"server_capabilities"`
	ClientCapabilities []string        `json:"client_capabilities"`
}

type SessionStatus struct {
	Prefix        string `json:"prefix"`
	Active        bool   `json:"active"`
	Authenticated bool   `json:"authenticated"`
	Pending       int    `json:"pending"`
}

// Service supervises the forecourt connection.
type Service struct {
	cfg    Config
	site   *catalog.Site
	dial   Dialer
	logger zerolog.Logger
	rng    *rand.Rand

	mu          sync.RWMutex
	conn        *fsc.Connection
	connectedAt time.Time
	attempts    int
	lastErr     error
}

func NewService(cfg Config, site *catalog.Site, opts ...Option) (*Service, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	if site == nil {
		return nil, ErrCatalogRequired
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	if cfg.AccessKey == "" || cfg.Secret == "" {
		return nil, ErrCredentialMissing
	}
	for i, sc := range cfg.Sessions {
		if strings.TrimSpace(sc.Prefix) == "" {
			return nil, fmt.Errorf("site: sessions[%d]: prefix required", i)
		}
		if sc.AccessKey == "" || sc.Secret == "" {
			return nil, fmt.Errorf("%w: session %q", ErrCredentialMissing, sc.Prefix)
		}
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(cfg.Endpoint); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		site:   site,
		dial:   transport.Dial,
		logger: log.Logger.With().Str("component", "site").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run connects and keeps the connection alive according to the policy. It
// returns nil when ctx ends.
func (s *Service) Run(ctx context.Context) error {
	failures := 0
	connectedOnce := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.recordFailure(err)
			s.logger.Warn().Err(err).Int("attempt", failures).Str("policy", string(s.cfg.Policy)).Msg("site: connect failed")
			if s.cfg.Policy == PolicyOnce || (s.cfg.Policy == PolicyRequired && !connectedOnce) {
				return err
			}
			if s.cfg.MaxConnectAttempts > 0 && failures >= s.cfg.MaxConnectAttempts {
				return fmt.Errorf("site: giving up after %d attempts: %w", failures, err)
			}
			if err := s.waitBackoff(ctx, failures); err != nil {
				return nil
			}
			continue
		}
		failures = 0
		connectedOnce = true

		err = s.monitor(ctx, conn)
		s.clearConnection(conn)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.recordFailure(err)
			s.logger.Warn().Err(err).Msg("site: connection lost")
		}
		if s.cfg.Policy == PolicyOnce {
			return err
		}
		if err := s.waitBackoff(ctx, 1); err != nil {
			return nil
		}
	}
}

// connect runs one full login: transport, negotiation, authentication,
// sub-sessions and the optional catalog push.
func (s *Service) connect(ctx context.Context) (*fsc.Connection, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()

	t, err := s.dial(ctx, s.cfg.Endpoint, s.cfg.Session)
	if err != nil {
		return nil, err
	}
	logger := s.logger
	conn, err := fsc.Dial(ctx, t, fsc.Options{
		Config:   s.cfg.Session,
		Delegate: s.site.Delegate(),
		Logger:   &logger,
	})
	if err != nil {
		return nil, err
	}
	if err := s.login(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.setConnection(conn)
	s.logger.Info().
		Str("conn", conn.ID()).
		Str("endpoint", s.cfg.Endpoint).
		Int("sessions", len(s.cfg.Sessions)).
		Msg("site: connected")
	return conn, nil
}

func (s *Service) login(ctx context.Context, conn *fsc.Connection) error {
	if err := conn.Root().Authenticate(ctx, s.cfg.AccessKey, s.cfg.Secret); err != nil {
		return fmt.Errorf("site: authenticate root: %w", err)
	}
	targets := []*fsc.Session{conn.Root()}
	for _, sc := range s.cfg.Sessions {
		sub, err := conn.NewSession(ctx, sc.Prefix, s.site.Delegate())
		if err != nil {
			return fmt.Errorf("site: open session %q: %w", sc.Prefix, err)
		}
		if err := sub.Authenticate(ctx, sc.AccessKey, sc.Secret); err != nil {
			return fmt.Errorf("site: authenticate session %q: %w", sc.Prefix, err)
		}
		targets = append(targets, sub)
	}
	if !s.cfg.PushCatalog {
		return nil
	}
	for _, target := range targets {
		if err := s.pushCatalog(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// pushCatalog publishes the catalog as broadcasts. Methods the controller did
// not advertise are skipped.
func (s *Service) pushCatalog(ctx context.Context, target *fsc.Session) error {
	products, prices, pumps := s.site.Snapshot()
	sent := 0
	skip := func(err error) error {
		if errors.Is(err, fsc.ErrCapabilityNotSupported) {
			return nil
		}
		if err == nil {
			sent++
		}
		return err
	}
	for _, p := range products {
		if err := skip(target.Product(ctx, p)); err != nil {
			return fmt.Errorf("site: push product %s: %w", p.ID, err)
		}
	}
	for _, p := range prices {
		if err := skip(target.Price(ctx, p)); err != nil {
			return fmt.Errorf("site: push price %s: %w", p.ProductID, err)
		}
	}
	for _, p := range pumps {
		if err := skip(target.Pump(ctx, p)); err != nil {
			return fmt.Errorf("site: push pump %d: %w", p.ID, err)
		}
	}
	s.logger.Info().Str("session", target.Prefix()).Int("messages", sent).Msg("site: catalog pushed")
	return nil
}

// monitor logs status every HeartbeatInterval until the connection ends or
// ctx is cancelled. On cancellation it says goodbye to the controller.
func (s *Service) monitor(ctx context.Context, conn *fsc.Connection) error {
	ticker := time.NewTicker(s.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			quitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.WriteTimeout)
			if err := conn.Quit(quitCtx, fsc.DefaultQuitReason); err != nil {
				s.logger.Debug().Err(err).Msg("site: quit")
			}
			cancel()
			return nil
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return err
			}
			return fsc.ErrConnectionClosed
		case <-ticker.C:
			st := s.Status()
			s.logger.Info().
				Str("state", st.State).
				Int("sessions", len(st.Sessions)).
				Int("pending", st.Pending).
				Strs("server_caps", st.ServerCapabilities).
				Msg("site: heartbeat")
		}
	}
}

func (s *Service) waitBackoff(ctx context.Context, attempt int) error {
	delay := s.cfg.Session.Backoff.ReconnectDelay(attempt, s.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) setConnection(conn *fsc.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn != conn {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.connectedAt = time.Now()
	s.lastErr = nil
}

func (s *Service) clearConnection(target *fsc.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != target {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	s.connectedAt = time.Time{}
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Connection returns the live connection, if any.
func (s *Service) Connection() *fsc.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Ready reports whether a negotiated connection is up.
func (s *Service) Ready() bool {
	conn := s.Connection()
	return conn != nil && conn.State() == fsc.StateReady
}

func (s *Service) Status() Status {
	s.mu.RLock()
	conn := s.conn
	st := Status{
		State:       "disconnected",
		Endpoint:    s.cfg.Endpoint,
		Policy:      s.cfg.Policy,
		ConnectedAt: s.connectedAt,
		Attempts:    s.attempts,
		Sessions:    []SessionStatus{},
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()
	if conn == nil {
		return st
	}

	st.State = conn.State().String()
	st.ConnectionID = conn.ID()
	st.Pending = conn.PendingCount()
	st.ServerCapabilities = conn.ServerCapabilities().Tokens()
	st.ClientCapabilities = conn.ClientCapabilities().Tokens()
	for _, sess := range append([]*fsc.Session{conn.Root()}, conn.Sessions()...) {
		st.Sessions = append(st.Sessions, SessionStatus{
			Prefix:        sess.Prefix(),
			Active:        sess.Active(),
			Authenticated: sess.Authenticated(),
			Pending:       len(sess.Pending()),
		})
	}
	return st
}
