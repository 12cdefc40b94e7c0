// Package admin serves a small read-only HTTP API next to the forecourt
// connection: liveness, readiness, session state and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/fsconnect/internal/observability"
	"github.com/danmuck/fsconnect/internal/site"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// StatusSource is the view of the site service the API reports on.
type StatusSource interface {
	Status() site.Status
	Ready() bool
}

type Config struct {
	// Node labels request metrics.
	Node        string
	CORSOrigins []string
	Logger      *zerolog.Logger
}

type Server struct {
	src     StatusSource
	router  *gin.Engine
	started time.Time
	node    string
}

func New(src StatusSource, cfg Config) *Server {
	observability.RegisterMetrics()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	node := cfg.Node
	if node == "" {
		node = "fscctl"
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, "/metrics", "/health", "/ready"))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{src: src, router: r, started: time.Now(), node: node}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.node,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.src.Status()
		code := http.StatusOK
		if !s.src.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":         code == http.StatusOK,
			"state":         st.State,
			"connection_id": st.ConnectionID,
			"last_error":    st.LastError,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.src.Status())
	})

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.src.Status().Sessions})
	})

	s.router.GET("/capabilities", func(c *gin.Context) {
		st := s.src.Status()
		c.JSON(http.StatusOK, gin.H{
			"server": nonNil(st.ServerCapabilities),
			"client": nonNil(st.ClientCapabilities),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve answers requests on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin: listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func nonNil(tokens []string) []string {
	if tokens == nil {
		return []string{}
	}
	return tokens
}
