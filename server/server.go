// Package server exposes the orchestrator over HTTP: turns stream back as SSE frames
// and confirmations are resumed through a separate endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	historyx "github.com/tanpawarit/chative-experts/agent/history"
	statex "github.com/tanpawarit/chative-experts/agent/state"
)

type Config struct {
	Addr              string        `split_words:"true" default:":8080"`
	ReadHeaderTimeout time.Duration `split_words:"true" default:"10s"`
	ShutdownTimeout   time.Duration `split_words:"true" default:"15s"`
	// PublicURL is the externally visible base URL, used as the subject when
	// verifying signed confirmation callbacks.
	PublicURL string `split_words:"true"`
	// RequireSignature rejects confirmation callbacks without a valid signature.
	RequireSignature bool `split_words:"true"`
	MaxBodyBytes     int64 `split_words:"true" default:"65536"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}

// TurnHandler runs one conversation turn, emitting frames to sink.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, content string, sink contractx.FrameSink) (contractx.ConversationTurn, error)
}

// SignatureVerifier checks signed confirmation callbacks.
type SignatureVerifier interface {
	CanVerify() bool
	Verify(signature string, body []byte, requestURL string) error
}

type Deps struct {
	Turns     TurnHandler
	Confirmer contractx.Confirmer
	State     statex.Store
	History   historyx.Store
	Verifier  SignatureVerifier
	Metrics   http.Handler
}

type Server struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Turns == nil || deps.Confirmer == nil {
		return nil, fmt.Errorf("%w: server needs a turn handler and a confirmer", contractx.ErrConfiguration)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Server{cfg: cfg, deps: deps}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/{sessionID}/turns", s.postTurn)
		r.Get("/sessions/{sessionID}/state", s.getState)
		r.Get("/sessions/{sessionID}/history", s.getHistory)
		r.Post("/confirmations/{correlationID}", s.postConfirmation)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully. Open turn streams are
// canceled through their request contexts.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

// pinger is implemented by backends that can report their own reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.History.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("history backend unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "history": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}
