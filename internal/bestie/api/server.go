// Package api is the HTTP transport of Bestie.
//
// Routes:
//
//	GET  /               online banner
//	POST /chat           anonymous mode (shared window)
//	POST /chat_free      alias of /chat
//	POST /guest/chat     guest mode, keyed by X-Guest-Session
//	POST /me/chat        authenticated mode, Authorization: Bearer
//	GET  /me/emotions    emotion history of the authenticated caller
//	GET  /me/messages    message history of the authenticated caller
//	DELETE /me/token     revokes the bearer token of the request
//	GET  /health         liveness
//	GET  /status         runtime statistics
//	GET  /docs/schema    JSON Schemas of the request and response bodies
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/bestie/internal/bestie/auth"
	"github.com/bdobrica/bestie/internal/bestie/reply"
	"github.com/bdobrica/bestie/internal/bestie/store"
)

// Banner is the body of GET /.
const Banner = "Bestie AI è online 💛 Vai su /docs per usare le API."

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Composer produces replies. Implemented by *reply.Composer.
type Composer interface {
	Compose(ctx context.Context, req reply.Request) (*reply.Result, error)
}

// SessionCounter reports the number of live conversation windows.
type SessionCounter interface {
	Sessions() int
}

// HistoryReader returns the long-term log of a subject.
type HistoryReader interface {
	Emotions(ctx context.Context, subject string, limit int) ([]store.EmotionRecord, error)
	Messages(ctx context.Context, subject string, limit int) ([]store.MessageRecord, error)
}

// TokenRevoker invalidates bearer tokens. Implemented by *auth.TokenStore.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// Config wires the collaborators of a Server. Composer is required.
type Config struct {
	Addr         string
	Composer     Composer
	Sessions     SessionCounter
	Auth         auth.Resolver
	Revoker      TokenRevoker
	History      HistoryReader
	Limiter      *RateLimiter
	MaxBodyBytes int64
}

// Server serves the chat API.
type Server struct {
	addr      string
	composer  Composer
	sessions  SessionCounter
	auth      auth.Resolver
	revoker   TokenRevoker
	history   HistoryReader
	limiter   *RateLimiter
	schemas   *Schemas
	maxBody   int64
	startedAt time.Time

	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
}

// NewServer builds the routes (does not start listening).
func NewServer(cfg Config) (*Server, error) {
	if cfg.Composer == nil {
		return nil, errors.New("api: composer is required")
	}
	schemas, err := NewSchemas()
	if err != nil {
		return nil, err
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(DefaultRateLimit, 0)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		addr:      cfg.Addr,
		composer:  cfg.Composer,
		sessions:  cfg.Sessions,
		auth:      cfg.Auth,
		revoker:   cfg.Revoker,
		history:   cfg.History,
		limiter:   cfg.Limiter,
		schemas:   schemas,
		maxBody:   cfg.MaxBodyBytes,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("POST /chat", s.handleAnonymousChat)
	s.mux.HandleFunc("POST /chat_free", s.handleAnonymousChat)
	s.mux.HandleFunc("POST /guest/chat", s.handleGuestChat)
	if s.auth != nil {
		s.mux.HandleFunc("POST /me/chat", s.handleUserChat)
		if s.history != nil {
			s.mux.HandleFunc("GET /me/emotions", s.handleEmotions)
			s.mux.HandleFunc("GET /me/messages", s.handleMessages)
		}
		if s.revoker != nil {
			s.mux.HandleFunc("DELETE /me/token", s.handleRevoke)
		}
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /docs/schema", s.handleSchema)

	s.handler = withCORS(withTrace(s.mux))
	return s, nil
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener
// is open. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Completion calls can take tens of seconds.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	go s.sweepLimiter(ctx)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("api server shutdown error", "err", err)
	}
}

func (s *Server) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.limiter.Sweep()
		}
	}
}
