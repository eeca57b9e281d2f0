// Package app wires the Bestie components into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/bestie/common/crypto"
	"github.com/bdobrica/bestie/internal/bestie/api"
	"github.com/bdobrica/bestie/internal/bestie/augment"
	"github.com/bdobrica/bestie/internal/bestie/auth"
	"github.com/bdobrica/bestie/internal/bestie/config"
	"github.com/bdobrica/bestie/internal/bestie/emotion"
	"github.com/bdobrica/bestie/internal/bestie/llm"
	"github.com/bdobrica/bestie/internal/bestie/matrix"
	"github.com/bdobrica/bestie/internal/bestie/memory"
	"github.com/bdobrica/bestie/internal/bestie/reply"
	"github.com/bdobrica/bestie/internal/bestie/safety"
	"github.com/bdobrica/bestie/internal/bestie/session"
	"github.com/bdobrica/bestie/internal/bestie/store"
)

// tokenPruneInterval is how often expired bearer tokens are deleted.
const tokenPruneInterval = time.Hour

// Config holds the process settings.
type Config struct {
	HTTPAddr     string
	DatabasePath string
	// ConfigFile is the optional YAML conversation configuration.
	ConfigFile string
	// MasterKey enables at-rest encryption of stored messages when set.
	MasterKey []byte
	// RateLimit is the default per-minute chat quota of a caller. The scoped
	// limits override it for guests, token users and Matrix senders.
	RateLimit       int
	GuestRateLimit  int
	UserRateLimit   int
	MatrixRateLimit int
	TokenTTL        time.Duration

	LLM llm.OpenAIConfig
	// Provider overrides the OpenAI provider built from LLM.
	Provider llm.Provider

	// Matrix enables the Matrix transport when non-nil.
	Matrix *matrix.Config
}

// App is the running service.
type App struct {
	config   *Config
	store    *store.Store
	tokens   *auth.TokenStore
	windows  *memory.Store
	composer *reply.Composer
	limiter  *api.RateLimiter
	api      *api.Server
	matrix   *matrix.Client
}

// New builds every component. Nothing is started until Run.
func New(cfg *Config) (*App, error) {
	conv, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	var storeOpts []store.Option
	if len(cfg.MasterKey) > 0 {
		sealer, err := crypto.NewSealer(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("app: master key: %w", err)
		}
		storeOpts = append(storeOpts, store.WithSealer(sealer))
	} else {
		slog.Warn("no master key configured; stored messages are not encrypted")
	}

	db, err := store.New(cfg.DatabasePath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	provider := cfg.Provider
	if provider == nil {
		provider = llm.NewOpenAI(cfg.LLM)
	}

	tables, err := augment.New(conv.Tables(), nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	screener := safety.New(conv.Denylist)
	windows := memory.NewStore()
	composer, err := reply.New(
		screener,
		emotion.NewClassifier(provider, emotion.WithTimeout(conv.Timeouts.Classification)),
		provider,
		windows,
		reply.WithResolver(session.NewResolver(conv.Capacities)),
		reply.WithAugmenter(tables),
		reply.WithLogSink(db),
		reply.WithPersona(conv.Persona),
		reply.WithCrisisReply(conv.CrisisReply),
		reply.WithCompletionTimeout(conv.Timeouts.Completion),
		reply.WithSinkTimeout(conv.Timeouts.Sink),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	tokens := auth.NewTokenStore(db.DB(), cfg.TokenTTL)
	limiter := api.NewRateLimiter(cfg.RateLimit, 0,
		api.WithScopeLimit(api.ScopeGuest, cfg.GuestRateLimit),
		api.WithScopeLimit(api.ScopeUser, cfg.UserRateLimit),
		api.WithScopeLimit(api.ScopeMatrix, cfg.MatrixRateLimit),
	)

	srv, err := api.NewServer(api.Config{
		Addr:     cfg.HTTPAddr,
		Composer: composer,
		Sessions: windows,
		Auth:     tokens,
		Revoker:  tokens,
		History:  db,
		Limiter:  limiter,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		config:   cfg,
		store:    db,
		tokens:   tokens,
		windows:  windows,
		composer: composer,
		limiter:  limiter,
		api:      srv,
	}

	if cfg.Matrix != nil {
		mcfg := *cfg.Matrix
		mcfg.DB = db.DB()
		a.matrix, err = matrix.New(&mcfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	slog.Info("bestie initialised",
		"capacity_global", conv.Capacities.Global,
		"capacity_guest", conv.Capacities.Guest,
		"capacity_user", conv.Capacities.User,
		"denylist_phrases", len(screener.Phrases()),
		"matrix", a.matrix != nil,
		"encrypted", len(cfg.MasterKey) > 0,
	)
	return a, nil
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler { return a.api }

// IssueToken creates a bearer token for email.
func (a *App) IssueToken(ctx context.Context, email string) (string, time.Time, error) {
	return a.tokens.Issue(ctx, email)
}

// Start launches the HTTP server, the Matrix sync loop and the token
// pruning loop. Everything stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if a.config.HTTPAddr == "" && a.matrix == nil {
		return errors.New("app: neither an HTTP address nor Matrix credentials are configured")
	}

	if a.config.HTTPAddr != "" {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if a.matrix != nil {
		bot := matrix.NewBot(a.composer, a.matrix, a.limiter, a.matrix.UserID(), a.matrix.ResumeSince(ctx))
		slog.Info("starting Matrix sync", "user_id", a.matrix.UserID().String())
		if err := a.matrix.Start(ctx, bot.HandleMessage); err != nil {
			return fmt.Errorf("app: start matrix: %w", err)
		}
	}

	go a.pruneTokens(ctx)
	return nil
}

// Run starts the service and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	slog.Info("bestie is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop releases every resource.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	slog.Info("stopping api server")
	a.api.Stop()

	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}

func (a *App) pruneTokens(ctx context.Context) {
	ticker := time.NewTicker(tokenPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.tokens.PruneExpired(ctx)
			if err != nil {
				slog.Warn("prune expired tokens", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned expired tokens", "count", n)
			}
		}
	}
}
