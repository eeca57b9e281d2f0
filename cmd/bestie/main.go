package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bdobrica/bestie/common/crypto"
	"github.com/bdobrica/bestie/common/environment"
	"github.com/bdobrica/bestie/common/version"
	"github.com/bdobrica/bestie/internal/bestie/app"
	"github.com/bdobrica/bestie/internal/bestie/auth"
	"github.com/bdobrica/bestie/internal/bestie/llm"
	"github.com/bdobrica/bestie/internal/bestie/matrix"
	"github.com/bdobrica/bestie/internal/bestie/observability"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code. Deferred
// cleanup runs before the caller exits.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bestie", flag.ContinueOnError)
	fs.SetOutput(stderr)
	issueToken := fs.String("issue-token", "", "issue a bearer token for the given email and exit")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return 0
	}

	env := environment.New("")
	observability.Setup(env.StringOr("LOG_LEVEL", "info"), env.StringOr("LOG_FORMAT", "text"))

	config, err := loadConfig(env, *issueToken == "")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	bestie, err := app.New(config)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize Bestie: %v\n", err)
		return 1
	}
	defer bestie.Stop()

	if *issueToken != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		token, expiresAt, err := bestie.IssueToken(ctx, *issueToken)
		if err != nil {
			fmt.Fprintf(stderr, "Error issuing token: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s\n(expires %s)\n", token, expiresAt.Format(time.RFC3339))
		return 0
	}

	fmt.Fprintln(stdout, version.Info())
	if err := bestie.Run(); err != nil {
		fmt.Fprintf(stderr, "Error running Bestie: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the process settings from the environment.
func loadConfig(env *environment.Reader, requireLLM bool) (*app.Config, error) {
	cfg := &app.Config{
		HTTPAddr:        env.StringOr("BESTIE_HTTP_ADDR", ":8000"),
		DatabasePath:    env.StringOr("BESTIE_DB_PATH", "./bestie.db"),
		ConfigFile:      env.StringOr("BESTIE_CONFIG_FILE", ""),
		RateLimit:       env.IntOr("BESTIE_RATE_LIMIT", 0),
		GuestRateLimit:  env.IntOr("BESTIE_RATE_LIMIT_GUEST", 0),
		UserRateLimit:   env.IntOr("BESTIE_RATE_LIMIT_USER", 0),
		MatrixRateLimit: env.IntOr("BESTIE_RATE_LIMIT_MATRIX", 0),
		TokenTTL:        env.DurationOr("BESTIE_TOKEN_TTL", auth.DefaultTTL),
		LLM: llm.OpenAIConfig{
			APIKey:  env.StringOr("LLM_API_KEY", env.StringOr("OPENAI_API_KEY", "")),
			BaseURL: env.StringOr("LLM_BASE_URL", ""),
			Model:   env.StringOr("LLM_MODEL", "gpt-4o-mini"),
			Timeout: env.DurationOr("LLM_TIMEOUT", 60*time.Second),
		},
	}

	if requireLLM && cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required unless LLM_BASE_URL points at a keyless endpoint")
	}

	if raw := env.StringOr("BESTIE_MASTER_KEY", ""); raw != "" {
		key, err := crypto.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("BESTIE_MASTER_KEY: %w\nGenerate a key with: openssl rand -hex 32", err)
		}
		cfg.MasterKey = key
	}

	if hs := env.StringOr("MATRIX_HOMESERVER", ""); hs != "" {
		cfg.Matrix = &matrix.Config{
			Homeserver:    hs,
			UserID:        env.Required("MATRIX_USER_ID"),
			AccessToken:   env.Required("MATRIX_ACCESS_TOKEN"),
			MaxInFlight:   env.IntOr("MATRIX_MAX_IN_FLIGHT", 0),
			MaxOfflineGap: env.DurationOr("MATRIX_MAX_OFFLINE_GAP", 0),
		}
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
