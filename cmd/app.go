package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/shipbot/internal/agents"
	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/batch"
	"github.com/shipbot/internal/config"
	"github.com/shipbot/internal/database"
	"github.com/shipbot/internal/engine"
	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/logging"
	"github.com/shipbot/internal/phrases"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/providers/github"
	"github.com/shipbot/internal/providers/gitlab"
	"github.com/shipbot/internal/retry"
	"github.com/shipbot/internal/runner"
	"github.com/shipbot/internal/talk"
)

// app holds everything a command needs, wired from the configuration.
type app struct {
	cfg     *config.Config
	home    *url.URL
	pool    *pgxpool.Pool
	store   talk.Store
	locks   *lock.RepoLock
	tracker providers.Provider
	tokens  *runner.TokenService
	routine *engine.Routine
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// loadConfig reads and validates the configuration named by --config and
// sets up logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	logging.Setup(level, cfg.Log.Format)
	return cfg, nil
}

// openStore connects to Postgres when a database is configured, and falls
// back to an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, talk.Store, lock.Service, error) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("no database configured, talks are kept in memory")
		return nil, talk.NewInMemoryStore(), lock.NewMemory(), nil
	}
	pool, err := database.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return pool, talk.NewPostgresStore(pool), lock.NewPostgres(pool), nil
}

func createProvider(ctx context.Context, cfg *config.Config) (providers.Provider, error) {
	var (
		inner providers.Provider
		err   error
	)
	switch cfg.General.Provider {
	case "github":
		inner, err = github.New(ctx, github.GitHubConfig{
			URL:   cfg.ProviderString("url"),
			Token: cfg.ProviderString("token"),
		})
	case "gitlab":
		inner, err = gitlab.New(gitlab.GitLabConfig{
			URL:   cfg.ProviderString("url"),
			Token: cfg.ProviderString("token"),
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.General.Provider)
	}
	if err != nil {
		return nil, err
	}
	return providers.NewResilient(inner, nil, retry.TrackerRetryConfig()), nil
}

// newApp wires the cycle: tracker, stores, answers and the ordered steps.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	home, err := url.Parse(strings.TrimRight(cfg.General.Home, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid general.home: %w", err)
	}
	tracker, err := createProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	words, err := phrases.Load(cfg.Phrases)
	if err != nil {
		return nil, fmt.Errorf("failed to load phrases: %w", err)
	}
	pool, store, service, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		home:    home,
		pool:    pool,
		store:   store,
		locks:   lock.NewRepoLock(service),
		tracker: tracker,
	}
	if cfg.API.RunnerSecret != "" {
		a.tokens = runner.NewTokenService(cfg.API.RunnerSecret)
	}

	answers := answer.NewPublisher(tracker, cfg.General.Self, cfg.Answer.Ceiling, words)
	understands := engine.NewUnderstands(engine.Options{
		Self:     cfg.General.Self,
		Version:  Version,
		Revision: cfg.General.Revision,
		Since:    cfg.General.Since,
		Home:     home,
	}, tracker, store, answers, a.locks)

	// completions read the result before Reports archives it
	steps := []engine.Step{
		agents.NewCommentsTag(tracker, answers),
		agents.NewClosePullRequest(tracker),
		agents.NewReports(tracker, answers, store),
		understands,
	}
	if cfg.Runner.URL != "" {
		client := runner.NewClient(cfg.Runner.URL, home, a.tokens, cfg.Runner.Timeout)
		steps = append(steps, agents.NewStartsRequest(client, store))
	} else {
		log.Warn().Msg("no runner configured, requests stay pending")
	}
	steps = append(steps, agents.NewUnlocksRepo(a.locks))

	a.routine = engine.NewRoutine(store, batch.ConfigFromMap(cfg.Engine), cfg.Log.Dir, steps...)
	return a, nil
}
