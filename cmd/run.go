package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/shipbot/internal/api"
	"github.com/shipbot/internal/jobqueue"
)

// Version is the release the bot reports when asked; set at build time.
var Version = "0.1.0"

// RunCommand returns the command that runs the bot: the API server plus
// talk cycles, on River when a database is configured and on a local
// ticker otherwise.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the shipbot daemon",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the API server port",
			},
		},
		Action: runDaemon,
	}
}

// CycleCommand returns the command that makes one pass over all active
// talks and exits.
func CycleCommand() *cli.Command {
	return &cli.Command{
		Name:      "cycle",
		Usage:     "Run one cycle over all active talks, or over the named ones",
		ArgsUsage: "[TALK...]",
		Action:    runCycle,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDaemon(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.API.Port = port
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queueConfig := jobqueue.QueueConfigFromMap(cfg.Engine)
	opts := api.Options{
		Port:          cfg.API.Port,
		Self:          cfg.General.Self,
		WebhookSecret: cfg.API.WebhookSecret,
		Tokens:        a.tokens,
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.pool != nil {
		jq, err := jobqueue.NewJobQueue(a.pool, a.routine, a.store, queueConfig)
		if err != nil {
			return err
		}
		if err := jq.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jq.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("job queue did not stop cleanly")
			}
		}()
		opts.Queue = jq
	} else {
		g.Go(func() error {
			return cycleLoop(ctx, a, queueConfig.Interval)
		})
	}

	server := api.NewServer(a.store, opts)
	g.Go(func() error {
		return server.Start(ctx)
	})

	log.Info().Str("version", Version).Str("provider", cfg.General.Provider).Msg("shipbot started")
	return g.Wait()
}

// cycleLoop cycles all active talks every interval until ctx is done.
func cycleLoop(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.routine.Cycle(ctx); err != nil {
			log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runCycle(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.NArg() > 0 {
		for _, name := range c.Args().Slice() {
			if err := a.routine.Talk(ctx, name); err != nil {
				return err
			}
			fmt.Printf("Cycled %s\n", name)
		}
		return nil
	}

	summary, err := a.routine.Cycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cycled %d talks, %d failed\n", summary.Talks, len(summary.Failed))
	for name, ferr := range summary.Failed {
		fmt.Printf("  %s: %v\n", name, ferr)
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d talks failed", len(summary.Failed))
	}
	return nil
}
