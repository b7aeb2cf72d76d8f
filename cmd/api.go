package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/shipbot/internal/api"
	"github.com/shipbot/internal/jobqueue"
)

// APICommand returns the CLI command for starting the API server alone,
// for deployments where cycles run in other processes sharing the database.
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the shipbot API server without running cycles",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
		},
		Action: func(c *cli.Context) error {
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

			opts := api.Options{
				Port:          cfg.API.Port,
				Self:          cfg.General.Self,
				WebhookSecret: cfg.API.WebhookSecret,
				Tokens:        a.tokens,
			}
			if a.pool != nil {
				// insert-only client: no workers, the daemons pick the jobs up
				jq, err := jobqueue.NewInsertOnly(a.pool)
				if err != nil {
					return err
				}
				opts.Queue = jq
			} else {
				log.Warn().Msg("no database configured, webhooks only update the in-memory store")
			}

			return api.NewServer(a.store, opts).Start(ctx)
		},
	}
}
