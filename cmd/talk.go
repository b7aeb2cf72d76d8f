package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

// TalkCommand returns the command that manages talks by hand.
func TalkCommand() *cli.Command {
	return &cli.Command{
		Name:  "talk",
		Usage: "Manage talks",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Start a talk on an issue or pull request",
				ArgsUsage: "OWNER/REPO#NUMBER",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pull",
						Usage: "The number is a pull/merge request",
					},
				},
				Action: withStore(runTalkAdd),
			},
			{
				Name:      "show",
				Usage:     "Print a talk as JSON",
				ArgsUsage: "NAME",
				Action:    withStore(runTalkShow),
			},
			{
				Name:  "list",
				Usage: "List recently updated talks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of talks",
						Value: 20,
					},
				},
				Action: withStore(runTalkList),
			},
			{
				Name:      "delete",
				Usage:     "Delete a talk",
				ArgsUsage: "NAME",
				Action:    withStore(runTalkDelete),
			},
		},
	}
}

// withStore opens the talk store for a subcommand; talk management never
// needs a tracker.
func withStore(action func(ctx context.Context, c *cli.Context, store talk.Store) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("talk management needs database.url")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		pool, store, _, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		return action(ctx, c, store)
	}
}

func oneArg(c *cli.Context, what string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("missing required argument: %s", what)
	}
	return c.Args().First(), nil
}

func runTalkAdd(ctx context.Context, c *cli.Context, store talk.Store) error {
	arg, err := oneArg(c, "OWNER/REPO#NUMBER")
	if err != nil {
		return err
	}
	ref, err := models.ParseIssueRef(arg)
	if err != nil {
		return err
	}
	ref.Pull = c.Bool("pull")

	t := &talk.Talk{
		Name:   talk.NameFor(ref),
		Repo:   ref.Repo,
		Issue:  ref.Number,
		Pull:   ref.Pull,
		Active: true,
		Resume: true,
	}
	if err := store.Create(ctx, t); err != nil {
		return fmt.Errorf("failed to create talk: %w", err)
	}
	fmt.Printf("Talk %s (#%d) started on %s\n", t.Name, t.Number, ref)
	return nil
}

func runTalkShow(ctx context.Context, c *cli.Context, store talk.Store) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	t, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func runTalkList(ctx context.Context, c *cli.Context, store talk.Store) error {
	talks, err := store.List(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTHREAD\tACTIVE\tSEEN\tREQUEST\tUPDATED")
	for _, t := range talks {
		req := "-"
		if t.Request != nil {
			req = fmt.Sprintf("%s#%d", t.Request.Type, t.Request.ID)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n",
			t.Name, t.Ref(), t.Active, t.LastSeen, req, t.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runTalkDelete(ctx context.Context, c *cli.Context, store talk.Store) error {
	name, err := oneArg(c, "NAME")
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Talk %s deleted\n", name)
	return nil
}
