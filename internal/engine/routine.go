package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/batch"
	"github.com/shipbot/internal/logging"
	"github.com/shipbot/internal/talk"
)

// Step is one agent's pass over a talk. It returns the talk as it is after
// the pass.
type Step interface {
	Name() string
	Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error)
}

// Routine runs every step over active talks.
type Routine struct {
	store  talk.Store
	steps  []Step
	pool   batch.Config
	logDir string
}

// NewRoutine creates a routine running steps in the given order.
func NewRoutine(store talk.Store, pool batch.Config, logDir string, steps ...Step) *Routine {
	return &Routine{store: store, steps: steps, pool: pool, logDir: logDir}
}

// Summary is the outcome of one cycle over all active talks.
type Summary struct {
	Talks  int
	Failed map[string]error
}

// Talk runs the steps over one talk. The first failing step ends the cycle
// of that talk; a watermark regression is reported as permanent.
func (r *Routine) Talk(ctx context.Context, name string) error {
	t, err := r.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read talk %s: %w", name, err)
	}
	if !t.Active {
		return nil
	}

	tl, err := logging.StartTalkLogging(r.logDir, name)
	if err != nil {
		log.Warn().Err(err).Str("talk", name).Msg("talk log unavailable")
	}
	defer tl.Close()

	for _, step := range r.steps {
		next, err := step.Run(ctx, t)
		if err != nil {
			tl.LogError(step.Name(), err)
			err = fmt.Errorf("%s on %s: %w", step.Name(), name, err)
			if errors.Is(err, talk.ErrWatermarkRegression) {
				return batch.Permanent(err)
			}
			return err
		}
		t = next
	}
	tl.Log("cycle finished at comment %d, resume=%t, busy=%t", t.LastSeen, t.Resume, t.Busy())
	return nil
}

// Cycle runs one pass over all active talks, several at a time. A failing
// talk doesn't stop the others.
func (r *Routine) Cycle(ctx context.Context) (*Summary, error) {
	talks, err := r.store.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active talks: %w", err)
	}

	queue := batch.ConfigureTaskQueue(r.pool)
	for _, t := range talks {
		name := t.Name
		queue.AddTask(batch.NewFuncTask(name, func(ctx context.Context) error {
			return r.Talk(ctx, name)
		}))
	}

	summary := &Summary{Talks: len(talks), Failed: map[string]error{}}
	for name, res := range queue.ProcessAll(ctx) {
		if res.Error != nil {
			summary.Failed[name] = res.Error
			log.Error().Err(res.Error).Str("talk", name).Int("retries", res.Retries).Msg("talk cycle failed")
		}
	}
	log.Info().Int("talks", summary.Talks).Int("failed", len(summary.Failed)).Msg("cycle completed")
	return summary, nil
}
