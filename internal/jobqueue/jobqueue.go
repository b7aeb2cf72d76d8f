/*
Package jobqueue schedules talk cycles on a River job queue, so that several
engine processes share the work and a talk is cycled by one of them at a
time.

For configuration options, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/batch"
	"github.com/shipbot/internal/talk"
)

// Cycler runs one cycle over one talk.
type Cycler interface {
	Talk(ctx context.Context, name string) error
}

// Lister lists the talks that need cycles.
type Lister interface {
	Active(ctx context.Context) ([]*talk.Talk, error)
}

// CycleJobArgs represents the arguments for a talk cycle job
type CycleJobArgs struct {
	Talk string `json:"talk"`
}

// Kind returns the job kind for River
func (CycleJobArgs) Kind() string {
	return "talk_cycle"
}

// InsertOpts keeps at most one waiting or running cycle per talk.
func (CycleJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// CycleWorker handles talk cycle jobs
type CycleWorker struct {
	river.WorkerDefaults[CycleJobArgs]
	cycler Cycler
	config *QueueConfig
}

// Work runs the cycle. A permanent failure cancels the job instead of
// having River retry it.
func (w *CycleWorker) Work(ctx context.Context, job *river.Job[CycleJobArgs]) error {
	err := w.cycler.Talk(ctx, job.Args.Talk)
	if err == nil {
		return nil
	}
	log.Error().Err(err).Str("talk", job.Args.Talk).Int("attempt", job.Attempt).Msg("talk cycle failed")
	if batch.IsPermanent(err) {
		return river.JobCancel(err)
	}
	return err
}

// Timeout bounds one cycle.
func (w *CycleWorker) Timeout(*river.Job[CycleJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// SweepJobArgs represents the periodic job that schedules a cycle for every
// active talk
type SweepJobArgs struct{}

// Kind returns the job kind for River
func (SweepJobArgs) Kind() string {
	return "talk_sweep"
}

// enqueuer is the part of JobQueue the sweep needs.
type enqueuer interface {
	EnqueueTalks(ctx context.Context, names ...string) error
}

// SweepWorker handles sweep jobs
type SweepWorker struct {
	river.WorkerDefaults[SweepJobArgs]
	talks Lister
	queue enqueuer
}

// Work enqueues a cycle for each active talk.
func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepJobArgs]) error {
	talks, err := w.talks.Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active talks: %w", err)
	}
	names := make([]string, 0, len(talks))
	for _, t := range talks {
		names = append(names, t.Name)
	}
	if len(names) == 0 {
		return nil
	}
	if err := w.queue.EnqueueTalks(ctx, names...); err != nil {
		return err
	}
	log.Debug().Int("talks", len(names)).Msg("talk cycles scheduled")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance on an open pool.
func NewJobQueue(pool *pgxpool.Pool, cycler Cycler, talks Lister, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	jq := &JobQueue{config: config}

	workers := river.NewWorkers()
	river.AddWorker(workers, &CycleWorker{cycler: cycler, config: config})
	river.AddWorker(workers, &SweepWorker{talks: talks, queue: jq})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(config.Interval),
				func() (river.JobArgs, *river.InsertOpts) {
					return SweepJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	jq.client = client
	return jq, nil
}

// NewInsertOnly creates a queue that schedules cycles but works none;
// Start and Stop must not be called on it.
func NewInsertOnly(pool *pgxpool.Pool) (*JobQueue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &JobQueue{client: client, config: DefaultQueueConfig()}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueTalks schedules a cycle for each named talk; a talk that already
// has one waiting is skipped.
func (jq *JobQueue) EnqueueTalks(ctx context.Context, names ...string) error {
	params := make([]river.InsertManyParams, 0, len(names))
	for _, name := range names {
		params = append(params, river.InsertManyParams{Args: CycleJobArgs{Talk: name}})
	}
	if _, err := jq.client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("failed to queue talk cycles: %w", err)
	}
	return nil
}
