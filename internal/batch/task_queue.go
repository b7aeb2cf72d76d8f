package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
	ID() string
	MaxRetries() int
}

// TaskResult represents the result of a task execution
type TaskResult struct {
	TaskID   string
	Error    error
	Retries  int
	Duration time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// TaskQueue is a queue for processing tasks with retry capabilities
type TaskQueue struct {
	tasks      []Task
	results    map[string]*TaskResult
	maxWorkers int
	maxRetries int
	retryDelay time.Duration
	mu         sync.Mutex
}

// NewTaskQueue creates a new task queue
func NewTaskQueue(maxWorkers int) *TaskQueue {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &TaskQueue{
		results:    make(map[string]*TaskResult),
		maxWorkers: maxWorkers,
		maxRetries: 2,
		retryDelay: 2 * time.Second,
	}
}

// AddTask adds a task to the queue
func (q *TaskQueue) AddTask(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// SetMaxRetries sets the maximum number of retries for tasks
func (q *TaskQueue) SetMaxRetries(maxRetries int) {
	q.maxRetries = maxRetries
}

// SetRetryDelay sets the delay between retries
func (q *TaskQueue) SetRetryDelay(delay time.Duration) {
	q.retryDelay = delay
}

// ProcessAll runs every queued task, at most maxWorkers at a time, and
// returns the results keyed by task ID. The queue is emptied. A failing
// task never stops the others.
func (q *TaskQueue) ProcessAll(ctx context.Context) map[string]*TaskResult {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	results := make(map[string]*TaskResult, len(pending))
	var resultsMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(q.maxWorkers)
	for _, task := range pending {
		g.Go(func() error {
			res := q.run(ctx, task)
			resultsMu.Lock()
			results[res.TaskID] = res
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	q.results = results
	q.mu.Unlock()

	return results
}

// run executes task until it succeeds, fails permanently or runs out of
// retries.
func (q *TaskQueue) run(ctx context.Context, task Task) *TaskResult {
	limit := task.MaxRetries()
	if limit < 0 {
		limit = q.maxRetries
	}

	res := &TaskResult{TaskID: task.ID()}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	for {
		res.Error = task.Execute(ctx)
		if res.Error == nil || IsPermanent(res.Error) || res.Retries >= limit {
			return res
		}
		res.Retries++
		log.Debug().Err(res.Error).Str("task", res.TaskID).Int("retry", res.Retries).Msg("retrying task")

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Error = fmt.Errorf("task cancelled: %w", ctx.Err())
			return res
		}
	}
}

// GetResults returns the results of the last ProcessAll
func (q *TaskQueue) GetResults() map[string]*TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	resultsCopy := make(map[string]*TaskResult, len(q.results))
	for k, v := range q.results {
		resultsCopy[k] = v
	}

	return resultsCopy
}

// FuncTask adapts a function to Task.
type FuncTask struct {
	id         string
	fn         func(ctx context.Context) error
	maxRetries int
}

// NewFuncTask creates a task that uses the queue's retry default.
func NewFuncTask(id string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: id, fn: fn, maxRetries: -1}
}

// SetMaxRetries overrides the queue default for this task.
func (t *FuncTask) SetMaxRetries(n int) *FuncTask {
	t.maxRetries = n
	return t
}

func (t *FuncTask) Execute(ctx context.Context) error { return t.fn(ctx) }
func (t *FuncTask) ID() string                        { return t.id }
func (t *FuncTask) MaxRetries() int                   { return t.maxRetries }
