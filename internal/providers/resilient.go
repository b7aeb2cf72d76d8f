package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shipbot/internal/retry"
	"github.com/shipbot/pkg/models"
)

// Resilient decorates a Provider with an outbound rate limit and retries of
// transient read failures. Writes are rate limited but never retried, so a
// timed out post is not published twice.
type Resilient struct {
	inner   Provider
	limiter *rate.Limiter
	retry   retry.RetryConfig
	logger  zerolog.Logger
}

// NewResilient wraps p. A nil limiter allows five requests per second.
func NewResilient(p Provider, limiter *rate.Limiter, cfg retry.RetryConfig) *Resilient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 5)
	}
	return &Resilient{
		inner:   p,
		limiter: limiter,
		retry:   cfg,
		logger:  log.With().Str("provider", p.Name()).Logger(),
	}
}

func (r *Resilient) Name() string { return r.inner.Name() }

// Unwrap returns the decorated provider.
func (r *Resilient) Unwrap() Provider { return r.inner }

func (r *Resilient) read(ctx context.Context, op func() error) error {
	var permanent error
	res := retry.RetryWithBackoff(ctx, r.retry, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			permanent = err
			return nil
		}
		err := op()
		if err != nil && !retry.IsRetryableError(err) {
			permanent = err
			return nil
		}
		return err
	}, &r.logger)
	if permanent != nil {
		return permanent
	}
	if !res.Success {
		return res.LastError
	}
	return nil
}

func (r *Resilient) write(ctx context.Context, op func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return op()
}

func (r *Resilient) Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error) {
	var out *models.Issue
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Issue(ctx, ref)
		return err
	})
	return out, err
}

func (r *Resilient) Comments(ctx context.Context, ref models.IssueRef, since int64) ([]models.Comment, error) {
	var out []models.Comment
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Comments(ctx, ref, since)
		return err
	})
	return out, err
}

func (r *Resilient) Comment(ctx context.Context, ref models.IssueRef, number int64) (*models.Comment, error) {
	var out *models.Comment
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Comment(ctx, ref, number)
		return err
	})
	return out, err
}

func (r *Resilient) RecentComments(ctx context.Context, ref models.IssueRef, limit int) ([]models.Comment, error) {
	var out []models.Comment
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.RecentComments(ctx, ref, limit)
		return err
	})
	return out, err
}

func (r *Resilient) PostComment(ctx context.Context, ref models.IssueRef, body string) error {
	return r.write(ctx, func() error { return r.inner.PostComment(ctx, ref, body) })
}

func (r *Resilient) React(ctx context.Context, comment models.Comment, emoji string) error {
	return r.write(ctx, func() error { return r.inner.React(ctx, comment, emoji) })
}

func (r *Resilient) Follow(ctx context.Context, login string) error {
	return r.write(ctx, func() error { return r.inner.Follow(ctx, login) })
}

func (r *Resilient) Collaborators(ctx context.Context, repo string) ([]string, error) {
	var out []string
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Collaborators(ctx, repo)
		return err
	})
	return out, err
}

func (r *Resilient) Repository(ctx context.Context, repo string) (*models.Repository, error) {
	var out *models.Repository
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Repository(ctx, repo)
		return err
	})
	return out, err
}

func (r *Resilient) PullRequest(ctx context.Context, ref models.IssueRef) (*models.PullRequest, error) {
	var out *models.PullRequest
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.PullRequest(ctx, ref)
		return err
	})
	return out, err
}

func (r *Resilient) ClosePullRequest(ctx context.Context, ref models.IssueRef) error {
	return r.write(ctx, func() error { return r.inner.ClosePullRequest(ctx, ref) })
}

func (r *Resilient) Tags(ctx context.Context, repo string) ([]string, error) {
	var out []string
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.Tags(ctx, repo)
		return err
	})
	return out, err
}

func (r *Resilient) PublishRelease(ctx context.Context, repo, tag, notes string) error {
	return r.write(ctx, func() error { return r.inner.PublishRelease(ctx, repo, tag, notes) })
}

func (r *Resilient) FileContent(ctx context.Context, repo, branch, path string) (string, error) {
	var out string
	err := r.read(ctx, func() (err error) {
		out, err = r.inner.FileContent(ctx, repo, branch, path)
		return err
	})
	return out, err
}
