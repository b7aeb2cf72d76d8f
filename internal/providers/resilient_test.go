package providers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/providers/fake"
	"github.com/shipbot/internal/retry"
	"github.com/shipbot/pkg/models"
)

var unavailable = errors.New("GET https://tracker/issues/1: 503 service unavailable")

// flaky fails the first reads and every post with a transient error.
type flaky struct {
	*fake.Tracker
	readFailures int
	reads        int
	posts        int
}

func (f *flaky) Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error) {
	f.reads++
	if f.reads <= f.readFailures {
		return nil, unavailable
	}
	return f.Tracker.Issue(ctx, ref)
}

func (f *flaky) PostComment(ctx context.Context, ref models.IssueRef, body string) error {
	f.posts++
	return unavailable
}

var ref = models.IssueRef{Repo: "acme/app", Number: 1}

func newFlaky(failures int) *flaky {
	tr := fake.New("shipbot")
	tr.AddIssue(models.Issue{Ref: ref, Author: "alice", Open: true})
	return &flaky{Tracker: tr, readFailures: failures}
}

func fast() retry.RetryConfig {
	return retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestResilient_RetriesTransientReads(t *testing.T) {
	inner := newFlaky(2)
	r := providers.NewResilient(inner, rate.NewLimiter(rate.Inf, 1), fast())

	issue, err := r.Issue(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "alice", issue.Author)
	assert.Equal(t, 3, inner.reads)
}

func TestResilient_GivesUp(t *testing.T) {
	inner := newFlaky(10)
	r := providers.NewResilient(inner, rate.NewLimiter(rate.Inf, 1), fast())

	_, err := r.Issue(context.Background(), ref)
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, 3, inner.reads)
}

func TestResilient_PermanentReadNotRetried(t *testing.T) {
	inner := newFlaky(0)
	r := providers.NewResilient(inner, rate.NewLimiter(rate.Inf, 1), fast())

	_, err := r.Issue(context.Background(), models.IssueRef{Repo: "acme/app", Number: 99})
	assert.ErrorIs(t, err, providers.ErrNotFound)
	assert.Equal(t, 1, inner.reads)
}

func TestResilient_WritesAreNotRetried(t *testing.T) {
	inner := newFlaky(0)
	r := providers.NewResilient(inner, rate.NewLimiter(rate.Inf, 1), fast())

	err := r.PostComment(context.Background(), ref, "hi")
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, 1, inner.posts)
	assert.Equal(t, "fake", r.Name())
	assert.Same(t, inner, r.Unwrap())
}

func TestResilient_Cancelled(t *testing.T) {
	inner := newFlaky(0)
	r := providers.NewResilient(inner, rate.NewLimiter(rate.Every(time.Hour), 1), fast())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Issue(ctx, ref)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.reads)
}
