package providers

import (
	"context"
	"errors"

	"github.com/shipbot/pkg/models"
)

// ErrNotFound is returned when the tracker has no such object.
var ErrNotFound = errors.New("not found")

// Provider is the issue tracker the bot lives in (GitHub, GitLab).
// Implementations talk to the remote API; callers must treat every error as
// transient unless stated otherwise.
type Provider interface {
	Name() string

	// Issue reads the thread itself.
	Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error)
	// Comments lists comments with numbers greater than since, ascending.
	Comments(ctx context.Context, ref models.IssueRef, since int64) ([]models.Comment, error)
	// Comment reads one comment by number.
	Comment(ctx context.Context, ref models.IssueRef, number int64) (*models.Comment, error)
	// RecentComments lists up to limit newest comments, newest first.
	RecentComments(ctx context.Context, ref models.IssueRef, limit int) ([]models.Comment, error)
	PostComment(ctx context.Context, ref models.IssueRef, body string) error
	React(ctx context.Context, comment models.Comment, emoji string) error
	Follow(ctx context.Context, login string) error

	Collaborators(ctx context.Context, repo string) ([]string, error)
	Repository(ctx context.Context, repo string) (*models.Repository, error)
	PullRequest(ctx context.Context, ref models.IssueRef) (*models.PullRequest, error)
	ClosePullRequest(ctx context.Context, ref models.IssueRef) error
	Tags(ctx context.Context, repo string) ([]string, error)
	PublishRelease(ctx context.Context, repo, tag, notes string) error

	// FileContent reads a file from a branch; ErrNotFound when it is absent.
	FileContent(ctx context.Context, repo, branch, path string) (string, error)
}
