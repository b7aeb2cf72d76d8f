// Package fake is an in-memory issue tracker for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

// Reaction records one emoji put on a comment.
type Reaction struct {
	Comment int64
	Emoji   string
}

// Tracker implements providers.Provider in memory.
type Tracker struct {
	mu sync.Mutex

	self          string
	issues        map[string]*models.Issue
	comments      map[string][]models.Comment
	pulls         map[string]*models.PullRequest
	repos         map[string]*models.Repository
	collaborators map[string][]string
	tags          map[string][]string
	files         map[string]string
	releases      map[string]string
	failures      map[string]error

	reactions []Reaction
	followed  []string
	closed    []models.IssueRef
}

var _ providers.Provider = (*Tracker)(nil)

// New creates an empty tracker; comments posted through it are authored by
// self.
func New(self string) *Tracker {
	return &Tracker{
		self:          self,
		issues:        map[string]*models.Issue{},
		comments:      map[string][]models.Comment{},
		pulls:         map[string]*models.PullRequest{},
		repos:         map[string]*models.Repository{},
		collaborators: map[string][]string{},
		tags:          map[string][]string{},
		files:         map[string]string{},
		releases:      map[string]string{},
		failures:      map[string]error{},
	}
}

func (t *Tracker) Name() string { return "fake" }

// AddIssue registers an issue (and a repository with a "master" default
// branch when none is known yet).
func (t *Tracker) AddIssue(issue models.Issue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue.Ref.Pull = issue.Pull
	if issue.URL == "" {
		issue.URL = fmt.Sprintf("https://tracker.local/%s/issues/%d", issue.Ref.Repo, issue.Ref.Number)
	}
	t.issues[key(issue.Ref)] = &issue
	if _, ok := t.repos[issue.Ref.Repo]; !ok {
		t.repos[issue.Ref.Repo] = &models.Repository{
			Name:          issue.Ref.Repo,
			DefaultBranch: "master",
			CloneURL:      fmt.Sprintf("https://tracker.local/%s.git", issue.Ref.Repo),
			WebURL:        fmt.Sprintf("https://tracker.local/%s", issue.Ref.Repo),
		}
	}
}

// AddComment appends a comment. A zero number gets the next free one,
// starting at 2 since 1 is reserved for the issue description.
func (t *Tracker) AddComment(ref models.IssueRef, c models.Comment) models.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(ref, c)
}

func (t *Tracker) appendLocked(ref models.IssueRef, c models.Comment) models.Comment {
	k := key(ref)
	list := t.comments[k]
	if c.Number == 0 {
		c.Number = 2
		if n := len(list); n > 0 && list[n-1].Number >= c.Number {
			c.Number = list[n-1].Number + 1
		}
	}
	c.Issue = ref
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.URL == "" {
		c.URL = fmt.Sprintf("https://tracker.local/%s/issues/%d#comment-%d", ref.Repo, ref.Number, c.Number)
	}
	list = append(list, c)
	sort.Slice(list, func(i, j int) bool { return list[i].Number < list[j].Number })
	t.comments[k] = list
	return c
}

func (t *Tracker) SetPullRequest(pr models.PullRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pulls[key(pr.Ref)] = &pr
}

func (t *Tracker) SetRepository(repo models.Repository) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repos[repo.Name] = &repo
}

func (t *Tracker) SetCollaborators(repo string, logins ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collaborators[repo] = logins
}

func (t *Tracker) SetTags(repo string, tags ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags[repo] = tags
}

func (t *Tracker) SetFile(repo, branch, path, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[repo+"@"+branch+":"+path] = content
}

// FailOn makes every call of the named method return err; a nil err clears
// the failure.
func (t *Tracker) FailOn(method string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, method)
		return
	}
	t.failures[method] = err
}

// Posted returns the comments the bot has published on the issue.
func (t *Tracker) Posted(ref models.IssueRef) []models.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Comment
	for _, c := range t.comments[key(ref)] {
		if strings.EqualFold(c.Author, t.self) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tracker) Reactions() []Reaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Reaction(nil), t.reactions...)
}

func (t *Tracker) Followed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.followed...)
}

func (t *Tracker) Closed() []models.IssueRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.IssueRef(nil), t.closed...)
}

// Release returns the notes published for a tag.
func (t *Tracker) Release(repo, tag string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	notes, ok := t.releases[repo+"@"+tag]
	return notes, ok
}

func (t *Tracker) fail(method string) error {
	return t.failures[method]
}

func (t *Tracker) Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Issue"); err != nil {
		return nil, err
	}
	issue, ok := t.issues[key(ref)]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", ref, providers.ErrNotFound)
	}
	cp := *issue
	return &cp, nil
}

func (t *Tracker) Comments(ctx context.Context, ref models.IssueRef, since int64) ([]models.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Comments"); err != nil {
		return nil, err
	}
	var out []models.Comment
	for _, c := range t.comments[key(ref)] {
		if c.Number > since {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *Tracker) Comment(ctx context.Context, ref models.IssueRef, number int64) (*models.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Comment"); err != nil {
		return nil, err
	}
	for _, c := range t.comments[key(ref)] {
		if c.Number == number {
			cp := c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("comment %d on %s: %w", number, ref, providers.ErrNotFound)
}

func (t *Tracker) RecentComments(ctx context.Context, ref models.IssueRef, limit int) ([]models.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("RecentComments"); err != nil {
		return nil, err
	}
	list := t.comments[key(ref)]
	var out []models.Comment
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (t *Tracker) PostComment(ctx context.Context, ref models.IssueRef, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("PostComment"); err != nil {
		return err
	}
	t.appendLocked(ref, models.Comment{Author: t.self, Body: body})
	return nil
}

func (t *Tracker) React(ctx context.Context, comment models.Comment, emoji string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("React"); err != nil {
		return err
	}
	t.reactions = append(t.reactions, Reaction{Comment: comment.Number, Emoji: emoji})
	return nil
}

func (t *Tracker) Follow(ctx context.Context, login string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Follow"); err != nil {
		return err
	}
	t.followed = append(t.followed, login)
	return nil
}

func (t *Tracker) Collaborators(ctx context.Context, repo string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Collaborators"); err != nil {
		return nil, err
	}
	return append([]string(nil), t.collaborators[repo]...), nil
}

func (t *Tracker) Repository(ctx context.Context, repo string) (*models.Repository, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Repository"); err != nil {
		return nil, err
	}
	r, ok := t.repos[repo]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repo, providers.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (t *Tracker) PullRequest(ctx context.Context, ref models.IssueRef) (*models.PullRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("PullRequest"); err != nil {
		return nil, err
	}
	pr, ok := t.pulls[key(ref)]
	if !ok {
		return nil, fmt.Errorf("pull request %s: %w", ref, providers.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (t *Tracker) ClosePullRequest(ctx context.Context, ref models.IssueRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("ClosePullRequest"); err != nil {
		return err
	}
	if pr, ok := t.pulls[key(ref)]; ok {
		pr.Open = false
	}
	t.closed = append(t.closed, ref)
	return nil
}

func (t *Tracker) Tags(ctx context.Context, repo string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("Tags"); err != nil {
		return nil, err
	}
	return append([]string(nil), t.tags[repo]...), nil
}

func (t *Tracker) PublishRelease(ctx context.Context, repo, tag, notes string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("PublishRelease"); err != nil {
		return err
	}
	t.releases[repo+"@"+tag] = notes
	return nil
}

func (t *Tracker) FileContent(ctx context.Context, repo, branch, path string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("FileContent"); err != nil {
		return "", err
	}
	content, ok := t.files[repo+"@"+branch+":"+path]
	if !ok {
		return "", fmt.Errorf("%s on %s@%s: %w", path, repo, branch, providers.ErrNotFound)
	}
	return content, nil
}

// key ignores the Pull flag so refs built from issue and pull endpoints
// address the same thread.
func key(ref models.IssueRef) string {
	return fmt.Sprintf("%s#%d", strings.ToLower(ref.Repo), ref.Number)
}
