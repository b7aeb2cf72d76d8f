package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

// GitHubConfig configures the GitHub provider. URL is only needed for
// GitHub Enterprise.
type GitHubConfig struct {
	Token string
	URL   string
}

// GitHubProvider implements providers.Provider on the GitHub REST API.
type GitHubProvider struct {
	client *github.Client
}

var _ providers.Provider = (*GitHubProvider)(nil)

// New creates a GitHub provider authenticated with a personal access token.
func New(ctx context.Context, config GitHubConfig) (*GitHubProvider, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: config.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	if config.URL != "" && !strings.Contains(config.URL, "api.github.com") {
		var err error
		client, err = client.WithEnterpriseURLs(config.URL, config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid github url %q: %w", config.URL, err)
		}
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an already configured client.
func NewWithClient(client *github.Client) *GitHubProvider {
	return &GitHubProvider{client: client}
}

func (p *GitHubProvider) Name() string {
	return "github"
}

func split(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// wrap maps a 404 to providers.ErrNotFound.
func wrap(resp *github.Response, err error, what string) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, providers.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (p *GitHubProvider) Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error) {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return nil, err
	}
	issue, resp, err := p.client.Issues.Get(ctx, owner, repo, ref.Number)
	if err != nil {
		return nil, wrap(resp, err, "get issue "+ref.String())
	}
	out := &models.Issue{
		Ref:       ref,
		Title:     issue.GetTitle(),
		Author:    issue.GetUser().GetLogin(),
		Body:      issue.GetBody(),
		URL:       issue.GetHTMLURL(),
		Pull:      issue.IsPullRequest(),
		Open:      issue.GetState() == "open",
		CreatedAt: issue.GetCreatedAt().Time,
	}
	out.Ref.Pull = out.Pull
	return out, nil
}

func convertComment(ref models.IssueRef, c *github.IssueComment) models.Comment {
	return models.Comment{
		Number:    c.GetID(),
		Author:    c.GetUser().GetLogin(),
		Body:      c.GetBody(),
		URL:       c.GetHTMLURL(),
		Issue:     ref,
		CreatedAt: c.GetCreatedAt().Time,
	}
}

func (p *GitHubProvider) listAll(ctx context.Context, ref models.IssueRef) ([]models.Comment, error) {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return nil, err
	}
	opts := &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []models.Comment
	for {
		page, resp, err := p.client.Issues.ListComments(ctx, owner, repo, ref.Number, opts)
		if err != nil {
			// what was read so far is still in order
			return out, wrap(resp, err, "list comments of "+ref.String())
		}
		for _, c := range page {
			out = append(out, convertComment(ref, c))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// Comments uses comment ids as numbers; they grow within an issue.
func (p *GitHubProvider) Comments(ctx context.Context, ref models.IssueRef, since int64) ([]models.Comment, error) {
	all, err := p.listAll(ctx, ref)
	var out []models.Comment
	for _, c := range all {
		if c.Number > since {
			out = append(out, c)
		}
	}
	return out, err
}

func (p *GitHubProvider) Comment(ctx context.Context, ref models.IssueRef, number int64) (*models.Comment, error) {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return nil, err
	}
	c, resp, err := p.client.Issues.GetComment(ctx, owner, repo, number)
	if err != nil {
		return nil, wrap(resp, err, fmt.Sprintf("get comment %d", number))
	}
	out := convertComment(ref, c)
	return &out, nil
}

// RecentComments pages through the thread since the issue comments endpoint
// only lists in ascending order.
func (p *GitHubProvider) RecentComments(ctx context.Context, ref models.IssueRef, limit int) ([]models.Comment, error) {
	all, err := p.listAll(ctx, ref)
	if err != nil {
		return nil, err
	}
	var out []models.Comment
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (p *GitHubProvider) PostComment(ctx context.Context, ref models.IssueRef, body string) error {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return err
	}
	_, resp, err := p.client.Issues.CreateComment(ctx, owner, repo, ref.Number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return wrap(resp, err, "post comment on "+ref.String())
	}
	log.Debug().Str("issue", ref.String()).Int("length", len(body)).Msg("comment posted")
	return nil
}

// React puts the emoji on the issue itself when the comment is the
// synthetic one built from its description.
func (p *GitHubProvider) React(ctx context.Context, comment models.Comment, emoji string) error {
	owner, repo, err := split(comment.Issue.Repo)
	if err != nil {
		return err
	}
	var resp *github.Response
	if comment.Number == models.SyntheticNumber {
		_, resp, err = p.client.Reactions.CreateIssueReaction(ctx, owner, repo, comment.Issue.Number, emoji)
	} else {
		_, resp, err = p.client.Reactions.CreateIssueCommentReaction(ctx, owner, repo, comment.Number, emoji)
	}
	return wrap(resp, err, "react on comment")
}

func (p *GitHubProvider) Follow(ctx context.Context, login string) error {
	resp, err := p.client.Users.Follow(ctx, login)
	return wrap(resp, err, "follow "+login)
}

func (p *GitHubProvider) Collaborators(ctx context.Context, repo string) ([]string, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.ListCollaboratorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var out []string
	for {
		users, resp, err := p.client.Repositories.ListCollaborators(ctx, owner, name, opts)
		if err != nil {
			return nil, wrap(resp, err, "list collaborators of "+repo)
		}
		for _, u := range users {
			out = append(out, u.GetLogin())
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (p *GitHubProvider) Repository(ctx context.Context, repo string) (*models.Repository, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	r, resp, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, wrap(resp, err, "get repository "+repo)
	}
	return &models.Repository{
		Name:          r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      r.GetCloneURL(),
		WebURL:        r.GetHTMLURL(),
	}, nil
}

func (p *GitHubProvider) PullRequest(ctx context.Context, ref models.IssueRef) (*models.PullRequest, error) {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return nil, err
	}
	pr, resp, err := p.client.PullRequests.Get(ctx, owner, repo, ref.Number)
	if err != nil {
		return nil, wrap(resp, err, "get pull request "+ref.String())
	}
	out := &models.PullRequest{
		Ref:        ref,
		Title:      pr.GetTitle(),
		Open:       pr.GetState() == "open",
		Head:       pr.GetHead().GetRepo().GetCloneURL(),
		HeadBranch: pr.GetHead().GetRef(),
		Base:       pr.GetBase().GetRepo().GetCloneURL(),
		BaseBranch: pr.GetBase().GetRef(),
	}
	out.Ref.Pull = true
	out.Checks = p.checks(ctx, owner, repo, pr.GetHead().GetSHA())
	return out, nil
}

// checks folds commit statuses and check runs into one verdict; any lookup
// failure yields ChecksUnknown.
func (p *GitHubProvider) checks(ctx context.Context, owner, repo, sha string) models.Checks {
	if sha == "" {
		return models.ChecksUnknown
	}
	verdict := models.ChecksPassing
	status, _, err := p.client.Repositories.GetCombinedStatus(ctx, owner, repo, sha, nil)
	if err != nil {
		return models.ChecksUnknown
	}
	if status.GetTotalCount() > 0 {
		switch status.GetState() {
		case "failure", "error":
			return models.ChecksFailing
		case "pending":
			verdict = models.ChecksPending
		}
	}
	runs, _, err := p.client.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return models.ChecksUnknown
	}
	for _, run := range runs.CheckRuns {
		if run.GetStatus() != "completed" {
			verdict = models.ChecksPending
			continue
		}
		switch run.GetConclusion() {
		case "failure", "timed_out", "cancelled", "action_required":
			return models.ChecksFailing
		}
	}
	return verdict
}

func (p *GitHubProvider) ClosePullRequest(ctx context.Context, ref models.IssueRef) error {
	owner, repo, err := split(ref.Repo)
	if err != nil {
		return err
	}
	_, resp, err := p.client.PullRequests.Edit(ctx, owner, repo, ref.Number, &github.PullRequest{
		State: github.Ptr("closed"),
	})
	return wrap(resp, err, "close pull request "+ref.String())
}

func (p *GitHubProvider) Tags(ctx context.Context, repo string) ([]string, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.ListOptions{PerPage: 100}
	var out []string
	for {
		tags, resp, err := p.client.Repositories.ListTags(ctx, owner, name, opts)
		if err != nil {
			return nil, wrap(resp, err, "list tags of "+repo)
		}
		for _, t := range tags {
			out = append(out, t.GetName())
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// PublishRelease creates the release for tag, or rewrites its notes when it
// already exists.
func (p *GitHubProvider) PublishRelease(ctx context.Context, repo, tag, notes string) error {
	owner, name, err := split(repo)
	if err != nil {
		return err
	}
	existing, resp, err := p.client.Repositories.GetReleaseByTag(ctx, owner, name, tag)
	if err != nil {
		if err = wrap(resp, err, "get release "+tag); !errors.Is(err, providers.ErrNotFound) {
			return err
		}
		_, resp, err = p.client.Repositories.CreateRelease(ctx, owner, name, &github.RepositoryRelease{
			TagName: github.Ptr(tag),
			Name:    github.Ptr(tag),
			Body:    github.Ptr(notes),
		})
		return wrap(resp, err, "create release "+tag)
	}
	_, resp, err = p.client.Repositories.EditRelease(ctx, owner, name, existing.GetID(), &github.RepositoryRelease{
		Body: github.Ptr(notes),
	})
	return wrap(resp, err, "edit release "+tag)
}

func (p *GitHubProvider) FileContent(ctx context.Context, repo, branch, path string) (string, error) {
	owner, name, err := split(repo)
	if err != nil {
		return "", err
	}
	file, _, resp, err := p.client.Repositories.GetContents(ctx, owner, name, path, &github.RepositoryContentGetOptions{
		Ref: branch,
	})
	if err != nil {
		return "", wrap(resp, err, "read "+path)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory: %w", path, providers.ErrNotFound)
	}
	return file.GetContent()
}
