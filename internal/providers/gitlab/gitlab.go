package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

// GitLabProvider implements providers.Provider for GitLab. Issue references
// with Pull set address merge requests; the repository is the project path.
type GitLabProvider struct {
	client *gitlab.Client
	config GitLabConfig
}

// GitLabConfig contains configuration for the GitLab provider
type GitLabConfig struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

var _ providers.Provider = (*GitLabProvider)(nil)

// New creates a new GitLabProvider
func New(config GitLabConfig) (*GitLabProvider, error) {
	var opts []gitlab.ClientOptionFunc
	if config.URL != "" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", strings.TrimRight(config.URL, "/"))))
	}
	client, err := gitlab.NewClient(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	log.Info().Str("url", config.URL).Msg("initialized GitLab client")
	return &GitLabProvider{client: client, config: config}, nil
}

func (p *GitLabProvider) Name() string {
	return "gitlab"
}

func wrap(resp *gitlab.Response, err error, what string) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, providers.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (p *GitLabProvider) Issue(ctx context.Context, ref models.IssueRef) (*models.Issue, error) {
	if ref.Pull {
		mr, resp, err := p.client.MergeRequests.GetMergeRequest(ref.Repo, ref.Number, nil, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrap(resp, err, "get merge request "+ref.String())
		}
		out := &models.Issue{
			Ref:   ref,
			Title: mr.Title,
			Body:  mr.Description,
			URL:   mr.WebURL,
			Pull:  true,
			Open:  mr.State == "opened",
		}
		if mr.Author != nil {
			out.Author = mr.Author.Username
		}
		if mr.CreatedAt != nil {
			out.CreatedAt = *mr.CreatedAt
		}
		return out, nil
	}
	issue, resp, err := p.client.Issues.GetIssue(ref.Repo, ref.Number, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap(resp, err, "get issue "+ref.String())
	}
	out := &models.Issue{
		Ref:   ref,
		Title: issue.Title,
		Body:  issue.Description,
		URL:   issue.WebURL,
		Open:  issue.State == "opened",
	}
	if issue.Author != nil {
		out.Author = issue.Author.Username
	}
	if issue.CreatedAt != nil {
		out.CreatedAt = *issue.CreatedAt
	}
	return out, nil
}

func convertNote(ref models.IssueRef, n *gitlab.Note) models.Comment {
	c := models.Comment{
		Number: int64(n.ID),
		Author: n.Author.Username,
		Body:   n.Body,
		Issue:  ref,
	}
	if n.CreatedAt != nil {
		c.CreatedAt = *n.CreatedAt
	}
	return c
}

// notes lists user notes (system notes skipped) in the given order.
func (p *GitLabProvider) notes(ctx context.Context, ref models.IssueRef, sort string, limit int) ([]models.Comment, error) {
	list := gitlab.ListOptions{PerPage: 100}
	var out []models.Comment
	for {
		var (
			page []*gitlab.Note
			resp *gitlab.Response
			err  error
		)
		if ref.Pull {
			page, resp, err = p.client.Notes.ListMergeRequestNotes(ref.Repo, ref.Number, &gitlab.ListMergeRequestNotesOptions{
				ListOptions: list,
				OrderBy:     gitlab.Ptr("created_at"),
				Sort:        gitlab.Ptr(sort),
			}, gitlab.WithContext(ctx))
		} else {
			page, resp, err = p.client.Notes.ListIssueNotes(ref.Repo, ref.Number, &gitlab.ListIssueNotesOptions{
				ListOptions: list,
				OrderBy:     gitlab.Ptr("created_at"),
				Sort:        gitlab.Ptr(sort),
			}, gitlab.WithContext(ctx))
		}
		if err != nil {
			return out, wrap(resp, err, "list notes of "+ref.String())
		}
		for _, n := range page {
			if n.System {
				continue
			}
			out = append(out, convertNote(ref, n))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		list.Page = resp.NextPage
	}
}

func (p *GitLabProvider) Comments(ctx context.Context, ref models.IssueRef, since int64) ([]models.Comment, error) {
	all, err := p.notes(ctx, ref, "asc", 0)
	var out []models.Comment
	for _, c := range all {
		if c.Number > since {
			out = append(out, c)
		}
	}
	return out, err
}

func (p *GitLabProvider) Comment(ctx context.Context, ref models.IssueRef, number int64) (*models.Comment, error) {
	var (
		note *gitlab.Note
		resp *gitlab.Response
		err  error
	)
	if ref.Pull {
		note, resp, err = p.client.Notes.GetMergeRequestNote(ref.Repo, ref.Number, int(number), gitlab.WithContext(ctx))
	} else {
		note, resp, err = p.client.Notes.GetIssueNote(ref.Repo, ref.Number, int(number), gitlab.WithContext(ctx))
	}
	if err != nil {
		return nil, wrap(resp, err, fmt.Sprintf("get note %d", number))
	}
	c := convertNote(ref, note)
	return &c, nil
}

func (p *GitLabProvider) RecentComments(ctx context.Context, ref models.IssueRef, limit int) ([]models.Comment, error) {
	return p.notes(ctx, ref, "desc", limit)
}

func (p *GitLabProvider) PostComment(ctx context.Context, ref models.IssueRef, body string) error {
	var (
		resp *gitlab.Response
		err  error
	)
	if ref.Pull {
		_, resp, err = p.client.Notes.CreateMergeRequestNote(ref.Repo, ref.Number, &gitlab.CreateMergeRequestNoteOptions{
			Body: gitlab.Ptr(body),
		}, gitlab.WithContext(ctx))
	} else {
		_, resp, err = p.client.Notes.CreateIssueNote(ref.Repo, ref.Number, &gitlab.CreateIssueNoteOptions{
			Body: gitlab.Ptr(body),
		}, gitlab.WithContext(ctx))
	}
	return wrap(resp, err, "post note on "+ref.String())
}

// emojiNames maps GitHub reaction names to GitLab award emoji.
var emojiNames = map[string]string{
	"+1":     "thumbsup",
	"-1":     "thumbsdown",
	"eyes":   "eyes",
	"rocket": "rocket",
	"hooray": "tada",
}

func (p *GitLabProvider) React(ctx context.Context, comment models.Comment, emoji string) error {
	name, ok := emojiNames[emoji]
	if !ok {
		name = emoji
	}
	opt := &gitlab.CreateAwardEmojiOptions{Name: name}
	ref := comment.Issue
	var (
		resp *gitlab.Response
		err  error
	)
	switch {
	case comment.Number == models.SyntheticNumber && ref.Pull:
		_, resp, err = p.client.AwardEmoji.CreateMergeRequestAwardEmoji(ref.Repo, ref.Number, opt, gitlab.WithContext(ctx))
	case comment.Number == models.SyntheticNumber:
		_, resp, err = p.client.AwardEmoji.CreateIssueAwardEmoji(ref.Repo, ref.Number, opt, gitlab.WithContext(ctx))
	case ref.Pull:
		_, resp, err = p.client.AwardEmoji.CreateMergeRequestAwardEmojiOnNote(ref.Repo, ref.Number, int(comment.Number), opt, gitlab.WithContext(ctx))
	default:
		_, resp, err = p.client.AwardEmoji.CreateIssuesAwardEmojiOnNote(ref.Repo, ref.Number, int(comment.Number), opt, gitlab.WithContext(ctx))
	}
	return wrap(resp, err, "award emoji")
}

// Follow is a no-op: GitLab has no notification side effect for following
// a user that the bot relies on.
func (p *GitLabProvider) Follow(ctx context.Context, login string) error {
	return nil
}

// Collaborators lists members with at least developer access, including
// inherited group members.
func (p *GitLabProvider) Collaborators(ctx context.Context, repo string) ([]string, error) {
	opt := &gitlab.ListProjectMembersOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	var out []string
	for {
		members, resp, err := p.client.ProjectMembers.ListAllProjectMembers(repo, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrap(resp, err, "list members of "+repo)
		}
		for _, m := range members {
			if m.AccessLevel >= gitlab.DeveloperPermissions {
				out = append(out, m.Username)
			}
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opt.Page = resp.NextPage
	}
}

func (p *GitLabProvider) project(ctx context.Context, pid interface{}) (*models.Repository, error) {
	proj, resp, err := p.client.Projects.GetProject(pid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap(resp, err, fmt.Sprintf("get project %v", pid))
	}
	return &models.Repository{
		Name:          proj.PathWithNamespace,
		DefaultBranch: proj.DefaultBranch,
		CloneURL:      proj.HTTPURLToRepo,
		WebURL:        proj.WebURL,
	}, nil
}

func (p *GitLabProvider) Repository(ctx context.Context, repo string) (*models.Repository, error) {
	return p.project(ctx, repo)
}

func (p *GitLabProvider) PullRequest(ctx context.Context, ref models.IssueRef) (*models.PullRequest, error) {
	mr, resp, err := p.client.MergeRequests.GetMergeRequest(ref.Repo, ref.Number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap(resp, err, "get merge request "+ref.String())
	}
	out := &models.PullRequest{
		Ref:        ref,
		Title:      mr.Title,
		Open:       mr.State == "opened",
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		Checks:     models.ChecksUnknown,
	}
	out.Ref.Pull = true
	if base, err := p.project(ctx, mr.TargetProjectID); err == nil {
		out.Base = base.CloneURL
		out.Head = base.CloneURL
	}
	if mr.SourceProjectID != mr.TargetProjectID {
		if head, err := p.project(ctx, mr.SourceProjectID); err == nil {
			out.Head = head.CloneURL
		}
	}
	if mr.HeadPipeline != nil {
		switch mr.HeadPipeline.Status {
		case "success", "skipped", "manual":
			out.Checks = models.ChecksPassing
		case "failed", "canceled":
			out.Checks = models.ChecksFailing
		default:
			out.Checks = models.ChecksPending
		}
	} else {
		out.Checks = models.ChecksPassing
	}
	return out, nil
}

func (p *GitLabProvider) ClosePullRequest(ctx context.Context, ref models.IssueRef) error {
	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(ref.Repo, ref.Number, &gitlab.UpdateMergeRequestOptions{
		StateEvent: gitlab.Ptr("close"),
	}, gitlab.WithContext(ctx))
	return wrap(resp, err, "close merge request "+ref.String())
}

func (p *GitLabProvider) Tags(ctx context.Context, repo string) ([]string, error) {
	opt := &gitlab.ListTagsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	var out []string
	for {
		tags, resp, err := p.client.Tags.ListTags(repo, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrap(resp, err, "list tags of "+repo)
		}
		for _, t := range tags {
			out = append(out, t.Name)
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opt.Page = resp.NextPage
	}
}

func (p *GitLabProvider) PublishRelease(ctx context.Context, repo, tag, notes string) error {
	_, resp, err := p.client.Releases.GetRelease(repo, tag, gitlab.WithContext(ctx))
	if err != nil {
		if err = wrap(resp, err, "get release "+tag); !errors.Is(err, providers.ErrNotFound) {
			return err
		}
		_, resp, err = p.client.Releases.CreateRelease(repo, &gitlab.CreateReleaseOptions{
			Name:        gitlab.Ptr(tag),
			TagName:     gitlab.Ptr(tag),
			Description: gitlab.Ptr(notes),
		}, gitlab.WithContext(ctx))
		return wrap(resp, err, "create release "+tag)
	}
	_, resp, err = p.client.Releases.UpdateRelease(repo, tag, &gitlab.UpdateReleaseOptions{
		Description: gitlab.Ptr(notes),
	}, gitlab.WithContext(ctx))
	return wrap(resp, err, "update release "+tag)
}

func (p *GitLabProvider) FileContent(ctx context.Context, repo, branch, path string) (string, error) {
	raw, resp, err := p.client.RepositoryFiles.GetRawFile(repo, path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(branch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", wrap(resp, err, "read "+path)
	}
	return string(raw), nil
}
