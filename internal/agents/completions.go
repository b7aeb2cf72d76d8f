package agents

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/talk"
)

// succeeded returns the pending request when it finished well and has the
// given type.
func succeeded(t *talk.Talk, typ string) *talk.Request {
	req := t.Request
	if req == nil || req.Result == nil || !req.Result.Success || req.Result.Stopped || req.Type != typ {
		return nil
	}
	return req
}

// CommentsTag writes release notes on the tag of a successful release.
// Publishing twice edits the same release. Notes are best effort: a tracker
// refusing them is logged and the cycle goes on to report the request.
type CommentsTag struct {
	tracker providers.Provider
	answers *answer.Publisher
}

func NewCommentsTag(tracker providers.Provider, answers *answer.Publisher) *CommentsTag {
	return &CommentsTag{tracker: tracker, answers: answers}
}

func (a *CommentsTag) Name() string { return "comments-tag" }

func (a *CommentsTag) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	req := succeeded(t, "release")
	if req == nil || req.Args["tag"] == "" {
		return t, nil
	}
	tag := req.Args["tag"]
	from := req.Args["head_branch"]
	if from == "" {
		from = "the default branch"
	}
	notes := a.answers.Phrases().Say("tag.notes", req.Author, from, req.Result.LogURL)
	if err := a.tracker.PublishRelease(ctx, t.Repo, tag, notes); err != nil {
		log.Warn().Err(err).Str("talk", t.Name).Str("repo", t.Repo).Str("tag", tag).Msg("release notes not published")
		return t, nil
	}
	log.Info().Str("talk", t.Name).Str("repo", t.Repo).Str("tag", tag).Msg("release notes published")
	return t, nil
}

// ClosePullRequest closes a pull request the runner merged but the
// tracker didn't close by itself. Failures are logged, never returned.
type ClosePullRequest struct {
	tracker providers.Provider
}

func NewClosePullRequest(tracker providers.Provider) *ClosePullRequest {
	return &ClosePullRequest{tracker: tracker}
}

func (a *ClosePullRequest) Name() string { return "close-pull-request" }

func (a *ClosePullRequest) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	if succeeded(t, "merge") == nil || !t.HasIssue() {
		return t, nil
	}
	pr, err := a.tracker.PullRequest(ctx, t.Ref())
	if err != nil {
		log.Warn().Err(err).Str("talk", t.Name).Str("pull", t.Ref().String()).Msg("pull request unreadable, left as is")
		return t, nil
	}
	if !pr.Open {
		return t, nil
	}
	if err := a.tracker.ClosePullRequest(ctx, t.Ref()); err != nil {
		log.Warn().Err(err).Str("talk", t.Name).Str("pull", t.Ref().String()).Msg("pull request not closed")
		return t, nil
	}
	log.Info().Str("talk", t.Name).Str("pull", t.Ref().String()).Msg("pull request closed")
	return t, nil
}
