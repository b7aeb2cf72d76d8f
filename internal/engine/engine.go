// Package engine turns new comments of a talk into requests.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/profile"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/question"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

// Options identify the bot to the people it talks to.
type Options struct {
	Self     string
	Version  string
	Revision string
	// Since is the lowest comment number the bot answers; older comments
	// are skipped as if nothing understood them.
	Since int64
	// Home is the public base URL of the bot, used for progress links.
	Home *url.URL
}

// Understands scans the comments of a talk that arrived after its
// watermark and records the first one that means something.
type Understands struct {
	opts    Options
	tracker providers.Provider
	store   talk.Store
	answers *answer.Publisher
	locks   *lock.RepoLock

	// questionFor builds the chain for one talk; tests replace it.
	questionFor func(t *talk.Talk) question.Question
	now         func() time.Time
}

// NewUnderstands creates the engine.
func NewUnderstands(opts Options, tracker providers.Provider, store talk.Store, answers *answer.Publisher, locks *lock.RepoLock) *Understands {
	u := &Understands{
		opts:    opts,
		tracker: tracker,
		store:   store,
		answers: answers,
		locks:   locks,
		now:     time.Now,
	}
	u.questionFor = u.chain
	return u
}

// Name is the step name used in logs.
func (u *Understands) Name() string { return "understands" }

func (u *Understands) chain(t *talk.Talk) question.Question {
	bot := &question.Bot{
		Self:     u.opts.Self,
		Version:  u.opts.Version,
		Revision: u.opts.Revision,
		Since:    u.opts.Since,
		Tracker:  u.tracker,
		Answers:  u.answers,
		Profile:  profile.NewLoader(u.tracker, t.Repo),
		Locks:    u.locks,
		Talk:     t,
	}
	return bot.Question()
}

// HomeURI is the progress link of a request triggered by comment number n
// of talk t: {home}/t/{talk}-{comment}.
func HomeURI(home *url.URL, t *talk.Talk, n int64) *url.URL {
	if home == nil {
		home = &url.URL{Scheme: "http", Host: "localhost"}
	}
	return home.JoinPath("t", fmt.Sprintf("%d-%d", t.Number, n))
}

// Run scans the talk once. A talk that isn't asking to be resumed, or that
// has no issue, is returned as is.
func (u *Understands) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	if !t.Resume || !t.HasIssue() {
		return t, nil
	}
	logger := log.With().Str("talk", t.Name).Str("issue", t.Ref().String()).Logger()

	seen := t.LastSeen
	next := seen
	fresh := 0
	result := question.EmptyReq
	var author string
	q := u.questionFor(t)
	comments, complete := u.comments(ctx, t)

	for _, c := range comments {
		if c.Number <= seen {
			continue
		}
		fresh++
		req, err := q(ctx, c, HomeURI(u.opts.Home, t, c.Number))
		if err != nil {
			// Safe absorbs errors of the real chain; only a bare
			// question can get here.
			return t, fmt.Errorf("comment %d of %s: %w", c.Number, t.Name, err)
		}
		result = req
		if req.Kind == question.Later {
			logger.Debug().Int64("comment", c.Number).Msg("comment deferred")
			break
		}
		next = c.Number
		if req.Kind != question.Empty {
			author = req.Author
			if author == "" {
				author = c.Author
			}
			break
		}
	}

	if next < seen {
		err := fmt.Errorf("%w: %s scanned back from %d to %d", talk.ErrWatermarkRegression, t.Name, seen, next)
		logger.Error().Err(err).Msg("aborting cycle")
		return t, err
	}

	patch := talk.Patch{}
	if complete || result.Kind != question.Empty {
		patch.Resume = talk.Ptr(result.Kind != question.Empty)
	}
	if result.Kind == question.Simple {
		patch.Request = &talk.Request{
			ID:         next,
			Type:       result.Type,
			Args:       result.Args,
			Author:     author,
			Supersedes: result.Supersedes,
			Created:    u.now().UTC(),
		}
	}
	if next > seen {
		patch.LastSeen = talk.Ptr(next)
	}

	if patch.Empty() {
		return t, nil
	}
	updated, err := u.store.Modify(ctx, t.Name, patch)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record what was understood")
		return t, fmt.Errorf("failed to update talk %s: %w", t.Name, err)
	}
	logger.Info().
		Int("fresh", fresh).
		Int64("seen", seen).
		Int64("next", next).
		Str("result", result.String()).
		Msg("comments scanned")
	return updated, nil
}

// comments lists the synthetic comment made of the issue description
// followed by the real comments after the watermark. A failure truncates
// the list and reports it incomplete, so that the talk stays resumed.
func (u *Understands) comments(ctx context.Context, t *talk.Talk) ([]models.Comment, bool) {
	ref := t.Ref()
	var out []models.Comment
	if t.LastSeen < models.SyntheticNumber {
		issue, err := u.tracker.Issue(ctx, ref)
		if err != nil {
			log.Warn().Err(err).Str("talk", t.Name).Msg("failed to read issue")
			return nil, false
		}
		out = append(out, models.SyntheticComment(issue))
	}
	listed, err := u.tracker.Comments(ctx, ref, t.LastSeen)
	if err != nil {
		log.Warn().Err(err).Str("talk", t.Name).Msg("failed to list comments")
		return out, false
	}
	for _, c := range listed {
		if c.Number == models.SyntheticNumber {
			// A real #1 replaces the synthetic one.
			out = out[:0]
		}
		out = append(out, c)
	}
	return out, true
}
