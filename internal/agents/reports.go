package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/retry"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

// TailLines is how much of the log a failure report shows.
const TailLines = 24

const maxTail = 4000

// Reports tells the author of a request how it went, archives the request
// and clears it from the talk.
type Reports struct {
	tracker providers.Provider
	answers *answer.Publisher
	store   talk.Store
}

func NewReports(tracker providers.Provider, answers *answer.Publisher, store talk.Store) *Reports {
	return &Reports{tracker: tracker, answers: answers, store: store}
}

func (a *Reports) Name() string { return "reports" }

func (a *Reports) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	req := t.Request
	if req == nil || req.Result == nil || !t.HasIssue() {
		return t, nil
	}
	res := req.Result

	trigger, err := Trigger(ctx, a.tracker, t.Ref(), req)
	if err != nil {
		return t, err
	}
	if err := a.answers.To(trigger).Post(ctx, res.Success, a.message(res)); err != nil {
		if retry.IsRetryableError(err) {
			return t, fmt.Errorf("failed to report request %d: %w", req.ID, err)
		}
		// a kept request would keep its repository locked
		log.Warn().Err(err).Str("talk", t.Name).Int64("request", req.ID).Msg("report not posted")
	}

	finished := res.Finished
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	updated, err := a.store.Modify(ctx, t.Name, talk.Patch{
		ClearRequest: true,
		Archive: &talk.ArchiveEntry{
			ID:       req.ID,
			Type:     req.Type,
			Author:   req.Author,
			Success:  res.Success,
			Elapsed:  res.Elapsed,
			LogURL:   res.LogURL,
			Finished: finished,
		},
		Resume: talk.Ptr(true),
	})
	if err != nil {
		return t, fmt.Errorf("failed to archive request %d: %w", req.ID, err)
	}
	log.Info().Str("talk", t.Name).Int64("request", req.ID).Str("type", req.Type).
		Bool("success", res.Success).Dur("elapsed", res.Elapsed).Msg("request reported")
	return updated, nil
}

func (a *Reports) message(res *talk.Result) string {
	p := a.answers.Phrases()
	elapsed := res.Elapsed.Round(time.Second).String()
	var sb strings.Builder
	switch {
	case res.Stopped:
		sb.WriteString(p.Say("reports.stopped", res.LogURL, elapsed))
	case res.Success:
		sb.WriteString(p.Say("reports.success", res.LogURL, elapsed))
	default:
		sb.WriteString(p.Say("reports.failure", res.LogURL, elapsed))
	}
	if len(res.Highlights) > 0 {
		sb.WriteString(p.Say("reports.highlights", "  * "+strings.Join(res.Highlights, "\n  * ")))
	}
	if !res.Success && strings.TrimSpace(res.Tail) != "" {
		sb.WriteString(p.Say("reports.tail", Tail(res.Tail, TailLines)))
	}
	return sb.String()
}

// Trigger finds the comment a request was made in: the issue description
// for request #1, a real comment otherwise. A comment or issue deleted
// since is stood in for by an empty comment from the request author.
func Trigger(ctx context.Context, tracker providers.Provider, ref models.IssueRef, req *talk.Request) (models.Comment, error) {
	standIn := models.Comment{Number: req.ID, Author: req.Author, Issue: ref}
	if req.ID == models.SyntheticNumber {
		issue, err := tracker.Issue(ctx, ref)
		if errors.Is(err, providers.ErrNotFound) {
			return standIn, nil
		}
		if err != nil {
			return models.Comment{}, fmt.Errorf("failed to read issue %s: %w", ref, err)
		}
		return models.SyntheticComment(issue), nil
	}
	c, err := tracker.Comment(ctx, ref, req.ID)
	if errors.Is(err, providers.ErrNotFound) {
		return standIn, nil
	}
	if err != nil {
		return models.Comment{}, fmt.Errorf("failed to read comment %d of %s: %w", req.ID, ref, err)
	}
	return *c, nil
}

// Tail keeps the last n lines of a log, and at most a few thousand
// characters of them.
func Tail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxTail {
		cut := len(out) - maxTail
		for cut < len(out) && !utf8.RuneStart(out[cut]) {
			cut++
		}
		out = "..." + out[cut:]
	}
	return out
}
