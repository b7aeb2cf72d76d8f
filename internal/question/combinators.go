package question

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

// FirstOf returns the first non-Empty result of qs, in order.
func FirstOf(qs ...Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		for _, q := range qs {
			req, err := q(ctx, c, home)
			if err != nil {
				return EmptyReq, err
			}
			if req.Kind != Empty {
				return req, nil
			}
		}
		return EmptyReq, nil
	}
}

// LastOf evaluates every q and keeps the last non-Empty result.
func LastOf(qs ...Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		result := EmptyReq
		for _, q := range qs {
			req, err := q(ctx, c, home)
			if err != nil {
				return EmptyReq, err
			}
			if req.Kind != Empty {
				result = req
			}
		}
		return result, nil
	}
}

// IfContains delegates when the body, inline code aside, contains text in
// any case.
func IfContains(text string, q Question) Question {
	needle := strings.ToLower(text)
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if !strings.Contains(strings.ToLower(stripCode(c.Body)), needle) {
			return EmptyReq, nil
		}
		return q(ctx, c, home)
	}
}

// loginEnd ends a mention. Logins may carry hyphens and dots, so "@bot-ci"
// and "@bot.io" name someone else, while a sentence may still end in "@bot.".
const loginEnd = `(?:$|[^\w.-]|\.(?:\s|$))`

// ReferredTo delegates comments that start with @self. A comment mentioning
// the bot elsewhere gets a hint and is Done.
func ReferredTo(pub *answer.Publisher, self string, q Question) Question {
	login := regexp.QuoteMeta(self)
	leading := regexp.MustCompile(`(?i)^@` + login + loginEnd)
	anywhere := regexp.MustCompile(`(?i)(^|[^\w@])@` + login + loginEnd)
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		body := strings.TrimSpace(c.Body)
		if leading.MatchString(body) {
			return q(ctx, c, home)
		}
		if anywhere.MatchString(body) {
			say(ctx, pub, c, true, "answer.mentioned", self, self)
			return DoneReq, nil
		}
		return EmptyReq, nil
	}
}

// Since ignores comments numbered below min.
func Since(min int64, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if c.Number < min {
			return EmptyReq, nil
		}
		return q(ctx, c, home)
	}
}

// NotSelf ignores the bot's own comments.
func NotSelf(self string, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if strings.EqualFold(c.Author, self) {
			return EmptyReq, nil
		}
		return q(ctx, c, home)
	}
}

// Parametrized merges the comment's key/value parameters into the args of a
// Simple result; args set by q win.
func Parametrized(q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		req, err := q(ctx, c, home)
		if err != nil || req.Kind != Simple {
			return req, err
		}
		merged := Params(c.Body)
		for k, v := range req.Args {
			merged[k] = v
		}
		req.Args = merged
		return req, nil
	}
}

// WithAuthor stamps a Simple result with the lowercased comment author.
func WithAuthor(q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		req, err := q(ctx, c, home)
		if err != nil || req.Kind != Simple {
			return req, err
		}
		req.Author = strings.ToLower(c.Author)
		return req, nil
	}
}

// Reaction puts an emoji on the comment before delegating; failures are
// only logged.
func Reaction(tracker providers.Provider, emoji string, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if err := tracker.React(ctx, c, emoji); err != nil {
			log.Warn().Err(err).Int64("comment", c.Number).Str("emoji", emoji).Msg("failed to react")
		}
		return q(ctx, c, home)
	}
}

// Follow follows the comment author before delegating; failures are only
// logged.
func Follow(tracker providers.Provider, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if err := tracker.Follow(ctx, c.Author); err != nil {
			log.Warn().Err(err).Str("login", c.Author).Msg("failed to follow")
		}
		return q(ctx, c, home)
	}
}

// Safe is the outermost Question. A comment whose issue can't be read is
// Empty; any error or panic of q becomes an apology reply and Done. Safe
// never returns an error.
func Safe(pub *answer.Publisher, tracker providers.Provider, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (req Req, err error) {
		if _, err := tracker.Issue(ctx, c.Issue); err != nil {
			log.Warn().Err(err).Str("issue", c.Issue.String()).Msg("issue is not readable, comment skipped")
			return EmptyReq, nil
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("issue", c.Issue.String()).Int64("comment", c.Number).
					Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("question panicked")
				say(ctx, pub, c, false, "answer.error", fmt.Sprint(r))
				req, err = DoneReq, nil
			}
		}()
		req, err = q(ctx, c, home)
		if err != nil {
			log.Error().Err(err).Str("issue", c.Issue.String()).Int64("comment", c.Number).Msg("question failed")
			say(ctx, pub, c, false, "answer.error", err.Error())
			return DoneReq, nil
		}
		return req, nil
	}
}
