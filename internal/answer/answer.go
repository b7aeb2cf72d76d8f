// Package answer publishes the bot's replies under the comment they answer,
// refusing to post once the bot has been talking to itself for too long.
package answer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/phrases"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

// DefaultCeiling is the number of contiguous bot comments at the top of a
// thread after which replies are suppressed.
const DefaultCeiling = 5

// quoteWidth is the maximum quote length, ellipsis included.
const quoteWidth = 100

// Publisher posts replies on behalf of one bot account.
type Publisher struct {
	provider providers.Provider
	self     string
	ceiling  int
	phrases  *phrases.Phrases
}

// NewPublisher creates a publisher; a non-positive ceiling means
// DefaultCeiling and nil phrases mean the embedded defaults.
func NewPublisher(provider providers.Provider, self string, ceiling int, p *phrases.Phrases) *Publisher {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if p == nil {
		p = phrases.Default()
	}
	return &Publisher{provider: provider, self: self, ceiling: ceiling, phrases: p}
}

// Phrases returns the message table used by Say.
func (p *Publisher) Phrases() *phrases.Phrases {
	return p.phrases
}

// To returns the Answer replying to comment.
func (p *Publisher) To(comment models.Comment) *Answer {
	return &Answer{pub: p, comment: comment}
}

// Answer is a reply to one comment.
type Answer struct {
	pub     *Publisher
	comment models.Comment
}

// Say renders the phrase id and posts it.
func (a *Answer) Say(ctx context.Context, success bool, id string, args ...interface{}) error {
	return a.Post(ctx, success, a.pub.phrases.Say(id, args...))
}

// Post publishes message as a reply to the comment. On failure the issue
// author is addressed too. Nothing is posted, and nil returned, when the
// newest comments of the thread are already the bot's own up to the
// ceiling.
func (a *Answer) Post(ctx context.Context, success bool, message string) error {
	ref := a.comment.Issue
	recent, err := a.pub.provider.RecentComments(ctx, ref, a.pub.ceiling)
	if err != nil {
		return fmt.Errorf("read recent comments of %s: %w", ref, err)
	}
	if mine := ownStreak(recent, a.pub.self); mine >= a.pub.ceiling {
		log.Warn().Str("issue", ref.String()).Int("streak", mine).Int64("comment", a.comment.Number).
			Msg("too many of my own comments in a row, reply suppressed")
		return nil
	}

	logins := []string{a.comment.Author}
	if !success {
		issue, err := a.pub.provider.Issue(ctx, ref)
		if err != nil {
			return fmt.Errorf("read issue %s: %w", ref, err)
		}
		if issue.Author != "" && !strings.EqualFold(issue.Author, a.comment.Author) &&
			!strings.EqualFold(issue.Author, a.pub.self) {
			logins = append(logins, issue.Author)
		}
	}

	body := Compose(a.comment.Body, logins, message)
	if err := a.pub.provider.PostComment(ctx, ref, body); err != nil {
		return fmt.Errorf("post reply to comment %d: %w", a.comment.Number, err)
	}
	log.Info().Str("issue", ref.String()).Int64("comment", a.comment.Number).Bool("success", success).
		Msg("reply posted")
	return nil
}

// Compose builds a reply: the quoted comment, the addressed logins and the
// message.
func Compose(original string, logins []string, message string) string {
	var sb strings.Builder
	sb.WriteString("> ")
	sb.WriteString(Quote(original))
	sb.WriteString("\n\n")
	for _, login := range logins {
		sb.WriteString("@")
		sb.WriteString(login)
		sb.WriteString(" ")
	}
	sb.WriteString(message)
	return sb.String()
}

// Quote collapses whitespace and abbreviates text to at most 100 characters.
func Quote(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= quoteWidth {
		return text
	}
	runes := []rune(text)
	return string(runes[:quoteWidth-3]) + "..."
}

// ownStreak counts the bot's comments at the top of a newest-first list.
func ownStreak(newestFirst []models.Comment, self string) int {
	n := 0
	for _, c := range newestFirst {
		if !strings.EqualFold(c.Author, self) {
			break
		}
		n++
	}
	return n
}
