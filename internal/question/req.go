// Package question turns comments into requests. A Question is a small
// recognizer; gates, parsers and intents are composed from plain functions.
package question

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/pkg/models"
)

// Kind is the outcome class of a Req.
type Kind int

const (
	// Empty means the comment was not understood; scanning goes on.
	Empty Kind = iota
	// Later means understood but blocked; the comment is retried next cycle.
	Later
	// Done means fully handled with nothing to execute.
	Done
	// Simple carries a request for the runner.
	Simple
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Later:
		return "later"
	case Done:
		return "done"
	case Simple:
		return "simple"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Req is the result of a Question. Only Simple requests carry a payload.
type Req struct {
	Kind   Kind
	Type   string
	Args   map[string]string
	Author string
	// Supersedes lets the request replace the one in progress.
	Supersedes bool
}

var (
	EmptyReq = Req{Kind: Empty}
	LaterReq = Req{Kind: Later}
	DoneReq  = Req{Kind: Done}
)

// Work builds a Simple request.
func Work(typ string, args map[string]string) Req {
	if args == nil {
		args = map[string]string{}
	}
	return Req{Kind: Simple, Type: typ, Args: args}
}

func (r Req) String() string {
	if r.Kind != Simple {
		return r.Kind.String()
	}
	keys := make([]string, 0, len(r.Args))
	for k := range r.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Args[k])
	}
	return fmt.Sprintf("%s(%s)", r.Type, strings.Join(parts, ", "))
}

// Question interprets one comment. home is the page where the outcome of a
// request started from this comment will be visible.
type Question func(ctx context.Context, comment models.Comment, home *url.URL) (Req, error)

// say posts a reply and only logs when that fails: a lost reply never
// changes how a comment is understood.
func say(ctx context.Context, pub *answer.Publisher, c models.Comment, success bool, id string, args ...interface{}) {
	if err := pub.To(c).Say(ctx, success, id, args...); err != nil {
		log.Warn().Err(err).Str("issue", c.Issue.String()).Int64("comment", c.Number).Str("phrase", id).
			Msg("failed to reply")
	}
}
