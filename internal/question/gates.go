package question

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/profile"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

// LockFile lists, one login per line, the only people allowed to run
// commands against a branch.
const LockFile = ".shipbot.lock"

func has(logins []string, login string) bool {
	for _, l := range logins {
		if strings.EqualFold(l, login) {
			return true
		}
	}
	return false
}

func mentions(logins []string) string {
	uniq := map[string]bool{}
	for _, l := range logins {
		uniq[strings.ToLower(l)] = true
	}
	out := make([]string, 0, len(uniq))
	for l := range uniq {
		out = append(out, "@"+l)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// AskedBy lets through authors listed as commanders of the profile section,
// repository collaborators and architects. When nobody is listed at all
// everyone passes. A denied author gets the list of people to ask and the
// comment is Empty, as is a comment met with a broken profile.
func AskedBy(pub *answer.Publisher, tracker providers.Provider, prof *profile.Loader, section string, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		p, err := prof.Load(ctx)
		if errors.Is(err, profile.ErrProfile) {
			say(ctx, pub, c, false, "answer.profile-broken", err.Error())
			return EmptyReq, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("repo", c.Issue.Repo).Msg("profile unavailable, using defaults")
			p = profile.Empty()
		}
		allowed := append([]string{}, p.Commanders(section)...)
		allowed = append(allowed, p.Architects()...)
		collaborators, err := tracker.Collaborators(ctx, c.Issue.Repo)
		if err != nil {
			log.Warn().Err(err).Str("repo", c.Issue.Repo).Msg("failed to list collaborators")
		}
		allowed = append(allowed, collaborators...)
		if len(allowed) > 0 && !has(allowed, c.Author) {
			ask := append(append([]string{}, p.Commanders(section)...), p.Architects()...)
			if len(ask) == 0 {
				ask = collaborators
			}
			say(ctx, pub, c, false, "answer.denied", mentions(ask))
			return EmptyReq, nil
		}
		return q(ctx, c, home)
	}
}

// ByArchitect lets through architects only; others are refused and the
// comment is Done. A repository without architects lets everyone through.
// A broken profile is answered and Empty, as in AskedBy.
func ByArchitect(pub *answer.Publisher, prof *profile.Loader, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		p, err := prof.Load(ctx)
		if errors.Is(err, profile.ErrProfile) {
			say(ctx, pub, c, false, "answer.profile-broken", err.Error())
			return EmptyReq, nil
		}
		if err != nil {
			return EmptyReq, err
		}
		if len(p.Architects()) > 0 && !p.IsArchitect(c.Author) {
			say(ctx, pub, c, false, "answer.denied-architect", mentions(p.Architects()))
			return DoneReq, nil
		}
		return q(ctx, c, home)
	}
}

// IfPull delegates only on pull requests.
func IfPull(pub *answer.Publisher, tracker providers.Provider, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		issue, err := tracker.Issue(ctx, c.Issue)
		if err != nil {
			return EmptyReq, err
		}
		if !issue.Pull {
			say(ctx, pub, c, false, "answer.not-pull")
			return DoneReq, nil
		}
		return q(ctx, c, home)
	}
}

// IfCollaborator delegates only for repository collaborators. Failing to
// list them counts as not being one.
func IfCollaborator(pub *answer.Publisher, tracker providers.Provider, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		collaborators, err := tracker.Collaborators(ctx, c.Issue.Repo)
		if err != nil {
			log.Warn().Err(err).Str("repo", c.Issue.Repo).Msg("failed to list collaborators")
		}
		if !has(collaborators, c.Author) {
			say(ctx, pub, c, false, "answer.not-collaborator", c.Author)
			return DoneReq, nil
		}
		return q(ctx, c, home)
	}
}

// targetBranch is the base branch of a pull request, the branch parameter
// of the comment, or the default branch.
func targetBranch(ctx context.Context, tracker providers.Provider, c models.Comment) (string, error) {
	issue, err := tracker.Issue(ctx, c.Issue)
	if err != nil {
		return "", err
	}
	if issue.Pull {
		pr, err := tracker.PullRequest(ctx, c.Issue)
		if err != nil {
			return "", err
		}
		return pr.BaseBranch, nil
	}
	if branch := Params(c.Body)["branch"]; branch != "" {
		return branch, nil
	}
	repo, err := tracker.Repository(ctx, c.Issue.Repo)
	if err != nil {
		return "", err
	}
	return repo.DefaultBranch, nil
}

// IfUnlocked delegates unless the target branch carries a lock file that
// doesn't list the author.
func IfUnlocked(pub *answer.Publisher, tracker providers.Provider, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		branch, err := targetBranch(ctx, tracker, c)
		if err != nil {
			return EmptyReq, err
		}
		content, err := tracker.FileContent(ctx, c.Issue.Repo, branch, LockFile)
		if errors.Is(err, providers.ErrNotFound) {
			return q(ctx, c, home)
		}
		if err != nil {
			return EmptyReq, err
		}
		var owners []string
		for _, line := range strings.Split(content, "\n") {
			if login := strings.TrimPrefix(strings.TrimSpace(line), "@"); login != "" {
				owners = append(owners, login)
			}
		}
		if len(owners) == 0 || has(owners, c.Author) {
			return q(ctx, c, home)
		}
		say(ctx, pub, c, false, "answer.branch-locked", branch, mentions(owners))
		return DoneReq, nil
	}
}

// Alone takes the repository lock for the talk before delegating. While
// another talk holds it the comment is Later and retried next cycle. The
// lock stays taken; the sweep gives it back once the talk is idle.
func Alone(locks *lock.RepoLock, t *talk.Talk, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		ok, err := locks.Lock(ctx, t.Name, t.Repo)
		if err != nil {
			log.Warn().Err(err).Str("talk", t.Name).Msg("failed to lock repository")
			return LaterReq, nil
		}
		if !ok {
			return LaterReq, nil
		}
		return q(ctx, c, home)
	}
}

// Idle makes a command wait while the talk already has a request in
// progress, so commands run one at a time in comment order.
func Idle(t *talk.Talk, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if t.Request != nil {
			return LaterReq, nil
		}
		return q(ctx, c, home)
	}
}
