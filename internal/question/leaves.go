package question

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/profile"
	"github.com/shipbot/internal/providers"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

// Bot is what the intents of one talk work with during a cycle.
type Bot struct {
	Self     string
	Version  string
	Revision string
	// Since is the lowest comment number the bot listens to.
	Since int64

	Tracker providers.Provider
	Answers *answer.Publisher
	Profile *profile.Loader
	Locks   *lock.RepoLock
	// Talk is the state at the start of the cycle.
	Talk *talk.Talk
}

// Hello introduces the bot.
func Hello(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		say(ctx, b.Answers, c, true, "hello.intro", b.Self, b.Self)
		return DoneReq, nil
	}
}

// Version tells which build of the bot is answering.
func Version(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		say(ctx, b.Answers, c, true, "version.text", b.Version, b.Revision)
		return DoneReq, nil
	}
}

// Status describes the request in progress, the repository lock and the
// open shell of the talk.
func Status(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		p := b.Answers.Phrases()
		lines := []string{}
		if req := b.Talk.Request; req != nil {
			lines = append(lines, p.Say("status.request", req.Type, req.ID, req.Author))
			if req.Dispatched != nil {
				lines = append(lines, p.Say("status.dispatched", time.Since(*req.Dispatched).Round(time.Second)))
			}
		} else {
			lines = append(lines, p.Say("status.no-request"))
		}
		holder, err := b.Locks.Holder(ctx, c.Issue.Repo)
		if err != nil {
			return EmptyReq, err
		}
		if holder != "" {
			lines = append(lines, p.Say("status.lock", c.Issue.Repo, holder))
		} else {
			lines = append(lines, p.Say("status.no-lock", c.Issue.Repo))
		}
		if sh := b.Talk.Shell; sh != nil {
			lines = append(lines, p.Say("status.shell", fmt.Sprintf("%s@%s:%d", sh.Login, sh.Host, sh.Port)))
		}
		msg := p.Say("status.intro") + "\n\n  * " + strings.Join(lines, "\n  * ")
		if err := b.Answers.To(c).Post(ctx, true, msg); err != nil {
			return EmptyReq, err
		}
		return DoneReq, nil
	}
}

// Config shows the profile of the repository.
func Config(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		p, err := b.Profile.Load(ctx)
		if err != nil {
			return EmptyReq, err
		}
		if strings.TrimSpace(p.Raw()) == "" {
			say(ctx, b.Answers, c, true, "config.empty")
		} else {
			say(ctx, b.Answers, c, true, "config.text", strings.TrimSpace(p.Raw()))
		}
		return DoneReq, nil
	}
}

// IAmLost is the fallback for a command nobody recognized.
func IAmLost(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		say(ctx, b.Answers, c, true, "lost.text", b.Self)
		return DoneReq, nil
	}
}

// script adds the profile script of the section to args.
func (b *Bot) script(ctx context.Context, section string, args map[string]string) {
	p, err := b.Profile.Load(ctx)
	if err != nil {
		return
	}
	if s := p.Script(section); len(s) > 0 {
		args["script"] = strings.Join(s, "\n")
	}
	for k, v := range p.Env(section) {
		args["env_"+k] = v
	}
}

// branchOf returns the branch parameter of the comment or the default
// branch, along with the repository.
func (b *Bot) branchOf(ctx context.Context, c models.Comment) (*models.Repository, string, error) {
	repo, err := b.Tracker.Repository(ctx, c.Issue.Repo)
	if err != nil {
		return nil, "", err
	}
	branch := Params(c.Body)["branch"]
	if branch == "" {
		branch = repo.DefaultBranch
	}
	return repo, branch, nil
}

// Deploy asks the runner to deploy a branch, the default one unless the
// comment names another.
func Deploy(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		repo, branch, err := b.branchOf(ctx, c)
		if err != nil {
			return EmptyReq, err
		}
		args := map[string]string{
			"head":        repo.CloneURL,
			"head_branch": branch,
		}
		b.script(ctx, "deploy", args)
		say(ctx, b.Answers, c, true, "deploy.start", home.String())
		return Work("deploy", args), nil
	}
}

// Release asks the runner to tag and release. The tag comes from a
// "tag is `x`" parameter or, in a comment without parameters, its first
// code span; a numeric
// tag must be newer than every numeric tag already in the repository.
func Release(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		params := Params(c.Body)
		tag := params["tag"]
		if tag == "" && len(params) == 0 {
			tag = firstCodeSpan(c.Body)
		}
		if tag == "" {
			say(ctx, b.Answers, c, false, "release.no-tag")
			return DoneReq, nil
		}
		existing, err := b.Tracker.Tags(ctx, c.Issue.Repo)
		if err != nil {
			return EmptyReq, err
		}
		if ok, latest := AcceptableTag(tag, existing); !ok {
			say(ctx, b.Answers, c, false, "release.outdated", tag, latest)
			return DoneReq, nil
		}
		repo, branch, err := b.branchOf(ctx, c)
		if err != nil {
			return EmptyReq, err
		}
		args := map[string]string{
			"head":        repo.CloneURL,
			"head_branch": branch,
			"tag":         tag,
		}
		b.script(ctx, "release", args)
		say(ctx, b.Answers, c, true, "release.start", tag, home.String())
		return Work("release", args), nil
	}
}

// Merge asks the runner to merge an open pull request whose checks pass.
func Merge(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		pr, err := b.Tracker.PullRequest(ctx, c.Issue)
		if err != nil {
			return EmptyReq, err
		}
		if !pr.Open {
			say(ctx, b.Answers, c, false, "merge.closed")
			return DoneReq, nil
		}
		switch pr.Checks {
		case models.ChecksFailing:
			say(ctx, b.Answers, c, false, "merge.checks-failed")
			return DoneReq, nil
		case models.ChecksPending:
			say(ctx, b.Answers, c, false, "merge.checks-pending")
			return DoneReq, nil
		}
		args := map[string]string{
			"pull_id":     strconv.Itoa(c.Issue.Number),
			"pull_title":  pr.Title,
			"head":        pr.Base,
			"head_branch": pr.BaseBranch,
			"fork":        pr.Head,
			"fork_branch": pr.HeadBranch,
		}
		b.script(ctx, "merge", args)
		say(ctx, b.Answers, c, true, "merge.start", c.Issue.Number, home.String())
		return Work("merge", args), nil
	}
}

// Stop asks the runner to stop the request in progress. The stop request
// replaces it in the talk.
func Stop(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		running := b.Talk.Request
		if running == nil {
			say(ctx, b.Answers, c, false, "stop.nothing")
			return DoneReq, nil
		}
		if running.Type == "stop" {
			return LaterReq, nil
		}
		say(ctx, b.Answers, c, true, "stop.start")
		req := Work("stop", map[string]string{
			"request": strconv.FormatInt(running.ID, 10),
			"job":     running.Job,
		})
		req.Supersedes = true
		return req, nil
	}
}

// Lock asks the runner to commit a branch lock file listing the given
// users, the author by default.
func Lock(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		repo, branch, err := b.branchOf(ctx, c)
		if err != nil {
			return EmptyReq, err
		}
		users := []string{strings.ToLower(c.Author)}
		if list := Params(c.Body)["users"]; list != "" {
			users = nil
			for _, u := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' }) {
				users = append(users, strings.ToLower(strings.TrimPrefix(u, "@")))
			}
		}
		say(ctx, b.Answers, c, true, "lock.start", branch, mentions(users))
		return Work("lock", map[string]string{
			"head":        repo.CloneURL,
			"head_branch": branch,
			"branch":      branch,
			"users":       strings.Join(users, ","),
		}), nil
	}
}

// Unlock asks the runner to remove the branch lock file.
func Unlock(b *Bot) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		repo, branch, err := b.branchOf(ctx, c)
		if err != nil {
			return EmptyReq, err
		}
		say(ctx, b.Answers, c, true, "unlock.start", branch)
		return Work("unlock", map[string]string{
			"head":        repo.CloneURL,
			"head_branch": branch,
			"branch":      branch,
		}), nil
	}
}
