package question

import (
	"context"
	"net/url"
	"testing"

	"github.com/shipbot/internal/answer"
	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/profile"
	"github.com/shipbot/internal/providers/fake"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

type fixture struct {
	tracker *fake.Tracker
	bot     *Bot
	ref     models.IssueRef
	home    *url.URL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tracker := fake.New("shipbot")
	ref := models.IssueRef{Repo: "acme/app", Number: 7}
	tracker.AddIssue(models.Issue{Ref: ref, Author: "alice", Body: "please merge", Pull: true, Open: true})
	tracker.SetCollaborators("acme/app", "alice", "bob")
	tracker.SetPullRequest(models.PullRequest{
		Ref:        ref,
		Title:      "Fix the build",
		Open:       true,
		Head:       "https://tracker.local/bob/app.git",
		HeadBranch: "fix",
		Base:       "https://tracker.local/acme/app.git",
		BaseBranch: "master",
		Checks:     models.ChecksPassing,
	})
	home, _ := url.Parse("https://shipbot.example.com/t/1-5")
	return &fixture{
		tracker: tracker,
		ref:     ref,
		home:    home,
		bot: &Bot{
			Self:     "shipbot",
			Version:  "1.4.0",
			Revision: "abc123",
			Tracker:  tracker,
			Answers:  answer.NewPublisher(tracker, "shipbot", 0, nil),
			Profile:  profile.NewLoader(tracker, "acme/app"),
			Locks:    lock.NewRepoLock(lock.NewMemory()),
			Talk:     &talk.Talk{Name: "acme-app-7", Repo: "acme/app", Issue: 7, Active: true},
		},
	}
}

func (f *fixture) comment(author, body string) models.Comment {
	return f.tracker.AddComment(f.ref, models.Comment{Author: author, Body: body})
}

func (f *fixture) ask(t *testing.T, q Question, c models.Comment) Req {
	t.Helper()
	req, err := q(context.Background(), c, f.home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return req
}

// lastReply returns the newest bot comment, or "".
func (f *fixture) lastReply() string {
	posted := f.tracker.Posted(f.ref)
	if len(posted) == 0 {
		return ""
	}
	return posted[len(posted)-1].Body
}

// fixed returns a Question that always yields req and counts its calls.
func fixed(req Req, calls *int) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		if calls != nil {
			*calls++
		}
		return req, nil
	}
}
