package question

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipbot/internal/profile"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/pkg/models"
)

func TestFirstOf(t *testing.T) {
	f := newFixture(t)
	var a, b, c int
	q := FirstOf(fixed(EmptyReq, &a), fixed(Work("deploy", nil), &b), fixed(DoneReq, &c))

	req := f.ask(t, q, f.comment("bob", "x"))
	assert.Equal(t, Simple, req.Kind)
	assert.Equal(t, "deploy", req.Type)
	assert.Equal(t, []int{1, 1, 0}, []int{a, b, c}, "stops at the first non-empty result")

	assert.Equal(t, Empty, f.ask(t, FirstOf(), f.comment("bob", "x")).Kind)
}

func TestLastOf(t *testing.T) {
	f := newFixture(t)
	var calls int
	q := LastOf(fixed(Work("deploy", nil), &calls), fixed(DoneReq, &calls), fixed(EmptyReq, &calls))

	req := f.ask(t, q, f.comment("bob", "x"))
	assert.Equal(t, Done, req.Kind, "the last non-empty result wins")
	assert.Equal(t, 3, calls)
}

func TestIfContains(t *testing.T) {
	f := newFixture(t)
	q := IfContains("merge", fixed(DoneReq, nil))

	assert.Equal(t, Done, f.ask(t, q, f.comment("bob", "@shipbot MERGE please")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "@shipbot deploy `merge`")).Kind,
		"inline code is not a command")
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "@shipbot deploy")).Kind)
}

func TestReferredTo(t *testing.T) {
	f := newFixture(t)
	var calls int
	q := ReferredTo(f.bot.Answers, "bot", fixed(Work("release", nil), &calls))

	req := f.ask(t, q, f.comment("bob", "please @bot do it"))
	assert.Equal(t, Done, req.Kind)
	assert.Zero(t, calls)
	assert.Contains(t, f.lastReply(), "I see you mentioned me")

	req = f.ask(t, q, f.comment("bob", "  @bot release `1.2`"))
	assert.Equal(t, Simple, req.Kind)
	assert.Equal(t, 1, calls)

	req = f.ask(t, q, f.comment("bob", "@Bot hello"))
	assert.Equal(t, Simple, req.Kind, "mentions are case-insensitive")

	before := len(f.tracker.Posted(f.ref))
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "@bottle is not me")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "mail me at me@bot.com")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "looks fine")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "@bot-staging release")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "@bot.io deploy")).Kind)
	assert.Equal(t, Empty, f.ask(t, q, f.comment("bob", "ask @bot-ci instead")).Kind)
	assert.Len(t, f.tracker.Posted(f.ref), before, "no reply without a mention")
	assert.Equal(t, 2, calls)

	req = f.ask(t, q, f.comment("bob", "@bot, release"))
	assert.Equal(t, Simple, req.Kind)
	req = f.ask(t, q, f.comment("bob", "@bot"))
	assert.Equal(t, Simple, req.Kind)
	req = f.ask(t, q, f.comment("bob", "thanks @bot."))
	assert.Equal(t, Done, req.Kind, "a sentence may end with the mention")
}

func TestSince(t *testing.T) {
	f := newFixture(t)
	q := Since(10, fixed(DoneReq, nil))
	assert.Equal(t, Empty, f.ask(t, q, models.Comment{Number: 9, Issue: f.ref}).Kind)
	assert.Equal(t, Done, f.ask(t, q, models.Comment{Number: 10, Issue: f.ref}).Kind)
}

func TestNotSelf(t *testing.T) {
	f := newFixture(t)
	q := NotSelf("shipbot", fixed(DoneReq, nil))
	assert.Equal(t, Empty, f.ask(t, q, f.comment("ShipBot", "@shipbot hello")).Kind)
	assert.Equal(t, Done, f.ask(t, q, f.comment("bob", "@shipbot hello")).Kind)
}

func TestParametrized(t *testing.T) {
	f := newFixture(t)
	leaf := fixed(Work("release", map[string]string{"tag": "2.0"}), nil)
	c := f.comment("bob", "@shipbot release, tag is `1.0`, branch: `dev`, Mode is `fast`")

	req := f.ask(t, Parametrized(leaf), c)
	assert.Equal(t, map[string]string{"tag": "2.0", "branch": "dev", "Mode": "fast"}, req.Args)

	req = f.ask(t, Parametrized(fixed(DoneReq, nil)), c)
	assert.Equal(t, Done, req.Kind)
	assert.Nil(t, req.Args)
}

func TestParams(t *testing.T) {
	assert.Equal(t, map[string]string{"tag": "1.2", "branch": "release_x"},
		Params("release, tag is `1.2` and branch: `release_x`"))
	assert.Empty(t, Params("release `1.2`"))
	assert.Empty(t, Params("tag-1: `x`"))
	assert.Equal(t, map[string]string{"a_b": "v"}, Params("a_b:`v`"))
}

func TestWithAuthor(t *testing.T) {
	f := newFixture(t)
	req := f.ask(t, WithAuthor(fixed(Work("deploy", nil), nil)), f.comment("BoB", "x"))
	assert.Equal(t, "bob", req.Author)

	req = f.ask(t, WithAuthor(fixed(LaterReq, nil)), f.comment("BoB", "x"))
	assert.Empty(t, req.Author)
}

func TestReactionAndFollowAreBestEffort(t *testing.T) {
	f := newFixture(t)
	f.tracker.FailOn("Follow", errors.New("403 forbidden"))
	var calls int
	q := Follow(f.tracker, Reaction(f.tracker, "eyes", fixed(DoneReq, &calls)))
	c := f.comment("bob", "@shipbot hello")

	assert.Equal(t, Done, f.ask(t, q, c).Kind)
	assert.Equal(t, 1, calls)
	require.Len(t, f.tracker.Reactions(), 1)
	assert.Equal(t, c.Number, f.tracker.Reactions()[0].Comment)
	assert.Empty(t, f.tracker.Followed())
}

func TestSafe_Panic(t *testing.T) {
	f := newFixture(t)
	boom := func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		panic("index out of range")
	}
	req := f.ask(t, Safe(f.bot.Answers, f.tracker, boom), f.comment("bob", "@shipbot deploy"))
	assert.Equal(t, Done, req.Kind)
	assert.Contains(t, f.lastReply(), "index out of range")
	assert.Contains(t, f.lastReply(), "@bob @alice", "failures address the issue author too")
}

func TestSafe_Error(t *testing.T) {
	f := newFixture(t)
	failing := func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		return EmptyReq, errors.New("tags unavailable")
	}
	req := f.ask(t, Safe(f.bot.Answers, f.tracker, failing), f.comment("bob", "@shipbot release"))
	assert.Equal(t, Done, req.Kind)
	assert.Contains(t, f.lastReply(), "tags unavailable")
}

func TestSafe_UnreadableIssue(t *testing.T) {
	f := newFixture(t)
	c := f.comment("bob", "@shipbot deploy")
	f.tracker.FailOn("Issue", errors.New("connection reset"))
	var calls int

	req := f.ask(t, Safe(f.bot.Answers, f.tracker, fixed(DoneReq, &calls)), c)
	assert.Equal(t, Empty, req.Kind)
	assert.Zero(t, calls)
}

func TestAskedBy(t *testing.T) {
	f := newFixture(t)
	f.tracker.SetFile("acme/app", "master", profile.File, "merge:\n  commanders: [carol]\narchitect: [dave]\n")
	q := AskedBy(f.bot.Answers, f.tracker, f.bot.Profile, "merge", fixed(Work("merge", nil), nil))

	assert.Equal(t, Simple, f.ask(t, q, f.comment("carol", "@shipbot merge")).Kind, "commander")
	assert.Equal(t, Simple, f.ask(t, q, f.comment("Dave", "@shipbot merge")).Kind, "architect")
	assert.Equal(t, Simple, f.ask(t, q, f.comment("bob", "@shipbot merge")).Kind, "collaborator")

	req := f.ask(t, q, f.comment("mallory", "@shipbot merge"))
	assert.Equal(t, Empty, req.Kind)
	assert.Contains(t, f.lastReply(), "please ask one of them: @carol, @dave")
}

func TestAskedBy_BrokenProfile(t *testing.T) {
	f := newFixture(t)
	f.tracker.SetFile("acme/app", "master", profile.File, "merge: [")
	var calls int
	q := AskedBy(f.bot.Answers, f.tracker, f.bot.Profile, "merge", fixed(Work("merge", nil), &calls))

	req := f.ask(t, q, f.comment("bob", "@shipbot merge"))
	assert.Equal(t, Empty, req.Kind)
	assert.Zero(t, calls)
	assert.Contains(t, f.lastReply(), "something wrong with `.shipbot.yml`")
}

func TestByArchitect(t *testing.T) {
	f := newFixture(t)
	f.tracker.SetFile("acme/app", "master", profile.File, "architect: dave\n")
	q := ByArchitect(f.bot.Answers, f.bot.Profile, fixed(DoneReq, nil))

	assert.Equal(t, Done, f.ask(t, q, f.comment("dave", "@shipbot config")).Kind)

	var calls int
	q = ByArchitect(f.bot.Answers, f.bot.Profile, fixed(Work("lock", nil), &calls))
	req := f.ask(t, q, f.comment("bob", "@shipbot lock"))
	assert.Equal(t, Done, req.Kind, "denial is absorbed")
	assert.Zero(t, calls)
	assert.Contains(t, f.lastReply(), "only architects")
}

func TestByArchitect_BrokenProfile(t *testing.T) {
	f := newFixture(t)
	f.tracker.SetFile("acme/app", "master", profile.File, "architect: [")
	var calls int
	q := ByArchitect(f.bot.Answers, f.bot.Profile, fixed(Work("lock", nil), &calls))

	req := f.ask(t, q, f.comment("dave", "@shipbot lock"))
	assert.Equal(t, Empty, req.Kind, "treated like AskedBy")
	assert.Zero(t, calls)
	assert.Contains(t, f.lastReply(), "something wrong with `.shipbot.yml`")
}

func TestIfPull(t *testing.T) {
	f := newFixture(t)
	q := IfPull(f.bot.Answers, f.tracker, fixed(Work("merge", nil), nil))
	assert.Equal(t, Simple, f.ask(t, q, f.comment("bob", "@shipbot merge")).Kind)

	plain := models.IssueRef{Repo: "acme/app", Number: 8}
	f.tracker.AddIssue(models.Issue{Ref: plain, Author: "alice", Open: true})
	c := f.tracker.AddComment(plain, models.Comment{Author: "bob", Body: "@shipbot merge"})
	assert.Equal(t, Done, f.ask(t, q, c).Kind)
	posted := f.tracker.Posted(plain)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Body, "not a pull request")
}

func TestIfCollaborator(t *testing.T) {
	f := newFixture(t)
	q := IfCollaborator(f.bot.Answers, f.tracker, fixed(DoneReq, nil))
	assert.Equal(t, Done, f.ask(t, q, f.comment("bob", "@shipbot stop")).Kind)

	var calls int
	q = IfCollaborator(f.bot.Answers, f.tracker, fixed(Work("stop", nil), &calls))
	assert.Equal(t, Done, f.ask(t, q, f.comment("eve", "@shipbot stop")).Kind)
	assert.Zero(t, calls)
	assert.Contains(t, f.lastReply(), "not a collaborator")
}

func TestIfUnlocked(t *testing.T) {
	f := newFixture(t)
	q := IfUnlocked(f.bot.Answers, f.tracker, fixed(Work("merge", nil), nil))
	assert.Equal(t, Simple, f.ask(t, q, f.comment("bob", "@shipbot merge")).Kind, "no lock file")

	f.tracker.SetFile("acme/app", "master", LockFile, "@alice\ncarol\n")
	assert.Equal(t, Simple, f.ask(t, q, f.comment("Alice", "@shipbot merge")).Kind)

	req := f.ask(t, q, f.comment("bob", "@shipbot merge"))
	assert.Equal(t, Done, req.Kind)
	assert.Contains(t, f.lastReply(), "Branch `master` is locked")
}

func TestAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok, err := f.bot.Locks.Lock(ctx, "acme-app-99", "acme/app")
	require.NoError(t, err)
	require.True(t, ok)

	var calls int
	q := Alone(f.bot.Locks, f.bot.Talk, fixed(Work("deploy", nil), &calls))
	assert.Equal(t, Later, f.ask(t, q, f.comment("bob", "@shipbot deploy")).Kind)
	assert.Zero(t, calls)

	_, err = f.bot.Locks.Unlock(ctx, "acme-app-99", "acme/app")
	require.NoError(t, err)
	assert.Equal(t, Simple, f.ask(t, q, f.comment("bob", "@shipbot deploy")).Kind)
	holder, err := f.bot.Locks.Holder(ctx, "acme/app")
	require.NoError(t, err)
	assert.Equal(t, "acme-app-7", holder, "the lock stays with the talk")
}

func TestIdle(t *testing.T) {
	f := newFixture(t)
	q := Idle(f.bot.Talk, fixed(Work("deploy", nil), nil))
	assert.Equal(t, Simple, f.ask(t, q, f.comment("bob", "@shipbot deploy")).Kind)

	f.bot.Talk.Request = &talk.Request{ID: 3, Type: "merge"}
	assert.Equal(t, Later, f.ask(t, q, f.comment("bob", "@shipbot deploy")).Kind)
}
