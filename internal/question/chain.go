package question

import (
	"context"
	"net/url"
	"strings"

	"github.com/shipbot/pkg/models"
)

// keywords are the words commands are recognized by; IAmLost answers only
// comments that contain none of them.
var keywords = []string{
	"hello", "version", "status", "config", "stop", "lock", "merge", "deploy", "release",
}

// unless delegates when the body contains none of words.
func unless(words []string, q Question) Question {
	return func(ctx context.Context, c models.Comment, home *url.URL) (Req, error) {
		body := strings.ToLower(stripCode(c.Body))
		for _, w := range words {
			if strings.Contains(body, w) {
				return EmptyReq, nil
			}
		}
		return q(ctx, c, home)
	}
}

// work gates a command that needs the repository for itself: allowed
// author, unlocked branch, no other request of the talk in progress, and
// the repository lock.
func (b *Bot) work(section string, q Question) Question {
	return AskedBy(b.Answers, b.Tracker, b.Profile, section,
		IfUnlocked(b.Answers, b.Tracker,
			Idle(b.Talk,
				Alone(b.Locks, b.Talk, q))))
}

// Question assembles the full chain the bot understands comments with.
// "unlock" is tried before "lock", which it contains.
func (b *Bot) Question() Question {
	return Safe(b.Answers, b.Tracker,
		NotSelf(b.Self,
			Since(b.Since,
				ReferredTo(b.Answers, b.Self,
					Follow(b.Tracker,
						Reaction(b.Tracker, "eyes",
							Parametrized(
								WithAuthor(
									FirstOf(
										IfContains("hello", Hello(b)),
										IfContains("version", Version(b)),
										IfContains("status", Status(b)),
										IfContains("config", ByArchitect(b.Answers, b.Profile, Config(b))),
										IfContains("stop", IfCollaborator(b.Answers, b.Tracker, Stop(b))),
										IfContains("unlock", ByArchitect(b.Answers, b.Profile, b.work("unlock", Unlock(b)))),
										IfContains("lock", ByArchitect(b.Answers, b.Profile, b.work("lock", Lock(b)))),
										IfContains("merge", IfPull(b.Answers, b.Tracker, b.work("merge", Merge(b)))),
										IfContains("deploy", b.work("deploy", Deploy(b))),
										IfContains("release", b.work("release", Release(b))),
										unless(keywords, IAmLost(b)),
									),
								),
							),
						),
					),
				),
			),
		),
	)
}
