// Package agents are the steps of a talk's cycle besides understanding
// comments: dispatching requests, reporting results and releasing
// repositories.
package agents

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/lock"
	"github.com/shipbot/internal/talk"
)

// UnlocksRepo releases the repository lock of a talk that no longer needs
// it. It is the only way a repository lock is ever released.
type UnlocksRepo struct {
	locks *lock.RepoLock
}

func NewUnlocksRepo(locks *lock.RepoLock) *UnlocksRepo {
	return &UnlocksRepo{locks: locks}
}

func (a *UnlocksRepo) Name() string { return "unlocks-repo" }

func (a *UnlocksRepo) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	if t.Busy() || t.Repo == "" {
		return t, nil
	}
	released, err := a.locks.Unlock(ctx, t.Name, t.Repo)
	if err != nil {
		return t, err
	}
	if released {
		log.Info().Str("talk", t.Name).Str("repo", t.Repo).Msg("repository released")
	}
	return t, nil
}
