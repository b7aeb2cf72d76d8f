// Package lock serializes operations per repository. A lock is a named
// token held by a talk; it is taken by the Alone gate and given back only by
// the sweep once the talk has nothing left to do.
package lock

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Service is a named mutual-exclusion primitive shared by engine instances.
type Service interface {
	// TryAcquire takes the lock for holder. It succeeds when the lock is
	// free or already held by holder.
	TryAcquire(ctx context.Context, name, holder string) (bool, error)
	// Release gives the lock back if holder has it.
	Release(ctx context.Context, name, holder string) (bool, error)
	// Holder returns the current holder, or "" when the lock is free.
	Holder(ctx context.Context, name string) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Name turns repository coordinates into a lock name: "GitHub:Acme/App"
// and "github:acme/app" share one lock.
func Name(repo string) string {
	return "repo-" + strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(repo)), "-"), "-")
}

// RepoLock locks the repository of a talk, using the talk name as holder.
type RepoLock struct {
	service Service
}

func NewRepoLock(service Service) *RepoLock {
	return &RepoLock{service: service}
}

// Lock takes the repository lock for the talk.
func (r *RepoLock) Lock(ctx context.Context, talk, repo string) (bool, error) {
	ok, err := r.service.TryAcquire(ctx, Name(repo), talk)
	if err != nil {
		return false, err
	}
	if !ok {
		holder, _ := r.service.Holder(ctx, Name(repo))
		log.Info().Str("talk", talk).Str("repo", repo).Str("holder", holder).Msg("repository is busy")
	}
	return ok, nil
}

// Unlock gives the repository lock back if the talk holds it.
func (r *RepoLock) Unlock(ctx context.Context, talk, repo string) (bool, error) {
	ok, err := r.service.Release(ctx, Name(repo), talk)
	if err != nil {
		return false, err
	}
	if ok {
		log.Info().Str("talk", talk).Str("repo", repo).Msg("repository unlocked")
	}
	return ok, nil
}

// Holder returns the talk holding the repository, or "".
func (r *RepoLock) Holder(ctx context.Context, repo string) (string, error) {
	return r.service.Holder(ctx, Name(repo))
}

// Memory is a process-local Service.
type Memory struct {
	mu    sync.Mutex
	locks map[string]entry
}

type entry struct {
	holder   string
	acquired time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]entry)}
}

func (m *Memory) TryAcquire(ctx context.Context, name, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[name]; ok {
		return e.holder == holder, nil
	}
	m.locks[name] = entry{holder: holder, acquired: time.Now()}
	return true, nil
}

func (m *Memory) Release(ctx context.Context, name, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[name]
	if !ok || e.holder != holder {
		return false, nil
	}
	delete(m.locks, name)
	return true, nil
}

func (m *Memory) Holder(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[name].holder, nil
}
