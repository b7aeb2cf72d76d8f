package talk

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipbot/pkg/models"
)

func refOf(repo string, number int, pull bool) models.IssueRef {
	return models.IssueRef{Repo: repo, Number: number, Pull: pull}
}

// storeContract runs the same checks against every Store implementation.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	a := &Talk{Name: "acme-app-1", Active: true, Repo: "acme/app", Issue: 1}
	require.NoError(t, s.Create(ctx, a))
	assert.NotZero(t, a.Number)
	assert.ErrorIs(t, s.Create(ctx, &Talk{Name: "acme-app-1"}), ErrTalkExists)

	b := &Talk{Name: "acme-app-2", Active: false}
	require.NoError(t, s.Create(ctx, b))
	assert.Greater(t, b.Number, a.Number)

	ok, err := s.Exists(ctx, "acme-app-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTalkNotFound)

	updated, err := s.Modify(ctx, "acme-app-1", Patch{LastSeen: Ptr(int64(4)), Resume: Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.LastSeen)
	assert.Equal(t, a.Version+1, updated.Version)

	_, err = s.Modify(ctx, "acme-app-1", Patch{LastSeen: Ptr(int64(3))})
	assert.ErrorIs(t, err, ErrWatermarkRegression)
	got, err := s.Get(ctx, "acme-app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.LastSeen)
	assert.True(t, got.Resume)
	assert.Equal(t, "acme/app", got.Repo)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "acme-app-1", active[0].Name)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "acme-app-2"))
	assert.ErrorIs(t, s.Delete(ctx, "acme-app-2"), ErrTalkNotFound)
}

// concurrentRequests checks that exactly one of many racing request patches
// wins.
func concurrentRequests(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Talk{Name: "acme-app-race", Active: true}))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := s.Modify(ctx, "acme-app-race", Patch{Request: &Request{ID: int64(id + 2), Type: "deploy"}})
			if err == nil {
				mu.Lock()
				winner++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrRequestPending)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winner)
}

func TestInMemoryStore(t *testing.T) {
	storeContract(t, NewInMemoryStore())
}

func TestInMemoryStore_ConcurrentRequests(t *testing.T) {
	concurrentRequests(t, NewInMemoryStore())
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Talk{Name: "acme-app-9", Active: true}))
	tk, err := s.Get(ctx, "acme-app-9")
	require.NoError(t, err)
	tk.LastSeen = 100

	again, err := s.Get(ctx, "acme-app-9")
	require.NoError(t, err)
	assert.Zero(t, again.LastSeen)
}

// fullTalk has every part of the document set.
func fullTalk(name string) *Talk {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return &Talk{
		Name:     name,
		Active:   true,
		Repo:     "acme/app",
		Issue:    7,
		Pull:     true,
		LastSeen: 12,
		Resume:   true,
		Request: &Request{
			ID:         12,
			Type:       "merge",
			Args:       map[string]string{"pull_id": "7", "head_branch": "feature"},
			Author:     "bob",
			Created:    at,
			Dispatched: &at,
			Job:        "job-1",
			Result: &Result{
				Success:    true,
				Elapsed:    90 * time.Second,
				Highlights: []string{"merged"},
				Tail:       "ok",
				LogURL:     "https://logs.example.com/1",
				Finished:   at,
			},
		},
		Shell:   &Shell{ID: "sh-1", Host: "10.0.0.5", Port: 22, Login: "ship", Opened: at},
		Archive: []ArchiveEntry{{ID: 5, Type: "deploy", Author: "alice", Success: true, Elapsed: time.Minute, Finished: at}},
	}
}

// documentKept checks that the store persists the whole talk document.
func documentKept(t *testing.T, s Store) {
	ctx := context.Background()
	want := fullTalk("acme-app-doc")
	require.NoError(t, s.Create(ctx, want))

	got, err := s.Get(ctx, want.Name)
	require.NoError(t, err)
	ignore := cmpopts.IgnoreFields(Talk{}, "Version", "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, got, ignore); diff != "" {
		t.Errorf("stored talk mismatch (-want +got):\n%s", diff)
	}
}

func TestInMemoryStore_KeepsDocument(t *testing.T) {
	documentKept(t, NewInMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	url := os.Getenv("SHIPBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHIPBOT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	var table *string
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('talks')::text`).Scan(&table))
	if table == nil {
		t.Skip("talks table not migrated")
	}

	_, err = pool.Exec(ctx, `DELETE FROM talks WHERE name LIKE 'acme-app-%'`)
	require.NoError(t, err)
	s := NewPostgresStore(pool)
	storeContract(t, s)
	concurrentRequests(t, s)
	documentKept(t, s)
	_, _ = pool.Exec(ctx, `DELETE FROM talks WHERE name LIKE 'acme-app-%'`)
}
