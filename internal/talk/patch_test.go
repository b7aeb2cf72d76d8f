package talk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch_WatermarkNeverDecreases(t *testing.T) {
	tk := &Talk{Name: "acme-app-1", LastSeen: 10}

	require.NoError(t, Patch{LastSeen: Ptr(int64(10))}.Apply(tk))
	require.NoError(t, Patch{LastSeen: Ptr(int64(12))}.Apply(tk))
	assert.Equal(t, int64(12), tk.LastSeen)

	err := Patch{LastSeen: Ptr(int64(11)), Resume: Ptr(true)}.Apply(tk)
	require.ErrorIs(t, err, ErrWatermarkRegression)
	assert.Equal(t, int64(12), tk.LastSeen)
	assert.False(t, tk.Resume, "a failed patch leaves the talk unchanged")
}

func TestPatch_WatermarkMonotonicUnderRandomPatches(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	tk := &Talk{Name: "acme-app-2"}
	prev := tk.LastSeen
	for i := 0; i < 500; i++ {
		_ = Patch{LastSeen: Ptr(int64(rnd.Intn(100)))}.Apply(tk)
		assert.GreaterOrEqual(t, tk.LastSeen, prev)
		prev = tk.LastSeen
	}
}

func TestPatch_AtMostOnePendingRequest(t *testing.T) {
	tk := &Talk{Name: "acme-app-3"}

	require.NoError(t, Patch{Request: &Request{ID: 5, Type: "merge"}}.Apply(tk))
	err := Patch{Request: &Request{ID: 6, Type: "deploy"}}.Apply(tk)
	require.ErrorIs(t, err, ErrRequestPending)
	assert.Equal(t, int64(5), tk.Request.ID)

	require.NoError(t, Patch{Request: &Request{ID: 7, Type: "stop", Supersedes: true}}.Apply(tk))
	assert.Equal(t, "stop", tk.Request.Type)

	require.NoError(t, Patch{ClearRequest: true, Request: &Request{ID: 8, Type: "deploy"}}.Apply(tk))
	assert.Equal(t, int64(8), tk.Request.ID)
}

func TestPatch_RequestArgsAreCopied(t *testing.T) {
	args := map[string]string{"tag": "1.0"}
	tk := &Talk{Name: "acme-app-4"}
	require.NoError(t, Patch{Request: &Request{ID: 2, Type: "release", Args: args}}.Apply(tk))
	args["tag"] = "2.0"
	assert.Equal(t, "1.0", tk.Request.Args["tag"])
}

func TestPatch_DispatchAndCompletion(t *testing.T) {
	tk := &Talk{Name: "acme-app-5"}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.ErrorIs(t, Patch{Dispatch: &Dispatch{Job: "j1", At: now}}.Apply(tk), ErrNoRequest)

	require.NoError(t, Patch{Request: &Request{ID: 9, Type: "deploy"}}.Apply(tk))
	require.NoError(t, Patch{Dispatch: &Dispatch{Job: "j1", At: now}}.Apply(tk))
	require.NotNil(t, tk.Request.Dispatched)
	assert.Equal(t, "j1", tk.Request.Job)

	err := Patch{Completion: &Completion{RequestID: 8, Result: Result{Success: true}}}.Apply(tk)
	require.ErrorIs(t, err, ErrStaleResult)
	assert.Nil(t, tk.Request.Result)

	require.NoError(t, Patch{Completion: &Completion{RequestID: 9, Result: Result{Success: true, Elapsed: time.Minute}}}.Apply(tk))
	require.NotNil(t, tk.Request.Result)
	assert.True(t, tk.Request.Result.Success)
}

func TestPatch_ArchiveAndShell(t *testing.T) {
	tk := &Talk{Name: "acme-app-6"}
	require.NoError(t, Patch{Archive: &ArchiveEntry{ID: 3, Type: "merge", Success: true}}.Apply(tk))
	require.NoError(t, Patch{Archive: &ArchiveEntry{ID: 5, Type: "deploy"}}.Apply(tk))
	require.Len(t, tk.Archive, 2)
	assert.Equal(t, int64(5), tk.Archive[1].ID)

	require.NoError(t, Patch{Shell: &Shell{ID: "s1", Host: "runner.local", Port: 22}}.Apply(tk))
	assert.True(t, tk.Busy())
	require.NoError(t, Patch{CloseShell: true}.Apply(tk))
	assert.False(t, tk.Busy())
}

func TestPatch_Empty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{Resume: Ptr(false)}.Empty())
}

func TestNameFor(t *testing.T) {
	assert.Equal(t, "acme-app-42", NameFor(refOf("Acme/App", 42, false)))
	assert.Equal(t, "group-sub-project-mr7", NameFor(refOf("group/sub/project", 7, true)))
}
