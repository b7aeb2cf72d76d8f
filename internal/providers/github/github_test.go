package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipbot/internal/providers"
	"github.com/shipbot/pkg/models"
)

func newTestProvider(t *testing.T, mux *http.ServeMux) *GitHubProvider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewWithClient(client)
}

func TestGitHubProvider_IssueAndComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/issues/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"number":       7,
			"title":        "Ship it",
			"body":         "@shipbot hello",
			"state":        "open",
			"html_url":     "https://github.com/acme/app/pull/7",
			"user":         map[string]string{"login": "alice"},
			"pull_request": map[string]string{"url": "https://api.github.com/repos/acme/app/pulls/7"},
		})
	})
	mux.HandleFunc("/repos/acme/app/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "done")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 300}`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": 100, "body": "first", "user": map[string]string{"login": "bob"}},
			{"id": 200, "body": "@shipbot merge", "user": map[string]string{"login": "carol"}},
		})
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()
	ref := models.IssueRef{Repo: "acme/app", Number: 7}

	issue, err := p.Issue(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "alice", issue.Author)
	assert.True(t, issue.Pull)
	assert.True(t, issue.Open)

	comments, err := p.Comments(ctx, ref, 100)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(200), comments[0].Number)
	assert.Equal(t, "carol", comments[0].Author)

	recent, err := p.RecentComments(ctx, ref, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(200), recent[0].Number)

	require.NoError(t, p.PostComment(ctx, ref, "done"))
}

func TestGitHubProvider_FileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/contents/.shipbot.yml", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("architect: [alice]\n")),
		})
	})
	p := newTestProvider(t, mux)

	content, err := p.FileContent(context.Background(), "acme/app", "main", ".shipbot.yml")
	require.NoError(t, err)
	assert.Equal(t, "architect: [alice]\n", content)

	_, err = p.FileContent(context.Background(), "acme/app", "main", ".shipbot.lock")
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestSplit(t *testing.T) {
	owner, name, err := split("acme/app")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "app", name)

	_, _, err = split("acme")
	assert.Error(t, err)
}
