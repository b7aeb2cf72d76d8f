package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipbot/internal/runner"
	"github.com/shipbot/internal/talk"
	"github.com/shipbot/internal/webhookutils"
)

const secret = "hook-secret"

type recordingQueue struct {
	names []string
}

func (q *recordingQueue) EnqueueTalks(ctx context.Context, names ...string) error {
	q.names = append(q.names, names...)
	return nil
}

type env struct {
	server *Server
	store  *talk.InMemoryStore
	tokens *runner.TokenService
	queue  *recordingQueue
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:  talk.NewInMemoryStore(),
		tokens: runner.NewTokenService("runner-secret"),
		queue:  &recordingQueue{},
	}
	e.server = NewServer(e.store, Options{
		Self:          "shipbot",
		WebhookSecret: secret,
		Tokens:        e.tokens,
		Queue:         e.queue,
	})
	e.server.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func githubDelivery(event, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", webhookutils.SignGitHub(secret, []byte(body)))
	return req
}

func gitlabDelivery(event, token, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gitlab", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitlab-Event", event)
	req.Header.Set("X-Gitlab-Token", token)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

const issueComment = `{
	"action": "created",
	"issue": {"number": 7, "pull_request": {"url": "https://api.github.com/repos/acme/app/pulls/7"}},
	"comment": {"id": 99, "body": "@shipbot merge", "user": {"login": "bob"}},
	"repository": {"full_name": "acme/app"}
}`

func TestGitHubWebhook_CommentStartsTalk(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec := e.do(githubDelivery("issue_comment", issueComment))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "created", decode(t, rec)["status"])

	got, err := e.store.Get(ctx, "acme-app-mr7")
	require.NoError(t, err)
	assert.Equal(t, "acme/app", got.Repo)
	assert.Equal(t, 7, got.Issue)
	assert.True(t, got.Pull)
	assert.True(t, got.Active)
	assert.True(t, got.Resume)

	_, err = e.store.Modify(ctx, "acme-app-mr7", talk.Patch{Resume: talk.Ptr(false)})
	require.NoError(t, err)

	rec = e.do(githubDelivery("issue_comment", issueComment))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resumed", decode(t, rec)["status"])
	got, err = e.store.Get(ctx, "acme-app-mr7")
	require.NoError(t, err)
	assert.True(t, got.Resume)

	assert.Equal(t, []string{"acme-app-mr7", "acme-app-mr7"}, e.queue.names)
}

func TestGitHubWebhook_IssueOpened(t *testing.T) {
	e := newEnv(t)
	rec := e.do(githubDelivery("issues", `{
		"action": "opened",
		"issue": {"number": 12, "body": "@shipbot release"},
		"repository": {"full_name": "acme/app"}
	}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme-app-12", decode(t, rec)["talk"])

	rec = e.do(githubDelivery("issues", `{
		"action": "labeled",
		"issue": {"number": 13},
		"repository": {"full_name": "acme/app"}
	}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
	ok, _ := e.store.Exists(context.Background(), "acme-app-13")
	assert.False(t, ok)
}

func TestGitHubWebhook_Ignored(t *testing.T) {
	e := newEnv(t)

	own := strings.Replace(issueComment, `"login": "bob"`, `"login": "ShipBot"`, 1)
	rec := e.do(githubDelivery("issue_comment", own))
	assert.Equal(t, "own_comment", decode(t, rec)["reason"])

	edited := strings.Replace(issueComment, `"created"`, `"edited"`, 1)
	rec = e.do(githubDelivery("issue_comment", edited))
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	rec = e.do(githubDelivery("push", `{}`))
	assert.Equal(t, "unsupported_event", decode(t, rec)["reason"])

	rec = e.do(githubDelivery("ping", `{"zen": "Keep it logically awesome."}`))
	assert.Equal(t, "pong", decode(t, rec)["status"])

	assert.Empty(t, e.queue.names)
}

func TestGitHubWebhook_BadSignature(t *testing.T) {
	e := newEnv(t)
	req := githubDelivery("issue_comment", issueComment)
	req.Header.Set("X-Hub-Signature-256", webhookutils.SignGitHub("wrong", []byte(issueComment)))

	rec := e.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	list, _ := e.store.List(context.Background(), 0)
	assert.Empty(t, list)
}

const mergeNote = `{
	"object_kind": "note",
	"event_type": "note",
	"user": {"username": "alice"},
	"project": {"path_with_namespace": "acme/app"},
	"object_attributes": {"note": "@shipbot merge", "noteable_type": "MergeRequest"},
	"merge_request": {"iid": 3}
}`

func TestGitLabWebhook_MergeRequestNote(t *testing.T) {
	e := newEnv(t)
	rec := e.do(gitlabDelivery("Note Hook", secret, mergeNote))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acme-app-mr3", decode(t, rec)["talk"])

	got, err := e.store.Get(context.Background(), "acme-app-mr3")
	require.NoError(t, err)
	assert.True(t, got.Pull)
	assert.Equal(t, 3, got.Issue)
}

func TestGitLabWebhook_IssueNote(t *testing.T) {
	e := newEnv(t)
	rec := e.do(gitlabDelivery("Note Hook", secret, `{
		"object_kind": "note",
		"user": {"username": "alice"},
		"project": {"path_with_namespace": "acme/app"},
		"object_attributes": {"note": "@shipbot hello", "noteable_type": "Issue"},
		"issue": {"iid": 4}
	}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acme-app-4", decode(t, rec)["talk"])
}

func TestGitLabWebhook_Rejected(t *testing.T) {
	e := newEnv(t)
	rec := e.do(gitlabDelivery("Note Hook", "nope", mergeNote))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(gitlabDelivery("Pipeline Hook", secret, `{"object_kind": "pipeline"}`))
	assert.Equal(t, "unsupported_event", decode(t, rec)["reason"])

	own := strings.Replace(mergeNote, `"alice"`, `"shipbot"`, 1)
	rec = e.do(gitlabDelivery("Note Hook", secret, own))
	assert.Equal(t, "own_comment", decode(t, rec)["reason"])
}

func pendingTalk(t *testing.T, e *env, name string) {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), &talk.Talk{
		Name:    name,
		Repo:    "acme/app",
		Issue:   7,
		Active:  true,
		Request: &talk.Request{ID: 5, Type: "merge", Author: "bob"},
	}))
}

func callback(method, path, token, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestResult(t *testing.T) {
	e := newEnv(t)
	pendingTalk(t, e, "acme-app-7")
	token, err := e.tokens.Issue("acme-app-7", 5, "job-1")
	require.NoError(t, err)

	rec := e.do(callback(http.MethodPost, "/api/v1/talks/acme-app-7/result", token,
		`{"success": true, "elapsed_ms": 90000, "highlights": ["merged"], "log_url": "https://logs.example.com/1"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := e.store.Get(context.Background(), "acme-app-7")
	require.NoError(t, err)
	require.NotNil(t, got.Request.Result)
	res := got.Request.Result
	assert.True(t, res.Success)
	assert.Equal(t, 90*time.Second, res.Elapsed)
	assert.Equal(t, []string{"merged"}, res.Highlights)
	assert.Equal(t, "https://logs.example.com/1", res.LogURL)
	assert.True(t, e.server.now().Equal(res.Finished))
	assert.True(t, got.Resume)
	assert.Equal(t, []string{"acme-app-7"}, e.queue.names)
}

func TestResult_Rejected(t *testing.T) {
	e := newEnv(t)
	pendingTalk(t, e, "acme-app-7")
	path := "/api/v1/talks/acme-app-7/result"

	rec := e.do(callback(http.MethodPost, path, "", `{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(callback(http.MethodPost, path, "garbage", `{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := e.tokens.Issue("acme-app-8", 5, "job-1")
	require.NoError(t, err)
	rec = e.do(callback(http.MethodPost, path, other, `{}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stale, err := e.tokens.Issue("acme-app-7", 4, "job-0")
	require.NoError(t, err)
	rec = e.do(callback(http.MethodPost, path, stale, `{"success": true}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	missing, err := e.tokens.Issue("nobody", 1, "job-2")
	require.NoError(t, err)
	rec = e.do(callback(http.MethodPost, "/api/v1/talks/nobody/result", missing, `{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got, _ := e.store.Get(context.Background(), "acme-app-7")
	assert.Nil(t, got.Request.Result)
	assert.Empty(t, e.queue.names)
}

func TestShell(t *testing.T) {
	e := newEnv(t)
	pendingTalk(t, e, "acme-app-7")
	token, err := e.tokens.Issue("acme-app-7", 5, "job-1")
	require.NoError(t, err)
	path := "/api/v1/talks/acme-app-7/shell"

	rec := e.do(callback(http.MethodPut, path, token, `{"open": true, "id": "sh-1", "host": "10.0.0.5", "port": 22, "login": "ship"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, _ := e.store.Get(context.Background(), "acme-app-7")
	require.NotNil(t, got.Shell)
	assert.Equal(t, "10.0.0.5", got.Shell.Host)
	assert.Equal(t, 22, got.Shell.Port)

	rec = e.do(callback(http.MethodPut, path, token, `{"open": true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(callback(http.MethodPut, path, token, `{"open": false}`))
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ = e.store.Get(context.Background(), "acme-app-7")
	assert.Nil(t, got.Shell)
	assert.True(t, got.Resume)
	assert.Equal(t, []string{"acme-app-7"}, e.queue.names)
}

func TestGetTalk(t *testing.T) {
	e := newEnv(t)
	pendingTalk(t, e, "acme-app-7")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/talks/acme-app-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got talk.Talk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "acme/app", got.Repo)
	assert.Equal(t, int64(5), got.Request.ID)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/talks/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbacksDisabledWithoutTokens(t *testing.T) {
	store := talk.NewInMemoryStore()
	s := NewServer(store, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, callback(http.MethodPost, "/api/v1/talks/x/result", "t", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
