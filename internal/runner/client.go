// Package runner hands requests over to the external runner that executes
// them, and authenticates the runner when it reports back.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/retry"
	"github.com/shipbot/internal/talk"
)

// Job is what the runner receives for one request.
type Job struct {
	ID       string            `json:"id"`
	Talk     string            `json:"talk"`
	Repo     string            `json:"repo"`
	Issue    int               `json:"issue"`
	Request  int64             `json:"request"`
	Type     string            `json:"type"`
	Args     map[string]string `json:"args,omitempty"`
	Author   string            `json:"author,omitempty"`
	Callback string            `json:"callback"`
	Shell    string            `json:"shell"`
	Token    string            `json:"token"`
}

// Client posts jobs to the runner.
type Client struct {
	url    string
	home   *url.URL
	tokens *TokenService
	http   *http.Client
	Retry  retry.RetryConfig
}

// NewClient creates a client for the runner at runnerURL. Callbacks are
// addressed to the API under home.
func NewClient(runnerURL string, home *url.URL, tokens *TokenService, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    runnerURL,
		home:   home,
		tokens: tokens,
		http:   &http.Client{Timeout: timeout},
		Retry:  retry.TrackerRetryConfig(),
	}
}

// CallbackURL is where the runner reports the result of the talk's request.
func CallbackURL(home *url.URL, name string) string {
	return home.JoinPath("api", "v1", "talks", name, "result").String()
}

// ShellURL is where the runner reports the shell it keeps open.
func ShellURL(home *url.URL, name string) string {
	return home.JoinPath("api", "v1", "talks", name, "shell").String()
}

// Dispatch posts the request as a new job and returns the job id.
func (c *Client) Dispatch(ctx context.Context, t *talk.Talk, req *talk.Request) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("runner url is not configured")
	}
	job := Job{
		ID:       uuid.NewString(),
		Talk:     t.Name,
		Repo:     t.Repo,
		Issue:    t.Issue,
		Request:  req.ID,
		Type:     req.Type,
		Args:     req.Args,
		Author:   req.Author,
		Callback: CallbackURL(c.home, t.Name),
		Shell:    ShellURL(c.home, t.Name),
	}
	token, err := c.tokens.Issue(t.Name, req.ID, job.ID)
	if err != nil {
		return "", err
	}
	job.Token = token

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	logger := log.With().Str("talk", t.Name).Str("job", job.ID).Logger()
	result := retry.RetryWithBackoff(ctx, c.Retry, func() error {
		return c.post(ctx, payload, token)
	}, &logger)
	if !result.Success {
		return "", fmt.Errorf("runner rejected job %s after %d attempts: %w", job.ID, result.Attempts, result.LastError)
	}
	return job.ID, nil
}

func (c *Client) post(ctx context.Context, payload []byte, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
