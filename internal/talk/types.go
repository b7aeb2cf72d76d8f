// Package talk holds the persisted state of one tracked issue or pull
// request thread and the typed patches that mutate it.
package talk

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shipbot/pkg/models"
)

// Talk is the conversation state of one issue thread.
type Talk struct {
	Name    string `json:"name"`
	Number  int64  `json:"number"`
	Active  bool   `json:"active"`
	Version int64  `json:"version"`

	Repo  string `json:"repo,omitempty"`
	Issue int    `json:"issue,omitempty"`
	Pull  bool   `json:"pull,omitempty"`

	// LastSeen is the highest comment number already processed. It never
	// decreases.
	LastSeen int64    `json:"last_seen"`
	Request  *Request `json:"request,omitempty"`
	Resume   bool     `json:"resume"`
	Shell    *Shell   `json:"shell,omitempty"`

	Archive []ArchiveEntry `json:"archive,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the external thread of the talk.
func (t *Talk) Ref() models.IssueRef {
	return models.IssueRef{Repo: t.Repo, Number: t.Issue, Pull: t.Pull}
}

// HasIssue reports whether the talk references an external thread.
func (t *Talk) HasIssue() bool {
	return t.Repo != "" && t.Issue > 0
}

// Busy reports whether the talk still needs its repository: a request is
// pending or a shell is open.
func (t *Talk) Busy() bool {
	return t.Request != nil || t.Shell != nil
}

// Request is the single outstanding operation of a talk.
type Request struct {
	// ID is the number of the comment that triggered the request.
	ID     int64             `json:"id"`
	Type   string            `json:"type"`
	Args   map[string]string `json:"args,omitempty"`
	Author string            `json:"author,omitempty"`
	// Supersedes lets a request replace the pending one (stop).
	Supersedes bool      `json:"supersedes,omitempty"`
	Created    time.Time `json:"created"`

	Dispatched *time.Time `json:"dispatched,omitempty"`
	Job        string     `json:"job,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

// Result is what the runner reports back when a request finishes.
type Result struct {
	Success    bool          `json:"success"`
	Stopped    bool          `json:"stopped,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Highlights []string      `json:"highlights,omitempty"`
	Tail       string        `json:"tail,omitempty"`
	LogURL     string        `json:"log_url,omitempty"`
	Finished   time.Time     `json:"finished"`
}

// Shell is an execution shell the runner keeps open for a request.
type Shell struct {
	ID     string    `json:"id"`
	Host   string    `json:"host"`
	Port   int       `json:"port"`
	Login  string    `json:"login"`
	Opened time.Time `json:"opened"`
}

// ArchiveEntry summarizes a completed request.
type ArchiveEntry struct {
	ID       int64         `json:"id"`
	Type     string        `json:"type"`
	Author   string        `json:"author,omitempty"`
	Success  bool          `json:"success"`
	Elapsed  time.Duration `json:"elapsed"`
	LogURL   string        `json:"log_url,omitempty"`
	Finished time.Time     `json:"finished"`
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// NameFor derives the talk name of an issue thread, e.g. "acme-app-42" or
// "acme-app-mr42" for a GitLab merge request.
func NameFor(ref models.IssueRef) string {
	repo := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(ref.Repo), "-"), "-")
	if ref.Pull {
		return fmt.Sprintf("%s-mr%d", repo, ref.Number)
	}
	return fmt.Sprintf("%s-%d", repo, ref.Number)
}
