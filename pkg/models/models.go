package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tracker-facing models shared by providers, the question chain and agents.

// IssueRef points at one issue or pull/merge request thread in a repository.
type IssueRef struct {
	Repo   string `json:"repo"`   // "owner/name" or a GitLab project path
	Number int    `json:"number"` // issue or pull request number
	Pull   bool   `json:"pull,omitempty"`
}

// String renders the reference as "owner/name#42".
func (r IssueRef) String() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

// Valid reports whether the reference points anywhere.
func (r IssueRef) Valid() bool {
	return r.Repo != "" && r.Number > 0
}

// ParseIssueRef parses "owner/name#42".
func ParseIssueRef(s string) (IssueRef, error) {
	idx := strings.LastIndex(s, "#")
	if idx <= 0 || idx == len(s)-1 {
		return IssueRef{}, fmt.Errorf("invalid issue reference %q, expected owner/repo#number", s)
	}
	repo := strings.Trim(s[:idx], "/ ")
	if !strings.Contains(repo, "/") {
		return IssueRef{}, fmt.Errorf("invalid repository %q in %q", repo, s)
	}
	num, err := strconv.Atoi(s[idx+1:])
	if err != nil || num <= 0 {
		return IssueRef{}, fmt.Errorf("invalid issue number in %q", s)
	}
	return IssueRef{Repo: repo, Number: num}, nil
}

// Issue is the thread itself: author, description and state.
type Issue struct {
	Ref       IssueRef  `json:"ref"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Pull      bool      `json:"pull"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is an immutable, externally owned comment on an issue.
// Numbers are unique and increase within an issue.
type Comment struct {
	Number    int64     `json:"number"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Issue     IssueRef  `json:"issue"`
	CreatedAt time.Time `json:"created_at"`
}

// SyntheticNumber is the number given to the comment synthesized from the
// issue description.
const SyntheticNumber int64 = 1

// SyntheticComment turns the issue description into comment #1 so that the
// issue body itself can carry a command.
func SyntheticComment(issue *Issue) Comment {
	return Comment{
		Number:    SyntheticNumber,
		Author:    issue.Author,
		Body:      issue.Body,
		URL:       issue.URL,
		Issue:     issue.Ref,
		CreatedAt: issue.CreatedAt,
	}
}

// Repository describes the coordinates needed to build a request.
type Repository struct {
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
	WebURL        string `json:"web_url"`
}

// PullRequest is the subset of pull/merge request details the merge command
// needs.
type PullRequest struct {
	Ref        IssueRef `json:"ref"`
	Title      string   `json:"title"`
	Open       bool     `json:"open"`
	Head       string   `json:"head"`        // clone URL of the head repository
	HeadBranch string   `json:"head_branch"` // source branch
	Base       string   `json:"base"`        // clone URL of the base repository
	BaseBranch string   `json:"base_branch"` // target branch
	Checks     Checks   `json:"checks"`
}

// Checks summarizes CI state of a pull request head.
type Checks string

const (
	ChecksPassing Checks = "passing"
	ChecksPending Checks = "pending"
	ChecksFailing Checks = "failing"
	ChecksUnknown Checks = "unknown"
)
