package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/shipbot/internal/talk"
	"github.com/shipbot/internal/webhookutils"
	"github.com/shipbot/pkg/models"
)

// GitHub delivers these; everything else is acknowledged and dropped.
var githubEvents = map[string]bool{
	"issue_comment": true,
	"issues":        true,
	"pull_request":  true,
	"ping":          true,
}

// Issue actions that can carry a command in the description.
var wakingActions = map[string]bool{
	"opened":   true,
	"reopened": true,
	"edited":   true,
	"open":     true,
	"reopen":   true,
	"update":   true,
}

func ignored(c echo.Context, provider, reason string) error {
	log.Debug().Str("provider", provider).Str("reason", reason).Msg("webhook ignored")
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ignored",
		"provider": provider,
		"reason":   reason,
	})
}

func (s *Server) accept(c echo.Context, provider string, ref models.IssueRef) error {
	if !ref.Valid() {
		return ignored(c, provider, "no_issue")
	}
	name := talk.NameFor(ref)
	status, err := s.wake(c.Request().Context(), &talk.Talk{
		Name:   name,
		Repo:   ref.Repo,
		Issue:  ref.Number,
		Pull:   ref.Pull,
		Active: true,
		Resume: true,
	})
	if err != nil {
		log.Error().Err(err).Str("talk", name).Msg("failed to wake talk")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
	}
	log.Info().Str("provider", provider).Str("talk", name).Str("status", status).Msg("webhook accepted")
	return c.JSON(http.StatusOK, map[string]string{
		"status":   status,
		"provider": provider,
		"talk":     name,
	})
}

func (s *Server) own(login string) bool {
	return s.opts.Self != "" && strings.EqualFold(login, s.opts.Self)
}

func (s *Server) githubWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Failed to read request body",
		})
	}
	headers := webhookutils.Flatten(c.Request().Header)
	sig, _ := webhookutils.GetHeaderCaseInsensitive(headers, "X-Hub-Signature-256")
	if !webhookutils.VerifyGitHubSignature(s.opts.WebhookSecret, body, sig) {
		log.Warn().Msg("GitHub webhook signature validation failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":    "invalid_signature",
			"provider": "github",
		})
	}

	eventType, _ := webhookutils.GetHeaderCaseInsensitive(headers, "X-GitHub-Event")
	if !githubEvents[eventType] {
		return ignored(c, "github", "unsupported_event")
	}
	payload, err := github.ParseWebHook(eventType, body)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to parse GitHub webhook")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":    "invalid_payload",
			"provider": "github",
		})
	}

	switch e := payload.(type) {
	case *github.PingEvent:
		return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
	case *github.IssueCommentEvent:
		if e.GetAction() != "created" {
			return ignored(c, "github", "comment_"+e.GetAction())
		}
		if s.own(e.GetComment().GetUser().GetLogin()) {
			return ignored(c, "github", "own_comment")
		}
		return s.accept(c, "github", models.IssueRef{
			Repo:   e.GetRepo().GetFullName(),
			Number: e.GetIssue().GetNumber(),
			Pull:   e.GetIssue().IsPullRequest(),
		})
	case *github.IssuesEvent:
		if !wakingActions[e.GetAction()] {
			return ignored(c, "github", "issue_"+e.GetAction())
		}
		return s.accept(c, "github", models.IssueRef{
			Repo:   e.GetRepo().GetFullName(),
			Number: e.GetIssue().GetNumber(),
		})
	case *github.PullRequestEvent:
		if !wakingActions[e.GetAction()] {
			return ignored(c, "github", "pull_"+e.GetAction())
		}
		return s.accept(c, "github", models.IssueRef{
			Repo:   e.GetRepo().GetFullName(),
			Number: e.GetPullRequest().GetNumber(),
			Pull:   true,
		})
	}
	return ignored(c, "github", "unsupported_event")
}

func (s *Server) gitlabWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Failed to read request body",
		})
	}
	if !webhookutils.VerifyGitLabToken(s.opts.WebhookSecret, c.Request().Header.Get("X-Gitlab-Token")) {
		log.Warn().Msg("GitLab webhook token validation failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":    "invalid_token",
			"provider": "gitlab",
		})
	}

	eventType := gitlab.HookEventType(c.Request())
	switch eventType {
	case gitlab.EventTypeNote, gitlab.EventTypeIssue, gitlab.EventTypeMergeRequest:
	default:
		return ignored(c, "gitlab", "unsupported_event")
	}
	payload, err := gitlab.ParseWebhook(eventType, body)
	if err != nil {
		// notes on commits and snippets land here too
		log.Debug().Err(err).Str("event", string(eventType)).Msg("GitLab webhook not parsed")
		return ignored(c, "gitlab", "unsupported_payload")
	}

	switch e := payload.(type) {
	case *gitlab.IssueCommentEvent:
		if e.User != nil && s.own(e.User.Username) {
			return ignored(c, "gitlab", "own_comment")
		}
		return s.accept(c, "gitlab", models.IssueRef{
			Repo:   e.Project.PathWithNamespace,
			Number: e.Issue.IID,
		})
	case *gitlab.MergeCommentEvent:
		if e.User != nil && s.own(e.User.Username) {
			return ignored(c, "gitlab", "own_comment")
		}
		return s.accept(c, "gitlab", models.IssueRef{
			Repo:   e.Project.PathWithNamespace,
			Number: e.MergeRequest.IID,
			Pull:   true,
		})
	case *gitlab.IssueEvent:
		if !wakingActions[e.ObjectAttributes.Action] {
			return ignored(c, "gitlab", "issue_"+e.ObjectAttributes.Action)
		}
		return s.accept(c, "gitlab", models.IssueRef{
			Repo:   e.Project.PathWithNamespace,
			Number: e.ObjectAttributes.IID,
		})
	case *gitlab.MergeEvent:
		if !wakingActions[e.ObjectAttributes.Action] {
			return ignored(c, "gitlab", "merge_request_"+e.ObjectAttributes.Action)
		}
		return s.accept(c, "gitlab", models.IssueRef{
			Repo:   e.Project.PathWithNamespace,
			Number: e.ObjectAttributes.IID,
			Pull:   true,
		})
	}
	return ignored(c, "gitlab", "unsupported_event")
}
