package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/runner"
	"github.com/shipbot/internal/talk"
)

const claimsKey = "runner_claims"

// requireRunner authenticates runner callbacks with the token issued at
// dispatch. A token is only good for its own talk.
func requireRunner(tokens *runner.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tokens == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Runner callbacks are not configured")
			}
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}
			claims, err := tokens.Validate(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}
			if claims.Talk != c.Param("name") {
				return echo.NewHTTPError(http.StatusForbidden, "Token was issued for another talk")
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// ResultRequest is the body of a runner's result callback.
type ResultRequest struct {
	Success    bool     `json:"success"`
	Stopped    bool     `json:"stopped"`
	ElapsedMs  int64    `json:"elapsed_ms"`
	Highlights []string `json:"highlights"`
	Tail       string   `json:"tail"`
	LogURL     string   `json:"log_url"`
}

// ShellRequest opens (Open=true) or closes the talk's shell.
type ShellRequest struct {
	Open  bool   `json:"open"`
	ID    string `json:"id"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Login string `json:"login"`
}

func storeError(c echo.Context, name string, err error) error {
	switch {
	case errors.Is(err, talk.ErrTalkNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "talk_not_found"})
	case errors.Is(err, talk.ErrStaleResult), errors.Is(err, talk.ErrNoRequest):
		return c.JSON(http.StatusConflict, map[string]string{"error": "stale_request", "details": err.Error()})
	}
	log.Error().Err(err).Str("talk", name).Msg("talk update failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
}

func (s *Server) getTalk(c echo.Context) error {
	name := c.Param("name")
	t, err := s.store.Get(c.Request().Context(), name)
	if err != nil {
		return storeError(c, name, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) postResult(c echo.Context) error {
	name := c.Param("name")
	claims := c.Get(claimsKey).(*runner.Claims)

	var req ResultRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_body"})
	}
	ctx := c.Request().Context()
	_, err := s.store.Modify(ctx, name, talk.Patch{
		Completion: &talk.Completion{
			RequestID: claims.RequestID,
			Result: talk.Result{
				Success:    req.Success,
				Stopped:    req.Stopped,
				Elapsed:    time.Duration(req.ElapsedMs) * time.Millisecond,
				Highlights: req.Highlights,
				Tail:       req.Tail,
				LogURL:     req.LogURL,
				Finished:   s.now().UTC(),
			},
		},
		Resume: talk.Ptr(true),
	})
	if err != nil {
		return storeError(c, name, err)
	}
	log.Info().Str("talk", name).Int64("request", claims.RequestID).Bool("success", req.Success).Msg("result recorded")
	s.schedule(ctx, name)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "recorded",
		"talk":    name,
		"request": claims.RequestID,
	})
}

func (s *Server) putShell(c echo.Context) error {
	name := c.Param("name")

	var req ShellRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_body"})
	}
	patch := talk.Patch{CloseShell: true, Resume: talk.Ptr(true)}
	if req.Open {
		if req.Host == "" || req.Port <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "host_and_port_required"})
		}
		patch = talk.Patch{Shell: &talk.Shell{
			ID:     req.ID,
			Host:   req.Host,
			Port:   req.Port,
			Login:  req.Login,
			Opened: s.now().UTC(),
		}}
	}
	ctx := c.Request().Context()
	t, err := s.store.Modify(ctx, name, patch)
	if err != nil {
		return storeError(c, name, err)
	}
	if !req.Open {
		// the repository lock may be released now
		s.schedule(ctx, name)
	}
	return c.JSON(http.StatusOK, t)
}
