package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/talk"
)

// Dispatcher hands a request over to whatever executes it and returns the
// job id it was given.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *talk.Talk, req *talk.Request) (string, error)
}

// StartsRequest dispatches the pending request of a talk, once.
type StartsRequest struct {
	runner Dispatcher
	store  talk.Store
}

func NewStartsRequest(runner Dispatcher, store talk.Store) *StartsRequest {
	return &StartsRequest{runner: runner, store: store}
}

func (a *StartsRequest) Name() string { return "starts-request" }

func (a *StartsRequest) Run(ctx context.Context, t *talk.Talk) (*talk.Talk, error) {
	req := t.Request
	if req == nil || req.Dispatched != nil || req.Result != nil {
		return t, nil
	}
	job, err := a.runner.Dispatch(ctx, t, req)
	if err != nil {
		return t, fmt.Errorf("failed to dispatch request %d: %w", req.ID, err)
	}
	updated, err := a.store.Modify(ctx, t.Name, talk.Patch{
		Dispatch: &talk.Dispatch{Job: job, At: time.Now().UTC()},
	})
	if err != nil {
		return t, fmt.Errorf("failed to record dispatch of request %d: %w", req.ID, err)
	}
	log.Info().Str("talk", t.Name).Int64("request", req.ID).Str("type", req.Type).Str("job", job).
		Msg("request dispatched")
	return updated, nil
}
