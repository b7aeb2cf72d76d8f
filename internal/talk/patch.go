package talk

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWatermarkRegression means a patch tried to move LastSeen backwards.
	// It is an internal consistency failure, never an external condition.
	ErrWatermarkRegression = errors.New("watermark regression")
	// ErrRequestPending rejects a new request while another one is pending.
	ErrRequestPending = errors.New("request already pending")
	// ErrNoRequest rejects dispatch or result patches on an idle talk.
	ErrNoRequest = errors.New("no pending request")
	// ErrStaleResult rejects a result for a request that is no longer pending.
	ErrStaleResult = errors.New("result for another request")
)

// Dispatch stamps the pending request as handed to the runner.
type Dispatch struct {
	Job string
	At  time.Time
}

// Completion is the runner's verdict on the request with the given ID.
type Completion struct {
	RequestID int64
	Result    Result
}

// Patch is a typed mutation of a talk. Zero fields are left untouched.
// Apply runs the steps in field order.
type Patch struct {
	ClearRequest bool
	Request      *Request
	Dispatch     *Dispatch
	Completion   *Completion
	Archive      *ArchiveEntry

	LastSeen *int64
	Resume   *bool

	Shell      *Shell
	CloseShell bool

	Active *bool
}

// Ptr returns a pointer to v, for the optional fields of Patch.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return !p.ClearRequest && p.Request == nil && p.Dispatch == nil &&
		p.Completion == nil && p.Archive == nil && p.LastSeen == nil &&
		p.Resume == nil && p.Shell == nil && !p.CloseShell && p.Active == nil
}

// Apply mutates t, or leaves it unchanged and returns an error.
func (p Patch) Apply(t *Talk) error {
	next := *t

	if p.ClearRequest {
		next.Request = nil
	}
	if p.Request != nil {
		if next.Request != nil && !p.Request.Supersedes {
			return fmt.Errorf("%w: %s has request %d, got %d", ErrRequestPending, t.Name, next.Request.ID, p.Request.ID)
		}
		req := *p.Request
		req.Args = copyArgs(p.Request.Args)
		next.Request = &req
	}
	if p.Dispatch != nil {
		if next.Request == nil {
			return fmt.Errorf("dispatch on %s: %w", t.Name, ErrNoRequest)
		}
		req := *next.Request
		at := p.Dispatch.At
		req.Dispatched = &at
		req.Job = p.Dispatch.Job
		next.Request = &req
	}
	if p.Completion != nil {
		if next.Request == nil {
			return fmt.Errorf("result on %s: %w", t.Name, ErrNoRequest)
		}
		if next.Request.ID != p.Completion.RequestID {
			return fmt.Errorf("%w: %s is on request %d, got %d", ErrStaleResult, t.Name, next.Request.ID, p.Completion.RequestID)
		}
		req := *next.Request
		res := p.Completion.Result
		req.Result = &res
		next.Request = &req
	}
	if p.Archive != nil {
		next.Archive = append(append([]ArchiveEntry(nil), t.Archive...), *p.Archive)
	}
	if p.LastSeen != nil {
		if *p.LastSeen < next.LastSeen {
			return fmt.Errorf("%w: %s from %d to %d", ErrWatermarkRegression, t.Name, next.LastSeen, *p.LastSeen)
		}
		next.LastSeen = *p.LastSeen
	}
	if p.Resume != nil {
		next.Resume = *p.Resume
	}
	if p.CloseShell {
		next.Shell = nil
	}
	if p.Shell != nil {
		sh := *p.Shell
		next.Shell = &sh
	}
	if p.Active != nil {
		next.Active = *p.Active
	}

	*t = next
	return nil
}

func copyArgs(args map[string]string) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
