package automation

import (
	"context"
	"time"
)

// timeAbsoluteHandler implements the TimeAbsolute condition: hold the
// step until a wall-clock moment has passed. An unset time never holds.
type timeAbsoluteHandler struct {
	baseHandler
	now func() time.Time
}

func (h *timeAbsoluteHandler) Check(_ context.Context, impl Impl, _ *HandlerContext) (bool, error) {
	cfg := impl.(TimeAbsoluteImpl)
	if cfg.Time.IsZero() {
		return true, nil
	}
	return !h.now().Before(cfg.Time.Time()), nil
}

// timeElapsedHandler implements the TimeElapsed condition: hold the
// step until a duration has passed since a reference point.
type timeElapsedHandler struct {
	baseHandler
	now func() time.Time
}

func (h *timeElapsedHandler) Check(_ context.Context, impl Impl, hctx *HandlerContext) (bool, error) {
	cfg := impl.(TimeElapsedImpl)

	d := cfg.Duration.Std()
	if d <= 0 {
		return true, nil
	}

	start, err := elapsedStart(cfg, hctx)
	if err != nil {
		return false, err
	}
	return h.now().Sub(start) >= d, nil
}

// elapsedStart resolves the reference point of a TimeElapsed condition.
//
// StartProcess anchors on the first recorded result. StartStep anchors
// on the Created result of the current step occupancy, found by walking
// the history backwards; revisiting a step via a transition or jump
// restarts its clock. A history with no such boundary violates the
// engine's append discipline and is reported as an invariant error.
func elapsedStart(cfg TimeElapsedImpl, hctx *HandlerContext) (time.Time, error) {
	results := hctx.Process.Results

	if cfg.Start == StartProcess {
		if len(results) == 0 {
			return time.Time{}, &EngineInvariantError{
				ProcessID: hctx.Process.ID,
				Detail:    "elapsed condition evaluated with empty result history",
			}
		}
		return results[0].Date, nil
	}

	stepID := hctx.Result.StepID
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StepID != stepID {
			break
		}
		if results[i].Phase == PhaseCreated {
			return results[i].Date, nil
		}
	}

	return time.Time{}, &EngineInvariantError{
		ProcessID: hctx.Process.ID,
		Detail:    "no step entry boundary found for step " + stepID,
	}
}
