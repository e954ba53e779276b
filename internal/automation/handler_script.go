package automation

import (
	"context"
	"fmt"

	"github.com/hopworks/brewpilot-core/internal/sandbox"
)

// ScriptRunner executes sandboxed scripts. Satisfied by *sandbox.Sandbox.
type ScriptRunner interface {
	Run(ctx context.Context, script string) (*sandbox.Result, error)
}

// jsCheckHandler implements the JSCheck condition.
//
// The condition holds only when the script returns exactly true. Any
// other return value, and any script error, reads as "not yet": a
// broken condition script holds its step rather than failing the
// process, and the script can be fixed while the process waits.
type jsCheckHandler struct {
	baseHandler
	sandbox ScriptRunner
}

func (h *jsCheckHandler) Check(ctx context.Context, impl Impl, _ *HandlerContext) (bool, error) {
	cfg := impl.(JSCheckImpl)

	result, err := h.sandbox.Run(ctx, cfg.Body)
	if err != nil {
		return false, err
	}
	if result.Error != nil {
		return false, nil
	}

	v, ok := result.ReturnValue.(bool)
	return ok && v, nil
}

// jsApplyHandler implements the JSApply action. Unlike JSCheck, a
// script error here fails the step: actions have side effects and a
// half-applied script must surface, not silently retry.
type jsApplyHandler struct {
	baseHandler
	sandbox ScriptRunner
}

func (h *jsApplyHandler) Apply(ctx context.Context, impl Impl, _ *HandlerContext) error {
	cfg := impl.(JSApplyImpl)

	result, err := h.sandbox.Run(ctx, cfg.Body)
	if err != nil {
		return err
	}
	if result.Error != nil {
		if result.Error.Line > 0 {
			return fmt.Errorf("script failed at line %d: %s", result.Error.Line, result.Error.Message)
		}
		return fmt.Errorf("script failed: %s", result.Error.Message)
	}
	return nil
}
