package automation

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HandlerContext carries the process state an item handler may consult.
// Handlers must treat the process as read-only; all state changes go
// through their own side effects (tasks, blocks, webhooks).
type HandlerContext struct {
	Process *Process
	Step    *Step
	// Result is the active result being advanced.
	Result *StepResult
	// Now is the engine's clock for this evaluation.
	Now time.Time
}

// Handler evaluates one impl type.
//
// Prepare runs once when a step is entered, for every enabled item in
// the step regardless of role. Check evaluates the item as a condition;
// Apply executes it as an action. Handlers for condition-only impls
// reject Apply and vice versa.
type Handler interface {
	// Prepare performs one-time setup when the owning step is entered.
	Prepare(ctx context.Context, impl Impl, hctx *HandlerContext) error

	// Check reports whether the condition currently holds.
	Check(ctx context.Context, impl Impl, hctx *HandlerContext) (bool, error)

	// Apply executes the item as an action.
	Apply(ctx context.Context, impl Impl, hctx *HandlerContext) error
}

// errNotCondition and errNotAction are returned by handlers asked to
// play a role their impl type does not support. Reaching them means a
// template validation gap, not a runtime condition.
var (
	errNotCondition = fmt.Errorf("automation: impl is not a condition")
	errNotAction    = fmt.Errorf("automation: impl is not an action")
)

// baseHandler provides default no-op Prepare and role rejections.
// Concrete handlers embed it and override what they support.
type baseHandler struct{}

func (baseHandler) Prepare(context.Context, Impl, *HandlerContext) error {
	return nil
}

func (baseHandler) Check(context.Context, Impl, *HandlerContext) (bool, error) {
	return false, errNotCondition
}

func (baseHandler) Apply(context.Context, Impl, *HandlerContext) error {
	return errNotAction
}

// Registry maps impl type tags to their handlers.
//
// The map is closed: it is fully populated at construction and never
// mutated afterwards, so lookups need no locking. Verify() checks the
// map against the known impl set and is called at startup; a missing
// handler is a programming error that must fail boot, not a tick.
type Registry struct {
	handlers map[string]Handler
	logger   Logger
}

// RegistryDeps are the collaborators the built-in handlers need.
type RegistryDeps struct {
	// Cache provides the live block state for BlockValue conditions.
	Cache BlockCache

	// Writer applies BlockPatch actions to device services.
	Writer BlockWriter

	// Tasks is the task store used by the Task* handlers.
	Tasks TaskStore

	// Sandbox runs JSCheck and JSApply scripts.
	Sandbox ScriptRunner

	// Webhooks issues Webhook requests. Nil falls back to a client
	// with a sane timeout.
	Webhooks HTTPDoer

	// Now is the clock used by time-based handlers. Nil uses time.Now.
	Now func() time.Time
}

// NewRegistry creates a registry with the full built-in handler set.
func NewRegistry(deps RegistryDeps) *Registry {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   noopLogger{},
	}

	r.handlers[ImplBlockValue] = &blockValueHandler{cache: deps.Cache}
	r.handlers[ImplBlockPatch] = &blockPatchHandler{cache: deps.Cache, writer: deps.Writer}
	r.handlers[ImplTaskStatus] = &taskStatusHandler{tasks: deps.Tasks}
	r.handlers[ImplTaskCreate] = &taskCreateHandler{tasks: deps.Tasks}
	r.handlers[ImplTaskEdit] = &taskEditHandler{tasks: deps.Tasks}
	r.handlers[ImplTimeAbsolute] = &timeAbsoluteHandler{now: now}
	r.handlers[ImplTimeElapsed] = &timeElapsedHandler{now: now}
	r.handlers[ImplWebhook] = newWebhookHandler(deps.Webhooks)
	r.handlers[ImplJSCheck] = &jsCheckHandler{sandbox: deps.Sandbox}
	r.handlers[ImplJSApply] = &jsApplyHandler{sandbox: deps.Sandbox}

	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Verify checks that every known impl type has a handler and that no
// handler is registered for an unknown type. Called once at startup.
func (r *Registry) Verify() error {
	known := make(map[string]bool, len(ImplTypes()))
	for _, t := range ImplTypes() {
		known[t] = true
		if _, ok := r.handlers[t]; !ok {
			return fmt.Errorf("automation: no handler registered for impl type %q", t)
		}
	}

	extra := make([]string, 0)
	for t := range r.handlers {
		if !known[t] {
			extra = append(extra, t)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("automation: handlers registered for unknown impl types %v", extra)
	}

	r.logger.Debug("handler registry verified", "handlers", len(r.handlers))
	return nil
}

// handler returns the handler for an impl, or an error for types
// outside the closed union.
func (r *Registry) handler(impl Impl) (Handler, error) {
	if impl == nil {
		return nil, fmt.Errorf("%w: item has no impl", ErrUnknownImplType)
	}
	h, ok := r.handlers[impl.ImplType()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImplType, impl.ImplType())
	}
	return h, nil
}

// Prepare runs the item's one-time setup.
func (r *Registry) Prepare(ctx context.Context, item *Item, hctx *HandlerContext) error {
	h, err := r.handler(item.Impl)
	if err != nil {
		return itemError(item, err)
	}
	if err := h.Prepare(ctx, item.Impl, hctx); err != nil {
		return itemError(item, err)
	}
	return nil
}

// Check evaluates the item as a condition.
func (r *Registry) Check(ctx context.Context, item *Item, hctx *HandlerContext) (bool, error) {
	h, err := r.handler(item.Impl)
	if err != nil {
		return false, itemError(item, err)
	}
	ok, err := h.Check(ctx, item.Impl, hctx)
	if err != nil {
		return false, itemError(item, err)
	}
	return ok, nil
}

// Apply executes the item as an action.
func (r *Registry) Apply(ctx context.Context, item *Item, hctx *HandlerContext) error {
	h, err := r.handler(item.Impl)
	if err != nil {
		return itemError(item, err)
	}
	if err := h.Apply(ctx, item.Impl, hctx); err != nil {
		return itemError(item, err)
	}
	return nil
}

// itemError attributes a handler failure to its item.
func itemError(item *Item, err error) error {
	implType := ""
	if item.Impl != nil {
		implType = item.Impl.ImplType()
	}
	return &HandlerError{
		ItemID:    item.ID,
		ItemTitle: item.Title,
		ImplType:  implType,
		Err:       err,
	}
}
