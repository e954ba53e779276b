package automation

import (
	"encoding/json"
	"fmt"

	"github.com/hopworks/brewpilot-core/internal/eventcache"
)

// Impl type tags. The set is closed: the registry refuses to start if
// any tag here lacks a handler.
const (
	ImplBlockValue   = "BlockValue"
	ImplBlockPatch   = "BlockPatch"
	ImplTaskStatus   = "TaskStatus"
	ImplTaskCreate   = "TaskCreate"
	ImplTaskEdit     = "TaskEdit"
	ImplTimeAbsolute = "TimeAbsolute"
	ImplTimeElapsed  = "TimeElapsed"
	ImplWebhook      = "Webhook"
	ImplJSCheck      = "JSCheck"
	ImplJSApply      = "JSApply"
)

// Impl is the configuration payload of an Item. Concrete types form a
// closed union discriminated by a "type" tag in JSON.
type Impl interface {
	// ImplType returns the union tag.
	ImplType() string

	deepCopy() Impl
}

// ImplTypes returns every known impl tag.
func ImplTypes() []string {
	return []string{
		ImplBlockValue,
		ImplBlockPatch,
		ImplTaskStatus,
		ImplTaskCreate,
		ImplTaskEdit,
		ImplTimeAbsolute,
		ImplTimeElapsed,
		ImplWebhook,
		ImplJSCheck,
		ImplJSApply,
	}
}

// Comparison operators accepted by BlockValueImpl.
const (
	OpLT = "lt"
	OpLE = "le"
	OpEQ = "eq"
	OpNE = "ne"
	OpGE = "ge"
	OpGT = "gt"
)

// BlockValueImpl compares a field of a cached block against a value.
// With BlockID or ServiceID unset the condition is vacuously true, so
// half-configured items never block a step.
type BlockValueImpl struct {
	ServiceID string `json:"serviceId"`
	BlockID   string `json:"blockId"`
	BlockType string `json:"blockType,omitempty"`
	Key       string `json:"key"`
	Operator  string `json:"operator"`
	Value     any    `json:"value"`
}

func (BlockValueImpl) ImplType() string { return ImplBlockValue }

func (i BlockValueImpl) deepCopy() Impl {
	i.Value = deepCopyValue(i.Value)
	return i
}

// BlockPatchImpl merges data into an existing block and writes it back
// to the owning device service.
type BlockPatchImpl struct {
	ServiceID string         `json:"serviceId"`
	BlockID   string         `json:"blockId"`
	BlockType string         `json:"blockType,omitempty"`
	Data      map[string]any `json:"data"`
}

func (BlockPatchImpl) ImplType() string { return ImplBlockPatch }

func (i BlockPatchImpl) deepCopy() Impl {
	i.Data = deepCopyMap(i.Data)
	return i
}

// TaskStatusImpl waits for all tasks matching a ref to reach a status.
// Its prepare step ensures at least one such task exists.
type TaskStatusImpl struct {
	Ref    string     `json:"ref"`
	Status TaskStatus `json:"status"`
	// ResetStatus, when set, is applied to matching tasks during
	// prepare so a revisited step starts waiting from scratch.
	ResetStatus TaskStatus `json:"resetStatus,omitempty"`
}

func (TaskStatusImpl) ImplType() string { return ImplTaskStatus }

func (i TaskStatusImpl) deepCopy() Impl { return i }

// TaskCreateImpl creates a task during the step's prepare phase.
type TaskCreateImpl struct {
	Ref     string `json:"ref"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

func (TaskCreateImpl) ImplType() string { return ImplTaskCreate }

func (i TaskCreateImpl) deepCopy() Impl { return i }

// TaskEditImpl updates all tasks matching a ref, creating one when none
// exist. Only explicitly provided fields are applied.
type TaskEditImpl struct {
	Ref     string      `json:"ref"`
	Title   *string     `json:"title,omitempty"`
	Message *string     `json:"message,omitempty"`
	Status  *TaskStatus `json:"status,omitempty"`
}

func (TaskEditImpl) ImplType() string { return ImplTaskEdit }

func (i TaskEditImpl) deepCopy() Impl {
	i.Title = copyPtr(i.Title)
	i.Message = copyPtr(i.Message)
	i.Status = copyPtr(i.Status)
	return i
}

// TimeAbsoluteImpl holds a step until a wall-clock time has passed.
// An unset time never blocks.
type TimeAbsoluteImpl struct {
	Time Timestamp `json:"time"`
}

func (TimeAbsoluteImpl) ImplType() string { return ImplTimeAbsolute }

func (i TimeAbsoluteImpl) deepCopy() Impl { return i }

// Reference points for TimeElapsedImpl.
const (
	StartProcess = "Process"
	StartStep    = "Step"
)

// TimeElapsedImpl holds a step until a duration has passed since the
// process started or the current step was entered.
type TimeElapsedImpl struct {
	Duration eventcache.Duration `json:"duration"`
	// Start is StartProcess or StartStep; empty defaults to StartStep.
	Start string `json:"start,omitempty"`
}

func (TimeElapsedImpl) ImplType() string { return ImplTimeElapsed }

func (i TimeElapsedImpl) deepCopy() Impl { return i }

// WebhookImpl sends an HTTP request as a step action.
type WebhookImpl struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (WebhookImpl) ImplType() string { return ImplWebhook }

func (i WebhookImpl) deepCopy() Impl {
	if i.Headers != nil {
		headers := make(map[string]string, len(i.Headers))
		for k, v := range i.Headers {
			headers[k] = v
		}
		i.Headers = headers
	}
	return i
}

// JSCheckImpl evaluates a script as a condition. The condition holds
// only when the script returns exactly true.
type JSCheckImpl struct {
	Body string `json:"body"`
}

func (JSCheckImpl) ImplType() string { return ImplJSCheck }

func (i JSCheckImpl) deepCopy() Impl { return i }

// JSApplyImpl runs a script as an action. A script error fails the step.
type JSApplyImpl struct {
	Body string `json:"body"`
}

func (JSApplyImpl) ImplType() string { return ImplJSApply }

func (i JSApplyImpl) deepCopy() Impl { return i }

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// unmarshalImpl decodes a tagged impl payload into its concrete type.
func unmarshalImpl(data []byte) (Impl, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("automation: invalid impl: %w", err)
	}

	var impl Impl
	switch tag.Type {
	case ImplBlockValue:
		impl = &BlockValueImpl{}
	case ImplBlockPatch:
		impl = &BlockPatchImpl{}
	case ImplTaskStatus:
		impl = &TaskStatusImpl{}
	case ImplTaskCreate:
		impl = &TaskCreateImpl{}
	case ImplTaskEdit:
		impl = &TaskEditImpl{}
	case ImplTimeAbsolute:
		impl = &TimeAbsoluteImpl{}
	case ImplTimeElapsed:
		impl = &TimeElapsedImpl{}
	case ImplWebhook:
		impl = &WebhookImpl{}
	case ImplJSCheck:
		impl = &JSCheckImpl{}
	case ImplJSApply:
		impl = &JSApplyImpl{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownImplType, tag.Type)
	}

	if err := json.Unmarshal(data, impl); err != nil {
		return nil, fmt.Errorf("automation: invalid %s impl: %w", tag.Type, err)
	}
	return derefImpl(impl), nil
}

// marshalImpl encodes an impl with its type tag injected.
func marshalImpl(impl Impl) (json.RawMessage, error) {
	if impl == nil {
		return json.RawMessage("null"), nil
	}

	raw, err := json.Marshal(impl)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = impl.ImplType()
	return json.Marshal(fields)
}

// derefImpl converts the pointer used for decoding back to the value
// form the rest of the package works with.
func derefImpl(impl Impl) Impl {
	switch v := impl.(type) {
	case *BlockValueImpl:
		return *v
	case *BlockPatchImpl:
		return *v
	case *TaskStatusImpl:
		return *v
	case *TaskCreateImpl:
		return *v
	case *TaskEditImpl:
		return *v
	case *TimeAbsoluteImpl:
		return *v
	case *TimeElapsedImpl:
		return *v
	case *WebhookImpl:
		return *v
	case *JSCheckImpl:
		return *v
	case *JSApplyImpl:
		return *v
	default:
		return impl
	}
}
