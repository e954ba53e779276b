package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Phase is the position of a result within a step's lifecycle.
// A step advances Created → Preconditions → Actions → Transitions;
// Finished and Invalid are terminal for the whole process.
type Phase string

const (
	PhaseCreated       Phase = "Created"
	PhasePreconditions Phase = "Preconditions"
	PhaseActions       Phase = "Actions"
	PhaseTransitions   Phase = "Transitions"
	PhaseFinished      Phase = "Finished"
	PhaseInvalid       Phase = "Invalid"
)

// Status is the activity state of a result.
// Only Active results are advanced by the engine.
type Status string

const (
	StatusActive   Status = "Active"
	StatusFinished Status = "Finished"
	StatusInvalid  Status = "Invalid"
)

// TaskStatus is the progress state of a Task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "Created"
	TaskStarted   TaskStatus = "Started"
	TaskDone      TaskStatus = "Done"
	TaskCancelled TaskStatus = "Cancelled"
)

// AllTaskStatuses returns all valid task statuses.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskCreated, TaskStarted, TaskDone, TaskCancelled}
}

// Template is the reusable, uninstantiated shape of a process.
// Step and item ids are stable within the template; instantiation
// replaces them all with fresh ids.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Steps []Step `json:"steps"`
}

// Process is a running instance of a template.
//
// Results is the append-only history of the instance: at most one
// active tail at a time, truncated to the most recent entries for
// storage hygiene but never reordered.
//
// Rev is the store's optimistic-concurrency tag. The engine treats it
// as opaque and always passes through the last-read value on save.
type Process struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Steps   []Step       `json:"steps"`
	Results []StepResult `json:"results"`
	Rev     int64        `json:"rev,omitempty"`
}

// LatestResult returns the most recent result, or nil for a fresh process.
func (p *Process) LatestResult() *StepResult {
	if len(p.Results) == 0 {
		return nil
	}
	return &p.Results[len(p.Results)-1]
}

// StepByID returns the step with the given id, or nil.
func (p *Process) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the position of a step id, or -1.
func (p *Process) StepIndex(id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Step is one stage of a process: gated by preconditions, executing
// actions, and evaluating transitions to decide the next step.
type Step struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Enabled       bool         `json:"enabled"`
	Preconditions []Item       `json:"preconditions"`
	Actions       []Item       `json:"actions"`
	Transitions   []Transition `json:"transitions"`
}

// Item is one precondition, action, or transition condition.
// Disabled items are skipped entirely; for conditions that means
// vacuously true.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Enabled bool   `json:"enabled"`
	Impl    Impl   `json:"impl"`
}

// UnmarshalJSON decodes the impl union by its type tag.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string          `json:"id"`
		Title   string          `json:"title"`
		Enabled bool            `json:"enabled"`
		Impl    json.RawMessage `json:"impl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	it.ID = raw.ID
	it.Title = raw.Title
	it.Enabled = raw.Enabled

	if len(raw.Impl) == 0 || string(raw.Impl) == "null" {
		it.Impl = nil
		return nil
	}

	impl, err := unmarshalImpl(raw.Impl)
	if err != nil {
		return err
	}
	it.Impl = impl
	return nil
}

// MarshalJSON encodes the impl union with its type tag injected.
func (it Item) MarshalJSON() ([]byte, error) {
	implJSON, err := marshalImpl(it.Impl)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID      string          `json:"id"`
		Title   string          `json:"title"`
		Enabled bool            `json:"enabled"`
		Impl    json.RawMessage `json:"impl"`
	}{it.ID, it.Title, it.Enabled, implJSON})
}

// Transition decides where a step goes once its actions are done.
// The first enabled transition whose conditions all hold is taken.
type Transition struct {
	ID         string `json:"id"`
	Enabled    bool   `json:"enabled"`
	Conditions []Item `json:"conditions"`
	Next       Next   `json:"next"`
}

// Next is the destination of a transition: advance to the next step by
// index (true), end the process (false), or jump to a named step id.
type Next struct {
	// IsStep selects the step-id form; otherwise Advance applies.
	IsStep  bool
	StepID  string
	Advance bool
}

// NextAdvance returns the "advance by index" destination.
func NextAdvance() Next { return Next{Advance: true} }

// NextFinish returns the "end process" destination.
func NextFinish() Next { return Next{Advance: false} }

// NextStep returns a jump-to-step destination.
func NextStep(id string) Next { return Next{IsStep: true, StepID: id} }

// UnmarshalJSON accepts a JSON bool or a step-id string.
func (n *Next) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*n = Next{Advance: v}
		return nil
	case string:
		*n = Next{IsStep: true, StepID: v}
		return nil
	default:
		return fmt.Errorf("transition next must be bool or step id, got %T", raw)
	}
}

// MarshalJSON emits the bool or string form.
func (n Next) MarshalJSON() ([]byte, error) {
	if n.IsStep {
		return json.Marshal(n.StepID)
	}
	return json.Marshal(n.Advance)
}

// StepResult is one entry in a process's history. Created by the
// engine only; immutable once appended.
type StepResult struct {
	ID     string    `json:"id"`
	StepID string    `json:"stepId"`
	Phase  Phase     `json:"phase"`
	Status Status    `json:"status"`
	Date   time.Time `json:"date"`
	Error  string    `json:"error,omitempty"`
}

// StepJump is an externally supplied instruction to force a process to
// a given step. Consumed at most once by the engine tick.
type StepJump struct {
	ProcessID string `json:"processId"`
	StepID    string `json:"stepId"`
	// Phase of the forced result; empty defaults to Created.
	Phase Phase `json:"phase,omitempty"`
}

// Task is a human-completable unit of work created or consulted by
// process items. Tasks are not owned by a single process: they are
// queried by (processId, ref).
type Task struct {
	ID        string     `json:"id"`
	Ref       string     `json:"ref"`
	Title     string     `json:"title"`
	Message   string     `json:"message,omitempty"`
	Status    TaskStatus `json:"status"`
	CreatedBy string     `json:"createdBy"`
	ProcessID string     `json:"processId,omitempty"`
	StepID    string     `json:"stepId,omitempty"`
	Rev       int64      `json:"rev,omitempty"`
}

// Task creators recorded in CreatedBy.
const (
	TaskByUser   = "User"
	TaskByAction = "Action"
)

// Timestamp is a point in time that unmarshals from either an RFC3339
// string or an epoch-milliseconds number, matching what UIs publish.
type Timestamp time.Time

// UnmarshalJSON accepts RFC3339 strings and epoch-millisecond numbers.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*t = Timestamp(time.Time{})
		return nil
	case float64:
		*t = Timestamp(time.UnixMilli(int64(v)).UTC())
		return nil
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
		*t = Timestamp(parsed)
		return nil
	default:
		return fmt.Errorf("timestamp must be string or number, got %s", strconv.Quote(string(data)))
	}
}

// MarshalJSON emits the RFC3339 form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(tt.Format(time.RFC3339))
}

// Time returns the timestamp as a time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

// IsZero reports whether no time is set.
func (t Timestamp) IsZero() bool { return time.Time(t).IsZero() }

// DeepCopy creates a complete independent copy of the Process.
// All slice and map fields are cloned so modifications to the copy
// do not affect the original.
func (p *Process) DeepCopy() *Process {
	if p == nil {
		return nil
	}

	cpy := *p

	if p.Steps != nil {
		cpy.Steps = make([]Step, len(p.Steps))
		for i := range p.Steps {
			cpy.Steps[i] = *p.Steps[i].DeepCopy()
		}
	}
	if p.Results != nil {
		cpy.Results = make([]StepResult, len(p.Results))
		copy(cpy.Results, p.Results)
	}

	return &cpy
}

// DeepCopy creates a complete independent copy of the Step.
func (s *Step) DeepCopy() *Step {
	if s == nil {
		return nil
	}

	cpy := *s
	cpy.Preconditions = copyItems(s.Preconditions)
	cpy.Actions = copyItems(s.Actions)

	if s.Transitions != nil {
		cpy.Transitions = make([]Transition, len(s.Transitions))
		for i, tr := range s.Transitions {
			cpy.Transitions[i] = tr
			cpy.Transitions[i].Conditions = copyItems(tr.Conditions)
		}
	}

	return &cpy
}

func copyItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	cpy := make([]Item, len(items))
	for i, it := range items {
		cpy[i] = it
		if it.Impl != nil {
			cpy[i].Impl = it.Impl.deepCopy()
		}
	}
	return cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}
