package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/hopworks/brewpilot-core/internal/eventcache"
	"github.com/hopworks/brewpilot-core/internal/spark"
)

// DefaultTimeout bounds script execution when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// interruptReason is the value passed to the runtime interrupt on timeout.
const interruptReason = "script timeout"

// wrapperLineOffset is the number of lines the function wrapper adds
// before the user's script. Reported error lines subtract it so they
// refer to the script as the user wrote it.
const wrapperLineOffset = 1

// evalLineRegex extracts the source line from a script exception stack.
var evalLineRegex = regexp.MustCompile(`<eval>:(\d+):`)

// BlockSource provides the cached bus state a script may read, and the
// bus it may publish to. Satisfied by *eventcache.Cache.
type BlockSource interface {
	GetBlocks(serviceID string) []spark.Block
	Messages() map[string]eventcache.Message
	Publish(topic string, payload any) error
}

// BlockWriter applies block changes to a device service.
// Satisfied by *spark.Client.
type BlockWriter interface {
	WriteBlock(ctx context.Context, block *spark.Block) (*spark.Block, error)
}

// ScriptError describes a script failure.
// Line refers to the user's script; 0 means the failing line is
// unknown, which includes scripts cut off by the timeout.
type ScriptError struct {
	Message string `json:"message"`
	Line    int    `json:"line"`
}

// Result is the outcome of one script run.
type Result struct {
	// ReturnValue is the sanitized value the script returned, nil if none.
	ReturnValue any `json:"returnValue"`

	// Messages holds everything the script printed, in order.
	Messages []any `json:"messages"`

	// Error is set when the script threw or timed out. Messages printed
	// before the failure are still present.
	Error *ScriptError `json:"error,omitempty"`

	// Date is when the run completed.
	Date time.Time `json:"date"`
}

// Sandbox runs scripts one at a time against live cached state.
//
// The mutex covers the entire run: scripts may write blocks and publish
// events, so two scripts must never observe each other mid-flight.
type Sandbox struct {
	source  BlockSource
	writer  BlockWriter
	timeout time.Duration

	mu sync.Mutex
}

// New creates a Sandbox. A non-positive timeout falls back to DefaultTimeout.
func New(source BlockSource, writer BlockWriter, timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{
		source:  source,
		writer:  writer,
		timeout: timeout,
	}
}

// Run executes a script body and returns its structured result.
//
// The script runs on a fresh runtime with the helper API installed.
// Script failures are reported in the result, not as a Go error; the
// error return covers only setup problems.
//
// A timed-out run releases the mutex normally: the interrupt makes the
// runtime return, the deferred unlock fires, and the poisoned runtime
// is left for the garbage collector.
func (s *Sandbox) Run(ctx context.Context, script string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &Result{Messages: []any{}}

	vm := goja.New()
	if err := s.install(ctx, vm, result); err != nil {
		return nil, err
	}

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(interruptReason)
	})
	defer timer.Stop()

	// Wrap as a function body so top-level return works.
	wrapped := "(function() {\n" + script + "\n})()"

	value, err := vm.RunString(wrapped)
	result.Date = time.Now()

	if err != nil {
		result.Error = toScriptError(err)
		return result, nil
	}

	result.ReturnValue = sanitize(value.Export())
	return result, nil
}

// install sets up the script's global API on a fresh runtime.
func (s *Sandbox) install(ctx context.Context, vm *goja.Runtime, result *Result) error {
	blocks := s.source.GetBlocks("")
	if err := vm.Set("blocks", sanitize(blocks)); err != nil {
		return fmt.Errorf("sandbox: installing blocks: %w", err)
	}
	if err := vm.Set("events", sanitize(s.source.Messages())); err != nil {
		return fmt.Errorf("sandbox: installing events: %w", err)
	}

	api := map[string]any{
		"print": func(call goja.FunctionCall) goja.Value {
			for _, arg := range call.Arguments {
				result.Messages = append(result.Messages, sanitize(arg.Export()))
			}
			return goja.Undefined()
		},

		"getBlock": func(serviceID, blockID string) any {
			for _, b := range s.source.GetBlocks(serviceID) {
				if b.ID == blockID {
					return sanitize(b)
				}
			}
			return nil
		},

		"getBlockField": func(serviceID, blockID, field string) any {
			for _, b := range s.source.GetBlocks(serviceID) {
				if b.ID != blockID {
					continue
				}
				if v, ok := spark.FieldByKey(b.Data, field); ok {
					return sanitize(v)
				}
				return nil
			}
			return nil
		},

		"saveBlock": func(raw map[string]any) any {
			block, err := blockFromScript(raw)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			written, err := s.writer.WriteBlock(ctx, block)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return sanitize(written)
		},

		"publishEvent": func(topic string, data any) any {
			if err := s.source.Publish(topic, sanitize(data)); err != nil {
				panic(vm.NewGoError(err))
			}
			return nil
		},

		"qty": func(value float64, unit string) any {
			return spark.NewQuantity(value, unit)
		},
	}

	for name, fn := range api {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("sandbox: installing %s: %w", name, err)
		}
	}

	return nil
}

// blockFromScript converts a script-provided object into a Block.
func blockFromScript(raw map[string]any) (*spark.Block, error) {
	if raw == nil {
		return nil, errors.New("saveBlock: block is required")
	}

	block := &spark.Block{}
	block.ID, _ = raw["id"].(string)
	block.ServiceID, _ = raw["serviceId"].(string)
	block.Type, _ = raw["type"].(string)
	if data, ok := raw["data"].(map[string]any); ok {
		block.Data = data
	}

	if block.ID == "" || block.ServiceID == "" {
		return nil, errors.New("saveBlock: block must have id and serviceId")
	}
	return block, nil
}

// toScriptError converts a runtime error into a ScriptError.
//
// Interrupts (timeouts) report line 0. Thrown exceptions report the
// line parsed from the stack, adjusted for the wrapper.
func toScriptError(err error) *ScriptError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ScriptError{
			Message: interruptReason,
			Line:    0,
		}
	}

	se := &ScriptError{Message: err.Error(), Line: 0}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		se.Message = exception.Error()
	}

	if m := evalLineRegex.FindStringSubmatch(se.Message); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil {
			se.Line = line - wrapperLineOffset
		}
	}

	return se
}

// sanitize forces a value through a JSON round-trip.
//
// Script values may hold runtime-internal types; Go values may hold
// structs the script should only see as plain objects. The round-trip
// flattens both to JSON primitives, maps and slices. Unserializable
// values become nil.
func sanitize(v any) any {
	if v == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
