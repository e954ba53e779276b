package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hopworks/brewpilot-core/internal/eventcache"
	"github.com/hopworks/brewpilot-core/internal/spark"
)

// mockSource implements BlockSource for testing.
type mockSource struct {
	blocks    []spark.Block
	messages  map[string]eventcache.Message
	published []publishedEvent

	publishErr error
}

type publishedEvent struct {
	topic   string
	payload any
}

func (m *mockSource) GetBlocks(serviceID string) []spark.Block {
	if serviceID == "" {
		return m.blocks
	}
	var out []spark.Block
	for _, b := range m.blocks {
		if b.ServiceID == serviceID {
			out = append(out, b)
		}
	}
	return out
}

func (m *mockSource) Messages() map[string]eventcache.Message {
	return m.messages
}

func (m *mockSource) Publish(topic string, payload any) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedEvent{topic: topic, payload: payload})
	return nil
}

// mockWriter implements BlockWriter for testing.
type mockWriter struct {
	written  []*spark.Block
	writeErr error
}

func (m *mockWriter) WriteBlock(_ context.Context, block *spark.Block) (*spark.Block, error) {
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	m.written = append(m.written, block)
	return block, nil
}

func testSource() *mockSource {
	return &mockSource{
		blocks: []spark.Block{
			{
				ID:        "kettle-pid",
				ServiceID: "spark-one",
				Type:      "Pid",
				Data: map[string]any{
					"enabled":       true,
					"setting[degC]": 65.0,
				},
			},
			{
				ID:        "fridge-sensor",
				ServiceID: "spark-two",
				Type:      "TempSensorOneWire",
				Data: map[string]any{
					"value": map[string]any{
						"__bloxtype": "Quantity",
						"value":      4.2,
						"unit":       "degC",
					},
				},
			},
		},
		messages: map[string]eventcache.Message{
			"brewcast/state/tilt": {
				Key:  "tilt",
				Type: "Tilt.state",
				Data: map[string]any{"temp": 20.5},
			},
		},
	}
}

func newTestSandbox() (*Sandbox, *mockSource, *mockWriter) {
	source := testSource()
	writer := &mockWriter{}
	return New(source, writer, time.Second), source, writer
}

// =============================================================================
// Return values
// =============================================================================

func TestRunReturnValue(t *testing.T) {
	sb, _, _ := newTestSandbox()

	tests := []struct {
		name     string
		script   string
		expected any
	}{
		{"True", "return true;", true},
		{"False", "return false;", false},
		{"Number", "return 1 + 2;", float64(3)},
		{"String", "return 'hello';", "hello"},
		{"NoReturn", "const x = 1;", nil},
		{"Null", "return null;", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sb.Run(context.Background(), tt.script)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Error != nil {
				t.Fatalf("Run() script error = %v", result.Error)
			}
			if result.ReturnValue != tt.expected {
				t.Errorf("ReturnValue = %v (%T), want %v", result.ReturnValue, result.ReturnValue, tt.expected)
			}
		})
	}
}

func TestRunReturnsObject(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), "return {a: 1, b: [true, 'x']};")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	obj, ok := result.ReturnValue.(map[string]any)
	if !ok {
		t.Fatalf("ReturnValue = %T, want map", result.ReturnValue)
	}
	if obj["a"] != float64(1) {
		t.Errorf("a = %v, want 1", obj["a"])
	}
	arr, ok := obj["b"].([]any)
	if !ok || len(arr) != 2 || arr[0] != true || arr[1] != "x" {
		t.Errorf("b = %v, want [true x]", obj["b"])
	}
}

func TestRunSetsDate(t *testing.T) {
	sb, _, _ := newTestSandbox()

	before := time.Now()
	result, err := sb.Run(context.Background(), "return 1;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Date.Before(before) {
		t.Errorf("Date = %v, want >= %v", result.Date, before)
	}
}

// =============================================================================
// Print capture
// =============================================================================

func TestRunPrint(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		print('first');
		print(42, {nested: true});
		return null;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error != nil {
		t.Fatalf("script error = %v", result.Error)
	}

	if len(result.Messages) != 3 {
		t.Fatalf("Messages = %v, want 3 entries", result.Messages)
	}
	if result.Messages[0] != "first" {
		t.Errorf("Messages[0] = %v, want first", result.Messages[0])
	}
	if result.Messages[1] != float64(42) {
		t.Errorf("Messages[1] = %v, want 42", result.Messages[1])
	}
	obj, ok := result.Messages[2].(map[string]any)
	if !ok || obj["nested"] != true {
		t.Errorf("Messages[2] = %v, want nested object", result.Messages[2])
	}
}

func TestRunPrintSurvivesError(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		print('before the crash');
		undefinedFunction();
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Error == nil {
		t.Fatal("expected script error")
	}
	if len(result.Messages) != 1 || result.Messages[0] != "before the crash" {
		t.Errorf("Messages = %v, want messages printed before failure", result.Messages)
	}
}

// =============================================================================
// Errors and timeout
// =============================================================================

func TestRunScriptErrorLine(t *testing.T) {
	sb, _, _ := newTestSandbox()

	// The failing call is on script line 2.
	result, err := sb.Run(context.Background(), "const x = 1;\nundefinedFunction();\nreturn x;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Error == nil {
		t.Fatal("expected script error")
	}
	if result.Error.Line != 2 {
		t.Errorf("Error.Line = %d, want 2", result.Error.Line)
	}
	if result.Error.Message == "" {
		t.Error("Error.Message is empty")
	}
}

func TestRunSyntaxError(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), "this is not javascript")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error == nil {
		t.Fatal("expected script error for syntax error")
	}
}

func TestRunTimeout(t *testing.T) {
	source := testSource()
	sb := New(source, &mockWriter{}, 50*time.Millisecond)

	start := time.Now()
	result, err := sb.Run(context.Background(), "while (true) {}")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	if result.Error.Line != 0 {
		t.Errorf("Error.Line = %d, want 0 for timeout", result.Error.Line)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Run() took %v, interrupt did not fire", elapsed)
	}
}

func TestRunTimeoutReleasesMutex(t *testing.T) {
	source := testSource()
	sb := New(source, &mockWriter{}, 50*time.Millisecond)

	if result, err := sb.Run(context.Background(), "while (true) {}"); err != nil || result.Error == nil {
		t.Fatalf("first Run() = (%v, %v), want timeout result", result, err)
	}

	// A subsequent call must not deadlock on the mutex.
	done := make(chan *Result, 1)
	go func() {
		result, _ := sb.Run(context.Background(), "return true;")
		done <- result
	}()

	select {
	case result := <-done:
		if result == nil || result.Error != nil || result.ReturnValue != true {
			t.Errorf("second Run() = %v, want clean true", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second Run() deadlocked: mutex not released after timeout")
	}
}

func TestRunSerialized(t *testing.T) {
	sb, _, _ := newTestSandbox()

	// Concurrent runs must all complete; the mutex serializes them.
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			result, err := sb.Run(context.Background(), "return 1;")
			if err == nil && result.Error != nil {
				err = errors.New(result.Error.Message)
			}
			done <- err
		}()
	}

	for i := 0; i < 4; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("concurrent Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent Run() did not complete")
		}
	}
}

// =============================================================================
// Injected API
// =============================================================================

func TestRunBlocksGlobal(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), "return blocks.length;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != float64(2) {
		t.Errorf("blocks.length = %v, want 2", result.ReturnValue)
	}

	result, err = sb.Run(context.Background(), `
		return blocks.find(b => b.id === 'kettle-pid').serviceId;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != "spark-one" {
		t.Errorf("serviceId = %v, want spark-one", result.ReturnValue)
	}
}

func TestRunEventsGlobal(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		return events['brewcast/state/tilt'].data.temp;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != 20.5 {
		t.Errorf("temp = %v, want 20.5", result.ReturnValue)
	}
}

func TestRunGetBlock(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		const b = getBlock('spark-one', 'kettle-pid');
		return b.data.enabled;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != true {
		t.Errorf("enabled = %v, want true", result.ReturnValue)
	}

	result, err = sb.Run(context.Background(), `
		return getBlock('spark-one', 'missing') === null;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != true {
		t.Errorf("missing block = %v, want null", result.ReturnValue)
	}
}

func TestRunGetBlockField(t *testing.T) {
	sb, _, _ := newTestSandbox()

	// Postfix-tolerant: script asks for "setting", stored as "setting[degC]"
	result, err := sb.Run(context.Background(), `
		return getBlockField('spark-one', 'kettle-pid', 'setting');
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != 65.0 {
		t.Errorf("setting = %v, want 65", result.ReturnValue)
	}

	// Bloxfields come through raw; scripts unwrap them explicitly
	result, err = sb.Run(context.Background(), `
		const q = getBlockField('spark-two', 'fridge-sensor', 'value');
		return q.value;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReturnValue != 4.2 {
		t.Errorf("quantity value = %v, want 4.2", result.ReturnValue)
	}
}

func TestRunSaveBlock(t *testing.T) {
	sb, _, writer := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		const written = saveBlock({
			id: 'kettle-pid',
			serviceId: 'spark-one',
			type: 'Pid',
			data: {enabled: false},
		});
		return written.id;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error != nil {
		t.Fatalf("script error = %v", result.Error)
	}

	if len(writer.written) != 1 {
		t.Fatalf("wrote %d blocks, want 1", len(writer.written))
	}
	if writer.written[0].ID != "kettle-pid" || writer.written[0].ServiceID != "spark-one" {
		t.Errorf("written block = %+v", writer.written[0])
	}
	if writer.written[0].Data["enabled"] != false {
		t.Errorf("written data = %v", writer.written[0].Data)
	}
	if result.ReturnValue != "kettle-pid" {
		t.Errorf("ReturnValue = %v, want kettle-pid", result.ReturnValue)
	}
}

func TestRunSaveBlockWriteFailure(t *testing.T) {
	source := testSource()
	writer := &mockWriter{writeErr: errors.New("controller offline")}
	sb := New(source, writer, time.Second)

	result, err := sb.Run(context.Background(), `
		saveBlock({id: 'x', serviceId: 'spark-one', type: 'Pid', data: {}});
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error == nil {
		t.Fatal("expected script error from failed write")
	}
}

func TestRunSaveBlockMissingID(t *testing.T) {
	sb, _, writer := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		saveBlock({serviceId: 'spark-one', type: 'Pid', data: {}});
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error == nil {
		t.Fatal("expected script error for block without id")
	}
	if len(writer.written) != 0 {
		t.Errorf("invalid block reached the writer: %v", writer.written)
	}
}

func TestRunPublishEvent(t *testing.T) {
	sb, source, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		publishEvent('brewcast/request/spark-one', {hello: 'world'});
		return true;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error != nil {
		t.Fatalf("script error = %v", result.Error)
	}

	if len(source.published) != 1 {
		t.Fatalf("published %d events, want 1", len(source.published))
	}
	if source.published[0].topic != "brewcast/request/spark-one" {
		t.Errorf("topic = %q", source.published[0].topic)
	}
	payload, ok := source.published[0].payload.(map[string]any)
	if !ok || payload["hello"] != "world" {
		t.Errorf("payload = %v", source.published[0].payload)
	}
}

func TestRunQty(t *testing.T) {
	sb, _, _ := newTestSandbox()

	result, err := sb.Run(context.Background(), `
		const q = qty(65.5, 'degC');
		return q;
	`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	obj, ok := result.ReturnValue.(map[string]any)
	if !ok {
		t.Fatalf("ReturnValue = %T, want map", result.ReturnValue)
	}
	if obj["__bloxtype"] != "Quantity" || obj["value"] != 65.5 || obj["unit"] != "degC" {
		t.Errorf("qty() = %v", obj)
	}
}

// =============================================================================
// Sanitization
// =============================================================================

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{"Nil", nil, nil},
		{"String", "x", "x"},
		{"IntBecomesFloat", 42, float64(42)},
		{"Func", func() {}, nil},
		{"Chan", make(chan int), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitize(tt.input); got != tt.expected {
				t.Errorf("sanitize(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeStructBecomesMap(t *testing.T) {
	block := spark.Block{ID: "x", ServiceID: "s", Type: "Pid", Data: map[string]any{"a": 1.0}}

	got := sanitize(block)
	obj, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("sanitize(Block) = %T, want map", got)
	}
	if obj["id"] != "x" || obj["serviceId"] != "s" {
		t.Errorf("sanitize(Block) = %v", obj)
	}
}
