package automation

import (
	"encoding/json"
	"testing"
	"time"
)

func TestItemImplJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		impl Impl
	}{
		{"block value", BlockValueImpl{ServiceID: "spark-one", BlockID: "kettle-sensor", Key: "value", Operator: OpGE, Value: 66.0}},
		{"block patch", BlockPatchImpl{ServiceID: "spark-one", BlockID: "kettle-setpoint", Data: map[string]any{"setting[degC]": 66.5}}},
		{"task status", TaskStatusImpl{Ref: "grain", Status: TaskDone, ResetStatus: TaskCreated}},
		{"task create", TaskCreateImpl{Ref: "clean", Title: "Clean kettle", Message: "PBW soak"}},
		{"time elapsed", TimeElapsedImpl{Duration: 0, Start: StartProcess}},
		{"webhook", WebhookImpl{URL: "http://example.test/hook", Method: "PUT", Headers: map[string]string{"X-Token": "t"}, Body: "{}"}},
		{"js check", JSCheckImpl{Body: "return true;"}},
		{"js apply", JSApplyImpl{Body: "print(1);"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Item{ID: "i-01", Title: "Item", Enabled: true, Impl: tt.impl}

			raw, err := json.Marshal(item)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			// The tag must ride along in the wire form.
			var wire struct {
				Impl map[string]any `json:"impl"`
			}
			if err := json.Unmarshal(raw, &wire); err != nil {
				t.Fatalf("Unmarshal wire: %v", err)
			}
			if wire.Impl["type"] != tt.impl.ImplType() {
				t.Errorf("wire type = %v, want %s", wire.Impl["type"], tt.impl.ImplType())
			}

			var decoded Item
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if decoded.Impl == nil {
				t.Fatal("impl lost in round trip")
			}
			if decoded.Impl.ImplType() != tt.impl.ImplType() {
				t.Errorf("type = %s, want %s", decoded.Impl.ImplType(), tt.impl.ImplType())
			}
		})
	}

	t.Run("unknown tag rejected", func(t *testing.T) {
		var item Item
		err := json.Unmarshal([]byte(`{"id":"x","impl":{"type":"Teleport"}}`), &item)
		if err == nil {
			t.Error("expected error for unknown impl type")
		}
	})

	t.Run("null impl allowed", func(t *testing.T) {
		var item Item
		if err := json.Unmarshal([]byte(`{"id":"x","impl":null}`), &item); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if item.Impl != nil {
			t.Error("impl should be nil")
		}
	})

	t.Run("pointer edit fields survive", func(t *testing.T) {
		title := "New title"
		item := Item{ID: "i-01", Enabled: true, Impl: TaskEditImpl{Ref: "ferment", Title: &title}}

		raw, err := json.Marshal(item)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var decoded Item
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}

		edit := decoded.Impl.(TaskEditImpl)
		if edit.Title == nil || *edit.Title != "New title" {
			t.Errorf("Title = %v", edit.Title)
		}
		if edit.Status != nil {
			t.Error("absent status decoded as set")
		}
	})
}

func TestNextJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Next
	}{
		{"advance", `true`, NextAdvance()},
		{"finish", `false`, NextFinish()},
		{"step id", `"mash"`, NextStep("mash")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Next
			if err := json.Unmarshal([]byte(tt.raw), &n); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if n != tt.want {
				t.Errorf("Next = %+v, want %+v", n, tt.want)
			}

			out, err := json.Marshal(n)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(out) != tt.raw {
				t.Errorf("Marshal = %s, want %s", out, tt.raw)
			}
		})
	}

	t.Run("number rejected", func(t *testing.T) {
		var n Next
		if err := json.Unmarshal([]byte(`3`), &n); err == nil {
			t.Error("expected error for numeric next")
		}
	})
}

func TestTimestampJSON(t *testing.T) {
	t.Run("rfc3339 string", func(t *testing.T) {
		var ts Timestamp
		if err := json.Unmarshal([]byte(`"2026-08-31T12:00:00Z"`), &ts); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		want := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		if !ts.Time().Equal(want) {
			t.Errorf("Time = %v, want %v", ts.Time(), want)
		}
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		var ts Timestamp
		if err := json.Unmarshal([]byte(`1788177600000`), &ts); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if ts.Time().UnixMilli() != 1788177600000 {
			t.Errorf("UnixMilli = %d", ts.Time().UnixMilli())
		}
	})

	t.Run("null is zero", func(t *testing.T) {
		var ts Timestamp
		if err := json.Unmarshal([]byte(`null`), &ts); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if !ts.IsZero() {
			t.Error("null should decode to zero time")
		}
	})

	t.Run("zero marshals to null", func(t *testing.T) {
		out, err := json.Marshal(Timestamp{})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(out) != "null" {
			t.Errorf("Marshal = %s, want null", out)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		var ts Timestamp
		if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
			t.Error("expected error")
		}
	})
}

func TestProcessDeepCopy(t *testing.T) {
	proc := &Process{
		ID:    "proc-01",
		Title: "Brew Day",
		Steps: []Step{
			{
				ID:      "heat",
				Enabled: true,
				Actions: []Item{
					{
						ID:      "set",
						Enabled: true,
						Impl: BlockPatchImpl{
							ServiceID: "spark-one",
							BlockID:   "kettle-setpoint",
							Data:      map[string]any{"setting": map[string]any{"value": 66.5}},
						},
					},
				},
				Transitions: []Transition{
					{
						ID:      "tr",
						Enabled: true,
						Conditions: []Item{
							{ID: "c", Enabled: true, Impl: TaskStatusImpl{Ref: "grain", Status: TaskDone}},
						},
						Next: NextFinish(),
					},
				},
			},
		},
		Results: []StepResult{
			{ID: "r-01", StepID: "heat", Phase: PhaseCreated, Status: StatusActive, Date: time.Now()},
		},
		Rev: 3,
	}

	cpy := proc.DeepCopy()

	// Mutate the copy deeply.
	cpy.Steps[0].ID = "changed"
	cpy.Steps[0].Transitions[0].Conditions[0].ID = "changed"
	cpy.Results[0].Phase = PhaseFinished
	patch := cpy.Steps[0].Actions[0].Impl.(BlockPatchImpl)
	patch.Data["setting"].(map[string]any)["value"] = 100.0

	if proc.Steps[0].ID != "heat" {
		t.Error("step mutation leaked to original")
	}
	if proc.Steps[0].Transitions[0].Conditions[0].ID != "c" {
		t.Error("condition mutation leaked to original")
	}
	if proc.Results[0].Phase != PhaseCreated {
		t.Error("result mutation leaked to original")
	}
	orig := proc.Steps[0].Actions[0].Impl.(BlockPatchImpl)
	if v := orig.Data["setting"].(map[string]any)["value"]; v != 66.5 {
		t.Errorf("nested impl data mutated: %v", v)
	}

	if (&Process{}).DeepCopy() == nil {
		t.Error("copy of empty process is nil")
	}
	var nilProc *Process
	if nilProc.DeepCopy() != nil {
		t.Error("copy of nil process should be nil")
	}
}

func TestProcessAccessors(t *testing.T) {
	proc := &Process{
		Steps: []Step{{ID: "a"}, {ID: "b"}},
	}

	if proc.LatestResult() != nil {
		t.Error("LatestResult on empty history should be nil")
	}
	proc.Results = []StepResult{
		{ID: "r-01", StepID: "a"},
		{ID: "r-02", StepID: "b"},
	}
	if got := proc.LatestResult(); got.ID != "r-02" {
		t.Errorf("LatestResult = %q", got.ID)
	}

	if s := proc.StepByID("b"); s == nil || s.ID != "b" {
		t.Error("StepByID(b) failed")
	}
	if proc.StepByID("z") != nil {
		t.Error("StepByID(z) should be nil")
	}
	if idx := proc.StepIndex("b"); idx != 1 {
		t.Errorf("StepIndex(b) = %d, want 1", idx)
	}
	if idx := proc.StepIndex("z"); idx != -1 {
		t.Errorf("StepIndex(z) = %d, want -1", idx)
	}
}
