package spark

import (
	"testing"
)

func TestResolveMeta(t *testing.T) {
	val := 20.5

	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{
			name:     "PlainNumber",
			input:    float64(42),
			expected: float64(42),
		},
		{
			name:     "PlainString",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "Nil",
			input:    nil,
			expected: nil,
		},
		{
			name: "QuantityResolvesToValue",
			input: map[string]any{
				"__bloxtype": "Quantity",
				"value":      val,
				"unit":       "degC",
			},
			expected: val,
		},
		{
			name: "QuantityNullValue",
			input: map[string]any{
				"__bloxtype": "Quantity",
				"value":      nil,
				"unit":       "degC",
			},
			expected: nil,
		},
		{
			name: "LinkResolvesToID",
			input: map[string]any{
				"__bloxtype": "Link",
				"id":         "kettle-setpoint",
				"type":       "SetpointSensorPair",
			},
			expected: "kettle-setpoint",
		},
		{
			name: "PlainObjectPassesThrough",
			input: map[string]any{
				"value": val,
			},
			expected: nil, // compared below - map identity check
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ResolveMeta(tt.input)

			if tt.name == "PlainObjectPassesThrough" {
				// Non-bloxfield objects pass through unchanged
				m, ok := result.(map[string]any)
				if !ok {
					t.Fatalf("ResolveMeta() = %v, want map passthrough", result)
				}
				if m["value"] != val {
					t.Errorf("ResolveMeta() mutated map: %v", m)
				}
				return
			}

			if result != tt.expected {
				t.Errorf("ResolveMeta() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsBloxfield(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected bool
	}{
		{"Quantity", map[string]any{"__bloxtype": "Quantity", "value": 1.0}, true},
		{"Link", map[string]any{"__bloxtype": "Link", "id": "x"}, true},
		{"UnknownType", map[string]any{"__bloxtype": "Mystery"}, false},
		{"PlainMap", map[string]any{"value": 1.0}, false},
		{"Scalar", float64(1), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBloxfield(tt.input); got != tt.expected {
				t.Errorf("IsBloxfield(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewQuantity(t *testing.T) {
	q := NewQuantity(65.5, "degC")

	if q["__bloxtype"] != "Quantity" {
		t.Errorf("__bloxtype = %v, want Quantity", q["__bloxtype"])
	}
	if q["value"] != 65.5 {
		t.Errorf("value = %v, want 65.5", q["value"])
	}
	if q["unit"] != "degC" {
		t.Errorf("unit = %v, want degC", q["unit"])
	}

	// Round-trips through ResolveMeta
	if ResolveMeta(q) != 65.5 {
		t.Errorf("ResolveMeta(NewQuantity()) = %v, want 65.5", ResolveMeta(q))
	}
}

func TestBlockDeepCopy(t *testing.T) {
	original := &Block{
		ID:        "kettle-pid",
		ServiceID: "spark-one",
		Type:      "Pid",
		Data: map[string]any{
			"enabled": true,
			"inputValue": map[string]any{
				"__bloxtype": "Quantity",
				"value":      20.5,
				"unit":       "degC",
			},
			"history": []any{1.0, 2.0, 3.0},
		},
	}

	cpy := original.DeepCopy()

	if cpy == original {
		t.Fatal("DeepCopy() returned same pointer")
	}
	if cpy.ID != original.ID || cpy.Type != original.Type {
		t.Error("DeepCopy() lost scalar fields")
	}

	// Mutating the copy must not affect the original
	cpy.Data["enabled"] = false
	cpy.Data["inputValue"].(map[string]any)["value"] = 99.9
	cpy.Data["history"].([]any)[0] = 100.0

	if original.Data["enabled"] != true {
		t.Error("mutation of copy leaked into original (top-level)")
	}
	if original.Data["inputValue"].(map[string]any)["value"] != 20.5 {
		t.Error("mutation of copy leaked into original (nested map)")
	}
	if original.Data["history"].([]any)[0] != 1.0 {
		t.Error("mutation of copy leaked into original (slice)")
	}
}

func TestBlockDeepCopyNil(t *testing.T) {
	var b *Block
	if b.DeepCopy() != nil {
		t.Error("DeepCopy() on nil should return nil")
	}
}
