package automation

import (
	"context"
	"fmt"
	"testing"
)

// setupBenchEngine builds an engine over n passthrough processes.
func setupBenchEngine(b *testing.B, n int) (*Engine, *mockProcessStore) {
	b.Helper()
	procs := newMockProcessStore()
	tasks := newMockTaskStore()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		proc := passthroughProcess(fmt.Sprintf("proc-%04d", i))
		if _, err := procs.Save(ctx, proc); err != nil {
			b.Fatalf("storing process %d: %v", i, err)
		}
	}

	registry := NewRegistry(RegistryDeps{Tasks: tasks})
	return NewEngine(procs, tasks, registry, nil, nil, nil), procs
}

func BenchmarkEngineTick(b *testing.B) {
	engine, _ := setupBenchEngine(b, 50)
	ctx := context.Background()

	// First tick runs every process to completion; later ticks
	// measure the steady idle pass.
	engine.Tick(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Tick(ctx)
	}
}

func BenchmarkCompareValues(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = compareValues(65.004, OpGE, 65.0) //nolint:errcheck // benchmark
	}
}

func BenchmarkImplJSONRoundTrip(b *testing.B) {
	item := Item{
		ID:      "i-01",
		Enabled: true,
		Impl: BlockPatchImpl{
			ServiceID: "spark-one",
			BlockID:   "kettle-setpoint",
			Data:      map[string]any{"setting[degC]": 66.5},
		},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		raw, err := item.MarshalJSON()
		if err != nil {
			b.Fatal(err)
		}
		var decoded Item
		if err := decoded.UnmarshalJSON(raw); err != nil {
			b.Fatal(err)
		}
	}
}
