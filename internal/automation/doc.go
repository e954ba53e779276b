// Package automation provides the process engine for Brewpilot Core.
//
// A process is a running instance of a template: an ordered list of
// steps, each with preconditions to wait on, actions to execute, and
// transitions deciding where to go next. The engine advances every
// stored process on a fixed tick, recording each phase change as an
// immutable result in the process history.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  Tick loop: jumps → advancement → snapshot publish     │
//	│  ┌──────────────┐    ┌───────────────┐                 │
//	│  │   Registry   │───▶│ Process/Task  │                 │
//	│  │(registry.go) │    │    stores     │                 │
//	│  └──────────────┘    │(repository.go)│                 │
//	│        │             └───────────────┘                 │
//	│        ▼                                               │
//	│  ┌──────────────────────────────────────────────┐      │
//	│  │  Step Pipeline (per active process)          │      │
//	│  │  1. Created: prepare all enabled items       │      │
//	│  │  2. Preconditions: short-circuit AND         │      │
//	│  │  3. Actions: apply in declared order         │      │
//	│  │  4. Transitions: pick next step or finish    │      │
//	│  └──────────────────────────────────────────────┘      │
//	└────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Template: Reusable process definition with steps and items
//   - Process: Running instance with an append-only result history
//   - Item: One precondition, action, or transition condition
//   - Impl: Closed union of item configurations (BlockValue, JSApply, ...)
//   - Task: Human-completable unit of work tied to a process
//   - Engine: Tick-driven orchestrator
//   - Registry: Closed map from impl types to their handlers
//
// # Error Discipline
//
// Handler failures never kill a process: the failure is recorded once
// as an error result and the step retries every tick until it
// succeeds or an operator intervenes. Only invariant violations in
// stored state end a process, with a terminal Invalid result.
//
// # Usage
//
//	registry := automation.NewRegistry(automation.RegistryDeps{
//	    Cache:   cache,
//	    Writer:  sparkClient,
//	    Tasks:   taskStore,
//	    Sandbox: sandbox,
//	})
//	if err := registry.Verify(); err != nil {
//	    return err
//	}
//
//	engine := automation.NewEngine(processStore, taskStore, registry, cache, hub, log)
//	go engine.Run(ctx)
package automation
