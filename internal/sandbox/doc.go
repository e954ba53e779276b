// Package sandbox executes user-supplied condition and action scripts.
//
// Scripts are JavaScript function bodies: they may use return at the
// top level, read the injected block and event data, and call helper
// functions to fetch fields, write blocks, or publish bus messages.
//
// Execution is serialized by a single mutex and bounded by a hard
// timeout. A script that overruns is interrupted and its runtime is
// discarded, so a stuck script costs one deadline, never the process.
// Every value crossing the Go/script boundary is sanitized through a
// JSON round-trip in both directions.
//
// Results carry the script's return value, everything it printed, and
// on failure an error message with the offending source line (line 0
// when the script was cut off by the timeout).
package sandbox
