// Package spark models blocks published by Spark device services and
// provides an HTTP client for writing block changes back to them.
//
// A block is the unit of controller state: a typed object with an ID,
// the name of the service that owns it, and a free-form data map. Block
// data may contain bloxfield objects (Quantity and Link) and postfixed
// keys that encode units or link constraints in the key name itself,
// e.g. "value[degC]" or "actuatorId<ActuatorAnalogInterface,driven>".
//
// This package keeps the wire conventions in one place:
//
//   - Block and the bloxfield types (Quantity, Link)
//   - ResolveMeta, which collapses bloxfields to comparable scalars
//   - Postfix parsing and postfix-aware field lookup
//   - Client, which posts block writes to a device service
//
// Consumers compare and patch block data without caring whether a field
// arrived as a bare number, a Quantity, or under a postfixed key.
package spark
