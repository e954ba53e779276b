package spark

// Bloxfield type discriminators used in block data.
// Fields carrying these markers are typed wrapper objects rather than
// plain scalars and must be resolved before comparison.
const (
	// BloxTypeQuantity marks a value-with-unit wrapper.
	BloxTypeQuantity = "Quantity"

	// BloxTypeLink marks a reference to another block by ID.
	BloxTypeLink = "Link"

	// bloxTypeKey is the discriminator key inside a bloxfield object.
	bloxTypeKey = "__bloxtype"
)

// Block is the unit of Spark controller state.
//
// ServiceID names the device service that owns the block. Data is the
// free-form payload whose shape depends on Type; values may be plain
// scalars, nested objects, or bloxfields.
type Block struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"serviceId,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
}

// DeepCopy creates a complete independent copy of the Block.
// The data map is cloned recursively so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (b *Block) DeepCopy() *Block {
	if b == nil {
		return nil
	}

	cpy := *b
	cpy.Data = deepCopyMap(b.Data)
	return &cpy
}

// Quantity is a value-with-unit bloxfield, e.g. 20.5 degC.
// Value is a pointer because controllers publish null for unset readings.
type Quantity struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
	// Readonly is set on fields the controller computes itself.
	Readonly bool `json:"readonly,omitempty"`
}

// Link is a reference-to-block bloxfield.
// ID is empty for unset links.
type Link struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// ResolveMeta collapses bloxfield wrapper objects to comparable scalars.
//
// A Quantity resolves to its numeric value (nil stays nil), a Link
// resolves to its target block ID. Anything else passes through
// unchanged, including nested maps that merely contain bloxfields.
//
// Block field comparisons operate on resolved values so a condition
// written as "setting >= 60" works whether the controller published a
// bare number or a Quantity with a unit.
func ResolveMeta(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}

	switch obj[bloxTypeKey] {
	case BloxTypeQuantity:
		return obj["value"]
	case BloxTypeLink:
		return obj["id"]
	default:
		return v
	}
}

// IsBloxfield reports whether v is a bloxfield wrapper object.
func IsBloxfield(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	t, ok := obj[bloxTypeKey].(string)
	return ok && (t == BloxTypeQuantity || t == BloxTypeLink)
}

// NewQuantity builds the wire representation of a Quantity bloxfield.
// Used by the script sandbox's qty() helper.
func NewQuantity(value float64, unit string) map[string]any {
	return map[string]any{
		bloxTypeKey: BloxTypeQuantity,
		"value":     value,
		"unit":      unit,
	}
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
		// Primitives (string, bool, float64, etc.) are safe to copy by value
		return val
	}
}
