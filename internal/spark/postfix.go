package spark

import "regexp"

// Postfixed keys encode serialization metadata in the key name:
//
//	value[degC]                              unit postfix
//	actuatorId<ActuatorAnalogInterface,driven>  link constraint postfix
//
// The postfix belongs to the wire format, not the field identity, so
// lookups and merges treat "setting" and "setting[degC]" as the same
// field.
var postfixRegex = regexp.MustCompile(`^(.+?)([\[<].*[\]>])$`)

// SplitPostfix separates a data key into its field name and postfix.
// The postfix includes its brackets; it is empty for plain keys.
func SplitPostfix(key string) (name, postfix string) {
	m := postfixRegex.FindStringSubmatch(key)
	if m == nil {
		return key, ""
	}
	return m[1], m[2]
}

// StripPostfix returns the field name of a data key without its postfix.
func StripPostfix(key string) string {
	name, _ := SplitPostfix(key)
	return name
}

// FieldByKey looks up a field in block data, tolerating postfixes on
// either side. An exact match wins; otherwise keys are compared by
// their stripped names.
//
// Returns the raw stored value (bloxfields are not resolved) and
// whether a matching key was found.
func FieldByKey(data map[string]any, key string) (any, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}

	want := StripPostfix(key)
	for k, v := range data {
		if StripPostfix(k) == want {
			return v, true
		}
	}
	return nil, false
}

// MergeBlockData merges patch fields into base block data, matching
// keys by stripped field name.
//
// When a patch key replaces a postfixed base key (or the other way
// round), the old key is removed so the field is not duplicated under
// two spellings. Untouched base fields are preserved. Neither input
// map is modified.
func MergeBlockData(base, patch map[string]any) map[string]any {
	merged := deepCopyMap(base)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}

	for pk, pv := range patch {
		want := StripPostfix(pk)
		for bk := range merged {
			if bk != pk && StripPostfix(bk) == want {
				delete(merged, bk)
			}
		}
		merged[pk] = deepCopyValue(pv)
	}

	return merged
}
