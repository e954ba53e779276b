package eventcache

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time span that unmarshals from eventbus TTL fields.
//
// The bus carries durations in two spellings: bare numbers are
// milliseconds, strings are unit sequences like "60s", "10m" or
// "1h30m". A "d" unit (days) is accepted on input for compatibility
// with older publishers.
type Duration time.Duration

// durationPartRegex matches one value-unit pair in a duration string.
var durationPartRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|s|m|h|d)`)

// durationStringRegex validates a full duration string: one or more
// value-unit pairs, or a bare number (milliseconds).
var durationStringRegex = regexp.MustCompile(`^\s*(?:\d+(?:\.\d+)?\s*(?:ms|s|m|h|d)\s*)+$|^\s*\d+(?:\.\d+)?\s*$`)

// ParseDuration converts an eventbus duration value to a Duration.
//
// Accepted inputs:
//   - float64 / int: milliseconds
//   - string "500": milliseconds
//   - string "60s", "10m", "1h30m", "1d": unit sequence
//
// Returns an error for unparseable strings or unsupported types.
func ParseDuration(v any) (Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return Duration(time.Duration(val * float64(time.Millisecond))), nil
	case int:
		return Duration(time.Duration(val) * time.Millisecond), nil
	case int64:
		return Duration(time.Duration(val) * time.Millisecond), nil
	case Duration:
		return val, nil
	case time.Duration:
		return Duration(val), nil
	case string:
		return parseDurationString(val)
	default:
		return 0, fmt.Errorf("unsupported duration value %v (%T)", v, v)
	}
}

// parseDurationString parses a unit-sequence duration string.
func parseDurationString(s string) (Duration, error) {
	if !durationStringRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid duration string %q", s)
	}

	parts := durationPartRegex.FindAllStringSubmatch(s, -1)
	if parts == nil {
		// Bare number: milliseconds
		num, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string %q", s)
		}
		return Duration(time.Duration(num * float64(time.Millisecond))), nil
	}

	var total time.Duration
	for _, part := range parts {
		num, err := strconv.ParseFloat(part[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string %q", s)
		}
		switch part[2] {
		case "ms":
			total += time.Duration(num * float64(time.Millisecond))
		case "s":
			total += time.Duration(num * float64(time.Second))
		case "m":
			total += time.Duration(num * float64(time.Minute))
		case "h":
			total += time.Duration(num * float64(time.Hour))
		case "d":
			total += time.Duration(num * float64(24*time.Hour))
		}
	}
	return Duration(total), nil
}

// Std returns the duration as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalJSON accepts both numeric (milliseconds) and string forms.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON emits the string form used by other bus publishers,
// e.g. "60s". Sub-second durations are emitted as "{n}ms".
func (d Duration) MarshalJSON() ([]byte, error) {
	dur := time.Duration(d)
	if dur == 0 {
		return []byte(`"0s"`), nil
	}
	if dur < time.Second {
		return json.Marshal(fmt.Sprintf("%dms", dur.Milliseconds()))
	}
	if dur%time.Second == 0 && dur < time.Minute {
		return json.Marshal(fmt.Sprintf("%ds", int(dur.Seconds())))
	}
	return json.Marshal(dur.String())
}
