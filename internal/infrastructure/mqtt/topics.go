package mqtt

import "fmt"

// Topic prefixes for the brewcast MQTT hierarchy.
//
// Services publish their state as retained messages under brewcast/state.
// The payload is an envelope carrying a key (service name), a type tag,
// a ttl, and the type-specific data.
const (
	// TopicPrefixState is the base for all published service state.
	TopicPrefixState = "brewcast/state"

	// TopicPrefixRequest is the base for request topics to services.
	TopicPrefixRequest = "brewcast/request"
)

// Topics provides builders for brewcast MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ServiceState("automation")
//	// Returns: "brewcast/state/automation"
type Topics struct{}

// ServiceState returns the state topic for a named service.
//
// Example: brewcast/state/spark-one
func (Topics) ServiceState(name string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, name)
}

// ServiceStatePatch returns the patch sub-topic for a named service.
// Patches carry incremental changes against the retained state snapshot.
//
// Example: brewcast/state/spark-one/patch
func (Topics) ServiceStatePatch(name string) string {
	return fmt.Sprintf("%s/%s/patch", TopicPrefixState, name)
}

// AllStates returns a pattern matching all published service state,
// including patch sub-topics.
//
// Pattern: brewcast/state/#
func (Topics) AllStates() string {
	return TopicPrefixState + "/#"
}

// ServiceRequest returns the request topic for a named service.
//
// Example: brewcast/request/spark-one
func (Topics) ServiceRequest(name string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixRequest, name)
}
