package eventcache

// Envelope type tags carried in the "type" field of bus messages.
const (
	// TypeSparkState tags a full block snapshot from a Spark service.
	TypeSparkState = "Spark.state"

	// TypeSparkPatch tags an incremental update against a cached snapshot.
	TypeSparkPatch = "Spark.patch"

	// TypeAutomationActive tags the automation service's own snapshot of
	// active processes and tasks.
	TypeAutomationActive = "Automation.active"
)

// patchSuffix identifies patch envelopes generically; services other
// than Spark follow the same "{Base}.patch" convention.
const patchSuffix = ".patch"

// Message is the eventbus envelope shared by all state publishers.
//
// Key names the publishing service, Type tags the payload shape, TTL
// bounds how long the message may be treated as live, and Data carries
// the type-specific payload.
type Message struct {
	Key  string         `json:"key"`
	Type string         `json:"type"`
	TTL  Duration       `json:"ttl"`
	Data map[string]any `json:"data"`
}

// PatchData is the Data shape of a patch envelope: full replacements
// for changed blocks plus IDs of removed ones.
type PatchData struct {
	Changed []map[string]any `json:"changed"`
	Deleted []string         `json:"deleted"`
}
