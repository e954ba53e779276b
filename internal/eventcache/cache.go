package eventcache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hopworks/brewpilot-core/internal/infrastructure/mqtt"
	"github.com/hopworks/brewpilot-core/internal/spark"
)

// activeTTL is how long the published active snapshot stays live.
// It is a multiple of the engine tick so subscribers tolerate a
// missed publish without flapping.
const activeTTL = Duration(60 * time.Second)

// Bus is the subset of the MQTT client the cache depends on.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// entry is one cached message with its receipt timestamp.
type entry struct {
	msg        Message
	receivedAt time.Time
}

// live reports whether the entry is still within its TTL at now.
// A zero TTL never expires.
func (e entry) live(now time.Time) bool {
	ttl := e.msg.TTL.Std()
	if ttl <= 0 {
		return true
	}
	return e.receivedAt.Add(ttl).After(now)
}

// Cache stores the latest eventbus message per state topic.
//
// Writes happen only from the bus dispatch callback; reads are served
// from any goroutine and return deep copies. Expiry is computed lazily
// at read time.
type Cache struct {
	bus         Bus
	serviceName string
	qos         byte
	logger      Logger

	mu      sync.RWMutex
	entries map[string]entry

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a Cache publishing under the given service name.
// The cache is inert until Connect subscribes it to the bus.
func New(bus Bus, serviceName string, qos byte) *Cache {
	return &Cache{
		bus:         bus,
		serviceName: serviceName,
		qos:         qos,
		logger:      noopLogger{},
		entries:     make(map[string]entry),
		now:         time.Now,
	}
}

// SetLogger sets a logger for dropped-message diagnostics.
func (c *Cache) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Connect subscribes the cache to the full state hierarchy.
//
// Messages on the cache's own state topic (and its sub-topics) are
// ignored so the service's published snapshots do not feed back into
// its own cache.
func (c *Cache) Connect() error {
	topic := mqtt.Topics{}.AllStates()
	if err := c.bus.Subscribe(topic, c.qos, c.onMessage); err != nil {
		return fmt.Errorf("eventcache: subscribing to %s: %w", topic, err)
	}
	return nil
}

// onMessage is the bus dispatch callback. It is the only writer of the
// topic map.
func (c *Cache) onMessage(topic string, payload []byte) error {
	ownTopic := mqtt.Topics{}.ServiceState(c.serviceName)
	if topic == ownTopic || strings.HasPrefix(topic, ownTopic+"/") {
		// Self-message suppression: our own snapshots come back over the
		// wildcard subscription and must not feed the cache.
		return nil
	}

	// Empty retained payloads clear a topic (LWT of a dead service).
	if len(payload) == 0 {
		c.mu.Lock()
		delete(c.entries, topic)
		c.mu.Unlock()
		return nil
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("eventcache: dropping unparseable message", "topic", topic, "error", err)
		return nil
	}

	if strings.HasSuffix(msg.Type, patchSuffix) {
		c.applyPatch(topic, msg)
		return nil
	}

	c.mu.Lock()
	c.entries[topic] = entry{msg: msg, receivedAt: c.now()}
	c.mu.Unlock()

	c.logger.Debug("eventcache: cached message", "topic", topic, "type", msg.Type)
	return nil
}

// applyPatch merges a patch envelope into the cached base snapshot.
//
// The base topic is the patch topic without its /patch suffix. Blocks
// listed in deleted or replaced in changed are removed from the base
// block list, then the changed blocks are appended. The base entry's
// receipt timestamp is refreshed since the snapshot is now as fresh as
// the patch.
//
// A patch without a cached base is dropped: there is nothing to merge
// against, and the next full snapshot will restore consistency.
func (c *Cache) applyPatch(topic string, patch Message) {
	baseTopic := strings.TrimSuffix(topic, "/patch")

	var pd PatchData
	if raw, err := json.Marshal(patch.Data); err == nil {
		if err := json.Unmarshal(raw, &pd); err != nil {
			c.logger.Warn("eventcache: dropping malformed patch", "topic", topic, "error", err)
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	base, ok := c.entries[baseTopic]
	if !ok {
		c.logger.Debug("eventcache: patch without base snapshot", "topic", topic)
		return
	}

	blocks, _ := base.msg.Data["blocks"].([]any)

	drop := make(map[string]struct{}, len(pd.Deleted)+len(pd.Changed))
	for _, id := range pd.Deleted {
		drop[id] = struct{}{}
	}
	for _, blk := range pd.Changed {
		if id, ok := blk["id"].(string); ok {
			drop[id] = struct{}{}
		}
	}

	merged := make([]any, 0, len(blocks)+len(pd.Changed))
	for _, b := range blocks {
		obj, ok := b.(map[string]any)
		if !ok {
			merged = append(merged, b)
			continue
		}
		id, _ := obj["id"].(string)
		if _, gone := drop[id]; gone {
			continue
		}
		merged = append(merged, b)
	}
	for _, blk := range pd.Changed {
		merged = append(merged, map[string]any(blk))
	}

	if base.msg.Data == nil {
		base.msg.Data = make(map[string]any, 1)
	}
	base.msg.Data["blocks"] = merged
	base.receivedAt = c.now()
	c.entries[baseTopic] = base
}

// GetCached returns the live cached message for a topic, or nil if the
// topic is absent or its TTL has lapsed. The returned message's data is
// a deep copy.
func (c *Cache) GetCached(topic string) *Message {
	c.mu.RLock()
	e, ok := c.entries[topic]
	c.mu.RUnlock()

	if !ok || !e.live(c.now()) {
		return nil
	}

	msg := e.msg
	msg.Data = copyMap(e.msg.Data)
	return &msg
}

// GetBlocks flattens all live Spark snapshots into a single block list.
//
// Each block carries the publishing service's key as its ServiceID.
// Pass an empty serviceID to collect blocks from every service.
func (c *Cache) GetBlocks(serviceID string) []spark.Block {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []spark.Block
	for _, e := range c.entries {
		if e.msg.Type != TypeSparkState || !e.live(now) {
			continue
		}
		if serviceID != "" && e.msg.Key != serviceID {
			continue
		}

		raw, _ := e.msg.Data["blocks"].([]any)
		for _, b := range raw {
			obj, ok := b.(map[string]any)
			if !ok {
				continue
			}
			block := spark.Block{ServiceID: e.msg.Key}
			block.ID, _ = obj["id"].(string)
			block.Type, _ = obj["type"].(string)
			if data, ok := obj["data"].(map[string]any); ok {
				block.Data = copyMap(data)
			}
			result = append(result, block)
		}
	}

	return result
}

// Messages returns deep copies of all live cached messages keyed by topic.
// Used as the sandbox's read-only events input.
func (c *Cache) Messages() map[string]Message {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Message, len(c.entries))
	for topic, e := range c.entries {
		if !e.live(now) {
			continue
		}
		msg := e.msg
		msg.Data = copyMap(e.msg.Data)
		result[topic] = msg
	}
	return result
}

// Publish marshals payload as JSON and publishes it (not retained).
func (c *Cache) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventcache: marshalling payload for %s: %w", topic, err)
	}
	if err := c.bus.Publish(topic, data, c.qos, false); err != nil {
		return fmt.Errorf("eventcache: publishing to %s: %w", topic, err)
	}
	return nil
}

// PublishActive publishes the service's own snapshot of active
// processes and tasks as a retained envelope on its state topic.
//
// The snapshot is published on a topic the inbound handler suppresses,
// so it never feeds back into this cache.
func (c *Cache) PublishActive(data map[string]any) error {
	msg := Message{
		Key:  c.serviceName,
		Type: TypeAutomationActive,
		TTL:  activeTTL,
		Data: data,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("eventcache: marshalling active snapshot: %w", err)
	}

	topic := mqtt.Topics{}.ServiceState(c.serviceName)
	if err := c.bus.Publish(topic, payload, c.qos, true); err != nil {
		return fmt.Errorf("eventcache: publishing active snapshot: %w", err)
	}
	return nil
}

// copyMap creates a deep copy of a map[string]any.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = copyValue(v)
	}
	return cpy
}

// copyValue recursively copies a value, handling nested maps and slices.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = copyValue(elem)
		}
		return cpy
	default:
		return val
	}
}
