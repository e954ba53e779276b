// Package mqtt provides MQTT client connectivity for Brewpilot Core.
//
// This package manages:
//   - Connection to the eventbus broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Brewpilot uses MQTT as the shared eventbus connecting the automation
// service to device services and UIs. Every service publishes its state
// as a retained message under brewcast/state/{service}; the automation
// service both consumes that stream (to cache device state) and
// contributes its own snapshot of active processes and tasks.
//
//	Brewpilot Core ↔ MQTT Broker ↔ Device services / UI
//
// # Offline Detection
//
// The LWT registered at connect time replaces the service's retained
// state with an empty snapshot, so other subscribers see liveness
// degrade promptly after a crash instead of reading stale retained
// state indefinitely. Graceful shutdown publishes the same payload.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "automation")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all published service state
//	err = client.Subscribe(mqtt.Topics{}.AllStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish own state (retained)
//	topic := mqtt.Topics{}.ServiceState("automation")
//	client.Publish(topic, payload, 1, true)
package mqtt
