// Package history records process telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management and non-blocking batched writes, and turns engine output
// into time-series points:
//   - step results (phase changes, errors) per process
//   - task lifecycle changes (created, started, done, cancelled)
//
// # Usage
//
//	cfg := config.HistoryConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "brewpilot",
//	    Bucket:  "automation",
//	}
//
//	rec, err := history.Connect(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Close()
//
//	engine.SetRecorder(rec)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors surface through the
// logger supplied at Connect. Connection and health check errors are
// returned directly.
package history
