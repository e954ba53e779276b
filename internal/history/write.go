package history

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/hopworks/brewpilot-core/internal/automation"
)

// RecordResult writes a single step result to InfluxDB.
//
// This is the primary hook for engine telemetry: every result the
// engine persists lands as one point, tagged for filtering by process,
// step, phase, and status. The write is non-blocking; data is batched
// and sent asynchronously. Safe to call on a nil or disconnected
// recorder (no-op).
//
// Parameters:
//   - proc: Process the result belongs to
//   - result: The persisted step result
func (r *Recorder) RecordResult(proc *automation.Process, result automation.StepResult) {
	if !r.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"result_id": result.ID,
		"errored":   result.Error != "",
	}
	if result.Error != "" {
		fields["error"] = result.Error
	}

	ts := result.Date
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		"step_results",
		map[string]string{
			"process_id":    proc.ID,
			"process_title": proc.Title,
			"step_id":       result.StepID,
			"phase":         string(result.Phase),
			"status":        string(result.Status),
		},
		fields,
		ts,
	)

	r.writeAPI.WritePoint(point)
}

// RecordTask writes a task lifecycle change to InfluxDB.
//
// Called by the API whenever a task is created or updated. Task
// changes made by process actions surface indirectly through the
// step results they belong to. Safe to call on a nil or disconnected
// recorder (no-op).
//
// Parameters:
//   - task: The task after the change
func (r *Recorder) RecordTask(task automation.Task) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"tasks",
		map[string]string{
			"ref":        task.Ref,
			"status":     string(task.Status),
			"created_by": task.CreatedBy,
			"process_id": task.ProcessID,
		},
		map[string]interface{}{
			"task_id": task.ID,
			"title":   task.Title,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (r *Recorder) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	r.writeAPI.WritePoint(point)
}
