package batch

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docpipe/internal/common"
)

// snapshot is the serializable mirror of batch state written after every
// job settles and read back in full on Run(resume=true).
type snapshot struct {
	BatchID  string   `json:"batch_id"`
	Jobs     []Job    `json:"jobs"`
	Progress Progress `json:"progress"`
}

// snapshotSchema guards against loading a truncated or foreign file as
// batch state. Kept in sync with the snapshot struct above.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["batch_id", "jobs", "progress"],
  "properties": {
    "batch_id": {"type": "string", "minLength": 1},
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "input_path", "output_path", "status"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "input_path": {"type": "string"},
          "output_path": {"type": "string"},
          "status": {"enum": ["pending", "processing", "completed", "failed"]},
          "start_time": {"type": "string"},
          "end_time": {"type": "string"},
          "error": {"type": "string"},
          "result": {"type": "object"}
        }
      }
    },
    "progress": {
      "type": "object",
      "required": ["total_jobs", "completed_jobs", "failed_jobs", "processing_jobs", "start_time"],
      "properties": {
        "total_jobs": {"type": "integer", "minimum": 0},
        "completed_jobs": {"type": "integer", "minimum": 0},
        "failed_jobs": {"type": "integer", "minimum": 0},
        "processing_jobs": {"type": "integer", "minimum": 0},
        "start_time": {"type": "string"}
      }
    }
  }
}`

var compiledSnapshotSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchema)

// saveSnapshot checkpoints the full batch state. Writes go through a temp
// file and rename so a crash mid-write never corrupts the previous snapshot.
func (o *Orchestrator) saveSnapshot(path string) error {
	o.mu.Lock()
	state := snapshot{
		BatchID:  o.batchID,
		Jobs:     make([]Job, 0, len(o.jobs)),
		Progress: o.progress,
	}
	for _, j := range o.jobs {
		state.Jobs = append(state.Jobs, *j)
	}
	o.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return common.WrapError(err, "marshal resume state")
	}
	// Concurrent workers settle independently, so each write needs its own
	// temp file; sharing one name would interleave writers on one inode.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return common.FileSystemError("create resume temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return common.FileSystemError("write resume file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return common.FileSystemError("close resume file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return common.FileSystemError("replace resume file", err)
	}
	return nil
}

// loadSnapshot validates and restores batch state from a resume file,
// replacing the in-memory job list and progress counters. Jobs caught
// mid-flight by a crash come back as pending so they are re-run.
func (o *Orchestrator) loadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.FileSystemError("read resume file", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return common.ValidationError("resume file is not valid JSON", err)
	}
	if err := compiledSnapshotSchema.Validate(doc); err != nil {
		return common.ValidationError("resume file does not match snapshot schema", err)
	}

	var state snapshot
	if err := json.Unmarshal(data, &state); err != nil {
		return common.ValidationError("decode resume state", err)
	}

	o.mu.Lock()
	o.batchID = state.BatchID
	o.jobs = o.jobs[:0]
	for i := range state.Jobs {
		j := state.Jobs[i]
		if j.Status == StatusProcessing {
			j.Status = StatusPending
			j.StartTime = nil
		}
		o.jobs = append(o.jobs, &j)
	}
	o.progress = state.Progress
	o.progress.ProcessingJobs = 0
	o.mu.Unlock()

	o.logger.Info("resumed batch", "batch_id", state.BatchID, "jobs", len(state.Jobs))
	return nil
}
