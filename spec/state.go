package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Status is the lifecycle status of a container record.
type Status string

// The four lifecycle states a record can hold. Paused is reserved: no
// operation in this runtime currently produces it.
const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusPaused  Status = "paused"
)

// Mode selects which backend owns a container record.
type Mode string

const (
	ModeContainer Mode = "container"
	ModeVM        Mode = "vm"
)

// Record is the State Store's persisted container record (data model §3).
// Its on-disk encoding uses the flat key set observed in the original
// implementation (id, bundle_path, state, mode, pid) rather than the
// richer OCI "state" command output, which is a different document
// produced by ToOCIState.
type Record struct {
	ID         string `json:"id"`
	BundlePath string `json:"bundle_path"`
	State      Status `json:"state"`
	Mode       Mode   `json:"mode"`
	InitPID    int    `json:"pid"`

	// statePath is the resolved on-disk path for this record's state.json.
	// It is computed exactly once, at construction or load time, and never
	// recomputed afterwards (the original implementation recomputed and
	// reassigned it a second time during load, leaking an allocation; this
	// is treated as a bug, not a behavior to reproduce).
	statePath string
}

// UnmarshalJSON tolerates unknown keys and defaults absent optional keys,
// falling back unrecognised state strings to StatusCreated (the source's
// observed, and here deliberately preserved, behavior).
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string `json:"id"`
		BundlePath string `json:"bundle_path"`
		State      string `json:"state"`
		Mode       string `json:"mode"`
		InitPID    int    `json:"pid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.BundlePath = raw.BundlePath
	r.InitPID = raw.InitPID
	switch raw.State {
	case string(StatusRunning):
		r.State = StatusRunning
	case string(StatusStopped):
		r.State = StatusStopped
	case string(StatusPaused):
		r.State = StatusPaused
	default:
		r.State = StatusCreated
	}
	if raw.Mode == string(ModeVM) {
		r.Mode = ModeVM
	} else {
		r.Mode = ModeContainer
	}
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         string `json:"id"`
		BundlePath string `json:"bundle_path"`
		State      Status `json:"state"`
		Mode       Mode   `json:"mode"`
		InitPID    int    `json:"pid"`
	}{r.ID, r.BundlePath, r.State, r.Mode, r.InitPID})
}

// StatePath returns the resolved on-disk path of this record's state file.
func (r *Record) StatePath() string { return r.statePath }

// RecordPath computes the state.json path for a container id under a state
// root. Called exactly once per record lifetime (at New/Load) and cached.
func RecordPath(stateRoot, id string) string {
	return filepath.Join(stateRoot, id, "state.json")
}

// RecordDir computes the per-container directory under a state root.
func RecordDir(stateRoot, id string) string {
	return filepath.Join(stateRoot, id)
}

// LoadRecord reads and parses a container record from its state file.
func LoadRecord(stateRoot, id string) (*Record, error) {
	path := RecordPath(stateRoot, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	r.statePath = path
	return &r, nil
}

// RecordExists reports whether a regular record file is present for id.
func RecordExists(stateRoot, id string) bool {
	st, err := os.Stat(RecordPath(stateRoot, id))
	return err == nil && st.Mode().IsRegular()
}

// Save writes the record to disk atomically: a temp file in the same
// directory, fsync, chmod, then rename. A concurrent load observes either
// the old or the new record, never a truncated one.
func (r *Record) Save(stateRoot string) error {
	dir := RecordDir(stateRoot, r.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}
	if r.statePath == "" {
		r.statePath = RecordPath(stateRoot, r.ID)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.statePath); err != nil {
		return err
	}
	success = true
	return nil
}

// DeleteRecord removes a record's state file and, best-effort, its
// now-possibly-empty container directory.
func DeleteRecord(stateRoot, id string) error {
	path := RecordPath(stateRoot, id)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(RecordDir(stateRoot, id)) // best-effort, tolerates non-empty
	return nil
}

// ToOCIState renders the OCI "state" command's output document, which is a
// different JSON shape than the on-disk record: ociVersion/id/status/pid/
// bundle/annotations.
func (r *Record) ToOCIState() *specs.State {
	return &specs.State{
		Version: Version,
		ID:      r.ID,
		Status:  string(r.State),
		Pid:     r.InitPID,
		Bundle:  r.BundlePath,
	}
}
