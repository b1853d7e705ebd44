// Package manifest persists the single completion manifest a Runner
// writes once per run (spec.md §4.8): which montages completed, which
// failed, and totals, named with the subject and a run timestamp under
// derivatives/temp/.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ti-toolbox/tit-core/runner"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// Entry is one montage's outcome as it appears in the manifest — the
// JSON-serializable projection of runner.Result.
type Entry struct {
	MontageName string `json:"montage_name"`
	MontageType string `json:"montage_type"`
	Status      string `json:"status"`
	OutputMesh  string `json:"output_mesh,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Totals summarizes a run for quick front-end display without counting
// array lengths.
type Totals struct {
	Submitted int `json:"submitted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Manifest is the completion manifest's on-disk shape (spec.md §4.8).
type Manifest struct {
	SessionID     string  `json:"session_id"`
	Subject       string  `json:"subject"`
	ProjectDir    string  `json:"project_dir"`
	SimulationDir string  `json:"simulation_dir"`
	Completed     []Entry `json:"completed"`
	Failed        []Entry `json:"failed"`
	Timestamp     string  `json:"timestamp"` // stamped by the caller; cmd/tit-core uses UTC "20060102T150405Z"
	Totals        Totals  `json:"totals"`
}

// FromResults builds a Manifest from a Runner's results, grouping
// completed-then-failed and sorting each group by submission index — the
// stable ordering spec.md §4.7 requires regardless of completion order.
// The totality invariant len(Completed)+len(Failed) == len(results) always
// holds because every Result is either "completed" or "failed".
func FromResults(sessionID, subject, projectDir, simulationDir, timestamp string, results []runner.Result) Manifest {
	sorted := make([]runner.Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubmissionIndex < sorted[j].SubmissionIndex })

	m := Manifest{
		SessionID:     sessionID,
		Subject:       subject,
		ProjectDir:    projectDir,
		SimulationDir: simulationDir,
		Timestamp:     timestamp,
		Totals:        Totals{Submitted: len(results)},
	}
	for _, r := range sorted {
		entry := Entry{MontageName: r.MontageName, MontageType: string(r.MontageType), Status: r.Status, OutputMesh: r.OutputMesh}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		if r.Status == "completed" {
			m.Completed = append(m.Completed, entry)
			m.Totals.Completed++
		} else {
			m.Failed = append(m.Failed, entry)
			m.Totals.Failed++
		}
	}
	return m
}

// Writer persists a Manifest. JSONFileWriter is the spec-mandated
// authoritative writer; other Writers (e.g. a bun-backed mirror) observe
// the same value for secondary persistence.
type Writer interface {
	Write(m Manifest) error
}

// JSONFileWriter writes the manifest to derivatives/temp/sub-<S>_<ts>.json
// (spec.md §4.8), exactly once per run.
type JSONFileWriter struct {
	Dir string // typically pathmgr.Manager.TempDir()
}

// Write serializes m and writes it to Dir/sub-<subject>_<timestamp>.json.
func (w JSONFileWriter) Write(m Manifest) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return titerrors.NewIOError(w.Dir, "failed to create completion manifest directory", err)
	}
	body, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return titerrors.NewConfigError("manifest", "failed to marshal completion manifest", err)
	}
	name := fmt.Sprintf("sub-%s_%s.json", m.Subject, m.Timestamp)
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return titerrors.NewIOError(path, "failed to write completion manifest", err)
	}
	return nil
}

// MultiWriter fans Write out to every configured Writer, continuing past
// a failing secondary writer so the authoritative JSON file still lands —
// spec.md never conditions the manifest's existence on an optional mirror.
type MultiWriter struct {
	Writers []Writer
}

// Write calls every writer and returns the first error, but only after
// attempting all of them.
func (mw MultiWriter) Write(m Manifest) error {
	var firstErr error
	for _, w := range mw.Writers {
		if err := w.Write(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
