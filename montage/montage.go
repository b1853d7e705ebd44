// Package montage persists and retrieves electrode montages, and derives
// montages from flex-search and freehand sources. montage_list.json is the
// authoritative on-disk store; any secondary persistence mirrors it.
package montage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// Mode selects which bucket of montage_list.json a montage belongs to.
type Mode string

const (
	ModeUnipolar  Mode = "U"
	ModeMultipola Mode = "M"
)

func (m Mode) key() string {
	if strings.EqualFold(string(m), "U") {
		return "uni_polar_montages"
	}
	return "multi_polar_montages"
}

// Pair is a single electrode pair: either two cap-label references, or
// two XYZ coordinate triples.
type Pair struct {
	Label1, Label2 string
	XYZ1, XYZ2     [3]float64
}

// Montage is a persisted or derived electrode configuration.
type Montage struct {
	Name   string
	Pairs  []Pair
	IsXYZ  bool
	EEGNet string
}

// SimulationMode derives TI/mTI from pair count; callers validate shape
// before relying on this.
func (m Montage) SimulationMode() string {
	if len(m.Pairs) == 4 {
		return "mTI"
	}
	return "TI"
}

// Validate checks the montage shape invariants from the data model:
// 2 or 4 pairs, eeg_net required unless is_xyz.
func (m Montage) Validate() error {
	if len(m.Pairs) != 2 && len(m.Pairs) != 4 {
		return titerrors.NewConfigError("montage", fmt.Sprintf("montage %q must have 2 or 4 pairs, got %d", m.Name, len(m.Pairs)), nil)
	}
	if !m.IsXYZ && m.EEGNet == "" {
		return titerrors.NewConfigError("montage", fmt.Sprintf("montage %q requires an eeg_net unless is_xyz", m.Name), nil)
	}
	return nil
}

// NetMontages is what Store.Load returns for one EEG net.
type NetMontages struct {
	Unipolar   map[string][][2]string `json:"uni_polar_montages"`
	Multipolar map[string][][2]string `json:"multi_polar_montages"`
}

func emptyNetMontages() NetMontages {
	return NetMontages{Unipolar: map[string][][2]string{}, Multipolar: map[string][][2]string{}}
}

// Store is the persistence contract for labeled montages.
type Store interface {
	EnsureMontageFile() error
	Load(net string) (NetMontages, error)
	Upsert(net, name string, pairs [][2]string, mode Mode) error
	ListNames(net string, mode Mode) ([]string, error)
}

type fileSchema struct {
	Nets map[string]NetMontages `json:"nets"`
}

// JSONFileStore is the spec-mandated montage_list.json store: single
// writer, advisory-locked, fsync+rename on every write.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore returns a store rooted at the given montage_list.json
// path (typically Manager.MontageListPath()).
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// EnsureMontageFile creates montage_list.json with the default net
// skeleton if absent, and best-effort group-writes its directory.
func (s *JSONFileStore) EnsureMontageFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked()
}

func (s *JSONFileStore) ensureLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return titerrors.NewIOError(dir, "failed to create montage config directory", err)
	}
	_ = os.Chmod(dir, 0o770)

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	initial := fileSchema{Nets: map[string]NetMontages{
		"EEG10-10_UI_Jurak_2007.csv": emptyNetMontages(),
	}}
	return s.writeLocked(initial)
}

func (s *JSONFileStore) readLocked() (fileSchema, error) {
	if err := s.ensureLocked(); err != nil {
		return fileSchema{}, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fileSchema{}, titerrors.NewIOError(s.path, "failed to read montage_list.json", err)
	}
	var data fileSchema
	if err := json.Unmarshal(raw, &data); err != nil {
		return fileSchema{}, titerrors.NewConfigError("montage", "montage_list.json is not valid JSON", err)
	}
	if data.Nets == nil {
		data.Nets = map[string]NetMontages{}
	}
	return data, nil
}

// writeLocked performs the fsync+atomic-rename single-writer discipline:
// write to a temp file in the same directory, fsync it, then rename over
// the target. Cross-process callers additionally take the .lock sentinel
// via withFileLock.
func (s *JSONFileStore) writeLocked(data fileSchema) error {
	return withFileLock(s.path, func() error {
		body, err := json.MarshalIndent(data, "", "    ")
		if err != nil {
			return titerrors.NewConfigError("montage", "failed to marshal montage_list.json", err)
		}

		tmp := s.path + ".tmp"
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return titerrors.NewIOError(tmp, "failed to open montage_list.json.tmp", err)
		}
		if _, err := f.Write(body); err != nil {
			f.Close()
			return titerrors.NewIOError(tmp, "failed to write montage_list.json.tmp", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return titerrors.NewIOError(tmp, "failed to fsync montage_list.json.tmp", err)
		}
		if err := f.Close(); err != nil {
			return titerrors.NewIOError(tmp, "failed to close montage_list.json.tmp", err)
		}
		if err := os.Rename(tmp, s.path); err != nil {
			return titerrors.NewIOError(s.path, "failed to rename montage_list.json.tmp into place", err)
		}
		_ = os.Chmod(s.path, 0o770)
		return nil
	})
}

// Load returns the uni/multi-polar montage maps for net. A missing net is
// not an error; it yields empty structures.
func (s *JSONFileStore) Load(net string) (NetMontages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return NetMontages{}, err
	}
	nm, ok := data.Nets[net]
	if !ok {
		return emptyNetMontages(), nil
	}
	if nm.Unipolar == nil {
		nm.Unipolar = map[string][][2]string{}
	}
	if nm.Multipolar == nil {
		nm.Multipolar = map[string][][2]string{}
	}
	return nm, nil
}

// Upsert creates or overwrites a montage entry under net/mode.
func (s *JSONFileStore) Upsert(net, name string, pairs [][2]string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	nm, ok := data.Nets[net]
	if !ok {
		nm = emptyNetMontages()
	}
	if nm.Unipolar == nil {
		nm.Unipolar = map[string][][2]string{}
	}
	if nm.Multipolar == nil {
		nm.Multipolar = map[string][][2]string{}
	}
	if mode.key() == ModeUnipolar.key() {
		nm.Unipolar[name] = pairs
	} else {
		nm.Multipolar[name] = pairs
	}
	data.Nets[net] = nm

	return s.writeLocked(data)
}

// ListNames returns the sorted montage names for net/mode. Never errors
// for a missing net.
func (s *JSONFileStore) ListNames(net string, mode Mode) ([]string, error) {
	nm, err := s.Load(net)
	if err != nil {
		return nil, err
	}
	var bucket map[string][][2]string
	if mode.key() == ModeUnipolar.key() {
		bucket = nm.Unipolar
	} else {
		bucket = nm.Multipolar
	}
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
