package montage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/pathmgr"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// ElectrodePositions is the decoded shape of a flex-search run's
// electrode_positions.json.
type ElectrodePositions struct {
	OptimizedPositions  [][3]float64 `json:"optimized_positions"`
	ChannelArrayIndices []int        `json:"channel_array_indices,omitempty"`
}

// MappingResult is the decoded (or produced) shape of a flex-search run's
// electrode_mapping_<net>.json.
type MappingResult struct {
	MappedPositions [][3]float64 `json:"mapped_positions"`
	MappedLabels    []string     `json:"mapped_labels"`
	EEGNet          string       `json:"eeg_net,omitempty"`
}

// LabelMapper is the label-mapping collaborator from spec.md §6 item 6:
// given a run's optimized electrode positions and a target EEG cap CSV,
// produce a mapping of each optimized position onto the nearest cap
// label. The core does not implement the matching algorithm itself (the
// original uses a Hungarian/linear-sum-assignment solver); callers inject
// a concrete implementation, or rely on NearestLabelMapper as a
// dependency-free fallback.
type LabelMapper interface {
	Map(positions ElectrodePositions, eegCapCSVPath string) (MappingResult, error)
}

// FreehandFlexEEGNet is the synthetic EEG cap sentinel the original
// assigns to XYZ-coordinate flex montages, consulted by the Runner's
// visualization-skip rule (spec.md §9 open question (a)).
const FreehandFlexEEGNet = "flex_mode"

// DeriveFromFlexSearch builds up to two montages from one flex-search
// run: an "*_optimized" montage (IsXYZ=true) when useOptimized and the
// run's electrode_positions.json carries at least four optimized
// positions, and an "*_mapped" montage (IsXYZ=false) when useMapped and
// at least four labels can be resolved, either from a cached mapping
// file or by invoking mapper. At least one of useMapped/useOptimized
// must be true. A derived name that fails HasFlexPrefix is rejected:
// logged via log (nil is safe) and skipped, never returned to the
// caller.
func DeriveFromFlexSearch(pm *pathmgr.Manager, subject, runName string, useMapped, useOptimized bool, eegNet string, mapper LabelMapper, log *monitoring.Logger) ([]Montage, error) {
	if log == nil {
		log = monitoring.NewDiscardLogger()
	}
	if !useMapped && !useOptimized {
		return nil, titerrors.NewConfigError("montage", "derive_from_flex_search requires use_mapped or use_optimized", nil)
	}

	runDir := pm.FlexSearchDir(subject, runName)
	positionsPath := filepath.Join(runDir, "electrode_positions.json")
	raw, err := os.ReadFile(positionsPath)
	if err != nil {
		return nil, titerrors.NewIOError(positionsPath, "electrode_positions.json not found for flex-search run", err)
	}
	var positions ElectrodePositions
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, titerrors.NewConfigError("montage", fmt.Sprintf("electrode_positions.json for run %q is not valid JSON", runName), err)
	}

	var out []Montage

	if useOptimized && len(positions.OptimizedPositions) >= 4 {
		ep := positions.OptimizedPositions
		name := ParseFlexSearchName(runName, "optimized")
		if !HasFlexPrefix(name) {
			log.MontageSkipped(name, "derived montage name does not start with flex_")
		} else {
			out = append(out, Montage{
				Name:   name,
				IsXYZ:  true,
				EEGNet: FreehandFlexEEGNet,
				Pairs: []Pair{
					{XYZ1: ep[0], XYZ2: ep[1]},
					{XYZ1: ep[2], XYZ2: ep[3]},
				},
			})
		}
	}

	if useMapped {
		if eegNet == "" {
			return out, nil
		}
		eegCapPath := filepath.Join(pm.EEGPositionsDir(subject), eegNet)
		if _, err := os.Stat(eegCapPath); err != nil {
			return out, nil
		}

		mappingPath := filepath.Join(runDir, "electrode_mapping_"+strings.TrimSuffix(eegNet, ".csv")+".json")
		mapping, err := loadMappingFile(mappingPath)
		if err != nil {
			if mapper == nil {
				return out, nil
			}
			mapping, err = mapper.Map(positions, eegCapPath)
			if err != nil {
				return out, nil
			}
			_ = saveMappingFile(mappingPath, mapping, eegNet)
		}

		if len(mapping.MappedLabels) >= 4 {
			labels := mapping.MappedLabels
			name := ParseFlexSearchName(runName, "mapped")
			if !HasFlexPrefix(name) {
				log.MontageSkipped(name, "derived montage name does not start with flex_")
			} else {
				out = append(out, Montage{
					Name:   name,
					IsXYZ:  false,
					EEGNet: eegNet,
					Pairs: []Pair{
						{Label1: labels[0], Label2: labels[1]},
						{Label1: labels[2], Label2: labels[3]},
					},
				})
			}
		}
	}

	return out, nil
}

func loadMappingFile(path string) (MappingResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MappingResult{}, err
	}
	var m MappingResult
	if err := json.Unmarshal(raw, &m); err != nil {
		return MappingResult{}, err
	}
	return m, nil
}

func saveMappingFile(path string, m MappingResult, eegNet string) error {
	m.EEGNet = eegNet
	body, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
