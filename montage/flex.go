package montage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// FlexShape identifies the shape of a raw flex/freehand montage record.
type FlexShape string

const (
	FlexMapped    FlexShape = "flex_mapped"
	FlexOptimized FlexShape = "flex_optimized"
	FlexFreehand  FlexShape = "freehand_xyz"
)

// FlexRecord is the raw, loosely-typed shape a flex montage arrives in
// (from FLEX_MONTAGES_FILE). A flex-search run's electrode_positions.json
// decodes into ElectrodePositions instead.
type FlexRecord struct {
	Name               string      `json:"name"`
	Type               string      `json:"type"`
	Pairs              [][2]string `json:"pairs"`
	ElectrodePositions [][3]float64 `json:"electrode_positions"`
	EEGNet             string      `json:"eeg_net"`
}

// ParseFlex parses a raw flex record into a Montage. It dispatches on
// Type: flex_mapped builds a label-pair montage from Pairs[0] and
// Pairs[1]; flex_optimized and freehand_xyz build a coordinate-pair
// montage from the first four ElectrodePositions entries. Any other
// Type fails with ConfigError.
func ParseFlex(rec FlexRecord) (Montage, error) {
	switch FlexShape(rec.Type) {
	case FlexMapped:
		if len(rec.Pairs) < 2 {
			return Montage{}, titerrors.NewConfigError("montage", fmt.Sprintf("flex_mapped record %q needs 2 pairs, got %d", rec.Name, len(rec.Pairs)), nil)
		}
		return Montage{
			Name:  rec.Name,
			IsXYZ: false,
			EEGNet: rec.EEGNet,
			Pairs: []Pair{
				{Label1: rec.Pairs[0][0], Label2: rec.Pairs[0][1]},
				{Label1: rec.Pairs[1][0], Label2: rec.Pairs[1][1]},
			},
		}, nil

	case FlexOptimized, FlexFreehand:
		if len(rec.ElectrodePositions) < 4 {
			return Montage{}, titerrors.NewConfigError("montage", fmt.Sprintf("%s record %q needs at least 4 electrode positions, got %d", rec.Type, rec.Name, len(rec.ElectrodePositions)), nil)
		}
		ep := rec.ElectrodePositions
		return Montage{
			Name:  rec.Name,
			IsXYZ: true,
			Pairs: []Pair{
				{XYZ1: ep[0], XYZ2: ep[1]},
				{XYZ1: ep[2], XYZ2: ep[3]},
			},
		}, nil

	default:
		return Montage{}, titerrors.NewConfigError("montage", fmt.Sprintf("unknown flex montage type: %q", rec.Type), nil)
	}
}

// LoadFlexMontages reads flexFile (or FLEX_MONTAGES_FILE when empty) and
// returns zero or more raw records. A missing path or missing file is
// not an error — it yields an empty slice, matching the original's
// environment-optional ingestion.
func LoadFlexMontages(flexFile string) ([]FlexRecord, error) {
	if flexFile == "" {
		flexFile = os.Getenv("FLEX_MONTAGES_FILE")
	}
	if flexFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(flexFile); err != nil {
		return nil, nil
	}

	raw, err := os.ReadFile(flexFile)
	if err != nil {
		return nil, titerrors.NewIOError(flexFile, "failed to read flex montages file", err)
	}

	var asList []FlexRecord
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var wrapper struct {
		Montage *FlexRecord `json:"montage"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Montage != nil {
		return []FlexRecord{*wrapper.Montage}, nil
	}

	var bare FlexRecord
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, titerrors.NewConfigError("montage", fmt.Sprintf("flex montages file %q is not a recognized shape", flexFile), err)
	}
	return []FlexRecord{bare}, nil
}

// ParseFlexSearchName is the pure naming function for flex-derived
// montages: flex_<hemisphere>_<atlas|coords>_<region>_<goal>_<postproc>_
// <electrodeType>. It inspects searchName's prefix shape; a name it
// cannot classify becomes flex_spherical_coordinates_..._maxTI_<type>
// when it contains an underscore and flex_unknown_unknown_... otherwise,
// rather than failing outright — the caller treats a name that fails
// HasFlexPrefix as a skip-with-warning, not a hard error.
func ParseFlexSearchName(searchName, electrodeType string) string {
	name := strings.TrimSpace(searchName)
	parts := strings.Split(name, "_")

	switch {
	case strings.HasPrefix(name, "sphere_"):
		if len(parts) >= 3 {
			coordsPart := parts[1]
			goal := parts[len(parts)-2]
			postProc := parts[len(parts)-1]
			return fmt.Sprintf("flex_spherical_%s_%s_%s_%s", coordsPart, goal, postProc, electrodeType)
		}

	case strings.HasPrefix(name, "subcortical_"):
		if len(parts) >= 5 {
			atlas, region, goal, postProc := parts[1], parts[2], parts[3], parts[4]
			return fmt.Sprintf("flex_subcortical_%s_%s_%s_%s_%s", atlas, region, goal, postProc, electrodeType)
		}
		if len(parts) == 4 {
			atlas, region, goal := parts[1], parts[2], parts[3]
			return fmt.Sprintf("flex_subcortical_%s_%s_%s_maxTI_%s", atlas, region, goal, electrodeType)
		}
	}

	if len(parts) >= 5 && (parts[0] == "lh" || parts[0] == "rh") {
		hemisphere, atlas, region, goal, postProc := parts[0], parts[1], parts[2], parts[3], parts[4]
		return fmt.Sprintf("flex_%s_%s_%s_%s_%s_%s", hemisphere, atlas, region, goal, postProc, electrodeType)
	}

	if strings.HasPrefix(name, "lh.") || strings.HasPrefix(name, "rh.") {
		if len(parts) >= 3 {
			hemisphereRegion := parts[0]
			atlas := parts[1]
			goalPostproc := strings.Join(parts[2:], "_")

			var hemisphere, region string
			if idx := strings.Index(hemisphereRegion, "."); idx >= 0 {
				hemisphere, region = hemisphereRegion[:idx], hemisphereRegion[idx+1:]
			} else {
				hemisphere, region = "unknown", hemisphereRegion
			}

			var goal, postProc string
			if strings.Contains(goalPostproc, "_") {
				goalParts := strings.Split(goalPostproc, "_")
				region = goalParts[0]
				goal = "optimization"
				if len(goalParts) > 1 {
					goal = goalParts[1]
				}
				postProc = "maxTI"
				if len(goalParts) > 2 {
					postProc = strings.Join(goalParts[2:], "_")
				}
			} else {
				goal = goalPostproc
				postProc = "maxTI"
			}
			return fmt.Sprintf("flex_%s_%s_%s_%s_%s_%s", hemisphere, atlas, region, goal, postProc, electrodeType)
		}
	}

	if strings.Contains(name, "_") {
		hemisphere := "spherical"
		atlas := "coordinates"
		region := name
		if len(parts) > 1 {
			region = strings.Join(parts[:len(parts)-1], "_")
		}
		goal := "optimization"
		if len(parts) > 0 {
			goal = parts[len(parts)-1]
		}
		return fmt.Sprintf("flex_%s_%s_%s_%s_maxTI_%s", hemisphere, atlas, region, goal, electrodeType)
	}

	return fmt.Sprintf("flex_unknown_unknown_%s_optimization_maxTI_%s", name, electrodeType)
}

// HasFlexPrefix reports whether a generated montage name satisfies the
// naming contract's leading-token invariant.
func HasFlexPrefix(name string) bool {
	return strings.HasPrefix(name, "flex_")
}
