package montage

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// NearestLabelMapper is the built-in fallback LabelMapper: it reads an EEG
// cap CSV directly (bypassing the SimNIBS CSV reader the original uses)
// and greedily assigns each optimized position to its nearest unclaimed
// cap label. This is not the Hungarian/linear-sum-assignment algorithm
// the original employs (no optimal-assignment library appears anywhere in
// the retrieval pack; see DESIGN.md), but it satisfies the same contract:
// a deterministic, dependency-free nearest-position labeling a caller can
// use when no more precise mapper is injected.
type NearestLabelMapper struct{}

func (NearestLabelMapper) Map(positions ElectrodePositions, eegCapCSVPath string) (MappingResult, error) {
	capPositions, capLabels, err := readCapPositions(eegCapCSVPath)
	if err != nil {
		return MappingResult{}, err
	}
	if len(capPositions) == 0 {
		return MappingResult{}, titerrors.NewIOError(eegCapCSVPath, "eeg cap contains no electrode positions", nil)
	}

	claimed := make([]bool, len(capPositions))
	var labels []string
	var mapped [][3]float64

	for _, p := range positions.OptimizedPositions {
		bestIdx := -1
		bestDist := math.Inf(1)
		for i, cp := range capPositions {
			if claimed[i] {
				continue
			}
			d := dist2(p, cp)
			if d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		claimed[bestIdx] = true
		labels = append(labels, capLabels[bestIdx])
		mapped = append(mapped, capPositions[bestIdx])
	}

	return MappingResult{MappedPositions: mapped, MappedLabels: labels}, nil
}

func dist2(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

// readCapPositions parses an EEG cap CSV with rows of the form
// "Electrode,x,y,z,label" (the common SimNIBS electrode-position shape),
// skipping rows that don't carry a label or numeric coordinates.
func readCapPositions(path string) ([][3]float64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, titerrors.NewIOError(path, "failed to open eeg cap csv", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var positions [][3]float64
	var labels []string

	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if len(record) < 5 {
			continue
		}
		kind := record[0]
		if kind != "Electrode" && kind != "ReferenceElectrode" {
			continue
		}
		x, ex := strconv.ParseFloat(record[1], 64)
		y, ey := strconv.ParseFloat(record[2], 64)
		z, ez := strconv.ParseFloat(record[3], 64)
		if ex != nil || ey != nil || ez != nil {
			continue
		}
		label := record[4]
		if label == "" {
			continue
		}
		positions = append(positions, [3]float64{x, y, z})
		labels = append(labels, label)
	}

	return positions, labels, nil
}
