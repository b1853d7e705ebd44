// Package session builds a solver-ready Description for one montage: the
// value spec.md §3/§4.4 describes, sufficient for the solver collaborator
// to run without additional ambient state. Grounded field-for-field on
// _examples/original_source/tit/sim/session_builder.py.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ti-toolbox/tit-core/montage"
	"github.com/ti-toolbox/tit-core/pathmgr"
	"github.com/ti-toolbox/tit-core/simconfig"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// Electrode is one electrode within a pair: shape, geometry, placement,
// and current (amperes, signed).
type Electrode struct {
	ChannelNumber int
	Label         string      // set when the montage references an EEG cap
	XYZ           [3]float64  // set when the montage carries coordinates
	IsXYZ         bool
	Shape         simconfig.ElectrodeShape
	DimensionsMM  [2]float64
	ThicknessMM   [2]float64 // [gel, sponge]
}

// Pair is one electrode pair with its signed current.
type Pair struct {
	Electrodes      [2]Electrode
	CurrentsAmperes [2]float64
	TissueOverrides map[int]float64
}

// Description is the solver-ready session: head model path, anisotropy
// variant, EEG cap (when labels are used), per-pair currents, electrode
// geometry, DTI tensor path if present, output directory, and mapping
// flags.
type Description struct {
	Subject          string
	HeadMeshPath     string
	M2MDir           string
	AnisotropyType   simconfig.Conductivity
	EEGCapPath       string // empty when the montage carries XYZ coordinates
	DTITensorPath    string // empty when not present on disk
	OutputDir        string
	Mode             simconfig.SimulationMode
	Pairs            []Pair
	MapToSurf        bool
	MapToVol         bool
	MapToMNI         bool
	MapToFsavg       bool
	TissuesInNiftis  string
	OpenInGmsh       bool
}

// Builder produces Descriptions for one simulation Config.
type Builder struct {
	cfg        simconfig.Config
	pm         *pathmgr.Manager
	m2mDir     string
	meshFile   string
	tensorFile string
}

// NewBuilder resolves the paths a Builder needs once per Config: m2m
// directory, head mesh, and DTI tensor file.
func NewBuilder(cfg simconfig.Config, pm *pathmgr.Manager) *Builder {
	m2m := pm.M2MDir(cfg.Subject)
	return &Builder{
		cfg:        cfg,
		pm:         pm,
		m2mDir:     m2m,
		meshFile:   filepath.Join(m2m, cfg.Subject+".msh"),
		tensorFile: filepath.Join(m2m, "DTI_coregT1_tensor.nii.gz"),
	}
}

// Build constructs the Description for one montage, writing the solver's
// output to outputDir. It fails with IOError if the head mesh is missing,
// or with ConfigError if the montage's pair count is neither 2 nor 4.
func (b *Builder) Build(m montage.Montage, outputDir string) (Description, error) {
	if err := m.Validate(); err != nil {
		return Description{}, err
	}
	if _, err := os.Stat(b.meshFile); err != nil {
		return Description{}, titerrors.NewIOError(b.meshFile, "subject head mesh not found", err)
	}

	mode := simconfig.ModeForPairCount(len(m.Pairs))

	desc := Description{
		Subject:         b.cfg.Subject,
		HeadMeshPath:    b.meshFile,
		M2MDir:          b.m2mDir,
		AnisotropyType:  b.cfg.Conductivity,
		OutputDir:       outputDir,
		Mode:            mode,
		MapToSurf:       b.cfg.MapToSurf,
		MapToVol:        b.cfg.MapToVol,
		MapToMNI:        b.cfg.MapToMNI,
		MapToFsavg:      b.cfg.MapToFsavg,
		TissuesInNiftis: b.cfg.TissuesInNifti,
		OpenInGmsh:      b.cfg.OpenInGmsh,
	}

	if !m.IsXYZ {
		net := m.EEGNet
		if net == "" {
			net = b.cfg.EEGNet
		}
		desc.EEGCapPath = filepath.Join(b.m2mDir, "eeg_positions", net)
	}

	if _, err := os.Stat(b.tensorFile); err == nil {
		desc.DTITensorPath = b.tensorFile
	}

	overrides := tissueOverrides(b.cfg.TissueConductivity)

	switch mode {
	case simconfig.ModeTI:
		desc.Pairs = b.buildTIPairs(m, overrides)
	case simconfig.ModeMTI:
		desc.Pairs = b.buildMTIPairs(m, overrides)
	}

	return desc, nil
}

func (b *Builder) buildTIPairs(m montage.Montage, overrides map[int]float64) []Pair {
	intensities := b.cfg.Intensities
	p1A := intensities.Pair1 / 1000.0
	p2A := intensities.Pair2 / 1000.0

	return []Pair{
		b.buildPair(1, m.Pairs[0], p1A, overrides),
		b.buildPair(2, m.Pairs[1], p2A, overrides),
	}
}

func (b *Builder) buildMTIPairs(m montage.Montage, overrides map[int]float64) []Pair {
	intensities := b.cfg.Intensities
	currentsA := [4]float64{
		intensities.Pair1 / 1000.0,
		intensities.Pair2 / 1000.0,
		intensities.Pair3 / 1000.0,
		intensities.Pair4 / 1000.0,
	}

	n := len(m.Pairs)
	if n > 4 {
		n = 4
	}
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, b.buildPair(i+1, m.Pairs[i], currentsA[i], overrides))
	}
	return pairs
}

func (b *Builder) buildPair(pairNumber int, mp montage.Pair, currentA float64, overrides map[int]float64) Pair {
	e := b.cfg.Electrode
	mk := func(channel int, label string, xyz [3]float64, isXYZ bool) Electrode {
		return Electrode{
			ChannelNumber: channel,
			Label:         label,
			XYZ:           xyz,
			IsXYZ:         isXYZ,
			Shape:         e.Shape,
			DimensionsMM:  e.DimensionsMM,
			ThicknessMM:   [2]float64{e.GelThicknessMM, e.SpongeThickness},
		}
	}

	var e1, e2 Electrode
	if mp.Label1 != "" || mp.Label2 != "" {
		e1 = mk(1, mp.Label1, [3]float64{}, false)
		e2 = mk(2, mp.Label2, [3]float64{}, false)
	} else {
		e1 = mk(1, "", mp.XYZ1, true)
		e2 = mk(2, "", mp.XYZ2, true)
	}

	return Pair{
		Electrodes:      [2]Electrode{e1, e2},
		CurrentsAmperes: [2]float64{currentA, -currentA},
		TissueOverrides: overrides,
	}
}

// tissueOverrides copies the map so each Pair carries an independent,
// already-resolved view; see simconfig.LoadEnvironment for the guarded
// per-tissue-index expression evaluation this value feeds.
func tissueOverrides(m map[int]float64) map[int]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TissueCondEnvKey renders "TISSUE_COND_<k>" for a 1-based tissue index,
// matching _apply_tissue_conductivities's env_var naming. simconfig.
// LoadEnvironment is where this module reads the variable (see its
// ledger entry); Session Builder only consumes the already-resolved
// Config.TissueConductivity map, keeping Build a pure function of Config.
func TissueCondEnvKey(index int) string {
	return fmt.Sprintf("TISSUE_COND_%d", index)
}
