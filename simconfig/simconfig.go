// Package simconfig is the typed, validated configuration model for a
// simulation invocation: electrode intensities, parallelism, conductivity
// selection, mapping flags, and environment-sourced overrides.
package simconfig

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// Conductivity selects the head-model conductivity variant handed to the
// solver.
type Conductivity string

const (
	ConductivityScalar    Conductivity = "scalar"
	ConductivityVN        Conductivity = "vn"
	ConductivityDirection Conductivity = "dir"
	ConductivityMC        Conductivity = "mc"
)

// ElectrodeShape selects the electrode geometry used for every pair in a
// session.
type ElectrodeShape string

const (
	ElectrodeRect    ElectrodeShape = "rect"
	ElectrodeEllipse ElectrodeShape = "ellipse"
)

// SimulationMode is derived from montage pair count, never stored.
type SimulationMode string

const (
	ModeTI  SimulationMode = "TI"
	ModeMTI SimulationMode = "mTI"
)

// ModeForPairCount derives SimulationMode from a montage's pair count.
// Any count other than 2 or 4 is a caller bug, not a runtime condition;
// callers are expected to validate montage shape before calling this.
func ModeForPairCount(n int) SimulationMode {
	if n == 4 {
		return ModeMTI
	}
	return ModeTI
}

// IntensityConfig holds the four per-pair currents in milliamperes.
// Conversion to amperes happens only at session-build time.
type IntensityConfig struct {
	Pair1, Pair2, Pair3, Pair4 float64
}

// ParseIntensity parses "a[,b[,c,d]]": one value sets all four pairs
// equal; two values set {pair1,pair2} and default {pair3,pair4} to 1.0mA;
// four values set all pairs explicitly. Any other cardinality fails.
func ParseIntensity(spec string) (IntensityConfig, error) {
	parts := strings.Split(spec, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return IntensityConfig{}, titerrors.NewConfigError("simconfig", fmt.Sprintf("invalid intensity value %q", p), err)
		}
		values = append(values, v)
	}

	switch len(values) {
	case 1:
		v := values[0]
		return IntensityConfig{Pair1: v, Pair2: v, Pair3: v, Pair4: v}, nil
	case 2:
		return IntensityConfig{Pair1: values[0], Pair2: values[1], Pair3: 1.0, Pair4: 1.0}, nil
	case 4:
		return IntensityConfig{Pair1: values[0], Pair2: values[1], Pair3: values[2], Pair4: values[3]}, nil
	default:
		return IntensityConfig{}, titerrors.NewConfigError("simconfig", fmt.Sprintf("intensity spec %q must carry 1, 2, or 4 values, got %d", spec, len(values)), nil)
	}
}

// ForPair returns the configured milliamp current for a 1-indexed pair
// number (1..4).
func (c IntensityConfig) ForPair(pair int) float64 {
	switch pair {
	case 1:
		return c.Pair1
	case 2:
		return c.Pair2
	case 3:
		return c.Pair3
	case 4:
		return c.Pair4
	default:
		return 0
	}
}

// ParallelConfig governs concurrent montage execution in the Runner.
type ParallelConfig struct {
	Enabled    bool
	MaxWorkers int
}

// Resolve returns a copy with MaxWorkers set to a positive value:
// min(4, max(1, cpu_count/2)) when MaxWorkers <= 0, using the given
// cpuCount (pass runtime.NumCPU() in production; 4 when undetectable),
// otherwise MaxWorkers unchanged.
func (c ParallelConfig) Resolve(cpuCount int) ParallelConfig {
	if c.MaxWorkers > 0 {
		return c
	}
	if cpuCount <= 0 {
		cpuCount = 4
	}
	workers := cpuCount / 2
	if workers < 1 {
		workers = 1
	}
	if workers > 4 {
		workers = 4
	}
	c.MaxWorkers = workers
	return c
}

// EffectiveWorkers returns MaxWorkers when Enabled and MaxWorkers is
// positive, 1 otherwise; an unresolved MaxWorkers of 0 counts as 1.
func (c ParallelConfig) EffectiveWorkers() int {
	if !c.Enabled {
		return 1
	}
	if c.MaxWorkers <= 0 {
		return 1
	}
	return c.MaxWorkers
}

// GetMemoryWarning returns a non-empty advisory when parallel execution is
// enabled with more than two workers, since each worker holds a
// multi-gigabyte head mesh resident for the duration of its montage.
func (c ParallelConfig) GetMemoryWarning() string {
	if c.Enabled && c.MaxWorkers > 2 {
		return fmt.Sprintf("running %d parallel workers may exceed available memory; each worker holds a full head mesh in memory", c.MaxWorkers)
	}
	return ""
}

// ElectrodeConfig is the geometry shared by every electrode in a session.
type ElectrodeConfig struct {
	Shape            ElectrodeShape
	DimensionsMM     [2]float64
	GelThicknessMM   float64
	SpongeThickness  float64
}

// Validate checks the positivity invariants on electrode geometry.
func (c ElectrodeConfig) Validate() error {
	if c.DimensionsMM[0] <= 0 || c.DimensionsMM[1] <= 0 {
		return titerrors.NewConfigError("simconfig", "electrode dimensions must be positive", nil)
	}
	if c.GelThicknessMM <= 0 {
		return titerrors.NewConfigError("simconfig", "gel thickness must be positive", nil)
	}
	if c.SpongeThickness <= 0 {
		return titerrors.NewConfigError("simconfig", "sponge thickness must be positive", nil)
	}
	return nil
}

// Config is the full, typed simulation configuration for one invocation.
// It is the Go form of the original implementation's SimulationConfig,
// including the mapping-output fields the distilled contract omits.
type Config struct {
	Subject      string
	Conductivity Conductivity
	Intensities  IntensityConfig
	Electrode    ElectrodeConfig
	EEGNet       string
	Parallel     ParallelConfig

	MapToSurf      bool
	MapToVol       bool
	MapToMNI       bool
	MapToFsavg     bool
	TissuesInNifti string
	OpenInGmsh     bool

	TissueConductivity map[int]float64
	SessionID          string
	FlexMontagesFile   string
}

// Validate runs the invariants Config must satisfy before it is handed to
// the Session Builder.
func (c Config) Validate() error {
	if c.Subject == "" {
		return titerrors.NewConfigError("simconfig", "subject is required", nil)
	}
	switch c.Conductivity {
	case ConductivityScalar, ConductivityVN, ConductivityDirection, ConductivityMC:
	default:
		return titerrors.NewConfigError("simconfig", fmt.Sprintf("unknown conductivity %q", c.Conductivity), nil)
	}
	return c.Electrode.Validate()
}

var (
	tissueCondProgramMu sync.Mutex
	tissueCondProgram   *vm.Program
)

// compiledTissueCondProgram compiles and caches the guarded expression
// that coerces a TISSUE_COND_<k> environment string to a float, mirroring
// the compile-once/run-many pattern pathmgr's template renderer uses for
// analysis output paths.
func compiledTissueCondProgram() (*vm.Program, error) {
	tissueCondProgramMu.Lock()
	defer tissueCondProgramMu.Unlock()
	if tissueCondProgram != nil {
		return tissueCondProgram, nil
	}
	program, err := expr.Compile("float(env)", expr.AsKind(reflect.Float64))
	if err != nil {
		return nil, err
	}
	tissueCondProgram = program
	return program, nil
}

// evalTissueCond runs the cached expression against one TISSUE_COND_<k>
// value, returning ok=false for anything float() can't coerce.
func evalTissueCond(raw string) (float64, bool) {
	program, err := compiledTissueCondProgram()
	if err != nil {
		return 0, false
	}
	out, err := expr.Run(program, map[string]any{"env": strings.TrimSpace(raw)})
	if err != nil {
		return 0, false
	}
	v, ok := out.(float64)
	return v, ok
}

// LoadEnvironment populates the environment-sourced fields of a Config:
// TissueConductivity from TISSUE_COND_<k>, SessionID from
// SIMULATION_SESSION_ID (generating one when unset), and
// FlexMontagesFile from FLEX_MONTAGES_FILE. Each TISSUE_COND_<k> value
// is evaluated through the guarded expression float(env), skipping the
// key on any compile or coercion failure, matching the original's
// tolerance for a partially-set override environment.
func LoadEnvironment(c Config) Config {
	c.TissueConductivity = map[int]float64{}
	for i := 1; i <= 16; i++ {
		key := fmt.Sprintf("TISSUE_COND_%d", i)
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		v, ok := evalTissueCond(raw)
		if !ok {
			continue
		}
		c.TissueConductivity[i] = v
	}

	if sid := os.Getenv("SIMULATION_SESSION_ID"); sid != "" {
		c.SessionID = sid
	} else if c.SessionID == "" {
		c.SessionID = uuid.New().String()
	}

	if f := os.Getenv("FLEX_MONTAGES_FILE"); f != "" {
		c.FlexMontagesFile = f
	}

	return c
}

// DefaultCPUCount returns runtime.NumCPU(), the production cpu_count
// source for ParallelConfig.Resolve.
func DefaultCPUCount() int {
	return runtime.NumCPU()
}
