package simconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntensity_OneValue(t *testing.T) {
	c, err := ParseIntensity("1.5")
	require.NoError(t, err)
	assert.Equal(t, IntensityConfig{Pair1: 1.5, Pair2: 1.5, Pair3: 1.5, Pair4: 1.5}, c)
}

func TestParseIntensity_TwoValues(t *testing.T) {
	c, err := ParseIntensity("1.0,2.0")
	require.NoError(t, err)
	assert.Equal(t, IntensityConfig{Pair1: 1.0, Pair2: 2.0, Pair3: 1.0, Pair4: 1.0}, c)
}

func TestParseIntensity_FourValues(t *testing.T) {
	c, err := ParseIntensity("1.0,2.0,3.0,4.0")
	require.NoError(t, err)
	assert.Equal(t, IntensityConfig{Pair1: 1.0, Pair2: 2.0, Pair3: 3.0, Pair4: 4.0}, c)
}

func TestParseIntensity_InvalidCardinality(t *testing.T) {
	_, err := ParseIntensity("1.0,2.0,3.0")
	require.Error(t, err)
	assert.Equal(t, "CONFIG_ERROR", err.(interface{ Code() string }).Code())
}

func TestParseIntensity_NonNumeric(t *testing.T) {
	_, err := ParseIntensity("abc")
	require.Error(t, err)
}

func TestParallelConfig_ResolveOverride(t *testing.T) {
	c := ParallelConfig{Enabled: true, MaxWorkers: 6}
	resolved := c.Resolve(8)
	assert.Equal(t, 6, resolved.MaxWorkers)
}

func TestParallelConfig_ResolveAuto(t *testing.T) {
	cases := []struct {
		cpu      int
		expected int
	}{
		{cpu: 0, expected: 2},  // falls back to 4 -> 4/2=2
		{cpu: 1, expected: 1},
		{cpu: 2, expected: 1},
		{cpu: 8, expected: 4},
		{cpu: 20, expected: 4},
	}
	for _, tc := range cases {
		c := ParallelConfig{Enabled: true, MaxWorkers: 0}
		resolved := c.Resolve(tc.cpu)
		assert.Equal(t, tc.expected, resolved.MaxWorkers, "cpu=%d", tc.cpu)
	}
}

func TestParallelConfig_EffectiveWorkers(t *testing.T) {
	assert.Equal(t, 1, ParallelConfig{Enabled: false, MaxWorkers: 4}.EffectiveWorkers())
	assert.Equal(t, 4, ParallelConfig{Enabled: true, MaxWorkers: 4}.EffectiveWorkers())
}

func TestParallelConfig_GetMemoryWarning(t *testing.T) {
	assert.Empty(t, ParallelConfig{Enabled: true, MaxWorkers: 2}.GetMemoryWarning())
	assert.NotEmpty(t, ParallelConfig{Enabled: true, MaxWorkers: 3}.GetMemoryWarning())
	assert.Empty(t, ParallelConfig{Enabled: false, MaxWorkers: 8}.GetMemoryWarning())
}

func TestModeForPairCount(t *testing.T) {
	assert.Equal(t, ModeTI, ModeForPairCount(2))
	assert.Equal(t, ModeMTI, ModeForPairCount(4))
}

func TestElectrodeConfig_Validate(t *testing.T) {
	valid := ElectrodeConfig{Shape: ElectrodeRect, DimensionsMM: [2]float64{50, 50}, GelThicknessMM: 2, SpongeThickness: 3}
	assert.NoError(t, valid.Validate())

	invalid := valid
	invalid.DimensionsMM[0] = 0
	assert.Error(t, invalid.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		Subject:      "101",
		Conductivity: ConductivityScalar,
		Electrode:    ElectrodeConfig{Shape: ElectrodeRect, DimensionsMM: [2]float64{50, 50}, GelThicknessMM: 2, SpongeThickness: 3},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Subject = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvironment_TissueConductivity(t *testing.T) {
	t.Setenv("TISSUE_COND_1", "0.126")
	t.Setenv("TISSUE_COND_2", "not-a-number")
	t.Setenv("SIMULATION_SESSION_ID", "fixed-session")
	t.Setenv("FLEX_MONTAGES_FILE", "/tmp/flex.json")

	cfg := LoadEnvironment(Config{})

	assert.Equal(t, 0.126, cfg.TissueConductivity[1])
	_, ok := cfg.TissueConductivity[2]
	assert.False(t, ok, "malformed override should be silently skipped")
	assert.Equal(t, "fixed-session", cfg.SessionID)
	assert.Equal(t, "/tmp/flex.json", cfg.FlexMontagesFile)
}

func TestLoadEnvironment_GeneratesSessionID(t *testing.T) {
	t.Setenv("SIMULATION_SESSION_ID", "")
	cfg := LoadEnvironment(Config{})
	assert.NotEmpty(t, cfg.SessionID)
}
