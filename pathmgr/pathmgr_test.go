package pathmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ExplicitRootWins(t *testing.T) {
	m, err := New(WithRoot("/data/proj"))
	require.NoError(t, err)
	assert.Equal(t, "/data/proj", m.ProjectDir())
}

func TestNew_EnvFallback(t *testing.T) {
	t.Setenv("PROJECT_DIR", "")
	t.Setenv("PROJECT_DIR_NAME", "study42")
	m, err := New(WithMountPrefix("/mnt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/mnt", "study42"), m.ProjectDir())
}

func TestNew_Unresolved(t *testing.T) {
	t.Setenv("PROJECT_DIR", "")
	t.Setenv("PROJECT_DIR_NAME", "")
	_, err := New()
	require.Error(t, err)
	assert.Equal(t, "CONFIG_ERROR", err.(interface{ Code() string }).Code())
}

func TestBIDSSubjectID(t *testing.T) {
	assert.Equal(t, "sub-101", BIDSSubjectID("101"))
	assert.Equal(t, "sub-101", BIDSSubjectID("sub-101"))
}

func TestPathHelpers(t *testing.T) {
	m, err := New(WithRoot("/proj"))
	require.NoError(t, err)

	assert.Equal(t, "/proj/sub-101", m.SourcedataDir("101"))
	assert.Equal(t, "/proj/derivatives", m.DerivativesDir())
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101", m.SimNIBSDir("101"))
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101/m2m_101", m.M2MDir("101"))
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101/m2m_101/eeg_positions", m.EEGPositionsDir("101"))
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101/leadfield", m.LeadfieldDir("101"))
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101/Simulations", m.SimulationDir("101", ""))
	assert.Equal(t, "/proj/derivatives/SimNIBS/sub-101/Simulations/TI_F3_F4", m.SimulationDir("101", "TI_F3_F4"))
	assert.Equal(t, "/proj/derivatives/ti-toolbox/flex_search/sub-101", m.FlexSearchDir("101", ""))
	assert.Equal(t, "/proj/derivatives/ti-toolbox/flex_search/sub-101/run-01", m.FlexSearchDir("101", "run-01"))
	assert.Equal(t, "/proj/derivatives/reports", m.ReportsDir())
	assert.Equal(t, "/proj/derivatives/tit/logs/sub-101", m.LogsDir("101"))
	assert.Equal(t, "/proj/derivatives/temp", m.TempDir())
	assert.Equal(t, "/proj/code/ti-toolbox/config", m.MontageConfigDir())
	assert.Equal(t, "/proj/code/ti-toolbox/config/montage_list.json", m.MontageListPath())
}

func TestListSubjects_MergesAndNaturalSorts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub-9"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub-10"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "derivatives", "SimNIBS", "sub-2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "derivatives", "SimNIBS", "sub-9"), 0o755))

	m, err := New(WithRoot(root))
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "9", "10"}, m.ListSubjects())
}

func TestListSubjects_IncludesSourcedata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sourcedata", "sub-5"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "derivatives", "SimNIBS", "sub-9"), 0o755))

	m, err := New(WithRoot(root))
	require.NoError(t, err)

	assert.Equal(t, []string{"5", "9"}, m.ListSubjects())
}

func TestListSubjects_NoRoots(t *testing.T) {
	m, err := New(WithRoot(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, []string{}, append([]string{}, m.ListSubjects()...))
}

func TestListEEGCaps_DedupesCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	m, err := New(WithRoot(root))
	require.NoError(t, err)

	dir := m.EEGPositionsDir("101")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"EGI256.csv", "egi256.csv", "easycap.CSV", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	caps := m.ListEEGCaps("101")
	assert.Len(t, caps, 2)
}

func TestListEEGCaps_MissingSubject(t *testing.T) {
	m, err := New(WithRoot(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, []string{}, m.ListEEGCaps("nonexistent"))
}

func TestListSimulations_NaturalSort(t *testing.T) {
	root := t.TempDir()
	m, err := New(WithRoot(root))
	require.NoError(t, err)

	simDir := m.SimulationDir("101", "")
	for _, name := range []string{"TI_run2", "TI_run10", "TI_run1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(simDir, name), 0o755))
	}

	assert.Equal(t, []string{"TI_run1", "TI_run2", "TI_run10"}, m.ListSimulations("101"))
}

func TestUsableSubject(t *testing.T) {
	root := t.TempDir()
	m, err := New(WithRoot(root))
	require.NoError(t, err)

	assert.False(t, m.UsableSubject("101"))

	m2m := m.M2MDir("101")
	require.NoError(t, os.MkdirAll(m.EEGPositionsDir("101"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m2m, "101.msh"), []byte("mesh"), 0o644))

	assert.True(t, m.UsableSubject("101"))
}

func TestGetAnalysisOutputDir_Deterministic(t *testing.T) {
	m, err := New(WithRoot("/proj"))
	require.NoError(t, err)

	dir1, err := m.GetAnalysisOutputDir("101", "voxel-roi", map[string]string{
		"space": "mni", "roi": "hippocampus",
	})
	require.NoError(t, err)
	dir2, err := m.GetAnalysisOutputDir("101", "voxel-roi", map[string]string{
		"space": "mni", "roi": "hippocampus",
	})
	require.NoError(t, err)

	assert.Equal(t, dir1, dir2)
	assert.Equal(t, "/proj/derivatives/ti-toolbox/analysis/sub-101/voxel_roi/mni/hippocampus", dir1)
}

func TestGetAnalysisOutputDir_DefaultsOnMissingParams(t *testing.T) {
	m, err := New(WithRoot("/proj"))
	require.NoError(t, err)

	dir, err := m.GetAnalysisOutputDir("101", "group-mesh", nil)
	require.NoError(t, err)
	assert.Equal(t, "/proj/derivatives/ti-toolbox/analysis/sub-101/group_mesh/unspecified", dir)
}

func TestGetAnalysisOutputDir_UnknownKind(t *testing.T) {
	m, err := New(WithRoot("/proj"))
	require.NoError(t, err)

	_, err = m.GetAnalysisOutputDir("101", "bogus", nil)
	require.Error(t, err)
}

func TestSortNatural(t *testing.T) {
	items := []string{"sub-10", "sub-2", "sub-1", "sub-9"}
	sortNatural(items)
	assert.Equal(t, []string{"sub-1", "sub-2", "sub-9", "sub-10"}, items)
}
