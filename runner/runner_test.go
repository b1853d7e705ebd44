package runner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ti-toolbox/tit-core/montage"
	"github.com/ti-toolbox/tit-core/pathmgr"
	"github.com/ti-toolbox/tit-core/postprocess"
	"github.com/ti-toolbox/tit-core/session"
	"github.com/ti-toolbox/tit-core/simconfig"
	"github.com/ti-toolbox/tit-core/tikernel"
)

type fakeSolver struct {
	mu       sync.Mutex
	calls    []string
	failName string
}

func (f *fakeSolver) Run(ctx context.Context, desc session.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, desc.OutputDir)
	if filepath.Base(filepath.Dir(desc.OutputDir)) == f.failName {
		return assertError("solver configured to fail")
	}
	return nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

// fakeMeshIO satisfies postprocess.MeshIO with enough data for ProcessTI
// to run end to end without a real mesh file format.
type fakeMeshIO struct{}

func (fakeMeshIO) ReadMesh(path string) (*postprocess.Mesh, error) {
	return &postprocess.Mesh{
		ElementTags:         []int{2, 2},
		ElementVectorFields: map[string][]tikernel.Vec3{"E": {{1, 0, 0}, {2, 0, 0}}},
	}, nil
}

func (fakeMeshIO) WriteMesh(path string, m *postprocess.Mesh, visibleTags []int, visibleFields []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte("mesh"), 0o644)
}

func setupProject(t *testing.T) (*pathmgr.Manager, simconfig.Config) {
	t.Helper()
	root := t.TempDir()
	pm, err := pathmgr.New(pathmgr.WithRoot(root))
	require.NoError(t, err)

	m2m := pm.M2MDir("101")
	require.NoError(t, os.MkdirAll(m2m, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m2m, "101.msh"), []byte("head"), 0o644))

	cfg := simconfig.Config{
		Subject:      "101",
		Conductivity: simconfig.ConductivityScalar,
		Intensities:  simconfig.IntensityConfig{Pair1: 2, Pair2: 2, Pair3: 1, Pair4: 1},
		Electrode: simconfig.ElectrodeConfig{
			Shape:           simconfig.ElectrodeRect,
			DimensionsMM:    [2]float64{5, 7},
			GelThicknessMM:  2,
			SpongeThickness: 3,
		},
		EEGNet: "EEG10-10_UI_Jurak_2007.csv",
	}
	return pm, cfg
}

func twoPairMontage(name string) montage.Montage {
	return montage.Montage{
		Name:   name,
		EEGNet: "EEG10-10_UI_Jurak_2007.csv",
		Pairs: []montage.Pair{
			{Label1: "F3", Label2: "F4"},
			{Label1: "C3", Label2: "C4"},
		},
	}
}

func TestRun_SequentialOrderingAndStatuses(t *testing.T) {
	pm, cfg := setupProject(t)
	solver := &fakeSolver{failName: "bad"}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	montages := []montage.Montage{twoPairMontage("good1"), twoPairMontage("bad"), twoPairMontage("good2")}
	results := r.Run(context.Background(), montages)

	require.Len(t, results, 3)
	assert.Equal(t, "good1", results[0].MontageName)
	assert.Equal(t, "completed", results[0].Status)
	assert.Equal(t, "bad", results[1].MontageName)
	assert.Equal(t, "failed", results[1].Status)
	assert.Equal(t, "good2", results[2].MontageName)
	assert.Equal(t, "completed", results[2].Status)

	for i, res := range results {
		assert.Equal(t, i, res.SubmissionIndex)
	}
}

func TestRun_ParallelPolicyRequiresEnabledMultipleWorkers(t *testing.T) {
	pm, cfg := setupProject(t)
	cfg.Parallel = simconfig.ParallelConfig{Enabled: true, MaxWorkers: 3}
	solver := &fakeSolver{}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	montages := []montage.Montage{twoPairMontage("a"), twoPairMontage("b"), twoPairMontage("c")}
	results := r.Run(context.Background(), montages)

	require.Len(t, results, 3)
	names := make([]string, len(results))
	for i, res := range results {
		names[i] = res.MontageName
		assert.Equal(t, "completed", res.Status)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestRun_SingleMontageNeverParallel(t *testing.T) {
	pm, cfg := setupProject(t)
	cfg.Parallel = simconfig.ParallelConfig{Enabled: true, MaxWorkers: 4}
	solver := &fakeSolver{}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	results := r.Run(context.Background(), []montage.Montage{twoPairMontage("solo")})
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)
}

func TestRun_CancelledContextStopsFurtherSubmission(t *testing.T) {
	pm, cfg := setupProject(t)
	solver := &fakeSolver{}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := r.Run(ctx, []montage.Montage{twoPairMontage("never")})
	assert.Empty(t, results)
}

func TestRun_SkipsVisualizationForFlexModeSentinel(t *testing.T) {
	pm, cfg := setupProject(t)
	solver := &fakeSolver{}
	viz := &recordingVisualizer{}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithVisualizer(viz), WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	m := twoPairMontage("flexy")
	m.EEGNet = FlexModeSentinel
	_ = r.Run(context.Background(), []montage.Montage{m})
	assert.False(t, viz.called)
}

func TestRun_InvokesVisualizationForRealCap(t *testing.T) {
	pm, cfg := setupProject(t)
	solver := &fakeSolver{}
	viz := &recordingVisualizer{}
	r := New(cfg, pm, solver, fakeMeshIO{}, WithVisualizer(viz), WithPostOptions(postprocess.Options{
		NiftiConverter: noopNiftiConverter{},
		T1Converter:    noopT1Converter{},
		FieldExtractor: noopFieldExtractor{},
	}))

	_ = r.Run(context.Background(), []montage.Montage{twoPairMontage("capped")})
	assert.True(t, viz.called)
}

type recordingVisualizer struct {
	called bool
}

func (v *recordingVisualizer) Visualize(ctx context.Context, montageName, mode, eegCap, outputDir string, pairs []montage.Pair) error {
	v.called = true
	return nil
}

type noopNiftiConverter struct{}

func (noopNiftiConverter) Convert(ctx context.Context, meshDir, outputDir, m2mDir string) error {
	return nil
}

type noopT1Converter struct{}

func (noopT1Converter) Convert(ctx context.Context, m2mDir, subjectID string) error { return nil }

type noopFieldExtractor struct{}

func (noopFieldExtractor) Extract(inputMesh, gmOutput, wmOutput string) error { return nil }
