package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/simconfig"
	"github.com/ti-toolbox/tit-core/tikernel"
)

// fakeMeshIO is an in-memory MeshIO: ReadMesh returns whatever was
// registered for a path, WriteMesh records what it was asked to write.
type fakeMeshIO struct {
	meshes  map[string]*Mesh
	written map[string]*Mesh
}

func newFakeMeshIO() *fakeMeshIO {
	return &fakeMeshIO{meshes: map[string]*Mesh{}, written: map[string]*Mesh{}}
}

func (f *fakeMeshIO) ReadMesh(path string) (*Mesh, error) {
	m, ok := f.meshes[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m, nil
}

func (f *fakeMeshIO) WriteMesh(path string, m *Mesh, visibleTags []int, visibleFields []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f.written[path] = m
	return nil
}

func testLogger() *monitoring.Logger {
	return monitoring.NewDiscardLogger()
}

func TestProcessTI_CalculatesAndWritesTIMesh(t *testing.T) {
	dir := t.TempDir()
	hfDir := filepath.Join(dir, "high_Frequency")
	tiMeshDir := filepath.Join(dir, "TI", "mesh")
	require.NoError(t, os.MkdirAll(hfDir, 0o755))
	require.NoError(t, os.MkdirAll(tiMeshDir, 0o755))

	meshIO := newFakeMeshIO()
	m1Path := filepath.Join(hfDir, "101_TDCS_1_scalar.msh")
	m2Path := filepath.Join(hfDir, "101_TDCS_2_scalar.msh")
	meshIO.meshes[m1Path] = &Mesh{
		ElementTags:         []int{2, 2, 2000},
		ElementVectorFields: map[string][]tikernel.Vec3{"E": {{3, 0, 0}, {1, 0, 0}, {5, 5, 5}}},
	}
	meshIO.meshes[m2Path] = &Mesh{
		ElementTags:         []int{2, 2, 2000},
		ElementVectorFields: map[string][]tikernel.Vec3{"E": {{1, 0, 0}, {1, 0, 0}, {5, 5, 5}}},
	}

	p := New("101", simconfig.ConductivityScalar, filepath.Join(dir, "m2m"), testLogger(), meshIO, Options{
		NiftiConverter: noopNifti{},
		T1Converter:    noopT1{},
		FieldExtractor: noopExtractor{},
	})

	tiPath, err := p.ProcessTI(context.Background(), TIDirs{
		HFDir:              hfDir,
		TIMeshDir:           tiMeshDir,
		TINiftiDir:          filepath.Join(dir, "TI", "niftis"),
		SurfaceOverlaysDir:  filepath.Join(dir, "TI", "surface_overlays"),
		HFMeshDir:           filepath.Join(dir, "high_Frequency", "mesh"),
		HFNiftiDir:          filepath.Join(dir, "high_Frequency", "niftis"),
		HFAnalysisDir:       filepath.Join(dir, "high_Frequency", "analysis"),
		DocumentationDir:    filepath.Join(dir, "documentation"),
	}, "montageA")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tiMeshDir, "montageA_TI.msh"), tiPath)

	written, ok := meshIO.written[tiPath]
	require.True(t, ok)
	require.Len(t, written.ElementTags, 2) // tag 2000 is cropped away
	tiMax := written.ElementScalarFields["TI_max"]
	require.Len(t, tiMax, 2)
	// Both elements are brought to equal magnitude by the TI algebra;
	// value asserted loosely since the kernel itself is tested in tikernel.
	assert.Greater(t, tiMax[0], 0.0)
}

func TestProcessMTI_ComposesTwoTIFields(t *testing.T) {
	dir := t.TempDir()
	hfDir := filepath.Join(dir, "high_Frequency")
	tiDir := filepath.Join(dir, "TI", "mesh")
	mtiMeshDir := filepath.Join(dir, "mTI", "mesh")
	require.NoError(t, os.MkdirAll(hfDir, 0o755))
	require.NoError(t, os.MkdirAll(tiDir, 0o755))
	require.NoError(t, os.MkdirAll(mtiMeshDir, 0o755))

	meshIO := newFakeMeshIO()
	for i := 1; i <= 4; i++ {
		path := filepath.Join(hfDir, "101_TDCS_"+string(rune('0'+i))+"_scalar.msh")
		meshIO.meshes[path] = &Mesh{
			ElementTags:         []int{2},
			ElementVectorFields: map[string][]tikernel.Vec3{"E": {{float64(i), 0, 0}}},
		}
	}

	p := New("101", simconfig.ConductivityScalar, filepath.Join(dir, "m2m"), testLogger(), meshIO, Options{
		NiftiConverter: noopNifti{},
		T1Converter:    noopT1{},
		FieldExtractor: noopExtractor{},
	})

	mtiPath, err := p.ProcessMTI(context.Background(), MTIDirs{
		HFDir:            hfDir,
		TIDir:            tiDir,
		MTIMeshDir:       mtiMeshDir,
		MTINiftiDir:      filepath.Join(dir, "mTI", "niftis"),
		HFMeshDir:        filepath.Join(dir, "high_Frequency", "mesh"),
		HFAnalysisDir:    filepath.Join(dir, "high_Frequency", "analysis"),
		DocumentationDir: filepath.Join(dir, "documentation"),
	}, "montageB")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(mtiMeshDir, "montageB_mTI.msh"), mtiPath)

	written, ok := meshIO.written[mtiPath]
	require.True(t, ok)
	require.Contains(t, written.ElementScalarFields, "TI_Max")
}

func TestOrganizeTIFiles_DrainsAndRemovesEmptySourceDirs(t *testing.T) {
	dir := t.TempDir()
	hfDir := filepath.Join(dir, "high_Frequency")
	volumesDir := filepath.Join(hfDir, "subject_volumes")
	niftiDir := filepath.Join(dir, "high_Frequency", "niftis")
	require.NoError(t, os.MkdirAll(volumesDir, 0o755))
	require.NoError(t, os.MkdirAll(niftiDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(volumesDir, "a.nii.gz"), []byte("x"), 0o644))

	p := New("101", simconfig.ConductivityScalar, dir, testLogger(), newFakeMeshIO(), Options{})
	p.organizeTIFiles(TIDirs{HFDir: hfDir, HFNiftiDir: niftiDir})

	_, err := os.Stat(filepath.Join(niftiDir, "a.nii.gz"))
	require.NoError(t, err)
	_, err = os.Stat(volumesDir)
	assert.True(t, os.IsNotExist(err))
}

type noopNifti struct{}

func (noopNifti) Convert(ctx context.Context, meshDir, outputDir, m2mDir string) error { return nil }

type noopT1 struct{}

func (noopT1) Convert(ctx context.Context, m2mDir, subjectID string) error { return nil }

type noopExtractor struct{}

func (noopExtractor) Extract(inputMesh, gmOutput, wmOutput string) error { return nil }
