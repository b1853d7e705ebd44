package postprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/internal/infrastructure/tracing"
	"github.com/ti-toolbox/tit-core/simconfig"
	"github.com/ti-toolbox/tit-core/tikernel"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// TIDirs is the set of destination directories the TI pipeline (spec.md
// §4.6, 2-pair) reads from and writes into for one montage.
type TIDirs struct {
	HFDir              string // solver's raw high_Frequency output (source)
	TIMeshDir          string // TI/mesh
	TINiftiDir         string // TI/niftis
	SurfaceOverlaysDir string // TI/surface_overlays
	HFMeshDir          string // high_Frequency/mesh
	HFNiftiDir         string // high_Frequency/niftis
	HFAnalysisDir      string // high_Frequency/analysis
	DocumentationDir   string // documentation
}

// MTIDirs is the set of destination directories the mTI pipeline
// (spec.md §4.6, 4-pair) reads from and writes into for one montage.
type MTIDirs struct {
	HFDir            string // solver's raw high_Frequency output (source)
	TIDir            string // TI/mesh, holding the AB/CD intermediates
	MTIMeshDir       string // mTI/mesh
	MTINiftiDir      string // mTI/niftis
	HFMeshDir        string // high_Frequency/mesh
	HFAnalysisDir    string // high_Frequency/analysis
	DocumentationDir string // documentation
}

// Options configures a Processor's collaborators and tissue tag
// conventions.
type Options struct {
	FieldExtractor FieldExtractor
	NiftiConverter MeshToNifti
	T1Converter    T1ToMNI
	GMTag          int // default 2, Open Question (c)
	WMTag          int // default 1, Open Question (c)
}

// Processor runs the post-simulation pipeline for one subject across its
// montages. Grounded on original_source/tit/sim/post_processor.py's
// PostProcessor class.
type Processor struct {
	subjectID    string
	conductivity string
	m2mDir       string
	log          *monitoring.Logger
	meshIO       MeshIO
	fieldX       FieldExtractor
	niftiConv    MeshToNifti
	t1Conv       T1ToMNI
}

// New constructs a Processor. meshIO has no built-in default (see
// collaborators.go); opts.FieldExtractor/NiftiConverter/T1Converter
// default to the built-in subprocess/tag-crop fallbacks when zero.
func New(subjectID string, conductivity simconfig.Conductivity, m2mDir string, log *monitoring.Logger, meshIO MeshIO, opts Options) *Processor {
	fieldX := opts.FieldExtractor
	if fieldX == nil {
		gm, wm := opts.GMTag, opts.WMTag
		if gm == 0 {
			gm = 2
		}
		if wm == 0 {
			wm = 1
		}
		fieldX = TagFieldExtractor{MeshIO: meshIO, GMTag: gm, WMTag: wm}
	}
	niftiConv := opts.NiftiConverter
	if niftiConv == nil {
		niftiConv = SubprocessMeshToNifti{}
	}
	t1Conv := opts.T1Converter
	if t1Conv == nil {
		t1Conv = SubprocessT1ToMNI{}
	}
	if log == nil {
		log = monitoring.NewDiscardLogger()
	}
	return &Processor{
		subjectID:    subjectID,
		conductivity: string(conductivity),
		m2mDir:       m2mDir,
		log:          log,
		meshIO:       meshIO,
		fieldX:       fieldX,
		niftiConv:    niftiConv,
		t1Conv:       t1Conv,
	}
}

// ProcessTI runs the 2-pair TI pipeline (spec.md §4.6) and returns the
// path to the final TI mesh.
func (p *Processor) ProcessTI(ctx context.Context, dirs TIDirs, montageName string) (ti string, err error) {
	ctx, span := tracing.StartSpan(ctx, "postprocess.ProcessTI", attribute.String("montage", montageName))
	defer tracing.EndWithError(span, &err)

	p.log.Info(fmt.Sprintf("processing TI results for %s", montageName))

	tiPath, err := p.calculateTIField(ctx, dirs.HFDir, dirs.TIMeshDir, montageName)
	if err != nil {
		return "", titerrors.NewPostprocessError(montageName, "calculate_ti_field", err)
	}

	p.processTINormal(ctx, dirs.HFDir, dirs.TIMeshDir, montageName)

	p.log.Debug("field extraction: started")
	if err := p.extractFields(tiPath, dirs.TIMeshDir, montageName+"_TI"); err != nil {
		p.log.StepFailed(montageName, "field_extraction", err)
	} else {
		p.log.Debug("field extraction: complete")
	}

	p.log.Debug("nifti transformation: started")
	if err := p.niftiConv.Convert(ctx, dirs.TIMeshDir, dirs.TINiftiDir, p.m2mDir); err != nil {
		p.log.StepFailed(montageName, "nifti_transformation", err)
	} else {
		p.log.Debug("nifti transformation: complete")
	}

	p.organizeTIFiles(dirs)

	if err := p.t1Conv.Convert(ctx, p.m2mDir, p.subjectID); err != nil {
		p.log.StepFailed(montageName, "t1_to_mni", err)
	}

	p.log.Info(fmt.Sprintf("saved TI mesh: %s", tiPath))
	return tiPath, nil
}

// ProcessMTI runs the 4-pair mTI pipeline (spec.md §4.6) and returns the
// path to the final mTI mesh.
func (p *Processor) ProcessMTI(ctx context.Context, dirs MTIDirs, montageName string) (mti string, err error) {
	ctx, span := tracing.StartSpan(ctx, "postprocess.ProcessMTI", attribute.String("montage", montageName))
	defer tracing.EndWithError(span, &err)

	p.log.Info(fmt.Sprintf("processing mTI results for %s", montageName))

	meshes := make([]*Mesh, 4)
	for i := 0; i < 4; i++ {
		meshFile := filepath.Join(dirs.HFDir, fmt.Sprintf("%s_TDCS_%d_%s.msh", p.subjectID, i+1, p.conductivity))
		m, err := p.meshIO.ReadMesh(meshFile)
		if err != nil {
			return "", titerrors.NewPostprocessError(montageName, "read_hf_mesh", fmt.Errorf("%s: %w", meshFile, err))
		}
		meshes[i] = CropByTags(m, BrainTissueTags())
	}

	tiAB, err := tikernel.TIVectors(meshes[0].ElementVectorField("E"), meshes[1].ElementVectorField("E"))
	if err != nil {
		return "", titerrors.NewPostprocessError(montageName, "ti_ab", err)
	}
	tiCD, err := tikernel.TIVectors(meshes[2].ElementVectorField("E"), meshes[3].ElementVectorField("E"))
	if err != nil {
		return "", titerrors.NewPostprocessError(montageName, "ti_cd", err)
	}

	tiABPath := filepath.Join(dirs.TIDir, montageName+"_TI_AB.msh")
	tiCDPath := filepath.Join(dirs.TIDir, montageName+"_TI_CD.msh")
	if err := p.writeVectorFieldMesh(meshes[0], tiAB, "TI_vectors", tiABPath); err != nil {
		p.log.StepFailed(montageName, "save_ti_ab", err)
	}
	if err := p.writeVectorFieldMesh(meshes[0], tiCD, "TI_vectors", tiCDPath); err != nil {
		p.log.StepFailed(montageName, "save_ti_cd", err)
	}

	mtiVectors, err := tikernel.TIVectors(tiAB, tiCD)
	if err != nil {
		return "", titerrors.NewPostprocessError(montageName, "mti_field", err)
	}
	mtiField := Magnitudes(mtiVectors)

	mtiPath := filepath.Join(dirs.MTIMeshDir, montageName+"_mTI.msh")
	out := &Mesh{
		ElementTags:         meshes[0].ElementTags,
		ElementScalarFields: map[string][]float64{"TI_Max": mtiField},
	}
	if err := p.meshIO.WriteMesh(mtiPath, out, []int{1002, 1006}, []string{"TI_Max"}); err != nil {
		return "", titerrors.NewPostprocessError(montageName, "write_mti_mesh", err)
	}

	p.log.Debug("field extraction: started")
	if err := p.extractFields(mtiPath, dirs.MTIMeshDir, montageName+"_mTI"); err != nil {
		p.log.StepFailed(montageName, "field_extraction_mti", err)
	} else {
		p.log.Debug("field extraction: complete")
	}
	if _, err := os.Stat(tiABPath); err == nil {
		if err := p.extractFields(tiABPath, dirs.TIDir, montageName+"_TI_AB"); err != nil {
			p.log.StepFailed(montageName, "field_extraction_ti_ab", err)
		}
	}
	if _, err := os.Stat(tiCDPath); err == nil {
		if err := p.extractFields(tiCDPath, dirs.TIDir, montageName+"_TI_CD"); err != nil {
			p.log.StepFailed(montageName, "field_extraction_ti_cd", err)
		}
	}

	p.log.Debug("nifti transformation: started")
	if err := p.niftiConv.Convert(ctx, dirs.MTIMeshDir, dirs.MTINiftiDir, p.m2mDir); err != nil {
		p.log.StepFailed(montageName, "nifti_transformation_mti", err)
	} else {
		p.log.Debug("nifti transformation: complete")
	}

	p.organizeMTIFiles(dirs)

	if err := p.t1Conv.Convert(ctx, p.m2mDir, p.subjectID); err != nil {
		p.log.StepFailed(montageName, "t1_to_mni", err)
	}

	p.log.Info(fmt.Sprintf("saved mTI mesh: %s", mtiPath))
	return mtiPath, nil
}

func (p *Processor) calculateTIField(ctx context.Context, hfDir, outputDir, montageName string) (string, error) {
	_, span := tracing.StartSpan(ctx, "postprocess.calculateTIField")
	defer span.End()

	m1File := filepath.Join(hfDir, fmt.Sprintf("%s_TDCS_1_%s.msh", p.subjectID, p.conductivity))
	m2File := filepath.Join(hfDir, fmt.Sprintf("%s_TDCS_2_%s.msh", p.subjectID, p.conductivity))

	m1, err := p.meshIO.ReadMesh(m1File)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", m1File, err)
	}
	m2, err := p.meshIO.ReadMesh(m2File)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", m2File, err)
	}

	m1 = CropByTags(m1, BrainTissueTags())
	m2 = CropByTags(m2, BrainTissueTags())

	tiVecs, err := tikernel.TIVectors(m1.ElementVectorField("E"), m2.ElementVectorField("E"))
	if err != nil {
		return "", err
	}
	tiMax := Magnitudes(tiVecs)

	out := &Mesh{
		ElementTags:         m1.ElementTags,
		ElementScalarFields: map[string][]float64{"TI_max": tiMax},
	}
	tiPath := filepath.Join(outputDir, montageName+"_TI.msh")
	if err := p.meshIO.WriteMesh(tiPath, out, []int{1002, 1006}, []string{"TI_max"}); err != nil {
		return "", err
	}
	return tiPath, nil
}

// processTINormal computes the cortical-surface TI_normal field (spec.md
// §4.6 step 3) when the solver produced central-surface overlays for
// both pairs, following the original's dual path: the E field is read
// directly when present, otherwise reconstructed from a scalar E_normal
// field times node normals. Absence of the overlays is not an error —
// it is a documented optional step.
func (p *Processor) processTINormal(ctx context.Context, hfDir, outputDir, montageName string) {
	_, span := tracing.StartSpan(ctx, "postprocess.processTINormal")
	defer span.End()

	overlaysDir := filepath.Join(hfDir, "subject_overlays")
	central1 := filepath.Join(overlaysDir, fmt.Sprintf("%s_TDCS_1_%s_central.msh", p.subjectID, p.conductivity))
	central2 := filepath.Join(overlaysDir, fmt.Sprintf("%s_TDCS_2_%s_central.msh", p.subjectID, p.conductivity))

	if _, err := os.Stat(central1); err != nil {
		p.log.Debug("central surface meshes not found, skipping TI_normal calculation")
		return
	}
	if _, err := os.Stat(central2); err != nil {
		p.log.Debug("central surface meshes not found, skipping TI_normal calculation")
		return
	}

	cm1, err := p.meshIO.ReadMesh(central1)
	if err != nil {
		p.log.StepFailed(montageName, "read_central_1", err)
		return
	}
	cm2, err := p.meshIO.ReadMesh(central2)
	if err != nil {
		p.log.StepFailed(montageName, "read_central_2", err)
		return
	}

	ef1 := cm1.NodeVectorField("E")
	ef2 := cm2.NodeVectorField("E")
	if ef1 == nil || ef2 == nil {
		// Reconstruct from the scalar normal component when the solver
		// only wrote E_normal, per post_processor.py's fallback branch.
		if enorm1, ok := cm1.NodeScalarFields["E_normal"]; ok {
			ef1 = scaleByNormals(enorm1, cm1.NodeNormals)
		}
		if enorm2, ok := cm2.NodeScalarFields["E_normal"]; ok {
			ef2 = scaleByNormals(enorm2, cm2.NodeNormals)
		}
	}
	if ef1 == nil || ef2 == nil {
		p.log.Debug("central surface meshes carry neither E nor E_normal, skipping TI_normal calculation")
		return
	}

	tiVecs, err := tikernel.TIVectors(ef1, ef2)
	if err != nil {
		p.log.StepFailed(montageName, "ti_normal", err)
		return
	}
	tiNormal := DotFields(tiVecs, cm1.NodeNormals)

	out := &Mesh{
		ElementTags:      cm1.ElementTags,
		NodeScalarFields: map[string][]float64{"TI_normal": tiNormal},
	}
	normalPath := filepath.Join(outputDir, montageName+"_normal.msh")
	if err := p.meshIO.WriteMesh(normalPath, out, nil, []string{"TI_normal"}); err != nil {
		p.log.StepFailed(montageName, "write_ti_normal", err)
		return
	}
	p.log.Debug(fmt.Sprintf("saved TI_normal mesh: %s", normalPath))
}

func scaleByNormals(scalar []float64, normals []tikernel.Vec3) []tikernel.Vec3 {
	n := len(scalar)
	if len(normals) < n {
		n = len(normals)
	}
	out := make([]tikernel.Vec3, n)
	for i := 0; i < n; i++ {
		out[i] = tikernel.Vec3{
			normals[i][0] * scalar[i],
			normals[i][1] * scalar[i],
			normals[i][2] * scalar[i],
		}
	}
	return out
}

func (p *Processor) writeVectorFieldMesh(base *Mesh, vectors []tikernel.Vec3, fieldName, path string) error {
	out := &Mesh{
		ElementTags:         base.ElementTags,
		ElementVectorFields: map[string][]tikernel.Vec3{fieldName: vectors},
	}
	return p.meshIO.WriteMesh(path, out, []int{1002, 1006}, []string{fieldName})
}

func (p *Processor) extractFields(inputMesh, outputDir, baseName string) error {
	gmOutput := filepath.Join(outputDir, "grey_"+baseName+".msh")
	wmOutput := filepath.Join(outputDir, "white_"+baseName+".msh")
	return p.fieldX.Extract(inputMesh, gmOutput, wmOutput)
}

// organizeTIFiles relocates the solver's raw high_Frequency output into
// the canonical TI directory schema, per spec.md §4.6 step 6. Grounded
// on _organize_ti_files.
func (p *Processor) organizeTIFiles(dirs TIDirs) {
	for _, pattern := range []string{"TDCS_1", "TDCS_2"} {
		for _, ext := range []string{".geo", "scalar.msh", "scalar.msh.opt"} {
			for _, file := range globOrNil(filepath.Join(dirs.HFDir, "*"+pattern+"*"+ext)) {
				p.safeMove(file, filepath.Join(dirs.HFMeshDir, filepath.Base(file)))
			}
		}
	}

	p.drainDir(filepath.Join(dirs.HFDir, "subject_volumes"), dirs.HFNiftiDir)
	p.drainDir(filepath.Join(dirs.HFDir, "subject_overlays"), dirs.SurfaceOverlaysDir)

	fieldsSummary := filepath.Join(dirs.HFDir, "fields_summary.txt")
	if _, err := os.Stat(fieldsSummary); err == nil {
		p.safeMove(fieldsSummary, filepath.Join(dirs.HFAnalysisDir, "fields_summary.txt"))
	}

	for _, pattern := range []string{"simnibs_simulation_*.log", "simnibs_simulation_*.mat"} {
		for _, file := range globOrNil(filepath.Join(dirs.HFDir, pattern)) {
			p.safeMove(file, filepath.Join(dirs.DocumentationDir, filepath.Base(file)))
		}
	}
}

// organizeMTIFiles relocates the solver's raw high_Frequency output for
// the 4-pair pipeline, renaming TDCS_{1,2,3,4} to TDCS_{A,B,C,D} in moved
// filenames (spec.md §4.6 step 5). Grounded on _organize_mti_files.
func (p *Processor) organizeMTIFiles(dirs MTIDirs) {
	letters := map[int]string{1: "A", 2: "B", 3: "C", 4: "D"}
	for i, letter := range letters {
		for _, ext := range []string{".geo", "scalar.msh", "scalar.msh.opt"} {
			pattern := fmt.Sprintf("*TDCS_%d*%s", i, ext)
			for _, file := range globOrNil(filepath.Join(dirs.HFDir, pattern)) {
				newName := strings.Replace(filepath.Base(file), fmt.Sprintf("TDCS_%d", i), "TDCS_"+letter, 1)
				p.safeMove(file, filepath.Join(dirs.HFMeshDir, newName))
			}
		}
	}

	// mTI does not produce per-pair NIfTI volumes; the intermediate
	// subject_volumes directory (if the solver wrote one) is discarded
	// wholesale rather than drained, matching the original.
	_ = os.RemoveAll(filepath.Join(dirs.HFDir, "subject_volumes"))

	fieldsSummary := filepath.Join(dirs.HFDir, "fields_summary.txt")
	if _, err := os.Stat(fieldsSummary); err == nil {
		p.safeMove(fieldsSummary, filepath.Join(dirs.HFAnalysisDir, "fields_summary.txt"))
	}

	for _, pattern := range []string{"simnibs_simulation_*.log", "simnibs_simulation_*.mat"} {
		for _, file := range globOrNil(filepath.Join(dirs.HFDir, pattern)) {
			p.safeMove(file, filepath.Join(dirs.DocumentationDir, filepath.Base(file)))
		}
	}
}

// drainDir moves every entry of srcDir into destDir, then removes srcDir
// if it is left empty, matching _safe_rmdir's "only when empty" rule.
func (p *Processor) drainDir(srcDir, destDir string) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		p.safeMove(filepath.Join(srcDir, entry.Name()), filepath.Join(destDir, entry.Name()))
	}
	p.safeRmdir(srcDir)
}

// safeMove moves src to dest, tolerating a missing source and logging
// any other failure as a warning rather than aborting the batch
// (spec.md §4.6 "idempotence and safety": file moves tolerate missing
// sources).
func (p *Processor) safeMove(src, dest string) {
	if _, err := os.Stat(src); err != nil {
		return
	}
	if dir := filepath.Dir(dest); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.Rename(src, dest); err != nil {
		p.log.Warn(fmt.Sprintf("failed to move %s to %s: %v", src, dest, err))
		return
	}
	p.log.Debug(fmt.Sprintf("moved %s to %s", filepath.Base(src), filepath.Dir(dest)))
}

func (p *Processor) safeRmdir(path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	if len(entries) != 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		p.log.Warn(fmt.Sprintf("failed to remove directory %s: %v", path, err))
	}
}

func globOrNil(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return matches
}
