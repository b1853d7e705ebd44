package postprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// MeshIO reads and writes solver mesh files. The core never parses the
// SimNIBS .msh binary format itself (spec.md §6 names mesh production as
// the Solver collaborator's responsibility); every operation that touches
// a .msh file on disk goes through this injected collaborator. There is
// deliberately no built-in default: a caller wiring this module to a real
// SimNIBS installation supplies one backed by simnibs_python subprocess
// calls or cgo bindings, outside this module's scope.
type MeshIO interface {
	ReadMesh(path string) (*Mesh, error)
	// WriteMesh writes m to path, plus a ".opt" view sidecar making
	// visibleTags/visibleFields the default visible set, matching the
	// original's `mesh_io.write_msh` + `.view(...).write_opt(...)` pair.
	WriteMesh(path string, m *Mesh, visibleTags []int, visibleFields []string) error
}

// FieldExtractor produces grey-matter and white-matter restricted copies
// of a mesh (spec.md §6 item 2).
type FieldExtractor interface {
	Extract(inputMesh, gmOutput, wmOutput string) error
}

// TagFieldExtractor is the built-in fallback: crop by element tag, per
// Open Question (c) (GMTag defaults to 2, WMTag to 1, both overridable).
// Grounded on post_processor.py's `_extract_fields` fallback branch.
type TagFieldExtractor struct {
	MeshIO MeshIO
	GMTag  int
	WMTag  int
}

// NewTagFieldExtractor returns a TagFieldExtractor with the documented
// default tag numbers.
func NewTagFieldExtractor(meshIO MeshIO) TagFieldExtractor {
	return TagFieldExtractor{MeshIO: meshIO, GMTag: 2, WMTag: 1}
}

func (e TagFieldExtractor) Extract(inputMesh, gmOutput, wmOutput string) error {
	m, err := e.MeshIO.ReadMesh(inputMesh)
	if err != nil {
		return fmt.Errorf("read mesh for field extraction: %w", err)
	}
	gm := CropByTags(m, []int{e.GMTag})
	if err := e.MeshIO.WriteMesh(gmOutput, gm, nil, nil); err != nil {
		return fmt.Errorf("write grey matter mesh: %w", err)
	}
	wm := CropByTags(m, []int{e.WMTag})
	if err := e.MeshIO.WriteMesh(wmOutput, wm, nil, nil); err != nil {
		return fmt.Errorf("write white matter mesh: %w", err)
	}
	return nil
}

// MeshToNifti converts every non-surface mesh in meshDir into MNI-space
// and subject-space NIfTI volumes under outputDir (spec.md §6 item 3).
type MeshToNifti interface {
	Convert(ctx context.Context, meshDir, outputDir, m2mDir string) error
}

// SubprocessMeshToNifti is the built-in fallback: it shells out to the
// `subject2mni`/`msh2nii` SimNIBS command-line tools per mesh file,
// skipping any mesh whose name contains "normal" (a surface overlay, not
// a volume). Grounded on `_direct_nifti_conversion`.
type SubprocessMeshToNifti struct {
	Timeout time.Duration // per-subprocess-call timeout; defaults to 5 minutes
	Retry   RetryPolicy   // defaults to DefaultRetryPolicy
}

func (c SubprocessMeshToNifti) Convert(ctx context.Context, meshDir, outputDir, m2mDir string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	retry := c.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	matches, err := filepath.Glob(filepath.Join(meshDir, "*.msh"))
	if err != nil {
		return err
	}

	var firstErr error
	for _, meshFile := range matches {
		base := strings.TrimSuffix(filepath.Base(meshFile), ".msh")
		if strings.Contains(base, "normal") {
			continue
		}

		mniOut := filepath.Join(outputDir, base+"_MNI.nii.gz")
		if err := retry.Do(ctx, func() error {
			return runTimed(ctx, timeout, "subject2mni", "-i", meshFile, "-m", m2mDir, "-o", mniOut)
		}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("subject2mni for %s: %w", base, err)
		}

		subjOut := filepath.Join(outputDir, base+"_subject.nii.gz")
		if err := retry.Do(ctx, func() error {
			return runTimed(ctx, timeout, "msh2nii", meshFile, m2mDir, subjOut)
		}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("msh2nii for %s: %w", base, err)
		}
	}
	return firstErr
}

// T1ToMNI converts a subject's T1 image into MNI space once per m2m
// directory (spec.md §6 item 4), skipping when the output already exists.
type T1ToMNI interface {
	Convert(ctx context.Context, m2mDir, subjectID string) error
}

// SubprocessT1ToMNI is the built-in fallback, grounded on
// `_convert_t1_to_mni`.
type SubprocessT1ToMNI struct {
	Timeout time.Duration
	Retry   RetryPolicy
}

func (c SubprocessT1ToMNI) Convert(ctx context.Context, m2mDir, subjectID string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	retry := c.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	t1File := filepath.Join(m2mDir, "T1.nii.gz")
	outputFile := filepath.Join(m2mDir, "T1_"+subjectID)

	if _, err := os.Stat(outputFile + "_MNI.nii.gz"); err == nil {
		return nil
	}
	if _, err := os.Stat(t1File); err != nil {
		return nil
	}

	return retry.Do(ctx, func() error {
		return runTimed(ctx, timeout, "subject2mni", "-i", t1File, "-m", m2mDir, "-o", outputFile)
	})
}

func runTimed(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
