// Package postprocess implements the TI/mTI field algebra, tissue-restricted
// field extraction, mesh-to-NIfTI conversion, and file reorganization that
// turn solver output into a montage's canonical on-disk layout. Grounded on
// original_source/tit/sim/post_processor.py.
package postprocess

import (
	"math"

	"github.com/ti-toolbox/tit-core/tikernel"
)

// Mesh is the minimal in-core representation this module needs from a
// solver output mesh: per-element tissue tags plus named vector and
// scalar fields at element or node granularity. Reading and writing the
// actual SimNIBS .msh binary format is delegated to the MeshIO
// collaborator (see collaborators.go) — reimplementing that mesh format
// is outside this core's scope (it belongs to the solver's own I/O
// layer, spec.md §6 item 1), so Mesh only carries the data this
// package's algebra touches.
type Mesh struct {
	ElementTags         []int
	ElementVectorFields map[string][]tikernel.Vec3
	ElementScalarFields map[string][]float64
	NodeVectorFields    map[string][]tikernel.Vec3
	NodeScalarFields    map[string][]float64
	NodeNormals         []tikernel.Vec3
}

// ElementVectorField returns the named element vector field, or nil if
// absent.
func (m *Mesh) ElementVectorField(name string) []tikernel.Vec3 {
	if m == nil {
		return nil
	}
	return m.ElementVectorFields[name]
}

// NodeVectorField returns the named node vector field, or nil if absent.
func (m *Mesh) NodeVectorField(name string) []tikernel.Vec3 {
	if m == nil {
		return nil
	}
	return m.NodeVectorFields[name]
}

// CropByTags returns a new Mesh containing only the elements whose tag is
// in tags, preserving element field alignment. This mirrors
// mesh.crop_mesh(tags=...) in the original: a pure data-subsetting
// operation that does not need the MeshIO collaborator, since it only
// touches the in-core representation already read into memory. Node
// fields and normals are carried over unchanged (cropping is an
// element-level operation; the original's crop_mesh likewise leaves node
// arrays addressed by the same node indices).
func CropByTags(m *Mesh, tags []int) *Mesh {
	keep := make(map[int]bool, len(tags))
	for _, t := range tags {
		keep[t] = true
	}

	var idx []int
	for i, t := range m.ElementTags {
		if keep[t] {
			idx = append(idx, i)
		}
	}

	out := &Mesh{
		ElementTags:         subsetInts(m.ElementTags, idx),
		ElementVectorFields: make(map[string][]tikernel.Vec3, len(m.ElementVectorFields)),
		ElementScalarFields: make(map[string][]float64, len(m.ElementScalarFields)),
		NodeVectorFields:    m.NodeVectorFields,
		NodeScalarFields:    m.NodeScalarFields,
		NodeNormals:         m.NodeNormals,
	}
	for name, vals := range m.ElementVectorFields {
		out.ElementVectorFields[name] = subsetVec3(vals, idx)
	}
	for name, vals := range m.ElementScalarFields {
		out.ElementScalarFields[name] = subsetFloat(vals, idx)
	}
	return out
}

// BrainTissueTags is the {1..99, 1001..1099} crop used before TI/mTI
// calculation (spec.md §4.6 step 1): volume tissues plus cortical
// surfaces.
func BrainTissueTags() []int {
	tags := make([]int, 0, 99+99)
	for i := 1; i < 100; i++ {
		tags = append(tags, i)
	}
	for i := 1001; i < 1100; i++ {
		tags = append(tags, i)
	}
	return tags
}

func subsetInts(src []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func subsetVec3(src []tikernel.Vec3, idx []int) []tikernel.Vec3 {
	out := make([]tikernel.Vec3, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func subsetFloat(src []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

// Magnitudes returns the per-element norm of a vector field, used to
// render the TI_max (TI) and TI_Max (mTI) scalar fields from TI vectors.
func Magnitudes(vs []tikernel.Vec3) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	}
	return out
}

// DotFields returns the per-node dot product of a vector field with a
// second vector field of the same length (e.g. TI vectors projected onto
// surface normals).
func DotFields(a, b []tikernel.Vec3) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a[i][0]*b[i][0] + a[i][1]*b[i][1] + a[i][2]*b[i][2]
	}
	return out
}
