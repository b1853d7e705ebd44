// Package tikernel computes the temporal interference modulation-amplitude
// envelope from pairs of per-element electric field vectors (Grossman et
// al., 2017). It is pure: no I/O, no globals, 64-bit floats throughout.
package tikernel

import (
	"math"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// Vec3 is a per-element electric field vector.
type Vec3 [3]float64

func (v Vec3) dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec3) norm() float64 {
	return math.Sqrt(v.dot(v))
}

func (v Vec3) scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func (v Vec3) sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

func (v Vec3) negate() Vec3 {
	return Vec3{-v[0], -v[1], -v[2]}
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// tiVectorOne computes the TI envelope vector for a single pair of
// element field vectors.
func tiVectorOne(e1, e2 Vec3) Vec3 {
	n1, n2 := e1.norm(), e2.norm()
	if n2 > n1 {
		e1, e2 = e2, e1
		n1, n2 = n2, n1
	}
	if e1.dot(e2) < 0 {
		e2 = e2.negate()
	}

	denom := n1 * n2
	if denom == 0 {
		denom = 1
	}
	cosAlpha := clip(e1.dot(e2)/denom, -1, 1)

	if n2 <= n1*cosAlpha {
		return e2.scale(2)
	}

	h := e1.sub(e2)
	hNorm := h.norm()
	var hHat Vec3
	if hNorm == 0 {
		hHat = Vec3{0, 0, 0}
	} else {
		hHat = h.scale(1 / hNorm)
	}
	proj := e2.dot(hHat)
	return e2.sub(hHat.scale(proj)).scale(2)
}

// TIVectors computes the TI modulation-amplitude vector for every element
// of two equal-length field arrays. E1 and E2 must have the same length;
// otherwise it fails with InputError.
func TIVectors(e1, e2 []Vec3) ([]Vec3, error) {
	if len(e1) != len(e2) {
		return nil, titerrors.NewInputError("ti_vectors: shape mismatch, E1 has %d elements, E2 has %d", len(e1), len(e2))
	}
	out := make([]Vec3, len(e1))
	for i := range e1 {
		out[i] = tiVectorOne(e1[i], e2[i])
	}
	return out, nil
}

// MTIVectors computes the multipolar TI envelope as
// TIVectors(TIVectors(E1,E2), TIVectors(E3,E4)). All four inputs must
// share the same length; otherwise it fails with InputError.
func MTIVectors(e1, e2, e3, e4 []Vec3) ([]Vec3, error) {
	n := len(e1)
	if len(e2) != n || len(e3) != n || len(e4) != n {
		return nil, titerrors.NewInputError("mti_vectors: shape mismatch, lengths are %d,%d,%d,%d", len(e1), len(e2), len(e3), len(e4))
	}
	ti12, err := TIVectors(e1, e2)
	if err != nil {
		return nil, err
	}
	ti34, err := TIVectors(e3, e4)
	if err != nil {
		return nil, err
	}
	return TIVectors(ti12, ti34)
}
