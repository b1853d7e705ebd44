package tikernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeVec(t *testing.T, want, got Vec3) {
	t.Helper()
	const eps = 1e-9
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], eps)
	}
}

func TestTIVectors_ShapeMismatch(t *testing.T) {
	_, err := TIVectors([]Vec3{{1, 0, 0}}, []Vec3{{1, 0, 0}, {0, 1, 0}})
	require.Error(t, err)
	assert.Equal(t, "INPUT_ERROR", err.(interface{ Code() string }).Code())
}

func TestMTIVectors_ShapeMismatch(t *testing.T) {
	one := []Vec3{{1, 0, 0}}
	two := []Vec3{{1, 0, 0}, {0, 1, 0}}
	_, err := MTIVectors(one, one, one, two)
	require.Error(t, err)
}

func TestTIVectors_Symmetry(t *testing.T) {
	e1 := []Vec3{{3, 1, 0}}
	e2 := []Vec3{{1, 2, 1}}

	forward, err := TIVectors(e1, e2)
	require.NoError(t, err)
	backward, err := TIVectors(e2, e1)
	require.NoError(t, err)

	closeVec(t, forward[0], backward[0])
}

func TestTIVectors_RegimeBoundary_EqualVectors(t *testing.T) {
	e := []Vec3{{1, 2, 3}}
	result, err := TIVectors(e, e)
	require.NoError(t, err)
	closeVec(t, Vec3{2, 4, 6}, result[0])
}

func TestTIVectors_RegimeBoundary_ExplicitConstruction(t *testing.T) {
	e1 := Vec3{4, 0, 0}
	n2 := 4 * math.Cos(math.Pi/6)
	e2 := Vec3{n2 * math.Cos(math.Pi/6), n2 * math.Sin(math.Pi/6), 0}

	regime1 := e2.scale(2)

	h := e1.sub(e2)
	hHat := h.scale(1 / h.norm())
	regime2 := e2.sub(hHat.scale(e2.dot(hHat))).scale(2)

	closeVec(t, regime1, regime2)

	got, err := TIVectors([]Vec3{e1}, []Vec3{e2})
	require.NoError(t, err)
	closeVec(t, regime1, got[0])
}

func TestTIVectors_OppositeVectorsAreFlipped(t *testing.T) {
	e1 := []Vec3{{2, 0, 0}}
	e2 := []Vec3{{-1, 0, 0}}

	got, err := TIVectors(e1, e2)
	require.NoError(t, err)
	closeVec(t, Vec3{2, 0, 0}, got[0])
}

func TestTIVectors_ZeroDenominatorGuarded(t *testing.T) {
	e1 := []Vec3{{0, 0, 0}}
	e2 := []Vec3{{0, 0, 0}}
	got, err := TIVectors(e1, e2)
	require.NoError(t, err)
	closeVec(t, Vec3{0, 0, 0}, got[0])
}

func TestMTIVectors_Composition(t *testing.T) {
	E := []Vec3{{1, 0, 0}}
	F := []Vec3{{0, 1, 0}}

	mti, err := MTIVectors(E, E, F, F)
	require.NoError(t, err)

	tiE, err := TIVectors(E, E)
	require.NoError(t, err)
	tiF, err := TIVectors(F, F)
	require.NoError(t, err)
	expected, err := TIVectors(tiE, tiF)
	require.NoError(t, err)

	closeVec(t, expected[0], mti[0])
}

func TestTIVectors_ElementWiseIndependence(t *testing.T) {
	e1 := []Vec3{{1, 0, 0}, {0, 2, 0}}
	e2 := []Vec3{{0, 1, 0}, {0, 1, 0}}

	got, err := TIVectors(e1, e2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	single0, err := TIVectors(e1[:1], e2[:1])
	require.NoError(t, err)
	single1, err := TIVectors(e1[1:], e2[1:])
	require.NoError(t, err)

	closeVec(t, single0[0], got[0])
	closeVec(t, single1[0], got[1])
}
