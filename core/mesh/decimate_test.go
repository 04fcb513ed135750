package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

func highDetailCube(t *testing.T) *TriangleMesh {
	t.Helper()
	m := Subdivide(Box(Vector3{}, Vector3{100, 100, 100}), 4)
	require.Equal(t, 12*256, m.TriangleCount())
	require.True(t, m.Valid())
	return m
}

func TestVariants_TriangleCountsMonotone(t *testing.T) {
	high := highDetailCube(t)

	variants, _ := NewDecimator().Variants(high)
	require.Len(t, variants, 3)

	assert.Equal(t, models.LODHigh, variants[0].LOD)
	assert.Equal(t, models.LODMedium, variants[1].LOD)
	assert.Equal(t, models.LODLow, variants[2].LOD)

	assert.LessOrEqual(t, variants[2].TriangleCount, variants[1].TriangleCount)
	assert.LessOrEqual(t, variants[1].TriangleCount, variants[0].TriangleCount)
	assert.Less(t, variants[1].TriangleCount, variants[0].TriangleCount,
		"medium tier should actually reduce a high-detail mesh")

	for _, v := range variants {
		assert.Greater(t, v.Mesh.Volume(), 0.0, "variant %s must keep positive volume", v.LOD)
	}
}

func TestVariants_FloorStopsDecimation(t *testing.T) {
	// Twelve triangles is already far below the floor; every tier
	// keeps the original mesh untouched.
	small := Box(Vector3{}, Vector3{10, 10, 10})

	variants, warnings := NewDecimator().Variants(small)
	require.Len(t, variants, 3)
	assert.Empty(t, warnings)
	for _, v := range variants {
		assert.Equal(t, 12, v.TriangleCount)
	}
}

func TestVariants_CustomRatios(t *testing.T) {
	high := highDetailCube(t)

	d := &Decimator{
		Ratios: map[models.LOD]float64{
			models.LODHigh:   1.0,
			models.LODMedium: 0.8,
			models.LODLow:    0.4,
		},
		Floor: 50,
	}
	variants, _ := d.Variants(high)

	assert.LessOrEqual(t, variants[1].TriangleCount, int(float64(high.TriangleCount())*0.8))
	assert.LessOrEqual(t, variants[2].TriangleCount, variants[1].TriangleCount)
}

func TestDecimate_NoopAtOrBelowTarget(t *testing.T) {
	m := Box(Vector3{}, Vector3{1, 1, 1})
	assert.Same(t, m, Decimate(m, 12))
	assert.Same(t, m, Decimate(m, 100))
}

func TestVolume_Cube(t *testing.T) {
	m := Box(Vector3{5, 5, 5}, Vector3{100, 100, 100})
	assert.InDelta(t, 100*100*100, m.Volume(), 1e-6)

	// Subdivision preserves the enclosed volume exactly.
	assert.InDelta(t, 100*100*100, Subdivide(m, 2).Volume(), 1e-6)
}

func TestValid_RejectsDegenerate(t *testing.T) {
	empty := &TriangleMesh{}
	assert.False(t, empty.Valid())

	// A single facet encloses no volume.
	flat := &TriangleMesh{Triangles: []Triangle{
		{A: Vector3{0, 0, 0}, B: Vector3{1, 0, 0}, C: Vector3{0, 1, 0}},
	}}
	assert.False(t, flat.Valid())
}
