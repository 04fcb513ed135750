package mesh

import (
	"fmt"
	"math"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// DefaultRatios are the fixed default LOD targets relative to the
// high-detail triangle count. Overridable per job.
var DefaultRatios = map[models.LOD]float64{
	models.LODHigh:   1.0,
	models.LODMedium: 0.5,
	models.LODLow:    0.2,
}

// DefaultFloorTriangles is the minimum triangle count a variant is
// allowed to reach; below this a model stops being recognizable.
const DefaultFloorTriangles = 200

// Variant is one LOD tier of a solid's mesh.
type Variant struct {
	LOD           models.LOD
	Mesh          *TriangleMesh
	TriangleCount int
	Ratio         float64 // achieved ratio relative to high
}

// Decimator derives medium/low variants from a high-detail mesh by
// vertex clustering. Decimation never increases triangle count; a
// tier that comes out degenerate falls back to the previous tier
// rather than failing the job.
type Decimator struct {
	Ratios map[models.LOD]float64
	Floor  int
}

// NewDecimator creates a decimator with the default ratios and floor.
func NewDecimator() *Decimator {
	return &Decimator{Ratios: DefaultRatios, Floor: DefaultFloorTriangles}
}

// Variants produces the high/medium/low tiers for high. The returned
// warnings describe tiers that fell back; they never fail the job.
func (d *Decimator) Variants(high *TriangleMesh) ([]Variant, []string) {
	ratios := d.Ratios
	if ratios == nil {
		ratios = DefaultRatios
	}
	floor := d.Floor
	if floor <= 0 {
		floor = DefaultFloorTriangles
	}

	highCount := high.TriangleCount()
	variants := []Variant{{
		LOD:           models.LODHigh,
		Mesh:          high,
		TriangleCount: highCount,
		Ratio:         1.0,
	}}
	var warnings []string

	prev := high
	for _, lod := range []models.LOD{models.LODMedium, models.LODLow} {
		ratio, ok := ratios[lod]
		if !ok || ratio <= 0 || ratio >= 1 {
			ratio = DefaultRatios[lod]
		}

		target := int(math.Round(float64(highCount) * ratio))
		if target < floor {
			target = floor
		}
		// Each tier derives from the previous one so triangle counts
		// stay monotone even when the floor clamps both targets.
		if target > prev.TriangleCount() {
			target = prev.TriangleCount()
		}

		decimated := Decimate(prev, target)
		if decimated == nil || !decimated.Valid() || decimated.TriangleCount() > prev.TriangleCount() {
			warnings = append(warnings, fmt.Sprintf(
				"%s: %s tier degenerate after decimation, falling back to previous tier",
				models.ErrDecimation, lod))
			decimated = prev
		}

		variants = append(variants, Variant{
			LOD:           lod,
			Mesh:          decimated,
			TriangleCount: decimated.TriangleCount(),
			Ratio:         float64(decimated.TriangleCount()) / float64(highCount),
		})
		prev = decimated
	}

	return variants, warnings
}

// Decimate reduces m to at most target triangles by clustering
// vertices on a uniform grid, searching for the finest grid that
// lands at or under the target. Meshes already at or under the
// target are returned unchanged.
func Decimate(m *TriangleMesh, target int) *TriangleMesh {
	if target <= 0 || m.TriangleCount() <= target {
		return m
	}

	// Triangle count grows with grid resolution, so bisect it.
	lo, hi := 1, 512
	best := clusterAt(m, lo)
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := clusterAt(m, mid)
		if candidate.TriangleCount() <= target {
			best = candidate
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

type cellKey struct{ x, y, z int }

type triKey struct{ a, b, c cellKey }

// canonicalTriKey orders the three cell keys so a facet's identity is
// independent of which vertex comes first.
func canonicalTriKey(a, b, c cellKey) triKey {
	ks := [3]cellKey{a, b, c}
	for i := 0; i < 2; i++ {
		for j := i + 1; j < 3; j++ {
			if lessCellKey(ks[j], ks[i]) {
				ks[i], ks[j] = ks[j], ks[i]
			}
		}
	}
	return triKey{ks[0], ks[1], ks[2]}
}

func lessCellKey(a, b cellKey) bool {
	if a.x != b.x {
		return a.x < b.x
	}
	if a.y != b.y {
		return a.y < b.y
	}
	return a.z < b.z
}

// clusterAt collapses all vertices within one grid cell to their
// centroid and drops facets that degenerate in the process.
func clusterAt(m *TriangleMesh, resolution int) *TriangleMesh {
	min, max := m.Bounds()
	extent := math.Max(max.X-min.X, math.Max(max.Y-min.Y, max.Z-min.Z))
	if extent <= 0 {
		return &TriangleMesh{}
	}
	cell := extent / float64(resolution)

	keyOf := func(v Vector3) cellKey {
		return cellKey{
			int(math.Floor((v.X - min.X) / cell)),
			int(math.Floor((v.Y - min.Y) / cell)),
			int(math.Floor((v.Z - min.Z) / cell)),
		}
	}

	sums := make(map[cellKey]Vector3)
	counts := make(map[cellKey]int)
	for _, t := range m.Triangles {
		for _, p := range [3]Vector3{t.A, t.B, t.C} {
			k := keyOf(p)
			sums[k] = sums[k].Add(p)
			counts[k]++
		}
	}
	reps := make(map[cellKey]Vector3, len(sums))
	for k, s := range sums {
		reps[k] = s.Scale(1 / float64(counts[k]))
	}

	// Many input facets can collapse onto the same representative
	// triple; emit each one once.
	seen := make(map[triKey]bool)

	out := &TriangleMesh{}
	for _, t := range m.Triangles {
		ka, kb, kc := keyOf(t.A), keyOf(t.B), keyOf(t.C)
		if ka == kb || kb == kc || ka == kc {
			continue
		}
		tk := canonicalTriKey(ka, kb, kc)
		if seen[tk] {
			continue
		}
		nt := Triangle{A: reps[ka], B: reps[kb], C: reps[kc]}
		if nt.Area() <= 0 {
			continue
		}
		seen[tk] = true
		out.Triangles = append(out.Triangles, nt)
	}
	return out
}
