// Package mesh holds the triangle-mesh representation extracted from
// solids, the STL codec used for artifact payloads, and the LOD
// decimation engine.
package mesh

import "math"

// Vector3 is a point or direction in model space (millimeters).
type Vector3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v * s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Cross returns the cross product v × o.
func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Dot returns the dot product v · o.
func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Length returns |v|.
func (v Vector3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Triangle is one oriented facet.
type Triangle struct {
	A, B, C Vector3
}

// Normal returns the (unnormalized) facet normal.
func (t Triangle) Normal() Vector3 {
	return t.B.Sub(t.A).Cross(t.C.Sub(t.A))
}

// Area returns the facet area.
func (t Triangle) Area() float64 {
	return 0.5 * t.Normal().Length()
}

// TriangleMesh is a boundary mesh, watertight or best-effort.
type TriangleMesh struct {
	Triangles []Triangle
}

// TriangleCount returns the number of facets.
func (m *TriangleMesh) TriangleCount() int {
	return len(m.Triangles)
}

// Volume returns the signed volume enclosed by the mesh, computed as
// the sum of signed tetrahedra against the origin. Positive for a
// consistently outward-oriented watertight mesh.
func (m *TriangleMesh) Volume() float64 {
	var v float64
	for _, t := range m.Triangles {
		v += t.A.Dot(t.B.Cross(t.C))
	}
	return v / 6.0
}

// Bounds returns the axis-aligned bounding box.
func (m *TriangleMesh) Bounds() (min, max Vector3) {
	if len(m.Triangles) == 0 {
		return Vector3{}, Vector3{}
	}
	min = m.Triangles[0].A
	max = m.Triangles[0].A
	for _, t := range m.Triangles {
		for _, p := range [3]Vector3{t.A, t.B, t.C} {
			min.X = math.Min(min.X, p.X)
			min.Y = math.Min(min.Y, p.Y)
			min.Z = math.Min(min.Z, p.Z)
			max.X = math.Max(max.X, p.X)
			max.Y = math.Max(max.Y, p.Y)
			max.Z = math.Max(max.Z, p.Z)
		}
	}
	return min, max
}

// Valid reports whether the mesh is usable as an artifact: non-empty
// and enclosing strictly positive volume.
func (m *TriangleMesh) Valid() bool {
	return len(m.Triangles) > 0 && m.Volume() > 0
}
