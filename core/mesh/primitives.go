package mesh

// Box returns a closed, outward-oriented box mesh of the given size
// with its minimum corner at origin. Twelve triangles, positive
// volume. Used by tests and the scripted sandbox engine.
func Box(origin, size Vector3) *TriangleMesh {
	p := func(dx, dy, dz float64) Vector3 {
		return Vector3{origin.X + dx*size.X, origin.Y + dy*size.Y, origin.Z + dz*size.Z}
	}

	// Corners: 0..7, bit order (x, y, z).
	c := [8]Vector3{
		p(0, 0, 0), p(1, 0, 0), p(0, 1, 0), p(1, 1, 0),
		p(0, 0, 1), p(1, 0, 1), p(0, 1, 1), p(1, 1, 1),
	}

	quads := [6][4]int{
		{0, 2, 3, 1}, // bottom (z=0), outward -Z
		{4, 5, 7, 6}, // top (z=1), outward +Z
		{0, 1, 5, 4}, // front (y=0), outward -Y
		{2, 6, 7, 3}, // back (y=1), outward +Y
		{0, 4, 6, 2}, // left (x=0), outward -X
		{1, 3, 7, 5}, // right (x=1), outward +X
	}

	m := &TriangleMesh{}
	for _, q := range quads {
		m.Triangles = append(m.Triangles,
			Triangle{A: c[q[0]], B: c[q[1]], C: c[q[2]]},
			Triangle{A: c[q[0]], B: c[q[2]], C: c[q[3]]},
		)
	}
	return m
}

// Subdivide splits every triangle into four at its edge midpoints,
// n times. Geometry is unchanged; triangle count multiplies by 4^n.
// Handy for producing realistic high-detail meshes from primitives.
func Subdivide(m *TriangleMesh, n int) *TriangleMesh {
	out := m
	for i := 0; i < n; i++ {
		next := &TriangleMesh{Triangles: make([]Triangle, 0, 4*len(out.Triangles))}
		for _, t := range out.Triangles {
			ab := t.A.Add(t.B).Scale(0.5)
			bc := t.B.Add(t.C).Scale(0.5)
			ca := t.C.Add(t.A).Scale(0.5)
			next.Triangles = append(next.Triangles,
				Triangle{A: t.A, B: ab, C: ca},
				Triangle{A: ab, B: t.B, C: bc},
				Triangle{A: ca, B: bc, C: t.C},
				Triangle{A: ab, B: bc, C: ca},
			)
		}
		out = next
	}
	return out
}
