package mesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary STL: 80-byte header, uint32 facet count, then per facet a
// float32 normal, three float32 vertices, and a uint16 attribute word.
const stlHeaderSize = 80

// EncodeSTL writes m as binary STL.
func EncodeSTL(w io.Writer, m *TriangleMesh) error {
	header := make([]byte, stlHeaderSize)
	copy(header, []byte("cad-pipeline binary STL"))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Triangles))); err != nil {
		return fmt.Errorf("failed to write facet count: %w", err)
	}

	buf := make([]byte, 50)
	for _, t := range m.Triangles {
		n := t.Normal()
		if l := n.Length(); l > 0 {
			n = n.Scale(1 / l)
		}
		putVec(buf[0:], n)
		putVec(buf[12:], t.A)
		putVec(buf[24:], t.B)
		putVec(buf[36:], t.C)
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write facet: %w", err)
		}
	}
	return nil
}

// DecodeSTL reads a binary STL stream into a TriangleMesh.
func DecodeSTL(r io.Reader) (*TriangleMesh, error) {
	header := make([]byte, stlHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read STL header: %w", err)
	}
	if bytes.HasPrefix(bytes.TrimLeft(header, " \t"), []byte("solid")) {
		// ASCII STL also starts with "solid"; the exporters this
		// pipeline consumes always write binary.
		return nil, fmt.Errorf("ASCII STL is not supported")
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read facet count: %w", err)
	}

	m := &TriangleMesh{Triangles: make([]Triangle, 0, count)}
	buf := make([]byte, 50)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read facet %d: %w", i, err)
		}
		m.Triangles = append(m.Triangles, Triangle{
			A: getVec(buf[12:]),
			B: getVec(buf[24:]),
			C: getVec(buf[36:]),
		})
	}
	return m, nil
}

func putVec(b []byte, v Vector3) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(v.Z)))
}

func getVec(b []byte) Vector3 {
	return Vector3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))),
	}
}
