package mesh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSTL_EncodeDecode(t *testing.T) {
	m := Box(Vector3{1, 2, 3}, Vector3{50, 40, 30})

	var buf bytes.Buffer
	require.NoError(t, EncodeSTL(&buf, m))

	decoded, err := DecodeSTL(&buf)
	require.NoError(t, err)
	require.Equal(t, m.TriangleCount(), decoded.TriangleCount())

	// float32 payload precision is plenty for millimeter geometry.
	assert.InDelta(t, m.Volume(), decoded.Volume(), 1e-3)
}

func TestSTL_RejectsASCII(t *testing.T) {
	ascii := []byte("solid demo\nfacet normal 0 0 1\nendsolid demo\n")
	ascii = append(ascii, make([]byte, 128)...)

	_, err := DecodeSTL(bytes.NewReader(ascii))
	assert.Error(t, err)
}

func TestSTL_TruncatedStream(t *testing.T) {
	m := Box(Vector3{}, Vector3{1, 1, 1})
	var buf bytes.Buffer
	require.NoError(t, EncodeSTL(&buf, m))

	_, err := DecodeSTL(bytes.NewReader(buf.Bytes()[:100]))
	assert.Error(t, err)
}
