package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

func item(name string, valid bool) Item {
	return Item{
		Name:  name,
		Valid: valid,
		Paths: models.MeshPaths{
			High:   name + "_high.stl",
			Medium: name + "_medium.stl",
			Low:    name + "_low.stl",
		},
	}
}

func TestBuild_OrdersEntriesByName(t *testing.T) {
	m, err := Build("keyboard", "1.1.3", []Item{
		item("Spacebar", true),
		item("Case", true),
		item("Keycap", true),
	})
	require.NoError(t, err)

	require.Len(t, m.Entries, 3)
	assert.Equal(t, "Case", m.Entries[0].SolidName)
	assert.Equal(t, "Keycap", m.Entries[1].SolidName)
	assert.Equal(t, "Spacebar", m.Entries[2].SolidName)
	assert.Equal(t, "Case_high.stl", m.Entries[0].MeshPaths.High)
	assert.Empty(t, m.Warnings)
}

func TestBuild_OmitsInvalidSolidWithWarning(t *testing.T) {
	m, err := Build("demo", "1.0.1", []Item{
		item("Cube", true),
		item("Ghost", false),
	})
	require.NoError(t, err)

	require.Len(t, m.Entries, 1)
	assert.Equal(t, "Cube", m.Entries[0].SolidName)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "Ghost")
}

func TestBuild_ZeroValidSolidsFails(t *testing.T) {
	_, err := Build("demo", "1.0.3", []Item{item("Ghost", false)})
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidGeometry, models.KindOf(err))

	_, err = Build("demo", "1.0.3", nil)
	require.Error(t, err)
}
