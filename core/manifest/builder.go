// Package manifest assembles the per-job assembly description from
// the meshed solids. Pure aggregation: no I/O, no geometry.
package manifest

import (
	"fmt"
	"sort"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// Item is one solid's contribution to the manifest.
type Item struct {
	Name      string
	Transform models.Transform
	Paths     models.MeshPaths
	Valid     bool // false when no valid mesh set exists for the solid
}

// Build emits the assembly manifest for a job. Solids without a valid
// mesh are omitted with a recorded warning; a job with zero valid
// solids is itself a failure.
func Build(modelName, version string, items []Item) (*models.AssemblyManifest, error) {
	m := &models.AssemblyManifest{
		ModelName: modelName,
		Version:   version,
	}

	for _, item := range items {
		if !item.Valid {
			m.Warnings = append(m.Warnings,
				fmt.Sprintf("solid %q omitted: no valid mesh", item.Name))
			continue
		}
		m.Entries = append(m.Entries, models.ManifestEntry{
			SolidName: item.Name,
			Transform: item.Transform,
			MeshPaths: item.Paths,
		})
	}

	if len(m.Entries) == 0 {
		return nil, models.NewPipelineError(models.ErrInvalidGeometry,
			"no valid solids to assemble for %s/%s", modelName, version)
	}

	// Deterministic order keeps re-runs byte-identical.
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].SolidName < m.Entries[j].SolidName
	})

	return m, nil
}
