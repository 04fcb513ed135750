package models

// LOD identifies one of the three detail tiers produced per solid.
type LOD string

const (
	LODHigh   LOD = "high"
	LODMedium LOD = "medium"
	LODLow    LOD = "low"
)

// LODs lists the tiers in decreasing detail order.
var LODs = []LOD{LODHigh, LODMedium, LODLow}

// Transform is the placement of a solid within the assembly:
// a translation in millimeters and a rotation in degrees per axis.
type Transform struct {
	Translation [3]float64 `json:"translation"`
	RotationDeg [3]float64 `json:"rotation"`
}

// MeshPaths holds the relative artifact paths of a solid's three
// mesh variants.
type MeshPaths struct {
	High   string `json:"high"`
	Medium string `json:"medium"`
	Low    string `json:"low"`
}

// ManifestEntry describes one solid in the assembly manifest.
type ManifestEntry struct {
	SolidName string    `json:"solidName"`
	Transform Transform `json:"transform"`
	MeshPaths MeshPaths `json:"meshPaths"`
}

// AssemblyManifest is the single assembly description uploaded per job.
// Built once after all solids are meshed; immutable thereafter.
type AssemblyManifest struct {
	ModelName string          `json:"modelName"`
	Version   string          `json:"version"`
	Entries   []ManifestEntry `json:"solids"`
	Warnings  []string        `json:"warnings,omitempty"`
}
