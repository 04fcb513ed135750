// Package sandbox runs user geometry scripts inside a document-scoped
// execution context and extracts the named solids they produce. The
// script contract: the sandbox injects a pre-created shared geometry
// context; the script adds named solids to it and must print the
// success marker before returning. A raised error and a missing
// marker are distinct failures.
package sandbox

import (
	"context"

	"github.com/reindervandervoort/cad-pipeline/core/mesh"
	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// SuccessMarker is the line a script must emit for its run to count
// as complete. Scripts predate this pipeline, so the exact string is
// load-bearing.
const SuccessMarker = "SUCCESS: Model generation complete"

// Solid is one named geometric body produced by a script run. The
// mesh is the high-detail extraction of its boundary representation.
type Solid struct {
	Name      string
	Mesh      *mesh.TriangleMesh
	Transform models.Transform
	Valid     bool
}

// Result is the outcome of one script execution.
type Result struct {
	Solids []*Solid
	Log    string // captured stdout/stderr, uploaded as the execution log
}

// Engine executes one user script end-to-end inside a fresh context.
// Implementations must classify failures with the pipeline taxonomy:
// ScriptExecutionError (raised), ScriptIncompleteError (no marker),
// ExecutionTimeoutError (ctx deadline). The context is torn down
// after mesh extraction regardless of outcome.
type Engine interface {
	Execute(ctx context.Context, job *models.Job, scriptDir string) (*Result, error)
}
