package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/reindervandervoort/cad-pipeline/core/mesh"
	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// FreeCADEngine executes scripts under FreeCADCmd in a subprocess.
// Each run gets a generated harness that pre-creates the shared
// document, execs the user script against it, and exports one
// high-detail STL per solid plus a solids index.
type FreeCADEngine struct {
	Bin     string // FreeCADCmd binary, e.g. "freecadcmd"
	WorkDir string // scratch root for per-run output dirs
}

// NewFreeCADEngine creates an engine using bin for script runs.
func NewFreeCADEngine(bin, workDir string) *FreeCADEngine {
	if bin == "" {
		bin = "freecadcmd"
	}
	return &FreeCADEngine{Bin: bin, WorkDir: workDir}
}

// solidIndexEntry mirrors the JSON the harness writes per exported
// solid.
type solidIndexEntry struct {
	Name        string     `json:"name"`
	File        string     `json:"file"`
	Translation [3]float64 `json:"translation"`
	RotationDeg [3]float64 `json:"rotation"`
}

// Execute runs the job's script and extracts its solids. The caller
// bounds execution time through ctx; exceeding it is an
// ExecutionTimeoutError and the worker that ran it must be recycled.
func (e *FreeCADEngine) Execute(ctx context.Context, job *models.Job, scriptDir string) (*Result, error) {
	outDir, err := os.MkdirTemp(e.WorkDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create run dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	scriptPath := filepath.Join(scriptDir, job.ScriptPath)
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, models.WrapPipelineError(models.ErrSourceFetch, err,
			"script %s missing from source tree", job.ScriptPath)
	}

	paramsJSON := "{}"
	if job.Parameters != nil {
		b, err := json.Marshal(job.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job parameters: %w", err)
		}
		paramsJSON = string(b)
	}

	harnessPath := filepath.Join(outDir, "harness.py")
	harness := generateHarness(job.ModelName, scriptPath, outDir, paramsJSON)
	if err := os.WriteFile(harnessPath, []byte(harness), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write harness: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Bin, harnessPath)
	cmd.Dir = scriptDir
	output, runErr := cmd.CombinedOutput()
	log := string(output)

	result := &Result{Log: log}

	if ctx.Err() == context.DeadlineExceeded {
		return result, models.NewPipelineError(models.ErrExecutionTimeout,
			"script execution exceeded the configured timeout")
	}
	if ctx.Err() == context.Canceled {
		// Shutdown killed the subprocess; this is not a script failure
		// and the job must stay re-deliverable.
		return result, ctx.Err()
	}
	if runErr != nil {
		return result, models.WrapPipelineError(models.ErrScriptExecution, runErr,
			"script raised: %s", logTail(log, 500))
	}
	if !strings.Contains(log, SuccessMarker) {
		return result, models.NewPipelineError(models.ErrScriptIncomplete,
			"script returned without emitting the success marker")
	}

	solids, err := loadSolids(outDir)
	if err != nil {
		return result, err
	}
	result.Solids = solids
	return result, nil
}

// loadSolids reads the harness's solids index and decodes each
// exported STL. A solid whose mesh fails to decode or encloses no
// volume stays in the result flagged invalid.
func loadSolids(outDir string) ([]*Solid, error) {
	indexBytes, err := os.ReadFile(filepath.Join(outDir, "solids.json"))
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrScriptIncomplete, err,
			"script run produced no solids index")
	}

	var entries []solidIndexEntry
	if err := json.Unmarshal(indexBytes, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode solids index: %w", err)
	}

	seen := make(map[string]bool)
	var solids []*Solid
	for _, entry := range entries {
		if seen[entry.Name] {
			return nil, models.NewPipelineError(models.ErrScriptExecution,
				"duplicate solid name %q", entry.Name)
		}
		seen[entry.Name] = true

		s := &Solid{
			Name: entry.Name,
			Transform: models.Transform{
				Translation: entry.Translation,
				RotationDeg: entry.RotationDeg,
			},
		}

		f, err := os.Open(filepath.Join(outDir, entry.File))
		if err == nil {
			m, decErr := mesh.DecodeSTL(f)
			f.Close()
			if decErr == nil && m.Valid() {
				s.Mesh = m
				s.Valid = true
			}
		}
		solids = append(solids, s)
	}
	return solids, nil
}

// generateHarness emits the Python wrapper that injects the shared
// document, runs the user script, and exports the solids. Scripts
// written for standalone use call FreeCAD.newDocument themselves;
// the harness hands back the injected document with a logged warning
// instead of letting a second top-level context appear.
func generateHarness(modelName, scriptPath, outDir, paramsJSON string) string {
	return fmt.Sprintf(`import json
import os
import FreeCAD
import Mesh

doc = FreeCAD.newDocument(%q)
params = json.loads(%q)

def _guarded_new_document(*args, **kwargs):
    print("WARNING: script attempted to create a second document; using the shared one")
    return doc
FreeCAD.newDocument = _guarded_new_document

script_globals = {"__name__": "__main__", "doc": doc, "params": params}
with open(%q) as f:
    exec(compile(f.read(), %q, "exec"), script_globals)

doc.recompute()

out_dir = %q
index = []
for obj in doc.Objects:
    if not hasattr(obj, "Shape") or obj.Shape.isNull():
        continue
    name = obj.Label or obj.Name
    stl = os.path.join(out_dir, name + "_high.stl")
    Mesh.export([obj], stl)
    placement = obj.Placement
    ypr = placement.Rotation.toEuler()
    index.append({
        "name": name,
        "file": os.path.basename(stl),
        "translation": [placement.Base.x, placement.Base.y, placement.Base.z],
        "rotation": [ypr[2], ypr[1], ypr[0]],
    })

with open(os.path.join(out_dir, "solids.json"), "w") as f:
    json.dump(index, f)
`, modelName, paramsJSON, scriptPath, scriptPath, outDir)
}

// logTail returns the last n bytes of a log for error messages.
func logTail(log string, n int) string {
	log = strings.TrimSpace(log)
	if len(log) <= n {
		return log
	}
	return "..." + log[len(log)-n:]
}

// IsFatalToWorker reports whether an execution error poisons the
// worker that ran it. Timed-out scripts may leave corrupted state in
// the process, so the worker is recycled instead of reused.
func IsFatalToWorker(err error) bool {
	var pe *models.PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == models.ErrExecutionTimeout
	}
	return false
}
