// Package executor runs one job end to end inside a worker: fetch
// source, execute the script, mesh, build the manifest, upload,
// notify. Every stage transition is written to the status store, so
// polling consumers watch progress climb until a terminal state.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/manifest"
	"github.com/reindervandervoort/cad-pipeline/core/mesh"
	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/notify"
	"github.com/reindervandervoort/cad-pipeline/core/retry"
	"github.com/reindervandervoort/cad-pipeline/core/sandbox"
	"github.com/reindervandervoort/cad-pipeline/core/screenshot"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

// SourceFetcher materializes the job's source tree at its pinned
// commit.
type SourceFetcher interface {
	Fetch(ctx context.Context, job *models.Job) (dir string, cleanup func(), err error)
}

// Capturer captures viewer screenshots; nil disables the step.
type Capturer interface {
	Capture(ctx context.Context, job *models.Job, views []screenshot.View) ([]screenshot.Image, error)
}

// Executor orchestrates one job at a time. A single Executor is owned
// by exactly one worker; it holds no cross-job state.
type Executor struct {
	Status    status.Store
	Source    SourceFetcher
	Engine    sandbox.Engine
	Artifacts storage.Store
	Notifier  *notify.Notifier
	Shots     Capturer

	Decimator   *mesh.Decimator
	ExecTimeout time.Duration
	UploadRetry retry.Policy
}

// New creates an executor with default decimation and retry policies.
func New(st status.Store, src SourceFetcher, engine sandbox.Engine, artifacts storage.Store, notifier *notify.Notifier) *Executor {
	return &Executor{
		Status:      st,
		Source:      src,
		Engine:      engine,
		Artifacts:   artifacts,
		Notifier:    notifier,
		Decimator:   mesh.NewDecimator(),
		ExecTimeout: 10 * time.Minute,
		UploadRetry: retry.DefaultPolicy(),
	}
}

// Run executes job to a terminal status. The returned error is the
// job's fatal error, already recorded in the status store; callers
// use it only to decide worker recycling (see sandbox.IsFatalToWorker).
// Re-delivery of an already-terminal job is a no-op.
func (e *Executor) Run(ctx context.Context, job *models.Job) error {
	if rec, err := e.Status.Get(ctx, job.ModelName, job.Version); err == nil && rec.Status.Terminal() {
		log.Printf("Job %s already terminal (%s), skipping duplicate delivery", job.Key(), rec.Status)
		return nil
	} else if err == status.ErrNotFound {
		if err := e.Status.Create(ctx, job); err != nil {
			return err
		}
	}

	// Stage 1: fetch source at the pinned commit.
	e.setStage(ctx, job, models.StageCloning)
	srcDir, cleanup, err := e.Source.Fetch(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return e.fail(ctx, job, models.ErrSourceFetch, err, "")
	}
	defer cleanup()

	// Stage 2+3: execute the script under the execution timeout.
	e.setStage(ctx, job, models.StageExecuting)
	execCtx, cancel := context.WithTimeout(ctx, e.ExecTimeout)
	result, err := e.Engine.Execute(execCtx, job, srcDir)
	cancel()

	execLog := ""
	if result != nil {
		execLog = result.Log
	}
	if err != nil {
		// Cancellation is a shutdown, not a job failure: leave the
		// record non-terminal so the queue redelivers the job.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return e.fail(ctx, job, models.ErrScriptExecution, err, execLog)
	}

	// Stage 4: mesh each valid solid into its three LOD variants.
	// Solids are disjoint, so decimation runs concurrently.
	e.setStage(ctx, job, models.StageMeshing)
	meshed, warnings := e.meshSolids(job, result.Solids)
	for _, w := range warnings {
		log.Printf("Job %s: %s", job.Key(), w)
	}

	// Stage 5: assemble the manifest; zero valid solids fails here.
	e.setStage(ctx, job, models.StageManifest)
	items := make([]manifest.Item, len(meshed))
	for i, ms := range meshed {
		items[i] = ms.item
	}
	asm, err := manifest.Build(job.ModelName, job.Version, items)
	if err != nil {
		return e.fail(ctx, job, models.ErrInvalidGeometry, err, execLog)
	}
	asm.Warnings = append(asm.Warnings, warnings...)

	// Stage 6: upload the artifact set, overwriting any prior run.
	e.setStage(ctx, job, models.StageUploading)
	if err := e.uploadArtifacts(ctx, job, meshed, asm, execLog); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return e.fail(ctx, job, models.ErrUpload, err, execLog)
	}

	// Stage 7: screenshots are best-effort and never fail the job.
	shotURLs := e.captureScreenshots(ctx, job, srcDir)

	// Stage 8: terminal success and fan-out.
	e.setStage(ctx, job, models.StageNotifying)
	if err := e.Status.MarkSucceeded(ctx, job.ModelName, job.Version); err != nil {
		return err
	}
	e.uploadStatusDocument(ctx, job)
	e.publish(ctx, job, models.StatusSucceeded, shotURLs)

	log.Printf("Job %s succeeded: %d solids, artifacts under %s",
		job.Key(), len(asm.Entries), job.ArtifactPrefix())
	return nil
}

type meshedSolid struct {
	item     manifest.Item
	payloads map[models.LOD][]byte
}

// meshSolids derives and encodes the LOD variants for every solid.
func (e *Executor) meshSolids(job *models.Job, solids []*sandbox.Solid) ([]meshedSolid, []string) {
	dec := e.Decimator
	if dec == nil {
		dec = mesh.NewDecimator()
	}
	if ratios := lodRatioOverrides(job); ratios != nil {
		dec = &mesh.Decimator{Ratios: ratios, Floor: dec.Floor}
	}

	out := make([]meshedSolid, len(solids))
	warnCh := make(chan string, len(solids)*4)

	var wg sync.WaitGroup
	for i, solid := range solids {
		wg.Add(1)
		go func(i int, solid *sandbox.Solid) {
			defer wg.Done()
			out[i] = meshOneSolid(job, dec, solid, warnCh)
		}(i, solid)
	}
	wg.Wait()
	close(warnCh)

	var warnings []string
	for w := range warnCh {
		warnings = append(warnings, w)
	}
	return out, warnings
}

func meshOneSolid(job *models.Job, dec *mesh.Decimator, solid *sandbox.Solid, warnCh chan<- string) meshedSolid {
	ms := meshedSolid{
		item: manifest.Item{Name: solid.Name, Transform: solid.Transform},
	}
	if !solid.Valid {
		warnCh <- fmt.Sprintf("%s: solid %q has no valid shape", models.ErrInvalidGeometry, solid.Name)
		return ms
	}

	variants, warnings := dec.Variants(solid.Mesh)
	for _, w := range warnings {
		warnCh <- fmt.Sprintf("solid %q: %s", solid.Name, w)
	}

	ms.payloads = make(map[models.LOD][]byte, len(variants))
	for _, v := range variants {
		var buf bytes.Buffer
		if err := mesh.EncodeSTL(&buf, v.Mesh); err != nil {
			warnCh <- fmt.Sprintf("solid %q: failed to encode %s variant: %v", solid.Name, v.LOD, err)
			return meshedSolid{item: ms.item}
		}
		ms.payloads[v.LOD] = buf.Bytes()
	}

	ms.item.Valid = true
	ms.item.Paths = models.MeshPaths{
		High:   meshFileName(solid.Name, models.LODHigh),
		Medium: meshFileName(solid.Name, models.LODMedium),
		Low:    meshFileName(solid.Name, models.LODLow),
	}
	return ms
}

func meshFileName(solidName string, lod models.LOD) string {
	return fmt.Sprintf("%s_%s.stl", solidName, lod)
}

// lodRatioOverrides reads the optional per-job "lod_ratios" parameter.
func lodRatioOverrides(job *models.Job) map[models.LOD]float64 {
	raw, ok := job.Parameters["lod_ratios"].(map[string]interface{})
	if !ok {
		return nil
	}
	ratios := map[models.LOD]float64{models.LODHigh: 1.0}
	for k, v := range raw {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		ratios[models.LOD(k)] = f
	}
	return ratios
}

// uploadArtifacts writes every mesh payload, the manifest, and the
// execution log under the job's prefix, retrying transient failures.
func (e *Executor) uploadArtifacts(ctx context.Context, job *models.Job, meshed []meshedSolid, asm *models.AssemblyManifest, execLog string) error {
	prefix := job.ArtifactPrefix()

	for _, ms := range meshed {
		for lod, payload := range ms.payloads {
			key := fmt.Sprintf("%s/%s", prefix, meshFileName(ms.item.Name, lod))
			if err := e.put(ctx, key, "model/stl", payload); err != nil {
				return err
			}
		}
	}

	manifestJSON, err := marshalJSON(asm)
	if err != nil {
		return err
	}
	if err := e.put(ctx, prefix+"/assembly.json", "application/json", manifestJSON); err != nil {
		return err
	}

	return e.put(ctx, prefix+"/execution.log", "text/plain", []byte(execLog))
}

// put uploads one artifact with bounded backoff.
func (e *Executor) put(ctx context.Context, key, contentType string, data []byte) error {
	return retry.Do(ctx, e.UploadRetry, func() error {
		return e.Artifacts.Put(ctx, key, contentType, data)
	})
}

// captureScreenshots runs the best-effort screenshot step and uploads
// whatever it produced.
func (e *Executor) captureScreenshots(ctx context.Context, job *models.Job, srcDir string) []string {
	if e.Shots == nil {
		return nil
	}

	views, err := screenshot.LoadViews(srcDir, job.ScriptPath)
	if err != nil {
		log.Printf("Job %s: invalid screenshot config: %v", job.Key(), err)
		views = screenshot.DefaultViews()
	}

	images, err := e.Shots.Capture(ctx, job, views)
	if err != nil {
		log.Printf("Job %s: screenshot capture incomplete: %v", job.Key(), err)
	}

	var urls []string
	for _, img := range images {
		key := fmt.Sprintf("%s/screenshots/%s.png", job.ArtifactPrefix(), img.ViewName)
		if err := e.put(ctx, key, "image/png", img.PNG); err != nil {
			log.Printf("Job %s: failed to upload screenshot %s: %v", job.Key(), img.ViewName, err)
			continue
		}
		urls = append(urls, e.Artifacts.URL(key))
	}
	return urls
}

// fail records the terminal failure, uploads the partial log and the
// status document, fans out the failure event, and returns the
// classified error.
func (e *Executor) fail(ctx context.Context, job *models.Job, defaultKind models.ErrorKind, cause error, execLog string) error {
	kind := models.KindOf(cause)
	if kind == "" || kind == models.ErrDecimation || kind == models.ErrNotification {
		kind = defaultKind
	}

	log.Printf("Job %s failed at %s: %v", job.Key(), kind, cause)

	if execLog != "" {
		key := job.ArtifactPrefix() + "/execution.log"
		if err := e.Artifacts.Put(ctx, key, "text/plain", []byte(execLog)); err != nil {
			log.Printf("Job %s: failed to upload partial log: %v", job.Key(), err)
		}
	}

	if err := e.Status.MarkFailed(ctx, job.ModelName, job.Version, kind, cause.Error()); err != nil && err != status.ErrTerminal {
		log.Printf("Job %s: failed to record failure: %v", job.Key(), err)
	}
	e.uploadStatusDocument(ctx, job)
	e.publish(ctx, job, models.StatusFailed, nil)

	if cause == nil {
		return models.NewPipelineError(kind, "job failed")
	}
	return cause
}

// uploadStatusDocument mirrors the terminal status record beside the
// artifacts so the CDN surface can be polled without the API.
func (e *Executor) uploadStatusDocument(ctx context.Context, job *models.Job) {
	rec, err := e.Status.Get(ctx, job.ModelName, job.Version)
	if err != nil {
		return
	}
	data, err := marshalJSON(rec)
	if err != nil {
		return
	}
	key := job.ArtifactPrefix() + "/status.json"
	if err := e.Artifacts.Put(ctx, key, "application/json", data); err != nil {
		log.Printf("Job %s: failed to upload status document: %v", job.Key(), err)
	}
}

func (e *Executor) publish(ctx context.Context, job *models.Job, st models.Status, shotURLs []string) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Publish(ctx, &models.CompletionEvent{
		ModelName:      job.ModelName,
		Version:        job.Version,
		Status:         st,
		Timestamp:      time.Now(),
		ArtifactPrefix: job.ArtifactPrefix(),
		ScreenshotURLs: shotURLs,
	})
}

// marshalJSON renders indented JSON so the CDN-facing documents stay
// human-readable.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (e *Executor) setStage(ctx context.Context, job *models.Job, stage models.Stage) {
	if err := e.Status.SetStage(ctx, job.ModelName, job.Version, stage); err != nil {
		log.Printf("Job %s: failed to record stage %s: %v", job.Key(), stage.Label, err)
	}
}
