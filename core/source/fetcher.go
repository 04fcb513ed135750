// Package source materializes a job's script tree at its pinned
// commit. The checkout is job-local scratch space, discarded after
// execution.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// Fetcher clones repositories into per-job work directories.
type Fetcher struct {
	workDir string
}

// NewFetcher creates a fetcher rooted at workDir.
func NewFetcher(workDir string) *Fetcher {
	return &Fetcher{workDir: workDir}
}

// Fetch clones the job's repository, checks out the pinned commit,
// and verifies the script path exists. The returned cleanup removes
// the checkout; it is safe to call on a nil directory.
func (f *Fetcher) Fetch(ctx context.Context, job *models.Job) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp(f.workDir, "src-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create source dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL: job.SourceRepo,
	})
	if err != nil {
		cleanup()
		return "", nil, models.WrapPipelineError(models.ErrSourceFetch, err,
			"failed to clone %s", job.SourceRepo)
	}

	wt, err := repo.Worktree()
	if err != nil {
		cleanup()
		return "", nil, models.WrapPipelineError(models.ErrSourceFetch, err,
			"failed to open worktree")
	}

	if job.SourceCommit != "" {
		err = wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(job.SourceCommit)})
		if err != nil {
			cleanup()
			return "", nil, models.WrapPipelineError(models.ErrSourceFetch, err,
				"failed to check out commit %s", job.SourceCommit)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, job.ScriptPath)); err != nil {
		cleanup()
		return "", nil, models.WrapPipelineError(models.ErrSourceFetch, err,
			"script %s not found at commit %s", job.ScriptPath, job.SourceCommit)
	}

	return dir, cleanup, nil
}
