package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// seedRepo creates a local repository with one committed script and
// returns its path and commit hash.
func seedRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	scriptDir := filepath.Join(dir, "models", "demo")
	require.NoError(t, os.MkdirAll(scriptDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(scriptDir, "main.py"),
		[]byte("print('SUCCESS: Model generation complete')\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("models/demo/main.py")
	require.NoError(t, err)

	hash, err := wt.Commit("add demo model", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestFetch_PinnedCommit(t *testing.T) {
	repoDir, commit := seedRepo(t)
	f := NewFetcher(t.TempDir())

	dir, cleanup, err := f.Fetch(context.Background(), &models.Job{
		ModelName:    "demo",
		Version:      "1.0.1",
		SourceRepo:   repoDir,
		SourceCommit: commit,
		ScriptPath:   "models/demo/main.py",
	})
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "models/demo/main.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "SUCCESS")
}

func TestFetch_UnreachableRepo(t *testing.T) {
	f := NewFetcher(t.TempDir())

	_, _, err := f.Fetch(context.Background(), &models.Job{
		SourceRepo: filepath.Join(t.TempDir(), "does-not-exist"),
		ScriptPath: "main.py",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrSourceFetch, models.KindOf(err))
}

func TestFetch_MissingScriptPath(t *testing.T) {
	repoDir, commit := seedRepo(t)
	f := NewFetcher(t.TempDir())

	_, _, err := f.Fetch(context.Background(), &models.Job{
		SourceRepo:   repoDir,
		SourceCommit: commit,
		ScriptPath:   "models/demo/missing.py",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrSourceFetch, models.KindOf(err))
}
