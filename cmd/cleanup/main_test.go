package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/repository"
	"github.com/qs3c/carousel_go_server/internal/testutil"
)

func TestCleaner_Run(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewJobRepository(db)

	manifest := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{}`), 0o644))

	old := time.Now().AddDate(0, 0, -40)
	withManifest := testutil.TestJob(t, db,
		testutil.WithUpdatedAt(old),
		testutil.WithStatus(model.JobStatusCompleted),
		testutil.WithResult(`{"slide_urls":["a"],"manifest_url":"local://`+manifest+`"}`))
	oldFailed := testutil.TestJob(t, db, testutil.WithUpdatedAt(old), testutil.WithStatus(model.JobStatusFailed))
	recent := testutil.TestJob(t, db, testutil.WithStatus(model.JobStatusCompleted))
	pending := testutil.TestJob(t, db, testutil.WithCreatedAt(old), testutil.WithUpdatedAt(old))

	cutoff := time.Now().AddDate(0, 0, -30)

	dry := &cleaner{repo: repo, dryRun: true, log: logger.NewNop()}
	jobs, manifests, err := dry.run(context.Background(), cutoff, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), jobs)
	assert.Equal(t, 1, manifests)
	assert.FileExists(t, manifest)

	c := &cleaner{repo: repo, log: logger.NewNop()}
	jobs, manifests, err = c.run(context.Background(), cutoff, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), jobs)
	assert.Equal(t, 1, manifests)
	assert.NoFileExists(t, manifest)

	for _, id := range []string{withManifest.ID, oldFailed.ID} {
		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, repository.ErrJobNotFound)
	}
	for _, id := range []string{recent.ID, pending.ID} {
		_, err := repo.GetByID(context.Background(), id)
		assert.NoError(t, err)
	}
}
