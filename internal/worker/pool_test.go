package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
	"github.com/qs3c/carousel_go_server/internal/repository"
	"github.com/qs3c/carousel_go_server/internal/service"
	"github.com/qs3c/carousel_go_server/internal/testutil"
)

func waitForStatus(t *testing.T, jobs *service.JobService, id string, status model.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := jobs.GetJobByID(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPool_ProcessesQueuedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewQueue(client, "generation_jobs")

	db := testutil.SetupTestDB(t)
	jobs := service.NewJobService(repository.NewJobRepository(db), q, nil, nil, nil)
	gen := &fakeGenerator{result: &model.CarouselResult{SlideURLs: []string{"s1.png"}}}
	pool := NewPool(NewProcessor(jobs, gen, nil, nil), q, 2, 100*time.Millisecond, "test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	first := newJob(t, jobs)
	second := newJob(t, jobs)

	waitForStatus(t, jobs, first.ID, model.JobStatusCompleted)
	waitForStatus(t, jobs, second.ID, model.JobStatusCompleted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_FallsBackToDatabase(t *testing.T) {
	db := testutil.SetupTestDB(t)
	jobs := service.NewJobService(repository.NewJobRepository(db), nil, nil, nil, nil)
	gen := &fakeGenerator{result: &model.CarouselResult{SlideURLs: []string{"s1.png"}}}
	pool := NewPool(NewProcessor(jobs, gen, nil, nil), nil, 1, 50*time.Millisecond, "test", nil)

	// 没有投递到队列的任务
	job := newJob(t, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	waitForStatus(t, jobs, job.ID, model.JobStatusCompleted)

	found, err := jobs.GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "test-0", found.WorkerID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(nil, nil, 0, 0, "w", nil)
	assert.Equal(t, 1, pool.size)
	assert.Equal(t, defaultPopTimeout, pool.popTimeout)
}
