package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/database"
	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/oss"
	"github.com/qs3c/carousel_go_server/internal/repository"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, don't actually delete jobs or manifests")
	olderThanDays = flag.Int("older-than-days", 30, "Delete finished jobs older than this many days")
	batchSize     = flag.Int("batch", 500, "Jobs deleted per batch")
)

const localPrefix = "local://"

func main() {
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *olderThanDays < 1 {
		log.Fatal("older-than-days must be at least 1", "value", *olderThanDays)
	}

	db, err := database.Open(&cfg.Database, cfg.Log.Mode)
	if err != nil {
		log.Fatal("Failed to connect database", "error", err)
	}

	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn("Failed to init OSS client, manifests will be kept", "error", err)
		}
	}

	c := &cleaner{
		repo:   repository.NewJobRepository(db),
		oss:    ossClient,
		dryRun: *dryRun,
		log:    log,
	}

	cutoff := time.Now().AddDate(0, 0, -*olderThanDays)
	log.Info("Starting cleanup", "dry_run", *dryRun, "cutoff", cutoff.Format(time.RFC3339))

	jobs, manifests, err := c.run(context.Background(), cutoff, *batchSize)
	if err != nil {
		log.Fatal("Cleanup failed", "error", err, "deleted_jobs", jobs)
	}

	if *dryRun {
		log.Info("DRY RUN - nothing was deleted, run with -dry-run=false to delete",
			"matched_jobs", jobs, "matched_manifests", manifests)
		return
	}
	log.Info("Cleanup completed", "deleted_jobs", jobs, "deleted_manifests", manifests)
}

type cleaner struct {
	repo   *repository.JobRepository
	oss    *oss.Client
	dryRun bool
	log    *logger.Logger
}

// run 分批删除 cutoff 之前结束的任务及其结果清单
func (c *cleaner) run(ctx context.Context, cutoff time.Time, batch int) (int64, int, error) {
	if batch <= 0 {
		batch = 500
	}

	var (
		totalJobs      int64
		totalManifests int
	)
	for {
		// dry-run 不删除，一次取全部避免重复统计
		limit := batch
		if c.dryRun {
			limit = 0
		}
		jobs, err := c.repo.ListTerminalBefore(ctx, cutoff, limit)
		if err != nil {
			return totalJobs, totalManifests, err
		}
		if len(jobs) == 0 {
			return totalJobs, totalManifests, nil
		}

		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
			if c.removeManifest(job) {
				totalManifests++
			}
		}

		if c.dryRun {
			return int64(len(ids)), totalManifests, nil
		}

		n, err := c.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return totalJobs, totalManifests, err
		}
		totalJobs += n
		c.log.Info("Deleted batch", "count", n)

		if len(jobs) < batch {
			return totalJobs, totalManifests, nil
		}
	}
}

// removeManifest 删除结果清单，返回是否存在清单
func (c *cleaner) removeManifest(job *model.GenerationJob) bool {
	if !job.HasResult() {
		return false
	}
	var result model.CarouselResult
	if err := json.Unmarshal(job.Result, &result); err != nil || result.ManifestURL == "" {
		return false
	}

	url := result.ManifestURL
	if c.dryRun {
		c.log.Info("Would delete manifest", "job_id", job.ID, "url", url)
		return true
	}

	switch {
	case strings.HasPrefix(url, localPrefix):
		if err := os.Remove(strings.TrimPrefix(url, localPrefix)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("Failed to delete local manifest", "job_id", job.ID, "error", err)
		}
	case c.oss != nil:
		if err := c.oss.Delete(c.oss.ExtractObjectKey(url)); err != nil {
			c.log.Warn("Failed to delete manifest", "job_id", job.ID, "error", err)
		}
	default:
		c.log.Warn("OSS not configured, manifest kept", "job_id", job.ID, "url", url)
	}
	return true
}
