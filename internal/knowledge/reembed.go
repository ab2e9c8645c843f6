package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/jobs"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// JobType is the job type recorded for re-embedding runs.
const JobType = "reembed"

// ErrJobRunning indicates a re-embed run is already in progress.
var ErrJobRunning = errors.New("reembed already running")

// Writer is implemented by stores that accept full records.
type Writer interface {
	Upsert(ctx context.Context, r models.Record) error
}

// Reembedder recomputes record embeddings and pushes them to the store and
// the optional vector index.
type Reembedder struct {
	store     Store
	index     VectorIndex
	embedder  embedding.Embedder
	jobs      *jobs.Manager
	logger    *slog.Logger
	batchSize int
}

// NewReembedder creates a re-embedder. index may be nil.
func NewReembedder(store Store, index VectorIndex, embedder embedding.Embedder, manager *jobs.Manager, logger *slog.Logger) *Reembedder {
	if logger == nil {
		logger = slog.Default()
	}
	if manager == nil {
		manager = jobs.NewManager(logger)
	}
	return &Reembedder{
		store:     store,
		index:     index,
		embedder:  embedder,
		jobs:      manager,
		logger:    logger,
		batchSize: 16,
	}
}

// RunOptions selects what a run re-embeds.
type RunOptions struct {
	// OnlyMissing skips records that already have an embedding.
	OnlyMissing bool
	// Trigger is recorded on the job ("manual", "schedule", "startup").
	Trigger string
}

// Run re-embeds records and returns the finished job snapshot. Per-record
// update failures are collected in the job result; listing or embedding
// failures fail the job.
func (r *Reembedder) Run(ctx context.Context, opts RunOptions) (jobs.Job, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	job, ok := r.jobs.CreateExclusive(JobType, trigger, 0)
	if !ok {
		return jobs.Job{}, ErrJobRunning
	}
	return r.run(ctx, job, opts)
}

// Launch starts a run in the background and returns its job id at once.
// The channel receives the run error, or nil, and is then closed.
func (r *Reembedder) Launch(ctx context.Context, opts RunOptions) (string, <-chan error, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	job, ok := r.jobs.CreateExclusive(JobType, trigger, 0)
	if !ok {
		return "", nil, ErrJobRunning
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := r.run(ctx, job, opts)
		done <- err
	}()
	return job.ID, done, nil
}

func (r *Reembedder) run(ctx context.Context, job *jobs.Job, opts RunOptions) (jobs.Job, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		err = fmt.Errorf("%w: list: %w", ErrUnavailable, err)
		r.jobs.Fail(job, err)
		return job.Snapshot(), err
	}

	todo := records
	result := &jobs.Result{}
	if opts.OnlyMissing {
		todo = todo[:0:0]
		for _, rec := range records {
			if rec.EmbeddedAt == nil {
				todo = append(todo, rec)
			} else {
				result.Skipped++
			}
		}
	}
	r.jobs.UpdateProgress(job, result.Skipped, len(records))

	for start := 0; start < len(todo); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			r.jobs.Fail(job, err)
			return job.Snapshot(), err
		}
		batch := todo[start:min(start+r.batchSize, len(todo))]
		if err := r.embedBatch(ctx, batch, result); err != nil {
			r.jobs.Fail(job, err)
			return job.Snapshot(), err
		}
		r.jobs.UpdateProgress(job, result.Skipped+result.Processed, len(records))
	}

	r.jobs.Complete(job, result)
	return job.Snapshot(), nil
}

func (r *Reembedder) embedBatch(ctx context.Context, batch []models.Record, result *jobs.Result) error {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.EmbeddingText()
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
	}

	updated := make([]models.Record, 0, len(batch))
	for i, rec := range batch {
		result.Processed++
		if err := r.store.UpdateEmbedding(ctx, rec.Class, rec.ID, vecs[i]); err != nil {
			r.logger.Warn("update embedding failed", "class", rec.Class, "id", rec.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s:%s: %v", rec.Class, rec.ID, err))
			continue
		}
		result.Updated++
		rec.Embedding = vecs[i]
		updated = append(updated, rec)
	}
	if r.index != nil && len(updated) > 0 {
		if err := r.index.Upsert(ctx, updated); err != nil {
			r.logger.Warn("vector index upsert failed", "records", len(updated), "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("vector index: %v", err))
		}
	}
	return nil
}

// Schedule runs the re-embedder on a cron spec (standard five fields or a
// descriptor such as "@daily") until ctx is cancelled. Overlapping runs
// are skipped.
func (r *Reembedder) Schedule(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		job, err := r.Run(ctx, RunOptions{Trigger: "schedule"})
		switch {
		case errors.Is(err, ErrJobRunning):
			r.logger.Info("scheduled reembed skipped, previous run still active")
		case err != nil:
			r.logger.Error("scheduled reembed failed", "job_id", job.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	c.Start()
	r.logger.Info("reembed scheduler started", "schedule", spec)
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reembed scheduler stopped")
	return nil
}

// Seed writes fixture records with fresh embeddings into a store. Used to
// populate a development database.
func Seed(ctx context.Context, w Writer, embedder embedding.Embedder, records []models.Record) (int, error) {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.EmbeddingText()
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("seed: embed: %w", err)
	}
	for i, rec := range records {
		rec.Embedding = vecs[i]
		if err := w.Upsert(ctx, rec); err != nil {
			return i, fmt.Errorf("seed %s:%s: %w", rec.Class, rec.ID, err)
		}
	}
	return len(records), nil
}
