// Package jobs tracks background maintenance jobs such as re-embedding.
package jobs

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the state of a background job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result summarizes a finished job.
type Result struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    []string
}

// Job represents a background processing job.
type Job struct {
	ID          string
	Type        string // "reembed"
	Trigger     string // "manual", "schedule" or "startup"
	Status      Status
	Progress    int
	Total       int
	Result      *Result
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// Manager tracks jobs in memory. All methods are safe for concurrent use.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	logger  *slog.Logger
	now     func() time.Time
	keep    int
	onEvent func(Job)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRetention bounds the number of finished jobs kept.
func WithRetention(n int) Option {
	return func(m *Manager) { m.keep = n }
}

// WithObserver registers a callback invoked with a snapshot after every
// state or progress change. Used by the CLI progress display.
func WithObserver(fn func(Job)) Option {
	return func(m *Manager) { m.onEvent = fn }
}

// NewManager creates a job manager.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		jobs:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
		keep:   50,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new pending job.
func (m *Manager) Create(jobType, trigger string, total int) *Job {
	job, _ := m.create(jobType, trigger, total, false)
	return job
}

// CreateExclusive is Create unless a job of jobType is already pending or
// running, in which case it returns false.
func (m *Manager) CreateExclusive(jobType, trigger string, total int) (*Job, bool) {
	return m.create(jobType, trigger, total, true)
}

func (m *Manager) create(jobType, trigger string, total int, exclusive bool) (*Job, bool) {
	job := &Job{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Type:      jobType,
		Trigger:   trigger,
		Status:    StatusPending,
		Total:     total,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	if exclusive && m.runningLocked(jobType) {
		m.mu.Unlock()
		return nil, false
	}
	m.jobs[job.ID] = job
	m.pruneLocked()
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "type", jobType, "trigger", trigger, "total", total)
	m.notify(job)
	return job, true
}

// Get retrieves a job by ID.
func (m *Manager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// List returns all jobs, most recent first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Running reports whether a job of jobType is pending or running.
func (m *Manager) Running(jobType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked(jobType)
}

// runningLocked is Running without locking. Caller must hold the lock.
func (m *Manager) runningLocked(jobType string) bool {
	for _, job := range m.jobs {
		s := job.Snapshot()
		if s.Type == jobType && (s.Status == StatusPending || s.Status == StatusRunning) {
			return true
		}
	}
	return false
}

// UpdateProgress records progress and marks a pending job running.
func (m *Manager) UpdateProgress(job *Job, current, total int) {
	job.mu.Lock()
	job.Progress = current
	job.Total = total
	if job.Status == StatusPending {
		job.Status = StatusRunning
	}
	job.mu.Unlock()
	m.notify(job)
}

// Complete marks job as completed with result.
func (m *Manager) Complete(job *Job, result *Result) {
	job.mu.Lock()
	job.Status = StatusCompleted
	job.Result = result
	now := m.now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Info("job completed", "job_id", job.ID, "updated", result.Updated, "errors", len(result.Errors))
	m.notify(job)
}

// Fail marks job as failed with error.
func (m *Manager) Fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = StatusFailed
	job.Error = err.Error()
	now := m.now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
	m.notify(job)
}

func (m *Manager) notify(job *Job) {
	if m.onEvent != nil {
		m.onEvent(job.Snapshot())
	}
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
// Caller must hold the write lock.
func (m *Manager) pruneLocked() {
	if m.keep <= 0 || len(m.jobs) <= m.keep {
		return
	}
	var finished []*Job
	for _, job := range m.jobs {
		s := job.Snapshot()
		if s.Status == StatusCompleted || s.Status == StatusFailed {
			finished = append(finished, job)
		}
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for _, job := range finished {
		if len(m.jobs) <= m.keep {
			return
		}
		delete(m.jobs, job.ID)
	}
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Type:        j.Type,
		Trigger:     j.Trigger,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
