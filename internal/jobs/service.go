// Package jobs queues seed requests and runs them one at a time in the
// background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

var (
	ErrInvalidRequest = errors.New("invalid seed request")
	ErrJobNotFound    = errors.New("job not found")
	ErrQueueFull      = errors.New("seed queue is full")
	ErrJobFinished    = errors.New("job already finished")
)

const (
	defaultHistoryLimit = 10
	defaultQueueSize    = 32
)

// Seeder is the orchestrator surface the job service drives.
type Seeder interface {
	SeedRange(ctx context.Context, startID, endID int, opts seeder.Options) (*seeder.Result, error)
	SeedGeneration(ctx context.Context, index int, opts seeder.Options) (*seeder.Result, error)
	SeedAllGenerations(ctx context.Context, opts seeder.Options) (*seeder.Result, error)
	SeedIDs(ctx context.Context, ids []int, opts seeder.Options) (*seeder.Result, error)
}

// Request represents a seed invocation request.
type Request struct {
	StartID    int    `json:"start_id,omitempty"`
	EndID      int    `json:"end_id,omitempty"`
	Generation int    `json:"generation,omitempty"`
	All        bool   `json:"all,omitempty"`
	IDs        []int  `json:"ids,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	Force      bool   `json:"force,omitempty"`
	Source     string `json:"-"`
}

// DeriveType infers the job type based on populated fields.
func (r Request) DeriveType() (JobType, error) {
	switch {
	case len(r.IDs) > 0:
		return JobTypeIDs, nil
	case r.All:
		return JobTypeAll, nil
	case r.Generation != 0:
		return JobTypeGeneration, nil
	case r.StartID != 0 || r.EndID != 0:
		return JobTypeRange, nil
	default:
		return "", fmt.Errorf("%w: set ids, all, generation or start_id and end_id", ErrInvalidRequest)
	}
}

// Service coordinates job bookkeeping, execution, and status reporting.
type Service struct {
	seeder   Seeder
	registry *generation.Registry

	historyLimit int
	queue        chan string

	mu           sync.Mutex
	jobs         map[string]*Job
	history      []string // finished job ids, oldest first
	active       string
	cancelActive context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewService constructs a Service. Call Start to launch the worker.
func NewService(s Seeder, registry *generation.Registry, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		seeder:       s,
		registry:     registry,
		historyLimit: defaultHistoryLimit,
		queue:        make(chan string, defaultQueueSize),
		jobs:         make(map[string]*Job),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "jobs"),
	}
}

// Start launches the background worker loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Shutdown cancels the running job and waits for the worker. The running
// seed returns its partial result before the worker exits.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue validates req and queues a job for it.
func (s *Service) Enqueue(_ context.Context, req Request) (*Job, error) {
	jobType, err := req.DeriveType()
	if err != nil {
		return nil, err
	}
	if req.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", seeder.ErrInvalidBatchSize, req.BatchSize)
	}

	now := time.Now().UTC()
	job := &Job{
		JobID:         uuid.NewString(),
		JobType:       jobType,
		Source:        req.Source,
		BatchSize:     req.BatchSize,
		Force:         req.Force,
		Status:        JobStatusQueued,
		StatusMessage: "Queued",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch jobType {
	case JobTypeIDs:
		for _, id := range req.IDs {
			if id < 1 {
				return nil, fmt.Errorf("%w: id %d", seeder.ErrInvalidRange, id)
			}
		}
		job.IDs = append([]int(nil), req.IDs...)
		job.ProgressTotal = len(req.IDs)
	case JobTypeAll:
		job.ProgressTotal = s.registry.TotalExpected()
	case JobTypeGeneration:
		g, err := s.registry.RangeFor(req.Generation)
		if err != nil {
			return nil, err
		}
		job.Generation = g.Index
		job.ProgressTotal = g.ExpectedCount()
	case JobTypeRange:
		if req.StartID < 1 || req.EndID < req.StartID {
			return nil, fmt.Errorf("%w: %d-%d", seeder.ErrInvalidRange, req.StartID, req.EndID)
		}
		job.StartID = req.StartID
		job.EndID = req.EndID
		job.ProgressTotal = req.EndID - req.StartID + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.queue <- job.JobID:
	default:
		return nil, ErrQueueFull
	}
	s.jobs[job.JobID] = job

	s.logger.Info("seed job queued", "job_id", job.JobID, "type", job.JobType, "source", job.Source, "total", job.ProgressTotal)
	return job.Copy(), nil
}

// Get returns one job by id.
func (s *Service) Get(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Copy(), nil
}

// Cancel stops a queued or running job. A running job returns its partial
// result.
func (s *Service) Cancel(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	switch {
	case job.Status.Finished():
		return nil, ErrJobFinished
	case job.JobID == s.active:
		job.StatusMessage = "Cancelling"
		s.cancelActive()
	default:
		s.finishLocked(job, JobStatusCancelled, "Cancelled before start", nil)
	}
	return job.Copy(), nil
}

// GetStatus returns the running job, queued jobs and recent history, most
// recent first.
func (s *Service) GetStatus(context.Context) (*StatusSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &StatusSummary{Queued: []*Job{}, History: []*Job{}}
	if job, ok := s.jobs[s.active]; ok {
		summary.ActiveJob = job.Copy()
	}
	for _, job := range s.jobs {
		if job.Status == JobStatusQueued {
			summary.Queued = append(summary.Queued, job.Copy())
		}
	}
	sortByCreated(summary.Queued)

	for i := len(s.history) - 1; i >= 0; i-- {
		summary.History = append(summary.History, s.jobs[s.history[i]].Copy())
	}
	return summary, nil
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drainQueue()
			return
		case jobID := <-s.queue:
			s.executeJob(jobID)
		}
	}
}

// drainQueue marks jobs that never started as cancelled on shutdown.
func (s *Service) drainQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case jobID := <-s.queue:
			if job, ok := s.jobs[jobID]; ok && job.Status == JobStatusQueued {
				s.finishLocked(job, JobStatusCancelled, "Service shutting down", nil)
			}
		default:
			return
		}
	}
}

func (s *Service) executeJob(jobID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	job, ok := s.claim(jobID, cancel)
	if !ok {
		return
	}

	opts := seeder.Options{
		BatchSize:    job.BatchSize,
		ForceRefresh: job.Force,
		Reporter:     &jobReporter{svc: s, jobID: jobID},
	}

	var (
		res *seeder.Result
		err error
	)
	switch job.JobType {
	case JobTypeRange:
		res, err = s.seeder.SeedRange(ctx, job.StartID, job.EndID, opts)
	case JobTypeGeneration:
		res, err = s.seeder.SeedGeneration(ctx, job.Generation, opts)
	case JobTypeAll:
		res, err = s.seeder.SeedAllGenerations(ctx, opts)
	case JobTypeIDs:
		res, err = s.seeder.SeedIDs(ctx, job.IDs, opts)
	default:
		err = fmt.Errorf("unknown job type %s", job.JobType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = ""
	s.cancelActive = nil
	current := s.jobs[jobID]
	current.Result = res

	switch {
	case err != nil:
		s.logger.Error("seed job failed", "job_id", jobID, "error", err)
		s.finishLocked(current, JobStatusFailed, "Job failed", err)
	case res.Partial && ctx.Err() != nil:
		s.finishLocked(current, JobStatusCancelled, fmt.Sprintf("Stopped early: %d of %d remaining", res.Remaining, res.Total), nil)
	case res.Failed > 0:
		s.finishLocked(current, JobStatusCompleted, fmt.Sprintf("Completed with %d failures", res.Failed), nil)
	default:
		s.finishLocked(current, JobStatusCompleted, "Job completed", nil)
	}
}

// claim marks a queued job running. It reports false for jobs cancelled
// while queued.
func (s *Service) claim(jobID string, cancel context.CancelFunc) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != JobStatusQueued {
		return nil, false
	}

	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StatusMessage = "Starting job..."
	job.StartedAt = &now
	job.UpdatedAt = now
	s.active = jobID
	s.cancelActive = cancel

	s.logger.Info("seed job started", "job_id", jobID, "type", job.JobType)
	return job.Copy(), true
}

func (s *Service) finishLocked(job *Job, status JobStatus, msg string, err error) {
	now := time.Now().UTC()
	job.Status = status
	job.StatusMessage = msg
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err != nil {
		job.LastError = err.Error()
	}

	s.history = append(s.history, job.JobID)
	for len(s.history) > s.historyLimit {
		delete(s.jobs, s.history[0])
		s.history = s.history[1:]
	}
}

func (s *Service) update(jobID string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok && job.Status == JobStatusRunning {
		fn(job)
		job.UpdatedAt = time.Now().UTC()
	}
}

// jobReporter feeds seeder progress into the job record.
type jobReporter struct {
	svc   *Service
	jobID string
}

func (r *jobReporter) OnRunStart(info seeder.RunInfo) {
	r.svc.update(r.jobID, func(j *Job) {
		j.ProgressTotal = info.Total
		j.StatusMessage = "Job starting"
	})
}

func (r *jobReporter) OnBatchStart(info seeder.BatchInfo) {
	r.svc.update(r.jobID, func(j *Job) {
		j.StatusMessage = fmt.Sprintf("Processing batch %d/%d (ids %d-%d)", info.Index, info.Of, info.FirstID, info.LastID)
	})
}

func (r *jobReporter) OnOutcome(o seeder.Outcome) {
	r.svc.update(r.jobID, func(j *Job) {
		j.ProgressCurrent++
		if o.State == seeder.StateFailed {
			j.LastError = fmt.Sprintf("species %d: %s", o.ID, o.Reason)
		}
	})
}

func (r *jobReporter) OnRunComplete(*seeder.Result) {}

func sortByCreated(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
}
