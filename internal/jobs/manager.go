package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-review-harvester/internal/dataset"
	"github.com/maltedev/amazon-review-harvester/internal/harvest"
)

var (
	ErrHarvestRunning = errors.New("a harvest is already running")
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRange   = errors.New("invalid page range")
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Runner performs one harvest against ds.
type Runner interface {
	Harvest(ctx context.Context, ds *dataset.Dataset, startPage, endPage int) (*harvest.Report, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ds *dataset.Dataset, startPage, endPage int) (*harvest.Report, error)

func (f RunnerFunc) Harvest(ctx context.Context, ds *dataset.Dataset, startPage, endPage int) (*harvest.Report, error) {
	return f(ctx, ds, startPage, endPage)
}

// Job is one submitted harvest.
type Job struct {
	ID          string          `json:"id"`
	StartPage   int             `json:"start_page"`
	EndPage     int             `json:"end_page"`
	Status      string          `json:"status"`
	Report      *harvest.Report `json:"report,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Manager runs harvests in the background, one at a time, against a
// shared dataset.
type Manager struct {
	ctx    context.Context
	runner Runner
	ds     *dataset.Dataset
	save   func(*dataset.Dataset) error
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	running string
	wg      sync.WaitGroup
}

// NewManager returns a manager whose harvests run under ctx. save, when
// non-nil, persists the dataset after every harvest.
func NewManager(ctx context.Context, runner Runner, ds *dataset.Dataset, save func(*dataset.Dataset) error, logger *slog.Logger) *Manager {
	return &Manager{
		ctx:    ctx,
		runner: runner,
		ds:     ds,
		save:   save,
		logger: logger.With("component", "job_manager"),
		jobs:   make(map[string]*Job),
	}
}

// Submit starts a harvest over startPage..endPage. It fails with
// ErrHarvestRunning while another harvest is in progress.
func (m *Manager) Submit(startPage, endPage int) (*Job, error) {
	if startPage < 1 {
		return nil, fmt.Errorf("%w: start page must be at least 1, got %d", ErrInvalidRange, startPage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running != "" {
		return nil, ErrHarvestRunning
	}

	job := &Job{
		ID:        uuid.New().String(),
		StartPage: startPage,
		EndPage:   endPage,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.running = job.ID

	m.wg.Add(1)
	go m.run(job)

	m.logger.Info("job created", "id", job.ID, "start_page", startPage, "end_page", endPage)
	return job.snapshot(), nil
}

// Get returns a copy of the job.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// List returns copies of all jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.jobs[m.order[i]].snapshot())
	}
	return out
}

// Running reports whether a harvest is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running != ""
}

// Dataset returns the dataset harvests append to.
func (m *Manager) Dataset() *dataset.Dataset {
	return m.ds
}

// Wait blocks until the running harvest, if any, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(job *Job) {
	defer m.wg.Done()

	m.update(job, func(j *Job) {
		now := time.Now()
		j.Status = StatusRunning
		j.StartedAt = &now
	})

	report, err := m.runner.Harvest(m.ctx, m.ds, job.StartPage, job.EndPage)

	var saveErr error
	if m.save != nil {
		saveErr = m.save(m.ds)
	}

	m.update(job, func(j *Job) {
		now := time.Now()
		j.CompletedAt = &now
		j.Report = report

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			j.Status = StatusCancelled
			j.Error = err.Error()
		case err != nil:
			j.Status = StatusFailed
			j.Error = err.Error()
		case saveErr != nil:
			j.Status = StatusFailed
			j.Error = fmt.Sprintf("failed to save dataset: %v", saveErr)
		default:
			j.Status = StatusCompleted
		}
	})

	m.mu.Lock()
	m.running = ""
	status := job.Status
	m.mu.Unlock()

	if status == StatusCompleted {
		m.logger.Info("job completed", "id", job.ID, "rows", m.ds.Len())
	} else {
		m.logger.Error("job did not complete", "id", job.ID, "status", status, "error", err, "save_error", saveErr)
	}
}

func (m *Manager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func (j *Job) snapshot() *Job {
	c := *j
	if j.Report != nil {
		r := *j.Report
		c.Report = &r
	}
	return &c
}
