package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Update when the job id is unknown.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusCreated     Status = "created"
	StatusUploading   Status = "uploading"
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the full state of one transcription job. Records are owned by
// the Store; callers always receive copies.
type Record struct {
	JobID        string    `json:"job_id"`
	OwnerID      string    `json:"user_id"`
	Filename     string    `json:"filename"`
	Provider     string    `json:"provider"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStep  string    `json:"current_step"`
	CostEstimate float64   `json:"cost_estimate"`
	Duration     *float64  `json:"duration"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateParams are the immutable attributes of a new job.
type CreateParams struct {
	OwnerID      string
	Filename     string
	Provider     string
	Duration     *float64 // nil until probed
	InitialCost  float64
}

// UpdateParams carries one progress mutation. Duration is written only
// when non-nil; the stored value is retained otherwise.
type UpdateParams struct {
	Progress     int
	Status       Status
	CurrentStep  string
	CostEstimate float64
	Duration     *float64
}

// Store is an in-memory table of job records keyed by job id.
// All operations are safe for concurrent use; each mutation replaces the
// whole record under the lock, so concurrent updates never interleave.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Record)}
}

// Create registers a new job and returns its generated id.
func (s *Store) Create(p CreateParams) string {
	id := uuid.NewString()
	now := time.Now()

	rec := &Record{
		JobID:        id,
		OwnerID:      p.OwnerID,
		Filename:     p.Filename,
		Provider:     p.Provider,
		Status:       StatusCreated,
		Progress:     0,
		CurrentStep:  "Job created",
		CostEstimate: p.InitialCost,
		Duration:     copyDuration(p.Duration),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.jobs[id] = rec
	s.mu.Unlock()
	return id
}

// Update applies a progress mutation to an existing job.
// Progress is clamped to [0,100] before storage. Returns ErrNotFound if
// the id is unknown.
func (s *Store) Update(jobID string, p UpdateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	rec.Progress = clampProgress(p.Progress)
	rec.Status = p.Status
	rec.CurrentStep = p.CurrentStep
	rec.CostEstimate = p.CostEstimate
	if p.Duration != nil {
		rec.Duration = copyDuration(p.Duration)
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// Get returns a snapshot of a job, or nil if the id is unknown.
func (s *Store) Get(jobID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return rec.snapshot()
}

// ListByOwner returns snapshots of all jobs belonging to an owner.
func (s *Store) ListByOwner(ownerID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.jobs {
		if rec.OwnerID == ownerID {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Delete removes a job. Unknown ids are a no-op.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (r *Record) snapshot() *Record {
	cp := *r
	cp.Duration = copyDuration(r.Duration)
	return &cp
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func copyDuration(d *float64) *float64 {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
