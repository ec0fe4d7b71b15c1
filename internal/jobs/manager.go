package jobs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"avsync-studio/internal/domain"
)

// ErrBusy is returned when a job of the same kind is already active for
// the same input pair.
var ErrBusy = errors.New("a job for this input pair is already running")

// ErrUnknownJob is returned for lookups and transitions on missing IDs.
var ErrUnknownJob = errors.New("unknown job")

// pairKey identifies an input pair plus work kind. One analyze and one
// export job may be active per pair at a time.
type pairKey struct {
	kind      domain.JobKind
	videoPath string
	audioPath string
}

func keyFor(kind domain.JobKind, videoPath, audioPath string) pairKey {
	return pairKey{
		kind:      kind,
		videoPath: filepath.Clean(videoPath),
		audioPath: filepath.Clean(audioPath),
	}
}

// Registry tracks jobs and enforces their state machine:
// pending -> running -> {completed, failed, cancelled}. Terminal
// states are final.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]domain.Job
	active map[pairKey]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[string]domain.Job),
		active: make(map[pairKey]string),
	}
}

// Begin registers a new pending job for the input pair, rejecting the
// request with ErrBusy while another job of the same kind is active for
// the same (cleaned) paths.
func (r *Registry) Begin(kind domain.JobKind, videoPath, audioPath string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(kind, videoPath, audioPath)
	if activeID, ok := r.active[key]; ok {
		if job, exists := r.jobs[activeID]; exists && !job.Status.IsTerminal() {
			return domain.Job{}, fmt.Errorf("%w: %s", ErrBusy, activeID)
		}
		delete(r.active, key)
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		VideoPath: videoPath,
		AudioPath: audioPath,
		Status:    domain.JobStatusPending,
	}
	r.jobs[job.ID] = job
	r.active[key] = job.ID
	return job, nil
}

// MarkRunning moves a pending job to running.
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, domain.JobStatusRunning)
	}
	job.Status = domain.JobStatusRunning
	r.jobs[id] = job
	return nil
}

// Finish moves an active job into one of the terminal states and frees
// its input pair. Finishing an already terminal job is rejected so a
// late failure cannot overwrite a cancellation.
func (r *Registry) Finish(id string, status domain.JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already finished as %s", id, job.Status)
	}

	job.Status = status
	r.jobs[id] = job

	key := keyFor(job.Kind, job.VideoPath, job.AudioPath)
	if r.active[key] == id {
		delete(r.active, key)
	}
	return nil
}

// Job returns a snapshot of one job.
func (r *Registry) Job(id string) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Jobs returns a snapshot of every known job in unspecified order.
func (r *Registry) Jobs() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}
