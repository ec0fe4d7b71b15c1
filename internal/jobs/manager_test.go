package jobs

import (
	"errors"
	"testing"

	"avsync-studio/internal/domain"
)

// TestRegistryLifecycle verifies normal progression to completed state.
func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	job, err := r.Begin(domain.JobKindAnalyze, "/in/v.mp4", "/in/a.wav")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job ID")
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}

	if err := r.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := r.Finish(job.ID, domain.JobStatusCompleted); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, ok := r.Job(job.ID)
	if !ok || got.Status != domain.JobStatusCompleted {
		t.Fatalf("job = %+v, ok = %v, want completed", got, ok)
	}
}

// TestRegistryRejectsDuplicatePair checks the busy policy per pair and
// kind, including path normalization.
func TestRegistryRejectsDuplicatePair(t *testing.T) {
	r := NewRegistry()

	first, err := r.Begin(domain.JobKindAnalyze, "/in/v.mp4", "/in/a.wav")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := r.Begin(domain.JobKindAnalyze, "/in/./v.mp4", "/in/a.wav"); !errors.Is(err, ErrBusy) {
		t.Fatalf("duplicate begin error = %v, want ErrBusy", err)
	}

	// A different kind for the same pair is allowed.
	if _, err := r.Begin(domain.JobKindExport, "/in/v.mp4", "/in/a.wav"); err != nil {
		t.Fatalf("export begin: %v", err)
	}
	// A different pair is allowed.
	if _, err := r.Begin(domain.JobKindAnalyze, "/in/other.mp4", "/in/a.wav"); err != nil {
		t.Fatalf("other pair begin: %v", err)
	}

	// Finishing frees the pair for a new run.
	if err := r.Finish(first.ID, domain.JobStatusFailed); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := r.Begin(domain.JobKindAnalyze, "/in/v.mp4", "/in/a.wav"); err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
}

// TestRegistryTerminalStatesAreFinal checks transition constraints.
func TestRegistryTerminalStatesAreFinal(t *testing.T) {
	r := NewRegistry()

	job, err := r.Begin(domain.JobKindExport, "/in/v.mp4", "/in/a.wav")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := r.MarkRunning(job.ID); err == nil {
		t.Fatal("expected invalid transition error for second MarkRunning")
	}

	if err := r.Finish(job.ID, domain.JobStatusCancelled); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := r.Finish(job.ID, domain.JobStatusFailed); err == nil {
		t.Fatal("terminal status must not be overwritten")
	}

	got, _ := r.Job(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

// TestRegistryValidation covers unknown IDs and non-terminal finishes.
func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	if err := r.MarkRunning("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("error = %v, want ErrUnknownJob", err)
	}
	if err := r.Finish("nope", domain.JobStatusFailed); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("error = %v, want ErrUnknownJob", err)
	}

	job, err := r.Begin(domain.JobKindAnalyze, "/in/v.mp4", "/in/a.wav")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.Finish(job.ID, domain.JobStatusRunning); err == nil {
		t.Fatal("expected rejection of non-terminal finish status")
	}
}
