package testutils

import (
	"context"
	"slices"
	"sync"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// RecordingObserver keeps every notification it receives.
type RecordingObserver struct {
	mu        sync.Mutex
	reports   []domain.RoundReport
	snapshots []domain.Snapshot
	final     *domain.Snapshot
	finalErr  error
}

var _ ports.DuelObserver = (*RecordingObserver)(nil)

// RoundCompleted records the report and snapshot.
func (r *RecordingObserver) RoundCompleted(_ context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	r.snapshots = append(r.snapshots, snapshot)
}

// DuelFinished records the final snapshot and error.
func (r *RecordingObserver) DuelFinished(_ context.Context, snapshot domain.Snapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = &snapshot
	r.finalErr = err
}

// Reports returns the round reports in order.
func (r *RecordingObserver) Reports() []domain.RoundReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reports)
}

// Snapshots returns the per-round snapshots in order.
func (r *RecordingObserver) Snapshots() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snapshots)
}

// Final returns the DuelFinished snapshot and error, if any.
func (r *RecordingObserver) Final() (*domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final, r.finalErr
}
