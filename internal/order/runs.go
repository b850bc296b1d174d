package order

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
)

// Run statuses, in lifecycle order.
const (
	StatusRunning   = "running"
	StatusAwaiting  = "awaiting_confirmation"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Run is the tracked state of one background order run.
type Run struct {
	ID        string           `json:"id"`
	Provider  catalog.Provider `json:"provider"`
	Status    string           `json:"status"`
	Items     []ItemResult     `json:"items,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Tracker is an in-memory registry of runs keyed by id. Runs are kept until
// process exit; the set stays small.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*trackedRun
}

type trackedRun struct {
	run  Run
	orch *Orchestrator
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*trackedRun)}
}

// Create registers a new running entry and returns its id.
func (t *Tracker) Create(provider catalog.Provider, orch *Orchestrator) string {
	id := uuid.NewString()
	now := time.Now()
	t.mu.Lock()
	t.runs[id] = &trackedRun{
		run: Run{
			ID:        id,
			Provider:  provider,
			Status:    StatusRunning,
			StartedAt: now,
			UpdatedAt: now,
		},
		orch: orch,
	}
	t.mu.Unlock()
	return id
}

// Get returns a snapshot of the run, or false when the id is unknown.
func (t *Tracker) Get(id string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return tr.run, true
}

// SetStatus updates the run status.
func (t *Tracker) SetStatus(id, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.runs[id]; ok {
		tr.run.Status = status
		tr.run.UpdatedAt = time.Now()
	}
}

// Finish records the terminal outcome of a run.
func (t *Tracker) Finish(id string, results []ItemResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.runs[id]
	if !ok {
		return
	}
	tr.run.Items = results
	tr.run.UpdatedAt = time.Now()
	if err != nil {
		tr.run.Status = StatusFailed
		tr.run.Error = err.Error()
		return
	}
	tr.run.Status = StatusCompleted
}

// Confirm forwards a checkout confirmation to the run's orchestrator,
// reporting whether the run exists and was awaiting one.
func (t *Tracker) Confirm(id string) bool {
	t.mu.RLock()
	tr, ok := t.runs[id]
	t.mu.RUnlock()
	if !ok || tr.orch == nil {
		return false
	}
	tr.orch.ConfirmCheckout()
	return true
}
