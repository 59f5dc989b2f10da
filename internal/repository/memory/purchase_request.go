package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// PurchaseRequestRepository keeps purchase requests, their plans, history
// and assignments behind one mutex, which gives Save the same all-or-nothing
// behaviour as the PostgreSQL transaction.
type PurchaseRequestRepository struct {
	mu          sync.Mutex
	requests    map[string]*repository.PurchaseRequest
	plans       map[string][]*repository.ApprovalPlan
	history     map[string][]*repository.HistoryEntry
	assignments map[string][]*repository.Assignment
}

// NewPurchaseRequestRepository creates an empty repository.
func NewPurchaseRequestRepository() *PurchaseRequestRepository {
	return &PurchaseRequestRepository{
		requests:    map[string]*repository.PurchaseRequest{},
		plans:       map[string][]*repository.ApprovalPlan{},
		history:     map[string][]*repository.HistoryEntry{},
		assignments: map[string][]*repository.Assignment{},
	}
}

// Create stores a new purchase request at version 1.
func (r *PurchaseRequestRepository) Create(_ context.Context, pr *repository.PurchaseRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[pr.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "purchase request already exists")
	}
	now := time.Now()
	pr.Version = 1
	pr.CreatedAt, pr.UpdatedAt = now, now
	r.requests[pr.ID] = pr.Clone()
	return nil
}

// GetByID returns a copy of the stored purchase request.
func (r *PurchaseRequestRepository) GetByID(_ context.Context, id string) (*repository.PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pr, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("purchase_request", id)
	}
	return pr.Clone(), nil
}

// ListAwaiting returns purchase requests with a pending stage.
func (r *PurchaseRequestRepository) ListAwaiting(_ context.Context) ([]*repository.PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*repository.PurchaseRequest
	for _, pr := range r.requests {
		if pr.Status.IsPending() {
			out = append(out, pr.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

// UpdateDetails replaces editable fields under the version check.
func (r *PurchaseRequestRepository) UpdateDetails(_ context.Context, pr *repository.PurchaseRequest, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.requests[pr.ID]
	if !ok {
		return errors.NotFound("purchase_request", pr.ID)
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	next := stored.Clone()
	next.Title = pr.Title
	next.Category = pr.Category
	next.Amount = pr.Amount
	next.Currency = pr.Currency
	next.Description = pr.Description
	next.Version++
	next.UpdatedAt = time.Now()
	r.requests[pr.ID] = next

	pr.Version, pr.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

// Save applies a transition if the stored version matches.
func (r *PurchaseRequestRepository) Save(_ context.Context, pr *repository.PurchaseRequest, expectedVersion int64, change repository.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.requests[pr.ID]
	if !ok {
		return errors.NotFound("purchase_request", pr.ID)
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}

	// validate everything before mutating anything
	active := r.activeAssignment(pr.ID)
	if change.RetireAssignmentID != "" {
		if active == nil || active.ID != change.RetireAssignmentID {
			return errors.New(errors.ErrCodeConflict, "assignment already retired")
		}
	}
	if change.Assign != nil && active != nil && active.ID != change.RetireAssignmentID {
		return repository.ErrAssignmentConflict
	}

	now := time.Now()
	if change.RetireAssignmentID != "" {
		active.DeletedAt = &now
	}
	if change.Assign != nil {
		a := *change.Assign
		r.assignments[pr.ID] = append(r.assignments[pr.ID], &a)
	}
	if change.NewPlan != nil {
		r.plans[pr.ID] = append(r.plans[pr.ID], change.NewPlan.Clone())
	}
	for _, entry := range change.History {
		e := *entry
		r.history[pr.ID] = append(r.history[pr.ID], &e)
	}

	pr.Version = stored.Version + 1
	pr.UpdatedAt = now
	r.requests[pr.ID] = pr.Clone()
	return nil
}

// GetActive returns the non-deleted assignment, or nil.
func (r *PurchaseRequestRepository) GetActive(_ context.Context, prID string) (*repository.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.activeAssignment(prID); a != nil {
		out := *a
		return &out, nil
	}
	return nil, nil
}

// GetByPurchaseRequest returns the history trail, oldest first.
func (r *PurchaseRequestRepository) GetByPurchaseRequest(_ context.Context, prID string) ([]*repository.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*repository.HistoryEntry, 0, len(r.history[prID]))
	for _, e := range r.history[prID] {
		entry := *e
		out = append(out, &entry)
	}
	return out, nil
}

// ListByPurchaseRequest returns every plan routed for a purchase request.
func (r *PurchaseRequestRepository) ListByPurchaseRequest(_ context.Context, prID string) ([]*repository.ApprovalPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*repository.ApprovalPlan, 0, len(r.plans[prID]))
	for _, p := range r.plans[prID] {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *PurchaseRequestRepository) activeAssignment(prID string) *repository.Assignment {
	for _, a := range r.assignments[prID] {
		if a.DeletedAt == nil {
			return a
		}
	}
	return nil
}
