package hierarchy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"golang.org/x/sync/singleflight"
)

// EmployeeSource lists the active employees of the organization.
type EmployeeSource interface {
	ListActive(ctx context.Context) ([]*repository.Employee, error)
}

// BranchSource lists branch records.
type BranchSource interface {
	List(ctx context.Context) ([]*repository.Branch, error)
}

const rebuildTimeout = 30 * time.Second

// Holder publishes the most recently completed Resolution. Readers never
// observe a resolution that is still being built, and a slow rebuild that
// finishes after a newer one is discarded.
type Holder struct {
	employees EmployeeSource
	branches  BranchSource
	log       *logger.Logger

	current    atomic.Pointer[Resolution]
	generation atomic.Uint64
	initial    singleflight.Group
	pending    sync.WaitGroup
}

// NewHolder creates a Holder. No snapshot exists until the first Current or
// Rebuild call.
func NewHolder(employees EmployeeSource, branches BranchSource, log *logger.Logger) *Holder {
	return &Holder{
		employees: employees,
		branches:  branches,
		log:       log.Component("hierarchy"),
	}
}

// Current returns the published snapshot, building the first one on demand.
// Concurrent first callers share one build.
func (h *Holder) Current(ctx context.Context) (*Resolution, error) {
	if res := h.current.Load(); res != nil {
		return res, nil
	}
	v, err, _ := h.initial.Do("initial", func() (interface{}, error) {
		if res := h.current.Load(); res != nil {
			return res, nil
		}
		return h.Rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolution), nil
}

// Rebuild loads the organization, resolves it and publishes the result unless
// a newer generation was published meanwhile.
func (h *Holder) Rebuild(ctx context.Context) (*Resolution, error) {
	gen := h.generation.Add(1)

	employees, err := h.employees.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load employees")
	}
	branches, err := h.branches.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load branches")
	}

	res := Resolve(employees, branches)
	res.Generation = gen

	for {
		old := h.current.Load()
		if old != nil && old.Generation > gen {
			h.log.Debug().
				Uint64("generation", gen).
				Uint64("published", old.Generation).
				Msg("Discarding superseded hierarchy snapshot")
			return res, nil
		}
		if h.current.CompareAndSwap(old, res) {
			break
		}
	}

	h.log.Info().
		Uint64("generation", gen).
		Int("employees", res.Size()).
		Int("anomalies", len(res.anomalies)).
		Msg("Hierarchy snapshot published")
	return res, nil
}

// RebuildAsync schedules a rebuild in the background. Failures are logged;
// the previous snapshot stays in place.
func (h *Holder) RebuildAsync() {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		if _, err := h.Rebuild(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Background hierarchy rebuild failed")
		}
	}()
}

// Wait blocks until every scheduled background rebuild has finished.
func (h *Holder) Wait() {
	h.pending.Wait()
}
