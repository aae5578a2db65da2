package bloodbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Requests owns the request state machine: pending -> approved | rejected.
type Requests struct {
	store Store
	dir   Directory
	coord *Coordinator
	now   func() time.Time
}

func NewRequests(store Store, dir Directory, coord *Coordinator) *Requests {
	return &Requests{store: store, dir: dir, coord: coord, now: time.Now}
}

// Submit stores a pending request. Stock is not checked here; it can change
// before anyone reviews the request.
func (m *Requests) Submit(ctx context.Context, hospitalID string, g BloodGroup, quantity int) (BloodRequest, error) {
	if quantity <= 0 {
		return BloodRequest{}, ErrInvalidQuantity
	}
	if !g.Valid() {
		return BloodRequest{}, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	h, err := m.dir.ResolveHospital(ctx, hospitalID)
	if err != nil {
		return BloodRequest{}, err
	}
	return m.store.CreateRequest(ctx, BloodRequest{
		ID:         uuid.NewString(),
		HospitalID: h.ID,
		Group:      g,
		Quantity:   quantity,
		Status:     StatusPending,
		CreatedAt:  m.now().UTC(),
	})
}

// Decide applies outcome to a pending request. A second decision on the
// same request fails with *AlreadyDecidedError instead of being ignored.
// balance is only meaningful for approvals.
func (m *Requests) Decide(ctx context.Context, id string, outcome Outcome, actor string) (r BloodRequest, balance int, err error) {
	switch outcome {
	case OutcomeApprove:
		return m.coord.TryApprove(ctx, id, actor)
	case OutcomeReject:
		r, err = m.reject(ctx, id, actor)
		return r, 0, err
	}
	return BloodRequest{}, 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
}

func (m *Requests) reject(ctx context.Context, id, actor string) (BloodRequest, error) {
	var out BloodRequest
	err := m.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, StatusRejected) {
			return &AlreadyDecidedError{ID: r.ID, Status: r.Status}
		}
		at := m.now().UTC()
		r.Status = StatusRejected
		r.DecidedAt = &at
		r.DecidedBy = actor
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return BloodRequest{}, err
	}
	return out, nil
}

func (m *Requests) Get(ctx context.Context, id string) (BloodRequest, error) {
	return m.store.GetRequest(ctx, id)
}

// List returns matching requests, newest first.
func (m *Requests) List(ctx context.Context, f RequestFilter) ([]BloodRequest, error) {
	return m.store.ListRequests(ctx, f)
}
