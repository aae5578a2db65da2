package bloodbank

import (
	"context"
	"time"
)

// Coordinator turns "check stock, debit, mark approved" into one
// transaction. Only requests for the same group contend: the Tx locks the
// request row and then that group's balance row, never a global lock.
type Coordinator struct {
	store  Store
	ledger *Ledger
	now    func() time.Time
}

func NewCoordinator(store Store, ledger *Ledger) *Coordinator {
	return &Coordinator{store: store, ledger: ledger, now: time.Now}
}

// TryApprove debits the request's group and marks it approved. On
// *InsufficientStockError nothing changes and the request stays pending.
// The returned int is the group's balance after the debit.
func (c *Coordinator) TryApprove(ctx context.Context, id, actor string) (BloodRequest, int, error) {
	var (
		out     BloodRequest
		balance int
	)
	err := c.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, StatusApproved) {
			return &AlreadyDecidedError{ID: r.ID, Status: r.Status}
		}
		if balance, err = c.ledger.debit(ctx, tx, r.Group, r.Quantity); err != nil {
			return err
		}
		at := c.now().UTC()
		r.Status = StatusApproved
		r.DecidedAt = &at
		r.DecidedBy = actor
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return BloodRequest{}, 0, err
	}
	return out, balance, nil
}
