package bloodbank

import (
	"context"
	"fmt"
)

// Ledger holds units per blood group. Every balance change goes through
// credit or debit while the group's lock is held by the caller's Tx.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Credit adds quantity to g in its own transaction and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, g BloodGroup, quantity int) (int, error) {
	var balance int
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		balance, err = l.credit(ctx, tx, g, quantity)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *Ledger) credit(ctx context.Context, tx Tx, g BloodGroup, quantity int) (int, error) {
	if !g.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	units, err := tx.LockBalance(ctx, g)
	if err != nil {
		return 0, err
	}
	units += quantity
	if err := tx.SetBalance(ctx, g, units); err != nil {
		return 0, err
	}
	return units, nil
}

// debit is the only code path that lowers a balance. The sufficiency check
// runs against the units read under the lock, so it cannot go stale.
func (l *Ledger) debit(ctx context.Context, tx Tx, g BloodGroup, quantity int) (int, error) {
	if !g.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	units, err := tx.LockBalance(ctx, g)
	if err != nil {
		return 0, err
	}
	if units < quantity {
		return units, &InsufficientStockError{Group: g, Available: units, Requested: quantity}
	}
	units -= quantity
	if err := tx.SetBalance(ctx, g, units); err != nil {
		return 0, err
	}
	return units, nil
}

func (l *Ledger) Balance(ctx context.Context, g BloodGroup) (int, error) {
	if !g.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	return l.store.Balance(ctx, g)
}

// Inventory returns one entry per group in canonical order.
func (l *Ledger) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	entries, err := l.store.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	byGroup := make(map[BloodGroup]InventoryEntry, len(entries))
	for _, e := range entries {
		byGroup[e.Group] = e
	}
	out := make([]InventoryEntry, 0, len(Groups))
	for _, g := range Groups {
		e, ok := byGroup[g]
		if !ok {
			e = InventoryEntry{Group: g}
		}
		out = append(out, e)
	}
	return out, nil
}
