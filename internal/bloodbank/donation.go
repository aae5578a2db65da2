package bloodbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recorder applies donations. Unlike requests there is no approval gate:
// a validated donation always credits the ledger.
type Recorder struct {
	store  Store
	dir    Directory
	ledger *Ledger
	now    func() time.Time
}

func NewRecorder(store Store, dir Directory, ledger *Ledger) *Recorder {
	return &Recorder{store: store, dir: dir, ledger: ledger, now: time.Now}
}

// Record credits the ledger and appends the donation in one transaction.
// An empty group falls back to the donor's registered group. It returns the
// event and the group's new balance.
func (r *Recorder) Record(ctx context.Context, donorID string, g BloodGroup, quantity int) (DonationEvent, int, error) {
	if quantity <= 0 {
		return DonationEvent{}, 0, ErrInvalidQuantity
	}
	donor, err := r.dir.ResolveDonor(ctx, donorID)
	if err != nil {
		return DonationEvent{}, 0, err
	}
	if g == "" {
		g = donor.Group
	}
	if !g.Valid() {
		return DonationEvent{}, 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}

	ev := DonationEvent{
		ID:         uuid.NewString(),
		DonorID:    donor.ID,
		Group:      g,
		Quantity:   quantity,
		RecordedAt: r.now().UTC(),
	}
	var balance int
	err = r.store.InTx(ctx, func(tx Tx) error {
		var err error
		if balance, err = r.ledger.credit(ctx, tx, g, quantity); err != nil {
			return err
		}
		return tx.AppendDonation(ctx, ev)
	})
	if err != nil {
		return DonationEvent{}, 0, err
	}
	return ev, balance, nil
}

// History lists a donor's donations, newest first.
func (r *Recorder) History(ctx context.Context, donorID string) ([]DonationEvent, error) {
	if _, err := r.dir.ResolveDonor(ctx, donorID); err != nil {
		return nil, err
	}
	return r.store.ListDonations(ctx, donorID)
}

func (r *Recorder) LastDonation(ctx context.Context, donorID string) (DonationEvent, bool, error) {
	hist, err := r.History(ctx, donorID)
	if err != nil || len(hist) == 0 {
		return DonationEvent{}, false, err
	}
	return hist[0], true, nil
}
