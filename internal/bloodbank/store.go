package bloodbank

import "context"

// Store is the durable storage contract the engine needs.
//
// InTx runs fn in a single transaction. Writes made through the Tx become
// visible together when fn returns nil and are discarded otherwise. Locks
// taken through the Tx are held until the transaction ends.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateRequest(ctx context.Context, r BloodRequest) (BloodRequest, error)
	GetRequest(ctx context.Context, id string) (BloodRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]BloodRequest, error)

	Balance(ctx context.Context, g BloodGroup) (int, error)
	Inventory(ctx context.Context) ([]InventoryEntry, error)
	ListDonations(ctx context.Context, donorID string) ([]DonationEvent, error)
}

// Tx is a unit of work. Callers must lock a request before a balance when
// they need both, so two transactions never wait on each other in a cycle.
type Tx interface {
	// LockBalance takes the exclusive lock on g's balance and returns the
	// units as seen under that lock.
	LockBalance(ctx context.Context, g BloodGroup) (int, error)
	// SetBalance requires a prior LockBalance on g in the same Tx.
	SetBalance(ctx context.Context, g BloodGroup, units int) error

	AppendDonation(ctx context.Context, ev DonationEvent) error

	// LockRequest returns ErrRequestNotFound for unknown ids.
	LockRequest(ctx context.Context, id string) (BloodRequest, error)
	// UpdateRequest requires a prior LockRequest on r.ID in the same Tx.
	UpdateRequest(ctx context.Context, r BloodRequest) error
}

// Directory resolves identities owned outside the engine.
type Directory interface {
	ResolveDonor(ctx context.Context, id string) (Donor, error)
	ResolveHospital(ctx context.Context, id string) (Hospital, error)
}

// EventSink receives envelopes after the mutation they describe has
// committed. Implementations must not block for long.
type EventSink interface {
	Emit(topic string, env Envelope)
}
