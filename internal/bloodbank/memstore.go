package bloodbank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store. Each group and each request has its own
// mutex; a Tx holds the ones it locked until it ends. Writes are staged in
// the Tx and applied under mu at commit, so readers only ever see
// committed state.
type MemStore struct {
	mu        sync.RWMutex
	units     map[BloodGroup]int
	updated   map[BloodGroup]time.Time
	requests  map[string]BloodRequest
	order     []string // request ids in creation order
	donations []DonationEvent
	reqLocks  map[string]*sync.Mutex

	groupLocks map[BloodGroup]*sync.Mutex // fixed after construction
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	s := &MemStore{
		units:      make(map[BloodGroup]int, len(Groups)),
		updated:    make(map[BloodGroup]time.Time, len(Groups)),
		requests:   make(map[string]BloodRequest),
		reqLocks:   make(map[string]*sync.Mutex),
		groupLocks: make(map[BloodGroup]*sync.Mutex, len(Groups)),
	}
	for _, g := range Groups {
		s.units[g] = 0
		s.groupLocks[g] = &sync.Mutex{}
	}
	return s
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:        s,
		balances: make(map[BloodGroup]int),
		dirtyBal: make(map[BloodGroup]bool),
		requests: make(map[string]BloodRequest),
		dirtyReq: make(map[string]bool),
	}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemStore) CreateRequest(ctx context.Context, r BloodRequest) (BloodRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return BloodRequest{}, storageErr("create request", fmt.Errorf("duplicate id %s", r.ID))
	}
	s.requests[r.ID] = r
	s.order = append(s.order, r.ID)
	s.reqLocks[r.ID] = &sync.Mutex{}
	return r, nil
}

func (s *MemStore) GetRequest(ctx context.Context, id string) (BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return BloodRequest{}, ErrRequestNotFound
	}
	return r, nil
}

func (s *MemStore) ListRequests(ctx context.Context, f RequestFilter) ([]BloodRequest, error) {
	s.mu.RLock()
	out := make([]BloodRequest, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if r := s.requests[s.order[i]]; f.Match(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) Balance(ctx context.Context, g BloodGroup) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units[g], nil
}

func (s *MemStore) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InventoryEntry, 0, len(Groups))
	for _, g := range Groups {
		out = append(out, InventoryEntry{Group: g, Units: s.units[g], UpdatedAt: s.updated[g]})
	}
	return out, nil
}

func (s *MemStore) ListDonations(ctx context.Context, donorID string) ([]DonationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DonationEvent
	for i := len(s.donations) - 1; i >= 0; i-- {
		if s.donations[i].DonorID == donorID {
			out = append(out, s.donations[i])
		}
	}
	return out, nil
}

type memTx struct {
	s     *MemStore
	locks []*sync.Mutex

	balances  map[BloodGroup]int
	dirtyBal  map[BloodGroup]bool
	requests  map[string]BloodRequest
	dirtyReq  map[string]bool
	donations []DonationEvent
}

func (tx *memTx) LockBalance(ctx context.Context, g BloodGroup) (int, error) {
	if u, ok := tx.balances[g]; ok {
		return u, nil
	}
	m, ok := tx.s.groupLocks[g]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.Lock()
	tx.locks = append(tx.locks, m)

	tx.s.mu.RLock()
	u := tx.s.units[g]
	tx.s.mu.RUnlock()
	tx.balances[g] = u
	return u, nil
}

func (tx *memTx) SetBalance(ctx context.Context, g BloodGroup, units int) error {
	if _, ok := tx.balances[g]; !ok {
		return storageErr("set balance", fmt.Errorf("balance for %s not locked", g))
	}
	if units < 0 {
		return storageErr("set balance", fmt.Errorf("negative balance %d for %s", units, g))
	}
	tx.balances[g] = units
	tx.dirtyBal[g] = true
	return nil
}

func (tx *memTx) AppendDonation(ctx context.Context, ev DonationEvent) error {
	if ev.Quantity <= 0 {
		return storageErr("append donation", fmt.Errorf("non-positive quantity %d", ev.Quantity))
	}
	tx.donations = append(tx.donations, ev)
	return nil
}

func (tx *memTx) LockRequest(ctx context.Context, id string) (BloodRequest, error) {
	if r, ok := tx.requests[id]; ok {
		return r, nil
	}
	tx.s.mu.RLock()
	m, ok := tx.s.reqLocks[id]
	tx.s.mu.RUnlock()
	if !ok {
		return BloodRequest{}, ErrRequestNotFound
	}
	if err := ctx.Err(); err != nil {
		return BloodRequest{}, err
	}
	m.Lock()
	tx.locks = append(tx.locks, m)

	tx.s.mu.RLock()
	r := tx.s.requests[id]
	tx.s.mu.RUnlock()
	tx.requests[id] = r
	return r, nil
}

func (tx *memTx) UpdateRequest(ctx context.Context, r BloodRequest) error {
	if _, ok := tx.requests[r.ID]; !ok {
		return storageErr("update request", fmt.Errorf("request %s not locked", r.ID))
	}
	tx.requests[r.ID] = r
	tx.dirtyReq[r.ID] = true
	return nil
}

func (tx *memTx) commit() {
	now := time.Now().UTC()
	tx.s.mu.Lock()
	for g := range tx.dirtyBal {
		tx.s.units[g] = tx.balances[g]
		tx.s.updated[g] = now
	}
	for id := range tx.dirtyReq {
		tx.s.requests[id] = tx.requests[id]
	}
	tx.s.donations = append(tx.s.donations, tx.donations...)
	tx.s.mu.Unlock()
}

func (tx *memTx) release() {
	for i := len(tx.locks) - 1; i >= 0; i-- {
		tx.locks[i].Unlock()
	}
	tx.locks = nil
}

// MemDirectory is an in-process Directory.
type MemDirectory struct {
	mu        sync.RWMutex
	donors    map[string]Donor
	hospitals map[string]Hospital
}

var _ Directory = (*MemDirectory)(nil)

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		donors:    make(map[string]Donor),
		hospitals: make(map[string]Hospital),
	}
}

func (d *MemDirectory) AddDonor(donor Donor) {
	d.mu.Lock()
	d.donors[donor.ID] = donor
	d.mu.Unlock()
}

func (d *MemDirectory) AddHospital(h Hospital) {
	d.mu.Lock()
	d.hospitals[h.ID] = h
	d.mu.Unlock()
}

func (d *MemDirectory) ResolveDonor(ctx context.Context, id string) (Donor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	donor, ok := d.donors[id]
	if !ok {
		return Donor{}, fmt.Errorf("%w: %s", ErrUnknownDonor, id)
	}
	return donor, nil
}

func (d *MemDirectory) ResolveHospital(ctx context.Context, id string) (Hospital, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hospitals[id]
	if !ok {
		return Hospital{}, fmt.Errorf("%w: %s", ErrUnknownHospital, id)
	}
	return h, nil
}
