package bloodbank

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestDirectory() *MemDirectory {
	dir := NewMemDirectory()
	dir.AddDonor(Donor{ID: "donor-1", Name: "Asha", Group: GroupOPos})
	dir.AddDonor(Donor{ID: "donor-2", Name: "Ravi"})
	dir.AddHospital(Hospital{ID: "hosp-1", Name: "City General"})
	dir.AddHospital(Hospital{ID: "hosp-2", Name: "North Clinic"})
	return dir
}

func newTestService(store Store, sink EventSink) *Service {
	svc := NewService(store, newTestDirectory(), Options{Events: sink})
	clock := newStepClock()
	svc.Requests.now = clock.Now
	svc.Donations.now = clock.Now
	return svc
}

// stepClock advances one second per call so ordering by time is deterministic.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type sentEvent struct {
	topic string
	env   Envelope
}

type recordingSink struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *recordingSink) Emit(topic string, env Envelope) {
	s.mu.Lock()
	s.events = append(s.events, sentEvent{topic: topic, env: env})
	s.mu.Unlock()
}

func (s *recordingSink) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.topic)
	}
	return out
}

// faultyStore fails selected Tx writes with a storage error.
type faultyStore struct {
	*MemStore
	appendErr error
	updateErr error
}

func (s *faultyStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.MemStore.InTx(ctx, func(tx Tx) error {
		return fn(&faultyTx{Tx: tx, s: s})
	})
}

type faultyTx struct {
	Tx
	s *faultyStore
}

func (t *faultyTx) AppendDonation(ctx context.Context, ev DonationEvent) error {
	if t.s.appendErr != nil {
		return storageErr("append donation", t.s.appendErr)
	}
	return t.Tx.AppendDonation(ctx, ev)
}

func (t *faultyTx) UpdateRequest(ctx context.Context, r BloodRequest) error {
	if t.s.updateErr != nil {
		return storageErr("update request", t.s.updateErr)
	}
	return t.Tx.UpdateRequest(ctx, r)
}

func mustBalance(t testing.TB, l *Ledger, g BloodGroup) int {
	t.Helper()
	u, err := l.Balance(context.Background(), g)
	if err != nil {
		t.Fatalf("balance %s: %v", g, err)
	}
	return u
}
