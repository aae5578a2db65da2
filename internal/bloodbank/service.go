package bloodbank

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

type Options struct {
	Events   EventSink // nil disables event emission
	Logger   *slog.Logger
	Producer string // envelope producer name
}

// Service is the surface the transports call. Every mutating call returns
// the updated entity so callers never need to re-read for consistency.
type Service struct {
	Ledger    *Ledger
	Donations *Recorder
	Requests  *Requests

	events   EventSink
	logger   *slog.Logger
	producer string
}

func NewService(store Store, dir Directory, opts Options) *Service {
	ledger := NewLedger(store)
	coord := NewCoordinator(store, ledger)
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	producer := opts.Producer
	if producer == "" {
		producer = "bloodbank"
	}
	return &Service{
		Ledger:    ledger,
		Donations: NewRecorder(store, dir, ledger),
		Requests:  NewRequests(store, dir, coord),
		events:    opts.Events,
		logger:    logger,
		producer:  producer,
	}
}

func (s *Service) RecordDonation(ctx context.Context, donorID string, g BloodGroup, quantity int) (DonationEvent, int, error) {
	ev, balance, err := s.Donations.Record(ctx, donorID, g, quantity)
	if err != nil {
		s.logFailure(ctx, "record donation", err, "donor_id", donorID, "blood_group", g)
		return DonationEvent{}, 0, err
	}
	s.logger.InfoContext(ctx, "donation recorded",
		"donation_id", ev.ID, "donor_id", ev.DonorID, "blood_group", ev.Group,
		"quantity", ev.Quantity, "balance", balance)
	s.emit(ctx, TopicDonationRecorded, EventDonationRecorded, ev.ID,
		DonationRecordedPayload{Donation: ev, Balance: balance})
	return ev, balance, nil
}

func (s *Service) SubmitRequest(ctx context.Context, hospitalID string, g BloodGroup, quantity int) (BloodRequest, error) {
	r, err := s.Requests.Submit(ctx, hospitalID, g, quantity)
	if err != nil {
		s.logFailure(ctx, "submit request", err, "hospital_id", hospitalID, "blood_group", g)
		return BloodRequest{}, err
	}
	s.logger.InfoContext(ctx, "request submitted",
		"request_id", r.ID, "hospital_id", r.HospitalID, "blood_group", r.Group, "quantity", r.Quantity)
	s.emit(ctx, TopicRequestSubmitted, EventRequestSubmitted, r.ID, RequestSubmittedPayload{Request: r})
	return r, nil
}

// DecideRequest approves or rejects a pending request on behalf of actor.
func (s *Service) DecideRequest(ctx context.Context, id string, outcome Outcome, actor string) (BloodRequest, error) {
	r, balance, err := s.Requests.Decide(ctx, id, outcome, actor)
	if err != nil {
		var short *InsufficientStockError
		if errors.As(err, &short) {
			s.emit(ctx, TopicApprovalShortfall, EventApprovalShortfall, id, ApprovalShortfallPayload{
				RequestID: id, Group: short.Group,
				Available: short.Available, Requested: short.Requested, Actor: actor,
			})
		}
		s.logFailure(ctx, "decide request", err, "request_id", id, "outcome", outcome)
		return BloodRequest{}, err
	}
	s.logger.InfoContext(ctx, "request decided",
		"request_id", r.ID, "status", r.Status, "decided_by", r.DecidedBy)
	switch r.Status {
	case StatusApproved:
		s.emit(ctx, TopicRequestApproved, EventRequestApproved, r.ID,
			RequestDecidedPayload{Request: r, Balance: &balance})
	case StatusRejected:
		s.emit(ctx, TopicRequestRejected, EventRequestRejected, r.ID, RequestDecidedPayload{Request: r})
	}
	return r, nil
}

func (s *Service) GetBalance(ctx context.Context, g BloodGroup) (int, error) {
	return s.Ledger.Balance(ctx, g)
}

func (s *Service) ListInventory(ctx context.Context) ([]InventoryEntry, error) {
	return s.Ledger.Inventory(ctx)
}

func (s *Service) GetRequest(ctx context.Context, id string) (BloodRequest, error) {
	return s.Requests.Get(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, f RequestFilter) ([]BloodRequest, error) {
	return s.Requests.List(ctx, f)
}

func (s *Service) DonorHistory(ctx context.Context, donorID string) ([]DonationEvent, error) {
	return s.Donations.History(ctx, donorID)
}

func (s *Service) emit(ctx context.Context, topic, eventType, correlationID string, payload any) {
	if s.events == nil {
		return
	}
	env, err := NewEnvelope(eventType, s.producer, correlationID, TraceID(ctx), payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "build event", "event_type", eventType, "error", err)
		return
	}
	s.events.Emit(topic, env)
}

func (s *Service) logFailure(ctx context.Context, op string, err error, attrs ...any) {
	attrs = append(attrs, "error", err)
	if IsDomainError(err) {
		s.logger.InfoContext(ctx, op+" refused", attrs...)
		return
	}
	s.logger.ErrorContext(ctx, op+" failed", attrs...)
}

type traceKey struct{}

// WithTraceID tags ctx so emitted envelopes carry the caller's request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
