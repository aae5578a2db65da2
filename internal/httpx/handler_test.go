package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-bloodbank/internal/audit"
	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
	"github.com/ariefcatur/go-bloodbank/internal/redisx"
)

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func newFakeIdem() *fakeIdem { return &fakeIdem{keys: map[string]string{}} }

func (f *fakeIdem) Begin(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.keys[key]
	switch {
	case !ok:
		f.keys[key] = "pending"
		return "", nil
	case v == "pending":
		return "", redisx.ErrInFlight
	}
	return v, nil
}

func (f *fakeIdem) Complete(ctx context.Context, key, result string) error {
	f.mu.Lock()
	f.keys[key] = result
	f.mu.Unlock()
	return nil
}

func (f *fakeIdem) Abort(ctx context.Context, key string) error {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	reqs map[string]bloodbank.BloodRequest
	hits int
}

func (c *fakeCache) Get(ctx context.Context, id string) (bloodbank.BloodRequest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reqs[id]
	if ok {
		c.hits++
	}
	return r, ok, nil
}

func (c *fakeCache) Put(ctx context.Context, r bloodbank.BloodRequest) error {
	if !r.Status.Terminal() {
		return nil
	}
	c.mu.Lock()
	c.reqs[r.ID] = r
	c.mu.Unlock()
	return nil
}

type fakeTrail map[string][]audit.Record

func (f fakeTrail) Trail(ctx context.Context, id string) ([]audit.Record, error) {
	return f[id], nil
}

type testEnv struct {
	router  chi.Router
	svc     *bloodbank.Service
	cache   *fakeCache
	donIdem *fakeIdem
	reqIdem *fakeIdem
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := bloodbank.NewMemDirectory()
	dir.AddDonor(bloodbank.Donor{ID: "donor-1", Name: "Asha", Group: bloodbank.GroupOPos})
	dir.AddHospital(bloodbank.Hospital{ID: "hosp-1", Name: "City General"})

	env := &testEnv{
		svc:     bloodbank.NewService(bloodbank.NewMemStore(), dir, bloodbank.Options{}),
		cache:   &fakeCache{reqs: map[string]bloodbank.BloodRequest{}},
		donIdem: newFakeIdem(),
		reqIdem: newFakeIdem(),
	}
	h := &BloodbankHandler{
		Service:      env.svc,
		Cache:        env.cache,
		DonationIdem: env.donIdem,
		RequestIdem:  env.reqIdem,
		Audit: fakeTrail{"req-1": {
			{EventID: "e1", EventType: bloodbank.EventRequestSubmitted, CorrelationID: "req-1"},
		}},
	}
	r := chi.NewRouter()
	h.Register(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandler_DonateRequestApprove(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/donations", `{"donor_id":"donor-1","quantity":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("donate: %d %s", rec.Code, rec.Body)
	}
	don := decode[RecordDonationResp](t, rec)
	if don.Balance != 3 || don.Donation.Group != bloodbank.GroupOPos {
		t.Errorf("unexpected donation response %+v", don)
	}

	rec = env.do(t, http.MethodPost, "/requests", `{"hospital_id":"hosp-1","blood_group":"o+","quantity":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body)
	}
	br := decode[bloodbank.BloodRequest](t, rec)
	if br.Status != bloodbank.StatusPending || br.Group != bloodbank.GroupOPos {
		t.Errorf("unexpected request %+v", br)
	}

	rec = env.do(t, http.MethodPost, "/requests/"+br.ID+"/decision", `{"outcome":"Approve","decided_by":"admin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body)
	}
	if got := decode[bloodbank.BloodRequest](t, rec); got.Status != bloodbank.StatusApproved {
		t.Errorf("expected approved, got %s", got.Status)
	}

	rec = env.do(t, http.MethodGet, "/inventory/O%2B", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body)
	}
	if bal := decode[BalanceResp](t, rec); bal.Units != 1 || bal.Group != bloodbank.GroupOPos {
		t.Errorf("unexpected balance %+v", bal)
	}

	rec = env.do(t, http.MethodGet, "/inventory", "")
	inv := decode[[]bloodbank.InventoryEntry](t, rec)
	if len(inv) != len(bloodbank.Groups) {
		t.Errorf("expected %d inventory entries, got %d", len(bloodbank.Groups), len(inv))
	}

	// decided requests are served from the cache afterwards
	rec = env.do(t, http.MethodGet, "/requests/"+br.ID, "")
	if rec.Code != http.StatusOK || env.cache.hits != 1 {
		t.Errorf("expected cached read, got %d with %d hits", rec.Code, env.cache.hits)
	}

	rec = env.do(t, http.MethodGet, "/donors/donor-1/donations", "")
	if hist := decode[[]bloodbank.DonationEvent](t, rec); len(hist) != 1 {
		t.Errorf("expected 1 donation in history, got %d", len(hist))
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, _, err := env.svc.RecordDonation(ctx, "donor-1", bloodbank.GroupAPos, 1); err != nil {
		t.Fatalf("donate: %v", err)
	}
	big, err := env.svc.SubmitRequest(ctx, "hosp-1", bloodbank.GroupAPos, 5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := env.svc.SubmitRequest(ctx, "hosp-1", bloodbank.GroupAPos, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.svc.DecideRequest(ctx, done.ID, bloodbank.OutcomeReject, "admin"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/requests", `{`, http.StatusBadRequest},
		{"zero quantity", http.MethodPost, "/requests", `{"hospital_id":"hosp-1","blood_group":"A+","quantity":0}`, http.StatusBadRequest},
		{"bad group", http.MethodPost, "/requests", `{"hospital_id":"hosp-1","blood_group":"Q+","quantity":1}`, http.StatusBadRequest},
		{"unknown hospital", http.MethodPost, "/requests", `{"hospital_id":"hosp-9","blood_group":"A+","quantity":1}`, http.StatusUnprocessableEntity},
		{"unknown donor", http.MethodPost, "/donations", `{"donor_id":"nobody","quantity":1}`, http.StatusUnprocessableEntity},
		{"zero donation", http.MethodPost, "/donations", `{"donor_id":"donor-1","quantity":0}`, http.StatusBadRequest},
		{"negative donation", http.MethodPost, "/donations", `{"donor_id":"donor-1","quantity":-1}`, http.StatusBadRequest},
		{"missing request", http.MethodGet, "/requests/nope", "", http.StatusNotFound},
		{"decide missing", http.MethodPost, "/requests/nope/decision", `{"outcome":"approve","decided_by":"admin"}`, http.StatusNotFound},
		{"missing actor", http.MethodPost, "/requests/" + big.ID + "/decision", `{"outcome":"approve"}`, http.StatusBadRequest},
		{"bad outcome", http.MethodPost, "/requests/" + big.ID + "/decision", `{"outcome":"hold","decided_by":"admin"}`, http.StatusBadRequest},
		{"shortfall", http.MethodPost, "/requests/" + big.ID + "/decision", `{"outcome":"approve","decided_by":"admin"}`, http.StatusConflict},
		{"already decided", http.MethodPost, "/requests/" + done.ID + "/decision", `{"outcome":"approve","decided_by":"admin"}`, http.StatusConflict},
		{"bad status filter", http.MethodGet, "/requests?status=lost", "", http.StatusBadRequest},
		{"bad balance group", http.MethodGet, "/inventory/XY", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/requests/"+big.ID+"/decision", `{"outcome":"approve","decided_by":"admin"}`)
	body := decode[map[string]any](t, rec)
	if body["available"] != float64(1) || body["requested"] != float64(5) {
		t.Errorf("shortfall body missing figures: %v", body)
	}
}

func TestHandler_IdempotentSubmit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"hospital_id":"hosp-1","blood_group":"B-","quantity":1}`

	first := env.do(t, http.MethodPost, "/requests", body, headerIdempotencyKey, "k-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body)
	}
	second := env.do(t, http.MethodPost, "/requests", body, headerIdempotencyKey, "k-1")
	if second.Code != http.StatusCreated || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay: %d %v", second.Code, second.Header())
	}
	a := decode[bloodbank.BloodRequest](t, first)
	b := decode[bloodbank.BloodRequest](t, second)
	if a.ID != b.ID {
		t.Errorf("replay returned a different request: %s vs %s", a.ID, b.ID)
	}
	list, _ := env.svc.ListRequests(context.Background(), bloodbank.RequestFilter{})
	if len(list) != 1 {
		t.Errorf("expected one stored request, got %d", len(list))
	}

	other := `{"hospital_id":"hosp-1","blood_group":"B-","quantity":4}`
	if rec := env.do(t, http.MethodPost, "/requests", other, headerIdempotencyKey, "k-1"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("reused key with another body: expected 422, got %d", rec.Code)
	}
	// same request, different spelling of the group
	again := `{"hospital_id":"hosp-1","blood_group":" b- ","quantity":1}`
	if rec := env.do(t, http.MethodPost, "/requests", again, headerIdempotencyKey, "k-1"); rec.Code != http.StatusCreated {
		t.Errorf("normalised retry: expected 201 replay, got %d", rec.Code)
	}

	env.reqIdem.keys["k-2"] = "pending"
	if rec := env.do(t, http.MethodPost, "/requests", body, headerIdempotencyKey, "k-2"); rec.Code != http.StatusConflict {
		t.Errorf("in flight: expected 409, got %d", rec.Code)
	}
}

func TestHandler_IdempotencyReleasedOnFailure(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/donations", `{"donor_id":"nobody"}`, headerIdempotencyKey, "d-1")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if _, held := env.donIdem.keys["d-1"]; held {
		t.Error("failed call kept its idempotency claim")
	}

	env.donIdem.err = errors.New("redis down")
	rec = env.do(t, http.MethodPost, "/donations", `{"donor_id":"donor-1"}`, headerIdempotencyKey, "d-2")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected donation to proceed without idempotency, got %d", rec.Code)
	}
}

func TestHandler_ListRequestFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, g := range []bloodbank.BloodGroup{bloodbank.GroupOPos, bloodbank.GroupONeg, bloodbank.GroupOPos} {
		if _, err := env.svc.SubmitRequest(ctx, "hosp-1", g, i+1); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/requests?blood_group=O+&status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if got := decode[[]bloodbank.BloodRequest](t, rec); len(got) != 2 {
		t.Errorf("expected 2 O+ requests, got %d", len(got))
	}

	rec = env.do(t, http.MethodGet, "/requests?hospital_id=hosp-2", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body)
	}
}

func TestHandler_AuditTrail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/audit/req-1", "")
	recs := decode[[]audit.Record](t, rec)
	if len(recs) != 1 || recs[0].EventID != "e1" {
		t.Errorf("unexpected trail %+v", recs)
	}
	rec = env.do(t, http.MethodGet, "/audit/unknown", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty trail, got %s", rec.Body)
	}
}

func TestRouter_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestWriteError_Storage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: commit: conn closed", bloodbank.ErrStorage))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "conn closed") {
		t.Errorf("storage detail leaked: %s", rec.Body)
	}
}

func TestHandler_DonationQuantityDefaultsWhenOmitted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/donations", `{"donor_id":"donor-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("donate: %d %s", rec.Code, rec.Body)
	}
	if resp := decode[RecordDonationResp](t, rec); resp.Donation.Quantity != 1 || resp.Balance != 1 {
		t.Errorf("expected one unit, got %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/donations", `{"donor_id":"donor-1","quantity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: expected 400, got %d", rec.Code)
	}
	if b, _ := env.svc.GetBalance(context.Background(), bloodbank.GroupOPos); b != 1 {
		t.Errorf("zero quantity changed the balance to %d", b)
	}
}

func TestHandler_DonationReplayKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	body := `{"donor_id":"donor-1","quantity":2}`

	first := env.do(t, http.MethodPost, "/donations", body, headerIdempotencyKey, "d-9")
	second := env.do(t, http.MethodPost, "/donations", body, headerIdempotencyKey, "d-9")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body, second.Body)
	}
	if b, _ := env.svc.GetBalance(context.Background(), bloodbank.GroupOPos); b != 2 {
		t.Errorf("replay credited again: balance %d", b)
	}
}
