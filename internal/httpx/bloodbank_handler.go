package httpx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-bloodbank/internal/audit"
	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
	"github.com/ariefcatur/go-bloodbank/internal/redisx"
)

const headerIdempotencyKey = "Idempotency-Key"

type Idempotency interface {
	Begin(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, result string) error
	Abort(ctx context.Context, key string) error
}

type RequestCache interface {
	Get(ctx context.Context, id string) (bloodbank.BloodRequest, bool, error)
	Put(ctx context.Context, r bloodbank.BloodRequest) error
}

type AuditTrail interface {
	Trail(ctx context.Context, correlationID string) ([]audit.Record, error)
}

// BloodbankHandler exposes the engine over HTTP. Cache, idempotency and
// audit are optional; nil disables them.
type BloodbankHandler struct {
	Service      *bloodbank.Service
	Cache        RequestCache
	DonationIdem Idempotency
	RequestIdem  Idempotency
	Audit        AuditTrail
	Logger       *slog.Logger
	Timeout      time.Duration
}

type RecordDonationReq struct {
	DonorID  string `json:"donor_id"`
	Group    string `json:"blood_group"`
	Quantity *int   `json:"quantity"` // one unit when absent
}

type RecordDonationResp struct {
	Donation bloodbank.DonationEvent `json:"donation"`
	Balance  int                     `json:"balance"`
}

type SubmitRequestReq struct {
	HospitalID string `json:"hospital_id"`
	Group      string `json:"blood_group"`
	Quantity   int    `json:"quantity"`
}

type DecideReq struct {
	Outcome   string `json:"outcome"`
	DecidedBy string `json:"decided_by"`
}

type BalanceResp struct {
	Group bloodbank.BloodGroup `json:"blood_group"`
	Units int                  `json:"units"`
}

func (h *BloodbankHandler) Register(r chi.Router) {
	r.Post("/donations", h.recordDonation)
	r.Get("/donors/{id}/donations", h.donorHistory)
	r.Post("/requests", h.submitRequest)
	r.Get("/requests", h.listRequests)
	r.Get("/requests/{id}", h.getRequest)
	r.Post("/requests/{id}/decision", h.decideRequest)
	r.Get("/inventory", h.listInventory)
	r.Get("/inventory/{group}", h.getBalance)
	if h.Audit != nil {
		r.Get("/audit/{id}", h.auditTrail)
	}
}

func (h *BloodbankHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx := bloodbank.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, timeout)
}

func (h *BloodbankHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

func (h *BloodbankHandler) recordDonation(w http.ResponseWriter, r *http.Request) {
	var req RecordDonationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DonorID == "" {
		writeMsg(w, http.StatusBadRequest, "missing donor_id")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 {
		writeError(w, bloodbank.ErrInvalidQuantity)
		return
	}
	var g bloodbank.BloodGroup
	if req.Group != "" {
		var err error
		if g, err = bloodbank.ParseBloodGroup(req.Group); err != nil {
			writeError(w, err)
			return
		}
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	norm := RecordDonationReq{DonorID: req.DonorID, Group: string(g), Quantity: &quantity}
	h.idempotent(ctx, w, r, h.DonationIdem, norm, func() (int, any, error) {
		ev, balance, err := h.Service.RecordDonation(ctx, req.DonorID, g, quantity)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, RecordDonationResp{Donation: ev, Balance: balance}, nil
	})
}

func (h *BloodbankHandler) donorHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	hist, err := h.Service.DonorHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if hist == nil {
		hist = []bloodbank.DonationEvent{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *BloodbankHandler) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.HospitalID == "" {
		writeMsg(w, http.StatusBadRequest, "missing hospital_id")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, bloodbank.ErrInvalidQuantity)
		return
	}
	g, err := bloodbank.ParseBloodGroup(req.Group)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	norm := SubmitRequestReq{HospitalID: req.HospitalID, Group: string(g), Quantity: req.Quantity}
	h.idempotent(ctx, w, r, h.RequestIdem, norm, func() (int, any, error) {
		br, err := h.Service.SubmitRequest(ctx, req.HospitalID, g, req.Quantity)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, br, nil
	})
}

func (h *BloodbankHandler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bloodbank.RequestFilter{HospitalID: q.Get("hospital_id")}
	if s := q.Get("status"); s != "" {
		f.Status = bloodbank.Status(strings.ToLower(s))
		if !f.Status.Valid() {
			writeMsg(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	if v := q.Get("blood_group"); v != "" {
		// an unescaped '+' in a query string decodes to a space
		g, err := bloodbank.ParseBloodGroup(strings.ReplaceAll(v, " ", "+"))
		if err != nil {
			writeError(w, err)
			return
		}
		f.Group = g
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Service.ListRequests(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []bloodbank.BloodRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *BloodbankHandler) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	if h.Cache != nil {
		if br, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, br)
			return
		} else if err != nil {
			h.log().Warn("request cache get", "request_id", id, "error", err)
		}
	}

	br, err := h.Service.GetRequest(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cachePut(ctx, br)
	writeJSON(w, http.StatusOK, br)
}

func (h *BloodbankHandler) decideRequest(w http.ResponseWriter, r *http.Request) {
	var req DecideReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DecidedBy == "" {
		writeMsg(w, http.StatusBadRequest, "missing decided_by")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	outcome := bloodbank.Outcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	br, err := h.Service.DecideRequest(ctx, chi.URLParam(r, "id"), outcome, req.DecidedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cachePut(ctx, br)
	writeJSON(w, http.StatusOK, br)
}

func (h *BloodbankHandler) listInventory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	inv, err := h.Service.ListInventory(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *BloodbankHandler) getBalance(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "group"))
	if err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid blood group")
		return
	}
	g, err := bloodbank.ParseBloodGroup(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	units, err := h.Service.GetBalance(ctx, g)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResp{Group: g, Units: units})
}

func (h *BloodbankHandler) auditTrail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	recs, err := h.Audit.Trail(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.log().Error("audit trail", "error", err)
		writeMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *BloodbankHandler) cachePut(ctx context.Context, br bloodbank.BloodRequest) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Put(ctx, br); err != nil {
		h.log().Warn("request cache put", "request_id", br.ID, "error", err)
	}
}

// idempotentResult is what an Idempotency store keeps for a completed key.
type idempotentResult struct {
	Status      int             `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	Body        json.RawMessage `json:"body"`
}

// fingerprint hashes the normalised request so a reused key can be told
// apart from a retry of the same call.
func fingerprint(req any) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// idempotent runs create at most once per Idempotency-Key header. A repeat
// with a completed key replays the stored status and body; one racing an
// unfinished call gets 409, and one carrying a different request gets 422.
// Without the header, or when the store is unreachable, create just runs.
func (h *BloodbankHandler) idempotent(ctx context.Context, w http.ResponseWriter, r *http.Request, idem Idempotency, req any, create func() (int, any, error)) {
	key := r.Header.Get(headerIdempotencyKey)
	if idem == nil || key == "" {
		h.runCreate(w, create)
		return
	}

	fp := fingerprint(req)
	prev, err := idem.Begin(ctx, key)
	switch {
	case errors.Is(err, redisx.ErrInFlight):
		writeMsg(w, http.StatusConflict, "duplicate request in flight")
		return
	case err != nil:
		h.log().Warn("idempotency unavailable", "key", key, "error", err)
		h.runCreate(w, create)
		return
	case prev != "":
		h.replay(w, key, fp, prev)
		return
	}

	code, body, err := create()
	// the claim must be settled even if the request context is gone
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if aerr := idem.Abort(bg, key); aerr != nil {
			h.log().Warn("idempotency abort", "key", key, "error", aerr)
		}
		writeError(w, err)
		return
	}
	out, _ := json.Marshal(body)
	stored, _ := json.Marshal(idempotentResult{Status: code, Fingerprint: fp, Body: out})
	if cerr := idem.Complete(bg, key, string(stored)); cerr != nil {
		h.log().Warn("idempotency complete", "key", key, "error", cerr)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(out)
}

func (h *BloodbankHandler) replay(w http.ResponseWriter, key, fp, prev string) {
	var res idempotentResult
	if err := json.Unmarshal([]byte(prev), &res); err != nil || res.Status == 0 {
		h.log().Error("idempotency record unreadable", "key", key, "error", err)
		writeMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if res.Fingerprint != fp {
		writeMsg(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func (h *BloodbankHandler) runCreate(w http.ResponseWriter, create func() (int, any, error)) {
	code, body, err := create()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, body)
}
