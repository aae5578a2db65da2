package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		short   *bloodbank.InsufficientStockError
		decided *bloodbank.AlreadyDecidedError
	)
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       "insufficient stock",
			"blood_group": short.Group,
			"available":   short.Available,
			"requested":   short.Requested,
		})
	case errors.As(err, &decided):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "request already decided",
			"status": decided.Status,
		})
	case errors.Is(err, bloodbank.ErrRequestNotFound):
		writeMsg(w, http.StatusNotFound, "request not found")
	case errors.Is(err, bloodbank.ErrInvalidQuantity),
		errors.Is(err, bloodbank.ErrInvalidBloodGroup),
		errors.Is(err, bloodbank.ErrInvalidOutcome):
		writeMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bloodbank.ErrUnknownDonor),
		errors.Is(err, bloodbank.ErrUnknownHospital):
		writeMsg(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeMsg(w, http.StatusGatewayTimeout, "timeout")
	default:
		writeMsg(w, http.StatusInternalServerError, "internal error")
	}
}
