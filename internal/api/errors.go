package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"busticket/internal/auth"
	"busticket/internal/domain/errs"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	TripID    string `json:"trip_id,omitempty"`
	Seats     []int  `json:"seats,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// errorStatus is checked in order; the first match wins.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{errs.ErrSeatUnavailable, http.StatusConflict, "seat_unavailable"},
	{errs.ErrLockExpired, http.StatusGone, "lock_expired"},
	{errs.ErrNotHolder, http.StatusForbidden, "not_holder"},
	{errs.ErrForbidden, http.StatusForbidden, "forbidden"},
	{errs.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed"},
	{errs.ErrCapacityExceeded, http.StatusUnprocessableEntity, "capacity_exceeded"},
	{errs.ErrCancellationWindowClosed, http.StatusUnprocessableEntity, "cancellation_window_closed"},
	{errs.ErrNotValidForTrip, http.StatusUnprocessableEntity, "not_valid_for_trip"},
	{errs.ErrAlreadyUsed, http.StatusConflict, "already_used"},
	{errs.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{errs.ErrConflict, http.StatusConflict, "conflict"},
	{errs.ErrNotFound, http.StatusNotFound, "not_found"},
	{errs.ErrValidation, http.StatusBadRequest, "validation"},
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	body := errorBody{Error: "internal", Message: "internal error"}
	status := http.StatusInternalServerError
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			status, body.Error, body.Message = m.status, m.code, err.Error()
			break
		}
	}
	var se *errs.SeatError
	if errors.As(err, &se) {
		body.TripID, body.Seats, body.Retryable = se.TripID, se.Seats, se.Retryable
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
