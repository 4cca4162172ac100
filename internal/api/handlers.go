package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"busticket/internal/auth"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/payment"
	"busticket/internal/domain/trip"
	"busticket/internal/usecase"

	"github.com/go-chi/chi/v5"
)

const (
	WebhookSecretHeader = "X-Webhook-Secret"
	webhookConsumer     = "payment-webhook"
)

type UseCases struct {
	StartCheckout       *usecase.StartCheckout
	GetBooking          *usecase.GetBooking
	GetWorkflow         *usecase.GetWorkflow
	InitiatePayment     *usecase.InitiatePayment
	HandlePaymentResult *usecase.HandlePaymentResult
	CancelBooking       *usecase.CancelBooking
	ListTickets         *usecase.ListTickets
	RenderTicket        *usecase.RenderTicket
	ScanTicket          *usecase.ScanTicket
	ScheduleTrip        *usecase.ScheduleTrip
	RemoveTrip          *usecase.RemoveTrip
	UpdateTripStatus    *usecase.UpdateTripStatus
	GetSeatMap          *usecase.GetSeatMap
}

func NewUseCases(d usecase.Deps) UseCases {
	return UseCases{
		StartCheckout:       usecase.NewStartCheckout(d),
		GetBooking:          usecase.NewGetBooking(d),
		GetWorkflow:         usecase.NewGetWorkflow(d),
		InitiatePayment:     usecase.NewInitiatePayment(d),
		HandlePaymentResult: usecase.NewHandlePaymentResult(d),
		CancelBooking:       usecase.NewCancelBooking(d),
		ListTickets:         usecase.NewListTickets(d),
		RenderTicket:        usecase.NewRenderTicket(d),
		ScanTicket:          usecase.NewScanTicket(d),
		ScheduleTrip:        usecase.NewScheduleTrip(d),
		RemoveTrip:          usecase.NewRemoveTrip(d),
		UpdateTripStatus:    usecase.NewUpdateTripStatus(d),
		GetSeatMap:          usecase.NewGetSeatMap(d),
	}
}

type Handlers struct {
	uc            UseCases
	webhookSecret string
	log           *slog.Logger
}

func NewHandlers(uc UseCases, webhookSecret string, log *slog.Logger) *Handlers {
	return &Handlers{uc: uc, webhookSecret: webhookSecret, log: log}
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("body", err.Error())
	}
	return nil
}

func (h *Handlers) GetSeatMap(w http.ResponseWriter, r *http.Request) {
	m, err := h.uc.GetSeatMap.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req usecase.CheckoutParams
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	b, err := h.uc.StartCheckout.Execute(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.uc.GetBooking.Execute(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := h.uc.GetWorkflow.Execute(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, workflow)
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	b, err := h.uc.InitiatePayment.Execute(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, h.log, err)
			return
		}
	}

	b, err := h.uc.CancelBooking.Execute(r.Context(), identity(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.uc.ListTickets.Execute(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handlers) TicketPDF(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var buf bytes.Buffer
	if err := h.uc.RenderTicket.Execute(r.Context(), identity(r), code, &buf); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+code+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type webhookRequest struct {
	EventID    string `json:"event_id"`
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	Succeeded  bool   `json:"succeeded"`
	Reason     string `json:"reason"`
	Amount     int64  `json:"amount"`
}

// PaymentWebhook accepts payment outcomes pushed by the gateway. Each
// delivery is recorded in the inbox so redeliveries are acknowledged without
// being applied twice.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(WebhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
		writeError(w, h.log, auth.ErrUnauthenticated)
		return
	}

	var req webhookRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.EventID == "" {
		writeError(w, h.log, errs.Validation("event_id", "required"))
		return
	}

	now := time.Now().UTC()
	eventType := event.TypePaymentFailed
	if req.Succeeded {
		eventType = event.TypePaymentSucceeded
	}
	b, err := h.uc.HandlePaymentResult.Execute(r.Context(), payment.Result{
		BookingID:  req.BookingID,
		PaymentRef: req.PaymentRef,
		Succeeded:  req.Succeeded,
		Reason:     req.Reason,
		Amount:     req.Amount,
		OccurredAt: now,
	}, &inbox.Event{
		Consumer:      webhookConsumer,
		EventID:       req.EventID,
		EventType:     eventType,
		CorrelationID: req.BookingID,
		ProcessedAt:   now,
	})
	// a late payment is settled by the refund and a decline by the
	// cancellation; the delivery itself succeeded
	if err != nil && !(b != nil && (errors.Is(err, errs.ErrLockExpired) || errors.Is(err, errs.ErrPaymentFailed))) {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"booking_id": b.ID,
		"phase":      string(b.Phase),
	})
}

func (h *Handlers) ScheduleTrip(w http.ResponseWriter, r *http.Request) {
	var req usecase.TripParams
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	t, err := h.uc.ScheduleTrip.Execute(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) RemoveTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.uc.RemoveTrip.Execute(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UpdateTripStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status trip.Status `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	t, err := h.uc.UpdateTripStatus.Execute(r.Context(), identity(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	t, err := h.uc.ScanTicket.Execute(r.Context(), identity(r), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
