package api

import (
	"log/slog"
	"net/http"
	"time"

	"busticket/internal/api/middleware"
	"busticket/internal/auth"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

// NewRouter wires the HTTP API. Without a Redis client checkout runs without
// Idempotency-Key replay.
func NewRouter(h *Handlers, tokens *auth.Tokens, redisClient *redis.Client, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// the gateway authenticates with the shared secret, not a user token
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))

		r.Get("/trips/{id}/seats", h.GetSeatMap)

		checkout := r.With()
		if redisClient != nil {
			checkout = r.With(middleware.Idempotency(redisClient, idempotencyTTL, log))
		}
		checkout.Post("/bookings", h.CreateBooking)

		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Get("/workflow", h.GetWorkflow)
			r.Get("/tickets", h.ListTickets)
			r.Post("/payment", h.InitiatePayment)
			r.Post("/cancel", h.CancelBooking)
		})
		r.Get("/tickets/{code}/pdf", h.TicketPDF)

		// operator
		r.Post("/trips", h.ScheduleTrip)
		r.Delete("/trips/{id}", h.RemoveTrip)
		r.Put("/trips/{id}/status", h.UpdateTripStatus)
		r.Post("/trips/{id}/boarding", h.ScanTicket)
	})

	log.Info("routes registered", "idempotency", redisClient != nil)
	return r
}
