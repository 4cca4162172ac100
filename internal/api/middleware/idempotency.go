package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"busticket/internal/auth"

	"github.com/redis/go-redis/v9"
)

const IdempotencyHeader = "Idempotency-Key"

const (
	inFlight    = "PROCESSING"
	inFlightTTL = 30 * time.Second
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Idempotency replays the first response for a repeated Idempotency-Key.
// Keys are scoped to the caller. A request arriving while the first one is
// still running gets 409. Server errors are not stored so the client can
// retry with the same key.
func Idempotency(redisClient *redis.Client, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, _ := auth.FromContext(r.Context())
			idemKey := fmt.Sprintf("idempotency:%s:%s", id.UserID, key)
			ctx := r.Context()

			val, err := redisClient.Get(ctx, idemKey).Result()
			switch {
			case err == nil:
				replay(w, val)
				return
			case !errors.Is(err, redis.Nil):
				log.Warn("idempotency lookup failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := redisClient.SetNX(ctx, idemKey, inFlight, inFlightTTL).Result()
			if err != nil || !acquired {
				conflict(w, "concurrent request with the same idempotency key")
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// the client may have gone away; the outcome still has to be kept
			storeCtx := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				redisClient.Del(storeCtx, idemKey)
				return
			}
			data, err := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				redisClient.Del(storeCtx, idemKey)
				return
			}
			if err := redisClient.Set(storeCtx, idemKey, data, ttl).Err(); err != nil {
				log.Warn("idempotency store failed", "key", key, "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, val string) {
	if val == inFlight {
		conflict(w, "request with this idempotency key is still in progress")
		return
	}
	var resp storedResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		conflict(w, "request already processed")
		return
	}
	w.Header().Set("X-Idempotency-Hit", "true")
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func conflict(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(map[string]string{"error": "conflict", "message": msg})
}

// recorder passes the response through and keeps a copy of it.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
