package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// IdempotentResponse is a stored reply for a previously executed request.
type IdempotentResponse struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

// IdempotencyStore persists responses keyed by the Idempotency-Key header.
type IdempotencyStore interface {
	LookupResponse(ctx context.Context, key string) (*IdempotentResponse, bool, error)
	SaveResponse(ctx context.Context, key string, resp *IdempotentResponse) error
}

const maxIdempotencyKeyLength = 128

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. Requests without the header pass straight through.
// Server errors are not stored so they can be retried.
func Idempotency(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			stored, found, err := store.LookupResponse(r.Context(), key)
			if err != nil {
				logger.Error("idempotency lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}
			if found {
				if stored.Method != r.Method || stored.Path != r.URL.Path {
					writeError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			recorder := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if recorder.status >= http.StatusInternalServerError {
				return
			}
			resp := &IdempotentResponse{
				Method: r.Method,
				Path:   r.URL.Path,
				Status: recorder.status,
				Body:   recorder.buf.Bytes(),
			}
			if err := store.SaveResponse(context.WithoutCancel(r.Context()), key, resp); err != nil {
				logger.Warn("idempotency save failed", "error", err)
			}
		})
	}
}

type bodyRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (b *bodyRecorder) WriteHeader(status int) {
	b.status = status
	b.ResponseWriter.WriteHeader(status)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}
