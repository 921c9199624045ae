package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*IdempotentResponse
	failGet bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{entries: make(map[string]*IdempotentResponse)}
}

func (m *memoryIdempotencyStore) LookupResponse(_ context.Context, key string) (*IdempotentResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("store offline")
	}
	resp, ok := m.entries[key]
	return resp, ok, nil
}

func (m *memoryIdempotencyStore) SaveResponse(_ context.Context, key string, resp *IdempotentResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = resp
	return nil
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/games", nil)
		req.Header.Set("Idempotency-Key", "open-1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, res.Code)
		}
		if res.Body.String() != `{"ok":true}` {
			t.Fatalf("attempt %d: unexpected body %q", i, res.Body.String())
		}
		if i == 1 && res.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected replay header on second attempt")
		}
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestIdempotencyRejectsKeyReuseOnOtherPath(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/v1/games/1/join", nil)
	req.Header.Set("Idempotency-Key", "k")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	other := httptest.NewRequest(http.MethodPost, "/v1/games/1/refund", nil)
	other.Header.Set("Idempotency-Key", "k")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusInternalServerError))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/games/1/release", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected server errors to be retried, handler ran %d times", calls)
	}
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/games", nil))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to run, got %d", calls)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected nothing stored without a key")
	}
}

func TestIdempotencyStoreFailure(t *testing.T) {
	store := newMemoryIdempotencyStore()
	store.failGet = true
	calls := 0
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusOK))
	req := httptest.NewRequest(http.MethodPost, "/v1/games", nil)
	req.Header.Set("Idempotency-Key", "k")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusInternalServerError || calls != 0 {
		t.Fatalf("expected 500 without running handler, got %d (calls=%d)", res.Code, calls)
	}
}
