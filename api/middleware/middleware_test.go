package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edihub/edi-backend/api/responses"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
)

func okHandler(t *testing.T, seen *outgoing.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatalf("expected actor in context")
		}
		if seen != nil {
			*seen = actor
		}
		w.WriteHeader(http.StatusOK)
	})
}

func actorRequest(number, role string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/peek/aggregations", nil)
	if number != "" {
		req.Header.Set(HeaderActorNumber, number)
	}
	if role != "" {
		req.Header.Set(HeaderActorRole, role)
	}
	return req
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body responses.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestRequireActorInjectsActor(t *testing.T) {
	var seen outgoing.Actor
	handler := RequireActor(nil)(okHandler(t, &seen))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, actorRequest("  5790001330552 ", "EnergySupplier"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.Number != "5790001330552" || seen.Role != enums.ActorRoleEnergySupplier {
		t.Fatalf("unexpected actor %+v", seen)
	}
}

func TestRequireActorRejectsMissingOrMalformedHeaders(t *testing.T) {
	cases := map[string]*http.Request{
		"missing number": actorRequest("", "EnergySupplier"),
		"missing role":   actorRequest("5790001330552", ""),
		"unknown role":   actorRequest("5790001330552", "Baker"),
		"long number":    actorRequest("57900013305521234", "EnergySupplier"),
		"letters in gln": actorRequest("5790001330abc", "EnergySupplier"),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			handler := RequireActor(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeUnauthorized) {
				t.Fatalf("unexpected code %s", code)
			}
		})
	}
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestActorRateLimitBlocksPerActor(t *testing.T) {
	limiter := &fakeLimiter{}
	policy := RateLimitPolicy{Name: "peek", Limit: 2, Window: time.Minute}
	handler := RequireActor(nil)(ActorRateLimit(policy, limiter, nil)(okHandler(t, nil)))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, actorRequest("5790001330552", "EnergySupplier"))
		if i < 2 && rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if i == 2 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			if rec.Header().Get("Retry-After") != "60" {
				t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
			}
			if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected code %s", code)
			}
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, actorRequest("5790001330569", "EnergySupplier"))
	if rec.Code != http.StatusOK {
		t.Fatalf("other actor must have its own window, got %d", rec.Code)
	}
}

func TestActorRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	policy := RateLimitPolicy{Name: "peek", Limit: 1, Window: time.Minute}
	handler := RequireActor(nil)(ActorRateLimit(policy, limiter, nil)(okHandler(t, nil)))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, actorRequest("5790001330552", "EnergySupplier"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected store failure to fail open, got %d", rec.Code)
		}
	}
}

func TestActorRateLimitDisabledWithoutLimit(t *testing.T) {
	handler := ActorRateLimit(RateLimitPolicy{}, &fakeLimiter{err: errors.New("unused")}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, actorRequest("", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestRecovererReturnsInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestRequestIDEchoesOrGenerates(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "req-1" {
		t.Fatalf("expected echoed id, got %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected generated request id")
	}

	oversized := strings.Repeat("x", maxRequestIDLen+1)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, oversized)
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got == oversized || got == "" {
		t.Fatalf("expected oversized id to be replaced, got %q", got)
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Delete("/api/v1/messages/{messageId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("abc"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/messages/42", nil))

	out := buf.String()
	for _, want := range []string{
		`"route":"/api/v1/messages/{messageId}"`,
		`"status":418`,
		`"bytes":3`,
		`"path":"/api/v1/messages/42"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestRequireActorAcceptsEICNumbers(t *testing.T) {
	var seen outgoing.Actor
	handler := RequireActor(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, actorRequest("10X1001A1001A248", "SystemOperator"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.Number != "10X1001A1001A248" || seen.Role != enums.ActorRoleSystemOperator {
		t.Fatalf("unexpected actor %+v", seen)
	}
}
