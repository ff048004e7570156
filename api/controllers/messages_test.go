package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edihub/edi-backend/api/middleware"
	"github.com/edihub/edi-backend/api/responses"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
)

var testActor = outgoing.Actor{Number: "5790001330552", Role: enums.ActorRoleEnergySupplier}

type stubPeeker struct {
	got    outgoing.PeekRequest
	result *outgoing.PeekResult
	err    error
}

func (s *stubPeeker) Peek(_ context.Context, req outgoing.PeekRequest) (*outgoing.PeekResult, error) {
	s.got = req
	return s.result, s.err
}

func (s *stubPeeker) ContentType() string { return "application/json" }

type stubDequeuer struct {
	got    outgoing.DequeueRequest
	result outgoing.DequeueResult
	err    error
}

func (s *stubDequeuer) Dequeue(_ context.Context, req outgoing.DequeueRequest) (outgoing.DequeueResult, error) {
	s.got = req
	return s.result, s.err
}

func withRoute(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func withActor(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), testActor))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body responses.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestPeekMessagesWritesDocument(t *testing.T) {
	messageID := uuid.New()
	svc := &stubPeeker{result: &outgoing.PeekResult{
		Found:        true,
		MessageID:    messageID,
		DocumentType: enums.DocumentNotifyAggregatedMeasureData,
		MessageCount: 2,
		Document:     []byte(`{"doc":true}`),
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/peek/Aggregations", nil)
	req = withActor(withRoute(req, map[string]string{"category": "Aggregations"}))
	rec := httptest.NewRecorder()

	PeekMessages(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.got.Category != enums.MessageCategoryAggregations || svc.got.Receiver != testActor {
		t.Fatalf("unexpected peek request %+v", svc.got)
	}
	if rec.Header().Get(HeaderMessageID) != messageID.String() {
		t.Fatalf("unexpected message id header %q", rec.Header().Get(HeaderMessageID))
	}
	if rec.Header().Get(HeaderMessageCount) != "2" {
		t.Fatalf("unexpected message count header %q", rec.Header().Get(HeaderMessageCount))
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != `{"doc":true}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPeekMessagesEmptyQueueReturnsNoContent(t *testing.T) {
	svc := &stubPeeker{result: &outgoing.PeekResult{Found: false}}
	req := withActor(withRoute(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"category": "measure_data"}))
	rec := httptest.NewRecorder()

	PeekMessages(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
}

func TestPeekMessagesRejectsUnknownCategory(t *testing.T) {
	svc := &stubPeeker{}
	req := withActor(withRoute(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"category": "invoices"}))
	rec := httptest.NewRecorder()

	PeekMessages(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestPeekMessagesRequiresActor(t *testing.T) {
	req := withRoute(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"category": "aggregations"})
	rec := httptest.NewRecorder()

	PeekMessages(&stubPeeker{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPeekMessagesInvariantErrorIsInternal(t *testing.T) {
	svc := &stubPeeker{err: pkgerrors.New(pkgerrors.CodeInvariant, "bundle count mismatch")}
	req := withActor(withRoute(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"category": "aggregations"}))
	rec := httptest.NewRecorder()

	PeekMessages(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "mismatch") {
		t.Fatalf("invariant detail leaked: %s", rec.Body.String())
	}
}

func TestDequeueMessageStatuses(t *testing.T) {
	bundleID := uuid.New()
	cases := []struct {
		name   string
		result outgoing.DequeueResult
		status int
	}{
		{name: "dequeued", result: outgoing.DequeueResult{Status: outgoing.DequeueStatusDequeued, BundleID: bundleID}, status: http.StatusOK},
		{name: "repeat", result: outgoing.DequeueResult{Status: outgoing.DequeueStatusAlreadyDequeued, BundleID: bundleID}, status: http.StatusOK},
		{name: "unknown", result: outgoing.DequeueResult{Status: outgoing.DequeueStatusNotFound}, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubDequeuer{result: tc.result}
			messageID := uuid.NewString()
			req := withActor(withRoute(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"messageId": messageID}))
			rec := httptest.NewRecorder()

			DequeueMessage(svc, nil).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if svc.got.MessageID != messageID || svc.got.Receiver != testActor {
				t.Fatalf("unexpected dequeue request %+v", svc.got)
			}
			if tc.status != http.StatusOK {
				return
			}
			var body struct {
				Data dequeueResponse `json:"data"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Data.Status != string(tc.result.Status) || body.Data.BundleID != bundleID.String() {
				t.Fatalf("unexpected response %+v", body.Data)
			}
		})
	}
}

func TestDequeueMessageSurfacesServiceErrors(t *testing.T) {
	svc := &stubDequeuer{err: errors.New("db down")}
	req := withActor(withRoute(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"messageId": uuid.NewString()}))
	rec := httptest.NewRecorder()

	DequeueMessage(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReadyReportsFailingDependencies(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	handler := HealthReady(cfg, nil,
		ReadinessCheck{Name: "db", Pinger: stubPinger{}},
		ReadinessCheck{Name: "redis", Pinger: stubPinger{err: errors.New("refused")}},
	)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body responses.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	details, ok := body.Error.Details.(map[string]any)
	if !ok || details["redis"] != "refused" || details["db"] != nil {
		t.Fatalf("unexpected details %v", body.Error.Details)
	}
}

func TestHealthReadyAllHealthy(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, ReadinessCheck{Name: "db", Pinger: stubPinger{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-EDI-Env") != "test" {
		t.Fatalf("missing env header")
	}
}
