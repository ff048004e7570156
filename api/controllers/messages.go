package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edihub/edi-backend/api/middleware"
	"github.com/edihub/edi-backend/api/responses"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
)

const (
	HeaderMessageID    = "X-Message-Id"
	HeaderMessageCount = "X-Message-Count"
	HeaderDocumentType = "X-Document-Type"
)

type peeker interface {
	Peek(ctx context.Context, req outgoing.PeekRequest) (*outgoing.PeekResult, error)
	ContentType() string
}

type dequeuer interface {
	Dequeue(ctx context.Context, req outgoing.DequeueRequest) (outgoing.DequeueResult, error)
}

type dequeueResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	BundleID  string `json:"bundleId"`
}

// PeekMessages returns the oldest ready bundle document of a category, or
// 204 when the receiver has nothing to fetch.
func PeekMessages(svc peeker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity required"))
			return
		}

		raw := chi.URLParam(r, "category")
		category, err := enums.ParseMessageCategory(raw)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid message category").
				WithDetails(map[string]string{"category": strings.TrimSpace(raw)}))
			return
		}

		result, err := svc.Peek(ctx, outgoing.PeekRequest{Receiver: actor, Category: category})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result == nil || !result.Found {
			responses.WriteNoContent(w)
			return
		}

		w.Header().Set(HeaderMessageID, result.MessageID.String())
		w.Header().Set(HeaderMessageCount, strconv.Itoa(result.MessageCount))
		w.Header().Set(HeaderDocumentType, string(result.DocumentType))
		responses.WriteDocument(w, svc.ContentType(), result.Document)
	}
}

// DequeueMessage acknowledges a peeked bundle by its message id. Repeating
// the call reports already_dequeued with 200.
func DequeueMessage(svc dequeuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity required"))
			return
		}

		messageID := strings.TrimSpace(chi.URLParam(r, "messageId"))
		result, err := svc.Dequeue(ctx, outgoing.DequeueRequest{Receiver: actor, MessageID: messageID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !result.Succeeded() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "message not found"))
			return
		}

		responses.WriteSuccess(w, dequeueResponse{
			MessageID: messageID,
			Status:    string(result.Status),
			BundleID:  result.BundleID.String(),
		})
	}
}
