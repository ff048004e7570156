package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/api/responses"
	"github.com/edihub/edi-backend/api/validators"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
)

type enqueuer interface {
	Enqueue(ctx context.Context, req outgoing.EnqueueRequest) (uuid.UUID, error)
}

type actorPayload struct {
	Number string `json:"actorNumber" validate:"required,actor_number"`
	Role   string `json:"actorRole" validate:"required,actor_role"`
}

// enqueuePayload is the wire shape for internal producers. Content is the
// base64 encoded message record.
type enqueuePayload struct {
	DocumentType       string       `json:"documentType" validate:"required,document_type"`
	Receiver           actorPayload `json:"receiver" validate:"required"`
	Sender             actorPayload `json:"sender" validate:"required"`
	BusinessReason     string       `json:"businessReason" validate:"required,business_reason"`
	ProcessID          uuid.UUID    `json:"processId" validate:"required"`
	RelatedToMessageID *uuid.UUID   `json:"relatedToMessageId"`
	Content            []byte       `json:"content" validate:"required,min=1"`
}

func (p enqueuePayload) request() outgoing.EnqueueRequest {
	return outgoing.EnqueueRequest{
		DocumentType: enums.DocumentType(p.DocumentType),
		Receiver: outgoing.Actor{
			Number: validators.SanitizeString(p.Receiver.Number, 32),
			Role:   enums.ActorRole(validators.SanitizeString(p.Receiver.Role, 64)),
		},
		Sender: outgoing.Actor{
			Number: validators.SanitizeString(p.Sender.Number, 32),
			Role:   enums.ActorRole(validators.SanitizeString(p.Sender.Role, 64)),
		},
		BusinessReason:     enums.BusinessReason(p.BusinessReason),
		ProcessID:          p.ProcessID,
		RelatedToMessageID: p.RelatedToMessageID,
		Content:            p.Content,
	}
}

// EnqueueOutgoingMessage accepts a message from an internal producer and
// places it into the receiver's queue.
func EnqueueOutgoingMessage(svc enqueuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload enqueuePayload
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		id, err := svc.Enqueue(ctx, payload.request())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"outgoingMessageId": id.String()})
	}
}
