package outgoing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
)

// DocumentHeader describes the bundle a document is rendered for.
type DocumentHeader struct {
	MessageID      string
	DocumentType   enums.DocumentType
	BusinessReason enums.BusinessReason
	Receiver       Actor
	Sender         Actor
	CreatedAt      time.Time
}

// DocumentWriter combines the content of a bundle's messages into one
// document. Output must depend only on its input so a re-render is identical.
type DocumentWriter interface {
	ContentType() string
	Write(ctx context.Context, header DocumentHeader, records [][]byte) ([]byte, error)
}

// JSONDocumentWriter renders bundles as a JSON envelope with code-table codes.
type JSONDocumentWriter struct {
	codes *enums.CodeTables
}

func NewJSONDocumentWriter(codes *enums.CodeTables) *JSONDocumentWriter {
	return &JSONDocumentWriter{codes: codes}
}

type jsonParty struct {
	ID   string `json:"mRID"`
	Role string `json:"marketRole.type"`
}

type jsonDocument struct {
	MessageID      string            `json:"mRID"`
	Type           string            `json:"type"`
	BusinessReason string            `json:"process.processType"`
	Sender         jsonParty         `json:"sender_MarketParticipant"`
	Receiver       jsonParty         `json:"receiver_MarketParticipant"`
	CreatedAt      string            `json:"createdDateTime"`
	Series         []json.RawMessage `json:"Series"`
}

func (w *JSONDocumentWriter) ContentType() string {
	return "application/json"
}

func (w *JSONDocumentWriter) Write(ctx context.Context, header DocumentHeader, records [][]byte) ([]byte, error) {
	docType, err := w.codes.DocumentTypes.ToCode(header.DocumentType)
	if err != nil {
		return nil, err
	}
	reason, err := w.codes.BusinessReasons.ToCode(header.BusinessReason)
	if err != nil {
		return nil, err
	}
	receiverRole, err := w.codes.ActorRoles.ToCode(header.Receiver.Role)
	if err != nil {
		return nil, err
	}
	senderRole, err := w.codes.ActorRoles.ToCode(header.Sender.Role)
	if err != nil {
		return nil, err
	}

	doc := jsonDocument{
		MessageID:      header.MessageID,
		Type:           docType,
		BusinessReason: reason,
		Sender:         jsonParty{ID: header.Sender.Number, Role: senderRole},
		Receiver:       jsonParty{ID: header.Receiver.Number, Role: receiverRole},
		CreatedAt:      header.CreatedAt.UTC().Format(time.RFC3339),
		Series:         make([]json.RawMessage, 0, len(records)),
	}
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		encoded, err := encodeRecord(record)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		doc.Series = append(doc.Series, encoded)
	}
	return json.Marshal(doc)
}

// opaqueRecord carries content that is not a JSON object or array. Data is
// the exact record bytes, base64 encoded by encoding/json.
type opaqueRecord struct {
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
}

const recordEncodingBase64 = "base64"

// encodeRecord embeds JSON objects and arrays as they are. Anything else,
// including bare JSON scalars and invalid UTF-8, is wrapped so the original
// bytes can be recovered.
func encodeRecord(record []byte) (json.RawMessage, error) {
	if trimmed := bytes.TrimSpace(record); isStructuredJSON(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	return json.Marshal(opaqueRecord{Encoding: recordEncodingBase64, Data: record})
}

func isStructuredJSON(record []byte) bool {
	if len(record) == 0 || (record[0] != '{' && record[0] != '[') {
		return false
	}
	return json.Valid(record)
}

func headerFor(bundle *models.Bundle, queue *models.ActorMessageQueue, members []models.OutgoingMessage) DocumentHeader {
	header := DocumentHeader{
		MessageID:      bundle.MessageID.String(),
		DocumentType:   bundle.DocumentType,
		BusinessReason: bundle.BusinessReason,
		Receiver:       Actor{Number: queue.ActorNumber, Role: queue.ActorRole},
		CreatedAt:      bundle.CreatedAt,
	}
	if bundle.ClosedAt != nil {
		header.CreatedAt = *bundle.ClosedAt
	}
	if len(members) > 0 {
		header.Sender = Actor{Number: members[0].SenderNumber, Role: members[0].SenderRole}
	}
	return header
}
