package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
)

type receiverBody struct {
	Number string `json:"actorNumber" validate:"required,actor_number"`
	Role   string `json:"actorRole" validate:"required,actor_role"`
}

type sampleBody struct {
	DocumentType   string       `json:"documentType" validate:"required,document_type"`
	BusinessReason string       `json:"businessReason" validate:"required,business_reason"`
	Receiver       receiverBody `json:"receiver" validate:"required"`
}

func decode(t *testing.T, body string) (sampleBody, error) {
	t.Helper()
	var dest sampleBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return dest, err
}

func validationDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, _ := typed.Details().(map[string]string)
	return details
}

func TestDecodeJSONBodyAcceptsValidDocument(t *testing.T) {
	dest, err := decode(t, `{
		"documentType": "NotifyAggregatedMeasureData",
		"businessReason": "BalanceFixing",
		"receiver": {"actorNumber": "5790001330552", "actorRole": "EnergySupplier"}
	}`)
	require.NoError(t, err)
	require.Equal(t, "5790001330552", dest.Receiver.Number)
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	_, err := decode(t, `{
		"documentType": "Invoice",
		"businessReason": "BalanceFixing",
		"receiver": {"actorNumber": "123", "actorRole": "Baker"}
	}`)
	details := validationDetails(t, err)
	require.Equal(t, "is not a known document type", details["documentType"])
	require.Equal(t, "must be a 13 digit GLN or a 16 character EIC", details["receiver.actorNumber"])
	require.Equal(t, "is not a known actor role", details["receiver.actorRole"])
	require.NotContains(t, details, "businessReason")
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"unknown field":  `{"priority": 1}`,
		"wrong type":     `{"documentType": 7}`,
		"two documents":  `{"documentType":"NotifyAggregatedMeasureData"} {}`,
		"truncated json": `{"documentType":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, body)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			require.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestDecodeJSONBodyEnforcesSizeLimit(t *testing.T) {
	huge := `{"documentType":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	_, err := decode(t, huge)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, "request body too large", typed.Message())
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "abc", SanitizeString("  abc\t", 0))
	require.Equal(t, "ab", SanitizeString("a\x00b", 0))
	require.Equal(t, "æø", SanitizeString("æøå", 2))
}
