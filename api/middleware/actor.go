package middleware

import (
	"net/http"

	"github.com/edihub/edi-backend/api/responses"
	"github.com/edihub/edi-backend/api/validators"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
)

const (
	HeaderActorNumber = "X-Actor-Number"
	HeaderActorRole   = "X-Actor-Role"

	maxHeaderLen = 64
)

// RequireActor resolves the calling market participant from request headers.
// Authentication happens upstream; this only rejects requests without a
// well-formed identity.
func RequireActor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			number := validators.SanitizeString(r.Header.Get(HeaderActorNumber), maxHeaderLen)
			if !enums.IsActorNumber(number) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor number header missing or malformed"))
				return
			}
			role, err := enums.ParseActorRole(validators.SanitizeString(r.Header.Get(HeaderActorRole), maxHeaderLen))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "actor role header missing or unknown"))
				return
			}

			ctx = WithActor(ctx, outgoing.Actor{Number: number, Role: role})
			if logg != nil {
				ctx = logg.WithActor(ctx, number, string(role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
