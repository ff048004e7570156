package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/api/validators"
	"github.com/edihub/edi-backend/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"

	maxRequestIDLen = 128
)

// RequestID propagates a caller supplied correlation id or mints one. Ids
// longer than maxRequestIDLen are replaced rather than truncated.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := validators.SanitizeString(r.Header.Get(HeaderRequestID), 0)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
