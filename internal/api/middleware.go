package api

import (
	"context"
	"net/http"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
)

type resultCtxKey struct{}

// RequireQuota consumes one unit of res for the caller before next runs.
// Denials and failures are answered here, so next only runs for granted
// requests.
func RequireQuota(gate *entitlement.Gate, res entitlement.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := gate.ConsumeFromContext(r.Context(), res)
			if err != nil {
				writeErr(w, err)
				return
			}
			if !result.Granted {
				writeDenied(w, result)
				return
			}
			ctx := context.WithValue(r.Context(), resultCtxKey{}, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ConsumeResult returns the grant recorded by RequireQuota.
func ConsumeResult(ctx context.Context) (entitlement.Result, bool) {
	res, ok := ctx.Value(resultCtxKey{}).(entitlement.Result)
	return res, ok
}
