package middleware

import (
	"net/http"

	"cinema-ticketing/pkg/utils"
)

// RequestMeta stores requester IP and user agent in the context for audit rows.
func RequestMeta() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(utils.SetRequestMeta(r.Context(), r)))
		})
	}
}
