package middleware

import (
	"net/http"

	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey - middleware cek admin key terhadap bcrypt hash dari config
func AdminKey(keyHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Tanpa hash, admin routes tertutup
			if keyHash == "" {
				utils.ResponseForbidden(w, "Admin access is disabled")
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				utils.ResponseUnauthorized(w, "Missing admin key")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				logger.Warn("Admin check: invalid key",
					zap.String("path", r.URL.Path),
					zap.String("ip", utils.ClientIP(r)))
				utils.ResponseForbidden(w, "Admin access required")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.SetAdminContext(r.Context())))
		})
	}
}
