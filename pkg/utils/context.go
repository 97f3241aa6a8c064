package utils

import (
	"context"
	"net/http"
)

type contextKey string

const (
	RequestMetaKey contextKey = "request_meta"
	AdminKey       contextKey = "admin"
)

// RequestMeta is the requester information kept with audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func SetRequestMeta(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, RequestMetaKey, RequestMeta{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// GetRequestMeta mendapatkan info requester dari context
func GetRequestMeta(ctx context.Context) (RequestMeta, bool) {
	metaVal := ctx.Value(RequestMetaKey)
	if metaVal == nil {
		return RequestMeta{}, false
	}

	meta, ok := metaVal.(RequestMeta)
	return meta, ok
}

func SetAdminContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, AdminKey, true)
}

func IsAdminContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(AdminKey).(bool)
	return isAdmin
}
