package httpapi

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
)

type ctxKey string

const (
	sessionKey   ctxKey = "pubky.session"
	requestIDKey ctxKey = "pubky.requestID"
)

// WithSession stores the authenticated session in context.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx fetches the authenticated session from context.
func SessionFromCtx(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}

// RequestIDFromCtx returns the id assigned by RequestID, or "".
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
