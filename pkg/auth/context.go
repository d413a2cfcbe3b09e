package auth

import (
	"context"
)

// Context keys for authentication data
type contextKey string

const (
	// ContextKeySubject is the context key for the authenticated admin subject
	ContextKeySubject contextKey = "subject"
)

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// SubjectFromContext retrieves the authenticated subject from the context
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(ContextKeySubject).(string)
	return subject, ok
}
