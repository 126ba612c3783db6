package domain

import "context"

// Caller is the authenticated identity behind a request.
type Caller struct {
	Subject    string
	CustomerID string
}

type callerContextKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	if !ok || caller.Subject == "" {
		return Caller{}, false
	}
	return caller, true
}
