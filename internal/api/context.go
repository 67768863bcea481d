package api

import "context"

// ownerIDContextKey is the context key for the authenticated owner id.
type ownerIDContextKey struct{}

// WithOwnerID returns a new context carrying the authenticated owner id.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDContextKey{}, ownerID)
}

// OwnerIDFromContext extracts the owner id set by AuthMiddleware.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerIDContextKey{}).(string)
	return id, ok && id != ""
}
