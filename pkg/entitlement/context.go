package entitlement

import (
	"context"

	"github.com/google/uuid"
)

type userIDCtxKey struct{}

// SetUserIDToContext stores the authenticated user id in ctx.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// GetUserIDFromContext is the default UserResolver. The nil UUID counts as absent.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// UserResolver extracts the authenticated caller from a request context.
type UserResolver func(ctx context.Context) (uuid.UUID, bool)
