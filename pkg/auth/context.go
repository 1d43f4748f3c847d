package auth

import (
	"context"

	"github.com/google/uuid"
)

type userIDCtxKey struct{}

func SetUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// UserFromContext returns the authenticated user id stored by Middleware.
// It satisfies entitlement.UserResolver.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
