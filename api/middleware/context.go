package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type identityKey struct{}

// identity is the raw caller as asserted by the token.
type identity struct {
	userID string
	role   string
}

func withIdentity(ctx context.Context, id identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) identity {
	if ctx == nil {
		return identity{}
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func UserIDFromContext(ctx context.Context) string { return identityFrom(ctx).userID }

func RoleFromContext(ctx context.Context) string { return identityFrom(ctx).role }

// ActorFromContext returns the order actor for the caller. ok is false when
// the context has no parseable user id or a role outside the known set.
func ActorFromContext(ctx context.Context) (orders.Actor, bool) {
	id := identityFrom(ctx)
	userID, err := uuid.Parse(id.userID)
	if err != nil || userID == uuid.Nil {
		return orders.Actor{}, false
	}
	role, err := enums.ParseUserRole(id.role)
	if err != nil {
		return orders.Actor{}, false
	}
	return orders.Actor{UserID: userID, Role: role}, true
}

// WithActor attaches an identity without a token, for tests and in-process callers.
func WithActor(ctx context.Context, userID string, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return withIdentity(ctx, identity{userID: userID, role: role})
}
