package shared

import (
	"context"
	"strings"
)

// Actor is the authenticated user acting on a request.
type Actor struct {
	UserID      int64
	PartnerID   int64
	Name        string
	Permissions []string
}

// Can reports whether the actor holds perm.
func (a Actor) Can(perm string) bool {
	for _, p := range a.Permissions {
		if strings.EqualFold(p, perm) {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.UserID != 0
}
