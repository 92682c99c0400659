package shared

import "context"

type actorContextKey struct{}

// SystemActor is recorded when no caller identity is attached to a context.
const SystemActor = "system"

// ContextWithActor stores the identity responsible for the current request.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor, falling back to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
