package audit

import "context"

type contextKey int

const actorKey contextKey = iota

// Actor identifies who initiated an operation. It travels on the
// context so the engine can attribute audit entries without threading
// caller identity through every method signature.
type Actor struct {
	Source string
	IP     string
}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, source, ip string) context.Context {
	return context.WithValue(ctx, actorKey, Actor{Source: source, IP: ip})
}

// ActorFrom extracts the actor from the context. Returns the zero Actor
// when none was attached.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey).(Actor)
	return a
}
