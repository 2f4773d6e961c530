package cctx

import "context"

func WithValues(parent context.Context, values ...interface{}) (ctx context.Context) {
	if len(values)%2 != 0 {
		panic("uneven")
	}

	ctx = parent
	for i := 0; i < len(values); i += 2 {
		ctx = context.WithValue(ctx, values[i], values[i+1])
	}
	return
}

// Actor is the authenticated user a request or connection acts on behalf of.
type Actor struct {
	ID       int64
	Username string
}

func WithActor(parent context.Context, actor Actor) context.Context {
	return WithValues(parent,
		ActorID, actor.ID,
		ActorUsername, actor.Username,
	)
}

// ActorFrom returns the actor stored by WithActor. ok is false for anonymous contexts.
func ActorFrom(ctx context.Context) (actor Actor, ok bool) {
	if actor.ID, ok = ctx.Value(ActorID).(int64); !ok {
		return
	}
	actor.Username, _ = ctx.Value(ActorUsername).(string)
	return
}
