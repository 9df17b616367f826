package geofence

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// ActorMetadataKey carries the calling actor as "username@hostname".
const ActorMetadataKey = "x-geofencer-actor"

// Actor identifies who issued a request.
type Actor struct {
	// Hostname is the machine name the request came from.
	Hostname string
	// Username is the system user who issued the request.
	Username string
}

// String renders the actor as "username@hostname".
func (a Actor) String() string {
	return a.Username + "@" + a.Hostname
}

// AppendActor attaches the actor to outgoing call metadata.
func AppendActor(ctx context.Context, actor Actor) context.Context {
	if actor.Hostname == "" && actor.Username == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, actor.String())
}

// ActorFromContext returns the actor of an incoming call.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	values := metadata.ValueFromIncomingContext(ctx, ActorMetadataKey)
	if len(values) == 0 {
		return Actor{}, false
	}

	username, hostname, ok := strings.Cut(values[0], "@")
	if !ok {
		return Actor{Username: values[0]}, true
	}

	return Actor{Hostname: hostname, Username: username}, true
}

// actorField renders the incoming actor for log fields.
func actorField(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "unknown"
	}

	return actor.String()
}
