//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	api "github.com/oshokin/geofencer/internal/api/grpc/geofence"
)

// EnvActor overrides the detected actor, formatted as "username@hostname"
// or as a bare username.
const EnvActor = "GEOFENCER_ACTOR"

// DetectActor identifies who runs the client, for the server's audit log.
// EnvActor wins over the host and user lookup.
func DetectActor() (api.Actor, error) {
	if value := strings.TrimSpace(os.Getenv(EnvActor)); value != "" {
		return actorFromEnv(value)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return api.Actor{}, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return api.Actor{}, fmt.Errorf("current user: %w", err)
	}

	return api.Actor{
		Hostname: hostname,
		Username: plainUsername(currentUser.Username),
	}, nil
}

// actorFromEnv parses an EnvActor value; a missing host part is looked up.
func actorFromEnv(value string) (api.Actor, error) {
	username, hostname, ok := strings.Cut(value, "@")
	if ok && hostname != "" {
		return api.Actor{Hostname: hostname, Username: plainUsername(username)}, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return api.Actor{}, fmt.Errorf("hostname: %w", err)
	}

	return api.Actor{Hostname: hostname, Username: plainUsername(username)}, nil
}

// plainUsername drops a Windows "DOMAIN\" prefix and any "@",
// which separates the user from the host in the metadata header.
func plainUsername(name string) string {
	if _, after, ok := strings.Cut(name, `\`); ok {
		name = after
	}

	return strings.ReplaceAll(name, "@", "_")
}
