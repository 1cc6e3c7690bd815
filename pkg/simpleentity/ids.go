package simpleentity

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const (
	idLength   = 16
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// newEntityID returns a random lower-case alphanumeric id.
func newEntityID() (string, error) {
	// reject bytes above the largest multiple of the alphabet size
	const limit = 256 - 256%len(idAlphabet)
	var sb strings.Builder
	buf := make([]byte, idLength*2)
	for sb.Len() < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate entity id: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			sb.WriteByte(idAlphabet[int(b)%len(idAlphabet)])
			if sb.Len() == idLength {
				break
			}
		}
	}
	return sb.String(), nil
}

// validID reports whether id can be used as an entity id.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// now returns the current time as stored by the service: UTC with
// microsecond precision, which round-trips through Postgres unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Anonymous is the agent name used when the context carries none.
const Anonymous = "anonymous"

type agentKey struct{}

// WithAgent returns a context carrying the calling agent's name.
func WithAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentKey{}, name)
}

// AgentFromContext returns the calling agent's name or Anonymous.
func AgentFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(agentKey{}).(string); ok && name != "" {
		return name
	}
	return Anonymous
}

const locatorScheme = "entity://"

// MetadataLocator is the internal source URI of an entity metadata record.
func MetadataLocator(entityID, name string) string {
	return fmt.Sprintf("%s%s/metadata/%s", locatorScheme, entityID, name)
}

// BinaryLocator is the internal source URI of a binary.
func BinaryLocator(entityID, name string) string {
	return fmt.Sprintf("%s%s/binaries/%s", locatorScheme, entityID, name)
}

// BinaryMetadataLocator is the internal source URI of a binary's metadata record.
func BinaryMetadataLocator(entityID, binaryName, name string) string {
	return fmt.Sprintf("%s%s/binaries/%s/metadata/%s", locatorScheme, entityID, binaryName, name)
}

// locator is a parsed internal source URI.
type locator struct {
	entityID string
	binary   string
	metadata string
}

func parseLocator(uri string) (locator, error) {
	rest, ok := strings.CutPrefix(uri, locatorScheme)
	if !ok {
		return locator{}, invalidf("not an internal locator: %q", uri)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[1] == "metadata":
		return locator{entityID: parts[0], metadata: parts[2]}, nil
	case len(parts) == 3 && parts[1] == "binaries":
		return locator{entityID: parts[0], binary: parts[2]}, nil
	case len(parts) == 5 && parts[1] == "binaries" && parts[3] == "metadata":
		return locator{entityID: parts[0], binary: parts[2], metadata: parts[4]}, nil
	}
	return locator{}, invalidf("malformed internal locator: %q", uri)
}
