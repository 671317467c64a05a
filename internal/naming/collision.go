package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered names per scope (a table, the database).
type CollisionResolver struct {
	seen   map[string]map[string]string // scope → name → source
	logger *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seen:   make(map[string]map[string]string),
		logger: logger,
	}
}

func (c *CollisionResolver) scope(name string) map[string]string {
	if c.seen[name] == nil {
		c.seen[name] = make(map[string]string)
	}
	return c.seen[name]
}

// Claim registers name within scope. On collision it returns the source that
// registered the name first and false.
func (c *CollisionResolver) Claim(scope, name, source string) (string, bool) {
	seen := c.scope(scope)
	if existing, exists := seen[name]; exists {
		return existing, false
	}
	seen[name] = source
	return "", true
}

// Resolve registers name within scope and returns the resolved name.
// If a collision occurs, applies a numeric suffix and logs a warning.
func (c *CollisionResolver) Resolve(scope, name, source string) string {
	return c.resolveCollision(name, c.scope(scope), source)
}

// resolveCollision attempts to register a name in the given map.
// If the name already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
