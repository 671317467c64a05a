package naming

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"unicode"
)

// Namer turns record and attribute names into physical identifiers.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIdentifierLength <= 0 {
		cfg.MaxIdentifierLength = 64
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// Resolver exposes the collision resolver of the current build.
func (n *Namer) Resolver() *CollisionResolver {
	return n.resolver
}

// TableName names the table shared by records, in declaration order.
// Example: ["User", "Profile"] -> "User_Profile", or "user_profiles" when pluralising.
func (n *Namer) TableName(records []string) string {
	name := strings.Join(records, "_")
	if n.config.PluralizeTables {
		parts := make([]string, len(records))
		for i, r := range records {
			parts[i] = toSnakeCase(r)
		}
		last := len(parts) - 1
		parts[last] = n.Pluralize(parts[last])
		name = strings.Join(parts, "_")
	}
	return n.Shorten(name)
}

// IDColumn names the id column of a record.
func (n *Namer) IDColumn(record string) string {
	return n.Shorten(record + "_" + AttrID)
}

// ValueColumn names the column of a value property: {record}_{property}.
func (n *Namer) ValueColumn(record, property string) string {
	return n.Shorten(record + "_" + property)
}

// LinkColumn names the foreign key column holding one endpoint of a relation.
// Example: ("Membership", "target") -> "Membership_target"
func (n *Namer) LinkColumn(relation, side string) string {
	return n.Shorten(relation + "_" + side)
}

// IndexName names the index of column in table.
func (n *Namer) IndexName(table, column string) string {
	name := n.Shorten("idx_" + table + "_" + column)
	return n.resolver.Resolve("__indexes", name, table+"."+column)
}

// Alias joins alias path segments: parentAlias_attributeName.
func (n *Namer) Alias(parent string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	if parent != "" {
		parts = append(parts, parent)
	}
	parts = append(parts, segments...)
	return n.Shorten(strings.Join(parts, "_"))
}

// Shorten truncates name to the configured identifier length, replacing the
// tail with a stable hash so distinct long names stay distinct.
func (n *Namer) Shorten(name string) string {
	limit := n.config.MaxIdentifierLength
	if len(name) <= limit {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	short := name[:limit-len(suffix)] + suffix
	n.logger.Debug("identifier shortened",
		slog.String("name", name),
		slog.String("shortened", short),
	)
	return short
}

func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
