// Package naming derives deterministic physical names (tables, columns, aliases,
// indexes) from record and attribute names, with optional pluralisation and
// length shortening.
package naming

// Config holds naming customization options
type Config struct {
	// PluralizeTables renders table names as snake_case plurals ("user_profiles").
	PluralizeTables bool `mapstructure:"pluralize_tables"`

	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// MaxIdentifierLength caps table, column and alias names; longer names are
	// truncated and suffixed with a hash. Zero means 64.
	MaxIdentifierLength int `mapstructure:"max_identifier_length"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides:     make(map[string]string),
		MaxIdentifierLength: 64,
	}
}
