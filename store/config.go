package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// Path is the SQLite file backing the store. Every mutation is written
	// through before the call returns, so reopening the file restores the
	// tables, items and index definitions.
	// Default: "" (in memory only)
	Path string

	// HashKey and RangeKey name the key attributes of tables that are created
	// implicitly on first use. Set RangeKey to "-" for hash-only tables.
	// Default: "pk" and "sk"
	HashKey  string
	RangeKey string

	// EnforceIndexes rejects queries that name an index which was never
	// added with AddIndex. When false any index name is accepted and no
	// index projection is applied.
	// Default: false
	EnforceIndexes bool

	// RequireTables makes every operation on a table that was not created
	// with CreateTable fail with ErrTableNotFound instead of creating it.
	// Default: false
	RequireTables bool

	// AllowedReservedKeywords are attribute names exempt from the reserved
	// word check in every table. Matching is case-insensitive.
	AllowedReservedKeywords []string

	// VersionAttribute is the attribute UpdateVersioned checks and bumps
	// when the caller passes an empty name.
	// Default: "version"
	VersionAttribute string

	// TTLAttribute names a numeric attribute holding an expiry time in epoch
	// seconds. Items whose TTL is at or before now are hidden from reads.
	// Default: "" (disabled)
	TTLAttribute string

	// Consistency configures simulated eventually consistent reads.
	// Default: disabled
	Consistency ConsistencyConfig

	// Logger receives structured logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns an in-memory configuration with pk/sk tables.
func DefaultConfig() Config {
	return Config{
		HashKey:          "pk",
		RangeKey:         "sk",
		VersionAttribute: "version",
		Consistency: ConsistencyConfig{
			DelayReads: 1,
		},
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.HashKey == "" {
		c.HashKey = "pk"
	}
	if c.RangeKey == "" {
		c.RangeKey = "sk"
	}
	if c.RangeKey == "-" {
		c.RangeKey = ""
	}
	if c.VersionAttribute == "" {
		c.VersionAttribute = "version"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Consistency.validate()
}
