package dynamo

import "log/slog"

// Config holds configuration for a DB.
type Config struct {
	// PKAttribute and SKAttribute name the key attributes used by the
	// *ByPK and *ByPKSK helpers.
	// Default: "pk" and "sk"
	PKAttribute string
	SKAttribute string

	// VersionAttribute is checked and bumped by UpdateVersionedItem.
	// Default: "version"
	VersionAttribute string

	// PageSize is the Limit sent with every Query and Scan page.
	// Default: 100
	PageSize int32

	// Logger receives structured logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a configuration for pk/sk tables.
func DefaultConfig() Config {
	return Config{
		PKAttribute:      "pk",
		SKAttribute:      "sk",
		VersionAttribute: "version",
		PageSize:         100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.PKAttribute == "" {
		c.PKAttribute = "pk"
	}
	if c.SKAttribute == "" {
		c.SKAttribute = "sk"
	}
	if c.VersionAttribute == "" {
		c.VersionAttribute = "version"
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
