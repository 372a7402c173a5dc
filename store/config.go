package store

// Config holds configuration for the Store.
type Config struct {
	// EntityTable holds every record, partitioned by kind.
	// Default: "dynorm_entities"
	EntityTable string

	// CacheTable holds the unique-combination cache.
	// Default: "dynorm_cache"
	CacheTable string

	// SequenceTable holds one id counter per kind.
	// Default: "dynorm_sequences"
	SequenceTable string

	// PageSize bounds how many items one Query or Scan request evaluates.
	// Default: 100
	// Max: 1000
	PageSize int32
}

// DefaultConfig returns the default table layout.
func DefaultConfig() Config {
	return Config{
		EntityTable:   "dynorm_entities",
		CacheTable:    "dynorm_cache",
		SequenceTable: "dynorm_sequences",
		PageSize:      100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.EntityTable == "" {
		c.EntityTable = d.EntityTable
	}
	if c.CacheTable == "" {
		c.CacheTable = d.CacheTable
	}
	if c.SequenceTable == "" {
		c.SequenceTable = d.SequenceTable
	}
	if c.PageSize < 1 {
		c.PageSize = d.PageSize
	}
	if c.PageSize > 1000 {
		c.PageSize = 1000
	}
}
