package store

import "github.com/jacentio/propsync/model"

// Config holds configuration for the Store.
type Config struct {
	// Tables maps collection names to DynamoDB table names.
	// Default: each collection is stored in a table of the same name.
	Tables map[string]string

	// Indexes maps "collection.field" to the GSI partitioned on that field.
	// Range reads on fields without an index fall back to a filtered Scan.
	// Default: cityId-index on clients and properties, clientId-index on properties.
	Indexes map[string]string

	// MaxTransactItems is the most records one atomic write may touch.
	// Default: 100 (the TransactWriteItems limit)
	MaxTransactItems int
}

// DefaultConfig returns the default table layout.
func DefaultConfig() Config {
	return Config{
		Tables: map[string]string{
			model.Cities:     model.Cities,
			model.Clients:    model.Clients,
			model.Properties: model.Properties,
		},
		Indexes: map[string]string{
			model.Clients + ".cityId":      "cityId-index",
			model.Properties + ".cityId":   "cityId-index",
			model.Properties + ".clientId": "clientId-index",
		},
		MaxTransactItems: 100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	def := DefaultConfig()
	if len(c.Tables) == 0 {
		c.Tables = def.Tables
	}
	if c.Indexes == nil {
		c.Indexes = def.Indexes
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
}

// TableFor returns the table holding collection.
func (c Config) TableFor(collection string) (string, bool) {
	t, ok := c.Tables[collection]
	return t, ok
}

// IndexFor returns the GSI to use for equality reads on collection.field.
func (c Config) IndexFor(collection, field string) (string, bool) {
	idx, ok := c.Indexes[collection+"."+field]
	return idx, ok
}

// CollectionFor returns the collection stored in table.
func (c Config) CollectionFor(table string) (string, bool) {
	for coll, t := range c.Tables {
		if t == table {
			return coll, true
		}
	}
	return "", false
}
