// Package corpus defines the records, work units and processor contract shared
// by the shard and index-range sources, plus the web-table record schema.
package corpus
