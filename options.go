package taskmesh

import (
	"github.com/taskmesh/taskmesh/config"
)

// Option overrides a field of the configuration Init reads from the
// environment, the same functional-options shape the teacher's
// options.go uses over its own Config.
type Option func(*config.Config)

// WithConfig replaces the whole configuration Init would otherwise
// load from the environment. Mainly useful for tests that want to
// wire a cluster without TASKMESH_-prefixed env vars.
func WithConfig(cfg config.Config) Option {
	return func(c *config.Config) { *c = cfg }
}

// WithRank overrides the rank this process runs as.
func WithRank(rank uint32) Option {
	return func(c *config.Config) { c.Rank = rank }
}

// WithHosts overrides the rank -> address table.
func WithHosts(hosts []string) Option {
	return func(c *config.Config) { c.Hosts = hosts }
}

// WithGCMaxBatchSize overrides the controller GC's batch-flush threshold.
func WithGCMaxBatchSize(n int) Option {
	return func(c *config.Config) { c.GCMaxBatchSize = n }
}
