// Package config centralizes cluster configuration, read once at Init
// from TASKMESH_-prefixed environment variables and treated as
// immutable afterward (see SPEC_FULL.md §2.3).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SpawnPolicy selects how worker processes come into being. Only Adopt
// is implemented; process bootstrap/spawning is out of scope (see
// SPEC_FULL.md §5 Non-goals) so Spawn is rejected at Load time.
type SpawnPolicy string

const (
	// SpawnPolicyAdopt attaches to already-running processes discovered
	// via Hosts; the caller is responsible for having started them.
	SpawnPolicyAdopt SpawnPolicy = "adopt"
	// SpawnPolicySpawn would launch worker processes itself. Rejected.
	SpawnPolicySpawn SpawnPolicy = "spawn"
)

// Config holds every knob the cluster reads at startup.
type Config struct {
	// Rank is this process's own position in Hosts. Every rank in a
	// cluster launch is handed the same Hosts list but a distinct Rank,
	// the way an MPI launcher assigns each process its world rank.
	Rank uint32

	// Hosts lists one network address per rank, in rank order; Hosts[0]
	// is the controller, Hosts[1] the monitor, the rest workers.
	Hosts []string

	// CPUsPerHost is the CPU count ClusterResources reports for every
	// worker host. It does not limit or size anything on a worker: the
	// worker loop runs one task at a time.
	CPUsPerHost int

	// SpawnPolicy must be SpawnPolicyAdopt; SpawnPolicySpawn is
	// rejected by Load.
	SpawnPolicy SpawnPolicy

	// PayloadLogThresholdBytes is read from the environment (default
	// 1 MiB), but nothing in this module consults it: payloads are not
	// logged by size.
	PayloadLogThresholdBytes int

	// DialTimeout bounds each rank's initial mesh connection attempt.
	DialTimeout time.Duration

	// HandshakeTimeout is read from the environment (default 5s), but
	// the mesh does not apply it: the HELLO handshake has no timeout.
	HandshakeTimeout time.Duration

	// GCMaxBatchSize is the cleanup batch-size threshold that can flush
	// a rank's pending CLEANUP batch even before quiescence
	// (SPEC_FULL.md §4).
	GCMaxBatchSize int
}

func defaults() Config {
	return Config{
		CPUsPerHost:              1,
		SpawnPolicy:              SpawnPolicyAdopt,
		PayloadLogThresholdBytes: 1 << 20, // 1 MiB
		DialTimeout:              10 * time.Second,
		HandshakeTimeout:         5 * time.Second,
		GCMaxBatchSize:           256,
	}
}

// Load reads configuration from the environment (TASKMESH_ prefix) and
// returns an immutable Config. It is intended to be called exactly
// once, before Init brings up the mesh.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("taskmesh")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	d := defaults()
	v.SetDefault("rank", 0)
	v.SetDefault("hosts", "")
	v.SetDefault("cpus_per_host", d.CPUsPerHost)
	v.SetDefault("spawn_policy", string(d.SpawnPolicy))
	v.SetDefault("payload_log_threshold_bytes", d.PayloadLogThresholdBytes)
	v.SetDefault("dial_timeout", d.DialTimeout.String())
	v.SetDefault("handshake_timeout", d.HandshakeTimeout.String())
	v.SetDefault("gc_max_batch_size", d.GCMaxBatchSize)

	cfg := d
	cfg.Rank = uint32(v.GetInt("rank"))
	if raw := v.GetString("hosts"); raw != "" {
		cfg.Hosts = splitNonEmpty(raw, ",")
	}
	cfg.CPUsPerHost = v.GetInt("cpus_per_host")
	cfg.SpawnPolicy = SpawnPolicy(v.GetString("spawn_policy"))
	cfg.PayloadLogThresholdBytes = v.GetInt("payload_log_threshold_bytes")
	cfg.GCMaxBatchSize = v.GetInt("gc_max_batch_size")

	dialTimeout, err := time.ParseDuration(v.GetString("dial_timeout"))
	if err != nil {
		return cfg, fmt.Errorf("config: dial_timeout: %w", err)
	}
	cfg.DialTimeout = dialTimeout

	handshakeTimeout, err := time.ParseDuration(v.GetString("handshake_timeout"))
	if err != nil {
		return cfg, fmt.Errorf("config: handshake_timeout: %w", err)
	}
	cfg.HandshakeTimeout = handshakeTimeout

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate re-runs the same checks Load applies, for callers (such as
// taskmesh.Init) that build or amend a Config themselves instead of
// reading it straight from the environment.
func (c Config) Validate() error { return c.validate() }

func (c Config) validate() error {
	if len(c.Hosts) < 2 {
		return fmt.Errorf("config: hosts must list at least a controller and a monitor address, got %d", len(c.Hosts))
	}
	if int(c.Rank) >= len(c.Hosts) {
		return fmt.Errorf("config: rank %d out of range for %d hosts", c.Rank, len(c.Hosts))
	}
	if c.SpawnPolicy == SpawnPolicySpawn {
		return fmt.Errorf("config: spawn_policy=spawn is out of scope; process bootstrap must adopt already-running ranks")
	}
	if c.SpawnPolicy != SpawnPolicyAdopt {
		return fmt.Errorf("config: unknown spawn_policy %q", c.SpawnPolicy)
	}
	if c.CPUsPerHost < 1 {
		return fmt.Errorf("config: cpus_per_host must be >= 1, got %d", c.CPUsPerHost)
	}
	return nil
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
