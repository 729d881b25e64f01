package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASKMESH_HOSTS", "TASKMESH_CPUS_PER_HOST", "TASKMESH_SPAWN_POLICY",
		"TASKMESH_PAYLOAD_LOG_THRESHOLD_BYTES", "TASKMESH_DIAL_TIMEOUT",
		"TASKMESH_HANDSHAKE_TIMEOUT", "TASKMESH_GC_MAX_BATCH_SIZE", "TASKMESH_RANK",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_RequiresHostsForControllerAndMonitor(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when no hosts are configured")
	}
}

func TestLoad_AppliesDefaultsAndParsesHosts(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("TASKMESH_HOSTS", "10.0.0.1:9000, 10.0.0.2:9001 ,10.0.0.3:9002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"10.0.0.1:9000", "10.0.0.2:9001", "10.0.0.3:9002"}
	if len(cfg.Hosts) != len(want) {
		t.Fatalf("got %d hosts, want %d", len(cfg.Hosts), len(want))
	}
	for i, h := range want {
		if cfg.Hosts[i] != h {
			t.Errorf("host[%d] = %q, want %q", i, cfg.Hosts[i], h)
		}
	}
	if cfg.SpawnPolicy != SpawnPolicyAdopt {
		t.Errorf("default spawn policy = %q, want %q", cfg.SpawnPolicy, SpawnPolicyAdopt)
	}
	if cfg.DialTimeout != 10*time.Second {
		t.Errorf("default dial timeout = %v, want 10s", cfg.DialTimeout)
	}
	if cfg.GCMaxBatchSize != 256 {
		t.Errorf("default gc max batch size = %d, want 256", cfg.GCMaxBatchSize)
	}
}

func TestLoad_ParsesRankAndRejectsOutOfRange(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("TASKMESH_HOSTS", "a:1,b:2,c:3")
	os.Setenv("TASKMESH_RANK", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rank != 2 {
		t.Errorf("rank = %d, want 2", cfg.Rank)
	}

	os.Setenv("TASKMESH_RANK", "5")
	if _, err := Load(); err == nil {
		t.Fatal("expected out-of-range rank to be rejected")
	}
}

func TestLoad_RejectsSpawnPolicy(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("TASKMESH_HOSTS", "a:1,b:2")
	os.Setenv("TASKMESH_SPAWN_POLICY", "spawn")

	_, err := Load()
	if err == nil {
		t.Fatal("expected spawn policy to be rejected as out of scope")
	}
}

func TestLoad_RejectsUnknownSpawnPolicy(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("TASKMESH_HOSTS", "a:1,b:2")
	os.Setenv("TASKMESH_SPAWN_POLICY", "teleport")

	_, err := Load()
	if err == nil {
		t.Fatal("expected unknown spawn policy to be rejected")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("TASKMESH_HOSTS", "a:1,b:2,c:3")
	os.Setenv("TASKMESH_CPUS_PER_HOST", "4")
	os.Setenv("TASKMESH_GC_MAX_BATCH_SIZE", "64")
	os.Setenv("TASKMESH_DIAL_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CPUsPerHost != 4 {
		t.Errorf("cpus per host = %d, want 4", cfg.CPUsPerHost)
	}
	if cfg.GCMaxBatchSize != 64 {
		t.Errorf("gc max batch size = %d, want 64", cfg.GCMaxBatchSize)
	}
	if cfg.DialTimeout != 2*time.Second {
		t.Errorf("dial timeout = %v, want 2s", cfg.DialTimeout)
	}
}
