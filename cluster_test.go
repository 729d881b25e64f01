package taskmesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/id"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func testConfig(rank uint32, hosts []string) config.Config {
	return config.Config{
		Rank:             rank,
		Hosts:            hosts,
		CPUsPerHost:      1,
		SpawnPolicy:      config.SpawnPolicyAdopt,
		DialTimeout:      2 * time.Second,
		HandshakeTimeout: time.Second,
		GCMaxBatchSize:   256,
	}
}

// TestCluster_EndToEnd brings up all three ranks via Init in a single
// process (monitor and worker each block inside Init until CANCEL, so
// they run on their own goroutines), then drives the full
// put/submit/get/shutdown path through the returned *Cluster — the
// same scenario as spec §8 scenario 2 ("cross-rank arg resolution").
func TestCluster_EndToEnd(t *testing.T) {
	// Arguments and return values that cross the wire decode through the
	// object store's generic any-typed JSON path, so a put int arrives
	// here as a float64 (the same behavior the codec gives every value
	// that never resolves locally on the controller). "factor" is a
	// literal keyword argument, exercising the kwargs path alongside
	// the id-resolved positional one.
	Register("mul", func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(float64) * kwargs["factor"].(float64), nil
	})

	hosts := []string{freeAddr(t), freeAddr(t), freeAddr(t)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = Init(ctx, WithConfig(testConfig(1, hosts))) }()
	go func() { _, _ = Init(ctx, WithConfig(testConfig(2, hosts))) }()

	cluster, err := Init(ctx, WithConfig(testConfig(0, hosts)))
	require.NoError(t, err)
	require.NotNil(t, cluster)

	owned := cluster.Put(21)
	defer owned.Release()

	outs, err := cluster.Submit(ctx, "mul", 1, []any{owned.Base()}, map[string]any{"factor": 2})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	defer outs[0].Release()

	getCtx, getCancel := context.WithTimeout(ctx, 2*time.Second)
	defer getCancel()
	values, err := cluster.Get(getCtx, outs[0].Base())
	require.NoError(t, err)
	require.Equal(t, []any{float64(42)}, values)

	require.NoError(t, cluster.Shutdown(context.Background()))
}

func TestCluster_WaitRejectsTooManyReturns(t *testing.T) {
	hosts := []string{freeAddr(t), freeAddr(t)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rank 0's Init dials every other rank, so the monitor must be up.
	go func() { _, _ = Init(ctx, WithConfig(testConfig(1, hosts))) }()

	cluster, err := Init(ctx, WithConfig(testConfig(0, hosts)))
	require.NoError(t, err)
	defer cluster.Shutdown(context.Background())

	owned := cluster.Put(1)
	defer owned.Release()

	_, _, err = cluster.Wait(ctx, []id.BaseID{owned.Base()}, 2)
	require.ErrorIs(t, err, ErrTooManyReturns)
}
