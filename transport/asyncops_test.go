package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/wire"
)

func TestAsyncOps_FinishWaitsForAllSends(t *testing.T) {
	a, b, cleanup := newTwoRankMesh(t)
	defer cleanup()
	_ = b

	ops := NewAsyncOps(a)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ops.ISend(ctx, 1, wire.Envelope{Op: wire.OpPutData}, []byte("buf"))
	}

	require.NoError(t, ops.Finish())
	require.True(t, ops.Empty())
}

func TestAsyncOps_CheckReapsCompletedHandles(t *testing.T) {
	a, b, cleanup := newTwoRankMesh(t)
	defer cleanup()
	_ = b

	ops := NewAsyncOps(a)
	ops.ISend(context.Background(), 1, wire.Envelope{Op: wire.OpPutData}, []byte("x"))

	require.Eventually(t, func() bool {
		ops.Check()
		return ops.Empty()
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncOps_FinishReportsSendErrors(t *testing.T) {
	log := logging.NewLogger(nil)
	m := NewMesh(0, []string{"127.0.0.1:0"}, log)
	ops := NewAsyncOps(m)

	ops.ISend(context.Background(), 9, wire.Envelope{Op: wire.OpPutData}, []byte("x"))

	err := ops.Finish()
	require.Error(t, err)
}
