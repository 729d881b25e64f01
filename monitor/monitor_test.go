package monitor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/transport"
	"github.com/taskmesh/taskmesh/wire"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newMonitorAndController(t *testing.T) (*Monitor, *transport.Mesh, func()) {
	t.Helper()
	hosts := []string{freeAddr(t), freeAddr(t)}
	ctx, cancel := context.WithCancel(context.Background())
	log := logging.NewLogger(nil)

	ctrlMesh := transport.NewMesh(0, hosts, log)
	monMesh := transport.NewMesh(1, hosts, log)

	require.NoError(t, ctrlMesh.Listen(ctx))
	require.NoError(t, monMesh.Listen(ctx))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ctrlMesh.DialAll(ctx, time.Second))
	require.NoError(t, monMesh.DialAll(ctx, time.Second))
	time.Sleep(20 * time.Millisecond)

	m := New(monMesh, log, nil)
	go m.Run(ctx)

	return m, ctrlMesh, func() {
		cancel()
		ctrlMesh.Close()
		monMesh.Close()
	}
}

func TestMonitor_TaskSubmitAndDoneTrackCounter(t *testing.T) {
	_, ctrlMesh, cleanup := newMonitorAndController(t)
	defer cleanup()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()

	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{Op: wire.OpTaskSubmit}, nil))
	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{Op: wire.OpGetTaskCount}, nil))

	msg, err := ctrlMesh.RecvFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, wire.OpGetTaskCountReply, msg.Envelope.Op)
	require.Equal(t, 1, msg.Envelope.TaskCount)

	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{Op: wire.OpTaskDone}, nil))
	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{Op: wire.OpGetTaskCount}, nil))

	msg, err = ctrlMesh.RecvFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, wire.OpGetTaskCountReply, msg.Envelope.Op)
	require.Equal(t, 0, msg.Envelope.TaskCount)
}

func TestMonitor_WaitReturnsReadyImmediatelyWhenAlreadyNotified(t *testing.T) {
	_, ctrlMesh, cleanup := newMonitorAndController(t)
	defer cleanup()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()

	bid := id.BaseID{Owner: 2, Seq: 1}
	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{Op: wire.OpReady, ID: bid}, nil))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{
		Op: wire.OpWait, IDs: []id.BaseID{bid}, NumReturns: 1,
	}, nil))

	msg, err := ctrlMesh.RecvFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, wire.OpWaitReply, msg.Envelope.Op)
	require.Len(t, msg.Envelope.Ready, 1)
	require.Equal(t, bid, msg.Envelope.Ready[0])
	require.Empty(t, msg.Envelope.NotReady)
}

func TestMonitor_WaitBlocksUntilReadyArrives(t *testing.T) {
	_, ctrlMesh, cleanup := newMonitorAndController(t)
	defer cleanup()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()

	bid := id.BaseID{Owner: 2, Seq: 1}
	require.NoError(t, ctrlMesh.Send(ctx, 1, wire.Envelope{
		Op: wire.OpWait, IDs: []id.BaseID{bid}, NumReturns: 1,
	}, nil))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = ctrlMesh.Send(context.Background(), 1, wire.Envelope{Op: wire.OpReady, ID: bid}, nil)
	}()

	msg, err := ctrlMesh.RecvFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, wire.OpWaitReply, msg.Envelope.Op)
	require.Equal(t, []id.BaseID{bid}, msg.Envelope.Ready)
}
