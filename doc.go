// Package taskmesh is the public entry point for a distributed
// task-execution cluster: one controller (rank 0), one monitor (rank
// 1), and N workers (ranks >= 2) connected by a full-mesh transport.
//
// Constructors
//   - Init(ctx, opts...): brings up this process's rank. On rank 0 it
//     returns a *Cluster exposing Put/Get/Wait/Submit/Shutdown/
//     ClusterResources. On ranks >= 1 it runs the monitor or worker
//     loop inline and only returns once that loop exits on CANCEL.
//
// Task registration
//   - Register(name, fn) must be called identically on every rank,
//     before Init, for every task that rank may be asked to execute
//     (see package worker — Go has no serializable closures, so tasks
//     travel over the wire as a registered name).
//
// A failed rank is fatal to the cluster; this package does not retry
// or fail over (see spec Non-goals).
package taskmesh
