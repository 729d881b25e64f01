// Package taskmesh's cluster.go wires together the per-rank packages
// (config, transport, store, gc, schedule, controller, monitor,
// worker) into a single Init entry point, the way the teacher's
// workers.go wires dispatcher/pool/task into its own New (DESIGN.md
// "taskmesh root package").
package taskmesh

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/controller"
	"github.com/taskmesh/taskmesh/gc"
	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/monitor"
	"github.com/taskmesh/taskmesh/reqstore"
	"github.com/taskmesh/taskmesh/transport"
	"github.com/taskmesh/taskmesh/wire"
	"github.com/taskmesh/taskmesh/worker"
)

const (
	controllerRank  uint32 = 0
	monitorRank     uint32 = 1
	firstWorkerRank uint32 = 2
)

// Cluster is rank 0's handle, returned by Init. Every other rank's
// Init call never reaches a Cluster value: it runs that rank's loop
// inline and only returns once the loop exits (see DESIGN.md Open
// Question 1).
type Cluster struct {
	ctrl *controller.Controller
	mesh *transport.Mesh
	reg  *prometheus.Registry

	once sync.Once
}

// Init brings up this process's rank: it reads configuration (unless
// WithConfig overrides it), dials/listens the full mesh, and either
// returns a *Cluster (rank 0) or runs the monitor/worker loop inline
// until CANCEL (ranks >= 1).
func Init(ctx context.Context, opts ...Option) (*Cluster, error) {
	cfg, loadErr := config.Load()
	if loadErr != nil && len(opts) == 0 {
		return nil, fmt.Errorf("taskmesh: load config: %w", loadErr)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("taskmesh: invalid config: %w", err)
	}

	log := logging.NewLogger(nil).WithRank(cfg.Rank)
	reg := prometheus.NewRegistry()

	mesh := transport.NewMesh(cfg.Rank, cfg.Hosts, log)
	if err := mesh.Listen(ctx); err != nil {
		return nil, fmt.Errorf("taskmesh: listen: %w", err)
	}
	if err := mesh.DialAll(ctx, cfg.DialTimeout); err != nil {
		return nil, fmt.Errorf("taskmesh: dial peers: %w", err)
	}

	switch {
	case cfg.Rank == controllerRank:
		return newCluster(cfg, mesh, reg, log), nil
	case cfg.Rank == monitorRank:
		runMonitor(ctx, mesh, log, reg)
		return nil, nil
	case cfg.Rank >= firstWorkerRank:
		runWorker(ctx, cfg, mesh, log, reg)
		return nil, nil
	default:
		return nil, ErrUnknownRank
	}
}

func newCluster(cfg config.Config, mesh *transport.Mesh, reg *prometheus.Registry, log *logging.Logger) *Cluster {
	refCountGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskmesh_gc_ref_counts",
		Help: "Live reference count per DataID.",
	}, []string{"id"})
	batchSizeHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "taskmesh_gc_batch_size",
		Help: "Size of an owner's CLEANUP batch after each append.",
	})
	reg.MustRegister(refCountGauge, batchSizeHist)

	gcoll := gc.New(cfg.GCMaxBatchSize, func(owner uint32, batch []id.BaseID) {
		if err := mesh.Send(context.Background(), owner, wire.Envelope{Op: wire.OpCleanup, IDs: batch}, nil); err != nil {
			log.Errorf("flush cleanup batch to rank %d: %v", owner, err)
		}
	}, refCountGauge, batchSizeHist)
	ctrl := controller.New(cfg, mesh, gcoll, log)

	c := &Cluster{ctrl: ctrl, mesh: mesh, reg: reg}
	c.registerSignalHandlers()
	return c
}

// registerSignalHandlers arranges for SIGINT/SIGTERM to trigger a
// best-effort Shutdown exactly once (spec §6 "termination on
// SIGINT/SIGTERM -> CANCEL fanout, async drain, transport finalize"),
// the same deterministic-once shape as the teacher's
// lifecycleCoordinator.Close.
func (c *Cluster) registerSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		_ = c.Shutdown(context.Background())
	}()
}

func runMonitor(ctx context.Context, mesh *transport.Mesh, log *logging.Logger, reg *prometheus.Registry) {
	taskCounterGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskmesh_task_counter",
		Help: "Outstanding submitted-but-not-done task count.",
	})
	reg.MustRegister(taskCounterGauge)

	log.Infof("monitor rank starting")
	monitor.New(mesh, log, taskCounterGauge).Run(ctx)
	log.Infof("monitor rank exiting")
}

func runWorker(ctx context.Context, cfg config.Config, mesh *transport.Mesh, log *logging.Logger, reg *prometheus.Registry) {
	pendingDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "taskmesh_pending_requests",
		Help:        "Deferred GET/WAIT requests awaiting local data.",
		ConstLabels: prometheus.Labels{"rank": fmt.Sprint(cfg.Rank)},
	})
	duplicateGets := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "taskmesh_duplicate_get_suppressed_total",
		Help:        "GETs suppressed because one was already in flight for the same id.",
		ConstLabels: prometheus.Labels{"rank": fmt.Sprint(cfg.Rank)},
	})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "taskmesh_inflight_tasks",
		Help:        "Tasks currently executing on this worker.",
		ConstLabels: prometheus.Labels{"rank": fmt.Sprint(cfg.Rank)},
	})
	reg.MustRegister(pendingDepth, duplicateGets, inflight)

	reqs := reqstore.New(pendingDepth, duplicateGets)
	log.Infof("worker rank starting")
	worker.New(cfg.Rank, mesh, reqs, log, inflight).Run(ctx)
	log.Infof("worker rank exiting")
}

// Metrics returns the Prometheus gatherer backing this rank's
// instruments, for a caller to expose over HTTP via promhttp.
func (c *Cluster) Metrics() prometheus.Gatherer { return c.reg }
