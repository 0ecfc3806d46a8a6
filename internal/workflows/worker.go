package workflows

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
)

// Worker hosts the sweep workflow and its activities on the configured
// task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *zap.Logger
	queue  string
}

// NewWorker dials the Temporal server and registers the sweep workflow
// and activities.
func NewWorker(cfg config.WorkflowsConfig, activities *Activities, logger *zap.Logger) (*Worker, error) {
	if activities == nil {
		return nil, fmt.Errorf("activities are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(AuditSweepWorkflow)
	w.RegisterActivity(activities)

	logger.Info("temporal worker configured",
		zap.String("host", cfg.HostPort),
		zap.String("namespace", cfg.Namespace),
		zap.String("task_queue", cfg.TaskQueue))

	return &Worker{client: c, worker: w, logger: logger, queue: cfg.TaskQueue}, nil
}

// Start launches the worker in the background.
func (w *Worker) Start() error {
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("worker start failed: %w", err)
	}

	w.logger.Info("temporal worker started", zap.String("task_queue", w.queue))
	return nil
}

// Stop drains the worker and closes the Temporal client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
