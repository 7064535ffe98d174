package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cneura-ai/app-operator/controller/leaderelection"
	"github.com/cneura-ai/app-operator/log"
)

// Defaults.
const (
	defResyncInterval       = 3 * time.Minute
	defConcurrentWorkers    = 3
	defProcessingJobRetries = 3
)

// Controller is the interface that all the controllers of the operator
// must satisfy. Run will block until the received context is done.
type Controller interface {
	Run(ctx context.Context) error
}

// Config is the controller configuration.
type Config struct {
	// Handler is the controller handler.
	Handler Handler
	// Retriever is the controller retriever.
	Retriever Retriever
	// LeaderElector will be used to run only one active instance. If not
	// set, leader election is disabled.
	LeaderElector leaderelection.Runner
	// MetricsRecorder will record the controller metrics.
	MetricsRecorder MetricsRecorder
	// Logger will log messages of the controller.
	Logger log.Logger

	// Name of the controller.
	Name string
	// ConcurrentWorkers is the number of concurrent workers the controller
	// will have running processing events.
	ConcurrentWorkers int
	// ResyncInterval is the interval the controller will process all the
	// selected resources.
	ResyncInterval time.Duration
	// ProcessingJobRetries is the number of times a job will be retried
	// before giving up and dropping the event.
	ProcessingJobRetries int
}

func (c *Config) setDefaults() error {
	if c.Name == "" {
		return fmt.Errorf("a controller name is required")
	}

	if c.Handler == nil {
		return fmt.Errorf("a handler is required")
	}

	if c.Retriever == nil {
		return fmt.Errorf("a retriever is required")
	}

	if c.Logger == nil {
		c.Logger = log.Dummy
	}
	c.Logger = c.Logger.WithKV(log.KV{"service": "controller", "controller-id": c.Name})

	if c.MetricsRecorder == nil {
		c.MetricsRecorder = DummyMetricsRecorder
		c.Logger.Warningf("no metrics recorder specified, disabling metrics")
	}

	if c.ConcurrentWorkers <= 0 {
		c.ConcurrentWorkers = defConcurrentWorkers
	}

	if c.ResyncInterval <= 0 {
		c.ResyncInterval = defResyncInterval
	}

	if c.ProcessingJobRetries <= 0 {
		c.ProcessingJobRetries = defProcessingJobRetries
	}

	return nil
}
