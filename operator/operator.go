// Package operator assembles the application operator: a controller watching
// the configured custom resource with a handler that converges the
// application children.
package operator

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/cneura-ai/app-operator/controller"
	"github.com/cneura-ai/app-operator/controller/leaderelection"
	"github.com/cneura-ai/app-operator/defaulting"
	"github.com/cneura-ai/app-operator/log"
	"github.com/cneura-ai/app-operator/service"
)

const defResyncInterval = 60 * time.Second

// Config is the operator configuration.
type Config struct {
	// Kind, Plural, Group and Version are the coordinates of the custom
	// resource the operator will watch.
	Kind    string
	Plural  string
	Group   string
	Version string

	// Namespace limits the watch to one namespace, empty means all.
	Namespace string

	// ResyncInterval is the period of the full reconciliation of all the
	// custom resources.
	ResyncInterval time.Duration
	// ConcurrentWorkers is the number of workers converging applications.
	ConcurrentWorkers int

	// Defaulter applies the per-kind runtime defaults, defaults to none.
	Defaulter defaulting.Defaulter
	// LeaderElector enables active/standby instances when set.
	LeaderElector leaderelection.Runner
	// MetricsRecorder records the controller metrics.
	MetricsRecorder controller.MetricsRecorder
}

func (c *Config) setDefaults() error {
	if c.Kind == "" || c.Plural == "" || c.Group == "" || c.Version == "" {
		return fmt.Errorf("the custom resource kind, plural, group and version are required")
	}

	if c.ResyncInterval <= 0 {
		c.ResyncInterval = defResyncInterval
	}

	if c.Defaulter == nil {
		c.Defaulter = defaulting.Noop
	}

	return nil
}

// GVR returns the group version resource of the watched custom resource.
func (c Config) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    c.Group,
		Version:  c.Version,
		Resource: c.Plural,
	}
}

// Finalizer returns the finalizer the operator sets on the watched custom
// resources to guarantee children cleanup.
func (c Config) Finalizer() string {
	return fmt.Sprintf("operator.%s/cleanup", c.Group)
}

// New returns the application operator as a runnable controller.
func New(cfg Config, kubeCli kubernetes.Interface, dynCli dynamic.Interface, logger log.Logger) (controller.Controller, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("could not create operator: %w", err)
	}

	appSvc := service.NewApp(kubeCli, logger)

	return controller.New(&controller.Config{
		Name:              fmt.Sprintf("%s-operator", strings.ToLower(cfg.Kind)),
		Handler:           newHandler(cfg, dynCli, appSvc, cfg.Defaulter, logger),
		Retriever:         newRetriever(cfg.GVR(), cfg.Namespace, dynCli),
		LeaderElector:     cfg.LeaderElector,
		MetricsRecorder:   cfg.MetricsRecorder,
		Logger:            logger,
		ConcurrentWorkers: cfg.ConcurrentWorkers,
		ResyncInterval:    cfg.ResyncInterval,
	})
}
