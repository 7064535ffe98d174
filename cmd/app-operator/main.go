package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	apiextensionscli "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/cneura-ai/app-operator/client/crd"
	"github.com/cneura-ai/app-operator/controller/leaderelection"
	"github.com/cneura-ai/app-operator/defaulting"
	"github.com/cneura-ai/app-operator/log"
	apploggerlogrus "github.com/cneura-ai/app-operator/log/logrus"
	appprometheus "github.com/cneura-ai/app-operator/metrics/prometheus"
	"github.com/cneura-ai/app-operator/operator"
)

const (
	crdWaitTimeout = 30 * time.Second
)

type config struct {
	Kind    string
	Plural  string
	Group   string
	Version string

	Namespace      string
	ResyncInterval time.Duration
	Workers        int

	DefaultsDir string

	MetricsAddr string

	LeaderElection          bool
	LeaderElectionNamespace string

	EnsureCRD bool

	KubeConfig string
	EnvFile    string
	Debug      bool
}

// fromEnv fills the custom resource coordinates from the OPERATOR_*
// environment when the flags don't set them, matching the container
// deployment contract.
func (c *config) fromEnv() {
	if c.EnvFile != "" {
		// Missing env files are fine, the environment may be set directly.
		_ = godotenv.Load(c.EnvFile)
	}

	envOr := func(current *string, key string) {
		if *current == "" {
			*current = os.Getenv(key)
		}
	}

	envOr(&c.Kind, "OPERATOR_KIND")
	envOr(&c.Plural, "OPERATOR_PLURAL")
	envOr(&c.Group, "OPERATOR_GROUP")
	envOr(&c.Version, "OPERATOR_VERSION")
	envOr(&c.Namespace, "OPERATOR_NAMESPACE")
}

func rootCmd() *cobra.Command {
	cfg := &config{}

	cmd := &cobra.Command{
		Use:           "app-operator",
		Short:         "Kubernetes operator that converges application child resources from a configurable custom resource",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.fromEnv()
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Kind, "kind", "", "kind of the watched custom resource (or OPERATOR_KIND)")
	flags.StringVar(&cfg.Plural, "plural", "", "plural name of the watched custom resource (or OPERATOR_PLURAL)")
	flags.StringVar(&cfg.Group, "group", "", "API group of the watched custom resource (or OPERATOR_GROUP)")
	flags.StringVar(&cfg.Version, "version", "", "API version of the watched custom resource (or OPERATOR_VERSION)")
	flags.StringVar(&cfg.Namespace, "namespace", "", "namespace to watch, empty means all namespaces")
	flags.DurationVar(&cfg.ResyncInterval, "resync-interval", 60*time.Second, "periodic reconciliation interval")
	flags.IntVar(&cfg.Workers, "workers", 3, "number of concurrent reconciliation workers")
	flags.StringVar(&cfg.DefaultsDir, "defaults-dir", "", "directory with per-kind defaults manifests")
	flags.StringVar(&cfg.MetricsAddr, "metrics-listen-addr", ":8080", "listen address of the metrics endpoint")
	flags.BoolVar(&cfg.LeaderElection, "leader-election", false, "enable leader election")
	flags.StringVar(&cfg.LeaderElectionNamespace, "leader-election-namespace", "default", "namespace of the leader election lock")
	flags.BoolVar(&cfg.EnsureCRD, "ensure-crd", true, "create the CRD when missing before starting")
	flags.StringVar(&cfg.KubeConfig, "kubeconfig", "", "path to a kubeconfig, only used when out of cluster")
	flags.StringVar(&cfg.EnvFile, "env-file", "", "optional .env file with OPERATOR_* settings")
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, cfg *config) error {
	// Initialize logger.
	logrusLog := logrus.New()
	if cfg.Debug {
		logrusLog.SetLevel(logrus.DebugLevel)
	}
	logger := apploggerlogrus.New(logrus.NewEntry(logrusLog)).
		WithKV(log.KV{"operator": "app-operator"})

	// Get Kubernetes clients.
	k8scfg, err := loadKubernetesConfig(cfg.KubeConfig)
	if err != nil {
		return fmt.Errorf("error loading kubernetes configuration: %w", err)
	}
	kubeCli, err := kubernetes.NewForConfig(k8scfg)
	if err != nil {
		return fmt.Errorf("error creating kubernetes client: %w", err)
	}
	dynCli, err := dynamic.NewForConfig(k8scfg)
	if err != nil {
		return fmt.Errorf("error creating kubernetes dynamic client: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop everything on the usual termination signals.
	go func() {
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)
		select {
		case s := <-sigC:
			logger.Infof("signal %s received, stopping", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	crdConf := crd.Conf{
		Kind:       cfg.Kind,
		NamePlural: cfg.Plural,
		Group:      cfg.Group,
		Version:    cfg.Version,
		Scope:      crd.NamespaceScoped,
	}

	// Make sure the watched CRD exists before watching it.
	if cfg.EnsureCRD {
		aeCli, err := apiextensionscli.NewForConfig(k8scfg)
		if err != nil {
			return fmt.Errorf("error creating apiextensions client: %w", err)
		}
		crdCli := crd.NewClient(aeCli, logger)
		if err := crdCli.EnsurePresent(ctx, crdConf); err != nil {
			return fmt.Errorf("error ensuring crd: %w", err)
		}
		if err := crdCli.WaitToBePresent(ctx, crdConf, crdWaitTimeout); err != nil {
			return fmt.Errorf("error waiting for crd to be established: %w", err)
		}
	}

	// Serve metrics in the background.
	promReg := prometheus.NewRegistry()
	metricsRec := appprometheus.New(appprometheus.Config{Registerer: promReg})
	go serveMetrics(ctx, cfg.MetricsAddr, promReg, logger)

	// Leader election.
	var leaderElector leaderelection.Runner
	if cfg.LeaderElection {
		key := fmt.Sprintf("app-operator-%s", cfg.Plural)
		leaderElector, err = leaderelection.New(key, cfg.LeaderElectionNamespace, kubeCli, logger)
		if err != nil {
			return fmt.Errorf("error creating leader elector: %w", err)
		}
	}

	// Defaults pipeline.
	defaulter := defaulting.Defaulter(defaulting.Noop)
	if cfg.DefaultsDir != "" {
		defaulter = defaulting.NewFileDefaulter(cfg.DefaultsDir, logger)
	}

	op, err := operator.New(operator.Config{
		Kind:              cfg.Kind,
		Plural:            cfg.Plural,
		Group:             cfg.Group,
		Version:           cfg.Version,
		Namespace:         cfg.Namespace,
		ResyncInterval:    cfg.ResyncInterval,
		ConcurrentWorkers: cfg.Workers,
		Defaulter:         defaulter,
		LeaderElector:     leaderElector,
		MetricsRecorder:   metricsRec,
	}, kubeCli, dynCli, logger)
	if err != nil {
		return fmt.Errorf("error creating operator: %w", err)
	}

	logger.WithKV(log.KV{
		"kind": cfg.Kind, "plural": cfg.Plural,
		"group": cfg.Group, "version": cfg.Version,
	}).Infof("starting operator")

	return op.Run(ctx)
}

// loadKubernetesConfig loads kubernetes configuration based on the flags,
// trying in-cluster first and falling back to kubeconfig files.
func loadKubernetesConfig(kubeConfigPath string) (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}

	if kubeConfigPath == "" {
		kubeConfigPath = filepath.Join(homedir.HomeDir(), ".kube", "config")
	}

	return clientcmd.BuildConfigFromFlags("", kubeConfigPath)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("serving metrics at %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("metrics server error: %s", err)
	}
}

func main() {
	cmd := rootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error running app-operator: %s\n", err)
		os.Exit(1)
	}

	os.Exit(0)
}
