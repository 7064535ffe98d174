package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/cneura-ai/app-operator/log"
)

// ErrControllerNotValid will be used when the controller has an invalid configuration.
var ErrControllerNotValid = errors.New("controller not valid")

// generic controller is a controller that can be used to create different
// kinds of controllers.
type generic struct {
	queue     blockingQueue             // queue will have the jobs that the controller will get and send to handlers.
	informer  cache.SharedIndexInformer // informer will notify us about resource changes.
	processor processor                 // processor will call the user handler (logic).
	running   bool
	runningMu sync.Mutex
	cfg       Config
	metrics   MetricsRecorder
	logger    log.Logger
}

// New creates a new controller that can be configured using the cfg parameter.
func New(cfg *Config) (Controller, error) {
	// Sets the required default configuration.
	err := cfg.setDefaults()
	if err != nil {
		return nil, fmt.Errorf("could not create controller: %w: %v", ErrControllerNotValid, err)
	}

	// Create the queue that will have our received job changes. It's rate
	// limited so we don't have problems when a job processing errors every
	// time it is processed in a loop.
	queue := newRateLimitingBlockingQueue(
		cfg.Name,
		cfg.MetricsRecorder,
		workqueue.NewRateLimitingQueue(workqueue.DefaultControllerRateLimiter()),
	)

	// store is the internal cache where objects will be stored.
	store := cache.Indexers{}
	informer := cache.NewSharedIndexInformer(&cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return cfg.Retriever.List(context.TODO(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return cfg.Retriever.Watch(context.TODO(), options)
		},
	}, nil, cfg.ResyncInterval, store)

	// Objects are already in our local store. Add only keys/jobs on the queue
	// so they can be processed afterwards.
	informer.AddEventHandlerWithResyncPeriod(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			key, err := cache.MetaNamespaceKeyFunc(obj)
			if err == nil {
				queue.Add(context.TODO(), key)
			}
		},
		UpdateFunc: func(old interface{}, new interface{}) {
			key, err := cache.MetaNamespaceKeyFunc(new)
			if err == nil {
				queue.Add(context.TODO(), key)
			}
		},
		DeleteFunc: func(obj interface{}) {
			key, err := cache.DeletionHandlingMetaNamespaceKeyFunc(obj)
			if err == nil {
				queue.Add(context.TODO(), key)
			}
		},
	}, cfg.ResyncInterval)

	// Processing pipeline: get from cache, handle, retry on error.
	processor := newIndexerProcessor(informer.GetIndexer(), cfg.Handler)
	if cfg.ProcessingJobRetries > 0 {
		processor = newRetryProcessor(cfg.ProcessingJobRetries, queue, processor)
	}
	processor = newMetricsProcessor(cfg.Name, cfg.MetricsRecorder, processor)

	// Create our generic controller object.
	return &generic{
		queue:     queue,
		informer:  informer,
		processor: processor,
		logger:    cfg.Logger,
		metrics:   cfg.MetricsRecorder,
		cfg:       *cfg,
	}, nil
}

func (g *generic) isRunning() bool {
	g.runningMu.Lock()
	defer g.runningMu.Unlock()
	return g.running
}

func (g *generic) setRunning(running bool) {
	g.runningMu.Lock()
	defer g.runningMu.Unlock()
	g.running = running
}

// Run will run the controller.
func (g *generic) Run(ctx context.Context) error {
	// Check if leader election is required.
	if g.cfg.LeaderElector != nil {
		return g.cfg.LeaderElector.Run(func() error {
			return g.run(ctx)
		})
	}

	return g.run(ctx)
}

// run is the real run of the controller.
func (g *generic) run(ctx context.Context) error {
	if g.isRunning() {
		return fmt.Errorf("controller already running")
	}

	g.logger.Infof("starting controller")
	g.setRunning(true)
	defer g.setRunning(false)

	// Shut down when Run is stopped so we can process the last items and the
	// queue doesn't accept more jobs.
	defer g.queue.ShutDown()

	// Run the informer so it starts listening to resource events.
	go g.informer.Run(ctx.Done())

	// Wait until our store, jobs... stuff is synced (first list on resource,
	// resources on store and jobs on queue).
	if !cache.WaitForCacheSync(ctx.Done(), g.informer.HasSynced) {
		return fmt.Errorf("timed out waiting for caches to sync")
	}

	// Start our resource processing workers, if one finishes restart the
	// worker, workers should not end.
	for i := 0; i < g.cfg.ConcurrentWorkers; i++ {
		go func() {
			wait.Until(func() { g.runWorker(ctx) }, time.Second, ctx.Done())
		}()
	}

	// Until will be running our workers in a continuous way (and rerun if
	// they fail). But when stop signal is received we must stop.
	<-ctx.Done()
	g.logger.Infof("stopping controller")

	return nil
}

// runWorker will start a processing loop on the event queue.
func (g *generic) runWorker(ctx context.Context) {
	for {
		// Process next queue job, if it needs to stop processing it will return true.
		if g.getAndProcessNextJob(ctx) {
			break
		}
	}
}

// getAndProcessNextJob will process the next job of the queue and return if
// the worker needs to stop processing.
func (g *generic) getAndProcessNextJob(ctx context.Context) bool {
	// Get next job.
	key, exit := g.queue.Get(ctx)
	if exit {
		return true
	}
	defer g.queue.Done(ctx, key)

	// Process the job. If it errors and has been requeued the error is
	// already handled by the processing pipeline.
	err := g.processor.Process(ctx, key)
	switch {
	case err == nil:
		g.logger.WithKV(log.KV{"object-key": key}).Debugf("object processed")
	case errors.Is(err, errRequeued):
		g.logger.WithKV(log.KV{"object-key": key}).Warningf("error on object processing, retrying: %v", err)
	default:
		g.logger.WithKV(log.KV{"object-key": key}).Errorf("error on object processing: %v", err)
	}

	return false
}
