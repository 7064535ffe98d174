package controller

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"
)

// processor knows how to process object keys.
type processor interface {
	Process(ctx context.Context, key string) error
}

// processorFunc is a helper to create processors from functions.
type processorFunc func(ctx context.Context, key string) error

func (p processorFunc) Process(ctx context.Context, key string) error { return p(ctx, key) }

// newIndexerProcessor returns a processor that gets the Kubernetes object
// from a cache called indexer, where the Kubernetes watch updates have been
// indexed and stored by the informer, and delegates to the handler.
func newIndexerProcessor(indexer cache.Indexer, handler Handler) processor {
	return processorFunc(func(ctx context.Context, key string) error {
		// Get the object.
		obj, exists, err := indexer.GetByKey(key)
		if err != nil {
			return err
		}

		if !exists { // Deleted resource from the cache.
			return handler.Delete(ctx, key)
		}

		return handler.Add(ctx, obj.(runtime.Object))
	})
}

var errRequeued = fmt.Errorf("requeued after receiving error")

// newRetryProcessor returns a processor that will delegate the processing of
// a key to the received processor, and in case the handling of the key fails
// it will requeue the key if it has retries pending.
//
// If the processing errored and has been requeued, it returns an error that
// matches `errRequeued`. The requeue itself is measured by the queue.
func newRetryProcessor(maxRetries int, queue blockingQueue, next processor) processor {
	return processorFunc(func(ctx context.Context, key string) error {
		err := next.Process(ctx, key)

		// If there was an error and we have retries pending then requeue.
		if err != nil && queue.NumRequeues(key) < maxRetries {
			queue.AddRateLimited(ctx, key)
			return fmt.Errorf("%w: %v", errRequeued, err)
		}

		queue.Forget(key)
		return err
	})
}

// newMetricsProcessor returns a processor that measures the processing
// duration and result of the delegated processor.
func newMetricsProcessor(name string, mrec MetricsRecorder, next processor) processor {
	return processorFunc(func(ctx context.Context, key string) (err error) {
		defer func(start time.Time) {
			mrec.ObserveResourceProcessingDuration(ctx, name, err == nil, start)
		}(time.Now())

		return next.Process(ctx, key)
	})
}
