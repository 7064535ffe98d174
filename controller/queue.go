package controller

import (
	"context"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"
)

// blockingQueue is a queue that blocks on Get until there is an item
// available or the queue is shut down.
type blockingQueue interface {
	Add(ctx context.Context, key string)
	AddRateLimited(ctx context.Context, key string)
	Get(ctx context.Context) (key string, shutDown bool)
	Done(ctx context.Context, key string)
	NumRequeues(key string) int
	Forget(key string)
	ShutDown()
}

// rateLimitingBlockingQueue wraps a client-go rate limiting workqueue and
// measures how long the items stay queued.
type rateLimitingBlockingQueue struct {
	name     string
	mrec     MetricsRecorder
	queue    workqueue.RateLimitingInterface
	queuedAt sync.Map
}

func newRateLimitingBlockingQueue(name string, mrec MetricsRecorder, queue workqueue.RateLimitingInterface) blockingQueue {
	return &rateLimitingBlockingQueue{
		name:  name,
		mrec:  mrec,
		queue: queue,
	}
}

func (r *rateLimitingBlockingQueue) Add(ctx context.Context, key string) {
	r.markQueued(key)
	r.mrec.IncResourceEventQueued(ctx, r.name, false)
	r.queue.Add(key)
}

func (r *rateLimitingBlockingQueue) AddRateLimited(ctx context.Context, key string) {
	r.markQueued(key)
	r.mrec.IncResourceEventQueued(ctx, r.name, true)
	r.queue.AddRateLimited(key)
}

func (r *rateLimitingBlockingQueue) Get(ctx context.Context) (string, bool) {
	item, shutDown := r.queue.Get()
	if shutDown {
		return "", true
	}

	key := item.(string)
	if t, ok := r.queuedAt.LoadAndDelete(key); ok {
		r.mrec.ObserveResourceInQueueDuration(ctx, r.name, t.(time.Time))
	}

	return key, false
}

func (r *rateLimitingBlockingQueue) Done(_ context.Context, key string) { r.queue.Done(key) }
func (r *rateLimitingBlockingQueue) NumRequeues(key string) int         { return r.queue.NumRequeues(key) }
func (r *rateLimitingBlockingQueue) Forget(key string)                  { r.queue.Forget(key) }
func (r *rateLimitingBlockingQueue) ShutDown()                          { r.queue.ShutDown() }

// markQueued stores the queued timestamp if the item is not already waiting
// in the queue, the workqueue deduplicates items so we measure since the
// first enqueue.
func (r *rateLimitingBlockingQueue) markQueued(key string) {
	r.queuedAt.LoadOrStore(key, time.Now())
}
