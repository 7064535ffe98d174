package controller

import (
	"context"
	"time"
)

// MetricsRecorder knows how to record metrics of a controller.
type MetricsRecorder interface {
	// IncResourceEventQueued increments in one the metric records of a queued event.
	IncResourceEventQueued(ctx context.Context, controller string, isRequeue bool)
	// ObserveResourceInQueueDuration measures how long it takes to dequeue a
	// queued object, since the first time it was added to the queue.
	ObserveResourceInQueueDuration(ctx context.Context, controller string, queuedAt time.Time)
	// ObserveResourceProcessingDuration measures how long it takes to process
	// a resource (handling).
	ObserveResourceProcessingDuration(ctx context.Context, controller string, success bool, startProcessingAt time.Time)
}

// DummyMetricsRecorder is a dummy metrics recorder.
var DummyMetricsRecorder = dummyMetricsRecorder(0)

type dummyMetricsRecorder int

func (dummyMetricsRecorder) IncResourceEventQueued(context.Context, string, bool) {}
func (dummyMetricsRecorder) ObserveResourceInQueueDuration(context.Context, string, time.Time) {
}
func (dummyMetricsRecorder) ObserveResourceProcessingDuration(context.Context, string, bool, time.Time) {
}
