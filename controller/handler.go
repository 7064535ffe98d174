package controller

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
)

// Handler knows how to handle the received resources from a kubernetes cluster.
type Handler interface {
	// Add is called when a resource is present in the cluster (first list,
	// watch add/update events and periodic resyncs).
	Add(ctx context.Context, obj runtime.Object) error
	// Delete is called when a resource is no longer in the cluster. It only
	// receives the object key (`[namespace/]name`), the object itself is
	// already gone from the cache.
	Delete(ctx context.Context, key string) error
}

// AddFunc knows how to handle resource adds.
type AddFunc func(ctx context.Context, obj runtime.Object) error

// DeleteFunc knows how to handle resource deletes.
type DeleteFunc func(ctx context.Context, key string) error

// HandlerFunc is a handler that is created from functions that the
// Handler interface requires.
type HandlerFunc struct {
	AddFunc    AddFunc
	DeleteFunc DeleteFunc
}

// Add satisfies Handler interface.
func (h *HandlerFunc) Add(ctx context.Context, obj runtime.Object) error {
	if h.AddFunc == nil {
		return fmt.Errorf("function can't be nil")
	}
	return h.AddFunc(ctx, obj)
}

// Delete satisfies Handler interface.
func (h *HandlerFunc) Delete(ctx context.Context, key string) error {
	if h.DeleteFunc == nil {
		return fmt.Errorf("function can't be nil")
	}
	return h.DeleteFunc(ctx, key)
}
