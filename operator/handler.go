package operator

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	appv1alpha1 "github.com/cneura-ai/app-operator/apis/app/v1alpha1"
	"github.com/cneura-ai/app-operator/controller"
	"github.com/cneura-ai/app-operator/defaulting"
	"github.com/cneura-ai/app-operator/log"
	"github.com/cneura-ai/app-operator/service"
)

// handler converges a single custom resource: finalizer lifecycle, runtime
// defaults, children sync and status reporting.
type handler struct {
	kind      string
	finalizer string
	gvr       schema.GroupVersionResource
	dynCli    dynamic.Interface
	syncer    service.AppSyncer
	defaulter defaulting.Defaulter
	logger    log.Logger
}

func newHandler(cfg Config, dynCli dynamic.Interface, syncer service.AppSyncer, defaulter defaulting.Defaulter, logger log.Logger) controller.Handler {
	return &handler{
		kind:      cfg.Kind,
		finalizer: cfg.Finalizer(),
		gvr:       cfg.GVR(),
		dynCli:    dynCli,
		syncer:    syncer,
		defaulter: defaulter,
		logger:    logger.WithKV(log.KV{"service": "handler", "kind": cfg.Kind}),
	}
}

// Add satisfies controller.Handler interface.
func (h *handler) Add(ctx context.Context, obj runtime.Object) error {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return fmt.Errorf("%v is not an unstructured custom resource", obj.GetObjectKind())
	}

	app, rawSpec, err := appv1alpha1.NewAppFromUnstructured(u)
	if err != nil {
		return fmt.Errorf("could not decode %s object: %w", h.kind, err)
	}

	logger := h.logger.WithKV(log.KV{"app": app.Name, "namespace": app.Namespace})

	switch {
	// The resource is being deleted and our cleanup is pending: remove the
	// children and then release the finalizer.
	case app.DeletionInProgress && h.hasFinalizer(app):
		logger.Infof("handling application deletion")
		h.setStatus(ctx, app, appv1alpha1.AppStatus{
			Phase:              appv1alpha1.PhaseDeleting,
			Message:            "deleting application children",
			ObservedGeneration: app.Generation,
			LastSyncTime:       time.Now().UTC().Format(time.RFC3339),
		})
		if err := h.syncer.DeleteApp(ctx, app.Namespace, app.Name); err != nil {
			return fmt.Errorf("could not delete application children: %w", err)
		}
		if err := h.removeFinalizer(ctx, app); err != nil {
			return fmt.Errorf("could not remove finalizer: %w", err)
		}
		return nil

	// Deletion already handled, nothing to do.
	case app.DeletionInProgress:
		logger.Debugf("application deletion already handled, skipping")
		return nil

	// First time we see the resource: set the finalizer so deletions always
	// go through the cleanup path.
	case !h.hasFinalizer(app):
		if err := h.addFinalizer(ctx, app); err != nil {
			return fmt.Errorf("could not add finalizer: %w", err)
		}
	}

	// Apply the per-kind runtime defaults and decode the final spec.
	defaulted, err := h.defaulter.Apply(h.kind, app.Name, app.Namespace, rawSpec)
	if err != nil {
		return fmt.Errorf("could not apply %s defaults: %w", h.kind, err)
	}
	spec, err := appv1alpha1.DecodeSpec(defaulted)
	if err != nil {
		h.setStatus(ctx, app, appv1alpha1.AppStatus{
			Phase:              appv1alpha1.PhaseFailed,
			Message:            fmt.Sprintf("invalid spec: %v", err),
			ObservedGeneration: app.Generation,
			LastSyncTime:       time.Now().UTC().Format(time.RFC3339),
		})
		return fmt.Errorf("could not decode %s spec: %w", h.kind, err)
	}
	app.Spec = *spec

	changed, err := h.syncer.SyncApp(ctx, app)
	if err != nil {
		h.setStatus(ctx, app, appv1alpha1.AppStatus{
			Phase:              appv1alpha1.PhaseFailed,
			Message:            fmt.Sprintf("sync failed: %v", err),
			ObservedGeneration: app.Generation,
			LastSyncTime:       time.Now().UTC().Format(time.RFC3339),
		})
		return fmt.Errorf("could not sync application: %w", err)
	}

	status := appv1alpha1.AppStatus{
		Phase:              appv1alpha1.PhaseRunning,
		Message:            "application children up to date",
		ObservedGeneration: app.Generation,
		LastSyncTime:       time.Now().UTC().Format(time.RFC3339),
	}
	if changed {
		status.Phase = appv1alpha1.PhaseProgressing
		status.Message = "application children converged"
	}
	h.setStatus(ctx, app, status)

	return nil
}

// Delete satisfies controller.Handler interface. Children cleanup happens on
// the finalizer path before the resource disappears, and the owner
// references cover the operator-was-down case, so there is nothing left to
// do here.
func (h *handler) Delete(_ context.Context, key string) error {
	h.logger.WithKV(log.KV{"object-key": key}).Debugf("resource removed from cache")
	return nil
}

func (h *handler) hasFinalizer(app *appv1alpha1.App) bool {
	for _, f := range app.Finalizers {
		if f == h.finalizer {
			return true
		}
	}
	return false
}

func (h *handler) addFinalizer(ctx context.Context, app *appv1alpha1.App) error {
	return h.updateFinalizers(ctx, app, append(app.Finalizers, h.finalizer))
}

func (h *handler) removeFinalizer(ctx context.Context, app *appv1alpha1.App) error {
	finalizers := make([]string, 0, len(app.Finalizers))
	for _, f := range app.Finalizers {
		if f != h.finalizer {
			finalizers = append(finalizers, f)
		}
	}
	return h.updateFinalizers(ctx, app, finalizers)
}

func (h *handler) updateFinalizers(ctx context.Context, app *appv1alpha1.App, finalizers []string) error {
	cli := h.dynCli.Resource(h.gvr).Namespace(app.Namespace)

	// Work on a fresh copy, the cached object may be stale.
	current, err := cli.Get(ctx, app.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	current.SetFinalizers(finalizers)
	_, err = cli.Update(ctx, current, metav1.UpdateOptions{})
	return err
}

// setStatus reports the observed state on the custom resource status
// subresource. Status updates are best effort: a conflict or a vanished
// resource must not fail the reconciliation itself.
func (h *handler) setStatus(ctx context.Context, app *appv1alpha1.App, status appv1alpha1.AppStatus) {
	cli := h.dynCli.Resource(h.gvr).Namespace(app.Namespace)

	current, err := cli.Get(ctx, app.Name, metav1.GetOptions{})
	if err != nil {
		h.logger.Warningf("could not get %s to update status: %v", app.Name, err)
		return
	}

	statusMap := map[string]interface{}{
		"phase":              string(status.Phase),
		"message":            status.Message,
		"observedGeneration": status.ObservedGeneration,
		"lastSyncTime":       status.LastSyncTime,
	}
	if err := unstructured.SetNestedMap(current.Object, statusMap, "status"); err != nil {
		h.logger.Warningf("could not set %s status fields: %v", app.Name, err)
		return
	}

	if _, err := cli.UpdateStatus(ctx, current, metav1.UpdateOptions{}); err != nil {
		h.logger.Warningf("could not update %s status: %v", app.Name, err)
	}
}
