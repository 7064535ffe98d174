// Package service implements the convergence of the application child
// resources toward the state described by the custom resource spec.
package service

import (
	"context"
	"fmt"
	"reflect"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/kubernetes"

	appv1alpha1 "github.com/cneura-ai/app-operator/apis/app/v1alpha1"
	"github.com/cneura-ai/app-operator/log"
	"github.com/cneura-ai/app-operator/resources"
)

// AppSyncer is the interface that the application convergence service
// implements.
type AppSyncer interface {
	// SyncApp ensures all the children of the application exist and match
	// the desired state. It returns whether anything was changed.
	SyncApp(ctx context.Context, app *appv1alpha1.App) (changed bool, err error)
	// DeleteApp removes every child the application could have created.
	DeleteApp(ctx context.Context, namespace, name string) error
}

// App is the service that converges application children using the
// Kubernetes API.
type App struct {
	kubeCli kubernetes.Interface
	logger  log.Logger
}

// NewApp returns a new application convergence service.
func NewApp(kubeCli kubernetes.Interface, logger log.Logger) *App {
	return &App{
		kubeCli: kubeCli,
		logger:  logger.WithKV(log.KV{"service": "app"}),
	}
}

// SyncApp satisfies AppSyncer interface.
func (s *App) SyncApp(ctx context.Context, app *appv1alpha1.App) (bool, error) {
	logger := s.logger.WithKV(log.KV{"app": app.Name, "namespace": app.Namespace})

	type syncFn func(ctx context.Context) (bool, error)
	var syncs []syncFn

	if app.Spec.Stateful != nil {
		syncs = append(syncs,
			func(ctx context.Context) (bool, error) { return s.syncStatefulSet(ctx, resources.StatefulSet(app)) },
			func(ctx context.Context) (bool, error) { return s.syncService(ctx, resources.Service(app, true)) },
		)
	} else {
		if app.Spec.PVC != nil {
			syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncPVC(ctx, resources.PVC(app)) })
		}
		syncs = append(syncs,
			func(ctx context.Context) (bool, error) { return s.syncDeployment(ctx, resources.Deployment(app)) },
			func(ctx context.Context) (bool, error) { return s.syncService(ctx, resources.Service(app, false)) },
		)
	}

	if app.Spec.ConfigMap != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncConfigMap(ctx, resources.ConfigMap(app)) })
	}
	if app.Spec.Secret != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncSecret(ctx, resources.Secret(app)) })
	}
	if app.Spec.Pod != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncPod(ctx, resources.Pod(app)) })
	}
	if app.Spec.Job != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncJob(ctx, resources.Job(app)) })
	}
	if app.Spec.CronJob != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncCronJob(ctx, resources.CronJob(app)) })
	}
	if app.Spec.Ingress != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncIngress(ctx, resources.Ingress(app)) })
	}
	if app.Spec.HPA != nil {
		syncs = append(syncs, func(ctx context.Context) (bool, error) { return s.syncHPA(ctx, resources.HPA(app)) })
	}

	changed := false
	for _, sync := range syncs {
		c, err := sync(ctx)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}

	if changed {
		logger.Infof("application children converged")
	} else {
		logger.Debugf("application children up to date")
	}

	return changed, nil
}

// DeleteApp satisfies AppSyncer interface. Every possible child is deleted
// best effort, missing ones are fine, other errors are aggregated.
func (s *App) DeleteApp(ctx context.Context, ns, name string) error {
	logger := s.logger.WithKV(log.KV{"app": name, "namespace": ns})
	logger.Infof("deleting application children")

	propagation := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &propagation}

	deletions := []struct {
		name   string
		delete func() error
	}{
		{resources.HPAName(name), func() error {
			return s.kubeCli.AutoscalingV1().HorizontalPodAutoscalers(ns).Delete(ctx, resources.HPAName(name), opts)
		}},
		{resources.IngressName(name), func() error {
			return s.kubeCli.NetworkingV1().Ingresses(ns).Delete(ctx, resources.IngressName(name), opts)
		}},
		{resources.CronJobName(name), func() error {
			return s.kubeCli.BatchV1().CronJobs(ns).Delete(ctx, resources.CronJobName(name), opts)
		}},
		{resources.JobName(name), func() error {
			return s.kubeCli.BatchV1().Jobs(ns).Delete(ctx, resources.JobName(name), opts)
		}},
		{resources.PodName(name), func() error {
			return s.kubeCli.CoreV1().Pods(ns).Delete(ctx, resources.PodName(name), opts)
		}},
		{resources.ServiceName(name), func() error {
			return s.kubeCli.CoreV1().Services(ns).Delete(ctx, resources.ServiceName(name), opts)
		}},
		{resources.DeploymentName(name), func() error {
			return s.kubeCli.AppsV1().Deployments(ns).Delete(ctx, resources.DeploymentName(name), opts)
		}},
		{resources.StatefulSetName(name), func() error {
			return s.kubeCli.AppsV1().StatefulSets(ns).Delete(ctx, resources.StatefulSetName(name), opts)
		}},
		{resources.PVCName(name), func() error {
			return s.kubeCli.CoreV1().PersistentVolumeClaims(ns).Delete(ctx, resources.PVCName(name), opts)
		}},
		{resources.SecretName(name), func() error {
			return s.kubeCli.CoreV1().Secrets(ns).Delete(ctx, resources.SecretName(name), opts)
		}},
		{resources.ConfigMapName(name), func() error {
			return s.kubeCli.CoreV1().ConfigMaps(ns).Delete(ctx, resources.ConfigMapName(name), opts)
		}},
	}

	var errs []error
	for _, d := range deletions {
		err := d.delete()
		switch {
		case err == nil:
			logger.Infof("deleted child %s", d.name)
		case apierrors.IsNotFound(err):
			// Already gone.
		default:
			errs = append(errs, fmt.Errorf("could not delete %s: %w", d.name, err))
		}
	}

	return utilerrors.NewAggregate(errs)
}

func (s *App) syncDeployment(ctx context.Context, desired *appsv1.Deployment) (bool, error) {
	current, err := s.kubeCli.AppsV1().Deployments(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.AppsV1().Deployments(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncDeployment(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get deployment %s: %w", desired.Name, err)
	}

	if !deploymentDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in deployment %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.AppsV1().Deployments(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update deployment %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncStatefulSet(ctx context.Context, desired *appsv1.StatefulSet) (bool, error) {
	current, err := s.kubeCli.AppsV1().StatefulSets(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.AppsV1().StatefulSets(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncStatefulSet(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get statefulset %s: %w", desired.Name, err)
	}

	if !statefulSetDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in statefulset %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	// Volume claim templates are immutable, keep the current ones.
	desired.Spec.VolumeClaimTemplates = current.Spec.VolumeClaimTemplates
	_, err = s.kubeCli.AppsV1().StatefulSets(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update statefulset %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncService(ctx context.Context, desired *corev1.Service) (bool, error) {
	current, err := s.kubeCli.CoreV1().Services(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.CoreV1().Services(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncService(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get service %s: %w", desired.Name, err)
	}

	if !serviceDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in service %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	// The cluster IP is allocated by the server and immutable.
	if desired.Spec.ClusterIP == "" {
		desired.Spec.ClusterIP = current.Spec.ClusterIP
	}
	_, err = s.kubeCli.CoreV1().Services(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update service %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncConfigMap(ctx context.Context, desired *corev1.ConfigMap) (bool, error) {
	current, err := s.kubeCli.CoreV1().ConfigMaps(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.CoreV1().ConfigMaps(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncConfigMap(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get configmap %s: %w", desired.Name, err)
	}

	if reflect.DeepEqual(current.Data, desired.Data) && !metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta) {
		return false, nil
	}

	s.logger.Debugf("drift detected in configmap %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.CoreV1().ConfigMaps(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update configmap %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncSecret(ctx context.Context, desired *corev1.Secret) (bool, error) {
	current, err := s.kubeCli.CoreV1().Secrets(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.CoreV1().Secrets(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncSecret(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get secret %s: %w", desired.Name, err)
	}

	if !secretDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in secret %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.CoreV1().Secrets(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update secret %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncPVC(ctx context.Context, desired *corev1.PersistentVolumeClaim) (bool, error) {
	current, err := s.kubeCli.CoreV1().PersistentVolumeClaims(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.CoreV1().PersistentVolumeClaims(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncPVC(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get pvc %s: %w", desired.Name, err)
	}

	// PVC specs are mostly immutable, only the metadata is converged.
	if !metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta) {
		return false, nil
	}

	s.logger.Debugf("drift detected in pvc %s metadata, updating", desired.Name)
	updated := current.DeepCopy()
	updated.Labels = mergedStringMap(updated.Labels, desired.Labels)
	updated.Annotations = mergedStringMap(updated.Annotations, desired.Annotations)
	_, err = s.kubeCli.CoreV1().PersistentVolumeClaims(desired.Namespace).Update(ctx, updated, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update pvc %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncPod(ctx context.Context, desired *corev1.Pod) (bool, error) {
	current, err := s.kubeCli.CoreV1().Pods(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.CoreV1().Pods(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncPod(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get pod %s: %w", desired.Name, err)
	}

	// Pod specs are immutable, only the metadata is converged.
	if !metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta) {
		return false, nil
	}

	s.logger.Debugf("drift detected in pod %s metadata, updating", desired.Name)
	updated := current.DeepCopy()
	updated.Labels = mergedStringMap(updated.Labels, desired.Labels)
	updated.Annotations = mergedStringMap(updated.Annotations, desired.Annotations)
	_, err = s.kubeCli.CoreV1().Pods(desired.Namespace).Update(ctx, updated, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update pod %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncJob(ctx context.Context, desired *batchv1.Job) (bool, error) {
	current, err := s.kubeCli.BatchV1().Jobs(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.BatchV1().Jobs(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncJob(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get job %s: %w", desired.Name, err)
	}

	// Job templates are immutable, only the metadata is converged.
	if !metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta) {
		return false, nil
	}

	s.logger.Debugf("drift detected in job %s metadata, updating", desired.Name)
	updated := current.DeepCopy()
	updated.Labels = mergedStringMap(updated.Labels, desired.Labels)
	updated.Annotations = mergedStringMap(updated.Annotations, desired.Annotations)
	_, err = s.kubeCli.BatchV1().Jobs(desired.Namespace).Update(ctx, updated, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update job %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncCronJob(ctx context.Context, desired *batchv1.CronJob) (bool, error) {
	current, err := s.kubeCli.BatchV1().CronJobs(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.BatchV1().CronJobs(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncCronJob(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get cronjob %s: %w", desired.Name, err)
	}

	if !cronJobDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in cronjob %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.BatchV1().CronJobs(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update cronjob %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncIngress(ctx context.Context, desired *networkingv1.Ingress) (bool, error) {
	current, err := s.kubeCli.NetworkingV1().Ingresses(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.NetworkingV1().Ingresses(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncIngress(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get ingress %s: %w", desired.Name, err)
	}

	if reflect.DeepEqual(current.Spec, desired.Spec) && !metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta) {
		return false, nil
	}

	s.logger.Debugf("drift detected in ingress %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.NetworkingV1().Ingresses(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update ingress %s: %w", desired.Name, err)
	}
	return true, nil
}

func (s *App) syncHPA(ctx context.Context, desired *autoscalingv1.HorizontalPodAutoscaler) (bool, error) {
	current, err := s.kubeCli.AutoscalingV1().HorizontalPodAutoscalers(desired.Namespace).Get(ctx, desired.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := s.create(ctx, desired.Name, func() error {
			_, err := s.kubeCli.AutoscalingV1().HorizontalPodAutoscalers(desired.Namespace).Create(ctx, desired, metav1.CreateOptions{})
			return err
		})
		if err != nil || created {
			return created, err
		}
		// Lost the creation race, converge over the existing child.
		return s.syncHPA(ctx, desired)
	}
	if err != nil {
		return false, fmt.Errorf("could not get hpa %s: %w", desired.Name, err)
	}

	if !hpaDrifted(current, desired) {
		return false, nil
	}

	s.logger.Debugf("drift detected in hpa %s, updating", desired.Name)
	desired.ResourceVersion = current.ResourceVersion
	_, err = s.kubeCli.AutoscalingV1().HorizontalPodAutoscalers(desired.Namespace).Update(ctx, desired, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("could not update hpa %s: %w", desired.Name, err)
	}
	return true, nil
}

// create runs a create call. A concurrent worker or a previous partial sync
// may have created the child between our get and our create, in that case it
// returns false so the caller falls back to converging the existing child
// instead of waiting a full resync with possible drift.
func (s *App) create(_ context.Context, name string, create func() error) (bool, error) {
	err := create()
	if apierrors.IsAlreadyExists(err) {
		s.logger.Warningf("child %s already exists, converging it", name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not create %s: %w", name, err)
	}

	s.logger.Infof("created child %s", name)
	return true, nil
}
