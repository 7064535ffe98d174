// Package resources builds the child Kubernetes objects of an application
// custom resource. Builders are pure: they only translate the decoded spec
// into API objects, nothing is applied here.
package resources

import (
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	appv1alpha1 "github.com/cneura-ai/app-operator/apis/app/v1alpha1"
)

const defaultImage = "nginx"

// Labels returns the common labels of every child of an application.
func Labels(app string) map[string]string {
	return map[string]string{"app": app}
}

func objectMeta(app *appv1alpha1.App, name string, annotations map[string]string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:            name,
		Namespace:       app.Namespace,
		Labels:          Labels(app.Name),
		Annotations:     annotations,
		OwnerReferences: ownerReferences(app),
	}
}

func ownerReferences(app *appv1alpha1.App) []metav1.OwnerReference {
	// The parent may come from a fake object in tests without UID, in that
	// case we don't set the reference at all.
	if app.UID == "" {
		return nil
	}

	t := true
	return []metav1.OwnerReference{{
		APIVersion:         app.APIVersion,
		Kind:               app.Kind,
		Name:               app.Name,
		UID:                app.UID,
		Controller:         &t,
		BlockOwnerDeletion: &t,
	}}
}

func container(app *appv1alpha1.App, spec *appv1alpha1.ContainerSpec) corev1.Container {
	if spec == nil {
		spec = &appv1alpha1.ContainerSpec{}
	}

	name := spec.Name
	if name == "" {
		name = app.Name
	}
	image := spec.Image
	if image == "" {
		image = defaultImage
	}

	return corev1.Container{
		Name:           name,
		Image:          image,
		Command:        spec.Command,
		Args:           spec.Args,
		Ports:          spec.Ports,
		Env:            spec.Env,
		VolumeMounts:   spec.VolumeMounts,
		Resources:      spec.Resources,
		LivenessProbe:  spec.LivenessProbe,
		ReadinessProbe: spec.ReadinessProbe,
	}
}

func podTemplate(app *appv1alpha1.App, spec *appv1alpha1.ContainerSpec) corev1.PodTemplateSpec {
	var volumes []corev1.Volume
	if spec != nil {
		volumes = spec.Volumes
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: Labels(app.Name)},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{container(app, spec)},
			Volumes:    volumes,
			Affinity:   app.Spec.Affinity,
		},
	}
}

func replicasOrDefault(replicas *int32) *int32 {
	if replicas != nil {
		return replicas
	}
	one := int32(1)
	return &one
}

// Deployment returns the workload deployment of an application.
func Deployment(app *appv1alpha1.App) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: objectMeta(app, DeploymentName(app.Name), nil),
		Spec: appsv1.DeploymentSpec{
			Replicas: replicasOrDefault(app.Spec.Replicas),
			Selector: &metav1.LabelSelector{MatchLabels: Labels(app.Name)},
			Template: podTemplate(app, app.Spec.Container),
		},
	}
}

// StatefulSet returns the stateful workload of an application.
func StatefulSet(app *appv1alpha1.App) *appsv1.StatefulSet {
	stateful := app.Spec.Stateful

	var claims []corev1.PersistentVolumeClaim
	for _, tpl := range stateful.VolumeClaimTemplates {
		claims = append(claims, corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Name: tpl.Name, Labels: Labels(app.Name)},
			Spec:       tpl.Spec,
		})
	}

	return &appsv1.StatefulSet{
		ObjectMeta: objectMeta(app, StatefulSetName(app.Name), nil),
		Spec: appsv1.StatefulSetSpec{
			Replicas:             replicasOrDefault(stateful.Replicas),
			ServiceName:          ServiceName(app.Name),
			Selector:             &metav1.LabelSelector{MatchLabels: Labels(app.Name)},
			Template:             podTemplate(app, stateful.Container),
			VolumeClaimTemplates: claims,
		},
	}
}

// Service returns the service of an application. Headless services are used
// for the stateful workload shape.
func Service(app *appv1alpha1.App, headless bool) *corev1.Service {
	svcSpec := app.Spec.Service
	if svcSpec == nil {
		svcSpec = &appv1alpha1.ServiceSpec{}
	}

	selector := svcSpec.Selector
	if selector == nil {
		selector = Labels(app.Name)
	}

	ports := svcSpec.Ports
	if len(ports) == 0 {
		ports = []corev1.ServicePort{{Port: 80, TargetPort: intstr.FromInt(80)}}
	}

	svcType := svcSpec.Type
	if svcType == "" {
		svcType = corev1.ServiceTypeClusterIP
	}

	svc := &corev1.Service{
		ObjectMeta: objectMeta(app, ServiceName(app.Name), svcSpec.Annotations),
		Spec: corev1.ServiceSpec{
			Selector: selector,
			Ports:    ports,
			Type:     svcType,
		},
	}

	if headless {
		svc.Spec.Type = corev1.ServiceTypeClusterIP
		svc.Spec.ClusterIP = corev1.ClusterIPNone
	}

	return svc
}

// ConfigMap returns the configuration child of an application.
func ConfigMap(app *appv1alpha1.App) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: objectMeta(app, ConfigMapName(app.Name), nil),
		Data:       app.Spec.ConfigMap.Data,
	}
}

// Secret returns the secret child of an application.
func Secret(app *appv1alpha1.App) *corev1.Secret {
	secretType := app.Spec.Secret.Type
	if secretType == "" {
		secretType = corev1.SecretTypeOpaque
	}

	return &corev1.Secret{
		ObjectMeta: objectMeta(app, SecretName(app.Name), nil),
		Type:       secretType,
		StringData: app.Spec.Secret.Data,
	}
}

// PVC returns the persistent volume claim child of an application.
func PVC(app *appv1alpha1.App) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: objectMeta(app, PVCName(app.Name), nil),
		Spec:       *app.Spec.PVC,
	}
}

// Pod returns the standalone pod child of an application.
func Pod(app *appv1alpha1.App) *corev1.Pod {
	podSpec := app.Spec.Pod

	restartPolicy := podSpec.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = corev1.RestartPolicyAlways
	}

	var volumes []corev1.Volume
	if podSpec.Container != nil {
		volumes = podSpec.Container.Volumes
	}

	return &corev1.Pod{
		ObjectMeta: objectMeta(app, PodName(app.Name), nil),
		Spec: corev1.PodSpec{
			Containers:    []corev1.Container{container(app, podSpec.Container)},
			Volumes:       volumes,
			RestartPolicy: restartPolicy,
		},
	}
}

func jobSpec(app *appv1alpha1.App, spec *appv1alpha1.JobSpec) batchv1.JobSpec {
	restartPolicy := spec.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = corev1.RestartPolicyOnFailure
	}

	var volumes []corev1.Volume
	if spec.Container != nil {
		volumes = spec.Container.Volumes
	}

	template := corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: Labels(app.Name)},
		Spec: corev1.PodSpec{
			Containers:    []corev1.Container{container(app, spec.Container)},
			Volumes:       volumes,
			RestartPolicy: restartPolicy,
		},
	}

	return batchv1.JobSpec{
		BackoffLimit: spec.BackoffLimit,
		Completions:  spec.Completions,
		Parallelism:  spec.Parallelism,
		Template:     template,
	}
}

// Job returns the one-shot job child of an application.
func Job(app *appv1alpha1.App) *batchv1.Job {
	spec := jobSpec(app, app.Spec.Job)
	return &batchv1.Job{
		ObjectMeta: objectMeta(app, JobName(app.Name), nil),
		Spec:       spec,
	}
}

// CronJob returns the scheduled job child of an application.
func CronJob(app *appv1alpha1.App) *batchv1.CronJob {
	cronSpec := app.Spec.CronJob

	job := cronSpec.Job
	if job == nil {
		job = &appv1alpha1.JobSpec{}
	}

	return &batchv1.CronJob{
		ObjectMeta: objectMeta(app, CronJobName(app.Name), nil),
		Spec: batchv1.CronJobSpec{
			Schedule:          cronSpec.Schedule,
			ConcurrencyPolicy: cronSpec.ConcurrencyPolicy,
			Suspend:           cronSpec.Suspend,
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: Labels(app.Name)},
				Spec:       jobSpec(app, job),
			},
		},
	}
}

// Ingress returns the ingress child of an application, routing to the
// application service.
func Ingress(app *appv1alpha1.App) *networkingv1.Ingress {
	ingSpec := app.Spec.Ingress

	host := ingSpec.Host
	if host == "" {
		host = app.Name + ".local"
	}

	paths := ingSpec.Paths
	if len(paths) == 0 {
		pathType := networkingv1.PathTypePrefix
		paths = []networkingv1.HTTPIngressPath{{
			Path:     "/",
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: ServiceName(app.Name),
					Port: networkingv1.ServiceBackendPort{Number: 80},
				},
			},
		}}
	}

	return &networkingv1.Ingress{
		ObjectMeta: objectMeta(app, IngressName(app.Name), ingSpec.Annotations),
		Spec: networkingv1.IngressSpec{
			IngressClassName: ingSpec.ClassName,
			TLS:              ingSpec.TLS,
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
				},
			}},
		},
	}
}

// HPA returns the autoscaler child of an application, targeting the workload
// deployment.
func HPA(app *appv1alpha1.App) *autoscalingv1.HorizontalPodAutoscaler {
	hpaSpec := app.Spec.HPA

	minReplicas := hpaSpec.MinReplicas
	if minReplicas == nil {
		one := int32(1)
		minReplicas = &one
	}

	maxReplicas := hpaSpec.MaxReplicas
	if maxReplicas == 0 {
		maxReplicas = 5
	}

	cpu := hpaSpec.CPUUtilization
	if cpu == nil {
		fifty := int32(50)
		cpu = &fifty
	}

	return &autoscalingv1.HorizontalPodAutoscaler{
		ObjectMeta: objectMeta(app, HPAName(app.Name), nil),
		Spec: autoscalingv1.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv1.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       DeploymentName(app.Name),
			},
			MinReplicas:                    minReplicas,
			MaxReplicas:                    maxReplicas,
			TargetCPUUtilizationPercentage: cpu,
		},
	}
}
