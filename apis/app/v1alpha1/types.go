package v1alpha1

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Phase represents the observed lifecycle phase of an application.
type Phase string

const (
	// PhaseCreated means the children have been created for the first time.
	PhaseCreated Phase = "Created"
	// PhaseProgressing means the children are being converged to the spec.
	PhaseProgressing Phase = "Progressing"
	// PhaseRunning means the last reconciliation found no drift.
	PhaseRunning Phase = "Running"
	// PhaseDeleting means the application children are being cleaned up.
	PhaseDeleting Phase = "Deleting"
	// PhaseFailed means the last reconciliation failed.
	PhaseFailed Phase = "Failed"
)

// App is the internal representation of the watched custom resource. The
// operator is generic over the resource kind, so the object arrives as
// unstructured data and is decoded into this shape.
type App struct {
	APIVersion         string
	Kind               string
	Name               string
	Namespace          string
	UID                types.UID
	Generation         int64
	Labels             map[string]string
	Annotations        map[string]string
	Finalizers         []string
	DeletionInProgress bool

	Spec AppSpec
}

// AppSpec describes the suite of child resources desired for an application.
// Every section is optional except the implicit Deployment+Service pair,
// which is always created (Deployment is replaced by a StatefulSet when the
// Stateful section is present).
type AppSpec struct {
	// Replicas of the workload, defaults to 1.
	Replicas *int32 `json:"replicas,omitempty"`
	// Container is the main workload container shape.
	Container *ContainerSpec `json:"container,omitempty"`
	// Affinity is applied verbatim to the workload pod template.
	Affinity *corev1.Affinity `json:"affinity,omitempty"`

	Service   *ServiceSpec                      `json:"service,omitempty"`
	ConfigMap *ConfigMapSpec                    `json:"configmap,omitempty"`
	Secret    *SecretSpec                       `json:"secret,omitempty"`
	PVC       *corev1.PersistentVolumeClaimSpec `json:"pvc,omitempty"`
	Stateful  *StatefulSpec                     `json:"stateful,omitempty"`
	Pod       *PodSpec                          `json:"pod,omitempty"`
	Job       *JobSpec                          `json:"job,omitempty"`
	CronJob   *CronJobSpec                      `json:"cronjob,omitempty"`
	Ingress   *IngressSpec                      `json:"ingress,omitempty"`
	HPA       *HPASpec                          `json:"hpa,omitempty"`
}

// ContainerSpec is the shape of a workload container.
type ContainerSpec struct {
	Name           string                      `json:"name,omitempty"`
	Image          string                      `json:"image,omitempty"`
	Command        []string                    `json:"command,omitempty"`
	Args           []string                    `json:"args,omitempty"`
	Ports          []corev1.ContainerPort      `json:"ports,omitempty"`
	Env            []corev1.EnvVar             `json:"env,omitempty"`
	VolumeMounts   []corev1.VolumeMount        `json:"volumeMounts,omitempty"`
	Volumes        []corev1.Volume             `json:"volumes,omitempty"`
	Resources      corev1.ResourceRequirements `json:"resources,omitempty"`
	LivenessProbe  *corev1.Probe               `json:"livenessProbe,omitempty"`
	ReadinessProbe *corev1.Probe               `json:"readinessProbe,omitempty"`
}

// ServiceSpec customizes the service created for the workload.
type ServiceSpec struct {
	Selector    map[string]string    `json:"selector,omitempty"`
	Ports       []corev1.ServicePort `json:"ports,omitempty"`
	Type        corev1.ServiceType   `json:"type,omitempty"`
	Annotations map[string]string    `json:"annotations,omitempty"`
}

// ConfigMapSpec carries plain configuration data.
type ConfigMapSpec struct {
	Data map[string]string `json:"data,omitempty"`
}

// SecretSpec carries secret data, applied as string data.
type SecretSpec struct {
	Type corev1.SecretType `json:"type,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// StatefulSpec switches the workload shape from Deployment to StatefulSet.
type StatefulSpec struct {
	Replicas             *int32                `json:"replicas,omitempty"`
	Container            *ContainerSpec        `json:"container,omitempty"`
	VolumeClaimTemplates []VolumeClaimTemplate `json:"volumeClaimTemplates,omitempty"`
}

// VolumeClaimTemplate is a named PVC template for stateful workloads.
type VolumeClaimTemplate struct {
	Name string                           `json:"name"`
	Spec corev1.PersistentVolumeClaimSpec `json:"spec"`
}

// PodSpec describes an optional standalone pod.
type PodSpec struct {
	Container     *ContainerSpec       `json:"container,omitempty"`
	RestartPolicy corev1.RestartPolicy `json:"restartPolicy,omitempty"`
}

// JobSpec describes an optional one-shot job.
type JobSpec struct {
	Container     *ContainerSpec       `json:"container,omitempty"`
	BackoffLimit  *int32               `json:"backoffLimit,omitempty"`
	Completions   *int32               `json:"completions,omitempty"`
	Parallelism   *int32               `json:"parallelism,omitempty"`
	RestartPolicy corev1.RestartPolicy `json:"restartPolicy,omitempty"`
}

// CronJobSpec describes an optional scheduled job.
type CronJobSpec struct {
	Schedule          string                    `json:"schedule"`
	ConcurrencyPolicy batchv1.ConcurrencyPolicy `json:"concurrencyPolicy,omitempty"`
	Suspend           *bool                     `json:"suspend,omitempty"`
	Job               *JobSpec                  `json:"job,omitempty"`
}

// IngressSpec customizes the ingress created for the workload service.
type IngressSpec struct {
	Host        string                         `json:"host,omitempty"`
	ClassName   *string                        `json:"className,omitempty"`
	Paths       []networkingv1.HTTPIngressPath `json:"paths,omitempty"`
	TLS         []networkingv1.IngressTLS      `json:"tls,omitempty"`
	Annotations map[string]string              `json:"annotations,omitempty"`
}

// HPASpec customizes the horizontal pod autoscaler targeting the workload.
type HPASpec struct {
	MinReplicas    *int32 `json:"minReplicas,omitempty"`
	MaxReplicas    int32  `json:"maxReplicas,omitempty"`
	CPUUtilization *int32 `json:"cpuUtilization,omitempty"`
}

// AppStatus is the status reported back on the custom resource.
type AppStatus struct {
	Phase              Phase  `json:"phase,omitempty"`
	Message            string `json:"message,omitempty"`
	ObservedGeneration int64  `json:"observedGeneration,omitempty"`
	LastSyncTime       string `json:"lastSyncTime,omitempty"`
}
