package service

import (
	"fmt"
	"reflect"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Drift checks compare only what the factory sets. The server fills in a lot
// of defaults and bookkeeping on the stored object, naive deep equality
// would detect drift forever.

func deploymentDrifted(current, desired *appsv1.Deployment) bool {
	if !replicasEqual(current.Spec.Replicas, desired.Spec.Replicas) {
		return true
	}
	if !podTemplatesMatch(current.Spec.Template, desired.Spec.Template) {
		return true
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

func statefulSetDrifted(current, desired *appsv1.StatefulSet) bool {
	if !replicasEqual(current.Spec.Replicas, desired.Spec.Replicas) {
		return true
	}
	if !podTemplatesMatch(current.Spec.Template, desired.Spec.Template) {
		return true
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

// podTemplatesMatch returns true when the templates match on the fields the
// factory manages (container image, command, env and ports).
func podTemplatesMatch(current, desired corev1.PodTemplateSpec) bool {
	if len(current.Spec.Containers) != len(desired.Spec.Containers) {
		return false
	}
	for i := range desired.Spec.Containers {
		dc, cc := desired.Spec.Containers[i], current.Spec.Containers[i]
		if dc.Image != cc.Image || dc.Name != cc.Name {
			return false
		}
		if !reflect.DeepEqual(dc.Command, cc.Command) || !reflect.DeepEqual(dc.Args, cc.Args) {
			return false
		}
		if len(dc.Env) > 0 && !reflect.DeepEqual(dc.Env, cc.Env) {
			return false
		}
	}
	return true
}

func serviceDrifted(current, desired *corev1.Service) bool {
	if !reflect.DeepEqual(current.Spec.Selector, desired.Spec.Selector) {
		return true
	}
	if !reflect.DeepEqual(sortedPortPairs(current.Spec.Ports), sortedPortPairs(desired.Spec.Ports)) {
		return true
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

func sortedPortPairs(ports []corev1.ServicePort) []string {
	pairs := make([]string, 0, len(ports))
	for _, p := range ports {
		pairs = append(pairs, fmt.Sprintf("%d:%s", p.Port, p.TargetPort.String()))
	}
	sort.Strings(pairs)
	return pairs
}

func secretDrifted(current, desired *corev1.Secret) bool {
	if desired.Type != "" && current.Type != desired.Type {
		return true
	}
	// The server stores string data as raw data, compare on the decoded view.
	if len(current.Data) != len(desired.StringData) {
		return true
	}
	for k, v := range desired.StringData {
		if string(current.Data[k]) != v {
			return true
		}
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

func cronJobDrifted(current, desired *batchv1.CronJob) bool {
	if current.Spec.Schedule != desired.Spec.Schedule {
		return true
	}
	if desired.Spec.ConcurrencyPolicy != "" && current.Spec.ConcurrencyPolicy != desired.Spec.ConcurrencyPolicy {
		return true
	}
	if !boolPtrEqual(current.Spec.Suspend, desired.Spec.Suspend) {
		return true
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

func hpaDrifted(current, desired *autoscalingv1.HorizontalPodAutoscaler) bool {
	if !replicasEqual(current.Spec.MinReplicas, desired.Spec.MinReplicas) {
		return true
	}
	if current.Spec.MaxReplicas != desired.Spec.MaxReplicas {
		return true
	}
	if !replicasEqual(current.Spec.TargetCPUUtilizationPercentage, desired.Spec.TargetCPUUtilizationPercentage) {
		return true
	}
	return metadataDrifted(&current.ObjectMeta, &desired.ObjectMeta)
}

// metadataDrifted returns true when a desired label or annotation is missing
// or has a different value on the current object. Extra keys on the current
// object don't count, the server and other controllers add their own.
func metadataDrifted(current, desired *metav1.ObjectMeta) bool {
	for k, v := range desired.Labels {
		if current.Labels[k] != v {
			return true
		}
	}
	for k, v := range desired.Annotations {
		if current.Annotations[k] != v {
			return true
		}
	}
	return false
}

func replicasEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		// A nil desired suspend means "don't care".
		return b == nil
	}
	return *a == *b
}

// mergedStringMap returns base with the overrides applied on top.
func mergedStringMap(base, overrides map[string]string) map[string]string {
	result := map[string]string{}
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overrides {
		result[k] = v
	}
	return result
}
