package resources

// Child resource names are derived from the custom resource name with a
// fixed suffix scheme so every operation (create, reconcile, delete) can
// address them without extra state.

// DeploymentName returns the name of the workload deployment.
func DeploymentName(app string) string { return app }

// StatefulSetName returns the name of the stateful workload.
func StatefulSetName(app string) string { return app + "-stateful" }

// ServiceName returns the name of the workload service.
func ServiceName(app string) string { return app + "-svc" }

// ConfigMapName returns the name of the configuration child.
func ConfigMapName(app string) string { return app + "-config" }

// SecretName returns the name of the secret child.
func SecretName(app string) string { return app + "-secret" }

// PVCName returns the name of the persistent volume claim child.
func PVCName(app string) string { return app + "-pvc" }

// IngressName returns the name of the ingress child.
func IngressName(app string) string { return app + "-ingress" }

// HPAName returns the name of the autoscaler child.
func HPAName(app string) string { return app + "-hpa" }

// PodName returns the name of the standalone pod child.
func PodName(app string) string { return app + "-pod" }

// JobName returns the name of the job child.
func JobName(app string) string { return app + "-job" }

// CronJobName returns the name of the cron job child.
func CronJobName(app string) string { return app + "-cronjob" }
