// Package appoperator is a reusable Kubernetes operator that watches a
// configurable custom resource and converges a suite of child resources
// (Deployment/StatefulSet, Service, ConfigMap, Secret, PVC, Ingress, HPA,
// Pod, Job, CronJob) toward the state described by the custom resource spec.
//
// The custom resource coordinates (kind, plural, group, version) come from
// configuration, so the same binary can operate any application-shaped
// custom resource:
//
//	op, err := operator.New(operator.Config{
//	    Kind:    "CneurApp",
//	    Plural:  "cneurapps",
//	    Group:   "cneura.ai",
//	    Version: "v1alpha1",
//	}, kubeCli, dynCli, logger)
//	if err != nil {
//	    return fmt.Errorf("could not create operator: %w", err)
//	}
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	return op.Run(ctx)
package appoperator
