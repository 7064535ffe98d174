// Package crd knows how to ensure the watched custom resource definition is
// registered in the cluster before the operator starts watching it.
package crd

import (
	"context"
	"fmt"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionscli "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cneura-ai/app-operator/log"
)

// Scope is the scope of a CRD.
type Scope = apiextensionsv1.ResourceScope

const (
	// ClusterScoped represents a cluster scoped CRD.
	ClusterScoped = apiextensionsv1.ClusterScoped
	// NamespaceScoped represents a namespace scoped CRD.
	NamespaceScoped = apiextensionsv1.NamespaceScoped
)

const defWaitInterval = 500 * time.Millisecond

// Conf is the configuration required to ensure a CRD.
type Conf struct {
	Kind       string
	NamePlural string
	Group      string
	Version    string
	Scope      Scope
}

// Interface is the CRD client that knows how to interact with the cluster to
// manage the definitions.
type Interface interface {
	// EnsurePresent will ensure the CRD is present, creating it when missing.
	EnsurePresent(ctx context.Context, conf Conf) error
	// WaitToBePresent will wait until the CRD is established or the timeout
	// expires.
	WaitToBePresent(ctx context.Context, conf Conf, timeout time.Duration) error
}

// Client is the CRD client implementation using API calls to Kubernetes.
type Client struct {
	aeClient apiextensionscli.Interface
	logger   log.Logger
}

// NewClient returns a new CRD client.
func NewClient(aeClient apiextensionscli.Interface, logger log.Logger) *Client {
	return &Client{
		aeClient: aeClient,
		logger:   logger.WithKV(log.KV{"service": "crd"}),
	}
}

// EnsurePresent satisfies crd.Interface.
func (c *Client) EnsurePresent(ctx context.Context, conf Conf) error {
	crdName := fmt.Sprintf("%s.%s", conf.NamePlural, conf.Group)

	scope := conf.Scope
	if scope == "" {
		scope = NamespaceScoped
	}

	// The operator is generic over the resource spec, so the schema accepts
	// any shape and validation stays in the defaulting/decoding layers.
	preserveUnknown := true
	crd := &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{
			Name: crdName,
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: conf.Group,
			Scope: scope,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural: conf.NamePlural,
				Kind:   conf.Kind,
			},
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{{
				Name:    conf.Version,
				Served:  true,
				Storage: true,
				Schema: &apiextensionsv1.CustomResourceValidation{
					OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
						Type:                   "object",
						XPreserveUnknownFields: &preserveUnknown,
					},
				},
				Subresources: &apiextensionsv1.CustomResourceSubresources{
					Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
				},
			}},
		},
	}

	_, err := c.aeClient.ApiextensionsV1().CustomResourceDefinitions().Create(ctx, crd, metav1.CreateOptions{})
	if err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("error creating crd %s: %w", crdName, err)
		}
		return nil
	}

	c.logger.Infof("crd %s created", crdName)
	return nil
}

// WaitToBePresent satisfies crd.Interface.
func (c *Client) WaitToBePresent(ctx context.Context, conf Conf, timeout time.Duration) error {
	crdName := fmt.Sprintf("%s.%s", conf.NamePlural, conf.Group)

	return wait.PollImmediate(defWaitInterval, timeout, func() (bool, error) {
		crd, err := c.aeClient.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, crdName, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		for _, cond := range crd.Status.Conditions {
			if cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue {
				return true, nil
			}
		}

		return false, nil
	})
}
