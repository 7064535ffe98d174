package cli

import (
	"fmt"
	"os"
	"path/filepath"

	apiextensionscli "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth/oidc" // Load oidc authentication when creating the kubernetes clients.
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Clients groups all the Kubernetes API clients the integration tests need.
type Clients struct {
	Std           kubernetes.Interface
	Dynamic       dynamic.Interface
	APIExtensions apiextensionscli.Interface
}

// GetK8sClients returns the Kubernetes clients from a kubeconfig path, with
// KUBECONFIG and ~/.kube/config fallbacks.
func GetK8sClients(kubehome string) (*Clients, error) {
	// Try fallbacks.
	if kubehome == "" {
		if kubehome = os.Getenv("KUBECONFIG"); kubehome == "" {
			kubehome = filepath.Join(homedir.HomeDir(), ".kube", "config")
		}
	}

	// Load kubernetes local connection.
	config, err := clientcmd.BuildConfigFromFlags("", kubehome)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}

	return clientsFromConfig(config)
}

func clientsFromConfig(config *rest.Config) (*Clients, error) {
	stdCli, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	dynCli, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	aeCli, err := apiextensionscli.NewForConfig(config)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Std:           stdCli,
		Dynamic:       dynCli,
		APIExtensions: aeCli,
	}, nil
}
