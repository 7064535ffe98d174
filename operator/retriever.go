package operator

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/cache"

	"github.com/cneura-ai/app-operator/controller"
)

// newRetriever returns a retriever for the watched custom resource. The
// operator is generic over the resource kind so it lists and watches through
// the dynamic client.
func newRetriever(gvr schema.GroupVersionResource, namespace string, cli dynamic.Interface) controller.Retriever {
	return controller.MustRetrieverFromListerWatcher(&cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return cli.Resource(gvr).Namespace(namespace).List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return cli.Resource(gvr).Namespace(namespace).Watch(context.Background(), options)
		},
	})
}
