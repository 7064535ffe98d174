package controller_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	kubetesting "k8s.io/client-go/testing"
	"k8s.io/client-go/tools/cache"

	"github.com/cneura-ai/app-operator/controller"
)

func newNamespaceRetriever(client kubernetes.Interface) controller.Retriever {
	return controller.MustRetrieverFromListerWatcher(&cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return client.CoreV1().Namespaces().List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return client.CoreV1().Namespaces().Watch(context.Background(), options)
		},
	})
}

func onKubeClientWatchNamespaceReturn(client *fake.Clientset) {
	w := watch.NewFake()
	client.AddWatchReactor("namespaces", func(action kubetesting.Action) (bool, watch.Interface, error) {
		return true, w, nil
	})
}

func onKubeClientListNamespaceReturn(client *fake.Clientset, nss *corev1.NamespaceList) {
	client.AddReactor("list", "namespaces", func(action kubetesting.Action) (bool, runtime.Object, error) {
		return true, nss, nil
	})
}

func createNamespaceList(prefix string, q int) *corev1.NamespaceList {
	nsl := &corev1.NamespaceList{
		ListMeta: metav1.ListMeta{
			ResourceVersion: "1",
		},
	}

	for i := 0; i < q; i++ {
		nsl.Items = append(nsl.Items, corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{
				Name:            fmt.Sprintf("%s-%d", prefix, i),
				ResourceVersion: fmt.Sprintf("%d", i),
			},
		})
	}

	return nsl
}

// namesRecorder records the names of the handled objects and signals when
// all the expected ones have been seen.
type namesRecorder struct {
	mu    sync.Mutex
	names map[string]struct{}
	want  int
	doneC chan struct{}
	once  sync.Once
}

func newNamesRecorder(want int) *namesRecorder {
	return &namesRecorder{
		names: map[string]struct{}{},
		want:  want,
		doneC: make(chan struct{}),
	}
}

func (n *namesRecorder) record(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names[name] = struct{}{}
	if len(n.names) >= n.want {
		n.once.Do(func() { close(n.doneC) })
	}
}

func (n *namesRecorder) recorded() map[string]struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := map[string]struct{}{}
	for k := range n.names {
		res[k] = struct{}{}
	}
	return res
}

func TestGenericControllerHandleAdds(t *testing.T) {
	nsList := createNamespaceList("testing", 10)

	tests := map[string]struct {
		nsList *corev1.NamespaceList
	}{
		"Listing multiple namespaces should call the add handler for every namespace on the list.": {
			nsList: nsList,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			// Mock Kubernetes client.
			mc := &fake.Clientset{}
			onKubeClientListNamespaceReturn(mc, test.nsList)
			onKubeClientWatchNamespaceReturn(mc)

			rec := newNamesRecorder(len(test.nsList.Items))
			handler := &controller.HandlerFunc{
				AddFunc: func(_ context.Context, obj runtime.Object) error {
					ns := obj.(*corev1.Namespace)
					rec.record(ns.Name)
					return nil
				},
				DeleteFunc: func(_ context.Context, _ string) error { return nil },
			}

			c, err := controller.New(&controller.Config{
				Name:      "test",
				Handler:   handler,
				Retriever: newNamespaceRetriever(mc),
			})
			require.NoError(err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				_ = c.Run(ctx)
			}()

			select {
			case <-rec.doneC:
			case <-time.After(5 * time.Second):
				require.FailNow("timeout waiting for the handler to process every namespace")
			}

			got := rec.recorded()
			for _, ns := range test.nsList.Items {
				_, ok := got[ns.Name]
				assert.True(ok, "namespace %s should have been handled", ns.Name)
			}
		})
	}
}

func TestGenericControllerErrorRetries(t *testing.T) {
	require := require.New(t)

	nsList := createNamespaceList("testing", 1)
	retries := 2

	mc := &fake.Clientset{}
	onKubeClientListNamespaceReturn(mc, nsList)
	onKubeClientWatchNamespaceReturn(mc)

	// The first processing plus all the retries should be seen by the handler.
	calls := make(chan struct{}, 100)
	handler := &controller.HandlerFunc{
		AddFunc: func(_ context.Context, obj runtime.Object) error {
			calls <- struct{}{}
			return fmt.Errorf("wanted error")
		},
		DeleteFunc: func(_ context.Context, _ string) error { return nil },
	}

	c, err := controller.New(&controller.Config{
		Name:                 "test",
		Handler:              handler,
		Retriever:            newNamespaceRetriever(mc),
		ProcessingJobRetries: retries,
	})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Run(ctx)
	}()

	expCalls := retries + 1
	for i := 0; i < expCalls; i++ {
		select {
		case <-calls:
		case <-time.After(10 * time.Second):
			require.FailNowf("timeout", "timeout waiting for handler call %d of %d", i+1, expCalls)
		}
	}
}

func TestGenericControllerRunTwice(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	nsList := createNamespaceList("testing", 1)
	mc := &fake.Clientset{}
	onKubeClientListNamespaceReturn(mc, nsList)
	onKubeClientWatchNamespaceReturn(mc)

	rec := newNamesRecorder(len(nsList.Items))
	handler := &controller.HandlerFunc{
		AddFunc: func(_ context.Context, obj runtime.Object) error {
			ns := obj.(*corev1.Namespace)
			rec.record(ns.Name)
			return nil
		},
		DeleteFunc: func(_ context.Context, _ string) error { return nil },
	}

	c, err := controller.New(&controller.Config{
		Name:      "test",
		Handler:   handler,
		Retriever: newNamespaceRetriever(mc),
	})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrC := make(chan error)
	go func() { runErrC <- c.Run(ctx) }()

	// Wait until the controller is running (it has handled an event).
	select {
	case <-rec.doneC:
	case <-time.After(5 * time.Second):
		require.FailNow("timeout waiting for the controller to start")
	}

	// A second run on an already running controller must be refused.
	assert.Error(c.Run(ctx))

	// Stopping the controller shuts the queue down and ends the first run.
	cancel()
	select {
	case err := <-runErrC:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		assert.Fail("timeout waiting for the controller to stop")
	}
}

func TestGenericControllerConfig(t *testing.T) {
	tests := map[string]struct {
		cfg    func() *controller.Config
		expErr bool
	}{
		"A controller without a name shouldn't be created.": {
			cfg: func() *controller.Config {
				cfg := newTestConfig()
				cfg.Name = ""
				return cfg
			},
			expErr: true,
		},
		"A controller without a handler shouldn't be created.": {
			cfg: func() *controller.Config {
				cfg := newTestConfig()
				cfg.Handler = nil
				return cfg
			},
			expErr: true,
		},
		"A controller without a retriever shouldn't be created.": {
			cfg: func() *controller.Config {
				cfg := newTestConfig()
				cfg.Retriever = nil
				return cfg
			},
			expErr: true,
		},
		"A controller with the required configuration should be created.": {
			cfg:    newTestConfig,
			expErr: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := controller.New(test.cfg())
			if test.expErr {
				assert.Error(err)
				assert.ErrorIs(err, controller.ErrControllerNotValid)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func newTestConfig() *controller.Config {
	return &controller.Config{
		Name: "test",
		Handler: &controller.HandlerFunc{
			AddFunc:    func(_ context.Context, _ runtime.Object) error { return nil },
			DeleteFunc: func(_ context.Context, _ string) error { return nil },
		},
		Retriever: newNamespaceRetriever(&fake.Clientset{}),
	}
}
