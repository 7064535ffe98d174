package controller_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/tools/cache"

	"github.com/cneura-ai/app-operator/controller"
)

var (
	testPodList = &corev1.PodList{
		Items: []corev1.Pod{
			{ObjectMeta: metav1.ObjectMeta{Name: "test1"}},
			{ObjectMeta: metav1.ObjectMeta{Name: "test2"}},
			{ObjectMeta: metav1.ObjectMeta{Name: "test3"}},
		},
	}
	testEventList = []watch.Event{
		{Type: watch.Added, Object: &testPodList.Items[0]},
		{Type: watch.Added, Object: &testPodList.Items[1]},
		{Type: watch.Added, Object: &testPodList.Items[2]},
	}
)

func testPodListFunc(pl *corev1.PodList) cache.ListFunc {
	return func(options metav1.ListOptions) (runtime.Object, error) {
		return pl, nil
	}
}

func testEventWatchFunc(evs []watch.Event) cache.WatchFunc {
	return func(options metav1.ListOptions) (watch.Interface, error) {
		cg := make(chan watch.Event)
		go func() {
			for _, ev := range evs {
				cg <- ev
			}
			close(cg)
		}()

		return watch.NewProxyWatcher(cg), nil
	}
}

func TestRetrieverFromListerWatcher(t *testing.T) {
	tests := map[string]struct {
		listerWatcher cache.ListerWatcher
		expList       runtime.Object
		expListErr    bool
		expWatch      []watch.Event
		expWatchErr   bool
	}{
		"A list error or a watch error should be propagated to the upper layer.": {
			listerWatcher: &cache.ListWatch{
				ListFunc:  func(_ metav1.ListOptions) (runtime.Object, error) { return nil, fmt.Errorf("wanted error") },
				WatchFunc: func(_ metav1.ListOptions) (watch.Interface, error) { return nil, fmt.Errorf("wanted error") },
			},
			expListErr:  true,
			expWatchErr: true,
		},

		"List and watch should call the Kubernetes client lister watcher correctly.": {
			listerWatcher: &cache.ListWatch{
				ListFunc:  testPodListFunc(testPodList),
				WatchFunc: testEventWatchFunc(testEventList),
			},
			expList:  testPodList,
			expWatch: testEventList,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			ret, err := controller.RetrieverFromListerWatcher(test.listerWatcher)
			if assert.NoError(err) {
				// Check list.
				objs, err := ret.List(context.TODO(), metav1.ListOptions{})
				if test.expListErr {
					assert.Error(err)
				} else if assert.NoError(err) {
					assert.Equal(test.expList, objs)
				}

				// Check watch.
				w, err := ret.Watch(context.TODO(), metav1.ListOptions{})
				if test.expWatchErr {
					assert.Error(err)
				} else if assert.NoError(err) {
					gotEvents := []watch.Event{}
					for ev := range w.ResultChan() {
						gotEvents = append(gotEvents, ev)
					}
					assert.Equal(test.expWatch, gotEvents)
				}
			}
		})
	}
}

func TestRetrieverFromListerWatcherNil(t *testing.T) {
	assert := assert.New(t)

	_, err := controller.RetrieverFromListerWatcher(nil)
	assert.Error(err)
}

func TestNewMultiRetrieverValidation(t *testing.T) {
	valid := controller.MustRetrieverFromListerWatcher(&cache.ListWatch{
		ListFunc:  testPodListFunc(testPodList),
		WatchFunc: testEventWatchFunc(nil),
	})

	tests := map[string]struct {
		retrievers []controller.Retriever
		expErr     bool
	}{
		"Without retrievers it should error.": {
			expErr: true,
		},
		"A nil retriever should error.": {
			retrievers: []controller.Retriever{valid, nil},
			expErr:     true,
		},
		"Valid retrievers should create the multi retriever.": {
			retrievers: []controller.Retriever{valid, valid},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := controller.NewMultiRetriever(test.retrievers...)
			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestMultiRetrieverList(t *testing.T) {
	assert := assert.New(t)

	podList := &corev1.PodList{Items: []corev1.Pod{
		{ObjectMeta: metav1.ObjectMeta{Name: "pod1"}},
		{ObjectMeta: metav1.ObjectMeta{Name: "pod2"}},
	}}
	svcList := &corev1.ServiceList{Items: []corev1.Service{
		{ObjectMeta: metav1.ObjectMeta{Name: "svc1"}},
	}}

	podRet := controller.MustRetrieverFromListerWatcher(&cache.ListWatch{
		ListFunc: func(_ metav1.ListOptions) (runtime.Object, error) { return podList, nil },
	})
	svcRet := controller.MustRetrieverFromListerWatcher(&cache.ListWatch{
		ListFunc: func(_ metav1.ListOptions) (runtime.Object, error) { return svcList, nil },
	})

	ret, err := controller.NewMultiRetriever(podRet, svcRet)
	if assert.NoError(err) {
		objs, err := ret.List(context.TODO(), metav1.ListOptions{})
		if assert.NoError(err) {
			list, ok := objs.(*metav1.List)
			if assert.True(ok) && assert.Len(list.Items, 3) {
				gotNames := []string{}
				for _, item := range list.Items {
					obj := item.Object.(metav1.Object)
					gotNames = append(gotNames, obj.GetName())
				}
				assert.ElementsMatch([]string{"pod1", "pod2", "svc1"}, gotNames)
			}
		}
	}
}

func TestMultiRetrieverWatch(t *testing.T) {
	assert := assert.New(t)

	evs1 := []watch.Event{
		{Type: watch.Added, Object: &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "pod1"}}},
		{Type: watch.Added, Object: &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "pod2"}}},
	}
	evs2 := []watch.Event{
		{Type: watch.Added, Object: &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "svc1"}}},
	}

	ret1 := controller.MustRetrieverFromListerWatcher(&cache.ListWatch{WatchFunc: testEventWatchFunc(evs1)})
	ret2 := controller.MustRetrieverFromListerWatcher(&cache.ListWatch{WatchFunc: testEventWatchFunc(evs2)})

	ret, err := controller.NewMultiRetriever(ret1, ret2)
	if assert.NoError(err) {
		w, err := ret.Watch(context.TODO(), metav1.ListOptions{})
		if assert.NoError(err) {
			defer w.Stop()

			gotNames := []string{}
			for i := 0; i < len(evs1)+len(evs2); i++ {
				select {
				case ev := <-w.ResultChan():
					obj := ev.Object.(metav1.Object)
					gotNames = append(gotNames, obj.GetName())
				case <-time.After(5 * time.Second):
					assert.FailNow("timeout waiting for the fanned-in watch events")
				}
			}
			assert.ElementsMatch([]string{"pod1", "pod2", "svc1"}, gotNames)
		}
	}
}
