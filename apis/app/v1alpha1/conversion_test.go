package v1alpha1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/cneura-ai/app-operator/apis/app/v1alpha1"
)

func TestNewAppFromUnstructured(t *testing.T) {
	tests := map[string]struct {
		obj     map[string]interface{}
		expName string
		expSpec map[string]interface{}
		expDel  bool
		expErr  bool
	}{
		"A regular object should decode its metadata and keep the raw spec.": {
			obj: map[string]interface{}{
				"apiVersion": "cneura.ai/v1alpha1",
				"kind":       "CneurApp",
				"metadata": map[string]interface{}{
					"name":       "myapp",
					"namespace":  "testns",
					"generation": int64(2),
					"labels":     map[string]interface{}{"team": "platform"},
					"finalizers": []interface{}{"operator.cneura.ai/cleanup"},
				},
				"spec": map[string]interface{}{
					"replicas": int64(3),
				},
			},
			expName: "myapp",
			expSpec: map[string]interface{}{"replicas": int64(3)},
		},

		"An object without a spec should decode with an empty raw spec.": {
			obj: map[string]interface{}{
				"apiVersion": "cneura.ai/v1alpha1",
				"kind":       "CneurApp",
				"metadata": map[string]interface{}{
					"name":      "myapp",
					"namespace": "testns",
				},
			},
			expName: "myapp",
			expSpec: map[string]interface{}{},
		},

		"An object being deleted should be flagged as deletion in progress.": {
			obj: map[string]interface{}{
				"apiVersion": "cneura.ai/v1alpha1",
				"kind":       "CneurApp",
				"metadata": map[string]interface{}{
					"name":              "myapp",
					"namespace":         "testns",
					"deletionTimestamp": "2022-03-04T10:00:00Z",
				},
			},
			expName: "myapp",
			expSpec: map[string]interface{}{},
			expDel:  true,
		},

		"An object without a name should error.": {
			obj: map[string]interface{}{
				"apiVersion": "cneura.ai/v1alpha1",
				"kind":       "CneurApp",
				"metadata":   map[string]interface{}{},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			app, rawSpec, err := v1alpha1.NewAppFromUnstructured(&unstructured.Unstructured{Object: test.obj})

			if test.expErr {
				assert.Error(err)
				return
			}
			if assert.NoError(err) {
				assert.Equal(test.expName, app.Name)
				assert.Equal("testns", app.Namespace)
				assert.Equal("CneurApp", app.Kind)
				assert.Equal(test.expDel, app.DeletionInProgress)
				assert.Equal(test.expSpec, rawSpec)
			}
		})
	}
}

func TestDecodeSpec(t *testing.T) {
	replicas3 := int32(3)

	tests := map[string]struct {
		rawSpec map[string]interface{}
		expSpec *v1alpha1.AppSpec
		expErr  bool
	}{
		"An empty spec should decode to the zero value.": {
			rawSpec: map[string]interface{}{},
			expSpec: &v1alpha1.AppSpec{},
		},

		"Known sections should decode into their typed shapes.": {
			rawSpec: map[string]interface{}{
				"replicas": 3,
				"container": map[string]interface{}{
					"image":   "redis:6",
					"command": []interface{}{"redis-server"},
				},
				"configmap": map[string]interface{}{
					"data": map[string]interface{}{"key": "value"},
				},
			},
			expSpec: &v1alpha1.AppSpec{
				Replicas: &replicas3,
				Container: &v1alpha1.ContainerSpec{
					Image:   "redis:6",
					Command: []string{"redis-server"},
				},
				ConfigMap: &v1alpha1.ConfigMapSpec{
					Data: map[string]string{"key": "value"},
				},
			},
		},

		"Unknown keys should be ignored.": {
			rawSpec: map[string]interface{}{
				"replicas":     3,
				"notASection":  map[string]interface{}{"a": "b"},
				"anotherExtra": true,
			},
			expSpec: &v1alpha1.AppSpec{Replicas: &replicas3},
		},

		"A wrongly shaped section should error.": {
			rawSpec: map[string]interface{}{
				"container": "not-an-object",
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			spec, err := v1alpha1.DecodeSpec(test.rawSpec)

			if test.expErr {
				assert.Error(err)
				return
			}
			if assert.NoError(err) {
				assert.Equal(test.expSpec, spec)
			}
		})
	}
}
