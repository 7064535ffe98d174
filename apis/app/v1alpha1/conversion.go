package v1alpha1

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// NewAppFromUnstructured decodes the metadata of a watched custom resource.
// The spec is kept raw so runtime defaults can be merged in before decoding
// it with DecodeSpec.
func NewAppFromUnstructured(u *unstructured.Unstructured) (*App, map[string]interface{}, error) {
	if u.GetName() == "" {
		return nil, nil, fmt.Errorf("object has no name")
	}

	app := &App{
		APIVersion:         u.GetAPIVersion(),
		Kind:               u.GetKind(),
		Name:               u.GetName(),
		Namespace:          u.GetNamespace(),
		UID:                u.GetUID(),
		Generation:         u.GetGeneration(),
		Labels:             u.GetLabels(),
		Annotations:        u.GetAnnotations(),
		Finalizers:         u.GetFinalizers(),
		DeletionInProgress: u.GetDeletionTimestamp() != nil,
	}

	rawSpec, found, err := unstructured.NestedMap(u.Object, "spec")
	if err != nil {
		return nil, nil, fmt.Errorf("could not get object spec: %w", err)
	}
	if !found {
		rawSpec = map[string]interface{}{}
	}

	return app, rawSpec, nil
}

// DecodeSpec decodes a raw (already defaulted) spec map into a typed AppSpec.
// Unknown keys are ignored, wrong shapes error.
func DecodeSpec(rawSpec map[string]interface{}) (*AppSpec, error) {
	// JSON round-trip so the decoding is independent of where the raw map
	// came from (API server unstructured data or YAML defaults manifests).
	data, err := json.Marshal(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("could not marshal raw spec: %w", err)
	}

	spec := &AppSpec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("could not decode spec: %w", err)
	}

	return spec, nil
}
