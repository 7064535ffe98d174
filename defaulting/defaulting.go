// Package defaulting implements the runtime defaults pipeline: per-kind
// defaults manifests are rendered as templates and deep-merged under the
// user-provided spec before the child resources are built.
package defaulting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"

	"github.com/cneura-ai/app-operator/log"
)

// Data is the data available to the defaults manifest templates.
type Data struct {
	Name      string
	Namespace string
	Kind      string
}

// Defaulter knows how to apply runtime defaults to a raw custom resource spec.
type Defaulter interface {
	Apply(kind, name, namespace string, spec map[string]interface{}) (map[string]interface{}, error)
}

// Noop applies no defaults at all.
var Noop = noop(0)

type noop int

func (noop) Apply(_, _, _ string, spec map[string]interface{}) (map[string]interface{}, error) {
	return spec, nil
}

type fileDefaulter struct {
	dir    string
	logger log.Logger
}

// NewFileDefaulter returns a Defaulter that loads `<dir>/<lowercased kind>.yaml`
// manifests. A missing manifest means no defaults, not an error.
func NewFileDefaulter(dir string, logger log.Logger) Defaulter {
	return fileDefaulter{
		dir:    dir,
		logger: logger.WithKV(log.KV{"service": "defaulting"}),
	}
}

// Apply satisfies Defaulter interface.
func (f fileDefaulter) Apply(kind, name, namespace string, spec map[string]interface{}) (map[string]interface{}, error) {
	defaults, err := f.load(kind, name, namespace)
	if err != nil {
		return nil, err
	}
	if defaults == nil {
		return spec, nil
	}

	return Merge(defaults, spec)
}

// load reads and renders the defaults manifest for a kind and returns its
// spec section.
func (f fileDefaulter) load(kind, name, namespace string) (map[string]interface{}, error) {
	path := filepath.Join(f.dir, strings.ToLower(kind)+".yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		f.logger.Debugf("no defaults manifest for kind %s", kind)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read defaults manifest %s: %w", path, err)
	}

	tpl, err := template.New(filepath.Base(path)).Funcs(sprig.TxtFuncMap()).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("could not parse defaults manifest %s: %w", path, err)
	}

	var rendered bytes.Buffer
	err = tpl.Execute(&rendered, Data{Name: name, Namespace: namespace, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("could not render defaults manifest %s: %w", path, err)
	}

	manifest := map[string]interface{}{}
	if err := yaml.Unmarshal(rendered.Bytes(), &manifest); err != nil {
		return nil, fmt.Errorf("could not unmarshal defaults manifest %s: %w", path, err)
	}

	defaults, ok := manifest["spec"].(map[string]interface{})
	if !ok {
		// A defaults manifest without a spec section defaults nothing.
		return nil, nil
	}

	return defaults, nil
}

// Merge deep-merges the user spec over the defaults: the user always wins,
// nested maps are merged key by key.
func Merge(defaults, user map[string]interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if err := mergo.Merge(&result, defaults, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("could not copy defaults: %w", err)
	}

	if err := mergo.Merge(&result, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("could not merge user spec over defaults: %w", err)
	}

	return result, nil
}
