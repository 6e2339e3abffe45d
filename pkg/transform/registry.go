package transform

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/internal/config"
)

// Factory builds the transformer of a dataset.
type Factory func(cfg config.DataConfig, deps Deps) (DatasetTransformer, error)

// Entry associates a dataset name with its factory.
type Entry struct {
	Name    string
	Factory Factory
}

// Registry maps dataset names to factories. It cannot be changed once built.
type Registry struct {
	defaultName string
	names       []string
	factories   map[string]Factory
}

// NewRegistry builds a registry of entries, defaultName being used when no requested dataset is
// known.
func NewRegistry(defaultName string, entries ...Entry) (*Registry, error) {
	r := &Registry{
		defaultName: defaultName,
		factories:   make(map[string]Factory, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" || e.Factory == nil {
			return nil, errors.New("registry entries need a name and a factory")
		}
		if _, ok := r.factories[e.Name]; ok {
			return nil, errors.Errorf("dataset %q registered twice", e.Name)
		}
		r.factories[e.Name] = e.Factory
		r.names = append(r.names, e.Name)
	}
	if _, ok := r.factories[defaultName]; !ok {
		return nil, errors.Errorf("default dataset %q is not registered", defaultName)
	}

	return r, nil
}

// Lookup returns the factory of name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	f, ok := r.factories[name]

	return f, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Default() string {
	return r.defaultName
}

// Select keeps the known names, once each and in order. Unknown names are logged and skipped. The
// default dataset is selected when nothing else is.
func (r *Registry) Select(logger logr.Logger, names []string) []string {
	seen := map[string]struct{}{}
	var selected []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.factories[name]; !ok {
			logger.Info("skipping unknown dataset", "dataset", name, "known", r.names)
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, name)
	}
	if len(selected) == 0 {
		logger.V(1).Info("no dataset selected, using the default", "dataset", r.defaultName)
		selected = []string{r.defaultName}
	}

	return selected
}
