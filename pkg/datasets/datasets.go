// Package datasets registers the datasets vrdprep knows how to prepare.
package datasets

import (
	"github.com/askiada/vrdprep/internal/config"
	"github.com/askiada/vrdprep/pkg/datasets/visualgenome"
	"github.com/askiada/vrdprep/pkg/datasets/vrdjson"
	"github.com/askiada/vrdprep/pkg/transform"
)

// Registered dataset names.
const (
	VRD          = "vrd"
	VisualGenome = "vg"
)

// Default returns the registry of every supported dataset, VRD being the default one.
func Default() (*transform.Registry, error) {
	return transform.NewRegistry(VRD,
		transform.Entry{Name: VRD, Factory: NewVRD},
		transform.Entry{Name: VisualGenome, Factory: NewVisualGenome},
	)
}

// NewVRD prepares the Stanford VRD dataset. Its annotation files already split the images, so the
// predefined policy is the default.
func NewVRD(cfg config.DataConfig, deps transform.Deps) (transform.DatasetTransformer, error) {
	return transform.New(cfg, vrdjson.New(cfg.RawDir(), cfg.ImageBaseURL), deps,
		transform.WithDefaultPolicy(config.PolicyPredefined))
}

// NewVisualGenome prepares the Visual Genome dataset, split by hashing image ids.
func NewVisualGenome(cfg config.DataConfig, deps transform.Deps) (transform.DatasetTransformer, error) {
	return transform.New(cfg, visualgenome.New(cfg.RawDir(), cfg.ImageBaseURL), deps,
		transform.WithDefaultPolicy(config.PolicyHash))
}
