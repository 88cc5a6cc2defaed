package engine

import (
	"fmt"

	"github.com/registrylabs/pkgserve/internal/search/index"
	"github.com/registrylabs/pkgserve/pkg/config"
)

// FieldParams carries the BM25F constants for one field.
type FieldParams struct {
	Weight float64
	B      float64
}

// Params is the validated, field-indexed form of the search configuration.
// The feature boost is a linear combination: new features only need a
// weight entry, the scorer itself never changes.
type Params struct {
	K1             float64
	Fields         [index.NumFields]FieldParams
	FeatureWeights map[string]float64
}

// ParamsFromConfig resolves the named field configuration into dense
// per-field parameters. Config validation has already rejected bad values;
// this only checks that every configured field name exists.
func ParamsFromConfig(cfg config.SearchConfig) (Params, error) {
	p := Params{
		K1:             cfg.K1,
		FeatureWeights: cfg.FeatureWeights,
	}
	for f := 0; f < index.NumFields; f++ {
		// Fields missing from config get neutral defaults.
		p.Fields[f] = FieldParams{Weight: 1.0, B: 0.75}
	}
	for name, fc := range cfg.Fields {
		f, ok := index.FieldByName(name)
		if !ok {
			return Params{}, fmt.Errorf("unknown search field %q", name)
		}
		p.Fields[f] = FieldParams{Weight: fc.Weight, B: fc.B}
	}
	return p, nil
}

// fieldWeights resolves this query's effective field weights, applying any
// per-query overrides.
func (p Params) fieldWeights(overrides map[index.Field]float64) [index.NumFields]float64 {
	var w [index.NumFields]float64
	for f := 0; f < index.NumFields; f++ {
		w[f] = p.Fields[f].Weight
	}
	for f, ov := range overrides {
		if int(f) < index.NumFields && ov > 0 {
			w[f] = ov
		}
	}
	return w
}

// featureBoost computes the static-feature contribution for one document.
func (p Params) featureBoost(snap *index.Snapshot, doc uint32) float64 {
	var boost float64
	for name, weight := range p.FeatureWeights {
		boost += weight * snap.Feature(doc, name)
	}
	return boost
}
