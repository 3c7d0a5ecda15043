package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tolerances holds the matching and validation thresholds. Loaded once at
// startup and handed to the pipeline as a plain value; per-document matcher
// and validator objects are built from it so no mutable configuration is ever
// shared across concurrent documents.
type Tolerances struct {
	Match struct {
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
		QuantityPct    float64 `yaml:"quantity_pct"`
	} `yaml:"match"`
	Validation struct {
		PricePct    float64 `yaml:"price_pct"`
		ProceedsPct float64 `yaml:"proceeds_pct"`
	} `yaml:"validation"`
}

func DefaultTolerances() Tolerances {
	var t Tolerances
	t.Match.FuzzyThreshold = 0.95
	t.Match.QuantityPct = 0.10
	t.Validation.PricePct = 0.05
	t.Validation.ProceedsPct = 0.05
	return t
}

// LoadTolerances reads the optional YAML overrides file. An empty path yields
// the defaults; a missing or unreadable file is an error so a deployment
// never silently runs with thresholds other than the ones it configured.
func LoadTolerances(path string) (Tolerances, error) {
	t := DefaultTolerances()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tolerances{}, fmt.Errorf("read tolerances file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tolerances{}, fmt.Errorf("parse tolerances file: %w", err)
	}
	return t.normalize(), nil
}

func (t Tolerances) normalize() Tolerances {
	def := DefaultTolerances()
	out := t
	if out.Match.FuzzyThreshold <= 0 || out.Match.FuzzyThreshold > 1 {
		out.Match.FuzzyThreshold = def.Match.FuzzyThreshold
	}
	if out.Match.QuantityPct <= 0 {
		out.Match.QuantityPct = def.Match.QuantityPct
	}
	if out.Validation.PricePct <= 0 {
		out.Validation.PricePct = def.Validation.PricePct
	}
	if out.Validation.ProceedsPct <= 0 {
		out.Validation.ProceedsPct = def.Validation.ProceedsPct
	}
	return out
}
