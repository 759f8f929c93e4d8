package wave

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ThresholdStrategy selects how acceptance thresholds vary with level.
type ThresholdStrategy string

const (
	// StrategyFixed uses the configured thresholds at every level.
	StrategyFixed ThresholdStrategy = "fixed"
	// StrategyAdaptive lowers thresholds by AdaptiveStep per level past the
	// first, never below AdaptiveFloor.
	StrategyAdaptive ThresholdStrategy = "adaptive"
	// StrategyAggressive lowers every threshold by a fixed margin.
	StrategyAggressive ThresholdStrategy = "aggressive"
	// StrategyConservative raises every threshold by a fixed margin.
	StrategyConservative ThresholdStrategy = "conservative"
)

const strategyMargin = 15

// Options control one propagation run.
type Options struct {
	Strategy ThresholdStrategy `yaml:"strategy" json:"strategy"`

	// AutoMatchThreshold is the acceptance score in non-interactive runs.
	AutoMatchThreshold int `yaml:"auto_match_threshold" json:"auto_match_threshold"`
	// LowConfidenceThreshold is the acceptance score in interactive runs;
	// candidates at or above it are accepted without a prompt.
	LowConfidenceThreshold int `yaml:"low_confidence_threshold" json:"low_confidence_threshold"`
	// MinConfidenceThreshold is the floor of the review band; candidates
	// below it are rejected without a prompt.
	MinConfidenceThreshold int `yaml:"min_confidence_threshold" json:"min_confidence_threshold"`
	// FamilyMatchThreshold is the structural score a family pair needs.
	FamilyMatchThreshold int `yaml:"family_match_threshold" json:"family_match_threshold"`

	AdaptiveStep  int `yaml:"adaptive_step" json:"adaptive_step"`
	AdaptiveFloor int `yaml:"adaptive_floor" json:"adaptive_floor"`

	MaxLevel      int  `yaml:"max_level" json:"max_level"`
	MaxCandidates int  `yaml:"max_candidates" json:"max_candidates"`
	Interactive   bool `yaml:"interactive" json:"interactive"`
}

// DefaultOptions returns an adaptive, non-interactive configuration.
func DefaultOptions() Options {
	return Options{
		Strategy:               StrategyAdaptive,
		AutoMatchThreshold:     70,
		LowConfidenceThreshold: 70,
		MinConfidenceThreshold: 50,
		FamilyMatchThreshold:   35,
		AdaptiveStep:           3,
		AdaptiveFloor:          55,
		MaxLevel:               10,
		MaxCandidates:          3,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Strategy == "" {
		o.Strategy = StrategyAdaptive
	}
	return validation.ValidateStruct(o,
		validation.Field(&o.Strategy, validation.Required,
			validation.In(StrategyFixed, StrategyAdaptive, StrategyAggressive, StrategyConservative)),
		validation.Field(&o.AutoMatchThreshold, validation.Min(0), validation.Max(100)),
		validation.Field(&o.LowConfidenceThreshold, validation.Min(0), validation.Max(100)),
		validation.Field(&o.MinConfidenceThreshold, validation.Min(0), validation.Max(o.LowConfidenceThreshold)),
		validation.Field(&o.FamilyMatchThreshold, validation.Min(0), validation.Max(100)),
		validation.Field(&o.AdaptiveStep, validation.Min(0), validation.Max(50)),
		validation.Field(&o.AdaptiveFloor, validation.Min(0), validation.Max(100)),
		validation.Field(&o.MaxLevel, validation.Required, validation.Min(1)),
		validation.Field(&o.MaxCandidates, validation.Required, validation.Min(1)),
	)
}

// adjust applies the strategy to a base threshold for a mapping level.
func (o Options) adjust(base, level int) int {
	t := base
	switch o.Strategy {
	case StrategyAdaptive:
		t = base - o.AdaptiveStep*max(0, level-1)
		t = max(t, min(base, o.AdaptiveFloor))
	case StrategyAggressive:
		t = base - strategyMargin
	case StrategyConservative:
		t = base + strategyMargin
	}
	return min(100, max(0, t))
}

// Thresholds returns the acceptance score and the review floor for
// mappings created at level. In non-interactive runs both are equal, so
// nothing falls into the review band.
func (o Options) Thresholds(level int) (accept, review int) {
	if !o.Interactive {
		accept = o.adjust(o.AutoMatchThreshold, level)
		return accept, accept
	}
	accept = o.adjust(o.LowConfidenceThreshold, level)
	review = min(accept, o.adjust(o.MinConfidenceThreshold, level))
	return accept, review
}

// FamilyThreshold returns the structural threshold for family pairs
// examined while creating mappings at level.
func (o Options) FamilyThreshold(level int) int {
	return o.adjust(o.FamilyMatchThreshold, level)
}
