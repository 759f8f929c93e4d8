package wave

import "testing"

func TestThresholds(t *testing.T) {
	base := DefaultOptions()
	tests := []struct {
		name        string
		strategy    ThresholdStrategy
		interactive bool
		level       int
		accept      int
		review      int
	}{
		{"fixed", StrategyFixed, false, 5, 70, 70},
		{"adaptive first level", StrategyAdaptive, false, 1, 70, 70},
		{"adaptive third level", StrategyAdaptive, false, 3, 64, 64},
		{"adaptive floor", StrategyAdaptive, false, 20, 55, 55},
		{"aggressive", StrategyAggressive, false, 1, 55, 55},
		{"conservative", StrategyConservative, false, 1, 85, 85},
		{"interactive fixed", StrategyFixed, true, 1, 70, 50},
		{"interactive adaptive", StrategyAdaptive, true, 3, 64, 50},
		{"interactive aggressive", StrategyAggressive, true, 1, 55, 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			o.Strategy = tt.strategy
			o.Interactive = tt.interactive
			accept, review := o.Thresholds(tt.level)
			if accept != tt.accept || review != tt.review {
				t.Errorf("Thresholds(%d) = %d/%d, want %d/%d", tt.level, accept, review, tt.accept, tt.review)
			}
			if review > accept {
				t.Errorf("review floor %d above accept %d", review, accept)
			}
		})
	}
}

func TestFamilyThresholdNeverBelowBase(t *testing.T) {
	o := DefaultOptions()
	if got := o.FamilyThreshold(10); got != o.FamilyMatchThreshold {
		t.Errorf("FamilyThreshold(10) = %d, want %d", got, o.FamilyMatchThreshold)
	}
}

func TestOptionsValidate(t *testing.T) {
	o := DefaultOptions()
	o.Strategy = ""
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if o.Strategy != StrategyAdaptive {
		t.Errorf("empty strategy defaulted to %q", o.Strategy)
	}

	bad := []func(*Options){
		func(o *Options) { o.Strategy = "random" },
		func(o *Options) { o.MinConfidenceThreshold = 90 },
		func(o *Options) { o.MaxCandidates = 0 },
		func(o *Options) { o.AutoMatchThreshold = 120 },
	}
	for i, mutate := range bad {
		o := DefaultOptions()
		mutate(&o)
		if err := o.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
