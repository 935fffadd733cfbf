package engine

import (
	"github.com/centipede-fuzz/centipede/internal/feature"
	"github.com/centipede-fuzz/centipede/internal/frontier"
)

// FunctionFilter restricts which novel inputs are allowed into the
// corpus to those that exercise at least one function from an
// allow-list, derived from a textual list of function names matched
// against the target's symbol info (frontier.BinaryInfo). Inputs that
// fail the filter still contribute to FeatureSet frequencies -- only
// Corpus admission is gated.
type FunctionFilter struct {
	allowedPCs map[uint64]struct{}
}

// NewFunctionFilter resolves names against bin's function table and
// builds the PC-range allow-set. Unknown names are ignored: a typo in
// the filter list degrades to "no functions matched", not a fatal
// error (matching the error-handling policy's "local recovery for
// data-shape errors").
func NewFunctionFilter(names []string, bin frontier.BinaryInfo) *FunctionFilter {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	allowed := make(map[uint64]struct{})
	for _, fn := range bin.Funcs {
		if _, ok := want[fn.Name]; !ok {
			continue
		}
		for pc := fn.PCBegin; pc < fn.PCEnd; pc++ {
			allowed[pc] = struct{}{}
		}
	}
	return &FunctionFilter{allowedPCs: allowed}
}

// Allows reports whether fv mentions at least one allowed function's
// PC range.
func (f *FunctionFilter) Allows(fv feature.FeatureVec) bool {
	if f == nil {
		return true
	}
	for _, feat := range fv {
		if !feature.EightBitCounters.Contains(feat) {
			continue
		}
		pc := feature.Convert8bitCounterFeatureToPcIndex(feat)
		if _, ok := f.allowedPCs[pc]; ok {
			return true
		}
	}
	return false
}
