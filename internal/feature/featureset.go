package feature

// DefaultFrequencyThreshold is the saturation point used when the
// environment doesn't override it. Matches the "e.g. 100" example in
// the engine design.
const DefaultFrequencyThreshold = 100

// FeatureSet maintains an observed frequency per Feature. A feature
// is saturated once its frequency reaches threshold; saturated
// features are ignored in novelty checks so that ubiquitous edges
// stop rewarding the search.
//
// FeatureSet is not safe for concurrent use: it is owned exclusively
// by one shard's FuzzingLoop goroutine.
type FeatureSet struct {
	threshold uint32
	freq      map[Feature]uint32
}

// NewFeatureSet builds an empty set with the given saturation threshold.
// A threshold of 0 is rejected in favor of DefaultFrequencyThreshold,
// since a zero threshold would saturate every feature on first sight.
func NewFeatureSet(threshold uint32) *FeatureSet {
	if threshold == 0 {
		threshold = DefaultFrequencyThreshold
	}
	return &FeatureSet{threshold: threshold, freq: make(map[Feature]uint32)}
}

// Frequency returns the observed frequency of f, 0 if never seen.
func (fs *FeatureSet) Frequency(f Feature) uint32 {
	return fs.freq[f]
}

// Size returns the number of distinct features ever observed.
func (fs *FeatureSet) Size() int {
	return len(fs.freq)
}

// CountFeatures returns the number of distinct observed features that
// belong to d. Used for telemetry breakdowns (cnt/df/cmp/path/pair).
func (fs *FeatureSet) CountFeatures(d Domain) int {
	n := 0
	for f := range fs.freq {
		if d.Contains(f) {
			n++
		}
	}
	return n
}

// CountUnseenAndPrune both filters and predicates: it removes from fv
// any feature that has saturated, then reports whether fv still
// contains at least one feature with frequency exactly 0 (i.e. truly
// novel). A false result is the caller's signal to discard the input;
// frequencies are not touched here (see IncrementFrequencies).
func (fs *FeatureSet) CountUnseenAndPrune(fv *FeatureVec) bool {
	kept := (*fv)[:0]
	anyUnseen := false
	for _, f := range *fv {
		freq := fs.freq[f]
		if freq >= fs.threshold {
			continue // saturated: drop it
		}
		if freq == 0 {
			anyUnseen = true
		}
		kept = append(kept, f)
	}
	*fv = kept
	return anyUnseen
}

// IncrementFrequencies bumps every feature still present in fv by one.
// Call only after an input has been accepted as novel, and only after
// any synthetic pair features have already been appended to fv (see
// the engine's ordering note on pair-feature synthesis).
func (fs *FeatureSet) IncrementFrequencies(fv FeatureVec) {
	for _, f := range fv {
		fs.freq[f]++
	}
}

// ToCoveragePCs returns the set of PC indices implied by observed
// 8-bit-counter features, for telemetry (feature -> PC is
// Domain.ConvertFromMe, the inverse of Domain.ConvertToMe).
func (fs *FeatureSet) ToCoveragePCs() map[uint64]struct{} {
	pcs := make(map[uint64]struct{})
	for f := range fs.freq {
		if EightBitCounters.Contains(f) {
			pcs[Convert8bitCounterFeatureToPcIndex(f)] = struct{}{}
		}
	}
	return pcs
}
