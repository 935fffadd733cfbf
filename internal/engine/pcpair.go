package engine

import "github.com/centipede-fuzz/centipede/internal/feature"

// pcPairSynthesizer holds the scratch buffer pc-pair synthesis needs
// across calls (quadratic work per spec.md §9's "scratch buffers...
// must be kept per-mutator-instance to avoid repeated allocation in
// hot paths" note) -- one instance lives on the FuzzingLoop, not
// recreated per batch.
type pcPairSynthesizer struct {
	numPCs uint64
	seen   map[uint64]struct{}
}

func newPCPairSynthesizer(numPCs uint64) *pcPairSynthesizer {
	return &pcPairSynthesizer{numPCs: numPCs, seen: make(map[uint64]struct{})}
}

// AddPCPairFeatures extracts every PC index implied by fv's 8-bit
// counter features and appends one synthetic feature.PCPair feature
// per unordered pair not already known to fs. Off by default
// (quadratic in the number of distinct PCs per input); call only
// after novelty has been computed on fv's real features, and before
// IncrementFrequencies, per the engine's ordering decision (§9 open
// question 1: novelty first, then pairs, then commit frequencies).
func (s *pcPairSynthesizer) AddPCPairFeatures(fv *feature.FeatureVec, fs *feature.FeatureSet) {
	if s.numPCs == 0 {
		return
	}
	var pcs []uint64
	for _, f := range *fv {
		if feature.EightBitCounters.Contains(f) {
			pcs = append(pcs, feature.Convert8bitCounterFeatureToPcIndex(f))
		}
	}
	for k := range s.seen {
		delete(s.seen, k)
	}
	for i := 0; i < len(pcs); i++ {
		for j := i + 1; j < len(pcs); j++ {
			num := feature.ConvertPcPairToNumber(pcs[i], pcs[j], s.numPCs)
			if _, dup := s.seen[num]; dup {
				continue
			}
			s.seen[num] = struct{}{}
			pairFeature := feature.PCPair.ConvertToMe(num)
			if fs.Frequency(pairFeature) > 0 {
				continue // already known: not worth adding again
			}
			*fv = append(*fv, pairFeature)
		}
	}
}
