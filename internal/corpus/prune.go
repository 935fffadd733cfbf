package corpus

import (
	"math"
	"math/rand"
	"sort"

	"github.com/centipede-fuzz/centipede/internal/feature"
)

// Prune keeps |active| <= maxActive while preserving feature
// coverage: a feature carried by no other active record protects its
// sole carrier from removal. Removal is logical only; pruned records
// stay allocated (disk history is immutable).
func (c *Corpus) Prune(fs *feature.FeatureSet, frontier FrontierMembership, maxActive int, rng *rand.Rand) {
	if maxActive <= 0 || c.NumActive() <= maxActive {
		return
	}
	c.RecomputeWeights(fs, frontier)

	carriers := c.featureCarrierCounts()
	c.removeRedundant(carriers, maxActive)

	if c.NumActive() <= maxActive {
		return
	}
	c.removeWeightedSubset(carriers, maxActive, rng)
}

// featureCarrierCounts counts, for each feature, how many active
// records currently carry it.
func (c *Corpus) featureCarrierCounts() map[feature.Feature]int {
	counts := make(map[feature.Feature]int)
	for _, r := range c.records {
		if !r.active {
			continue
		}
		for _, f := range r.Features {
			counts[f]++
		}
	}
	return counts
}

// soleCarrier reports whether r is the only active record carrying
// at least one of its features, per the current carrier counts. A
// record with no features (the seed) is always protected.
func soleCarrier(r *CorpusRecord, carriers map[feature.Feature]int) bool {
	if len(r.Features) == 0 {
		return true
	}
	for _, f := range r.Features {
		if carriers[f] <= 1 {
			return true
		}
	}
	return false
}

// removeRedundant deactivates, lightest-first, any active record that
// (at the moment it is considered) is not the sole carrier of any of
// its features. Counts are updated after each removal so a record
// that becomes a sole carrier mid-pass is protected from then on.
// Stops early once maxActive is reached.
func (c *Corpus) removeRedundant(carriers map[feature.Feature]int, maxActive int) {
	active := c.activeRecords()
	sort.SliceStable(active, func(i, j int) bool { return active[i].weight < active[j].weight })

	for _, r := range active {
		if c.NumActive() <= maxActive {
			return
		}
		if soleCarrier(r, carriers) {
			continue
		}
		r.active = false
		for _, f := range r.Features {
			carriers[f]--
		}
	}
}

// removeWeightedSubset removes the remaining excess via
// RandomWeightedSubset over the still-active, still-removable
// records (sole carriers are excluded from candidacy entirely).
func (c *Corpus) removeWeightedSubset(carriers map[feature.Feature]int, maxActive int, rng *rand.Rand) {
	excess := c.NumActive() - maxActive
	if excess <= 0 {
		return
	}
	candidates := make([]*CorpusRecord, 0)
	for _, r := range c.activeRecords() {
		if !soleCarrier(r, carriers) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return
	}
	if excess > len(candidates) {
		excess = len(candidates)
	}
	weights := make([]float64, len(candidates))
	for i, r := range candidates {
		weights[i] = r.weight
	}
	removed := RandomWeightedSubset(weights, excess, rng)
	for i, r := range candidates {
		if removed[i] {
			r.active = false
		}
	}
}

// RandomWeightedSubset picks exactly min(targetSize, len(weights))
// indices to select, favoring lower-weight elements: each element
// gets a key = u^(1/weight) for a fresh uniform u in (0,1); elements
// with weight 0 always get the lowest possible key (selected first).
// The targetSize elements with the lowest keys are returned as the
// selected subset -- this is the reservoir-sampling trick for
// "strictly higher probability of selection for lighter elements",
// applied here to choose which corpus records to prune.
func RandomWeightedSubset(weights []float64, targetSize int, rng *rand.Rand) []bool {
	n := len(weights)
	selected := make([]bool, n)
	if targetSize <= 0 || n == 0 {
		return selected
	}
	if targetSize >= n {
		for i := range selected {
			selected[i] = true
		}
		return selected
	}

	type keyed struct {
		idx int
		key float64
	}
	keys := make([]keyed, n)
	for i, w := range weights {
		if w <= 0 {
			keys[i] = keyed{i, -1} // always sorts first: guaranteed selection
			continue
		}
		u := rng.Float64()
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		keys[i] = keyed{i, math.Pow(u, 1.0/w)}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })
	for i := 0; i < targetSize; i++ {
		selected[keys[i].idx] = true
	}
	return selected
}
