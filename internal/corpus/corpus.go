// Package corpus holds the weighted collection of retained inputs a
// shard has accumulated, together with the prune policy that keeps
// its active size bounded while preserving feature coverage.
package corpus

import (
	"math"

	"github.com/centipede-fuzz/centipede/internal/feature"
)

// CorpusRecord is a retained (input, features, cmp_args) triple.
type CorpusRecord struct {
	Input    []byte
	Features feature.FeatureVec
	CmpArgs  []byte

	active bool
	weight float64
}

// Active reports whether r currently counts toward NumActive. Pruned
// records remain allocated (disk history is immutable) but stop
// participating in selection.
func (r *CorpusRecord) Active() bool { return r.active }

// Weight is the record's last-computed selection weight.
func (r *CorpusRecord) Weight() float64 { return r.weight }

// FrontierMembership tells Corpus whether any PC implied by a
// record's features belongs to the current coverage frontier. It is
// satisfied by internal/frontier.CoverageFrontier, kept as an
// interface here so that corpus never imports frontier (frontier
// already depends on corpus to read record features).
type FrontierMembership interface {
	ContainsAnyPC(pcs map[uint64]struct{}) bool
}

// Corpus is the ordered sequence of CorpusRecord a shard has
// accepted, plus the lazily-recomputed weights used for weighted
// sampling. Not safe for concurrent use: owned by one shard's
// FuzzingLoop.
type Corpus struct {
	records      []*CorpusRecord
	weightsStale bool
}

// New returns an empty corpus.
func New() *Corpus {
	return &Corpus{}
}

// Add appends a new record and marks weights stale.
func (c *Corpus) Add(input []byte, features feature.FeatureVec, cmpArgs []byte) *CorpusRecord {
	r := &CorpusRecord{Input: input, Features: features, CmpArgs: cmpArgs, active: true}
	c.records = append(c.records, r)
	c.weightsStale = true
	return r
}

// NumTotal returns the number of records ever added, active or not.
func (c *Corpus) NumTotal() int { return len(c.records) }

// NumActive returns the number of records currently active.
func (c *Corpus) NumActive() int {
	n := 0
	for _, r := range c.records {
		if r.active {
			n++
		}
	}
	return n
}

// MaxAndAvgSize returns the largest input size and the average input
// size across active records, for telemetry.
func (c *Corpus) MaxAndAvgSize() (max int, avg float64) {
	total, n := 0, 0
	for _, r := range c.records {
		if !r.active {
			continue
		}
		if len(r.Input) > max {
			max = len(r.Input)
		}
		total += len(r.Input)
		n++
	}
	if n > 0 {
		avg = float64(total) / float64(n)
	}
	return max, avg
}

// ActiveInputs returns the input bytes of every currently active
// record, in insertion order.
func (c *Corpus) ActiveInputs() [][]byte {
	out := make([][]byte, 0, len(c.records))
	for _, r := range c.records {
		if r.active {
			out = append(out, r.Input)
		}
	}
	return out
}

// activeRecords returns the active subset, in insertion order.
func (c *Corpus) activeRecords() []*CorpusRecord {
	out := make([]*CorpusRecord, 0, len(c.records))
	for _, r := range c.records {
		if r.active {
			out = append(out, r)
		}
	}
	return out
}

// RecomputeWeights rebuilds every active record's weight from
// (feature rarity, input size, frontier membership). WeightedRandom
// does not call it; the caller recomputes before a weighted draw when
// WeightsStale reports that Add has touched the corpus since the last
// computation.
func (c *Corpus) RecomputeWeights(fs *feature.FeatureSet, frontier FrontierMembership) {
	for _, r := range c.records {
		if !r.active {
			continue
		}
		r.weight = computeWeight(r, fs, frontier)
	}
	c.weightsStale = false
}

func computeWeight(r *CorpusRecord, fs *feature.FeatureSet, frontier FrontierMembership) float64 {
	if len(r.Features) == 0 {
		// The seed record: keep it selectable but never let it dominate.
		return 1.0
	}
	rarity := 0.0
	pcs := make(map[uint64]struct{}, len(r.Features))
	for _, f := range r.Features {
		freq := fs.Frequency(f)
		rarity += 1.0 / float64(freq+1)
		if feature.EightBitCounters.Contains(f) {
			pcs[feature.Convert8bitCounterFeatureToPcIndex(f)] = struct{}{}
		}
	}
	sizePenalty := 1.0 + math.Log2(float64(len(r.Input)+1))
	w := rarity / sizePenalty
	if frontier != nil && len(pcs) > 0 && frontier.ContainsAnyPC(pcs) {
		w *= 2.0
	}
	if w <= 0 {
		w = 1e-9
	}
	return w
}

// WeightsStale reports whether Add has appended records since the
// last RecomputeWeights call. The caller (FuzzingLoop) is expected to
// recompute before a weighted draw when this is true.
func (c *Corpus) WeightsStale() bool { return c.weightsStale }

// WeightedRandom selects one active record using draw as the source
// of randomness (a single uniform value in [0, 1<<63) is enough: it
// is scaled against the cumulative weight of active records). Callers
// must have called RecomputeWeights since the last Add (see
// WeightsStale). Stale weights are used as they stand, so a record
// added since the last computation has weight 0 and is not drawn
// unless every weight is 0, in which case selection is uniform.
// Returns nil if the corpus has no active records.
func (c *Corpus) WeightedRandom(draw uint64) *CorpusRecord {
	active := c.activeRecords()
	if len(active) == 0 {
		return nil
	}
	total := 0.0
	for _, r := range active {
		total += r.weight
	}
	if total <= 0 {
		return active[draw%uint64(len(active))]
	}
	target := (float64(draw%1_000_000_007) / 1_000_000_007.0) * total
	acc := 0.0
	for _, r := range active {
		acc += r.weight
		if target < acc {
			return r
		}
	}
	return active[len(active)-1]
}

// UniformRandom selects one active record uniformly, ignoring weight.
func (c *Corpus) UniformRandom(draw uint64) *CorpusRecord {
	active := c.activeRecords()
	if len(active) == 0 {
		return nil
	}
	return active[draw%uint64(len(active))]
}
