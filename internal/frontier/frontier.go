// Package frontier computes the coverage frontier: the set of target
// functions that still have unexplored edges reachable from edges the
// corpus has already proven reachable. It is an optional booster for
// corpus weighting, never a hard requirement for correctness.
package frontier

import (
	"sort"

	"github.com/centipede-fuzz/centipede/internal/corpus"
	"github.com/centipede-fuzz/centipede/internal/feature"
)

// FuncInfo describes one function of the target binary: its name and
// the contiguous range of PC indices belonging to it, as recovered
// from the target's symbol info (see LoadBinaryInfo).
type FuncInfo struct {
	Name    string
	PCBegin uint64 // inclusive
	PCEnd   uint64 // exclusive
}

// BinaryInfo is the static description of the target used to build a
// CoverageFrontier: the number of PCs in its flat PC table plus the
// function boundaries and names recovered from its symbol table.
type BinaryInfo struct {
	NumPCs int
	Funcs  []FuncInfo
}

// CoverageFrontier partitions the target's functions into
// fully-covered, partially-covered and never-seen, given the current
// Corpus. The frontier itself is the set of functions with at least
// one uncovered edge reachable from at least one covered edge (here
// approximated, as in the original, by "has both a covered and an
// uncovered PC" -- full control-flow reachability analysis is out of
// scope; this is the same approximation the original implementation
// uses for the same booster role).
type CoverageFrontier struct {
	bin   BinaryInfo
	funcs []funcCoverage
}

type funcCoverage struct {
	info    FuncInfo
	covered int
	total   int
}

// Status of one function relative to the current corpus.
type Status int

const (
	NeverSeen Status = iota
	PartiallyCovered
	FullyCovered
)

func (s Status) String() string {
	switch s {
	case FullyCovered:
		return "fully-covered"
	case PartiallyCovered:
		return "partially-covered"
	default:
		return "never-seen"
	}
}

// Build computes the frontier from bin and the PCs implied by every
// 8-bit-counter feature fs has observed. c is not read: records that
// are no longer active still count through fs.
func Build(bin BinaryInfo, c *corpus.Corpus, fs *feature.FeatureSet) *CoverageFrontier {
	covered := fs.ToCoveragePCs()

	funcs := make([]funcCoverage, len(bin.Funcs))
	for i, fi := range bin.Funcs {
		total := int(fi.PCEnd - fi.PCBegin)
		n := 0
		for pc := fi.PCBegin; pc < fi.PCEnd; pc++ {
			if _, ok := covered[pc]; ok {
				n++
			}
		}
		funcs[i] = funcCoverage{info: fi, covered: n, total: total}
	}
	return &CoverageFrontier{bin: bin, funcs: funcs}
}

// Status reports the coverage status of one function by name.
func (f *CoverageFrontier) Status(name string) Status {
	for _, fc := range f.funcs {
		if fc.info.Name == name {
			return fc.status()
		}
	}
	return NeverSeen
}

func (fc funcCoverage) status() Status {
	switch {
	case fc.total == 0 || fc.covered == 0:
		return NeverSeen
	case fc.covered >= fc.total:
		return FullyCovered
	default:
		return PartiallyCovered
	}
}

// FunctionsByStatus partitions every known function name by status,
// for telemetry.
func (f *CoverageFrontier) FunctionsByStatus() (fully, partial, never []string) {
	for _, fc := range f.funcs {
		switch fc.status() {
		case FullyCovered:
			fully = append(fully, fc.info.Name)
		case PartiallyCovered:
			partial = append(partial, fc.info.Name)
		default:
			never = append(never, fc.info.Name)
		}
	}
	sort.Strings(fully)
	sort.Strings(partial)
	sort.Strings(never)
	return fully, partial, never
}

// FrontierPCs returns the set of PC indices belonging to
// partially-covered functions -- a covered edge in such a function
// has an uncovered sibling reachable within the same function, which
// is the approximation this package uses for "frontier membership".
func (f *CoverageFrontier) FrontierPCs() map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for _, fc := range f.funcs {
		if fc.status() != PartiallyCovered {
			continue
		}
		for pc := fc.info.PCBegin; pc < fc.info.PCEnd; pc++ {
			out[pc] = struct{}{}
		}
	}
	return out
}

// ContainsAnyPC implements corpus.FrontierMembership: reports whether
// any of pcs falls within a partially-covered function's PC range.
func (f *CoverageFrontier) ContainsAnyPC(pcs map[uint64]struct{}) bool {
	for _, fc := range f.funcs {
		if fc.status() != PartiallyCovered {
			continue
		}
		for pc := range pcs {
			if pc >= fc.info.PCBegin && pc < fc.info.PCEnd {
				return true
			}
		}
	}
	return false
}
