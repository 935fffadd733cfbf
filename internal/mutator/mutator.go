package mutator

import (
	"math"
	"math/rand"
)

// ByteArrayMutator turns parent inputs into mutant children. It holds
// a PRNG, a knobs table, a user dictionary, a CMP dictionary, and the
// size constraints (alignment, max length) mutants must respect. It
// is thread-compatible, not thread-safe: one instance per shard, used
// single-threaded by that shard's FuzzingLoop.
type ByteArrayMutator struct {
	rng           *rand.Rand
	knobs         Knobs
	dictionary    []DictEntry
	cmpDictionary CmpDictionary

	sizeAlignment uint64
	maxLen        uint64
}

// New builds a mutator with an explicitly seeded PRNG (seed must be
// non-zero: a zero seed would make the shard indistinguishable from
// an unseeded one and defeats reproducibility across restarts).
func New(seed uint64, knobs Knobs) *ByteArrayMutator {
	if seed == 0 {
		panic("mutator: seed must not be zero")
	}
	return &ByteArrayMutator{
		rng:           rand.New(rand.NewSource(int64(seed))),
		knobs:         knobs,
		sizeAlignment: 1,
		maxLen:        math.MaxUint64,
	}
}

// AddToDictionary appends entries to the internal user dictionary.
// Entries outside [MinEntrySize, MaxEntrySize] are silently skipped.
func (m *ByteArrayMutator) AddToDictionary(entries [][]byte) {
	for _, e := range entries {
		if de, ok := NewDictEntry(e); ok {
			m.dictionary = append(m.dictionary, de)
		}
	}
}

// SetCmpDictionary rebuilds the internal CMP dictionary from a
// cmp_args blob. See CmpDictionary.SetFromCmpData for the error
// contract.
func (m *ByteArrayMutator) SetCmpDictionary(cmpData []byte) bool {
	return m.cmpDictionary.SetFromCmpData(cmpData)
}

// SetSizeAlignment sets the alignment mutants with modified sizes
// must respect. Returns false (and leaves the mutator unchanged) if
// the current max length isn't a multiple of the new alignment.
func (m *ByteArrayMutator) SetSizeAlignment(alignment uint64) bool {
	if alignment == 0 {
		return false
	}
	if m.maxLen != math.MaxUint64 && m.maxLen%alignment != 0 {
		return false
	}
	m.sizeAlignment = alignment
	return true
}

// SetMaxLen sets the maximum length of generated mutants. Returns
// false (and leaves the mutator unchanged) if maxLen isn't a multiple
// of the current size alignment.
func (m *ByteArrayMutator) SetMaxLen(maxLen uint64) bool {
	if maxLen != math.MaxUint64 && maxLen%m.sizeAlignment != 0 {
		return false
	}
	m.maxLen = maxLen
	return true
}

// mutatorFn is a primitive mutator: it mutates *data in place (it may
// reassign *data to a differently-sized slice) and reports whether a
// mutation actually took place.
type mutatorFn func(*ByteArrayMutator, *[]byte) bool

// allMutators lists every primitive mutator ApplyOneOf may pick from.
func (m *ByteArrayMutator) allMutators() []mutatorFn {
	return []mutatorFn{
		(*ByteArrayMutator).FlipBit,
		(*ByteArrayMutator).SwapBytes,
		(*ByteArrayMutator).ChangeByte,
		(*ByteArrayMutator).InsertBytes,
		(*ByteArrayMutator).EraseBytes,
		(*ByteArrayMutator).InsertFromDictionary,
		(*ByteArrayMutator).OverwriteFromDictionary,
		(*ByteArrayMutator).OverwriteFromCmpDictionary,
	}
}

// ApplyOneOf samples a uniformly random mutator from fns and applies
// it, retrying up to 10 times if the chosen one declines to mutate
// (e.g. EraseBytes on a 1-byte input, or a dictionary mutator with no
// dictionary loaded). A final false is acceptable: callers must
// tolerate "mutant equals parent".
func (m *ByteArrayMutator) applyOneOf(fns []mutatorFn, data *[]byte) bool {
	for iter := 0; iter < 10; iter++ {
		fn := fns[m.rng.Intn(len(fns))]
		if fn(m, data) {
			return true
		}
	}
	return false
}

// FlipBit flips one random bit.
func (m *ByteArrayMutator) FlipBit(data *[]byte) bool {
	d := *data
	if len(d) == 0 {
		return false
	}
	bit := m.rng.Intn(len(d) * 8)
	d[bit/8] ^= 1 << uint(bit%8)
	return true
}

// SwapBytes swaps two random byte positions.
func (m *ByteArrayMutator) SwapBytes(data *[]byte) bool {
	d := *data
	if len(d) < 2 {
		return false
	}
	i, j := m.rng.Intn(len(d)), m.rng.Intn(len(d))
	d[i], d[j] = d[j], d[i]
	return true
}

// ChangeByte replaces one byte with a uniformly random byte.
func (m *ByteArrayMutator) ChangeByte(data *[]byte) bool {
	d := *data
	if len(d) == 0 {
		return false
	}
	d[m.rng.Intn(len(d))] = byte(m.rng.Intn(256))
	return true
}

// InsertBytes inserts 1..k random bytes at a random position, rounded
// to respect size alignment and max length.
func (m *ByteArrayMutator) InsertBytes(data *[]byte) bool {
	d := *data
	n := m.roundUpToAdd(len(d), 1+m.rng.Intn(m.knobs.InsertMaxBytes))
	if n == 0 {
		return false
	}
	pos := m.rng.Intn(len(d) + 1)
	ins := make([]byte, n)
	for i := range ins {
		ins[i] = byte(m.rng.Intn(256))
	}
	out := make([]byte, 0, len(d)+n)
	out = append(out, d[:pos]...)
	out = append(out, ins...)
	out = append(out, d[pos:]...)
	*data = out
	return true
}

// EraseBytes removes 1..k bytes at a random position, rounded to
// respect size alignment. Refuses to empty the input.
func (m *ByteArrayMutator) EraseBytes(data *[]byte) bool {
	d := *data
	if len(d) <= 1 {
		return false
	}
	n := m.roundDownToRemove(len(d), 1+m.rng.Intn(m.knobs.EraseMaxBytes))
	if n <= 0 || n >= len(d) {
		return false
	}
	pos := m.rng.Intn(len(d) - n + 1)
	out := make([]byte, 0, len(d)-n)
	out = append(out, d[:pos]...)
	out = append(out, d[pos+n:]...)
	*data = out
	return true
}

// InsertFromDictionary inserts a random user-dictionary entry at a
// random position.
func (m *ByteArrayMutator) InsertFromDictionary(data *[]byte) bool {
	if len(m.dictionary) == 0 {
		return false
	}
	e := m.dictionary[m.rng.Intn(len(m.dictionary))]
	d := *data
	pos := m.rng.Intn(len(d) + 1)
	out := make([]byte, 0, len(d)+e.Len())
	out = append(out, d[:pos]...)
	out = append(out, e.Bytes()...)
	out = append(out, d[pos:]...)
	*data = out
	return true
}

// OverwriteFromDictionary overwrites a random region with a random
// user-dictionary entry. Fails if the input is shorter than the
// entry.
func (m *ByteArrayMutator) OverwriteFromDictionary(data *[]byte) bool {
	if len(m.dictionary) == 0 {
		return false
	}
	e := m.dictionary[m.rng.Intn(len(m.dictionary))]
	d := *data
	if len(d) < e.Len() {
		return false
	}
	pos := m.rng.Intn(len(d) - e.Len() + 1)
	copy(d[pos:pos+e.Len()], e.Bytes())
	return true
}

// OverwriteFromCmpDictionary finds a position where some A in the CMP
// dictionary matches, and replaces that A-sized region with its
// paired B. SetFromCmpData gives A and B the same length, so the
// input's size does not change.
func (m *ByteArrayMutator) OverwriteFromCmpDictionary(data *[]byte) bool {
	d := *data
	replacements := m.cmpDictionary.FindReplacements(d)
	if len(replacements) == 0 {
		return false
	}
	if len(replacements) > m.knobs.CmpDictionaryCapacity {
		replacements = replacements[:m.knobs.CmpDictionaryCapacity]
	}
	r := replacements[m.rng.Intn(len(replacements))]
	out := make([]byte, 0, len(d)-len(r.A)+len(r.B))
	out = append(out, d[:r.Pos]...)
	out = append(out, r.B...)
	out = append(out, d[r.Pos+len(r.A):]...)
	*data = out
	return true
}
