// Package mutator implements the byte-array mutation engine: the
// family of input transformations (bit flips, byte swaps, dictionary
// splices, cross-over) that turn a batch of parent inputs into a
// batch of mutant children, guided by a per-shard PRNG, a user
// dictionary and a runtime CMP dictionary.
package mutator

// MinEntrySize/MaxEntrySize bound a dictionary entry's length. 1-byte
// entries carry essentially no information for prefix matching and
// are rejected, just as longer-than-15-byte entries are (matching
// DictEntry::kMaxEntrySize/kMinEntrySize in the reference design).
const (
	MinEntrySize = 2
	MaxEntrySize = 15
)

// DictEntry is an immutable byte sequence of length [MinEntrySize,
// MaxEntrySize], usable either as a standalone user-dictionary word
// or as one half of a CmpDictionary pair.
type DictEntry struct {
	bytes []byte
}

// NewDictEntry validates and copies b into a DictEntry. It returns
// false if b's length is out of [MinEntrySize, MaxEntrySize].
func NewDictEntry(b []byte) (DictEntry, bool) {
	if len(b) < MinEntrySize || len(b) > MaxEntrySize {
		return DictEntry{}, false
	}
	return DictEntry{bytes: append([]byte(nil), b...)}, true
}

// Bytes returns the entry's contents. Callers must not mutate it.
func (d DictEntry) Bytes() []byte { return d.bytes }

// Len returns the entry's length in bytes.
func (d DictEntry) Len() int { return len(d.bytes) }
