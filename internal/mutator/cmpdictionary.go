package mutator

import "bytes"

// CmpDictionary maintains an easy-to-query set of (A, B) pairs such
// that a runtime comparison instruction "A CMP B" has been observed.
// It is rebuilt wholesale from each batch's cmp_args blob (see
// SetFromCmpData); it is not safe for concurrent use.
type CmpDictionary struct {
	pairs []cmpPair
}

type cmpPair struct {
	a, b DictEntry
}

// Replacement is one candidate substitution: B observed paired with A
// at the position in the input where A was found to match.
type Replacement struct {
	Pos int
	A   []byte
	B   []byte
}

// SetFromCmpData parses the wire format `len:u8 | A:len bytes | B:len
// bytes`, repeated, where 2<=len<=15 (ExecutorBridge's cmp_args
// framing). It replaces the dictionary's contents with whatever
// prefix of valid frames it could parse, and returns false if parsing
// stopped early due to malformed input -- the entries successfully
// parsed before the bad frame remain usable either way.
func (c *CmpDictionary) SetFromCmpData(data []byte) bool {
	var pairs []cmpPair
	ok := true
	for len(data) > 0 {
		n := int(data[0])
		data = data[1:]
		if n < MinEntrySize || n > MaxEntrySize {
			ok = false
			break
		}
		if len(data) < 2*n {
			ok = false
			break
		}
		a, aOk := NewDictEntry(data[:n])
		b, bOk := NewDictEntry(data[n : 2*n])
		data = data[2*n:]
		if !aOk || !bOk {
			ok = false
			break
		}
		pairs = append(pairs, cmpPair{a, b})
	}
	c.pairs = pairs
	return ok
}

// Size returns the number of dictionary entries.
func (c *CmpDictionary) Size() int { return len(c.pairs) }

// FindReplacements returns, in position order, every (pos, A, B) such
// that A occurs at data[pos:pos+len(A)] for some pair (A,B) in the
// dictionary. "A is a prefix of some region of the input" is
// equivalent to "A occurs starting at some position pos".
func (c *CmpDictionary) FindReplacements(data []byte) []Replacement {
	var out []Replacement
	for pos := range data {
		for _, p := range c.pairs {
			a := p.a.Bytes()
			if pos+len(a) > len(data) {
				continue
			}
			if bytes.Equal(data[pos:pos+len(a)], a) {
				out = append(out, Replacement{Pos: pos, A: a, B: p.b.Bytes()})
			}
		}
	}
	return out
}

// SuggestReplacement fills suggestions (up to capacity) with every B
// such that some (A,B) in the dictionary has A as a prefix of some
// suffix of data.
func (c *CmpDictionary) SuggestReplacement(data []byte, capacity int) [][]byte {
	var out [][]byte
	for i := 0; i < len(data) && len(out) < capacity; i++ {
		suffix := data[i:]
		for _, p := range c.pairs {
			if len(out) >= capacity {
				break
			}
			a := p.a.Bytes()
			if len(a) <= len(suffix) && bytes.Equal(suffix[:len(a)], a) {
				out = append(out, p.b.Bytes())
			}
		}
	}
	return out
}
