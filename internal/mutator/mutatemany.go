package mutator

// MutateMany produces exactly numMutants mutants from parents. For
// each mutant it picks a parent uniformly, then either cross-breeds
// it with a second uniformly-picked parent (with probability
// crossoverLevel/100) or applies a single primitive mutation via
// ApplyOneOf. The result always satisfies the size constraints set by
// SetMaxLen/SetSizeAlignment.
func (m *ByteArrayMutator) MutateMany(parents [][]byte, numMutants int, crossoverLevel int) [][]byte {
	if len(parents) == 0 || numMutants == 0 {
		return nil
	}
	fns := m.allMutators()
	mutants := make([][]byte, numMutants)
	for i := 0; i < numMutants; i++ {
		parent := parents[m.rng.Intn(len(parents))]
		data := append([]byte(nil), parent...)

		if crossoverLevel > 0 && len(parents) > 1 && m.rng.Intn(100) < crossoverLevel {
			other := parents[m.rng.Intn(len(parents))]
			m.CrossOver(&data, other)
		} else {
			m.applyOneOf(fns, &data)
		}
		m.enforceSizeConstraints(&data)
		mutants[i] = data
	}
	return mutants
}

// enforceSizeConstraints clamps data to a non-empty size no greater
// than maxLen and, where achievable without emptying the input,
// aligned to sizeAlignment.
func (m *ByteArrayMutator) enforceSizeConstraints(data *[]byte) {
	d := *data
	if len(d) == 0 {
		d = []byte{0}
	}
	if uint64(len(d)) > m.maxLen {
		d = d[:m.maxLen]
	}
	if m.sizeAlignment > 1 {
		if rem := len(d) % int(m.sizeAlignment); rem != 0 {
			newLen := len(d) - rem
			if newLen == 0 {
				newLen = len(d)
				if int(m.sizeAlignment) < newLen {
					newLen = int(m.sizeAlignment)
				}
			}
			if uint64(newLen) > m.maxLen {
				newLen = int(m.maxLen)
			}
			if newLen <= 0 {
				newLen = 1
			}
			d = d[:newLen]
		}
	}
	*data = d
}
