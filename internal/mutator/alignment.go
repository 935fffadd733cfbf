package mutator

// roundUpToAdd returns the number of bytes that should be added to an
// input of currSize so the resulting size is aligned, preferring the
// next larger aligned size. Returns 0 if currSize is already at or
// past maxLen.
func (m *ByteArrayMutator) roundUpToAdd(currSize, toAdd int) int {
	if uint64(currSize) >= m.maxLen {
		return 0
	}
	a := int(m.sizeAlignment)
	target := currSize + toAdd
	if a > 1 {
		if rem := target % a; rem != 0 {
			target += a - rem
		}
	}
	if uint64(target) > m.maxLen {
		target = int(m.maxLen)
		if a > 1 {
			target -= target % a
		}
		if target <= currSize {
			return 0
		}
	}
	return target - currSize
}

// roundDownToRemove returns the number of bytes that should be
// removed from an input of currSize so the resulting size is aligned,
// preferring the next smaller aligned size, but never returning a
// count that would empty the input: in that case the result leaves
// the input at min(currSize, size_alignment).
func (m *ByteArrayMutator) roundDownToRemove(currSize, toRemove int) int {
	if toRemove >= currSize {
		toRemove = currSize - 1
	}
	a := int(m.sizeAlignment)
	target := currSize - toRemove
	if a > 1 {
		target -= target % a
	}
	if target <= 0 {
		target = currSize
		if a < target {
			target = a
		}
	}
	if target >= currSize {
		return 0
	}
	return currSize - target
}
