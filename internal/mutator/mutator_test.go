package mutator

import (
	"bytes"
	"testing"
)

func TestEraseBytesRefusesToEmptyOneByteInput(t *testing.T) {
	m := New(1, DefaultKnobs())
	data := []byte{42}
	if m.EraseBytes(&data) {
		t.Fatalf("EraseBytes on a 1-byte input should fail")
	}
	if len(data) != 1 || data[0] != 42 {
		t.Fatalf("1-byte input must be left unchanged, got %v", data)
	}
}

func TestMutateManyRespectsAlignmentAndMaxLen(t *testing.T) {
	m := New(7, DefaultKnobs())
	if !m.SetSizeAlignment(4) {
		t.Fatalf("SetSizeAlignment(4) rejected")
	}
	if !m.SetMaxLen(16) {
		t.Fatalf("SetMaxLen(16) rejected")
	}
	parent := make([]byte, 5)
	mutants := m.MutateMany([][]byte{parent}, 200, 0)
	for i, mut := range mutants {
		if len(mut) == 0 || len(mut) > 16 {
			t.Fatalf("mutant %d has invalid size %d", i, len(mut))
		}
		if len(mut)%4 != 0 {
			t.Fatalf("mutant %d has unaligned size %d", i, len(mut))
		}
	}
}

func TestMutateManyProducesExactCount(t *testing.T) {
	m := New(3, DefaultKnobs())
	mutants := m.MutateMany([][]byte{{1, 2, 3}}, 37, 50)
	if len(mutants) != 37 {
		t.Fatalf("got %d mutants, want 37", len(mutants))
	}
}

func TestCmpDictionaryParsing(t *testing.T) {
	var d CmpDictionary
	data := []byte{2, 0xAA, 0xBB, 0xCC, 0xDD, 3, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	if !d.SetFromCmpData(data) {
		t.Fatalf("well-formed cmp data rejected")
	}
	if d.Size() != 2 {
		t.Fatalf("got %d pairs, want 2", d.Size())
	}

	suggestions := d.SuggestReplacement([]byte{0xAA, 0xBB, 0x00}, 10)
	found := false
	for _, s := range suggestions {
		if bytes.Equal(s, []byte{0xCC, 0xDD}) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected suggestion CC DD, got %v", suggestions)
	}
}

func TestCmpDictionaryIncompleteTrailingFrame(t *testing.T) {
	var d CmpDictionary
	good := []byte{2, 0xAA, 0xBB, 0xCC, 0xDD, 3, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	bad := append(append([]byte{}, good...), 5, 0x00, 0x00)

	if d.SetFromCmpData(bad) {
		t.Fatalf("expected incomplete trailing frame to report failure")
	}
	if d.Size() != 2 {
		t.Fatalf("good entries should remain accessible, got %d", d.Size())
	}
}

func TestOverwriteFromCmpDictionary(t *testing.T) {
	m := New(11, DefaultKnobs())
	m.SetCmpDictionary([]byte{2, 'h', 'i', 'y', 'o'})

	data := []byte("say hi there")
	if !m.OverwriteFromCmpDictionary(&data) {
		t.Fatalf("expected a match for 'hi' in input")
	}
	if !bytes.Contains(data, []byte("yo")) {
		t.Fatalf("expected replacement to appear, got %q", data)
	}
}

func TestInsertAndOverwriteFromDictionary(t *testing.T) {
	m := New(5, DefaultKnobs())
	m.AddToDictionary([][]byte{[]byte("ab"), []byte("cde")})

	data := []byte("xxxxxxxxxx")
	if !m.InsertFromDictionary(&data) {
		t.Fatalf("InsertFromDictionary failed with a non-empty dictionary")
	}

	data2 := []byte("0123456789")
	if !m.OverwriteFromDictionary(&data2) {
		t.Fatalf("OverwriteFromDictionary failed with a non-empty dictionary")
	}
	if len(data2) != 10 {
		t.Fatalf("OverwriteFromDictionary must not change length, got %d", len(data2))
	}
}

func TestCrossOverOverwritePreservesLength(t *testing.T) {
	m := New(9, DefaultKnobs())
	data := []byte("0123456789")
	orig := len(data)
	m.CrossOverOverwrite(&data, []byte("ABCDEFGHIJKLMNOP"))
	if len(data) != orig {
		t.Fatalf("CrossOverOverwrite changed length: %d -> %d", orig, len(data))
	}
}

func TestNewRejectsZeroSeed(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on zero seed")
		}
	}()
	New(0, DefaultKnobs())
}
