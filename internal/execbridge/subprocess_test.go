package execbridge

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/centipede-fuzz/centipede/internal/mutator"
)

// writeFakeTarget writes an executable shell script standing in for
// an instrumented binary under test: $1 is the input file, $2 is the
// result file it must populate.
func writeFakeTarget(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "target.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake target: %v", err)
	}
	return path
}

func TestExecuteAllSucceed(t *testing.T) {
	dir := t.TempDir()
	target := writeFakeTarget(t, dir, `printf '\001\000\000\000\000\000\000\000\000\000\000\000' > "$2"
exit 0
`)
	b := NewSubprocessBridge(dir, time.Second, 1, mutator.DefaultKnobs(), 0, 0)
	ok, result, err := b.Execute(context.Background(), target, [][]byte{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected success, got failure: %+v", result)
	}
	if result.NumOutputsRead != 3 {
		t.Fatalf("NumOutputsRead = %d, want 3", result.NumOutputsRead)
	}
	if len(result.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(result.Results))
	}
	for _, r := range result.Results {
		if len(r.Features) != 1 || r.Features[0] != 1 {
			t.Fatalf("unexpected features: %v", r.Features)
		}
	}
}

func TestExecuteStopsAtFailure(t *testing.T) {
	dir := t.TempDir()
	target := writeFakeTarget(t, dir, `
input=$(cat "$1")
if [ "$input" = "X" ]; then
  exit 7
fi
printf '' > "$2"
exit 0
`)
	b := NewSubprocessBridge(dir, time.Second, 1, mutator.DefaultKnobs(), 0, 0)
	ok, result, err := b.Execute(context.Background(), target, [][]byte{[]byte("a"), []byte("X"), []byte("b")})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected failure")
	}
	if result.NumOutputsRead != 1 {
		t.Fatalf("NumOutputsRead = %d, want 1 (one clean result before the failing input)", result.NumOutputsRead)
	}
	if result.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", result.ExitCode)
	}
}

func TestDecodeResultWithCmpArgs(t *testing.T) {
	fv := []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}
	cmp := []byte{0xAA, 0xBB, 0xCC}
	blob := append(append([]byte{}, fv...), cmp...)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(cmp)))
	blob = append(blob, lenBuf...)

	res := decodeResult(blob)
	if len(res.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(res.Features))
	}
	if string(res.CmpArgs) != string(cmp) {
		t.Fatalf("CmpArgs = %v, want %v", res.CmpArgs, cmp)
	}
}

func TestDummyValidInputAndMutate(t *testing.T) {
	b := NewSubprocessBridge(t.TempDir(), time.Second, 1, mutator.DefaultKnobs(), 0, 0)
	if len(b.DummyValidInput()) == 0 {
		t.Fatalf("expected a non-empty dummy input")
	}
	mutants := b.Mutate([][]byte{{1, 2, 3}}, 5)
	if len(mutants) != 5 {
		t.Fatalf("got %d mutants, want 5", len(mutants))
	}
}
