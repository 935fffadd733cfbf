package execbridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/centipede-fuzz/centipede/internal/mutator"
	"github.com/centipede-fuzz/centipede/internal/shardio"
)

// SubprocessBridge runs the target as a fresh child process per
// input: each input is written to a scratch file, the binary is
// invoked with the scratch file path as argv[1] and a second path
// (argv[2]) it must write its result blob to, and the bridge reads
// that result back. This retargets the teacher's shared-memory comm
// file / pipe mechanics (go-fuzz/testee.go) from "coverage-instrumented
// Go binary with a custom mmap'd region" onto "arbitrary executable,
// file-based handoff" -- the same temp-file-and-os/exec idiom, a
// simpler wire contract.
//
// Result file format (written by the target on clean exit): the
// shardio feature-vector encoding (8 bytes little-endian per
// feature), followed by the cmp_args bytes, followed by a 4-byte
// little-endian trailer holding the length of cmp_args (0 when there
// are none).
type SubprocessBridge struct {
	ScratchDir string
	Timeout    time.Duration

	mut   *mutator.ByteArrayMutator
	execs uint64
}

// NewSubprocessBridge builds a bridge that delegates Mutate to an
// in-process ByteArrayMutator seeded from seed. sizeAlignment and
// maxLen are applied to that mutator if non-zero (zero means "use the
// mutator's own default": alignment 1, unbounded length); see
// Environment.Validate for the accompanying consistency check.
func NewSubprocessBridge(scratchDir string, timeout time.Duration, seed uint64, knobs mutator.Knobs, sizeAlignment, maxLen uint64) *SubprocessBridge {
	mut := mutator.New(seed, knobs)
	if sizeAlignment > 0 {
		mut.SetSizeAlignment(sizeAlignment)
	}
	if maxLen > 0 {
		mut.SetMaxLen(maxLen)
	}
	return &SubprocessBridge{
		ScratchDir: scratchDir,
		Timeout:    timeout,
		mut:        mut,
	}
}

// DummyValidInput returns a single zero byte: the minimal valid input
// most targets can parse trivially, used to warm up the process.
func (b *SubprocessBridge) DummyValidInput() []byte {
	return []byte{0}
}

// Mutate delegates to the bridge's own mutator instance.
func (b *SubprocessBridge) Mutate(inputs [][]byte, numMutants int) [][]byte {
	return b.mut.MutateMany(inputs, numMutants, 0)
}

// SetCmpDictionary forwards to the bridge's mutator.
func (b *SubprocessBridge) SetCmpDictionary(cmpArgs []byte) {
	b.mut.SetCmpDictionary(cmpArgs)
}

// AddToDictionary forwards to the bridge's mutator.
func (b *SubprocessBridge) AddToDictionary(entries [][]byte) {
	b.mut.AddToDictionary(entries)
}

// Execute runs binary once per input in inputs, in order, stopping at
// the first failure (non-zero exit, timeout, or signal). On stopping
// early, success is false and result.NumOutputsRead is the count of
// inputs that completed before the failing one.
func (b *SubprocessBridge) Execute(ctx context.Context, binary string, inputs [][]byte) (bool, BatchResult, error) {
	var result BatchResult
	for i, input := range inputs {
		res, err := b.runOne(ctx, binary, input)
		if err != nil {
			result.ExitCode = exitCodeOf(err)
			result.FailureDescription = err.Error()
			result.NumOutputsRead = i
			return false, result, nil
		}
		result.Results = append(result.Results, res)
		result.NumOutputsRead = i + 1
	}
	return true, result, nil
}

func (b *SubprocessBridge) runOne(ctx context.Context, bin string, input []byte) (PerInputResult, error) {
	atomic.AddUint64(&b.execs, 1)

	inputFile, err := b.writeScratch("input-", input)
	if err != nil {
		return PerInputResult{}, err
	}
	defer os.Remove(inputFile)

	resultFile := filepath.Join(b.ScratchDir, fmt.Sprintf("result-%d-%d", os.Getpid(), atomic.LoadUint64(&b.execs)))
	defer os.Remove(resultFile)

	runCtx := ctx
	var cancel context.CancelFunc
	if b.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, bin, inputFile, resultFile)
	cmd.Env = append(os.Environ(), "GOTRACEBACK=1")
	out, runErr := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGKILL)
		}
		return PerInputResult{}, fmt.Errorf("target timed out after %v: %s", b.Timeout, out)
	}
	if runErr != nil {
		return PerInputResult{}, fmt.Errorf("target exited with error: %w: %s", runErr, out)
	}

	blob, err := os.ReadFile(resultFile)
	if err != nil {
		// A target that produced no result file but exited 0 is treated
		// as "ran, found nothing": an empty result, not a failure.
		return PerInputResult{}, nil
	}
	return decodeResult(blob), nil
}

func (b *SubprocessBridge) writeScratch(prefix string, data []byte) (string, error) {
	f, err := os.CreateTemp(b.ScratchDir, prefix)
	if err != nil {
		return "", fmt.Errorf("execbridge: scratch file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("execbridge: writing scratch file: %w", err)
	}
	return f.Name(), nil
}

// decodeResult splits blob into a feature vector and a cmp_args block
// whose length is given by the final 4 bytes (see the SubprocessBridge doc
// comment for the wire format). Malformed trailers degrade to
// "feature vector only, no cmp_args" rather than failing the batch:
// a target miswriting its result shouldn't abort the whole run.
func decodeResult(blob []byte) PerInputResult {
	if len(blob) < 4 {
		fv, _ := shardio.DecodeFeatureVec(blob[:len(blob)-len(blob)%8])
		return PerInputResult{Features: fv}
	}
	cmpLen := binary.LittleEndian.Uint32(blob[len(blob)-4:])
	if int(cmpLen) > len(blob)-4 {
		fv, _ := shardio.DecodeFeatureVec(blob[:len(blob)-len(blob)%8])
		return PerInputResult{Features: fv}
	}
	cmpStart := len(blob) - 4 - int(cmpLen)
	fvBytes := blob[:cmpStart]
	cmpArgs := blob[cmpStart : cmpStart+int(cmpLen)]
	fv, ok := shardio.DecodeFeatureVec(fvBytes)
	if !ok {
		fv = nil
	}
	return PerInputResult{Features: fv, CmpArgs: cmpArgs}
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
