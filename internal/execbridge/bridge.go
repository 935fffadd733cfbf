// Package execbridge implements the ExecutorBridge contract: the
// opaque boundary between the engine and whatever actually runs the
// target and reports back coverage. The engine only ever sees this
// interface; SubprocessBridge is the one concrete implementation
// shipped here, adapted from the teacher's external-testee mechanics.
package execbridge

import (
	"context"

	"github.com/centipede-fuzz/centipede/internal/feature"
)

// PerInputResult is what one input in a batch produced.
type PerInputResult struct {
	Features feature.FeatureVec
	CmpArgs  []byte
}

// BatchResult is the outcome of one Execute call.
type BatchResult struct {
	ExitCode           int
	FailureDescription string
	Log                []byte
	Results            []PerInputResult
	NumOutputsRead     int
}

// Bridge is the ExecutorBridge contract the engine consumes.
type Bridge interface {
	// Execute runs the target against inputs as one batch. success is
	// false iff the target aborted before producing a result for every
	// input in the batch; BatchResult.Results then holds only the
	// first NumOutputsRead per-input results.
	Execute(ctx context.Context, binary string, inputs [][]byte) (success bool, result BatchResult, err error)

	// DummyValidInput returns a trivial input used to warm the target
	// on startup and to seed an empty corpus.
	DummyValidInput() []byte

	// Mutate asks the bridge to produce numMutants children of inputs.
	// The default SubprocessBridge delegates this to an in-process
	// ByteArrayMutator; a target-side mutator could override it.
	Mutate(inputs [][]byte, numMutants int) [][]byte

	// SetCmpDictionary installs the runtime comparison-argument
	// dictionary Mutate's OverwriteFromCmpDictionary primitive should
	// draw from.
	SetCmpDictionary(cmpArgs []byte)

	// AddToDictionary installs user-dictionary entries (spec.md §2's
	// Dictionaries component) that Mutate's InsertFromDictionary /
	// OverwriteFromDictionary primitives draw from.
	AddToDictionary(entries [][]byte)
}
