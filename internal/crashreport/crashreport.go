// Package crashreport trims a crashed target's captured log down to a
// stable suppression key, using the same github.com/maruel/panicparse
// stack-parsing the teacher already depends on for the identical
// purpose (runtime/worker.go: extractSuppression), generalized here
// to an arbitrary target's first goroutine rather than one tied to a
// specific "main.(*Fuzzer).runFuzzFunc" frame boundary.
package crashreport

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/maruel/panicparse/stack"
)

// Report is one crash-minimization outcome.
type Report struct {
	Binary             string
	ExitCode           int
	FailureDescription string
	BatchSize          int
	Log                []byte
	Suppression        []byte
	SuppressionHash    string
	ReproducerInput    []byte // nil if the crash could not be minimized to a single input
	ReproducerPath     string
	Time               time.Time
}

// String renders the log line: binary path, exit code, failure
// description, batch size, and trimmed target log -- the fields
// spec.md's crash minimization step 1 requires. SuppressionHash is
// included as the dedup key a human (or a suppression list) keys off
// of instead of the full, possibly-multi-line Suppression text.
func (r Report) String() string {
	return fmt.Sprintf("crash: binary=%s exit=%d batch_size=%d desc=%q suppression=%s\n%s",
		r.Binary, r.ExitCode, r.BatchSize, r.FailureDescription, r.SuppressionHash, r.Suppression)
}

// ExtractSuppression trims a raw crash log down to a suppression key:
// the source line and call stack of the first goroutine in the dump,
// falling back to the raw log unchanged if it doesn't parse as a Go
// panic dump (the target may not even be a Go binary).
func ExtractSuppression(log []byte) []byte {
	ctx, err := stack.ParseDump(bytes.NewBuffer(log), ioutil.Discard, false)
	if err != nil || ctx == nil {
		return log
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		return stackSuppression(gr)
	}
	return log
}

func stackSuppression(gr *stack.Goroutine) []byte {
	var out []byte
	calls := gr.Stack.Calls
	if len(calls) == 0 {
		return out
	}
	out = append(out, []byte(calls[0].FullSrcLine())...)
	for _, f := range calls[1:] {
		out = append(out, '\n')
		out = append(out, []byte(f.Func.PkgDotName())...)
	}
	return out
}

// HashSuppression returns a hex digest of a suppression key, used to
// dedupe crash reports that have already been seen.
func HashSuppression(suppression []byte) string {
	h := sha1.Sum(suppression)
	return hex.EncodeToString(h[:])
}

// WriteReproducer writes input to dir/<hash> and returns the path.
func WriteReproducer(dir string, hash string, input []byte, open func(path string) (io.WriteCloser, error)) (string, error) {
	path := dir + "/" + hash
	w, err := open(path)
	if err != nil {
		return "", fmt.Errorf("crashreport: opening reproducer file: %w", err)
	}
	defer w.Close()
	if _, err := w.Write(input); err != nil {
		return "", fmt.Errorf("crashreport: writing reproducer file: %w", err)
	}
	return path, nil
}
