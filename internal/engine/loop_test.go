package engine

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
	"github.com/centipede-fuzz/centipede/internal/execbridge"
	"github.com/centipede-fuzz/centipede/internal/feature"
	"github.com/centipede-fuzz/centipede/internal/shardio"
)

// fakeBridge is a deterministic, in-memory execbridge.Bridge: Mutate
// hands back incrementing single-byte inputs instead of delegating to
// a real ByteArrayMutator, and Execute derives coverage from an
// input's first byte, so tests never depend on PRNG draws.
type fakeBridge struct {
	failOn            map[byte]bool
	failAll           bool
	failExitCode      int
	counter           byte
	lastCmpDictionary []byte
}

func (b *fakeBridge) DummyValidInput() []byte { return []byte{0} }

func (b *fakeBridge) Mutate(_ [][]byte, numMutants int) [][]byte {
	out := make([][]byte, numMutants)
	for i := 0; i < numMutants; i++ {
		b.counter++
		out[i] = []byte{b.counter}
	}
	return out
}

func (b *fakeBridge) SetCmpDictionary(cmpArgs []byte) { b.lastCmpDictionary = cmpArgs }

func (b *fakeBridge) AddToDictionary(_ [][]byte) {}

func (b *fakeBridge) Execute(_ context.Context, _ string, inputs [][]byte) (bool, execbridge.BatchResult, error) {
	var result execbridge.BatchResult
	for i, in := range inputs {
		if b.failAll || (len(in) > 0 && b.failOn[in[0]]) {
			result.ExitCode = b.failExitCode
			result.FailureDescription = "target aborted"
			result.NumOutputsRead = i
			return false, result, nil
		}
		var fv feature.FeatureVec
		if len(in) > 0 {
			fv = feature.FeatureVec{feature.EightBitCounters.ConvertToMe(uint64(in[0]))}
		}
		result.Results = append(result.Results, execbridge.PerInputResult{Features: fv})
		result.NumOutputsRead = i + 1
	}
	return true, result, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func baseEnv(t *testing.T) Environment {
	t.Helper()
	return Environment{
		WorkDir:         t.TempDir(),
		Binary:          "fake-target",
		NumRuns:         0,
		BatchSize:       1,
		MutateBatchSize: 1,
		Seed:            1,
		TotalShards:     1,
		MyShardIndex:    0,
		ScratchDir:      t.TempDir(),
	}
}

func TestRunSeedsEmptyCorpus(t *testing.T) {
	env := baseEnv(t)
	fl, err := NewFuzzingLoop(env, &fakeBridge{}, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	if err := fl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fl.Corpus().NumTotal(); got != 1 {
		t.Fatalf("corpus total = %d, want 1 (seed only)", got)
	}
}

func TestLoadShardIdempotent(t *testing.T) {
	env := baseEnv(t)

	input := []byte{7}
	fv := feature.FeatureVec{feature.EightBitCounters.ConvertToMe(7)}

	corpusAppender, err := blobfile.OpenAppender(shardio.CorpusPath(env.WorkDir, 0))
	if err != nil {
		t.Fatalf("opening corpus appender: %v", err)
	}
	if err := corpusAppender.Append(input); err != nil {
		t.Fatalf("appending corpus entry: %v", err)
	}
	corpusAppender.Close()

	featuresAppender, err := blobfile.OpenAppender(shardio.FeaturesPath(env.WorkDir, 0))
	if err != nil {
		t.Fatalf("opening features appender: %v", err)
	}
	if err := featuresAppender.Append(shardio.PackFeaturesAndHash(input, fv)); err != nil {
		t.Fatalf("appending features entry: %v", err)
	}
	featuresAppender.Close()

	fl, err := NewFuzzingLoop(env, &fakeBridge{}, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	ctx := context.Background()
	if err := fl.LoadShard(ctx, 0, true); err != nil {
		t.Fatalf("first LoadShard: %v", err)
	}
	sizeAfterFirst := fl.FeatureSet().Size()
	totalAfterFirst := fl.Corpus().NumTotal()
	if totalAfterFirst != 1 {
		t.Fatalf("corpus total after first load = %d, want 1", totalAfterFirst)
	}

	if err := fl.LoadShard(ctx, 0, true); err != nil {
		t.Fatalf("second LoadShard: %v", err)
	}
	if got := fl.FeatureSet().Size(); got != sizeAfterFirst {
		t.Fatalf("feature set size changed on repeat load: %d -> %d", sizeAfterFirst, got)
	}
	if got := fl.Corpus().NumTotal(); got != totalAfterFirst {
		t.Fatalf("corpus total changed on repeat load: %d -> %d", totalAfterFirst, got)
	}
}

func TestCrashMinimizationWritesOneReproducer(t *testing.T) {
	env := baseEnv(t)
	env.NumRuns = 1
	env.BatchSize = 5
	env.MutateBatchSize = 1
	reproDir := t.TempDir()
	env.CrashReproducerDir = reproDir

	bridge := &fakeBridge{failOn: map[byte]bool{3: true}, failExitCode: 7}
	fl, err := NewFuzzingLoop(env, bridge, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	if err := fl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(reproDir)
	if err != nil {
		t.Fatalf("reading reproducer dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("reproducer dir has %d entries, want exactly 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(reproDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading reproducer file: %v", err)
	}
	if len(data) != 1 || data[0] != 3 {
		t.Fatalf("reproducer content = %v, want [3]", data)
	}
	if fl.crashReports != 1 {
		t.Fatalf("crashReports = %d, want 1", fl.crashReports)
	}
}

func TestCrashExitsEarlyWhenConfigured(t *testing.T) {
	resetEarlyExit()
	defer resetEarlyExit()

	env := baseEnv(t)
	env.NumRuns = 2
	env.BatchSize = 1
	env.MutateBatchSize = 1
	env.ExitOnCrash = true
	env.CrashReproducerDir = t.TempDir()

	bridge := &fakeBridge{failOn: map[byte]bool{1: true}, failExitCode: 1}
	fl, err := NewFuzzingLoop(env, bridge, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	if err := fl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	requested, code := EarlyExitRequested()
	if !requested || code != 1 {
		t.Fatalf("expected early exit requested with code 1, got requested=%v code=%d", requested, code)
	}
}

// TestCrashReportsSuppressedAfterCap drives handleCrash directly
// MaxNumCrashReports+1 times (bypassing Run's own early-exit-on-cap
// shortcut) to confirm the cap check in handleCrash itself -- not
// just the early exit it may also trigger -- is what stops reports
// and reproducers from growing past the configured maximum.
func TestCrashReportsSuppressedAfterCap(t *testing.T) {
	resetEarlyExit()
	defer resetEarlyExit()

	env := baseEnv(t)
	env.MaxNumCrashReports = 2
	reproDir := t.TempDir()
	env.CrashReproducerDir = reproDir

	bridge := &fakeBridge{failAll: true, failExitCode: 9}
	fl, err := NewFuzzingLoop(env, bridge, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}

	for i := 0; i < env.MaxNumCrashReports+1; i++ {
		batch := [][]byte{{byte(i + 1)}}
		result := execbridge.BatchResult{NumOutputsRead: 0, ExitCode: 9, FailureDescription: "target aborted"}
		if err := fl.handleCrash(context.Background(), batch, result); err != nil {
			t.Fatalf("handleCrash[%d]: %v", i, err)
		}
	}

	if fl.crashReports != env.MaxNumCrashReports {
		t.Fatalf("crashReports = %d, want %d (capped)", fl.crashReports, env.MaxNumCrashReports)
	}
	entries, err := os.ReadDir(reproDir)
	if err != nil {
		t.Fatalf("reading reproducer dir: %v", err)
	}
	if len(entries) != env.MaxNumCrashReports {
		t.Fatalf("reproducer dir has %d entries, want exactly %d", len(entries), env.MaxNumCrashReports)
	}
}

func TestBatchSizeControlsExecutedBatch(t *testing.T) {
	env := baseEnv(t)
	env.NumRuns = 1
	env.BatchSize = 4
	env.MutateBatchSize = 1

	fl, err := NewFuzzingLoop(env, &fakeBridge{}, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	if err := fl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 1 seed + up to 4 distinct mutants, each carrying a distinct
	// first-byte feature (1,2,3,4 -- none collide with the seed's 0).
	if got := fl.Corpus().NumTotal(); got != 5 {
		t.Fatalf("corpus total = %d, want 5 (1 seed + 4 novel mutants)", got)
	}
}

func TestRunBatchSetsCmpDictionaryFromFirstParent(t *testing.T) {
	env := baseEnv(t)
	env.BatchSize = 1
	env.MutateBatchSize = 1

	bridge := &fakeBridge{}
	fl, err := NewFuzzingLoop(env, bridge, testLogger())
	if err != nil {
		t.Fatalf("NewFuzzingLoop: %v", err)
	}
	cmpArgs := []byte{0xAA, 0xBB}
	fl.Corpus().Add([]byte{9}, feature.FeatureVec{feature.EightBitCounters.ConvertToMe(9)}, cmpArgs)

	if err := fl.openAppenders(); err != nil {
		t.Fatalf("openAppenders: %v", err)
	}
	defer fl.closeAppenders()

	// Only one active record exists, so selectParents always picks it
	// regardless of weighted/uniform sampling.
	if err := fl.runBatch(context.Background(), 0); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if string(bridge.lastCmpDictionary) != string(cmpArgs) {
		t.Fatalf("SetCmpDictionary called with %v, want %v", bridge.lastCmpDictionary, cmpArgs)
	}
}
