package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
	"github.com/centipede-fuzz/centipede/internal/corpus"
	"github.com/centipede-fuzz/centipede/internal/crashreport"
	"github.com/centipede-fuzz/centipede/internal/execbridge"
	"github.com/centipede-fuzz/centipede/internal/feature"
	"github.com/centipede-fuzz/centipede/internal/frontier"
	"github.com/centipede-fuzz/centipede/internal/shardio"
	"github.com/centipede-fuzz/centipede/internal/stats"
)

// crossoverLevel is a percentage chance for MutateMany to cross-breed
// two parents instead of applying a single primitive mutation. The
// loop does not pass it anywhere: Bridge.Mutate takes no crossover
// level, and SubprocessBridge.Mutate calls MutateMany with a level of 0.
const crossoverLevel = 30

// FuzzingLoop orchestrates one shard: corpus loading, mutation
// selection, batch execution, coverage accounting, pruning, periodic
// cross-shard sync and crash minimization. It is the generalization
// of the teacher's single-process Coordinator/Worker split
// (go-fuzz/coordinator.go, go-fuzz/worker.go) into one sequential,
// single-threaded per-shard loop, per spec.md §5's scheduling model.
type FuzzingLoop struct {
	Env    Environment
	Bridge execbridge.Bridge
	Bin    frontier.BinaryInfo
	Logger *log.Logger
	Stats  stats.Renderer
	FS     shardio.FileSystem

	fs     *feature.FeatureSet
	corpus *corpus.Corpus

	funcFilter  *FunctionFilter
	inputFilter *InputFilter
	pcPair      *pcPairSynthesizer
	front       corpus.FrontierMembership

	rng *rand.Rand

	loadMu sync.Mutex

	corpusAppender   *blobfile.Appender
	featuresAppender *blobfile.Appender

	startTime      time.Time
	lastNewInput   time.Time
	execs          uint64
	crashReports   int
	sinceLastPrune int
}

// NewFuzzingLoop validates env and builds a ready-to-run loop. Bridge
// owns mutation (Bridge.Mutate): the loop never mutates inputs itself,
// only selects which parents to hand the bridge.
func NewFuzzingLoop(env Environment, bridge execbridge.Bridge, logger *log.Logger) (*FuzzingLoop, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	fl := &FuzzingLoop{
		Env:    env,
		Bridge: bridge,
		Logger: logger,
		Stats:  stats.Renderer{Sink: func(line string) { logger.Println(line) }},
		FS:     shardio.LocalFileSystem{},

		fs:     feature.NewFeatureSet(env.FeatureFrequencyThreshold),
		corpus: corpus.New(),
		rng:    rand.New(rand.NewSource(int64(env.ShardSeed() ^ 0x5a5a5a5a5a5a5a5a))),
	}
	fl.inputFilter = &InputFilter{Command: env.InputFilter, ScratchDir: env.ScratchDir}
	return fl, nil
}

// SetBinaryInfo installs the target's static layout, enabling the
// coverage frontier, the function filter, and PC-pair synthesis.
// Optional: an empty BinaryInfo leaves the frontier and PC-pair
// synthesis disabled, and a configured function filter then matches
// no function, so it admits no input to the corpus.
func (fl *FuzzingLoop) SetBinaryInfo(bin frontier.BinaryInfo) {
	fl.Bin = bin
	fl.funcFilter = NewFunctionFilter(fl.Env.FunctionFilter, bin)
	if fl.Env.UsePCPairFeatures && bin.NumPCs > 0 {
		fl.pcPair = newPCPairSynthesizer(uint64(bin.NumPCs))
	}
}

// Corpus exposes the loop's corpus for telemetry/inspection.
func (fl *FuzzingLoop) Corpus() *corpus.Corpus { return fl.corpus }

// FeatureSet exposes the loop's feature set for telemetry/inspection.
func (fl *FuzzingLoop) FeatureSet() *feature.FeatureSet { return fl.fs }

// Run executes the full fuzzing-loop lifecycle: startup, load,
// optional merge, seeding, the main loop (until num_runs/batch_size
// iterations or an early exit), then a final telemetry dump.
func (fl *FuzzingLoop) Run(ctx context.Context) error {
	fl.startTime = time.Now()
	fl.lastNewInput = fl.startTime

	if err := fl.openAppenders(); err != nil {
		return err
	}
	defer fl.closeAppenders()

	// 1. Startup: warm the target with a dummy input.
	dummy := fl.Bridge.DummyValidInput()
	if ok, _, err := fl.Bridge.Execute(ctx, fl.Env.Binary, [][]byte{dummy}); err != nil {
		return fmt.Errorf("engine: startup execution failed: %w", err)
	} else if !ok {
		fl.Logger.Printf("engine: startup dummy input did not run cleanly, continuing anyway")
	}
	fl.Stats.Render(fl.snapshot())

	// 2. Load.
	if fl.Env.FullSync {
		for _, idx := range fl.shuffledShardIndices() {
			if err := fl.LoadShard(ctx, idx, true); err != nil {
				return err
			}
		}
	} else {
		if err := fl.LoadShard(ctx, fl.Env.MyShardIndex, true); err != nil {
			return err
		}
	}

	// 3. Optional merge.
	if fl.Env.MergeFrom != "" {
		if err := fl.mergeFrom(ctx, fl.Env.MergeFrom); err != nil {
			return err
		}
	}

	// 4. Seeding.
	if fl.corpus.NumTotal() == 0 {
		if err := fl.seed(ctx); err != nil {
			return err
		}
	}

	// 5. Main loop.
	iterations := (fl.Env.NumRuns + fl.Env.BatchSize - 1) / fl.Env.BatchSize
	for i := 0; i < iterations; i++ {
		if requested, _ := EarlyExitRequested(); requested {
			break
		}
		if err := fl.runBatch(ctx, i); err != nil {
			return err
		}
	}

	// 6. Finish.
	fl.Stats.Render(fl.snapshot())
	return nil
}

func (fl *FuzzingLoop) openAppenders() error {
	var err error
	fl.corpusAppender, err = blobfile.OpenAppender(shardio.CorpusPath(fl.Env.WorkDir, fl.Env.MyShardIndex))
	if err != nil {
		return fmt.Errorf("engine: opening corpus appender: %w", err)
	}
	fl.featuresAppender, err = blobfile.OpenAppender(shardio.FeaturesPath(fl.Env.WorkDir, fl.Env.MyShardIndex))
	if err != nil {
		return fmt.Errorf("engine: opening features appender: %w", err)
	}
	return nil
}

func (fl *FuzzingLoop) closeAppenders() {
	if fl.corpusAppender != nil {
		fl.corpusAppender.Close()
	}
	if fl.featuresAppender != nil {
		fl.featuresAppender.Close()
	}
}

func (fl *FuzzingLoop) shuffledShardIndices() []int {
	idx := make([]int, fl.Env.TotalShards)
	for i := range idx {
		idx[i] = i
	}
	fl.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}

func (fl *FuzzingLoop) seed(ctx context.Context) error {
	dummy := fl.Bridge.DummyValidInput()
	ok, result, err := fl.Bridge.Execute(ctx, fl.Env.Binary, [][]byte{dummy})
	if err != nil {
		return fmt.Errorf("engine: seeding execution failed: %w", err)
	}
	var fv feature.FeatureVec
	if ok && len(result.Results) > 0 {
		fv = result.Results[0].Features
	}
	fl.corpus.Add(dummy, fv, nil)
	return nil
}

// selectParents draws n parent records (with replacement) from the
// corpus's active records, weighted or uniform per
// Environment.UseCorpusWeights. Returns fewer than n only if the
// corpus is empty.
func (fl *FuzzingLoop) selectParents(n int) []*corpus.CorpusRecord {
	if fl.corpus.WeightsStale() {
		fl.corpus.RecomputeWeights(fl.fs, fl.front)
	}
	parents := make([]*corpus.CorpusRecord, 0, n)
	for i := 0; i < n; i++ {
		draw := fl.rng.Uint64()
		var rec *corpus.CorpusRecord
		if fl.Env.UseCorpusWeights {
			rec = fl.corpus.WeightedRandom(draw)
		} else {
			rec = fl.corpus.UniformRandom(draw)
		}
		if rec == nil {
			return parents
		}
		parents = append(parents, rec)
	}
	return parents
}

// runBatch is one main-loop iteration: select a parent pool, ask the
// bridge to mutate it into a batch, execute the batch, and ingest
// every result. A batch that fails partway triggers crash
// minimization instead of being silently dropped.
func (fl *FuzzingLoop) runBatch(ctx context.Context, batchIndex int) error {
	poolSize := fl.Env.MutateBatchSize
	if n := fl.corpus.NumActive(); n < poolSize {
		poolSize = n
	}
	pool := fl.selectParents(poolSize)
	if len(pool) == 0 {
		return fmt.Errorf("engine: corpus is empty, nothing to mutate from")
	}

	// Per spec.md §4.5 step 5a: the first selected parent's cmp_args
	// become the current CMP dictionary for this batch's mutation pass.
	if len(pool[0].CmpArgs) > 0 {
		fl.Bridge.SetCmpDictionary(pool[0].CmpArgs)
	}

	inputs := make([][]byte, len(pool))
	for i, rec := range pool {
		inputs[i] = rec.Input
	}
	mutants := fl.Bridge.Mutate(inputs, fl.Env.BatchSize)
	if len(mutants) == 0 {
		return nil
	}

	ok, result, err := fl.Bridge.Execute(ctx, fl.Env.Binary, mutants)
	fl.execs += uint64(len(mutants))
	if err != nil {
		return fmt.Errorf("engine: batch execution failed: %w", err)
	}
	if !ok {
		if err := fl.handleCrash(ctx, mutants, result); err != nil {
			return err
		}
	}

	gainedNewCoverage := false
	for i, res := range result.Results {
		// Polled inside the per-input iteration, not just at the batch
		// boundary in Run, so a signal arriving mid-batch still lets the
		// loop stop promptly once the in-flight batch's acceptances so
		// far are flushed (spec.md §5's cancellation model).
		if requested, _ := EarlyExitRequested(); requested {
			break
		}
		added, err := fl.ingestResult(ctx, mutants[i], res.Features, res.CmpArgs, true)
		if err != nil {
			return err
		}
		if added {
			fl.lastNewInput = time.Now()
			gainedNewCoverage = true
		}
	}

	fl.sinceLastPrune++
	if fl.Env.PruneFrequency > 0 && fl.sinceLastPrune >= fl.Env.PruneFrequency {
		fl.prune()
		fl.sinceLastPrune = 0
	}
	if fl.Env.LoadOtherShardFrequency > 0 && fl.Env.TotalShards > 1 &&
		batchIndex > 0 && batchIndex%fl.Env.LoadOtherShardFrequency == 0 {
		other := fl.rng.Intn(fl.Env.TotalShards - 1)
		if other >= fl.Env.MyShardIndex {
			other++
		}
		if err := fl.LoadShard(ctx, other, false); err != nil {
			fl.Logger.Printf("engine: resync from shard %d failed: %v", other, err)
		}
	}

	// Per spec.md §4.5 step 5e and original_source/centipede.cc's
	// UpdateAndMaybeLogStats(min_log_level=1): per-batch telemetry only
	// fires when the operator asked for it via --log-level, and even
	// then only on a batch that found new coverage or whose index is a
	// power of two (a "pulse" so a quiet run still shows signs of life).
	if fl.Env.LogLevel >= 1 && (gainedNewCoverage || isPowerOfTwoOrZero(batchIndex)) {
		fl.Stats.Render(fl.snapshot())
	}
	return nil
}

// isPowerOfTwoOrZero reports whether n is 0 or a power of two, using
// the same n&(n-1)==0 bit trick original_source/centipede.cc relies on
// for its "log every power-of-two batch" pulse.
func isPowerOfTwoOrZero(n int) bool {
	return n&(n-1) == 0
}

// prune rebuilds the coverage frontier (if enabled) and bounds the
// corpus's active size.
func (fl *FuzzingLoop) prune() {
	if fl.Env.UseCoverageFrontier && fl.Bin.NumPCs > 0 {
		fl.front = frontier.Build(fl.Bin, fl.corpus, fl.fs)
	}
	fl.corpus.Prune(fl.fs, fl.front, fl.Env.MaxCorpusSize, fl.rng)
}

// ingestResult runs one execution result through novelty detection,
// optional PC-pair synthesis, frequency accounting, the function and
// input filters, and (if accepted) Corpus.Add and optional disk
// persistence. It reports whether the input was added to the corpus.
//
// Per the engine's resolution of the ordering between novelty,
// pair synthesis and the function filter: frequencies are
// incremented whenever an input is genuinely novel, independent of
// whether the function filter later rejects it for Corpus admission
// -- only Corpus.Add and persistence are filter-gated.
func (fl *FuzzingLoop) ingestResult(ctx context.Context, input []byte, fv feature.FeatureVec, cmpArgs []byte, persist bool) (bool, error) {
	novel := fl.fs.CountUnseenAndPrune(&fv)
	if !novel {
		return false, nil
	}
	if fl.pcPair != nil {
		fl.pcPair.AddPCPairFeatures(&fv, fl.fs)
	}
	fl.fs.IncrementFrequencies(fv)

	if !fl.funcFilter.Allows(fv) {
		return false, nil
	}
	allowed, err := fl.inputFilter.Allows(ctx, input)
	if err != nil {
		return false, fmt.Errorf("engine: input filter: %w", err)
	}
	if !allowed {
		return false, nil
	}

	fl.corpus.Add(input, fv, cmpArgs)
	if len(cmpArgs) > 0 {
		fl.Bridge.SetCmpDictionary(cmpArgs)
	}
	if persist {
		if err := fl.persist(input, fv); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (fl *FuzzingLoop) persist(input []byte, fv feature.FeatureVec) error {
	if err := fl.corpusAppender.Append(input); err != nil {
		return fmt.Errorf("engine: appending corpus entry: %w", err)
	}
	if err := fl.featuresAppender.Append(shardio.PackFeaturesAndHash(input, fv)); err != nil {
		return fmt.Errorf("engine: appending features entry: %w", err)
	}
	for _, dir := range fl.Env.CorpusDir {
		if err := shardio.WriteToLocalHashedFileInDir(dir, input); err != nil {
			return fmt.Errorf("engine: mirroring to corpus dir %s: %w", dir, err)
		}
	}
	return nil
}

// LoadShard absorbs shardIndex's corpus and features files into this
// loop's in-memory FeatureSet and Corpus. Entries with no recorded
// features are skipped unless rerun is true, in which case the input
// is replayed to recover its features. Loaded entries are never
// re-persisted: they already live on disk.
func (fl *FuzzingLoop) LoadShard(ctx context.Context, shardIndex int, rerun bool) error {
	if fl.Env.SerializeShardLoads {
		fl.loadMu.Lock()
		defer fl.loadMu.Unlock()
	}
	entries := shardio.ReadShard(
		shardio.CorpusPath(fl.Env.WorkDir, shardIndex),
		shardio.FeaturesPath(fl.Env.WorkDir, shardIndex),
	)
	for _, e := range entries {
		fv := e.Features
		if fv == nil {
			if !rerun {
				continue
			}
			ok, result, err := fl.Bridge.Execute(ctx, fl.Env.Binary, [][]byte{e.Input})
			fl.execs++
			if err != nil {
				return fmt.Errorf("engine: rerunning shard %d entry: %w", shardIndex, err)
			}
			if !ok || len(result.Results) == 0 {
				continue // no longer reproduces cleanly: skip rather than re-report as a crash
			}
			fv = result.Results[0].Features
		}
		added, err := fl.ingestResult(ctx, e.Input, fv, nil, false)
		if err != nil {
			return err
		}
		if added {
			fl.lastNewInput = time.Now()
		}
	}
	return nil
}

// mergeFrom absorbs every shard of a foreign workdir into this loop,
// persisting every newly-accepted input into this shard's own files
// (unlike LoadShard, which never re-persists).
func (fl *FuzzingLoop) mergeFrom(ctx context.Context, foreignWorkdir string) error {
	for shard := 0; shard < fl.Env.TotalShards; shard++ {
		entries := shardio.ReadShard(
			shardio.CorpusPath(foreignWorkdir, shard),
			shardio.FeaturesPath(foreignWorkdir, shard),
		)
		for _, e := range entries {
			fv := e.Features
			if fv == nil {
				ok, result, err := fl.Bridge.Execute(ctx, fl.Env.Binary, [][]byte{e.Input})
				fl.execs++
				if err != nil {
					return fmt.Errorf("engine: merge replay failed: %w", err)
				}
				if !ok || len(result.Results) == 0 {
					continue
				}
				fv = result.Results[0].Features
			}
			added, err := fl.ingestResult(ctx, e.Input, fv, nil, true)
			if err != nil {
				return err
			}
			if added {
				fl.lastNewInput = time.Now()
			}
		}
	}
	return nil
}

// handleCrash runs crash minimization per the suspect-first replay
// order: the input the batch executor already identified as the
// break point (result.NumOutputsRead) is retried alone first, and
// only on a mismatch does minimization fall back to trying every
// other input in the batch individually. At most one reproducer file
// is written per crash.
func (fl *FuzzingLoop) handleCrash(ctx context.Context, batch [][]byte, result execbridge.BatchResult) error {
	// Per spec.md §4.6 item 2 and original_source/centipede.cc's
	// ReportCrash ("if (num_crash_reports_ >= env_.max_num_crash_reports)
	// return;"), the cap is checked before any minimization, logging or
	// reproducer work happens, not just before requesting an early exit:
	// once it is reached, a long run goes quiet instead of burning
	// per-crash minimization replays and flooding the log forever.
	if fl.Env.MaxNumCrashReports > 0 && fl.crashReports >= fl.Env.MaxNumCrashReports {
		return nil
	}
	fl.crashReports++

	var reproducer []byte
	for _, idx := range suspectFirstOrder(result.NumOutputsRead, len(batch)) {
		ok, single, err := fl.Bridge.Execute(ctx, fl.Env.Binary, [][]byte{batch[idx]})
		fl.execs++
		if err != nil {
			fl.Logger.Printf("engine: crash minimization replay of input %d failed: %v", idx, err)
			continue
		}
		if !ok {
			reproducer = batch[idx]
			result = single
			break
		}
	}

	report := crashreport.Report{
		Binary:             fl.Env.Binary,
		ExitCode:           result.ExitCode,
		FailureDescription: result.FailureDescription,
		BatchSize:          len(batch),
		Log:                result.Log,
		ReproducerInput:    reproducer,
		Time:               time.Now(),
	}
	report.Suppression = crashreport.ExtractSuppression(report.Log)
	report.SuppressionHash = crashreport.HashSuppression(report.Suppression)

	if reproducer != nil && fl.Env.CrashReproducerDir != "" {
		if err := fl.FS.MkdirAll(fl.Env.CrashReproducerDir); err != nil {
			fl.Logger.Printf("engine: creating crash reproducer dir: %v", err)
		} else {
			// Reproducers are keyed by the hash of the reproducing input
			// itself, matching the corpus/features files' own hash keying
			// (spec.md's crash minimization never deduplicates beyond this).
			hash := blobfile.Hash(reproducer)
			path, err := crashreport.WriteReproducer(fl.Env.CrashReproducerDir, hash, reproducer, fl.FS.OpenForWrite)
			if err != nil {
				fl.Logger.Printf("engine: writing crash reproducer: %v", err)
			} else {
				report.ReproducerPath = path
			}
		}
	}
	fl.Logger.Print(report.String())

	if fl.Env.ExitOnCrash || (fl.Env.MaxNumCrashReports > 0 && fl.crashReports >= fl.Env.MaxNumCrashReports) {
		RequestEarlyExit(1)
	}
	return nil
}

// suspectFirstOrder returns [suspect, 0, 1, ..., n-1]: suspect is
// tried first but also kept at its natural position in the ascending
// pass, so a sequence-dependent crash that only reproduces at its
// original offset can still be found. suspect outside [0,n) is
// dropped, leaving plain ascending order.
func suspectFirstOrder(suspect, n int) []int {
	order := make([]int, 0, n+1)
	if suspect >= 0 && suspect < n {
		order = append(order, suspect)
	}
	for i := 0; i < n; i++ {
		order = append(order, i)
	}
	return order
}

func (fl *FuzzingLoop) snapshot() stats.Snapshot {
	active, total := fl.corpus.NumActive(), fl.corpus.NumTotal()
	max, avg := fl.corpus.MaxAndAvgSize()
	return stats.Snapshot{
		ShardIndex:     fl.Env.MyShardIndex,
		Execs:          fl.execs,
		CorpusActive:   uint64(active),
		CorpusTotal:    uint64(total),
		FeatureSetSize: uint64(fl.fs.Size()),
		CrashReports:   uint64(fl.crashReports),
		StartTime:      fl.startTime,
		LastNewInput:   fl.lastNewInput,
		Uptime:         time.Since(fl.startTime),
		MaxInputSize:   max,
		AvgInputSize:   avg,
	}
}
