// Package engine implements FuzzingLoop: the per-shard orchestration
// that ties FeatureSet, Corpus, ByteArrayMutator and ExecutorBridge
// together, plus crash minimization and cross-shard synchronization.
package engine

import (
	"fmt"

	"github.com/centipede-fuzz/centipede/internal/mutator"
)

// Environment is the typed configuration for one shard, the direct
// generalization of the teacher's flat flagWorkdir/flagBin/... package
// vars (go-fuzz/main.go) into one struct threaded explicitly rather
// than read from global flag.Value pointers -- cmd/centipede builds
// one of these from cobra/viper and passes it down.
type Environment struct {
	WorkDir       string
	Binary        string
	ExtraBinaries []string

	NumRuns                   int
	BatchSize                 int
	MutateBatchSize           int
	Seed                      uint64
	TotalShards               int
	MyShardIndex              int
	LoadOtherShardFrequency   int
	PruneFrequency            int
	MaxCorpusSize             int
	UseCorpusWeights          bool
	UseCoverageFrontier       bool
	UsePCPairFeatures         bool
	FunctionFilter            []string
	InputFilter               string
	ForkServer                bool
	FeatureFrequencyThreshold uint32
	ExitOnCrash               bool
	MaxNumCrashReports        int
	MergeFrom                 string
	CorpusDir                 []string
	FullSync                  bool
	SerializeShardLoads       bool
	LogLevel                  int
	ExperimentName            string

	CrashReproducerDir string
	ScratchDir         string

	MutatorKnobs  mutator.Knobs
	SizeAlignment uint64
	MaxLen        uint64
}

// Validate rejects configurations that spec.md §7 classifies as fatal
// startup errors: bad seed, missing binary, inconsistent
// size_alignment/max_len.
func (e Environment) Validate() error {
	if e.Binary == "" {
		return fmt.Errorf("engine: binary is required")
	}
	if e.WorkDir == "" {
		return fmt.Errorf("engine: workdir is required")
	}
	if e.Seed == 0 {
		return fmt.Errorf("engine: seed must be non-zero")
	}
	if e.TotalShards <= 0 {
		return fmt.Errorf("engine: total_shards must be positive")
	}
	if e.MyShardIndex < 0 || e.MyShardIndex >= e.TotalShards {
		return fmt.Errorf("engine: my_shard_index %d out of range [0, %d)", e.MyShardIndex, e.TotalShards)
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("engine: batch_size must be positive")
	}
	if e.MutateBatchSize <= 0 {
		return fmt.Errorf("engine: mutate_batch_size must be positive")
	}
	if e.SizeAlignment > 0 && e.MaxLen > 0 && e.MaxLen%e.SizeAlignment != 0 {
		return fmt.Errorf("engine: max_len (%d) is not a multiple of size_alignment (%d)", e.MaxLen, e.SizeAlignment)
	}
	return nil
}

// ShardSeed derives this shard's mutator seed from the experiment
// seed, per original_source/byte_array_mutator.h's per-shard
// derivation (seed XOR shard_index) -- so restarting shard i always
// reproduces the same mutation sequence, while distinct shards never
// collide.
func (e Environment) ShardSeed() uint64 {
	return e.Seed ^ uint64(e.MyShardIndex)
}
