package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/centipede-fuzz/centipede/internal/dictionary"
	"github.com/centipede-fuzz/centipede/internal/engine"
	"github.com/centipede-fuzz/centipede/internal/execbridge"
	"github.com/centipede-fuzz/centipede/internal/frontier"
	"github.com/centipede-fuzz/centipede/internal/mutator"
)

// registerRunFlags binds the spec's flat CLI surface (spec.md §6) onto
// cmd's flag set and cfg (the process-wide viper instance), so every
// flag is also settable via CENTIPEDE_* env vars or centipede.yaml.
func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("workdir", ".", "dir with persistent work data")
	f.String("binary", "", "target executable")
	f.StringSlice("extra-binaries", nil, "additional target executables run alongside binary")
	f.String("binary-package", "", "Go package path to load symbol info from, for the coverage frontier and function filter (optional)")
	f.Int("num-runs", 1000, "total number of executions to perform before exiting")
	f.Int("batch-size", 100, "executions per main-loop iteration")
	f.Int("mutate-batch-size", 100, "parents drawn from the corpus per main-loop iteration")
	f.Uint64("seed", 1, "experiment-wide PRNG seed, XORed with shard index")
	f.Int("total-shards", 1, "total number of shards in this experiment")
	f.Int("my-shard-index", 0, "this process's shard index")
	f.Int("local-shards", 0, "if > 0, run this many shards concurrently in this one process instead of my-shard-index")
	f.Int("load-other-shard-frequency", 0, "batches between opportunistic cross-shard resyncs (0 disables)")
	f.Int("prune-frequency", 0, "batches between corpus prune passes (0 disables)")
	f.Int("max-corpus-size", 0, "active corpus size Prune keeps to (0 disables pruning)")
	f.Bool("use-corpus-weights", true, "sample parents by weighted coverage rarity instead of uniformly")
	f.Bool("use-coverage-frontier", false, "boost weights for records touching partially-covered functions (requires binary-package)")
	f.Bool("use-pcpair-features", false, "synthesize PC-pair features for novel inputs")
	f.StringSlice("function-filter", nil, "only admit inputs touching one of these functions (requires binary-package)")
	f.String("input-filter", "", "external command consulted before corpus admission")
	f.String("dictionary", "", "AFL/libFuzzer-format user dictionary file to seed the mutator's splice entries from")
	f.Bool("fork-server", false, "reserved: fork-server execution mode")
	f.Uint32("feature-frequency-threshold", 0, "feature saturation threshold (0 uses the package default)")
	f.Bool("exit-on-crash", false, "stop the loop on the first crash")
	f.Int("max-num-crash-reports", 0, "stop the loop after this many crash reports (0 disables)")
	f.String("merge-from", "", "foreign workdir to merge into this one before the main loop")
	f.StringSlice("corpus-dir", nil, "directories to mirror every accepted input into")
	f.Bool("full-sync", false, "load every shard's corpus at startup instead of only this shard's")
	f.Bool("serialize-shard-loads", false, "serialize concurrent LoadShard calls with a mutex")
	f.Int("log-level", 0, "verbosity level")
	f.String("experiment-name", "", "free-form label included in telemetry")
	f.String("crash-reproducer-dir", "", "directory crash reproducers are written to")
	f.String("scratch-dir", os.TempDir(), "scratch directory for per-input temp files")
	f.Duration("exec-timeout", 10*time.Second, "per-input execution timeout")
	f.Uint64("size-alignment", 0, "if set, mutants are rounded to a multiple of this many bytes")
	f.Uint64("max-len", 0, "if set, mutants are clamped to this many bytes")

	cfg.BindPFlags(f)
}

func environmentFromConfig(shardIndex int) engine.Environment {
	return engine.Environment{
		WorkDir:                   cfg.GetString("workdir"),
		Binary:                    cfg.GetString("binary"),
		ExtraBinaries:             cfg.GetStringSlice("extra-binaries"),
		NumRuns:                   cfg.GetInt("num-runs"),
		BatchSize:                 cfg.GetInt("batch-size"),
		MutateBatchSize:           cfg.GetInt("mutate-batch-size"),
		Seed:                      cfg.GetUint64("seed"),
		TotalShards:               cfg.GetInt("total-shards"),
		MyShardIndex:              shardIndex,
		LoadOtherShardFrequency:   cfg.GetInt("load-other-shard-frequency"),
		PruneFrequency:            cfg.GetInt("prune-frequency"),
		MaxCorpusSize:             cfg.GetInt("max-corpus-size"),
		UseCorpusWeights:          cfg.GetBool("use-corpus-weights"),
		UseCoverageFrontier:       cfg.GetBool("use-coverage-frontier"),
		UsePCPairFeatures:         cfg.GetBool("use-pcpair-features"),
		FunctionFilter:            cfg.GetStringSlice("function-filter"),
		InputFilter:               cfg.GetString("input-filter"),
		ForkServer:                cfg.GetBool("fork-server"),
		FeatureFrequencyThreshold: uint32(cfg.GetUint("feature-frequency-threshold")),
		ExitOnCrash:               cfg.GetBool("exit-on-crash"),
		MaxNumCrashReports:        cfg.GetInt("max-num-crash-reports"),
		MergeFrom:                 cfg.GetString("merge-from"),
		CorpusDir:                 cfg.GetStringSlice("corpus-dir"),
		FullSync:                  cfg.GetBool("full-sync"),
		SerializeShardLoads:       cfg.GetBool("serialize-shard-loads"),
		LogLevel:                  cfg.GetInt("log-level"),
		ExperimentName:            cfg.GetString("experiment-name"),
		CrashReproducerDir:        cfg.GetString("crash-reproducer-dir"),
		ScratchDir:                cfg.GetString("scratch-dir"),
		MutatorKnobs:              mutator.DefaultKnobs(),
		SizeAlignment:             cfg.GetUint64("size-alignment"),
		MaxLen:                    cfg.GetUint64("max-len"),
	}
}

func runShard(ctx context.Context, env engine.Environment) error {
	bridge := execbridge.NewSubprocessBridge(env.ScratchDir, cfg.GetDuration("exec-timeout"), env.ShardSeed(), env.MutatorKnobs, env.SizeAlignment, env.MaxLen)

	logger := log.New(os.Stderr, fmt.Sprintf("[shard %d] ", env.MyShardIndex), log.LstdFlags)

	if path := cfg.GetString("dictionary"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("shard %d: opening dictionary %s: %w", env.MyShardIndex, path, err)
		}
		entries, warnings := dictionary.Parse(f)
		f.Close()
		for _, w := range warnings {
			logger.Printf("dictionary %s: %s", path, w)
		}
		bridge.AddToDictionary(entries)
	}

	loop, err := engine.NewFuzzingLoop(env, bridge, logger)
	if err != nil {
		return fmt.Errorf("shard %d: %w", env.MyShardIndex, err)
	}

	if pkg := cfg.GetString("binary-package"); pkg != "" {
		bin, err := frontier.LoadBinaryInfo(pkg)
		if err != nil {
			return fmt.Errorf("shard %d: loading binary info for %s: %w", env.MyShardIndex, pkg, err)
		}
		loop.SetBinaryInfo(bin)
	}

	return loop.Run(ctx)
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run one shard (or several, with --local-shards) of the fuzzing loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := installShutdownSignals(cmd.Context())
			defer stop()

			local := cfg.GetInt("local-shards")
			if local <= 0 {
				return runShard(ctx, environmentFromConfig(cfg.GetInt("my-shard-index")))
			}

			// Run several shards concurrently in this one process,
			// bounding and propagating their errors with errgroup instead
			// of hand-rolled WaitGroup + error-channel plumbing.
			group, gctx := errgroup.WithContext(ctx)
			for i := 0; i < local; i++ {
				shardIndex := i
				group.Go(func() error {
					return runShard(gctx, environmentFromConfig(shardIndex))
				})
			}
			return group.Wait()
		},
	}
	registerRunFlags(cmd)
	return cmd
}

func newMergeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "load a foreign workdir's findings into this shard's workdir and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.GetString("merge-from") == "" {
				return fmt.Errorf("merge: --merge-from is required")
			}
			cfg.Set("num-runs", 0)
			ctx, stop := installShutdownSignals(cmd.Context())
			defer stop()
			return runShard(ctx, environmentFromConfig(cfg.GetInt("my-shard-index")))
		},
	}
	registerRunFlags(cmd)
	return cmd
}
