// Command centipede drives the distributed coverage-guided fuzzing
// engine: one process per shard, talking to a subprocess target
// through internal/execbridge and persisting its findings under a
// shared workdir via internal/shardio.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/centipede-fuzz/centipede/internal/engine"
)

var cfg = viper.New()

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		log.Fatalf("centipede: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "centipede",
		Short:         "distributed coverage-guided fuzzing engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "path to a centipede.yaml config file (flags override it)")
	cobra.OnInitialize(func() {
		cfg.SetEnvPrefix("CENTIPEDE")
		cfg.AutomaticEnv()
		if path, _ := root.PersistentFlags().GetString("config"); path != "" {
			cfg.SetConfigFile(path)
			if err := cfg.ReadInConfig(); err != nil {
				log.Printf("centipede: reading config %s: %v", path, err)
			}
		}
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newMergeCommand())
	root.AddCommand(newDistillCommand())
	root.AddCommand(newExportCorpusCommand())
	root.AddCommand(newImportCorpusCommand())
	return root
}

// installShutdownSignals returns a context cancelled on SIGINT/SIGTERM
// and a cleanup func to stop listening. On either signal it also sets
// the process-wide early-exit flag so an in-flight FuzzingLoop.Run
// breaks out at its next batch boundary instead of waiting for the
// cancelled context to propagate through os/exec timeouts -- the same
// two-pronged shutdown (context cancellation and a polled flag) the
// teacher uses in go-fuzz/main.go, adapted to this engine's
// async-signal-safe exit flag instead of a bare shutdownCleanup slice.
func installShutdownSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			log.Printf("centipede: shutting down...")
			engine.RequestEarlyExit(130)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() { signal.Stop(c); cancel() }
}
