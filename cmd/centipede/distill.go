package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/centipede-fuzz/centipede/internal/corpus"
	"github.com/centipede-fuzz/centipede/internal/feature"
	"github.com/centipede-fuzz/centipede/internal/shardio"
)

// newDistillCommand builds a subset of a workdir's corpus that still
// carries every observed feature at least once, writing that subset
// to --out. It reuses Corpus.Prune with maxActive=1: removeRedundant
// drops, lightest first, every record that isn't the sole carrier of
// one of its features, and removeWeightedSubset refuses to touch a
// sole carrier regardless of the target size, so no surviving record
// can be removed without losing a feature -- the same "redundant
// record removal" pass the main loop runs periodically, just driven to
// its fixed point in one call instead of incrementally. The greedy
// order means the result is not guaranteed to be the smallest such
// subset.
func newDistillCommand() *cobra.Command {
	var workdir, out string
	var totalShards int
	cmd := &cobra.Command{
		Use:   "distill",
		Short: "minimize a workdir's corpus to a feature-preserving subset with no redundant input",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := feature.NewFeatureSet(feature.DefaultFrequencyThreshold)
			c := corpus.New()

			for shard := 0; shard < totalShards; shard++ {
				for _, e := range shardio.ReadShard(shardio.CorpusPath(workdir, shard), shardio.FeaturesPath(workdir, shard)) {
					if e.Features == nil {
						continue // distillation only considers inputs with known features
					}
					c.Add(e.Input, e.Features, nil)
					fs.IncrementFrequencies(e.Features)
				}
			}

			before := c.NumTotal()
			c.Prune(fs, nil, 1, rand.New(rand.NewSource(1)))

			written := 0
			for _, r := range c.ActiveInputs() {
				if err := shardio.WriteToLocalHashedFileInDir(out, r); err != nil {
					return fmt.Errorf("distill: writing %s: %w", out, err)
				}
				written++
			}
			fmt.Printf("distill: %d inputs -> %d essential inputs written to %s\n", before, written, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", ".", "dir with persistent work data")
	cmd.Flags().StringVar(&out, "out", "", "destination directory for the minimized corpus (required)")
	cmd.Flags().IntVar(&totalShards, "total-shards", 1, "total number of shards to read")
	cmd.MarkFlagRequired("out")
	return cmd
}
