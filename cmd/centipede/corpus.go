package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centipede-fuzz/centipede/internal/shardio"
)

func newExportCorpusCommand() *cobra.Command {
	var workdir, out string
	var totalShards int
	cmd := &cobra.Command{
		Use:   "export-corpus",
		Short: "dump every shard's corpus into one human-browsable directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := shardio.SaveCorpusToLocalDir(workdir, totalShards, out)
			if err != nil {
				return fmt.Errorf("export-corpus: %w", err)
			}
			fmt.Printf("export-corpus: wrote %d inputs to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", ".", "dir with persistent work data")
	cmd.Flags().StringVar(&out, "out", "", "destination directory (required)")
	cmd.Flags().IntVar(&totalShards, "total-shards", 1, "total number of shards to read")
	cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCorpusCommand() *cobra.Command {
	var workdir, in string
	var totalShards int
	cmd := &cobra.Command{
		Use:   "import-corpus",
		Short: "shard a directory of loose input files into a workdir",
		RunE: func(cmd *cobra.Command, args []string) error {
			added, ignored, err := shardio.ExportCorpusFromLocalDir(in, workdir, totalShards)
			if err != nil {
				return fmt.Errorf("import-corpus: %w", err)
			}
			fmt.Printf("import-corpus: added %d, skipped %d duplicates/empty files\n", added, ignored)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "source directory of loose input files (required)")
	cmd.Flags().StringVar(&workdir, "workdir", ".", "dir with persistent work data")
	cmd.Flags().IntVar(&totalShards, "total-shards", 1, "total number of shards to write")
	cmd.MarkFlagRequired("in")
	return cmd
}
