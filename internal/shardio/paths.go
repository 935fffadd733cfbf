// Package shardio implements the workdir layout: per-shard corpus and
// features files, the tolerant shard reader that re-absorbs inputs
// written by any shard (including this one, across restarts), and the
// local-directory corpus import/export helpers.
package shardio

import (
	"fmt"
	"path/filepath"
)

// CorpusPath returns the path of the append-only raw-input blob stream
// for the given shard.
func CorpusPath(workdir string, shard int) string {
	return filepath.Join(workdir, fmt.Sprintf("corpus.%d", shard))
}

// FeaturesPath returns the path of the append-only
// {FeatureVec||input-hash} blob stream for the given shard.
func FeaturesPath(workdir string, shard int) string {
	return filepath.Join(workdir, fmt.Sprintf("features.%d", shard))
}
