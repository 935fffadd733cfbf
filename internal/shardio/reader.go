package shardio

import (
	"os"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
	"github.com/centipede-fuzz/centipede/internal/feature"
)

// readBlobFile decodes every complete frame in path. A missing file
// (shard hasn't written anything yet) is treated as an empty stream,
// not an error -- consistent with the append-only, no-renames
// invariant: "doesn't exist" and "exists but empty" are indistinguishable
// states for a reader.
func readBlobFile(path string) [][]byte {
	r, closer, err := blobfile.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil
	}
	defer closer.Close()
	blobs, _ := blobfile.ReadAll(r)
	return blobs
}

// InputFeatures pairs a corpus input with whatever is known about its
// features. Features is nil when the corpus file has an entry for
// this input but the features file doesn't (yet) -- the caller should
// re-run the input to find out what it covers.
type InputFeatures struct {
	Input    []byte
	Features feature.FeatureVec
}

// ReadShard decodes shard's corpus and features files and returns one
// InputFeatures per corpus entry, in the order corpus entries were
// written. It tolerates a truncated trailing frame on either file and
// correlates features-file entries to corpus-file entries by input
// hash rather than by position, so the two files may be read out of
// lockstep (per the ordering guarantees in the spec).
func ReadShard(corpusPath, featuresPath string) []InputFeatures {
	inputs := readBlobFile(corpusPath)
	featuresByHash := make(map[string]feature.FeatureVec, len(inputs))
	for _, blob := range readBlobFile(featuresPath) {
		fv, hash, ok := UnpackFeaturesAndHash(blob)
		if !ok {
			continue // malformed features entry: skip it, keep reading
		}
		featuresByHash[hash] = fv
	}

	out := make([]InputFeatures, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, InputFeatures{
			Input:    input,
			Features: featuresByHash[blobfile.Hash(input)],
		})
	}
	return out
}
