package shardio

import (
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
)

// WriteToLocalHashedFileInDir writes payload to dir/<hash-of-payload>,
// overwriting any existing file with that name (the contents would be
// identical anyway). Used to mirror accepted corpus inputs into a
// human-browsable directory and by SaveCorpusToLocalDir below.
func WriteToLocalHashedFileInDir(dir string, payload []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, blobfile.Hash(payload))
	return os.WriteFile(path, payload, 0644)
}

// SaveCorpusToLocalDir dumps every input of every shard's corpus file
// under workdir into localDir, one file per input named by hash.
func SaveCorpusToLocalDir(workdir string, totalShards int, localDir string) (int, error) {
	numRead := 0
	for shard := 0; shard < totalShards; shard++ {
		for _, blob := range readBlobFile(CorpusPath(workdir, shard)) {
			numRead++
			if err := WriteToLocalHashedFileInDir(localDir, blob); err != nil {
				return numRead, err
			}
		}
	}
	return numRead, nil
}

// ExportCorpusFromLocalDir shards the files found (recursively) under
// localDir by a stable hash of their filename, and appends any input
// not already present in the destination shard's corpus file. The
// partition is stable across runs: a given filename always lands in
// the same shard.
func ExportCorpusFromLocalDir(localDir, workdir string, totalShards int) (added, ignored int, err error) {
	shardedPaths := make([][]string, totalShards)
	err = filepath.WalkDir(localDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(filepath.Base(path)))
		shard := int(h.Sum64() % uint64(totalShards))
		shardedPaths[shard] = append(shardedPaths[shard], path)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	for shard := 0; shard < totalShards; shard++ {
		existing := make(map[string]struct{})
		for _, blob := range readBlobFile(CorpusPath(workdir, shard)) {
			existing[blobfile.Hash(blob)] = struct{}{}
		}

		appender, aerr := blobfile.OpenAppender(CorpusPath(workdir, shard))
		if aerr != nil {
			return added, ignored, aerr
		}
		for _, path := range shardedPaths[shard] {
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				appender.Close()
				return added, ignored, rerr
			}
			if len(data) == 0 {
				ignored++
				continue
			}
			if _, dup := existing[blobfile.Hash(data)]; dup {
				ignored++
				continue
			}
			if werr := appender.Append(data); werr != nil {
				appender.Close()
				return added, ignored, werr
			}
			existing[blobfile.Hash(data)] = struct{}{}
			added++
		}
		if cerr := appender.Close(); cerr != nil {
			return added, ignored, cerr
		}
	}
	return added, ignored, nil
}
