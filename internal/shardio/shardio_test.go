package shardio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
	"github.com/centipede-fuzz/centipede/internal/feature"
)

func TestPackFeaturesAndHashRoundTrip(t *testing.T) {
	input := []byte("hello world")
	fv := feature.FeatureVec{1, 2, 3, 1 << 40}

	blob := PackFeaturesAndHash(input, fv)
	gotFv, gotHash, ok := UnpackFeaturesAndHash(blob)
	if !ok {
		t.Fatalf("unpack failed")
	}
	if gotHash != blobfile.Hash(input) {
		t.Fatalf("hash mismatch: got %s want %s", gotHash, blobfile.Hash(input))
	}
	if len(gotFv) != len(fv) {
		t.Fatalf("feature vec length mismatch")
	}
	for i := range fv {
		if gotFv[i] != fv[i] {
			t.Fatalf("feature %d: got %d want %d", i, gotFv[i], fv[i])
		}
	}
}

func TestDecodeFeatureVecRejectsOddSize(t *testing.T) {
	if _, ok := DecodeFeatureVec([]byte{1, 2, 3}); ok {
		t.Fatalf("expected odd-sized buffer to be rejected")
	}
}

func TestReadShardCorrelatesByHashAndFlagsMissingFeatures(t *testing.T) {
	dir := t.TempDir()
	corpusPath := CorpusPath(dir, 0)
	featuresPath := FeaturesPath(dir, 0)

	corpusApp, err := blobfile.OpenAppender(corpusPath)
	if err != nil {
		t.Fatal(err)
	}
	inputs := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, in := range inputs {
		if err := corpusApp.Append(in); err != nil {
			t.Fatal(err)
		}
	}
	corpusApp.Close()

	// Only "alpha" and "gamma" have a recorded features entry; "beta"
	// should come back with nil Features so the caller knows to re-run it.
	featuresApp, err := blobfile.OpenAppender(featuresPath)
	if err != nil {
		t.Fatal(err)
	}
	featuresApp.Append(PackFeaturesAndHash(inputs[0], feature.FeatureVec{10}))
	featuresApp.Append(PackFeaturesAndHash(inputs[2], feature.FeatureVec{20, 21}))
	featuresApp.Close()

	records := ReadShard(corpusPath, featuresPath)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[1].Features != nil {
		t.Fatalf("expected beta to have no known features, got %v", records[1].Features)
	}
	if len(records[0].Features) != 1 || len(records[2].Features) != 2 {
		t.Fatalf("unexpected feature vectors: %v / %v", records[0].Features, records[2].Features)
	}
}

func TestReadShardMissingFilesIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	records := ReadShard(CorpusPath(dir, 5), FeaturesPath(dir, 5))
	if len(records) != 0 {
		t.Fatalf("expected no records for a shard that never wrote anything")
	}
}

func TestExportThenSaveLocalDirRoundTrip(t *testing.T) {
	src := t.TempDir()
	workdir := t.TempDir()
	dst := t.TempDir()

	files := map[string]string{"f1": "input one", "f2": "input two", "f3": "input three"}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	added, ignored, err := ExportCorpusFromLocalDir(src, workdir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if added != len(files) || ignored != 0 {
		t.Fatalf("added=%d ignored=%d, want added=%d ignored=0", added, ignored, len(files))
	}

	// Exporting again must ignore everything (already present).
	added2, ignored2, err := ExportCorpusFromLocalDir(src, workdir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if added2 != 0 || ignored2 != len(files) {
		t.Fatalf("re-export: added=%d ignored=%d, want added=0 ignored=%d", added2, ignored2, len(files))
	}

	numRead, err := SaveCorpusToLocalDir(workdir, 4, dst)
	if err != nil {
		t.Fatal(err)
	}
	if numRead != len(files) {
		t.Fatalf("got %d, want %d", numRead, len(files))
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(files) {
		t.Fatalf("dst has %d files, want %d (modulo filenames, keyed by hash)", len(entries), len(files))
	}
}
