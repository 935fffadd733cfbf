package shardio

import (
	"encoding/binary"

	"github.com/centipede-fuzz/centipede/internal/blobfile"
	"github.com/centipede-fuzz/centipede/internal/feature"
)

// EncodeFeatureVec serializes fv as a flat sequence of little-endian
// uint64s, 8 bytes per feature.
func EncodeFeatureVec(fv feature.FeatureVec) []byte {
	out := make([]byte, 8*len(fv))
	for i, f := range fv {
		binary.LittleEndian.PutUint64(out[8*i:8*i+8], uint64(f))
	}
	return out
}

// DecodeFeatureVec is the inverse of EncodeFeatureVec. It returns
// false if b isn't a multiple of 8 bytes -- an odd-sized feature
// buffer is corruption, not a valid empty-or-partial vector, and per
// the error-handling policy it invalidates only this record.
func DecodeFeatureVec(b []byte) (feature.FeatureVec, bool) {
	if len(b)%8 != 0 {
		return nil, false
	}
	fv := make(feature.FeatureVec, len(b)/8)
	for i := range fv {
		fv[i] = feature.Feature(binary.LittleEndian.Uint64(b[8*i : 8*i+8]))
	}
	return fv, true
}

// PackFeaturesAndHash is the features-file record format: the encoded
// feature vector of an input followed by the 40-char hex hash of that
// input, so that LoadShard can correlate a features entry back to its
// corpus entry without storing the input twice.
func PackFeaturesAndHash(input []byte, fv feature.FeatureVec) []byte {
	encoded := EncodeFeatureVec(fv)
	hash := blobfile.Hash(input)
	out := make([]byte, 0, len(encoded)+len(hash))
	out = append(out, encoded...)
	out = append(out, hash...)
	return out
}

// UnpackFeaturesAndHash reverses PackFeaturesAndHash. It returns false
// if the blob is too short to contain a hash or the remaining feature
// bytes are malformed.
func UnpackFeaturesAndHash(blob []byte) (feature.FeatureVec, string, bool) {
	if len(blob) < blobfile.HashSize {
		return nil, "", false
	}
	split := len(blob) - blobfile.HashSize
	fv, ok := DecodeFeatureVec(blob[:split])
	if !ok {
		return nil, "", false
	}
	return fv, string(blob[split:]), true
}
