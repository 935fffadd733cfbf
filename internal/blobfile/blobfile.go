// Package blobfile implements the append-only framed byte-stream used
// for corpus.<shard> and features.<shard> files: each blob is stored
// with its own length-prefixed hash so that a reader can verify and
// tolerate a partially-written trailing frame.
package blobfile

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// magic opens every frame. It doubles as a cheap corruption check: a
// reader treats a frame that does not start with it as the end of the
// stream.
var magic = [8]byte{'C', 'N', 'T', 'P', 'D', 'B', 'L', '1'}

// HashSize is the length in bytes of the hex-encoded SHA-1 hash
// stored after every payload.
const HashSize = 2 * sha1.Size

// Hash returns the 40-character hex SHA-1 digest of payload.
func Hash(payload []byte) string {
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// Appender writes blobs to a file strictly by appending; it never
// truncates or rewrites existing bytes.
type Appender struct {
	f *os.File
	w *bufio.Writer
}

// OpenAppender opens path for append, creating it if needed.
func OpenAppender(path string) (*Appender, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("blobfile: open appender %s: %w", path, err)
	}
	return &Appender{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one framed blob. Each call is self-contained: a
// concatenation of Append calls across processes (or across restarts
// of the same process) is itself a valid stream.
func (a *Appender) Append(payload []byte) error {
	hash := Hash(payload)
	var lens [16]byte
	binary.LittleEndian.PutUint64(lens[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint64(lens[8:16], uint64(len(hash)))

	if _, err := a.w.Write(magic[:]); err != nil {
		return err
	}
	if _, err := a.w.Write(lens[:]); err != nil {
		return err
	}
	if _, err := a.w.Write(payload); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte(hash)); err != nil {
		return err
	}
	return a.w.Flush()
}

// Close flushes and closes the underlying file.
func (a *Appender) Close() error {
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}

// Reader decodes a framed blob stream, tolerating a truncated final
// frame (treated as a clean EOF rather than an error).
type Reader struct {
	r io.Reader
}

// OpenReader opens path for reading. A missing file is reported as a
// plain *PathError; callers that treat "shard file doesn't exist yet"
// as "empty shard" should check os.IsNotExist.
func OpenReader(path string) (*Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return &Reader{r: bufio.NewReader(f)}, f, nil
}

// NewReader wraps an arbitrary io.Reader, e.g. over an in-memory
// buffer in tests.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next blob's payload. It returns io.EOF both at a
// clean end of stream and when the trailing frame is truncated at any
// point (magic, lengths, payload, or hash) -- there's no way for a
// reader racing a writer to tell "final frame, still being written"
// apart from "stream genuinely ends here", so both are reported as
// plain EOF.
func (r *Reader) Read() ([]byte, error) {
	var gotMagic [8]byte
	if _, err := io.ReadFull(r.r, gotMagic[:]); err != nil {
		return nil, io.EOF
	}
	if gotMagic != magic {
		return nil, io.EOF
	}

	var lens [16]byte
	if _, err := io.ReadFull(r.r, lens[:]); err != nil {
		return nil, io.EOF
	}
	payloadLen := binary.LittleEndian.Uint64(lens[0:8])
	hashLen := binary.LittleEndian.Uint64(lens[8:16])
	if hashLen != HashSize {
		return nil, io.EOF
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, io.EOF
	}

	gotHash := make([]byte, hashLen)
	if _, err := io.ReadFull(r.r, gotHash); err != nil {
		return nil, io.EOF
	}
	if string(gotHash) != Hash(payload) {
		return nil, io.EOF
	}
	return payload, nil
}

// ReadAll decodes every complete frame in the stream.
func ReadAll(r *Reader) ([][]byte, error) {
	var blobs [][]byte
	for {
		b, err := r.Read()
		if err != nil {
			if err == io.EOF {
				return blobs, nil
			}
			return blobs, err
		}
		blobs = append(blobs, b)
	}
}
