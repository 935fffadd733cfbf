package crashreport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestExtractSuppressionFallsBackOnUnparsableLog(t *testing.T) {
	raw := []byte("not a panic dump at all")
	got := ExtractSuppression(raw)
	if !bytes.Equal(got, raw) {
		t.Fatalf("expected the raw log back unchanged, got %q", got)
	}
}

func TestHashSuppressionDeterministic(t *testing.T) {
	a := HashSuppression([]byte("same input"))
	b := HashSuppression([]byte("same input"))
	if a != b {
		t.Fatalf("HashSuppression not deterministic: %s != %s", a, b)
	}
	c := HashSuppression([]byte("different input"))
	if a == c {
		t.Fatalf("expected different inputs to hash differently")
	}
}

type fakeWriteCloser struct {
	buf    bytes.Buffer
	closed bool
}

func (f *fakeWriteCloser) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *fakeWriteCloser) Close() error                { f.closed = true; return nil }

func TestWriteReproducer(t *testing.T) {
	var captured *fakeWriteCloser
	path, err := WriteReproducer("/crashes", "deadbeef", []byte("payload"), func(p string) (io.WriteCloser, error) {
		captured = &fakeWriteCloser{}
		return captured, nil
	})
	if err != nil {
		t.Fatalf("WriteReproducer error: %v", err)
	}
	if path != "/crashes/deadbeef" {
		t.Fatalf("path = %q", path)
	}
	if captured.buf.String() != "payload" {
		t.Fatalf("wrote %q, want payload", captured.buf.String())
	}
	if !captured.closed {
		t.Fatalf("expected the writer to be closed")
	}
}

func TestWriteReproducerPropagatesOpenError(t *testing.T) {
	_, err := WriteReproducer("/crashes", "deadbeef", []byte("payload"), func(p string) (io.WriteCloser, error) {
		return nil, errors.New("disk full")
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the open error to propagate, got %v", err)
	}
}
