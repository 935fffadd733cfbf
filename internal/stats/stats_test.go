package stats

import (
	"strings"
	"testing"
	"time"
)

func TestStringContainsKeyFields(t *testing.T) {
	s := Snapshot{
		ShardIndex:     2,
		Execs:          1000,
		CorpusActive:   50,
		CorpusTotal:    60,
		FeatureSetSize: 300,
		StartTime:      time.Now().Add(-time.Minute),
		LastNewInput:   time.Now(),
	}
	line := s.String()
	for _, want := range []string{"shard: 2", "corpus: 50/60", "features: 300", "execs: 1000"} {
		if !strings.Contains(line, want) {
			t.Fatalf("String() = %q, missing %q", line, want)
		}
	}
}

func TestJSONRoundTripsShape(t *testing.T) {
	s := Snapshot{ShardIndex: 1, Execs: 42}
	b, err := s.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	if !strings.Contains(string(b), `"Execs":42`) {
		t.Fatalf("JSON = %s, missing Execs field", b)
	}
}

func TestRendererDispatchesFormat(t *testing.T) {
	var got string
	r := Renderer{Sink: func(line string) { got = line }}
	r.Render(Snapshot{ShardIndex: 9})
	if !strings.Contains(got, "shard: 9") {
		t.Fatalf("console render = %q", got)
	}

	r.JSON = true
	r.Render(Snapshot{ShardIndex: 9})
	if !strings.HasPrefix(got, "{") {
		t.Fatalf("json render = %q", got)
	}
}
