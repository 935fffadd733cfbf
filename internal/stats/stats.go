// Package stats renders a shard's periodic telemetry line, grounded
// on the teacher's coordinatorStats/broadcastStats pair
// (go-fuzz/coordinator.go) but widened to the fields this engine's
// loop actually tracks (features, corpus records, crashes, execs).
package stats

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is one telemetry sample, taken at a configured cadence by
// FuzzingLoop and at startup/finish.
type Snapshot struct {
	ShardIndex     int
	Execs          uint64
	CorpusActive   uint64
	CorpusTotal    uint64
	FeatureSetSize uint64
	CrashReports   uint64
	StartTime      time.Time
	LastNewInput   time.Time
	Uptime         time.Duration
	MaxInputSize   int
	AvgInputSize   float64
}

// ExecsPerSec is execs divided by elapsed wall time since StartTime.
func (s Snapshot) ExecsPerSec() float64 {
	elapsed := time.Since(s.StartTime)
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Execs) * float64(time.Second) / float64(elapsed)
}

// String renders the one-line console form, in the same
// comma-separated "key: value" register as the teacher's stats line.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"shard: %d, corpus: %d/%d (%v ago), features: %d, crashes: %d,"+
			" execs: %d (%.0f/sec), max/avg size: %d/%.1f, uptime: %v",
		s.ShardIndex, s.CorpusActive, s.CorpusTotal,
		time.Since(s.LastNewInput).Truncate(time.Second),
		s.FeatureSetSize, s.CrashReports,
		s.Execs, s.ExecsPerSec(),
		s.MaxInputSize, s.AvgInputSize,
		s.Uptime.Truncate(time.Second),
	)
}

// JSON renders s as a single-line JSON object, for machine-readable
// telemetry dumps (selected by setting Renderer.JSON).
func (s Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Renderer writes telemetry lines through its Sink function (for
// example one that calls a stdlib *log.Logger's Println, matching the
// teacher's plain stdlib-log telemetry). A nil Sink drops them.
type Renderer struct {
	JSON bool
	Sink func(line string)
}

// Render writes one snapshot through the configured sink.
func (r Renderer) Render(s Snapshot) {
	if r.Sink == nil {
		return
	}
	if r.JSON {
		b, err := s.JSON()
		if err != nil {
			r.Sink(fmt.Sprintf("stats: failed to render json: %v", err))
			return
		}
		r.Sink(string(b))
		return
	}
	r.Sink(s.String())
}
