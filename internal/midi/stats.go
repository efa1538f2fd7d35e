package midi

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// KindCount is one row of a Stats snapshot
type KindCount struct {
	Kind  Kind
	Count int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Kinds       []KindCount // in first-seen order
	Events      int64
	Diagnostics map[DiagnosticKind]int64
}

// Stats tallies decoded events per kind and diagnostics per kind.
// Safe for concurrent use.
type Stats struct {
	mu          sync.Mutex
	kinds       *orderedmap.OrderedMap[Kind, int64]
	events      int64
	diagnostics map[DiagnosticKind]int64
}

func NewStats() *Stats {
	return &Stats{
		kinds:       orderedmap.New[Kind, int64](),
		diagnostics: make(map[DiagnosticKind]int64),
	}
}

// Observe counts one event
func (s *Stats) Observe(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ev.Kind()
	n, _ := s.kinds.Get(k)
	s.kinds.Set(k, n+1)
	s.events++
}

// ObserveDiagnostic counts one diagnostic
func (s *Stats) ObserveDiagnostic(d Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics[d.Kind]++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Kinds:       make([]KindCount, 0, s.kinds.Len()),
		Events:      s.events,
		Diagnostics: make(map[DiagnosticKind]int64, len(s.diagnostics)),
	}
	for pair := s.kinds.Oldest(); pair != nil; pair = pair.Next() {
		snap.Kinds = append(snap.Kinds, KindCount{Kind: pair.Key, Count: pair.Value})
	}
	for k, v := range s.diagnostics {
		snap.Diagnostics[k] = v
	}
	return snap
}
