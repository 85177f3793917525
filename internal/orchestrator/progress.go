package orchestrator

import (
	"maps"
	"time"
)

// Snapshot is the accumulated view of a job's event stream.
type Snapshot struct {
	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsed"`
	LastSeq   uint64        `json:"lastSeq"`

	// Percent is the highest job-level progress seen. It never decreases.
	Percent float64 `json:"percent"`

	Items      map[ItemKind]int             `json:"items"`
	StageItems map[StageID]map[ItemKind]int `json:"stageItems"`
	Errors     map[StageID]int              `json:"errors"`

	// Coverage is the last-known coverage figure across stages;
	// StageCoverage keeps the last figure per stage.
	Coverage      *CoverageFigure            `json:"coverage,omitempty"`
	StageCoverage map[StageID]CoverageFigure `json:"stageCoverage,omitempty"`

	Usage Usage `json:"usage"`

	Terminal TerminalKind `json:"terminal,omitempty"`
}

// NewSnapshot returns an empty snapshot for a job started at startedAt.
func NewSnapshot(startedAt time.Time) Snapshot {
	return Snapshot{
		StartedAt:     startedAt,
		Items:         make(map[ItemKind]int),
		StageItems:    make(map[StageID]map[ItemKind]int),
		Errors:        make(map[StageID]int),
		StageCoverage: make(map[StageID]CoverageFigure),
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Items = maps.Clone(s.Items)
	out.Errors = maps.Clone(s.Errors)
	out.StageCoverage = maps.Clone(s.StageCoverage)
	out.StageItems = make(map[StageID]map[ItemKind]int, len(s.StageItems))
	for id, m := range s.StageItems {
		out.StageItems[id] = maps.Clone(m)
	}
	if s.Coverage != nil {
		c := *s.Coverage
		out.Coverage = &c
	}
	if out.Items == nil {
		out.Items = make(map[ItemKind]int)
	}
	if out.Errors == nil {
		out.Errors = make(map[StageID]int)
	}
	if out.StageCoverage == nil {
		out.StageCoverage = make(map[StageID]CoverageFigure)
	}
	return out
}

// advance moves Elapsed forward to at. Elapsed never shrinks, so replaying
// events with skewed timestamps is harmless.
func (s *Snapshot) advance(at time.Time) {
	if at.IsZero() || s.StartedAt.IsZero() {
		return
	}
	if d := at.Sub(s.StartedAt); d > s.Elapsed {
		s.Elapsed = d
	}
}

// Reduce folds one event into a snapshot and returns the new snapshot. The
// input is not modified. Replaying a job's full event log through Reduce
// reproduces the counts, coverage and elapsed time of its final Result.
func Reduce(s Snapshot, ev Event) Snapshot {
	out := s.Clone()
	apply(&out, ev)
	return out
}

func apply(s *Snapshot, ev Event) {
	if ev.Seq > s.LastSeq {
		s.LastSeq = ev.Seq
	}
	s.advance(ev.At)

	switch ev.Kind {
	case KindProgress:
		if ev.Progress != nil && ev.Progress.Percent > s.Percent {
			s.Percent = ev.Progress.Percent
		}
	case KindStageItem:
		if ev.Item == nil {
			return
		}
		s.Items[ev.Item.Kind]++
		if s.StageItems[ev.Stage] == nil {
			s.StageItems[ev.Stage] = make(map[ItemKind]int)
		}
		s.StageItems[ev.Stage][ev.Item.Kind]++
		if ev.Item.Coverage != nil {
			c := *ev.Item.Coverage
			s.Coverage = &c
			s.StageCoverage[ev.Stage] = c
		}
		if ev.Item.Usage != nil {
			s.Usage = s.Usage.add(*ev.Item.Usage)
		}
	case KindError:
		s.Errors[ev.Stage]++
	case KindTerminal:
		if ev.Terminal != nil {
			s.Terminal = ev.Terminal.Kind
		}
	}
}

// Aggregator accumulates a Snapshot from observed events. It is not safe for
// concurrent use; the coordinator drives it under the job lock.
type Aggregator struct {
	snap Snapshot
}

// NewAggregator returns an Aggregator for a job started at startedAt.
func NewAggregator(startedAt time.Time) *Aggregator {
	return &Aggregator{snap: NewSnapshot(startedAt)}
}

// Observe folds ev into the running snapshot.
func (a *Aggregator) Observe(ev Event) {
	apply(&a.snap, ev)
}

// Snapshot returns a copy of the current accumulated state.
func (a *Aggregator) Snapshot() Snapshot {
	return a.snap.Clone()
}
