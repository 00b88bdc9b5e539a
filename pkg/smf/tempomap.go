package smf

import (
	"sort"
	"time"
)

// TempoMap is the ordered sequence of tempo breakpoints, ascending by tick.
// It always contains at least one entry: files without a set-tempo meta event
// get the 120 BPM default at tick 0.
type TempoMap struct {
	Entries []Tempo
}

// newTempoMap sorts the extracted breakpoints and guarantees the defaults:
// at least one entry, and an entry at tick 0.
func newTempoMap(ts []Tempo) TempoMap {
	sortTempos(ts)
	if len(ts) == 0 {
		ts = []Tempo{DefaultTempo}
	} else if ts[0].Tick > 0 {
		ts = append([]Tempo{DefaultTempo}, ts...)
	}
	return TempoMap{Entries: ts}
}

// Lookup returns the index of the segment active at tick: the greatest entry
// whose Tick is <= tick, or 0 when tick precedes every entry.
func (m TempoMap) Lookup(tick uint64) int {
	// First index with Tick > tick; the segment is the one before it.
	i := sort.Search(len(m.Entries), func(i int) bool {
		return m.Entries[i].Tick > tick
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// BPMAt returns the tempo in effect at tick. Zero and negative breakpoints
// are data errors; callers guard against them (see player.Clock).
func (m TempoMap) BPMAt(tick uint64) float64 {
	if len(m.Entries) == 0 {
		return DefaultTempo.BPM()
	}
	return m.Entries[m.Lookup(tick)].BPM()
}

// Validate reports breakpoints a player cannot honor. The parser stores
// whatever the file declared; a zero tempo surfaces here as a
// DataIntegrityError diagnostic while playback substitutes the last valid
// tempo for the segment.
func (m TempoMap) Validate() []error {
	var errs []error
	for _, e := range m.Entries {
		if e.BPMx1000 == 0 {
			errs = append(errs, &DataIntegrityError{Tick: e.Tick, Detail: "zero or negative tempo"})
		}
	}
	return errs
}

// Duration integrates the piecewise-constant tempo curve from tick 0 to
// endTick. Segments with a non-positive tempo contribute at the last valid
// tempo, falling back to the default when none precedes them.
func (m TempoMap) Duration(endTick uint64, ppqn uint16) time.Duration {
	if ppqn == 0 || endTick == 0 {
		return 0
	}
	seconds := 0.0
	lastValid := DefaultTempo.BPM()
	for i, e := range m.Entries {
		if e.Tick >= endTick {
			break
		}
		bpm := e.BPM()
		if bpm <= 0 {
			bpm = lastValid
		} else {
			lastValid = bpm
		}
		segEnd := endTick
		if i+1 < len(m.Entries) && m.Entries[i+1].Tick < endTick {
			segEnd = m.Entries[i+1].Tick
		}
		ticks := float64(segEnd - e.Tick)
		seconds += ticks * 60.0 / (bpm * float64(ppqn))
	}
	return time.Duration(seconds * float64(time.Second))
}
