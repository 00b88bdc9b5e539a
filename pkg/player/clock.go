// Package player turns a parsed timeline into wall-clock playback: it maps
// elapsed time to ticks through the tempo map and dispatches due events into
// a sink. All mutable playback state lives behind one mutex in Clock.
package player

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zurustar/midiscope/pkg/sink"
	"github.com/zurustar/midiscope/pkg/smf"
)

const (
	// maxDispatch bounds how many events a single Advance may send. When the
	// clock falls further behind than this (a stall, a huge seek via system
	// suspend) it fast-forwards instead of flooding the sink.
	maxDispatch = 512
	// ffStride is the gallop step used to bracket the fast-forward target
	// before the binary search.
	ffStride = 4096
)

// Clock drives playback of one parsed file into one sink.
type Clock struct {
	mu   sync.Mutex
	file *smf.File
	snk  sink.Sink
	ppqn float64

	st state

	// Tempo guard: a zero or negative breakpoint keeps the last valid tempo
	// and warns once per offending segment.
	lastValidBPM float64
	warnedSeg    int
}

// New prepares a stopped clock at tick 0.
func New(file *smf.File, snk sink.Sink) *Clock {
	return &Clock{
		file:         file,
		snk:          snk,
		ppqn:         float64(file.PPQN),
		lastValidBPM: smf.DefaultTempo.BPM(),
		warnedSeg:    -1,
	}
}

// bpmAt returns the tempo of segment idx, substituting the last valid tempo
// for corrupt breakpoints and for an out-of-range index (Parse always
// supplies the 120 BPM default entry, hand-assembled files may not).
func (c *Clock) bpmAt(idx int) float64 {
	entries := c.file.TempoMap.Entries
	if idx >= len(entries) {
		return c.lastValidBPM
	}
	bpm := entries[idx].BPM()
	if bpm <= 0 {
		if c.warnedSeg != idx {
			c.warnedSeg = idx
			slog.Warn("ignoring non-positive tempo",
				"tick", entries[idx].Tick,
				"keeping_bpm", c.lastValidBPM)
		}
		return c.lastValidBPM
	}
	c.lastValidBPM = bpm
	return bpm
}

// Advance moves the position to the tick corresponding to now and dispatches
// every event that became due. No-op unless playing.
func (c *Clock) Advance(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.mode != Playing {
		return
	}

	entries := c.file.TempoMap.Entries
	for {
		bpm := c.bpmAt(c.st.tempoIdx)
		elapsed := now.Sub(c.st.anchor).Seconds()
		tick := c.st.holdTicks + elapsed*bpm/60.0*c.ppqn

		// Crossing into the next tempo segment: the stretch up to the
		// boundary ran at the old tempo, so re-anchor there and recompute
		// the remainder at the new tempo.
		next := c.st.tempoIdx + 1
		if next < len(entries) && float64(entries[next].Tick) <= tick {
			boundary := float64(entries[next].Tick)
			dt := (boundary - c.st.holdTicks) * 60.0 / (bpm * c.ppqn)
			c.st.anchor = c.st.anchor.Add(time.Duration(dt * float64(time.Second)))
			c.st.holdTicks = boundary
			c.st.tempoIdx = next
			continue
		}
		c.st.tickPos = tick
		break
	}

	c.dispatchLocked(uint64(c.st.tickPos))
}

// dispatchLocked sends every event with Tick <= target, in timeline order.
// If the backlog exceeds maxDispatch the remainder is skipped via
// fast-forward rather than sent late.
func (c *Clock) dispatchLocked(target uint64) {
	events := c.file.Events
	sent := 0
	for c.st.cursor < len(events) && events[c.st.cursor].Tick <= target {
		if sent == maxDispatch {
			c.fastForwardLocked(target)
			return
		}
		e := events[c.st.cursor]
		c.snk.Send(e.Msg)
		c.noteAccountingLocked(e)
		c.st.cursor++
		sent++
	}
}

// fastForwardLocked jumps the cursor past every event at or before target
// without sending them, then rebuilds the sink state as a seek would.
func (c *Clock) fastForwardLocked(target uint64) {
	events := c.file.Events
	lo := c.st.cursor
	hi := lo + ffStride
	for hi < len(events) && events[hi].Tick <= target {
		lo = hi
		hi += ffStride
	}
	if hi > len(events) {
		hi = len(events)
	}
	idx := lo + sort.Search(hi-lo, func(i int) bool {
		return events[lo+i].Tick > target
	})
	c.snk.Reset()
	c.resyncLocked(idx)
}

// noteAccountingLocked maintains the sounding-note set and the played
// counter for one dispatched event.
func (c *Clock) noteAccountingLocked(e smf.Event) {
	switch {
	case e.IsNoteOn():
		k := e.VoiceKey()
		if c.st.active[k] == 0 {
			c.st.activeCount++
		}
		c.st.active[k] = e.Aux()
		c.st.playedNotes++
	case e.IsNoteOff():
		k := e.VoiceKey()
		if c.st.active[k] != 0 {
			c.st.active[k] = 0
			c.st.activeCount--
		}
	}
}

// resyncLocked rebuilds playback state for a cursor position by replaying
// events[0:cursor] silently, then re-sounds what should be audible: the
// latest program change per channel followed by a note-on for every note
// still held at that point.
func (c *Clock) resyncLocked(cursor int) {
	events := c.file.Events
	if cursor > len(events) {
		cursor = len(events)
	}

	var program [16]int16
	for i := range program {
		program[i] = -1
	}
	c.st.active = [16 * 128]byte{}
	c.st.activeCount = 0
	c.st.playedNotes = 0

	for _, e := range events[:cursor] {
		switch {
		case e.IsNoteOn():
			k := e.VoiceKey()
			if c.st.active[k] == 0 {
				c.st.activeCount++
			}
			c.st.active[k] = e.Aux()
			c.st.playedNotes++
		case e.IsNoteOff():
			k := e.VoiceKey()
			if c.st.active[k] != 0 {
				c.st.active[k] = 0
				c.st.activeCount--
			}
		case e.Status()&0xF0 == smf.StatusProgramChange:
			program[e.Channel()] = int16(e.Data())
		}
	}
	c.st.cursor = cursor

	for ch, p := range program {
		if p >= 0 {
			c.snk.Send(smf.PackMsg(smf.StatusProgramChange|byte(ch), byte(p), 0))
		}
	}
	for k, vel := range c.st.active {
		if vel == 0 {
			continue
		}
		ch := byte(k >> 7)
		key := byte(k & 0x7F)
		c.snk.Send(smf.PackMsg(smf.StatusNoteOn|ch, key, vel))
	}
}

// Seek moves playback to tick. The sink is silenced and resynthesized so the
// audible state matches the target position; events exactly at tick play
// when the clock next advances.
func (c *Clock) Seek(tick uint64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(tick, now, true)
}

func (c *Clock) seekLocked(tick uint64, now time.Time, sound bool) {
	events := c.file.Events
	cursor := sort.Search(len(events), func(i int) bool {
		return events[i].Tick >= tick
	})
	c.st.tickPos = float64(tick)
	c.st.holdTicks = float64(tick)
	c.st.anchor = now
	c.st.tempoIdx = c.file.TempoMap.Lookup(tick)

	c.snk.Reset()
	if sound && c.st.mode == Playing {
		c.resyncLocked(cursor)
		return
	}
	// Stopped or scrubbing: track state without making noise. Resuming
	// re-sounds the held notes.
	saved := c.snk
	c.snk = quiet{}
	c.resyncLocked(cursor)
	c.snk = saved
}

// quiet swallows the resynthesis sends during a scrub.
type quiet struct{}

func (quiet) Initialize() error { return nil }
func (quiet) Reset()            {}
func (quiet) Terminate()        {}
func (quiet) Send(uint32)       {}

// Toggle flips between playing and stopped. Stopping silences the sink;
// resuming re-anchors at now and re-sounds the held notes.
func (c *Clock) Toggle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st.mode {
	case Playing:
		c.st.mode = Stopped
		c.snk.Reset()
	case Stopped:
		if len(c.file.Events) == 0 || len(c.file.TempoMap.Entries) == 0 {
			return // nothing to play
		}
		c.st.mode = Playing
		c.st.holdTicks = c.st.tickPos
		c.st.anchor = now
		c.resyncLocked(c.st.cursor)
	}
}

// BeginScrub suspends the clock and silences the sink while the caller drags
// the position around with ScrubTo.
func (c *Clock) BeginScrub() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.mode == Scrubbing {
		return
	}
	c.st.wasPlaying = c.st.mode == Playing
	c.st.mode = Scrubbing
	c.snk.Reset()
}

// ScrubTo moves the position without sound.
func (c *Clock) ScrubTo(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.mode != Scrubbing {
		return
	}
	c.seekLocked(tick, time.Time{}, false)
}

// EndScrub restores the pre-scrub mode; if that was playing, playback
// resumes from the scrubbed position.
func (c *Clock) EndScrub(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.mode != Scrubbing {
		return
	}
	if c.st.wasPlaying {
		c.st.mode = Playing
		c.st.holdTicks = c.st.tickPos
		c.st.anchor = now
		c.resyncLocked(c.st.cursor)
	} else {
		c.st.mode = Stopped
	}
}

// Snapshot returns a consistent view of the playback state.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:        c.st.mode,
		Tick:        c.st.tickPos,
		Cursor:      c.st.cursor,
		ActiveNotes: c.st.activeCount,
		PlayedNotes: c.st.playedNotes,
		Done:        c.doneLocked(),
	}
}

// Done reports that every event has been dispatched and the position has
// passed the end of the timeline.
func (c *Clock) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneLocked()
}

func (c *Clock) doneLocked() bool {
	return c.st.cursor >= len(c.file.Events) &&
		uint64(c.st.tickPos) >= c.file.MaxTick
}
