package smf

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	headerTag    = "MThd"
	trackTag     = "MTrk"
	headerLength = 6

	metaSequenceName = 0x01
	metaTrackName    = 0x03
	metaEndOfTrack   = 0x2F
	metaSetTempo     = 0x51

	sysExStart    = 0xF0
	sysExContinue = 0xF7
	metaStatus    = 0xFF

	// maxNoteLength is the retrigger merge window: a new onset on a voice
	// slot within this many ticks of the previous one continues the same
	// visual bar instead of starting a fresh one.
	maxNoteLength = 15

	// minVelocity: note-ons below this are inaudible retrigger noise and are
	// dropped entirely (not emitted, not painted).
	minVelocity = 8
)

// File is the parsed, merged timeline. Everything here is built once at load
// time and is immutable afterwards; the player and the renderer share it
// read-only without locking.
type File struct {
	Format     uint16
	PPQN       uint16
	Events     []Event // ascending by (Tick, Seq)
	TempoMap   TempoMap
	Visual     *VisualGrid
	TrackNames []string
	MaxTick    uint64
	Truncated  []int // indices of tracks cut short by truncated input
}

// Duration returns the wall-clock length of the timeline under its tempo map.
func (f *File) Duration() time.Duration {
	return f.TempoMap.Duration(f.MaxTick, f.PPQN)
}

type trackSpan struct {
	index  int
	offset int
	data   []byte
}

// voiceSlot tracks the note merge state of one (channel, key) pair across
// the whole file: how many onsets are pending a release, where the current
// visual bar started, and how far it has been painted.
type voiceSlot struct {
	pending   int
	lastOnset uint64
	lastPaint uint64
	seen      bool
}

// Parse decodes a Standard MIDI File into a merged, sorted timeline.
//
// Structural errors in the header or chunk layout fail the whole load with a
// FormatError (or a wrapped ErrNotSMF / ErrUnsupportedFormat). A truncated
// track is a soft failure: its events decoded so far are kept, the track
// index is recorded in File.Truncated, and parsing continues.
func Parse(data []byte) (*File, error) {
	cur := NewCursor(data)

	tag, err := cur.Bytes(4)
	if err != nil || string(tag) != headerTag {
		return nil, fmt.Errorf("%w: missing MThd header", ErrNotSMF)
	}
	hlen, err := cur.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if hlen < headerLength {
		return nil, &FormatError{Offset: cur.Pos(), Detail: fmt.Sprintf("header length %d, want at least %d", hlen, headerLength)}
	}
	format, err := cur.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("read format: %w", err)
	}
	if format != 1 && format != 2 {
		return nil, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, format)
	}
	trackCount, err := cur.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("read track count: %w", err)
	}
	division, err := cur.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("read time division: %w", err)
	}
	if division&0x8000 != 0 {
		return nil, fmt.Errorf("%w: SMPTE time division", ErrUnsupportedFormat)
	}
	if division == 0 {
		return nil, &FormatError{Offset: cur.Pos(), Detail: "zero ticks per quarter note"}
	}
	// Header may be longer than the fixed six bytes; skip the excess.
	if err := cur.Skip(int(hlen) - headerLength); err != nil {
		return nil, fmt.Errorf("skip header extension: %w", err)
	}

	spans, truncatedSpan, err := collectTrackSpans(cur, int(trackCount))
	if err != nil {
		return nil, err
	}

	// Structural pass: the maximum tick and event counts size the visual
	// grid and the event slices before any allocation-heavy work.
	var maxTick uint64
	var eventEstimate int
	for _, sp := range spans {
		end, n := scanTrack(sp.data)
		if end > maxTick {
			maxTick = end
		}
		eventEstimate += n
	}

	p := &parser{
		grid:  newVisualGrid(maxTick, division),
		notes: make([]Event, 0, eventEstimate),
		names: make([]string, len(spans)),
	}
	for _, sp := range spans {
		if trunc := p.decodeTrack(sp); trunc {
			p.truncated = append(p.truncated, sp.index)
		}
	}
	if truncatedSpan >= 0 {
		already := false
		for _, idx := range p.truncated {
			if idx == truncatedSpan {
				already = true
				break
			}
		}
		if !already {
			p.truncated = append(p.truncated, truncatedSpan)
		}
	}

	// Merge the category streams. Non-note channel events come first so a
	// program or controller change at tick T affects a note at the same
	// tick; sequence numbers assigned here are the sort's tiebreaker.
	events := make([]Event, 0, len(p.others)+len(p.notes))
	events = append(events, p.others...)
	events = append(events, p.notes...)
	for i := range events {
		events[i].Seq = int32(i)
	}
	sortEvents(events)
	p.grid.normalize()

	return &File{
		Format:     format,
		PPQN:       division,
		Events:     events,
		TempoMap:   newTempoMap(p.tempos),
		Visual:     p.grid,
		TrackNames: p.names,
		MaxTick:    maxTick,
		Truncated:  p.truncated,
	}, nil
}

// collectTrackSpans walks the chunk layout after the header. Every chunk must
// be an MTrk; anything else aborts the load. A final chunk whose declared
// length overruns the file is clamped and reported as truncated.
func collectTrackSpans(cur *Cursor, trackCount int) ([]trackSpan, int, error) {
	var spans []trackSpan
	truncated := -1
	for i := 0; i < trackCount && cur.Remaining() > 0; i++ {
		tagStart := cur.Pos()
		tag, err := cur.Bytes(4)
		if err != nil {
			break // trailing garbage shorter than a chunk header
		}
		if string(tag) != trackTag {
			return nil, -1, &FormatError{Offset: tagStart, Detail: fmt.Sprintf("track chunk tagged %q, want %q", tag, trackTag)}
		}
		length, err := cur.ReadUint32()
		if err != nil {
			return nil, -1, fmt.Errorf("read track %d length: %w", i, err)
		}
		n := int(length)
		if n > cur.Remaining() {
			slog.Warn("track chunk overruns file, clamping",
				"track", i, "declared", n, "available", cur.Remaining())
			n = cur.Remaining()
			truncated = i
		}
		body, err := cur.Bytes(n)
		if err != nil {
			return nil, -1, err
		}
		spans = append(spans, trackSpan{index: i, offset: tagStart + 8, data: body})
	}
	return spans, truncated, nil
}

// scanTrack is the cheap structural walk: it mirrors decodeTrack's event
// stepping but only accumulates the final tick and a channel-event count.
// Malformed data simply ends the scan; the decode pass reports it properly.
func scanTrack(data []byte) (endTick uint64, events int) {
	cur := NewCursor(data)
	var tick uint64
	var running byte
	for cur.Remaining() > 0 {
		delta, err := cur.ReadVLQ()
		if err != nil {
			break
		}
		tick += uint64(delta)
		b, err := cur.Peek()
		if err != nil {
			break
		}
		if b >= 0x80 {
			cur.Skip(1)
		} else if running == 0 {
			break
		} else {
			b = running
		}
		switch {
		case b == metaStatus:
			running = 0
			if _, err := cur.ReadByte(); err != nil {
				return tick, events
			}
			length, err := cur.ReadVLQ()
			if err != nil || cur.Skip(int(length)) != nil {
				return tick, events
			}
		case b == sysExStart || b == sysExContinue:
			running = 0
			length, err := cur.ReadVLQ()
			if err != nil || cur.Skip(int(length)) != nil {
				return tick, events
			}
		case b >= 0x80:
			running = b
			if cur.Skip(dataByteCount(b)) != nil {
				return tick, events
			}
			events++
		default:
			return tick, events
		}
	}
	return tick, events
}

type parser struct {
	grid      *VisualGrid
	notes     []Event
	others    []Event
	tempos    []Tempo
	names     []string
	truncated []int
	slots     [16 * 128]voiceSlot
}

// decodeTrack runs the full decode over one track chunk. Returns true when
// the track was cut short by truncated input.
func (p *parser) decodeTrack(sp trackSpan) (truncated bool) {
	cur := NewCursor(sp.data)
	var tick uint64
	var running byte

	for cur.Remaining() > 0 {
		delta, err := cur.ReadVLQ()
		if err != nil {
			return p.reportTruncation(sp, cur, err)
		}
		tick += uint64(delta)

		status, err := cur.Peek()
		if err != nil {
			return p.reportTruncation(sp, cur, err)
		}
		if status >= 0x80 {
			cur.Skip(1)
		} else {
			// Running status: a data byte with the high bit clear reuses
			// the previous channel status.
			if running == 0 {
				slog.Warn("data byte with no running status, abandoning track",
					"track", sp.index, "offset", sp.offset+cur.Pos())
				return true
			}
			status = running
		}

		switch {
		case status == metaStatus:
			running = 0
			metaType, err := cur.ReadByte()
			if err != nil {
				return p.reportTruncation(sp, cur, err)
			}
			length, err := cur.ReadVLQ()
			if err != nil {
				return p.reportTruncation(sp, cur, err)
			}
			payload, err := cur.Bytes(int(length))
			if err != nil {
				return p.reportTruncation(sp, cur, err)
			}
			p.meta(sp.index, tick, metaType, payload)
			if metaType == metaEndOfTrack {
				return false
			}

		case status == sysExStart || status == sysExContinue:
			running = 0
			length, err := cur.ReadVLQ()
			if err != nil {
				return p.reportTruncation(sp, cur, err)
			}
			if err := cur.Skip(int(length)); err != nil {
				return p.reportTruncation(sp, cur, err)
			}

		default:
			running = status
			var d1, d2 byte
			if d1, err = cur.ReadByte(); err != nil {
				return p.reportTruncation(sp, cur, err)
			}
			if dataByteCount(status) == 2 {
				if d2, err = cur.ReadByte(); err != nil {
					return p.reportTruncation(sp, cur, err)
				}
			}
			p.channelEvent(tick, status, d1, d2)
		}
	}
	return false
}

func (p *parser) reportTruncation(sp trackSpan, cur *Cursor, err error) bool {
	var trunc *TruncatedInputError
	if errors.As(err, &trunc) {
		slog.Warn("track truncated, keeping partial events",
			"track", sp.index, "offset", sp.offset+cur.Pos())
	} else {
		slog.Warn("track decode failed", "track", sp.index, "error", err)
	}
	return true
}

// meta handles the two meta classes with engine significance: set-tempo
// feeds the tempo map, text-class events name the track. Everything else
// was already consumed by length.
func (p *parser) meta(track int, tick uint64, metaType byte, payload []byte) {
	switch metaType {
	case metaSetTempo:
		if len(payload) != 3 {
			return
		}
		micros := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
		var scaled uint32
		if micros > 0 {
			// BPM x1000 in fixed point: 60e9 / microseconds-per-quarter.
			scaled = uint32(60_000_000_000 / uint64(micros))
		}
		p.tempos = append(p.tempos, Tempo{Tick: tick, BPMx1000: scaled, Seq: int32(len(p.tempos))})
	case metaTrackName, metaSequenceName:
		if track < len(p.names) && p.names[track] == "" {
			p.names[track] = decodeMetaText(payload)
		}
	}
}

// channelEvent routes one decoded channel voice message into the note or
// other stream, applying the merge/suppression policy for notes.
func (p *parser) channelEvent(tick uint64, status, d1, d2 byte) {
	switch status & 0xF0 {
	case StatusNoteOn:
		if d2 == 0 {
			p.noteOff(tick, status, d1, d2)
			return
		}
		p.noteOn(tick, status, d1, d2)
	case StatusNoteOff:
		p.noteOff(tick, status, d1, d2)
	default:
		p.others = append(p.others, Event{Tick: tick, Msg: PackMsg(status, d1, d2)})
	}
}

// noteOn applies the onset side of the merge policy. Inaudible onsets
// (velocity below minVelocity) vanish entirely. Audible ones are always
// emitted for playback; visually, a retrigger within maxNoteLength ticks of
// the pending onset continues the existing bar instead of starting a new one.
func (p *parser) noteOn(tick uint64, status, key, vel byte) {
	if vel < minVelocity {
		return
	}
	p.notes = append(p.notes, Event{Tick: tick, Msg: PackMsg(status, key, vel)})

	s := &p.slots[voiceIndex(status, key)]
	if s.pending == 0 || tick-s.lastOnset > maxNoteLength {
		s.lastOnset = tick
		p.grid.markOnset(tick, key, status&0x0F)
	}
	s.pending++
	s.seen = true
}

// noteOff releases a pending onset. An off with nothing pending is noise
// from the inaudible-onset filter (or a malformed file) and is ignored so
// playback and seek resynthesis stay in agreement. A slot that has never
// recorded an onset paints nothing.
func (p *parser) noteOff(tick uint64, status, key, vel byte) {
	s := &p.slots[voiceIndex(status, key)]
	if s.pending == 0 {
		return
	}
	s.pending--
	p.notes = append(p.notes, Event{Tick: tick, Msg: PackMsg(status, key, vel)})

	if !s.seen {
		return
	}
	start := s.lastOnset
	if s.lastPaint > start {
		// Continuation of a merged bar: back off one bucket so the paint
		// covers the boundary bucket the previous span stopped short of.
		start = s.lastPaint
		if start >= p.grid.BucketTicks {
			start -= p.grid.BucketTicks
		}
	}
	p.grid.paintSpan(start, tick, key, status&0x0F)
	s.lastPaint = tick
}

func voiceIndex(status, key byte) int {
	return int(status&0x0F)<<7 | int(key&0x7F)
}
