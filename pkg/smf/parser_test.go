package smf

import (
	"bytes"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	gosmf "gitlab.com/gomidi/midi/v2/smf"
)

// buildSMF assembles a file from raw track bodies. Bodies carry their own
// end-of-track meta.
func buildSMF(format, division uint16, tracks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6})
	buf.Write([]byte{byte(format >> 8), byte(format)})
	n := uint16(len(tracks))
	buf.Write([]byte{byte(n >> 8), byte(n)})
	buf.Write([]byte{byte(division >> 8), byte(division)})
	for _, tr := range tracks {
		buf.WriteString("MTrk")
		l := uint32(len(tr))
		buf.Write([]byte{byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)})
		buf.Write(tr)
	}
	return buf.Bytes()
}

// track assembles one track body from (delta, event bytes) pairs and appends
// the end-of-track meta.
type track struct {
	buf bytes.Buffer
}

func (t *track) add(delta uint32, ev ...byte) *track {
	t.buf.Write(AppendVLQ(nil, uint64(delta)))
	t.buf.Write(ev)
	return t
}

func (t *track) bytes() []byte {
	t.buf.Write([]byte{0x00, 0xFF, 0x2F, 0x00})
	return t.buf.Bytes()
}

func TestParse_BasicScenario(t *testing.T) {
	tr := new(track).
		add(0, 0x90, 60, 100). // note-on C4
		add(48, 60, 0).        // running-status note-off
		add(0, 0xFF, 0x51, 3, 0x07, 0xA1, 0x20) // 500000 us/quarter
	data := buildSMF(1, 96, tr.bytes())

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.Format != 1 || f.PPQN != 96 {
		t.Errorf("header: format %d ppqn %d", f.Format, f.PPQN)
	}
	if f.MaxTick != 48 {
		t.Errorf("MaxTick = %d, want 48", f.MaxTick)
	}

	if len(f.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(f.Events))
	}
	on, off := f.Events[0], f.Events[1]
	if on.Tick != 0 || !on.IsNoteOn() || on.Data() != 60 || on.Aux() != 100 {
		t.Errorf("unexpected first event: %+v", on)
	}
	if off.Tick != 48 || !off.IsNoteOff() || off.Data() != 60 {
		t.Errorf("unexpected second event: %+v", off)
	}

	// Tempo at tick 48 is preceded by the synthetic 120 BPM default.
	entries := f.TempoMap.Entries
	if len(entries) != 2 {
		t.Fatalf("got %d tempo entries, want 2", len(entries))
	}
	if entries[0].Tick != 0 || entries[0].BPMx1000 != 120000 {
		t.Errorf("default entry wrong: %+v", entries[0])
	}
	if entries[1].Tick != 48 || entries[1].BPMx1000 != 120000 {
		t.Errorf("tempo entry wrong: %+v", entries[1])
	}

	// 96 PPQN gives 3 ticks per bucket; the note occupies buckets 0..15.
	g := f.Visual
	if g.BucketTicks != 3 {
		t.Fatalf("BucketTicks = %d, want 3", g.BucketTicks)
	}
	for b := 0; b < 16; b++ {
		if g.At(b, 60) != 1 {
			t.Errorf("bucket %d = %d, want 1", b, g.At(b, 60))
		}
	}
	if g.At(16, 60) != 0 {
		t.Errorf("off bucket painted: %d", g.At(16, 60))
	}
}

func TestParse_HeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "not a MIDI file",
			data: []byte("RIFFxxxxxxxxxxxx"),
			want: ErrNotSMF,
		},
		{
			name: "format 0",
			data: buildSMF(0, 96, new(track).bytes()),
			want: ErrUnsupportedFormat,
		},
		{
			name: "SMPTE division",
			data: buildSMF(1, 0xE728, new(track).bytes()),
			want: ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("zero division", func(t *testing.T) {
		_, err := Parse(buildSMF(1, 0, new(track).bytes()))
		var format *FormatError
		if !errors.As(err, &format) {
			t.Errorf("expected FormatError, got %v", err)
		}
	})

	t.Run("foreign chunk", func(t *testing.T) {
		data := buildSMF(1, 96, new(track).bytes())
		copy(data[14:18], "XTrk")
		_, err := Parse(data)
		var format *FormatError
		if !errors.As(err, &format) {
			t.Errorf("expected FormatError, got %v", err)
		}
	})
}

func TestParse_InaudibleNoteSuppression(t *testing.T) {
	tr := new(track).
		add(0, 0x90, 60, 5).  // below the audibility threshold
		add(48, 0x80, 60, 0). // its release, now unmatched
		add(0, 0x90, 64, 100).
		add(48, 0x80, 64, 0)
	f, err := Parse(buildSMF(1, 96, tr.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(f.Events) != 2 {
		t.Fatalf("got %d events, want 2 (quiet note and its off dropped)", len(f.Events))
	}
	for _, e := range f.Events {
		if e.Data() != 64 {
			t.Errorf("event for suppressed key leaked: %+v", e)
		}
	}
	// Nothing painted on the suppressed key.
	for b := 0; b < f.Visual.Buckets; b++ {
		if f.Visual.At(b, 60) != 0 {
			t.Fatalf("suppressed note painted bucket %d", b)
		}
	}
}

func TestParse_UnmatchedNoteOffIgnored(t *testing.T) {
	tr := new(track).
		add(0, 0x80, 60, 0).
		add(10, 0x90, 60, 100).
		add(50, 0x80, 60, 0)
	f, err := Parse(buildSMF(1, 96, tr.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(f.Events))
	}
	if f.Events[0].Tick != 10 || f.Events[1].Tick != 50 {
		t.Errorf("ticks = %d, %d; want 10, 50", f.Events[0].Tick, f.Events[1].Tick)
	}
}

func TestParse_RetriggerMerging(t *testing.T) {
	// Two onsets 10 ticks apart on the same key, both released later: one
	// continuous visual bar, but all four events play.
	tr := new(track).
		add(0, 0x90, 60, 100).
		add(10, 0x90, 60, 100).
		add(10, 0x80, 60, 0). // tick 20
		add(76, 0x80, 60, 0)  // tick 96
	f, err := Parse(buildSMF(1, 96, tr.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(f.Events) != 4 {
		t.Fatalf("got %d events, want 4", len(f.Events))
	}

	// Buckets 0..31 (ticks 0..96 at 3 ticks per bucket) with no gap.
	for b := 0; b < 32; b++ {
		if f.Visual.At(b, 60) != 1 {
			t.Errorf("gap at bucket %d in merged bar", b)
		}
	}
}

func TestParse_SeparateNotesBeyondMergeWindow(t *testing.T) {
	tr := new(track).
		add(0, 0x90, 60, 100).
		add(30, 0x80, 60, 0).  // tick 30
		add(60, 0x90, 60, 100). // tick 90, gap > 15 after release
		add(30, 0x80, 60, 0)   // tick 120
	f, err := Parse(buildSMF(1, 96, tr.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	g := f.Visual
	// First bar: buckets 0..9 (ticks 0-30). Second: 30..39 (ticks 90-120).
	if g.At(9, 60) != 1 || g.At(30, 60) != 1 {
		t.Error("expected both bars painted")
	}
	for b := 10; b < 30; b++ {
		if g.At(b, 60) != 0 {
			t.Errorf("silence between bars painted at bucket %d", b)
		}
	}
}

func TestParse_MultiTrackMergeOrder(t *testing.T) {
	// Program change in one track at the same tick as a note in another:
	// the program change must come first in the merged timeline.
	tr0 := new(track).add(0, 0xC0, 12)
	tr1 := new(track).add(0, 0x90, 60, 100).add(96, 0x80, 60, 0)
	f, err := Parse(buildSMF(1, 96, tr0.bytes(), tr1.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(f.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(f.Events))
	}
	if f.Events[0].Status()&0xF0 != StatusProgramChange {
		t.Errorf("program change not first: %+v", f.Events[0])
	}
	if !f.Events[1].IsNoteOn() {
		t.Errorf("note-on not second: %+v", f.Events[1])
	}
}

func TestParse_TrackNames(t *testing.T) {
	tr0 := new(track).
		add(0, 0xFF, 0x03, 5, 'P', 'i', 'a', 'n', 'o').
		add(0, 0xFF, 0x03, 5, 'o', 't', 'h', 'e', 'r') // first name wins
	tr1 := new(track).add(0, 0x90, 60, 100).add(10, 0x80, 60, 0)
	f, err := Parse(buildSMF(1, 96, tr0.bytes(), tr1.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(f.TrackNames) != 2 {
		t.Fatalf("got %d track names, want 2", len(f.TrackNames))
	}
	if f.TrackNames[0] != "Piano" {
		t.Errorf("TrackNames[0] = %q, want \"Piano\"", f.TrackNames[0])
	}
	if f.TrackNames[1] != "" {
		t.Errorf("TrackNames[1] = %q, want empty", f.TrackNames[1])
	}
}

func TestParse_TruncatedTrack(t *testing.T) {
	// A healthy track, then one whose declared length overruns the file.
	healthy := new(track).add(0, 0x90, 60, 100).add(48, 0x80, 60, 0)
	cut := new(track).add(0, 0x90, 64, 100).add(48, 0x80, 64, 0)

	data := buildSMF(1, 96, healthy.bytes(), cut.bytes())
	data = data[:len(data)-6] // drop the second track's tail mid-event

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("truncation must not fail the load: %v", err)
	}
	if len(f.Truncated) == 0 {
		t.Error("truncated track not reported")
	}
	// The healthy track's events survive in full.
	var onKey60 bool
	for _, e := range f.Events {
		if e.IsNoteOn() && e.Data() == 60 {
			onKey60 = true
		}
	}
	if !onKey60 {
		t.Error("healthy track lost its events")
	}
}

func TestParse_SysExSkipped(t *testing.T) {
	tr := new(track).
		add(0, 0xF0, 3, 0x43, 0x12, 0xF7).
		add(0, 0x90, 60, 100).
		add(48, 0x80, 60, 0)
	f, err := Parse(buildSMF(1, 96, tr.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Events) != 2 {
		t.Errorf("got %d events, want 2", len(f.Events))
	}
}

func TestParse_DataByteWithoutRunningStatus(t *testing.T) {
	// Track starts with a data byte: no status to reuse, track abandoned.
	bad := new(track).add(0, 0x3C, 0x40)
	good := new(track).add(0, 0x90, 60, 100).add(48, 0x80, 60, 0)
	f, err := Parse(buildSMF(1, 96, bad.bytes(), good.bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Events) != 2 {
		t.Errorf("got %d events, want 2 from the good track", len(f.Events))
	}
}

func TestParse_GomidiCrossValidation(t *testing.T) {
	// A file produced by the gomidi writer must load with identical timing.
	sm := gosmf.New()
	sm.TimeFormat = gosmf.MetricTicks(96)

	var tempo gosmf.Track
	tempo.Add(0, gosmf.MetaTempo(60))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		t.Fatalf("add tempo track: %v", err)
	}

	var notes gosmf.Track
	notes.Add(0, midi.ProgramChange(0, 5))
	notes.Add(0, midi.NoteOn(0, 60, 100))
	notes.Add(96, midi.NoteOff(0, 60))
	notes.Add(0, midi.NoteOn(1, 64, 90))
	notes.Add(96, midi.NoteOff(1, 64))
	notes.Close(0)
	if err := sm.Add(notes); err != nil {
		t.Fatalf("add note track: %v", err)
	}

	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatalf("write SMF: %v", err)
	}

	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.PPQN != 96 {
		t.Errorf("PPQN = %d, want 96", f.PPQN)
	}
	if got := f.TempoMap.BPMAt(0); got != 60.0 {
		t.Errorf("BPMAt(0) = %v, want 60", got)
	}
	if len(f.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(f.Events))
	}

	wantTicks := []uint64{0, 0, 96, 96, 192}
	for i, want := range wantTicks {
		if f.Events[i].Tick != want {
			t.Errorf("event %d at tick %d, want %d", i, f.Events[i].Tick, want)
		}
	}
	if f.Events[0].Status()&0xF0 != StatusProgramChange {
		t.Errorf("program change not first at tick 0: %+v", f.Events[0])
	}
}
