package smf

// MIDI status nibbles for channel voice messages.
const (
	StatusNoteOff         = 0x80
	StatusNoteOn          = 0x90
	StatusPolyPressure    = 0xA0
	StatusController      = 0xB0
	StatusProgramChange   = 0xC0
	StatusChannelPressure = 0xD0
	StatusPitchBend       = 0xE0
)

// Event is one channel voice message on the merged timeline. Msg packs the
// raw wire bytes as (aux<<16)|(data<<8)|status, so for note messages it is
// (velocity<<16)|(key<<8)|status and the whole value can be handed to a synth
// sink as a MIDI short message. Seq is the insertion order assigned when the
// per-category streams are merged; it breaks ties between equal ticks.
type Event struct {
	Tick uint64
	Msg  uint32
	Seq  int32
}

// PackMsg builds the 24-bit packed message value.
func PackMsg(status, data, aux byte) uint32 {
	return uint32(aux)<<16 | uint32(data)<<8 | uint32(status)
}

// Status returns the full status byte, channel nibble included.
func (e Event) Status() byte { return byte(e.Msg) }

// Channel returns the 0-based MIDI channel.
func (e Event) Channel() byte { return byte(e.Msg) & 0x0F }

// Data returns the first data byte (note key for note messages).
func (e Event) Data() byte { return byte(e.Msg >> 8) }

// Aux returns the second data byte (velocity for note messages).
func (e Event) Aux() byte { return byte(e.Msg >> 16) }

// IsNoteOn reports an audible note-on: status nibble 0x9 with a non-zero
// velocity. A zero-velocity note-on is a note-off by convention.
func (e Event) IsNoteOn() bool {
	return byte(e.Msg)&0xF0 == StatusNoteOn && byte(e.Msg>>16) > 0
}

// IsNoteOff reports a note-off, either explicit (0x8) or a zero-velocity
// note-on.
func (e Event) IsNoteOff() bool {
	s := byte(e.Msg) & 0xF0
	return s == StatusNoteOff || (s == StatusNoteOn && byte(e.Msg>>16) == 0)
}

// VoiceKey identifies the (channel, key) slot of a note message.
func (e Event) VoiceKey() uint16 {
	return uint16(e.Channel())<<7 | uint16(e.Data()&0x7F)
}

// Tempo is one tempo breakpoint. BPMx1000 stores beats-per-minute scaled by
// 1000 so the map stays in fixed point; 120 BPM is 120000.
type Tempo struct {
	Tick     uint64
	BPMx1000 uint32
	Seq      int32
}

// BPM returns the tempo as a float.
func (t Tempo) BPM() float64 { return float64(t.BPMx1000) / 1000.0 }

// DefaultTempo is the breakpoint assumed when a file carries no set-tempo
// meta event: 120 BPM at tick 0 (500000 microseconds per quarter note).
var DefaultTempo = Tempo{Tick: 0, BPMx1000: 120000}

// dataByteCount returns how many data bytes follow a channel voice status.
// Program change and channel pressure carry one; everything else carries two.
func dataByteCount(status byte) int {
	switch status & 0xF0 {
	case StatusProgramChange, StatusChannelPressure:
		return 1
	default:
		return 2
	}
}
