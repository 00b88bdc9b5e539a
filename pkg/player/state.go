package player

import "time"

// Mode is the scheduler's dispatch state.
type Mode int

const (
	// Stopped: not dispatching; the sink has been reset.
	Stopped Mode = iota
	// Playing: position advances with wall-clock time.
	Playing
	// Scrubbing: position is driven directly by the caller; wall-clock
	// elapsed time is ignored until the scrub ends.
	Scrubbing
)

func (m Mode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Scrubbing:
		return "scrubbing"
	}
	return "unknown"
}

// state is the single mutable region of playback. It is owned by Clock,
// guarded by Clock.mu, and mutated exactly once per scheduler tick; the rest
// of the system observes it only through Snapshot.
type state struct {
	mode       Mode
	wasPlaying bool // mode to restore when a scrub ends

	tickPos   float64   // current position on the timeline
	tempoIdx  int       // active segment in the tempo map
	cursor    int       // first event not yet dispatched
	holdTicks float64   // tick position at the last re-anchor point
	anchor    time.Time // wall clock at the last re-anchor point

	// active holds the note-on velocity per (channel, key) slot, zero when
	// silent. Velocities are kept so a seek can re-sound the notes that
	// should already be playing at the target position.
	active      [16 * 128]byte
	activeCount int
	playedNotes int
}

// Snapshot is the read-only view handed to callers (renderer, status line).
type Snapshot struct {
	Mode        Mode
	Tick        float64
	Cursor      int
	ActiveNotes int
	PlayedNotes int
	Done        bool
}
