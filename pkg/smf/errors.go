package smf

import (
	"errors"
	"fmt"
)

// ErrNotSMF is returned when the input does not start with a valid MThd chunk.
var ErrNotSMF = errors.New("not a standard MIDI file")

// ErrUnsupportedFormat is returned for SMF format 0 and SMPTE time division,
// neither of which this engine supports.
var ErrUnsupportedFormat = errors.New("unsupported MIDI file format")

// FormatError is a fatal structural error: header tag mismatch, unsupported
// format, or a track chunk that does not begin with "MTrk". Parsing aborts
// and the load fails.
type FormatError struct {
	Offset int
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed MIDI file at offset %d: %s", e.Offset, e.Detail)
}

// TruncatedInputError reports that a read ran past the end of the available
// bytes. At track level this is a soft failure: the affected track keeps the
// events decoded so far and parsing continues with the next track.
type TruncatedInputError struct {
	Offset int
	Want   int
}

func (e *TruncatedInputError) Error() string {
	return fmt.Sprintf("truncated MIDI data at offset %d (needed %d more bytes)", e.Offset, e.Want)
}

// DataIntegrityError reports musically impossible data discovered after
// parsing, such as a zero or negative tempo. It is surfaced as a diagnostic;
// playback keeps the last valid tempo instead of dividing by it.
type DataIntegrityError struct {
	Tick   uint64
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("bad MIDI data at tick %d: %s", e.Tick, e.Detail)
}
