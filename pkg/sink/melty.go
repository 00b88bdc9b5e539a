package sink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// SampleRate is the audio sample rate used for software synthesis.
const SampleRate = 44100

// Ebitengine allows a single audio context per process.
var (
	audioContextOnce sync.Once
	audioContext     *audio.Context
)

func getAudioContext() *audio.Context {
	audioContextOnce.Do(func() {
		audioContext = audio.NewContext(SampleRate)
	})
	return audioContext
}

// Melty synthesizes incoming messages with go-meltysynth and streams the
// rendered samples through an Ebitengine audio player. Unlike the usual
// MidiFileSequencer arrangement, the synthesizer here is driven message by
// message: the playback clock decides when each event is due and hands the
// raw short message over.
type Melty struct {
	synth  *meltysynth.Synthesizer
	player *audio.Player
	stream *meltyStream
	mu     sync.Mutex
}

// NewMelty loads the SoundFont at sf2Path and prepares a synthesizer.
func NewMelty(sf2Path string) (*Melty, error) {
	sf2Data, err := os.ReadFile(sf2Path)
	if err != nil {
		return nil, fmt.Errorf("read soundfont %s: %w", sf2Path, err)
	}
	soundFont, err := meltysynth.NewSoundFont(bytes.NewReader(sf2Data))
	if err != nil {
		return nil, fmt.Errorf("parse soundfont %s: %w", sf2Path, err)
	}
	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	synth, err := meltysynth.NewSynthesizer(soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	return &Melty{synth: synth}, nil
}

// Initialize creates the audio player and starts streaming silence until
// messages arrive.
func (m *Melty) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream = &meltyStream{sink: m}
	player, err := getAudioContext().NewPlayer(m.stream)
	if err != nil {
		return fmt.Errorf("create audio player: %w", err)
	}
	m.player = player
	m.player.Play()
	return nil
}

// Send decodes the packed message and forwards it to the synthesizer.
func (m *Melty) Send(msg uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.synth == nil {
		return
	}
	status := int32(msg & 0xFF)
	channel := status & 0x0F
	command := status & 0xF0
	data1 := int32(msg >> 8 & 0x7F)
	data2 := int32(msg >> 16 & 0x7F)
	m.synth.ProcessMidiMessage(channel, command, data1, data2)
}

// Reset releases every sounding voice. The clock follows a Reset with the
// resynthesized note state, so nothing lingers across a seek.
func (m *Melty) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.synth != nil {
		m.synth.NoteOffAll(false)
	}
}

// Terminate stops streaming and releases the player.
func (m *Melty) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		m.stream.stop()
	}
	if m.player != nil {
		m.player.Close()
		m.player = nil
	}
	m.synth = nil
}

// render fills the stereo buffers from the synthesizer under the sink lock.
func (m *Melty) render(left, right []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.synth == nil {
		return false
	}
	m.synth.Render(left, right)
	return true
}

// meltyStream implements io.Reader for Ebitengine: 16-bit interleaved
// stereo rendered on demand from the synthesizer.
type meltyStream struct {
	sink    *Melty
	stopped bool
	mu      sync.Mutex
}

func (s *meltyStream) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *meltyStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	samples := len(p) / 4 // 2 channels, 2 bytes each
	if samples == 0 {
		return 0, nil
	}
	if stopped {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	left := make([]float32, samples)
	right := make([]float32, samples)
	if !s.sink.render(left, right) {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	for i := 0; i < samples; i++ {
		l := int16(clamp(left[i], -1, 1) * 32767)
		r := int16(clamp(right[i], -1, 1) * 32767)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(r))
	}
	return len(p), nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
