package sink

import (
	"fmt"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register the rtmidi driver
)

// Port sends messages to a hardware (or virtual) MIDI output port through
// the gomidi rtmidi driver. The port is matched by case-insensitive name
// substring; an empty name takes the first available port.
type Port struct {
	name string
	out  drivers.Out
	send func(gomidi.Message) error
	mu   sync.Mutex
}

// NewPort prepares a sink for the named output port. The port is not opened
// until Initialize.
func NewPort(name string) *Port {
	return &Port{name: name}
}

// ListPorts returns the names of the available MIDI output ports.
func ListPorts() []string {
	outs := gomidi.GetOutPorts()
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.String()
	}
	return names
}

// Initialize finds and opens the output port.
func (p *Port) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	outs := gomidi.GetOutPorts()
	if len(outs) == 0 {
		return fmt.Errorf("no MIDI output ports available")
	}
	var out drivers.Out
	if p.name == "" {
		out = outs[0]
	} else {
		want := strings.ToLower(p.name)
		for _, o := range outs {
			if strings.Contains(strings.ToLower(o.String()), want) {
				out = o
				break
			}
		}
		if out == nil {
			return fmt.Errorf("no MIDI output port matching %q", p.name)
		}
	}

	send, err := gomidi.SendTo(out)
	if err != nil {
		return fmt.Errorf("open output port %s: %w", out.String(), err)
	}
	p.out = out
	p.send = send
	return nil
}

// Send forwards the packed message as a raw MIDI short message. Errors are
// swallowed: dispatch is fire-and-forget by contract.
func (p *Port) Send(msg uint32) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send == nil {
		return
	}
	status := byte(msg)
	raw := []byte{status, byte(msg >> 8 & 0x7F)}
	if dataBytes(status) == 2 {
		raw = append(raw, byte(msg>>16&0x7F))
	}
	_ = send(gomidi.Message(raw))
}

// Reset sends all-notes-off and all-sound-off on every channel so no note
// survives a stop or seek on the external device.
func (p *Port) Reset() {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send == nil {
		return
	}
	for ch := byte(0); ch < 16; ch++ {
		_ = send(gomidi.Message([]byte{0xB0 | ch, 123, 0})) // all notes off
		_ = send(gomidi.Message([]byte{0xB0 | ch, 120, 0})) // all sound off
	}
}

// Terminate resets and closes the port.
func (p *Port) Terminate() {
	p.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		_ = p.out.Close()
		p.out = nil
		p.send = nil
	}
}

func dataBytes(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	default:
		return 2
	}
}
