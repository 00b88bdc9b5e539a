package sink

import "sync/atomic"

// Null is the dispatch-suppressed sink: it counts traffic and discards it.
// Used by tests, and by the application when no synthesizer is available so
// a session can still run muted instead of failing outright.
type Null struct {
	Sends  atomic.Uint64
	Resets atomic.Uint64
}

// NewNull returns a fresh counting sink.
func NewNull() *Null { return &Null{} }

func (n *Null) Initialize() error { return nil }

func (n *Null) Reset() { n.Resets.Add(1) }

func (n *Null) Terminate() {}

func (n *Null) Send(uint32) { n.Sends.Add(1) }
