// Package socket defines the identity and event types produced by the
// (out of scope) kernel-side packet source and consumed by the registry.
package socket

import (
	"fmt"
	"net"
)

// ID identifies one TCP socket on this host, as seen by the packet source.
type ID struct {
	PID uint32
	FD  uint32
}

// String renders an ID as "pid-fd", suitable for use as a filename stem.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d", id.PID, id.FD)
}

// EventID identifies one observed event on a socket: the socket plus a
// monotonically increasing nanosecond timestamp from the capture point.
type EventID struct {
	Socket      ID
	TimestampNs int64
}

// Kind classifies an Event.
type Kind int

const (
	// Connect signals a new TCP flow the packet source has decided to track.
	Connect Kind = iota
	// Data carries an observed segment's payload, in capture order, for one direction.
	Data
	// Close signals the flow has ended; no further Data events follow for this socket.
	Close
)

// Event is one item the packet source hands to the registry.
type Event struct {
	ID      EventID
	Kind    Kind
	Src     *net.TCPAddr
	Dst     *net.TCPAddr
	Payload []byte
}

// Source is the external collaborator that feeds observed TCP events to the
// registry. A real implementation captures traffic via a raw socket or an
// eBPF probe; that capture mechanism is out of scope here.
type Source interface {
	// Events returns the channel of observed events. The channel is closed
	// when the source can no longer produce events.
	Events() <-chan Event
}

// ChannelSource is a Source backed by a plain channel, used by tests and by
// the reference binary's demo mode in place of a real kernel capture.
type ChannelSource struct {
	ch chan Event
}

// NewChannelSource creates a ChannelSource with the given channel capacity.
func NewChannelSource(capacity int) *ChannelSource {
	return &ChannelSource{ch: make(chan Event, capacity)}
}

// Events implements Source.
func (s *ChannelSource) Events() <-chan Event { return s.ch }

// Emit delivers ev to the source's consumer. It blocks if the channel is full.
func (s *ChannelSource) Emit(ev Event) { s.ch <- ev }

// Close closes the underlying channel; Emit must not be called afterward.
func (s *ChannelSource) Close() { close(s.ch) }
