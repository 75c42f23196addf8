package control

import (
	"AirModes-Relay/internal/core/network"
	"AirModes-Relay/internal/modes"
)

// Stream is a report sink that rebroadcasts to live HTTP clients. Slow
// clients miss reports rather than stalling the relay.
type Stream struct {
	ps *network.MemoryPubSub
}

func NewStream() *Stream {
	return &Stream{ps: network.NewMemoryPubSub()}
}

func (s *Stream) Name() string { return "stream" }

func (s *Stream) Write(_ *modes.Report, raw []byte) error {
	return s.ps.Publish(modes.TopicReports, raw)
}

// Subscribe returns a channel of raw report JSON and its cancel func. The
// channel is closed when the stream closes.
func (s *Stream) Subscribe() (<-chan network.Message, func(), error) {
	return s.ps.Subscribe(modes.TopicReports)
}

func (s *Stream) Close() error {
	return s.ps.Close()
}
