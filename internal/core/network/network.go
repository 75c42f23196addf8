package network

import (
	"errors"
	"fmt"
)

// TopicDecoded carries the raw decoded frames between radio and relay.
const TopicDecoded = "dl_data"

var (
	ErrClosed         = errors.New("transport closed")
	ErrInvalidAddress = errors.New("invalid transport address")
	ErrAddressInUse   = errors.New("address already bound")
)

// Message is the transport envelope used by the runtime.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

// TransportError reports a bind, connect or address failure on one endpoint.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
