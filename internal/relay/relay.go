package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"AirModes-Relay/internal/core/network"
	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/modes"
)

const (
	// RadioTag is the in-process address the local radio publishes on.
	RadioTag = "modes-radio-pub"
	// OutputTag is where parsed reports are republished.
	OutputTag = "modes-relay-out"
)

// Parser turns one decoded-frame payload into a report.
type Parser interface {
	Parse(payload []byte) (*modes.Report, error)
}

// Addresses is the local address plus every remote in the comma-separated
// list. Any malformed entry fails the whole list, including a network
// address without the /p2p/ peer id needed to dial it.
func Addresses(local network.Address, remoteCSV string) ([]network.Address, error) {
	remotes, err := network.ParseAddressList(remoteCSV)
	if err != nil {
		return nil, err
	}
	for _, a := range remotes {
		if a.Kind != network.KindNetwork {
			continue
		}
		if _, err := a.PeerInfo(); err != nil {
			return nil, err
		}
	}
	return append([]network.Address{local}, remotes...), nil
}

type Config struct {
	// Subscribe is every address the relay listens on.
	Subscribe []network.Address
	// Output defaults to inproc://modes-relay-out.
	Output network.Address
}

// Node merges the decoded-frame feeds of every subscribed publisher, runs
// them through the parser and republishes the reports locally.
type Node struct {
	sub     *network.Subscriber
	out     *network.Publisher
	parser  Parser
	metrics *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
}

func New(nc *network.Context, cfg Config, parser Parser) (*Node, error) {
	if parser == nil {
		return nil, errors.New("relay: parser is required")
	}
	if cfg.Output.Raw == "" {
		cfg.Output = network.InprocAddress(OutputTag)
	}

	out, err := network.NewPublisher(nc, []network.Address{cfg.Output})
	if err != nil {
		return nil, fmt.Errorf("relay output: %w", err)
	}
	sub, err := network.NewSubscriber(nc, cfg.Subscribe)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}

	n := &Node{sub: sub, out: out, parser: parser, metrics: nc.Metrics()}
	if err := sub.Subscribe(network.TopicDecoded, n.handle); err != nil {
		_ = sub.Close()
		_ = out.Close()
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	for _, a := range cfg.Subscribe {
		log.Printf("[INFO] relay: subscribed to %s", a)
	}
	return n, nil
}

func (n *Node) handle(msg network.Message) {
	n.metrics.RelayReceived()
	report, err := n.parser.Parse(msg.Payload)
	if err != nil {
		n.metrics.ParseError()
		log.Printf("[DEBUG] relay: dropping unparseable frame %q (%d bytes): %v", preview(msg.Payload), len(msg.Payload), err)
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		log.Printf("[ERROR] relay: encode report: %v", err)
		return
	}
	n.metrics.Report(report.DF)
	for _, topic := range []string{modes.TopicReports, report.Topic()} {
		if err := n.out.Publish(topic, body); err != nil {
			log.Printf("[WARN] relay: publish %s: %v", topic, err)
		}
	}
}

const previewLen = 48

// preview cuts a payload down for logging.
func preview(b []byte) string {
	if len(b) <= previewLen {
		return string(b)
	}
	return string(b[:previewLen]) + "..."
}

// Output is the address parsed reports are published on.
func (n *Node) Output() network.Address {
	return n.out.Addresses()[0]
}

// Peers lists connected remote publishers.
func (n *Node) Peers() []string {
	return n.sub.Peers()
}

// Close stops the subscriber first so nothing is published into a closed
// output. Calling it again is a no-op.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = errors.Join(n.sub.Close(), n.out.Close())
	})
	return n.closeErr
}
