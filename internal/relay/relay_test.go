package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"AirModes-Relay/internal/core/network"
	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/modes"
)

type recordingParser struct {
	mu       sync.Mutex
	payloads []string
}

func (p *recordingParser) Parse(payload []byte) (*modes.Report, error) {
	p.mu.Lock()
	p.payloads = append(p.payloads, string(payload))
	p.mu.Unlock()
	return (&modes.Parser{Node: "test"}).Parse(payload)
}

func (p *recordingParser) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestAddresses(t *testing.T) {
	local := network.InprocAddress(RadioTag)
	addrs, err := Addresses(local, "")
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if len(addrs) != 1 || addrs[0].Raw != "inproc://modes-radio-pub" {
		t.Fatalf("unexpected set %v", addrs)
	}

	addrs, err = Addresses(local, "inproc://other,tcp://10.1.2.3:4000/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ")
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("expected 3 addresses, got %v", addrs)
	}

	// Without a peer id the remote cannot be dialed, so it fails here rather
	// than after the radio publisher has bound.
	_, err = Addresses(local, "inproc://other,tcp://10.1.2.3:4000")
	if !errors.Is(err, network.ErrInvalidAddress) {
		t.Fatalf("expected missing peer id to be rejected, got %v", err)
	}

	_, err = Addresses(local, "inproc://other,not-an-address")
	if !errors.Is(err, network.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	var terr *network.TransportError
	if !errors.As(err, &terr) || terr.Address != "not-an-address" {
		t.Fatalf("error should name the bad entry, got %v", err)
	}
}

func TestRelayMergesTwoPublishers(t *testing.T) {
	m := metrics.New()
	nc := network.NewContext(context.Background(), network.Options{Metrics: m})
	defer nc.Close()

	radio, err := network.NewPublisher(nc, []network.Address{network.InprocAddress(RadioTag)})
	if err != nil {
		t.Fatalf("radio publisher: %v", err)
	}
	defer radio.Close()
	other, err := network.NewPublisher(nc, []network.Address{network.InprocAddress("remote-site")})
	if err != nil {
		t.Fatalf("other publisher: %v", err)
	}
	defer other.Close()

	addrs, err := Addresses(network.InprocAddress(RadioTag), "inproc://remote-site")
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	parser := &recordingParser{}
	node, err := New(nc, Config{Subscribe: addrs}, parser)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer node.Close()

	const a = "8d4840d6202cc371c32ce0576098"
	const b = "200005101d70e8"
	if err := radio.Publish(network.TopicDecoded, []byte(a)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := other.Publish(network.TopicDecoded, []byte(b)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(parser.seen()) == 2 })
	time.Sleep(50 * time.Millisecond)

	got := parser.seen()
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 payloads, got %v", got)
	}
	if !((got[0] == a && got[1] == b) || (got[0] == b && got[1] == a)) {
		t.Fatalf("payloads altered: %v", got)
	}
	if v := m.Value("modes_relay_frames_total"); v != 2 {
		t.Fatalf("relay frame counter = %v", v)
	}
}

func TestRelayRepublishesReports(t *testing.T) {
	nc := network.NewContext(context.Background(), network.Options{})
	defer nc.Close()

	radio, err := network.NewPublisher(nc, []network.Address{network.InprocAddress(RadioTag)})
	if err != nil {
		t.Fatalf("radio publisher: %v", err)
	}
	defer radio.Close()

	addrs, _ := Addresses(network.InprocAddress(RadioTag), "")
	node, err := New(nc, Config{Subscribe: addrs}, &modes.Parser{Node: "n1"})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer node.Close()

	consumer, err := network.NewSubscriber(nc, []network.Address{node.Output()})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	defer consumer.Close()

	var mu sync.Mutex
	topics := map[string]modes.Report{}
	record := func(msg network.Message) {
		var r modes.Report
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			t.Errorf("decode %s: %v", msg.Topic, err)
			return
		}
		mu.Lock()
		topics[msg.Topic] = r
		mu.Unlock()
	}
	if err := consumer.Subscribe(modes.TopicReports, record); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := consumer.Subscribe("type17_dl", record); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = radio.Publish(network.TopicDecoded, []byte("not hex"))
	_ = radio.Publish(network.TopicDecoded, []byte("8d4840d6202cc371c32ce0576098"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	for topic, r := range topics {
		if r.ICAO != "4840d6" || r.DF != 17 || r.Node != "n1" {
			t.Fatalf("%s: unexpected report %+v", topic, r)
		}
	}
}

func TestRelayCloseStopsDelivery(t *testing.T) {
	nc := network.NewContext(context.Background(), network.Options{})
	defer nc.Close()

	radio, err := network.NewPublisher(nc, []network.Address{network.InprocAddress(RadioTag)})
	if err != nil {
		t.Fatalf("radio publisher: %v", err)
	}
	defer radio.Close()

	parser := &recordingParser{}
	node, err := New(nc, Config{Subscribe: []network.Address{network.InprocAddress(RadioTag)}}, parser)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	_ = radio.Publish(network.TopicDecoded, []byte("8d4840d6202cc371c32ce0576098"))
	time.Sleep(50 * time.Millisecond)
	if n := len(parser.seen()); n != 0 {
		t.Fatalf("parser called %d times after close", n)
	}

	// The output address is free again.
	again, err := New(nc, Config{Subscribe: []network.Address{network.InprocAddress(RadioTag)}}, parser)
	if err != nil {
		t.Fatalf("recreate relay: %v", err)
	}
	_ = again.Close()
}

func TestRelayNeedsParser(t *testing.T) {
	nc := network.NewContext(context.Background(), network.Options{})
	defer nc.Close()
	if _, err := New(nc, Config{}, nil); err == nil {
		t.Fatal("expected error without a parser")
	}
}

func TestPreviewTruncatesLongPayloads(t *testing.T) {
	if got := preview([]byte("8d4840d6")); got != "8d4840d6" {
		t.Fatalf("short payload changed: %q", got)
	}
	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}
	got := preview(long)
	if len(got) != previewLen+3 || got[previewLen:] != "..." {
		t.Fatalf("long payload not truncated: %d bytes", len(got))
	}
}

type slowParser struct {
	recordingParser
}

func (p *slowParser) Parse(payload []byte) (*modes.Report, error) {
	time.Sleep(50 * time.Microsecond)
	return p.recordingParser.Parse(payload)
}

func TestRelaySeesEveryFrameOfABurst(t *testing.T) {
	m := metrics.New()
	nc := network.NewContext(context.Background(), network.Options{Metrics: m})
	defer nc.Close()

	radio, err := network.NewPublisher(nc, []network.Address{network.InprocAddress(RadioTag)})
	if err != nil {
		t.Fatalf("radio publisher: %v", err)
	}
	defer radio.Close()
	addrs, err := Addresses(network.InprocAddress(RadioTag), "")
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	parser := &slowParser{}
	node, err := New(nc, Config{Subscribe: addrs}, parser)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer node.Close()

	const n = 2000
	for i := 0; i < n; i++ {
		if err := radio.Publish(network.TopicDecoded, []byte("8d4840d6202cc371c32ce0576098")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && len(parser.seen()) < n {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(parser.seen()); got != n {
		t.Fatalf("parser saw %d of %d frames", got, n)
	}
	if v := m.Value("modes_transport_dropped_total"); v != 0 {
		t.Fatalf("dropped counter = %v", v)
	}
}
