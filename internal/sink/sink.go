package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"AirModes-Relay/internal/core/network"
	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/modes"
)

// Sink consumes parsed reports.
type Sink interface {
	Name() string
	Write(r *modes.Report, raw []byte) error
	Close() error
}

// Fanout subscribes to the relay output and hands every report to each sink.
type Fanout struct {
	sub     *network.Subscriber
	sinks   []Sink
	metrics *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Attach subscribes to the reports topic on addr.
func Attach(nc *network.Context, addr network.Address, sinks ...Sink) (*Fanout, error) {
	sub, err := network.NewSubscriber(nc, []network.Address{addr})
	if err != nil {
		return nil, err
	}
	f := &Fanout{sub: sub, sinks: sinks, metrics: nc.Metrics()}
	if err := sub.Subscribe(modes.TopicReports, f.handle); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return f, nil
}

func (f *Fanout) handle(msg network.Message) {
	var r modes.Report
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		log.Printf("[WARN] sink: undecodable report: %v", err)
		return
	}
	for _, s := range f.sinks {
		err := s.Write(&r, msg.Payload)
		f.metrics.SinkWrite(s.Name(), err)
		if err != nil {
			log.Printf("[WARN] sink: %s: %v", s.Name(), err)
		}
	}
}

// Close unsubscribes, then closes every sink.
func (f *Fanout) Close() error {
	f.closeOnce.Do(func() {
		errs := []error{f.sub.Close()}
		for _, s := range f.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}

// Printer writes one line per report.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Name() string { return "print" }

func (p *Printer) Write(r *modes.Report, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "(%.1f %.6f) %s\n", r.Reference, r.Timestamp, r)
	return err
}

func (p *Printer) Close() error { return nil }
