package frontend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"AirModes-Relay/internal/radio"
)

// FrameSink receives decoded frames. *msgqueue.Queue satisfies it.
type FrameSink interface {
	Put(frame []byte) error
}

// Pipeline produces decoded frames until ctx ends or its input runs out.
type Pipeline interface {
	Run(ctx context.Context) error
}

type Options struct {
	// ReplayInterval paces file replay; zero replays as fast as possible.
	ReplayInterval time.Duration
}

// New picks the pipeline for a classified source. Live devices feed an
// external demodulator, so their pipeline only waits for shutdown.
func New(spec radio.SourceSpec, sink FrameSink, opts Options) Pipeline {
	switch spec.Kind {
	case radio.FileReplay:
		return &FileReplay{Path: spec.Path, Sink: sink, Interval: opts.ReplayInterval}
	case radio.NetworkCapture:
		return &UDPCapture{Addr: net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port)), Sink: sink}
	default:
		return Idle{}
	}
}

// FileReplay emits one frame per non-empty line of a capture file. Lines
// starting with # are skipped.
type FileReplay struct {
	Path     string
	Sink     FrameSink
	Interval time.Duration
}

func (f *FileReplay) Run(ctx context.Context) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	var ticker *time.Ticker
	if f.Interval > 0 {
		ticker = time.NewTicker(f.Interval)
		defer ticker.Stop()
	}

	scanner := bufio.NewScanner(file)
	n := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		if err := f.Sink.Put(append([]byte(nil), line...)); err != nil {
			return err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}
	log.Printf("[INFO] frontend: replayed %d frames from %s", n, f.Path)
	return nil
}

// UDPCapture listens for datagrams carrying one or more newline separated
// frames.
type UDPCapture struct {
	Addr string
	Sink FrameSink

	ready chan net.Addr
}

// Listening reports the bound address once Run has opened the socket.
func (u *UDPCapture) Listening() <-chan net.Addr {
	if u.ready == nil {
		u.ready = make(chan net.Addr, 1)
	}
	return u.ready
}

func (u *UDPCapture) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", u.Addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", u.Addr, err)
	}
	defer conn.Close()
	log.Printf("[INFO] frontend: capturing frames on udp %s", conn.LocalAddr())
	if u.ready != nil {
		u.ready <- conn.LocalAddr()
	}

	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("read udp: %w", err)
		}
		for _, line := range bytes.Split(buf[:n], []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if err := u.Sink.Put(append([]byte(nil), line...)); err != nil {
				return err
			}
		}
	}
}

// Idle waits for shutdown.
type Idle struct{}

func (Idle) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
