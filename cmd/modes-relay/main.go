package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"AirModes-Relay/internal/config"
	"AirModes-Relay/internal/control"
	"AirModes-Relay/internal/core/network"
	"AirModes-Relay/internal/frontend"
	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/modes"
	"AirModes-Relay/internal/msgqueue"
	"AirModes-Relay/internal/parambus"
	"AirModes-Relay/internal/radio"
	"AirModes-Relay/internal/relay"
	"AirModes-Relay/internal/sink"
)

func main() {
	flags := config.NewFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[ERROR] invalid configuration: %v", err)
	}

	logs := config.SetupLogging(cfg.Logging, os.Stderr)
	err = run(cfg)
	_ = logs.Close()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Both classifications fail before any transport is opened.
	spec, err := radio.Classify(cfg.Radio.Source)
	if err != nil {
		return err
	}
	subscribe, err := relay.Addresses(network.InprocAddress(relay.RadioTag), cfg.Transport.Remote)
	if err != nil {
		return err
	}
	pubAddrs := []network.Address{network.InprocAddress(relay.RadioTag)}
	if cfg.Transport.PublishPort > 0 {
		a, err := network.PublishAddress(cfg.Transport.PublishPort)
		if err != nil {
			return err
		}
		pubAddrs = append(pubAddrs, a)
	}
	log.Printf("[INFO] modes-relay: source %s", spec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	nc := network.NewContext(context.Background(), network.Options{
		IdentityKeyFile: cfg.Transport.IdentityKey,
		EnableMDNS:      cfg.Transport.MDNS,
		Rendezvous:      cfg.Transport.Rendezvous,
		ConnectAttempts: cfg.Transport.ConnectAttempts,
		ConnectTimeout:  cfg.Transport.ConnectTimeout,
		RetryInterval:   cfg.Transport.RetryInterval,
		Metrics:         m,
	})
	defer nc.Close()

	pub, err := network.NewPublisher(nc, pubAddrs)
	if err != nil {
		return err
	}
	defer pub.Close()
	if id := pub.PeerID(); id != "" {
		log.Printf("[INFO] modes-relay: peer id %s", id)
	}
	for _, a := range pub.ListenAddrs() {
		log.Printf("[INFO] modes-relay: publishing on %s", a)
	}

	queue := msgqueue.NewQueue(cfg.Queue.HighWater, m)
	bridge := msgqueue.NewBridge(queue, func(frame []byte) error {
		return pub.Publish(network.TopicDecoded, frame)
	})

	ropts := radio.Options{
		Freq:            cfg.Radio.Freq,
		Gain:            cfg.Radio.Gain,
		Rate:            cfg.Radio.Rate,
		Threshold:       cfg.Radio.Threshold,
		PMF:             cfg.Radio.PMF,
		DCBlock:         cfg.Radio.DCBlock,
		Subdev:          cfg.Radio.Subdev,
		Antenna:         cfg.Radio.Antenna,
		Args:            cfg.Radio.Args,
		HardwareTimeout: cfg.Radio.HardwareTimeout,
		Metrics:         m,
	}
	driver, err := radio.OpenDriver(ctx, spec, ropts)
	if err != nil {
		return err
	}
	bus := parambus.New()
	rx := radio.NewRxSettings(cfg.Radio.Rate, cfg.Radio.Threshold, cfg.Radio.PMF, cfg.Radio.DCBlock)
	ctrl, err := radio.NewController(ctx, spec, ropts, driver, rx, bus)
	if err != nil {
		if driver != nil {
			_ = driver.Close()
		}
		return err
	}
	defer ctrl.Close()
	log.Printf("[INFO] modes-relay: rx path %s", rx)

	node, err := relay.New(nc, relay.Config{Subscribe: subscribe}, &modes.Parser{Node: uuid.NewString()})
	if err != nil {
		return err
	}
	defer node.Close()

	stream := control.NewStream()
	sinks := []sink.Sink{stream}
	if !cfg.Sinks.NoPrint {
		sinks = append(sinks, sink.NewPrinter(os.Stdout))
	}
	if cfg.Sinks.MQTT.Broker != "" {
		mq, err := sink.NewMQTT(cfg.Sinks.MQTT)
		if err != nil {
			log.Printf("[WARN] modes-relay: mqtt export disabled: %v", err)
		} else {
			sinks = append(sinks, mq)
		}
	}
	fanout, err := sink.Attach(nc, node.Output(), sinks...)
	if err != nil {
		return err
	}
	defer fanout.Close()

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		control.NewServer(bus, control.Options{
			Stream:  stream,
			Peers:   node.Peers,
			Metrics: m.Handler(),
		}).Register(mux)
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Printf("[INFO] modes-relay: control api listening on %s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
	}

	pipeline := frontend.New(spec, queue, frontend.Options{ReplayInterval: cfg.Radio.ReplayInterval})
	pipeCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	pipeDone := make(chan struct{})
	bridge.Start()
	g.Go(func() error {
		defer close(pipeDone)
		err := pipeline.Run(pipeCtx)
		switch {
		case err == nil:
			log.Printf("[INFO] modes-relay: front-end finished, still relaying")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("front-end: %w", err)
		}
	})

	<-gctx.Done()
	log.Printf("[INFO] modes-relay: shutting down")

	stopPipeline()
	<-pipeDone
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Transport.DrainTimeout)
	if err := bridge.Stop(drainCtx); err != nil {
		log.Printf("[WARN] modes-relay: bridge drain: %v", err)
	}
	cancelDrain()

	closeAll := []struct {
		name string
		fn   func() error
	}{
		{"radio publisher", pub.Close},
		{"relay", node.Close},
		{"sinks", fanout.Close},
		{"controller", ctrl.Close},
	}
	for _, c := range closeAll {
		if err := c.fn(); err != nil {
			log.Printf("[WARN] modes-relay: close %s: %v", c.name, err)
		}
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := nc.Close(); err != nil {
		log.Printf("[WARN] modes-relay: close messaging context: %v", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
