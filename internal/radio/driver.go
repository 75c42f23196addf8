package radio

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Driver is the boundary to a tunable receiver. Every call honors ctx.
type Driver interface {
	SetCenterFreq(ctx context.Context, hz float64) error
	CenterFreq(ctx context.Context) (float64, error)
	SetGain(ctx context.Context, db float64) error
	Gain(ctx context.Context) (float64, error)
	SetSampleRate(ctx context.Context, rate float64) error
	// SampleRate returns the rate the device actually applied.
	SampleRate(ctx context.Context) (float64, error)
	Close() error
}

type GainRanger interface {
	GainRange(ctx context.Context) (min, max float64, err error)
}

type AntennaSelector interface {
	SetAntenna(ctx context.Context, name string) error
}

type SubdevSelector interface {
	SetSubdev(ctx context.Context, spec string) error
}

// RateFallback is implemented by drivers with a narrow rate range. The
// controller retries with this rate when the requested one is refused.
type RateFallback interface {
	FallbackSampleRate() float64
}

// OpenDriver returns the driver for a live source and nil for any other.
// Device B speaks rtl_tcp when args carry rtl_tcp=host:port.
func OpenDriver(ctx context.Context, spec SourceSpec, opts Options) (Driver, error) {
	switch spec.Kind {
	case LiveDeviceA:
		log.Printf("[INFO] radio: opening simulated %s device (args %q)", DeviceA, opts.Args)
		return NewSimDriver(DefaultSimConfig()), nil
	case LiveDeviceB:
		if addr, ok := deviceArg(opts.Args, "rtl_tcp"); ok {
			log.Printf("[INFO] radio: connecting to rtl_tcp at %s", addr)
			d, err := DialRTLTCP(ctx, addr)
			if err != nil {
				return nil, &HardwareQueryError{Param: "device", Op: "open", Err: err}
			}
			return d, nil
		}
		log.Printf("[INFO] radio: opening simulated %s device (args %q)", DeviceB, opts.Args)
		return NewSimDriver(ConsumerSimConfig()), nil
	case FileReplay, NetworkCapture:
		return nil, nil
	default:
		return nil, fmt.Errorf("radio: no driver for %s", spec.Kind)
	}
}

// deviceArg reads key from comma-separated key=value device args.
func deviceArg(args, key string) (string, bool) {
	for _, kv := range strings.Split(args, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(kv), "=")
		if found && k == key && v != "" {
			return v, true
		}
	}
	return "", false
}
