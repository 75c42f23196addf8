package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"AirModes-Relay/internal/metrics"
	"AirModes-Relay/internal/parambus"
)

const (
	// NominalFreq is the Mode S downlink frequency.
	NominalFreq = 1090e6
	// ConsumerDefaultGain is used when the device cannot report a gain range.
	ConsumerDefaultGain = 34.0

	DefaultRate            = 4e6
	DefaultThreshold       = 7.0
	DefaultHardwareTimeout = 5 * time.Second
)

// Bus parameter names.
const (
	ParamFreq      = "freq"
	ParamGain      = "gain"
	ParamRate      = "rate"
	ParamThreshold = "threshold"
	ParamPMF       = "pmf"
)

// Options are the radio settings requested at startup.
type Options struct {
	Freq float64
	// Gain nil selects the default gain policy.
	Gain      *float64
	Rate      float64
	Threshold float64
	PMF       bool
	DCBlock   bool

	Subdev  string
	Antenna string
	Args    string

	HardwareTimeout time.Duration
	Metrics         *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Freq:            NominalFreq,
		Rate:            DefaultRate,
		Threshold:       DefaultThreshold,
		HardwareTimeout: DefaultHardwareTimeout,
	}
}

// Controller binds a front-end source to the parameter bus. Bus calls are
// serialized by one mutex and every driver call is bounded by
// Options.HardwareTimeout.
type Controller struct {
	spec   SourceSpec
	opts   Options
	driver Driver
	rx     RxPath
	bus    *parambus.Bus

	mu   sync.Mutex
	rate float64

	closeOnce sync.Once
	closeErr  error
}

// NewController applies the startup settings to a live driver and registers
// the freq, gain, rate, threshold and pmf channels on bus. Non-live sources
// need no driver. Hardware errors during setup are logged and setup goes on.
func NewController(ctx context.Context, spec SourceSpec, opts Options, driver Driver, rx RxPath, bus *parambus.Bus) (*Controller, error) {
	if opts.HardwareTimeout <= 0 {
		opts.HardwareTimeout = DefaultHardwareTimeout
	}
	if spec.Live() && driver == nil {
		return nil, fmt.Errorf("radio: %s source needs a driver", spec.Kind)
	}
	c := &Controller{spec: spec, opts: opts, driver: driver, rx: rx, bus: bus}

	rx.SetThreshold(opts.Threshold)
	rx.SetPMF(opts.PMF)
	if spec.Live() {
		c.setup(ctx)
		c.bindLive()
	} else {
		c.rate = opts.Rate
		rx.SetRate(opts.Rate)
		c.bindStatic()
	}
	return c, nil
}

func (c *Controller) setup(ctx context.Context) {
	if c.opts.Subdev != "" {
		if sel, ok := c.driver.(SubdevSelector); ok {
			if err := c.hw(ctx, "subdev", "set", func(ctx context.Context) error { return sel.SetSubdev(ctx, c.opts.Subdev) }); err != nil {
				log.Printf("[WARN] radio: %v", err)
			}
		}
	}

	if err := c.tune(ctx, c.opts.Freq); err != nil {
		log.Printf("[WARN] radio: failed to set initial frequency: %v", err)
	}

	c.rate = c.applyRate(ctx, c.opts.Rate)
	log.Printf("[INFO] radio: rate is %.0f", c.rate)

	if c.opts.Antenna != "" {
		if sel, ok := c.driver.(AntennaSelector); ok {
			if err := c.hw(ctx, "antenna", "set", func(ctx context.Context) error { return sel.SetAntenna(ctx, c.opts.Antenna) }); err != nil {
				log.Printf("[WARN] radio: %v", err)
			}
		}
	}

	var gain float64
	if c.opts.Gain != nil {
		gain = *c.opts.Gain
	} else {
		gain = c.defaultGain(ctx)
	}
	if err := c.applyGain(ctx, gain); err != nil {
		log.Printf("[WARN] radio: failed to set initial gain: %v", err)
	}
}

// defaultGain is the midpoint of the device gain range, or
// ConsumerDefaultGain when there is no range to ask for.
func (c *Controller) defaultGain(ctx context.Context) float64 {
	ranger, ok := c.driver.(GainRanger)
	if !ok {
		return ConsumerDefaultGain
	}
	r, err := hwCall(ctx, c.opts.HardwareTimeout, ParamGain, "range", func(ctx context.Context) ([2]float64, error) {
		lo, hi, err := ranger.GainRange(ctx)
		return [2]float64{lo, hi}, err
	})
	switch {
	case err == nil:
		return (r[0] + r[1]) / 2
	case errors.Is(err, ErrNoGainRange):
		return ConsumerDefaultGain
	default:
		log.Printf("[WARN] radio: %v, using gain %.0f", err, ConsumerDefaultGain)
		return ConsumerDefaultGain
	}
}

// hwCall runs one driver call with a timeout. A driver that ignores ctx
// still cannot hold the caller past the deadline.
func hwCall[T any](parent context.Context, timeout time.Duration, param, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()
	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, &HardwareQueryError{Param: param, Op: op, Err: r.err}
		}
		return r.v, nil
	case <-ctx.Done():
		return zero, &HardwareQueryError{Param: param, Op: op, Err: ctx.Err()}
	}
}

func (c *Controller) hw(ctx context.Context, param, op string, fn func(context.Context) error) error {
	_, err := hwCall(ctx, c.opts.HardwareTimeout, param, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c *Controller) tune(ctx context.Context, hz float64) error {
	return c.hw(ctx, ParamFreq, "set", func(ctx context.Context) error { return c.driver.SetCenterFreq(ctx, hz) })
}

// applyRate requests rate and returns what the device reports applying,
// falling back to the driver's preferred rate when the request is refused.
// Only a rate the device reported is stored; without one the previous
// applied rate stays, which is 0 before the first success.
func (c *Controller) applyRate(ctx context.Context, rate float64) float64 {
	if err := c.setRate(ctx, rate); err != nil {
		log.Printf("[WARN] radio: %v", err)
		if fb, ok := c.driver.(RateFallback); ok && fb.FallbackSampleRate() != rate {
			fallback := fb.FallbackSampleRate()
			if err := c.setRate(ctx, fallback); err != nil {
				log.Printf("[WARN] radio: %v", err)
			} else {
				log.Printf("[INFO] radio: rate %.0f refused, using %.0f", rate, fallback)
			}
		}
	}
	actual, err := c.readFloat(ctx, ParamRate, c.driver.SampleRate)
	switch {
	case err != nil:
		log.Printf("[WARN] radio: %v, keeping rate %.0f", err, c.rate)
		c.rx.SetRate(c.rate)
		return c.rate
	case actual <= 0:
		log.Printf("[WARN] radio: %v", &HardwareQueryError{Param: ParamRate, Op: "get", Err: ErrNoSampleRate})
		c.rx.SetRate(0)
		return 0
	}
	c.rx.SetRate(actual)
	return actual
}

func (c *Controller) setRate(ctx context.Context, rate float64) error {
	return c.hw(ctx, ParamRate, "set", func(ctx context.Context) error { return c.driver.SetSampleRate(ctx, rate) })
}

func (c *Controller) applyGain(ctx context.Context, db float64) error {
	if err := c.hw(ctx, ParamGain, "set", func(ctx context.Context) error { return c.driver.SetGain(ctx, db) }); err != nil {
		return err
	}
	actual, err := c.readFloat(ctx, ParamGain, c.driver.Gain)
	if err != nil {
		return err
	}
	log.Printf("[INFO] radio: gain is %.1f", actual)
	return nil
}

func (c *Controller) readFloat(ctx context.Context, param string, fn func(context.Context) (float64, error)) (float64, error) {
	return hwCall(ctx, c.opts.HardwareTimeout, param, "get", fn)
}

func (c *Controller) bindLive() {
	c.bind(ParamFreq,
		func() (any, error) { return c.readFloat(context.Background(), ParamFreq, c.driver.CenterFreq) },
		func(v any) error {
			hz, err := parambus.Float(v)
			if err != nil {
				return err
			}
			if err := c.tune(context.Background(), hz); err != nil {
				if errors.Is(err, ErrTuneRejected) {
					log.Printf("[WARN] radio: tune to %.0f rejected", hz)
					return nil
				}
				return err
			}
			return nil
		})

	c.bind(ParamGain,
		func() (any, error) { return c.readFloat(context.Background(), ParamGain, c.driver.Gain) },
		func(v any) error {
			db, err := parambus.Float(v)
			if err != nil {
				return err
			}
			return c.applyGain(context.Background(), db)
		})

	c.bind(ParamRate,
		func() (any, error) { return c.readFloat(context.Background(), ParamRate, c.driver.SampleRate) },
		func(v any) error {
			rate, err := parambus.Float(v)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := c.setRate(ctx, rate); err != nil {
				return err
			}
			actual, err := c.readFloat(ctx, ParamRate, c.driver.SampleRate)
			if err != nil {
				return err
			}
			if actual <= 0 {
				return &HardwareQueryError{Param: ParamRate, Op: "get", Err: ErrNoSampleRate}
			}
			c.rate = actual
			c.rx.SetRate(actual)
			log.Printf("[INFO] radio: rate is %.0f", actual)
			return nil
		})

	c.bindRx()
}

func (c *Controller) bindRx() {
	c.bind(ParamThreshold,
		func() (any, error) { return c.rx.Threshold(), nil },
		func(v any) error {
			db, err := parambus.Float(v)
			if err != nil {
				return err
			}
			c.rx.SetThreshold(db)
			return nil
		})

	c.bind(ParamPMF,
		func() (any, error) { return c.rx.PMF(), nil },
		func(v any) error {
			enabled, ok := v.(bool)
			if !ok {
				return fmt.Errorf("%w: %T", parambus.ErrWrongType, v)
			}
			c.rx.SetPMF(enabled)
			return nil
		})
}

// bindStatic serves fixed values for sources without a device.
func (c *Controller) bindStatic() {
	fixed := map[string]any{
		ParamFreq:      NominalFreq,
		ParamGain:      0.0,
		ParamRate:      c.opts.Rate,
		ParamThreshold: c.opts.Threshold,
		ParamPMF:       c.opts.PMF,
	}
	for _, name := range []string{ParamFreq, ParamGain, ParamRate, ParamThreshold, ParamPMF} {
		value := fixed[name]
		c.bind(name,
			func() (any, error) { return value, nil },
			func(any) error { return nil })
	}
}

// bind registers get and set under the controller mutex.
func (c *Controller) bind(name string, get parambus.Getter, set parambus.Setter) {
	c.bus.Publish(name, func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return get()
	})
	c.bus.Subscribe(name, func(v any) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		err := set(v)
		c.opts.Metrics.ParameterSet(name, err)
		return err
	})
}

func (c *Controller) Spec() SourceSpec {
	return c.spec
}

// Rate is the sample rate the device actually runs at.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Close releases the driver. Calling it again is a no-op.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		if c.driver != nil {
			c.mu.Lock()
			c.closeErr = c.driver.Close()
			c.mu.Unlock()
		}
	})
	return c.closeErr
}
