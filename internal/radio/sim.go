package radio

import (
	"context"
	"math"
	"sync"
)

// SimConfig describes a simulated receiver.
type SimConfig struct {
	// GainMin and GainMax are reported by GainRange when HasGainRange is set.
	GainMin      float64
	GainMax      float64
	HasGainRange bool

	// FreqMin and FreqMax bound tuning; zero means unbounded.
	FreqMin float64
	FreqMax float64

	// MasterClock quantizes sample rates to MasterClock/N. Zero applies the
	// requested rate as is.
	MasterClock float64
}

// DefaultSimConfig models a laboratory receiver with a queryable gain range.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		GainMin:      0,
		GainMax:      76,
		HasGainRange: true,
		FreqMin:      70e6,
		FreqMax:      6e9,
		MasterClock:  32e6,
	}
}

// ConsumerSimConfig models a consumer dongle that cannot report gain range.
func ConsumerSimConfig() SimConfig {
	return SimConfig{FreqMin: 24e6, FreqMax: 1766e6}
}

// SimDriver is an in-memory Driver. Failures and hangs can be injected per
// operation name (set_freq, freq, set_gain, gain, set_rate, rate,
// gain_range, antenna, subdev).
type SimDriver struct {
	cfg SimConfig

	mu      sync.Mutex
	freq    float64
	gain    float64
	rate    float64
	antenna string
	subdev  string
	fail    map[string]error
	hang    map[string]bool
	calls   map[string]int
	closed  bool
}

func NewSimDriver(cfg SimConfig) *SimDriver {
	return &SimDriver{
		cfg:   cfg,
		fail:  make(map[string]error),
		hang:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (d *SimDriver) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

// Hang makes op block until its context ends.
func (d *SimDriver) Hang(op string, hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hang[op] = hang
}

// Calls reports how many times op was invoked.
func (d *SimDriver) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *SimDriver) enter(ctx context.Context, op string) error {
	d.mu.Lock()
	d.calls[op]++
	closed := d.closed
	err := d.fail[op]
	hang := d.hang[op]
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *SimDriver) SetCenterFreq(ctx context.Context, hz float64) error {
	if err := d.enter(ctx, "set_freq"); err != nil {
		return err
	}
	if (d.cfg.FreqMin > 0 && hz < d.cfg.FreqMin) || (d.cfg.FreqMax > 0 && hz > d.cfg.FreqMax) {
		return ErrTuneRejected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freq = hz
	return nil
}

func (d *SimDriver) CenterFreq(ctx context.Context) (float64, error) {
	if err := d.enter(ctx, "freq"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq, nil
}

func (d *SimDriver) SetGain(ctx context.Context, db float64) error {
	if err := d.enter(ctx, "set_gain"); err != nil {
		return err
	}
	if d.cfg.HasGainRange {
		db = math.Max(d.cfg.GainMin, math.Min(d.cfg.GainMax, db))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = db
	return nil
}

func (d *SimDriver) Gain(ctx context.Context) (float64, error) {
	if err := d.enter(ctx, "gain"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, nil
}

func (d *SimDriver) GainRange(ctx context.Context) (float64, float64, error) {
	if err := d.enter(ctx, "gain_range"); err != nil {
		return 0, 0, err
	}
	if !d.cfg.HasGainRange {
		return 0, 0, ErrNoGainRange
	}
	return d.cfg.GainMin, d.cfg.GainMax, nil
}

func (d *SimDriver) SetSampleRate(ctx context.Context, rate float64) error {
	if err := d.enter(ctx, "set_rate"); err != nil {
		return err
	}
	actual := rate
	if d.cfg.MasterClock > 0 && rate > 0 {
		actual = math.Round(d.cfg.MasterClock / math.Max(1, math.Round(d.cfg.MasterClock/rate)))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = actual
	return nil
}

func (d *SimDriver) SampleRate(ctx context.Context) (float64, error) {
	if err := d.enter(ctx, "rate"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, nil
}

func (d *SimDriver) SetAntenna(ctx context.Context, name string) error {
	if err := d.enter(ctx, "antenna"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.antenna = name
	return nil
}

func (d *SimDriver) Antenna() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.antenna
}

func (d *SimDriver) SetSubdev(ctx context.Context, spec string) error {
	if err := d.enter(ctx, "subdev"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subdev = spec
	return nil
}

func (d *SimDriver) Subdev() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subdev
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
