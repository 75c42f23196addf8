package radio

import (
	"fmt"
	"sync"
)

// OutputRate is the fixed rate the demodulator chain resamples to.
const OutputRate = 2.4e6

// RxPath is the boundary to the demodulation chain.
type RxPath interface {
	SetRate(rate float64)
	SetThreshold(db float64)
	Threshold() float64
	SetPMF(enabled bool)
	PMF() bool
}

// RxSettings holds the demodulator settings the controller drives.
type RxSettings struct {
	mu        sync.RWMutex
	rate      float64
	threshold float64
	pmf       bool
	dcblock   bool
}

func NewRxSettings(rate, threshold float64, pmf, dcblock bool) *RxSettings {
	return &RxSettings{rate: rate, threshold: threshold, pmf: pmf, dcblock: dcblock}
}

func (r *RxSettings) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = rate
}

func (r *RxSettings) Rate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rate
}

// ResampleRatio is OutputRate over the applied input rate, or 0 before a
// rate is known.
func (r *RxSettings) ResampleRatio() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rate <= 0 {
		return 0
	}
	return OutputRate / r.rate
}

func (r *RxSettings) SetThreshold(db float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = db
}

func (r *RxSettings) Threshold() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threshold
}

func (r *RxSettings) SetPMF(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pmf = enabled
}

func (r *RxSettings) PMF() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pmf
}

func (r *RxSettings) DCBlock() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dcblock
}

func (r *RxSettings) String() string {
	return fmt.Sprintf("rate %.0f (resample %.4f) threshold %.1f dB pmf %t dcblock %t",
		r.Rate(), r.ResampleRatio(), r.Threshold(), r.PMF(), r.DCBlock())
}
