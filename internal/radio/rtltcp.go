package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

// rtl_tcp command bytes.
const (
	rtlCmdFreq       = 0x01
	rtlCmdSampleRate = 0x02
	rtlCmdGainMode   = 0x03
	rtlCmdGain       = 0x04
)

const rtlXtal = 28.8e6

var rtlMagic = []byte("RTL0")

// RTLTCPDriver controls a consumer dongle through an rtl_tcp server. The
// protocol is write-only, so getters report the last applied values.
type RTLTCPDriver struct {
	mu     sync.Mutex
	conn   net.Conn
	tuner  uint32
	freq   float64
	gain   float64
	rate   float64
	closed bool
}

// DialRTLTCP connects and reads the dongle info header.
func DialRTLTCP(ctx context.Context, addr string) (*RTLTCPDriver, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial rtl_tcp %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	}
	header := make([]byte, 12)
	if _, err := io.ReadFull(conn, header); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read rtl_tcp header: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if string(header[:4]) != string(rtlMagic) {
		_ = conn.Close()
		return nil, fmt.Errorf("rtl_tcp %s: bad magic %q", addr, header[:4])
	}
	return &RTLTCPDriver{conn: conn, tuner: binary.BigEndian.Uint32(header[4:8])}, nil
}

func (d *RTLTCPDriver) command(ctx context.Context, cmd byte, arg uint32) error {
	if d.closed {
		return ErrClosed
	}
	var buf [5]byte
	buf[0] = cmd
	binary.BigEndian.PutUint32(buf[1:], arg)
	if dl, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(dl)
		defer d.conn.SetWriteDeadline(time.Time{})
	}
	_, err := d.conn.Write(buf[:])
	return err
}

func (d *RTLTCPDriver) SetCenterFreq(ctx context.Context, hz float64) error {
	if hz <= 0 || hz > math.MaxUint32 {
		return ErrTuneRejected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.command(ctx, rtlCmdFreq, uint32(hz)); err != nil {
		return err
	}
	d.freq = float64(uint32(hz))
	return nil
}

func (d *RTLTCPDriver) CenterFreq(context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.freq, nil
}

// SetGain switches to manual gain and sets it in tenths of a dB.
func (d *RTLTCPDriver) SetGain(ctx context.Context, db float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.command(ctx, rtlCmdGainMode, 1); err != nil {
		return err
	}
	tenths := int32(math.Round(db * 10))
	if err := d.command(ctx, rtlCmdGain, uint32(tenths)); err != nil {
		return err
	}
	d.gain = float64(tenths) / 10
	return nil
}

func (d *RTLTCPDriver) Gain(context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.gain, nil
}

// SetSampleRate applies the rate the RTL2832 resampler will actually run at.
func (d *RTLTCPDriver) SetSampleRate(ctx context.Context, rate float64) error {
	actual, err := rtlActualRate(rate)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.command(ctx, rtlCmdSampleRate, uint32(rate)); err != nil {
		return err
	}
	d.rate = actual
	return nil
}

// FallbackSampleRate is the usual RTL2832 rate, 2.4 MS/s.
func (d *RTLTCPDriver) FallbackSampleRate() float64 {
	return 2.4e6
}

func (d *RTLTCPDriver) SampleRate(context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.rate, nil
}

func (d *RTLTCPDriver) Tuner() uint32 {
	return d.tuner
}

func (d *RTLTCPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

// rtlActualRate mirrors the RTL2832 resampler ratio rounding.
func rtlActualRate(rate float64) (float64, error) {
	if (rate <= 225000) || (rate > 300000 && rate <= 900000) || rate > 3200000 {
		return 0, fmt.Errorf("sample rate %.0f not supported by RTL2832", rate)
	}
	ratio := uint32(rtlXtal*(1<<22)/rate) &^ 3
	return rtlXtal * (1 << 22) / float64(ratio), nil
}
