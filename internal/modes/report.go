package modes

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TopicReports carries every parsed report.
	TopicReports = "modes_dl"

	shortFrame = 7
	longFrame  = 14
)

var (
	ErrEmptyFrame  = errors.New("empty frame")
	ErrFrameLength = errors.New("frame length does not match downlink format")
	ErrBadField    = errors.New("malformed frame field")
)

// Report is one parsed downlink frame.
type Report struct {
	Node      string    `json:"node,omitempty"`
	Received  time.Time `json:"received"`
	Data      string    `json:"data"`
	DF        int       `json:"df"`
	ICAO      string    `json:"icao"`
	Verified  bool      `json:"verified"`
	TypeCode  int       `json:"type_code,omitempty"`
	Callsign  string    `json:"callsign,omitempty"`
	ECC       uint32    `json:"ecc"`
	Reference float64   `json:"reference"`
	Timestamp float64   `json:"timestamp"`
}

// Topic is the per-format topic, type<DF>_dl.
func (r *Report) Topic() string {
	return fmt.Sprintf("type%d_dl", r.DF)
}

func (r *Report) String() string {
	s := fmt.Sprintf("DF%d %s", r.DF, r.ICAO)
	if r.Callsign != "" {
		s += " " + r.Callsign
	}
	if !r.Verified {
		s += " (unverified)"
	}
	return s
}

// Parser turns decoded-frame payloads into reports. A payload is the frame in
// hex optionally followed by the error syndrome (hex), the reference level
// and the receive timestamp, separated by spaces.
type Parser struct {
	// Node is stamped on every report.
	Node string
	Now  func() time.Time
}

func (p *Parser) Parse(payload []byte) (*Report, error) {
	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return nil, ErrEmptyFrame
	}
	frame, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: data %q", ErrBadField, fields[0])
	}
	if len(frame) != shortFrame && len(frame) != longFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameLength, len(frame))
	}

	df := int(frame[0] >> 3)
	if df >= 24 {
		df = 24
	}
	want := shortFrame
	if df >= 16 {
		want = longFrame
	}
	if len(frame) != want {
		return nil, fmt.Errorf("%w: DF%d with %d bytes", ErrFrameLength, df, len(frame))
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	r := &Report{
		Node:     p.Node,
		Received: now().UTC(),
		Data:     strings.ToLower(fields[0]),
		DF:       df,
	}

	rem := Remainder(frame)
	switch df {
	case 11:
		// The low seven bits may carry an interrogator id.
		r.ICAO = addressHex(frame[1:4])
		r.Verified = rem&^0x7F == 0
	case 17, 18:
		r.ICAO = addressHex(frame[1:4])
		r.Verified = rem == 0
		r.TypeCode = int(frame[4] >> 3)
		if r.TypeCode >= 1 && r.TypeCode <= 4 {
			r.Callsign = callsign(frame[5:11])
		}
	default:
		r.ICAO = fmt.Sprintf("%06x", rem)
	}

	if len(fields) > 1 {
		ecc, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: ecc %q", ErrBadField, fields[1])
		}
		r.ECC = uint32(ecc)
	}
	if len(fields) > 2 {
		if r.Reference, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("%w: reference %q", ErrBadField, fields[2])
		}
	}
	if len(fields) > 3 {
		if r.Timestamp, err = strconv.ParseFloat(fields[3], 64); err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", ErrBadField, fields[3])
		}
	}
	return r, nil
}

func addressHex(b []byte) string {
	return hex.EncodeToString(b)
}

const callsignChars = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// callsign unpacks eight six-bit characters.
func callsign(b []byte) string {
	var bits uint64
	for _, c := range b {
		bits = bits<<8 | uint64(c)
	}
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = callsignChars[(bits>>(42-6*i))&0x3F]
	}
	return strings.TrimRight(strings.ReplaceAll(string(out), "#", ""), " ")
}
