package modes

import (
	"errors"
	"testing"
	"time"
)

func fixedParser() *Parser {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Parser{Node: "node-1", Now: func() time.Time { return ts }}
}

func TestRemainderOfIntactFrame(t *testing.T) {
	frame := []byte{0x8d, 0x48, 0x40, 0xd6, 0x20, 0x2c, 0xc3, 0x71, 0xc3, 0x2c, 0xe0, 0x57, 0x60, 0x98}
	if rem := Remainder(frame); rem != 0 {
		t.Fatalf("expected zero remainder, got %06x", rem)
	}
	frame[6] ^= 0x01
	if rem := Remainder(frame); rem == 0 {
		t.Fatal("corrupted frame should not check")
	}
}

func TestParseExtendedSquitter(t *testing.T) {
	r, err := fixedParser().Parse([]byte("8D4840D6202CC371C32CE0576098 00000000 -32.5 1714564800.25"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.DF != 17 || r.ICAO != "4840d6" || !r.Verified {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.TypeCode != 4 || r.Callsign != "KLM1023" {
		t.Fatalf("identification not decoded: tc %d callsign %q", r.TypeCode, r.Callsign)
	}
	if r.Reference != -32.5 || r.Timestamp != 1714564800.25 {
		t.Fatalf("trailing fields lost: %+v", r)
	}
	if r.Node != "node-1" || r.Topic() != "type17_dl" {
		t.Fatalf("node %q topic %q", r.Node, r.Topic())
	}
	if r.Data != "8d4840d6202cc371c32ce0576098" {
		t.Fatalf("data %q", r.Data)
	}
}

func TestParseAddressParity(t *testing.T) {
	r, err := fixedParser().Parse([]byte("200005101d70e8"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.DF != 4 || r.ICAO != "abcdef" {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.Verified {
		t.Fatal("address/parity frames cannot be verified")
	}
}

func TestParseRejectsBadFrames(t *testing.T) {
	p := fixedParser()
	cases := map[string]error{
		"":                               ErrEmptyFrame,
		"   ":                            ErrEmptyFrame,
		"zz4840d6":                       ErrBadField,
		"8d4840":                         ErrFrameLength,
		"8d4840d6202cc3":                 ErrFrameLength,
		"200005101d70e8000000000000":     ErrFrameLength,
		"8D4840D6202CC371C32CE0576098 g": ErrBadField,
	}
	for in, want := range cases {
		if _, err := p.Parse([]byte(in)); !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", in, want, err)
		}
	}
}
