package radio

import (
	"net"
	"strconv"
	"strings"
)

const (
	DeviceA = "uhd"
	DeviceB = "osmocom"
)

type SourceKind int

const (
	LiveDeviceA SourceKind = iota
	LiveDeviceB
	FileReplay
	NetworkCapture
)

func (k SourceKind) String() string {
	switch k {
	case LiveDeviceA:
		return "live-a"
	case LiveDeviceB:
		return "live-b"
	case FileReplay:
		return "file"
	case NetworkCapture:
		return "network"
	default:
		return "unknown"
	}
}

// SourceSpec is the classified front-end source. Path is set for FileReplay,
// Host and Port for NetworkCapture.
type SourceSpec struct {
	Kind SourceKind
	Raw  string
	Path string
	Host string
	Port int
}

func (s SourceSpec) Live() bool {
	return s.Kind == LiveDeviceA || s.Kind == LiveDeviceB
}

func (s SourceSpec) String() string {
	switch s.Kind {
	case FileReplay:
		return "file " + s.Path
	case NetworkCapture:
		return "udp " + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	default:
		return s.Kind.String() + " " + s.Raw
	}
}

// Classify decides once what kind of source s names. Reserved device names
// win; anything with a colon is host:port; the rest is a file path.
func Classify(s string) (SourceSpec, error) {
	switch s {
	case DeviceA:
		return SourceSpec{Kind: LiveDeviceA, Raw: s}, nil
	case DeviceB:
		return SourceSpec{Kind: LiveDeviceB, Raw: s}, nil
	case "":
		return SourceSpec{}, &ConfigurationError{Value: s, Reason: "empty source"}
	}
	if !strings.Contains(s, ":") {
		return SourceSpec{Kind: FileReplay, Raw: s, Path: s}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return SourceSpec{}, &ConfigurationError{Value: s, Reason: "expected host:port"}
	}
	if host == "" {
		return SourceSpec{}, &ConfigurationError{Value: s, Reason: "missing host"}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return SourceSpec{}, &ConfigurationError{Value: s, Reason: "port is not a number"}
	}
	if port < 1 || port > 65535 {
		return SourceSpec{}, &ConfigurationError{Value: s, Reason: "port out of range 1-65535"}
	}
	return SourceSpec{Kind: NetworkCapture, Raw: s, Host: host, Port: port}, nil
}
