package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	inprocScheme = "inproc://"
	tcpScheme    = "tcp://"
)

// AddressKind separates in-process tags from network locations.
type AddressKind int

const (
	KindInproc AddressKind = iota
	KindNetwork
)

func (k AddressKind) String() string {
	if k == KindInproc {
		return "inproc"
	}
	return "network"
}

// Address is a parsed transport location. Network addresses carry the
// equivalent libp2p multiaddr.
type Address struct {
	Kind      AddressKind
	Raw       string
	Tag       string
	Multiaddr ma.Multiaddr
}

func (a Address) String() string {
	return a.Raw
}

// InprocAddress returns the in-process address for tag.
func InprocAddress(tag string) Address {
	return Address{Kind: KindInproc, Raw: inprocScheme + tag, Tag: tag}
}

// PublishAddress returns the bind-all network address for port.
func PublishAddress(port int) (Address, error) {
	return ParseAddress(fmt.Sprintf("tcp://*:%d", port))
}

// ParseAddress accepts inproc://<tag>, tcp://<host>:<port>[/p2p/<id>]
// (host "*" binds every interface) and raw multiaddrs.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	switch {
	case raw == "":
		return Address{}, &TransportError{Op: "parse", Address: s, Err: ErrInvalidAddress}
	case strings.HasPrefix(raw, inprocScheme):
		tag := strings.TrimPrefix(raw, inprocScheme)
		if tag == "" || strings.ContainsAny(tag, " \t,") {
			return Address{}, &TransportError{Op: "parse", Address: s, Err: ErrInvalidAddress}
		}
		return InprocAddress(tag), nil
	case strings.HasPrefix(raw, tcpScheme):
		m, err := tcpToMultiaddr(strings.TrimPrefix(raw, tcpScheme))
		if err != nil {
			return Address{}, &TransportError{Op: "parse", Address: s, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
		}
		return Address{Kind: KindNetwork, Raw: raw, Multiaddr: m}, nil
	case strings.HasPrefix(raw, "/"):
		m, err := ma.NewMultiaddr(raw)
		if err != nil {
			return Address{}, &TransportError{Op: "parse", Address: s, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
		}
		if _, err := m.ValueForProtocol(ma.P_TCP); err != nil {
			return Address{}, &TransportError{Op: "parse", Address: s, Err: fmt.Errorf("%w: no tcp component", ErrInvalidAddress)}
		}
		return Address{Kind: KindNetwork, Raw: raw, Multiaddr: m}, nil
	default:
		return Address{}, &TransportError{Op: "parse", Address: s, Err: ErrInvalidAddress}
	}
}

// ParseAddressList splits a comma-separated list and validates every entry.
// Empty input yields no addresses.
func ParseAddressList(csv string) ([]Address, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]Address, 0, len(parts))
	for _, p := range parts {
		a, err := ParseAddress(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// PeerInfo resolves the dialable peer behind a network subscribe address.
func (a Address) PeerInfo() (*peer.AddrInfo, error) {
	if a.Kind != KindNetwork || a.Multiaddr == nil {
		return nil, &TransportError{Op: "connect", Address: a.Raw, Err: ErrInvalidAddress}
	}
	info, err := peer.AddrInfoFromP2pAddr(a.Multiaddr)
	if err != nil {
		return nil, &TransportError{Op: "connect", Address: a.Raw, Err: fmt.Errorf("%w: peer id required: %v", ErrInvalidAddress, err)}
	}
	return info, nil
}

func tcpToMultiaddr(hostport string) (ma.Multiaddr, error) {
	suffix := ""
	if i := strings.Index(hostport, "/p2p/"); i >= 0 {
		suffix = hostport[i:]
		hostport = hostport[:i]
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("port %q out of range", port)
	}
	if host == "*" || host == "" {
		host = "0.0.0.0"
	}
	proto := "dns"
	if ip := net.ParseIP(host); ip != nil {
		proto = "ip6"
		if ip.To4() != nil {
			proto = "ip4"
		}
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d%s", proto, host, n, suffix))
}
