package outbound

import (
	"fmt"
	"net"
	"net/netip"

	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// PeerAddress identifies a remote node by host and port. It is comparable and
// immutable, which makes it usable as the registry key.
type PeerAddress struct {
	ap netip.AddrPort
}

// NewPeerAddress normalises IPv4-mapped IPv6 addresses so that the same
// endpoint always produces the same key.
func NewPeerAddress(ap netip.AddrPort) PeerAddress {
	return PeerAddress{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// ParsePeerAddress parses "host:port" with a literal IP host.
func ParsePeerAddress(s string) (PeerAddress, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: %w", s, err)
	}
	return NewPeerAddress(ap), nil
}

// MustParsePeerAddress is ParsePeerAddress for constants and tests.
func MustParsePeerAddress(s string) PeerAddress {
	addr, err := ParsePeerAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// PeerAddressFromMultiaddr extracts the transport endpoint of a multiaddr such
// as /ip4/10.0.0.1/tcp/4001/p2p/<id>. Relayed (p2p-circuit) addresses are
// rejected.
func PeerAddressFromMultiaddr(m multiaddr.Multiaddr) (PeerAddress, error) {
	if m == nil {
		return PeerAddress{}, fmt.Errorf("nil multiaddr")
	}
	// A relayed connection carries the relay's endpoint, which many peers
	// share, so it cannot key a single peer.
	if _, err := m.ValueForProtocol(multiaddr.P_CIRCUIT); err == nil {
		return PeerAddress{}, fmt.Errorf("multiaddr %s is relayed", m)
	}
	// Strip the /p2p/<id> suffix; ToNetAddr only understands thin waist addrs.
	transport, _ := multiaddr.SplitFunc(m, func(c multiaddr.Component) bool {
		return c.Protocol().Code == multiaddr.P_P2P
	})
	if transport == nil {
		return PeerAddress{}, fmt.Errorf("multiaddr %s has no transport part", m)
	}
	na, err := manet.ToNetAddr(transport)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("multiaddr %s: %w", m, err)
	}
	switch a := na.(type) {
	case *net.TCPAddr:
		return NewPeerAddress(a.AddrPort()), nil
	case *net.UDPAddr:
		return NewPeerAddress(a.AddrPort()), nil
	default:
		return PeerAddress{}, fmt.Errorf("multiaddr %s is not an ip endpoint", m)
	}
}

func (a PeerAddress) AddrPort() netip.AddrPort { return a.ap }

func (a PeerAddress) IsValid() bool { return a.ap.IsValid() }

func (a PeerAddress) String() string {
	if !a.ap.IsValid() {
		return "<unknown>"
	}
	return a.ap.String()
}

// MarshalBinary lets the wire codec carry addresses as CBOR byte strings.
func (a PeerAddress) MarshalBinary() ([]byte, error) {
	return a.ap.MarshalBinary()
}

func (a *PeerAddress) UnmarshalBinary(b []byte) error {
	var ap netip.AddrPort
	if err := ap.UnmarshalBinary(b); err != nil {
		return err
	}
	*a = NewPeerAddress(ap)
	return nil
}
