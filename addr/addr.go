// Package addr implements a minimal multiaddr-style address representation
// used throughout the transport stack: an IP endpoint with an optional UDP
// port, formatted as "/ip4/<addr>/udp/<port>" or "/ip6/<addr>/udp/<port>".
package addr

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors returned by Parse. Wrap with errors.Wrap at call sites
// that need more context; compare with errors.Is/errors.Cause.
var (
	ErrUnknownProtocol = errors.New("addr: unknown protocol segment")
	ErrBadIP           = errors.New("addr: invalid ip address")
	ErrBadPort         = errors.New("addr: invalid udp port")
	ErrMalformed       = errors.New("addr: malformed address string")
)

// Addr is an IP address with an optional UDP port attached.
type Addr struct {
	IP   net.IP
	Port uint16
	// HasPort is false for a bare /ip4/ or /ip6/ address with no /udp/
	// segment, used when reporting a peer's observed address family before
	// a port is known.
	HasPort bool
}

// New builds an Addr from an IP and port.
func New(ip net.IP, port uint16) Addr {
	return Addr{IP: ip, Port: port, HasPort: true}
}

// FromUDPAddr converts a net.UDPAddr into an Addr.
func FromUDPAddr(u *net.UDPAddr) Addr {
	return Addr{IP: u.IP, Port: uint16(u.Port), HasPort: true}
}

// UDPAddr converts back to a net.UDPAddr.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// IsV4 reports whether the wrapped IP should be framed as ip4.
func (a Addr) IsV4() bool {
	return a.IP.To4() != nil
}

// String renders the multiaddr-style form, e.g. "/ip4/127.0.0.1/udp/4000".
func (a Addr) String() string {
	var b strings.Builder
	if a.IsV4() {
		b.WriteString("/ip4/")
		b.WriteString(a.IP.To4().String())
	} else {
		b.WriteString("/ip6/")
		b.WriteString(a.IP.String())
	}
	if a.HasPort {
		b.WriteString("/udp/")
		b.WriteString(strconv.Itoa(int(a.Port)))
	}
	return b.String()
}

// Parse parses a multiaddr-style address string of the form
// "/ip4/<ip>[/udp/<port>]" or "/ip6/<ip>[/udp/<port>]".
func Parse(s string) (Addr, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 && len(parts) != 4 {
		return Addr{}, errors.Wrapf(ErrMalformed, "%q", s)
	}

	var a Addr
	switch parts[0] {
	case "ip4", "ip6":
		ip := net.ParseIP(parts[1])
		if ip == nil {
			return Addr{}, errors.Wrapf(ErrBadIP, "%q", parts[1])
		}
		a.IP = ip
	default:
		return Addr{}, errors.Wrapf(ErrUnknownProtocol, "%q", parts[0])
	}

	if len(parts) == 4 {
		if parts[2] != "udp" {
			return Addr{}, errors.Wrapf(ErrUnknownProtocol, "%q", parts[2])
		}
		port, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil {
			return Addr{}, errors.Wrapf(ErrBadPort, "%q", parts[3])
		}
		a.Port = uint16(port)
		a.HasPort = true
	}

	return a, nil
}

// MustParse is Parse but panics on error; intended for tests and
// compile-time-constant addresses.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
