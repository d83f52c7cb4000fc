package model

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"

	"github.com/signalsfoundry/inetemu/kb"
)

// NodeRole is the role a node plays in the emulation.
type NodeRole int

const (
	RoleHost NodeRole = iota
	RoleRouter
	RoleRouteServer
)

func (r NodeRole) String() string {
	switch r {
	case RoleHost:
		return "Host"
	case RoleRouter:
		return "Router"
	case RoleRouteServer:
		return "RouteServer"
	default:
		return fmt.Sprintf("NodeRole(%d)", int(r))
	}
}

// RegistryKind maps a role to the registry kind its nodes are stored under.
func (r NodeRole) RegistryKind() string {
	switch r {
	case RoleRouter:
		return kb.KindRouter
	case RoleRouteServer:
		return kb.KindRouteServer
	default:
		return kb.KindHost
	}
}

// OffsetRange is an inclusive run of host offsets inside a prefix.
type OffsetRange struct {
	Start int
	End   int
	Step  int
}

// AddressAssignmentConstraint decides which host offsets each role draws from
// when a node joins a network with automatic addressing.
type AddressAssignmentConstraint struct {
	Host   OffsetRange
	Router OffsetRange
}

// DefaultAddressAssignmentConstraint hands hosts .71-.99 upwards and routers
// .254-.200 downwards.
func DefaultAddressAssignmentConstraint() AddressAssignmentConstraint {
	return AddressAssignmentConstraint{
		Host:   OffsetRange{Start: 71, End: 99, Step: 1},
		Router: OffsetRange{Start: 254, End: 200, Step: -1},
	}
}

// Range returns the offset range for role. Route servers share the router range.
func (c AddressAssignmentConstraint) Range(role NodeRole) OffsetRange {
	if role == RoleHost {
		return c.Host
	}
	return c.Router
}

// OffsetGenerator returns a fresh generator over the range for role.
func (c AddressAssignmentConstraint) OffsetGenerator(role NodeRole) *OffsetGenerator {
	r := c.Range(role)
	return &OffsetGenerator{r: r, next: r.Start}
}

// OffsetGenerator yields successive offsets of an OffsetRange. It never
// hands out an offset twice.
type OffsetGenerator struct {
	r    OffsetRange
	next int
}

// Next returns the next offset, or ErrAddressExhausted once the range is spent.
func (g *OffsetGenerator) Next() (int, error) {
	if g.r.Step == 0 {
		return 0, fmt.Errorf("%w: zero step", ErrAddressExhausted)
	}
	if (g.r.Step > 0 && g.next > g.r.End) || (g.r.Step < 0 && g.next < g.r.End) {
		return 0, fmt.Errorf("%w: range %d..%d", ErrAddressExhausted, g.r.Start, g.r.End)
	}
	off := g.next
	g.next += g.r.Step
	return off, nil
}

// AddrAt returns the address at offset inside p. The network and broadcast
// addresses are never returned.
func AddrAt(p netip.Prefix, offset int) (netip.Addr, error) {
	p = p.Masked()
	if !p.Addr().Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s is not IPv4", ErrAddressOutOfRange, p)
	}
	if offset <= 0 {
		return netip.Addr{}, fmt.Errorf("%w: offset %d in %s", ErrAddressOutOfRange, offset, p)
	}
	base := p.Addr().As4()
	v := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	v += uint32(offset)
	addr := netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	if !p.Contains(addr) || addr == netipx.PrefixLastIP(p) {
		return netip.Addr{}, fmt.Errorf("%w: offset %d in %s", ErrAddressOutOfRange, offset, p)
	}
	return addr, nil
}
