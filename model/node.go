package model

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/signalsfoundry/inetemu/kb"
)

// AutoAddress asks the network to pick the interface address.
const AutoAddress = "auto"

// File is one file placed in the node's filesystem.
type File struct {
	Path    string
	Content string
}

// StartCommand runs when the node boots. Forked commands run in background.
type StartCommand struct {
	Command string
	Fork    bool
}

// PortForward exposes a node port on the host.
type PortForward struct {
	HostPort int
	NodePort int
	Protocol string
}

type joinRequest struct {
	network string
	address string
}

// CrossConnect is a point-to-point link request between two routers of
// different ASes that bypasses any exchange.
type CrossConnect struct {
	PeerASN  int
	PeerName string
	Address  netip.Prefix
}

// Node is a host, router or route server.
type Node struct {
	name  string
	asn   int
	scope string
	role  NodeRole

	interfaces []*Interface
	joins      []joinRequest
	xcs        []CrossConnect

	files     map[string]*File
	fileOrder []string
	software  []string
	build     []string
	start     []StartCommand
	ports     []PortForward

	privileged bool
	configured bool

	services []string
	routing  *RouterConfig
}

// NewNode creates a node in scope. Routers and route servers get a
// RouterConfig.
func NewNode(name string, role NodeRole, asn int, scope string) *Node {
	n := &Node{
		name:  name,
		asn:   asn,
		scope: scope,
		role:  role,
		files: make(map[string]*File),
	}
	if role != RoleHost {
		n.routing = newRouterConfig(n)
	}
	return n
}

func (n *Node) Name() string   { return n.name }
func (n *Node) ASN() int       { return n.asn }
func (n *Node) Scope() string  { return n.scope }
func (n *Node) Role() NodeRole { return n.role }

// Key returns the registry key the node is stored under.
func (n *Node) Key() kb.Key {
	return kb.Key{Scope: n.scope, Kind: n.role.RegistryKind(), Name: n.name}
}

// JoinNetwork records a request to attach to the named network. The
// interface is created when the node is configured. address is AutoAddress or
// an IPv4 address.
func (n *Node) JoinNetwork(network, address string) *Node {
	if address == "" {
		address = AutoAddress
	}
	n.joins = append(n.joins, joinRequest{network: network, address: address})
	return n
}

// JoinedNetworks returns the names of networks requested through JoinNetwork.
func (n *Node) JoinedNetworks() []string {
	out := make([]string, 0, len(n.joins))
	for _, j := range n.joins {
		out = append(out, j.network)
	}
	return out
}

// AddCrossConnect requests a point-to-point link to peerName in peerASN.
// address carries this side's address and the link prefix length.
func (n *Node) AddCrossConnect(peerASN int, peerName string, address netip.Prefix) *Node {
	n.xcs = append(n.xcs, CrossConnect{PeerASN: peerASN, PeerName: peerName, Address: address})
	return n
}

// CrossConnects returns the cross-connect requests.
func (n *Node) CrossConnects() []CrossConnect {
	return append([]CrossConnect(nil), n.xcs...)
}

// Configure resolves the pending network joins against reg. Networks are
// looked up in the node's own scope first and then in the exchange scope.
func (n *Node) Configure(reg *kb.Registry) error {
	if n.configured {
		return fmt.Errorf("%w: %s", ErrNodeConfigured, n.Key())
	}
	n.configured = true

	for _, j := range n.joins {
		network, err := kb.GetAs[*Network](reg, n.scope, kb.KindNetwork, j.network)
		if err != nil {
			network, err = kb.GetAs[*Network](reg, kb.ScopeIX, kb.KindNetwork, j.network)
		}
		if err != nil {
			return fmt.Errorf("%w: %s joins %q", ErrNetworkNotFound, n.Key(), j.network)
		}

		var addr netip.Addr
		if j.address == AutoAddress {
			addr, err = network.Assign(n.role, n.asn)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.Key(), err)
			}
		} else {
			addr, err = netip.ParseAddr(j.address)
			if err != nil {
				return fmt.Errorf("node %s: bad address %q: %w", n.Key(), j.address, err)
			}
			if !network.Prefix().Contains(addr) {
				return fmt.Errorf("%w: %s not in %s", ErrAddressOutOfRange, addr, network.Prefix())
			}
		}
		n.AttachInterface(network, addr)
	}
	return nil
}

// AttachInterface creates an interface on network with a fixed address.
func (n *Node) AttachInterface(network *Network, addr netip.Addr) *Interface {
	iface := newInterface(n, network, addr)
	n.interfaces = append(n.interfaces, iface)
	network.Associate(n)
	return iface
}

// Interfaces returns the node's interfaces in creation order.
func (n *Node) Interfaces() []*Interface {
	return append([]*Interface(nil), n.interfaces...)
}

// InterfaceOn returns the interface attached to network, or nil.
func (n *Node) InterfaceOn(network *Network) *Interface {
	for _, iface := range n.interfaces {
		if iface.Network() == network {
			return iface
		}
	}
	return nil
}

// HasAddress reports whether any interface carries addr.
func (n *Node) HasAddress(addr netip.Addr) bool {
	for _, iface := range n.interfaces {
		if iface.Address() == addr {
			return true
		}
	}
	return false
}

// InPrefix reports whether any interface address falls inside p.
func (n *Node) InPrefix(p netip.Prefix) bool {
	for _, iface := range n.interfaces {
		if p.Contains(iface.Address()) {
			return true
		}
	}
	return false
}

// SetFile creates or replaces a file.
func (n *Node) SetFile(path, content string) *Node {
	if f, ok := n.files[path]; ok {
		f.Content = content
		return n
	}
	n.files[path] = &File{Path: path, Content: content}
	n.fileOrder = append(n.fileOrder, path)
	return n
}

// AppendFile appends content to a file, creating it if needed.
func (n *Node) AppendFile(path, content string) *Node {
	if f, ok := n.files[path]; ok {
		f.Content += content
		return n
	}
	return n.SetFile(path, content)
}

// PrependFile inserts content ahead of a file's existing content, creating
// the file if needed.
func (n *Node) PrependFile(path, content string) *Node {
	if f, ok := n.files[path]; ok {
		f.Content = content + f.Content
		return n
	}
	return n.SetFile(path, content)
}

// File returns the file at path.
func (n *Node) File(path string) (File, bool) {
	f, ok := n.files[path]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// Files returns all files in creation order.
func (n *Node) Files() []File {
	out := make([]File, 0, len(n.fileOrder))
	for _, p := range n.fileOrder {
		out = append(out, *n.files[p])
	}
	return out
}

// AddSoftware adds a package to install. Duplicates are ignored.
func (n *Node) AddSoftware(name string) *Node {
	for _, s := range n.software {
		if s == name {
			return n
		}
	}
	n.software = append(n.software, name)
	return n
}

func (n *Node) Software() []string { return append([]string(nil), n.software...) }

// AddBuildCommand appends a command run while building the node image.
func (n *Node) AddBuildCommand(cmd string) *Node {
	n.build = append(n.build, cmd)
	return n
}

func (n *Node) BuildCommands() []string { return append([]string(nil), n.build...) }

// AppendStartCommand appends a boot command.
func (n *Node) AppendStartCommand(cmd string, fork bool) *Node {
	n.start = append(n.start, StartCommand{Command: cmd, Fork: fork})
	return n
}

func (n *Node) StartCommands() []StartCommand { return append([]StartCommand(nil), n.start...) }

// AddPort forwards hostPort on the emulation host to nodePort.
func (n *Node) AddPort(hostPort, nodePort int, proto string) *Node {
	if proto == "" {
		proto = "tcp"
	}
	n.ports = append(n.ports, PortForward{HostPort: hostPort, NodePort: nodePort, Protocol: proto})
	return n
}

func (n *Node) Ports() []PortForward { return append([]PortForward(nil), n.ports...) }

func (n *Node) SetPrivileged(p bool) *Node {
	n.privileged = p
	return n
}

func (n *Node) Privileged() bool { return n.privileged }

// AddService records that a service layer installed a server on the node.
func (n *Node) AddService(name string) {
	if !n.HasService(name) {
		n.services = append(n.services, name)
	}
}

// HasService reports whether the named service is installed.
func (n *Node) HasService(name string) bool {
	for _, s := range n.services {
		if s == name {
			return true
		}
	}
	return false
}

// Services returns the installed service names in install order.
func (n *Node) Services() []string { return append([]string(nil), n.services...) }

// Routing returns the router configuration, or ErrNotRouter for hosts.
func (n *Node) Routing() (*RouterConfig, error) {
	if n.routing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRouter, n.Key())
	}
	return n.routing, nil
}

// IsRouter reports whether the node carries a routing configuration.
func (n *Node) IsRouter() bool { return n.routing != nil }

func asnScope(asn int) string { return strconv.Itoa(asn) }
