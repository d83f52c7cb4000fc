// Package topology loads a YAML topology description and turns it into an
// emulator with the matching layers and bindings.
package topology

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/model"
)

// ErrInvalid marks a description that parses but cannot describe a build.
var ErrInvalid = fmt.Errorf("%w: invalid topology description", core.ErrConfiguration)

// Topology is the root of a description file.
type Topology struct {
	Seed      uint64       `yaml:"seed"`
	Exchanges []Exchange   `yaml:"exchanges"`
	ASes      []AS         `yaml:"ases"`
	Peerings  Peerings     `yaml:"peerings"`
	Routing   *RoutingSpec `yaml:"routing"`
	Ospf      *OspfSpec    `yaml:"ospf"`
	Ibgp      *IbgpSpec    `yaml:"ibgp"`
	Mpls      *MplsSpec    `yaml:"mpls"`
	DNS       *DNSSpec     `yaml:"dns"`
	Web       *WebSpec     `yaml:"web"`
	Bindings  []Binding    `yaml:"bindings"`
}

type Exchange struct {
	ID     int                   `yaml:"id"`
	Prefix string                `yaml:"prefix"`
	Link   *model.LinkProperties `yaml:"link"`
}

type AS struct {
	ASN      int       `yaml:"asn"`
	Networks []Network `yaml:"networks"`
	Routers  []Node    `yaml:"routers"`
	Hosts    []Node    `yaml:"hosts"`
}

// Network is an AS-local segment. Link, when set, is the link quality every
// interface on the segment starts with.
type Network struct {
	Name   string                `yaml:"name"`
	Prefix string                `yaml:"prefix"`
	Link   *model.LinkProperties `yaml:"link"`
}

type Node struct {
	Name          string         `yaml:"name"`
	Networks      []Join         `yaml:"networks"`
	CrossConnects []CrossConnect `yaml:"cross_connects"`
}

// Join attaches a node to a network. It is written either as a bare network
// name or as a mapping with an explicit address.
type Join struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

func (j *Join) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		j.Network = name
		return nil
	}
	type plain Join
	return unmarshal((*plain)(j))
}

type CrossConnect struct {
	PeerASN int    `yaml:"peer_asn"`
	Peer    string `yaml:"peer"`
	Address string `yaml:"address"`
}

type Peerings struct {
	Private      []PrivatePeering `yaml:"private"`
	RouteServer  []RSPeering      `yaml:"route_server"`
	CrossConnect []XCPeering      `yaml:"cross_connect"`
}

// PrivatePeering peers every AS in A with every AS in B on exchange IX.
type PrivatePeering struct {
	IX       int    `yaml:"ix"`
	A        []int  `yaml:"a,flow"`
	B        []int  `yaml:"b,flow"`
	Relation string `yaml:"relation"`
}

type RSPeering struct {
	IX   int   `yaml:"ix"`
	ASNs []int `yaml:"asns,flow"`
}

type XCPeering struct {
	A        int    `yaml:"a"`
	B        int    `yaml:"b"`
	Relation string `yaml:"relation"`
}

type RoutingSpec struct {
	LoopbackPool string `yaml:"loopback_pool"`
}

type OspfSpec struct {
	MaskASNs []int        `yaml:"mask_asns,flow"`
	Stubs    []NetworkRef `yaml:"stubs"`
	Masked   []NetworkRef `yaml:"masked"`
}

type NetworkRef struct {
	ASN     int    `yaml:"asn"`
	Network string `yaml:"network"`
}

type IbgpSpec struct {
	MaskASNs []int `yaml:"mask_asns,flow"`
}

type MplsSpec struct {
	EnableOn []int `yaml:"enable_on,flow"`
}

type DNSSpec struct {
	Zones   []Zone      `yaml:"zones"`
	Servers []DNSServer `yaml:"servers"`
}

type Zone struct {
	Name         string            `yaml:"name"`
	Records      []string          `yaml:"records"`
	VNodeRecords map[string]string `yaml:"vnode_records"`
}

// Placement says where a server goes: on a virtual node, on a named host of
// an AS, or on the host owning an address.
type Placement struct {
	VNode string `yaml:"vnode"`
	ASN   int    `yaml:"asn"`
	Host  string `yaml:"host"`
	IP    string `yaml:"ip"`
}

type DNSServer struct {
	Placement `yaml:",inline"`
	Zones     []string `yaml:"zones"`
}

type WebSpec struct {
	Servers []WebServer `yaml:"servers"`
}

type WebServer struct {
	Placement `yaml:",inline"`
	Port      int    `yaml:"port"`
	Index     string `yaml:"index"`
}

type Binding struct {
	Source string `yaml:"source"`
	Action string `yaml:"action"`
	Filter Filter `yaml:"filter"`
}

type Filter struct {
	ASN             int      `yaml:"asn"`
	NodeName        string   `yaml:"node_name"`
	IP              string   `yaml:"ip"`
	Prefix          string   `yaml:"prefix"`
	RequireServices []string `yaml:"require_services"`
	ForbidServices  []string `yaml:"forbid_services"`
	AnyServices     []string `yaml:"any_services"`
}

// Load decodes a description. Unknown keys are rejected.
func Load(r io.Reader) (*Topology, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var t Topology
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadFile decodes the description at path.
func LoadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	t, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Validate checks the description for mistakes that are visible without
// building it.
func (t *Topology) Validate() error {
	seenIX := make(map[int]bool)
	for _, ix := range t.Exchanges {
		if ix.ID <= 0 {
			return fmt.Errorf("%w: exchange id %d", ErrInvalid, ix.ID)
		}
		if seenIX[ix.ID] {
			return fmt.Errorf("%w: exchange %d declared twice", ErrInvalid, ix.ID)
		}
		seenIX[ix.ID] = true
		if err := validateLink(ix.Link); err != nil {
			return fmt.Errorf("exchange %d: %w", ix.ID, err)
		}
	}
	seenAS := make(map[int]bool)
	for _, as := range t.ASes {
		if as.ASN <= 0 {
			return fmt.Errorf("%w: AS number %d", ErrInvalid, as.ASN)
		}
		if seenAS[as.ASN] {
			return fmt.Errorf("%w: AS%d declared twice", ErrInvalid, as.ASN)
		}
		seenAS[as.ASN] = true
		for _, n := range as.Networks {
			if err := validateLink(n.Link); err != nil {
				return fmt.Errorf("AS%d/%s: %w", as.ASN, n.Name, err)
			}
		}
		for _, n := range append(append([]Node(nil), as.Routers...), as.Hosts...) {
			for _, xc := range n.CrossConnects {
				if _, err := netip.ParsePrefix(xc.Address); err != nil {
					return fmt.Errorf("%w: AS%d/%s cross connect address %q", ErrInvalid, as.ASN, n.Name, xc.Address)
				}
			}
		}
	}
	for i, b := range t.Bindings {
		if strings.TrimSpace(b.Source) == "" {
			return fmt.Errorf("%w: binding %d has no source", ErrInvalid, i)
		}
	}
	if t.DNS != nil {
		for _, s := range t.DNS.Servers {
			if err := s.Placement.validate(); err != nil {
				return err
			}
		}
	}
	if t.Web != nil {
		for _, s := range t.Web.Servers {
			if err := s.Placement.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLink(l *model.LinkProperties) error {
	if l == nil {
		return nil
	}
	if l.LatencyMs < 0 || l.BandwidthBps < 0 || l.DropPercent < 0 || l.DropPercent > 100 {
		return fmt.Errorf("%w: link %+v out of range", ErrInvalid, *l)
	}
	return nil
}

func (p Placement) validate() error {
	set := 0
	if p.VNode != "" {
		set++
	}
	if p.Host != "" {
		set++
	}
	if p.IP != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: server needs exactly one of vnode, host or ip", ErrInvalid)
	}
	if p.Host != "" && p.ASN == 0 {
		return fmt.Errorf("%w: server on host %q needs an asn", ErrInvalid, p.Host)
	}
	return nil
}
