package core

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/signalsfoundry/inetemu/model"
)

// Action selects which of the matching physical nodes a binding picks.
type Action int

const (
	// ActionFirst picks the first match in registry order and claims it.
	ActionFirst Action = iota
	// ActionLast picks the last match. It does not claim the node.
	ActionLast
	// ActionRandom picks uniformly among all matches. It does not claim the node.
	ActionRandom
)

func (a Action) String() string {
	switch a {
	case ActionFirst:
		return "first"
	case ActionLast:
		return "last"
	case ActionRandom:
		return "random"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses "first", "last" or "random".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return ActionFirst, nil
	case "last":
		return ActionLast, nil
	case "random":
		return ActionRandom, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrBadBinding, s)
	}
}

// Filter is a conjunction of optional predicates over a host node. Zero
// values mean "unset"; a zero Filter matches every host.
type Filter struct {
	ASN             int
	NodeName        string
	IP              netip.Addr
	Prefix          netip.Prefix
	RequireServices []string
	ForbidServices  []string
	AnyServices     []string
	Custom          func(vnode string, node *model.Node) bool
}

// Binding maps virtual node names matching Source onto physical hosts
// accepted by Filter.
type Binding struct {
	Source string
	Action Action
	Filter Filter

	source   *regexp.Regexp
	nodeName *regexp.Regexp
}

// NewBinding compiles a binding. Source and Filter.NodeName are regular
// expressions that must match the whole name.
func NewBinding(source string, action Action, filter Filter) (*Binding, error) {
	src, err := regexp.Compile("^(?:" + source + ")$")
	if err != nil {
		return nil, fmt.Errorf("%w: source %q: %v", ErrBadBinding, source, err)
	}
	b := &Binding{Source: source, Action: action, Filter: filter, source: src}
	if filter.NodeName != "" {
		b.nodeName, err = regexp.Compile("^(?:" + filter.NodeName + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: node name %q: %v", ErrBadBinding, filter.NodeName, err)
		}
	}
	return b, nil
}

// MustBinding is NewBinding that panics on a bad pattern.
func MustBinding(source string, action Action, filter Filter) *Binding {
	b, err := NewBinding(source, action, filter)
	if err != nil {
		panic(err)
	}
	return b
}

// Matches reports whether the binding applies to vnode.
func (b *Binding) Matches(vnode string) bool {
	return b.source.MatchString(vnode)
}

// Accepts reports whether node satisfies every predicate of the filter.
func (b *Binding) Accepts(vnode string, node *model.Node) bool {
	f := b.Filter
	if f.ASN != 0 && node.ASN() != f.ASN {
		return false
	}
	if b.nodeName != nil && !b.nodeName.MatchString(node.Name()) {
		return false
	}
	if f.IP.IsValid() && !node.HasAddress(f.IP) {
		return false
	}
	if f.Prefix.IsValid() && !node.InPrefix(f.Prefix) {
		return false
	}
	for _, s := range f.RequireServices {
		if !node.HasService(s) {
			return false
		}
	}
	for _, s := range f.ForbidServices {
		if node.HasService(s) {
			return false
		}
	}
	if len(f.AnyServices) > 0 {
		found := false
		for _, s := range f.AnyServices {
			if node.HasService(s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Custom != nil && !f.Custom(vnode, node) {
		return false
	}
	return true
}
