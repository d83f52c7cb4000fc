package model

import "errors"

var (
	// ErrAddressExhausted indicates an address generator or subnet pool ran dry.
	ErrAddressExhausted = errors.New("address space exhausted")
	// ErrNoSubnetPool indicates automatic prefix allocation was requested for
	// an AS or exchange whose number cannot be embedded in 10.x.0.0.
	ErrNoSubnetPool = errors.New("no automatic subnet pool")
	// ErrAddressOutOfRange indicates an offset or explicit address that does
	// not fall inside the usable part of a network prefix.
	ErrAddressOutOfRange = errors.New("address outside network prefix")
	// ErrNetworkExists indicates a network with the same name was already created.
	ErrNetworkExists = errors.New("network already exists")
	// ErrNetworkNotFound indicates a node asked to join a network nobody declared.
	ErrNetworkNotFound = errors.New("network not found")
	// ErrNodeExists indicates a node with the same name was already created.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound indicates a lookup by node name failed.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeConfigured indicates Configure ran twice on the same node.
	ErrNodeConfigured = errors.New("node already configured")
	// ErrProtocolExists indicates a routing protocol stanza name was reused.
	ErrProtocolExists = errors.New("routing protocol already exists")
	// ErrNotRouter indicates routing configuration was requested on a host.
	ErrNotRouter = errors.New("node is not a router")
	// ErrConstraintLocked indicates the address constraint changed after
	// addresses were handed out.
	ErrConstraintLocked = errors.New("address constraint already in use")
)
