package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Error classes. Every build failure wraps exactly one of them.
var (
	// ErrConfiguration marks failures caused by the topology description or
	// the layer setup supplied by the caller.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariant marks failures that indicate misuse of the build API or a
	// broken internal invariant.
	ErrInvariant = errors.New("internal invariant violated")
)

var (
	ErrLayerExists     = fmt.Errorf("%w: layer already registered", ErrConfiguration)
	ErrLayerNotFound   = fmt.Errorf("%w: layer not found", ErrConfiguration)
	ErrDependencyCycle = fmt.Errorf("%w: layer dependency cycle", ErrConfiguration)
	ErrUnbindable      = fmt.Errorf("%w: unbindable virtual node", ErrConfiguration)
	ErrServiceConflict = fmt.Errorf("%w: service already installed on node", ErrConfiguration)
	ErrNoMerger        = fmt.Errorf("%w: no merger for layer", ErrConfiguration)
	ErrMergeConflict   = fmt.Errorf("%w: merge conflict", ErrConfiguration)
	ErrBadBinding      = fmt.Errorf("%w: invalid binding", ErrConfiguration)

	ErrAlreadyRendered = fmt.Errorf("%w: emulator already rendered", ErrInvariant)
	ErrNotRendered     = fmt.Errorf("%w: emulator not rendered", ErrInvariant)
	ErrLayerType       = fmt.Errorf("%w: layer has unexpected type", ErrInvariant)
)

// IsConfigurationError reports whether err was caused by the caller's
// topology or layer setup, as opposed to an internal invariant. Registry key
// clashes and address-plan failures count as configuration errors.
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfiguration) {
		return true
	}
	for _, target := range []error{
		kb.ErrEntityExists,
		kb.ErrEntityNotFound,
		model.ErrAddressExhausted,
		model.ErrNoSubnetPool,
		model.ErrAddressOutOfRange,
		model.ErrNetworkExists,
		model.ErrNetworkNotFound,
		model.ErrNodeExists,
		model.ErrNodeNotFound,
		model.ErrProtocolExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
