package kind

import "errors"

var (
	// ErrUnknownParent is returned when a requirement names a lineage parent
	// that is not already a requirement of the same Transform.
	ErrUnknownParent = errors.New("lineage parent is not a requirement of this transform")

	// ErrBindingMismatch is returned when Apply receives the wrong number of
	// bindings, or an Endpoint that does not satisfy its requirement.
	ErrBindingMismatch = errors.New("binding does not match requirement")

	// ErrLineageViolation is returned when a bound Endpoint's closest
	// ancestor of a lineage parent's kind is not the Endpoint bound to that
	// parent.
	ErrLineageViolation = errors.New("binding violates lineage")
)
