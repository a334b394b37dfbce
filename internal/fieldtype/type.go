// Package fieldtype implements the formatters and parsers for every typed
// field value the configuration database can declare: uint, int, bit,
// scalar, enum, lut, time, position, bit_mux, pos_mux and table_descriptor.
//
// Every concrete type satisfies Type: given a raw 32-bit register value it
// produces the wire-protocol string, and given a wire-protocol string it
// recovers the raw register value. Scale/offset/units and mux-name lookups
// are carried on the concrete type itself rather than threaded through every
// call, mirroring the teacher's IORegion callbacks which close over the
// state they need (memory_bus.go).
package fieldtype

import "fmt"

// Type formats and parses one class of field value.
type Type interface {
	// Name is the type's declared name as it appears in *METADATA/description.
	Name() string
	// Format converts a raw register value into its wire-protocol string.
	Format(raw uint32) (string, error)
	// Parse converts a wire-protocol string into a raw register value.
	Parse(s string) (uint32, error)
}

// Enumeration is implemented by types that can answer GET_ENUMERATION.
type Enumeration interface {
	Enumerate() []string
}

// ErrInvalidValue is returned (wrapped) by Parse when the string cannot be
// interpreted as a value of the type.
type ErrInvalidValue struct {
	Type  string
	Value string
}

func (e *ErrInvalidValue) Error() string {
	return fmt.Sprintf("invalid value for %s: %q", e.Type, e.Value)
}
