// Package entity implements the block/field/attribute model, the change
// index tracking that backs *CHANGES, and attribute dispatch. It is built
// around a plain struct-of-interfaces shape rather than the C source's
// struct-of-function-pointers double dispatch (spec §9): a Class is a
// small interface implemented by one concrete type per field class, and an
// Attribute is itself a struct of closures so class-specific operations
// (CAPTURE, TABLE<, GET_ENUMERATION, ...) can be wired in by the package
// that understands them (dbload, using busstate) without entity importing
// them.
package entity

import (
	"fmt"
	"sync"

	"github.com/panda-fpga/pandad/internal/fieldtype"
	"github.com/panda-fpga/pandad/internal/perr"
)

// Class identifies which of the nine field classes a Field belongs to.
// Per spec §3 each class has a fixed capability set; IsWritable below
// reflects the write capability, and Field.Set checks it before
// dispatching to the put operation.
type Class int

const (
	ClassParam Class = iota
	ClassRead
	ClassWrite
	ClassBitIn
	ClassPosIn
	ClassBitOut
	ClassPosOut
	ClassExtOut
	ClassTable
)

func (c Class) String() string {
	switch c {
	case ClassParam:
		return "param"
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	case ClassBitIn:
		return "bit_in"
	case ClassPosIn:
		return "pos_in"
	case ClassBitOut:
		return "bit_out"
	case ClassPosOut:
		return "pos_out"
	case ClassExtOut:
		return "ext_out"
	case ClassTable:
		return "table"
	default:
		return "?"
	}
}

// IsWritable reports whether `name=value` is accepted for this class.
func (c Class) IsWritable() bool {
	switch c {
	case ClassParam, ClassWrite, ClassBitIn, ClassPosIn:
		return true
	default:
		return false
	}
}

// ChangeGroupFor returns the change group a plain value mutation/refresh of
// this class participates in.
func (c Class) ChangeGroupFor() ChangeGroup {
	switch c {
	case ClassParam, ClassBitIn, ClassPosIn:
		return GroupConfig
	case ClassRead:
		return GroupRead
	case ClassBitOut:
		return GroupBits
	case ClassPosOut:
		return GroupPosition
	case ClassTable:
		return GroupTable
	default:
		return GroupConfig
	}
}

// ValueFunc formats one instance's current value; PutFunc applies a write.
type ValueFunc func(instance int) (string, error)
type PutFunc func(instance int, value string) error
type ManyFunc func(instance int) ([]string, error)
type EnumFunc func() []string

// Attribute is a named operation set on a field (or the field's default
// value itself, stored under the empty name ""). format/get_many/put are
// optional depending on what the class supports; a nil Put means the
// attribute is read-only.
type Attribute struct {
	Name        string
	Group       ChangeGroup
	Format      ValueFunc
	GetMany     ManyFunc
	Put         PutFunc
	GetEnum     EnumFunc
	InChangeSet bool

	mu          sync.Mutex
	changeIndex []uint64
}

func newAttribute(name string, group ChangeGroup, n int) *Attribute {
	return &Attribute{Name: name, Group: group, changeIndex: make([]uint64, n)}
}

func (a *Attribute) stamp(instance int, idx uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changeIndex[instance] = idx
}

func (a *Attribute) index(instance int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changeIndex[instance]
}

// Field is one named field of a Block: its type, its class, its attribute
// set, and its per-instance change indices.
type Field struct {
	Name  string
	Type  fieldtype.Type
	Class Class

	N int

	mu          sync.Mutex
	changeIndex []uint64

	attrOrder []string
	attrs     map[string]*Attribute

	Description string
}

// NewField constructs a field with N instances and a default (unnamed)
// value attribute backed by format/put callbacks supplied by the caller
// (normally internal/dbload wiring a register through hwaccess).
func NewField(name string, n int, class Class, typ fieldtype.Type, format ValueFunc, put PutFunc) *Field {
	f := &Field{
		Name:        name,
		Type:        typ,
		Class:       class,
		N:           n,
		changeIndex: make([]uint64, n),
		attrs:       make(map[string]*Attribute),
	}
	def := newAttribute("", class.ChangeGroupFor(), n)
	def.Format = format
	def.Put = put
	f.attrs[""] = def
	f.attrOrder = append(f.attrOrder, "")
	return f
}

// AddAttribute registers a named attribute (e.g. CAPTURE, TABLE, LABEL) on
// the field.
func (f *Field) AddAttribute(attr *Attribute) {
	if attr.changeIndex == nil {
		attr.changeIndex = make([]uint64, f.N)
	}
	if _, exists := f.attrs[attr.Name]; !exists {
		f.attrOrder = append(f.attrOrder, attr.Name)
	}
	f.attrs[attr.Name] = attr
}

// Attribute looks up a named attribute ("" for the field's own value).
func (f *Field) Attribute(name string) (*Attribute, bool) {
	a, ok := f.attrs[name]
	return a, ok
}

// AttributeNames lists every attribute name in declaration order,
// including "" for the default value.
func (f *Field) AttributeNames() []string {
	out := make([]string, len(f.attrOrder))
	copy(out, f.attrOrder)
	return out
}

// Stamp records a mutation at the given global index for the field's
// default value and, if attrName is non-empty, the named attribute too.
func (f *Field) Stamp(instance int, attrName string, idx uint64) {
	if instance < 0 || instance >= f.N {
		return
	}
	f.mu.Lock()
	f.changeIndex[instance] = idx
	f.mu.Unlock()
	if a, ok := f.attrs[attrName]; ok {
		a.stamp(instance, idx)
	}
}

// ChangeIndex returns the field's own (default-value) change index for an
// instance.
func (f *Field) ChangeIndex(instance int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changeIndex[instance]
}

// CheckInstance validates an instance number is in range, returning a
// not-found error that mirrors spec §4.3's "index out of range".
func (f *Field) CheckInstance(instance int) error {
	if instance < 0 || instance >= f.N {
		return perr.New(perr.KindNotFound, "index %d out of range for field %s (n=%d)", instance, f.Name, f.N)
	}
	return nil
}

// Get formats the field's default value for one instance.
func (f *Field) Get(instance int) (string, error) {
	if err := f.CheckInstance(instance); err != nil {
		return "", err
	}
	attr := f.attrs[""]
	if attr.Format == nil {
		return "", perr.New(perr.KindInvalidValue, "%s has no readable value", f.Name)
	}
	return attr.Format(instance)
}

// Set writes the field's default value for one instance.
func (f *Field) Set(instance int, value string) error {
	if err := f.CheckInstance(instance); err != nil {
		return err
	}
	if !f.Class.IsWritable() {
		return perr.New(perr.KindInvalidValue, "%s is not writable (class %s)", f.Name, f.Class)
	}
	attr := f.attrs[""]
	if attr.Put == nil {
		return perr.New(perr.KindInvalidValue, "%s has no put operation", f.Name)
	}
	return attr.Put(instance, value)
}

func (f *Field) String() string {
	return fmt.Sprintf("%s (%s)", f.Name, f.Class)
}
