package fieldtype

import "strconv"

// Enum is a small closed set of named values, indexed by raw register
// value. Declared in the config database as the names following the enum
// keyword; a name's position in that list is its raw value.
type Enum struct {
	Entries []string // Entries[raw] == name
}

func (Enum) Name() string { return "enum" }

func (t Enum) Format(raw uint32) (string, error) {
	if int(raw) >= len(t.Entries) {
		return "", &ErrInvalidValue{Type: "enum", Value: strconv.FormatUint(uint64(raw), 10)}
	}
	return t.Entries[raw], nil
}

func (t Enum) Parse(s string) (uint32, error) {
	for i, name := range t.Entries {
		if name == s {
			return uint32(i), nil
		}
	}
	return 0, &ErrInvalidValue{Type: "enum", Value: s}
}

func (t Enum) Enumerate() []string {
	out := make([]string, len(t.Entries))
	copy(out, t.Entries)
	return out
}
