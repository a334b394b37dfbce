package hwaccess

import (
	"fmt"
)

// NamedRegisterBase is the fixed address the *REG block must resolve to;
// hardcoded at build time and cross-checked against the registers database
// at startup (spec §4.2: "the fixed `*REG` block base matches the value
// hard-coded in the build").
const NamedRegisterBase = 0x1F

// RequiredNames lists every symbolic register name the hardware module must
// find in the registers database before it will consider itself validated.
var RequiredNames = []string{
	"BIT_READ_RST",
	"BIT_READ_VALUE",
	"BIT_READ_CHANGED",
	"POS_READ_RST",
	"POS_READ_VALUE",
	"POS_READ_CHANGED",
	"PCAP_ARM",
	"PCAP_DISARM",
	"PCAP_START_WRITE",
	"PCAP_WRITE",
	"PCAP_WRITE_LEN",
}

// RegisterMap resolves the symbolic names assigned in the registers
// database (e.g. BIT_READ_RST, PCAP_ARM) to concrete register offsets
// within the *REG block.
type RegisterMap struct {
	base    uint32
	offsets map[string]uint32
}

// NewRegisterMap builds a map from the parsed *REG block and validates it
// against RequiredNames and NamedRegisterBase.
func NewRegisterMap(base uint32, offsets map[string]uint32) (*RegisterMap, error) {
	if base != NamedRegisterBase {
		return nil, fmt.Errorf("registers database *REG base 0x%X does not match build-configured base 0x%X", base, NamedRegisterBase)
	}
	m := &RegisterMap{base: base, offsets: offsets}
	for _, name := range RequiredNames {
		if _, ok := offsets[name]; !ok {
			return nil, fmt.Errorf("registers database is missing required name %q", name)
		}
	}
	return m, nil
}

// Offset returns the register offset for a symbolic name.
func (m *RegisterMap) Offset(name string) (uint32, bool) {
	v, ok := m.offsets[name]
	return v, ok
}

// MustOffset is Offset but panics on an unknown name; used only for names
// already validated by NewRegisterMap (RequiredNames members).
func (m *RegisterMap) MustOffset(name string) uint32 {
	v, ok := m.offsets[name]
	if !ok {
		panic(fmt.Sprintf("hwaccess: unresolved required register name %q", name))
	}
	return v
}
