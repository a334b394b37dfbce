package fieldtype

// MuxResolver looks up names against the bit or position multiplexer name
// table built at startup from every bit_out/pos_out field's registered bus
// slot. bit_mux and pos_mux fields hold a reference to one of these and
// defer name<->index resolution to it, since the table is only complete
// once every block in the config database has been loaded.
type MuxResolver interface {
	NameForIndex(idx uint32) (string, bool)
	IndexForName(name string) (uint32, bool)
}

// BitMux selects one of the 128 bit-bus wires by name.
type BitMux struct {
	Resolver MuxResolver
}

func (BitMux) Name() string { return "bit_mux" }

func (t BitMux) Format(raw uint32) (string, error) {
	name, ok := t.Resolver.NameForIndex(raw)
	if !ok {
		return "", &ErrInvalidValue{Type: "bit_mux", Value: "<unresolved index>"}
	}
	return name, nil
}

func (t BitMux) Parse(s string) (uint32, error) {
	idx, ok := t.Resolver.IndexForName(s)
	if !ok {
		return 0, &ErrInvalidValue{Type: "bit_mux", Value: s}
	}
	return idx, nil
}

// PosMux selects one of the 32 position-bus slots by name.
type PosMux struct {
	Resolver MuxResolver
}

func (PosMux) Name() string { return "pos_mux" }

func (t PosMux) Format(raw uint32) (string, error) {
	name, ok := t.Resolver.NameForIndex(raw)
	if !ok {
		return "", &ErrInvalidValue{Type: "pos_mux", Value: "<unresolved index>"}
	}
	return name, nil
}

func (t PosMux) Parse(s string) (uint32, error) {
	idx, ok := t.Resolver.IndexForName(s)
	if !ok {
		return 0, &ErrInvalidValue{Type: "pos_mux", Value: s}
	}
	return idx, nil
}
