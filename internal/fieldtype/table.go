package fieldtype

// TableFieldDesc describes one bit-packed sub-field of a table row word:
// its inclusive bit range [BitLow, BitHigh] and its own Type (normally Uint,
// Int, or Enum), used to format individual table columns for *TABLE.FIELDS?
// style introspection without touching the raw table buffer layout.
type TableFieldDesc struct {
	Name    string
	BitLow  int
	BitHigh int
	Sub     Type
}

// TableDescriptor packs/unpacks the named sub-fields of a table row.
type TableDescriptor struct {
	Fields []TableFieldDesc
}

func (TableDescriptor) Name() string { return "table" }

// Extract pulls one named sub-field's raw bits out of a row word.
func (d TableDescriptor) Extract(row uint32, fieldName string) (uint32, bool) {
	for _, f := range d.Fields {
		if f.Name == fieldName {
			width := uint(f.BitHigh - f.BitLow + 1)
			mask := uint32((uint64(1)<<width)-1) << uint(f.BitLow)
			return (row & mask) >> uint(f.BitLow), true
		}
	}
	return 0, false
}

// Pack writes a sub-field's raw bits into a row word, leaving the other
// bits untouched.
func (d TableDescriptor) Pack(row uint32, fieldName string, value uint32) (uint32, bool) {
	for _, f := range d.Fields {
		if f.Name == fieldName {
			width := uint(f.BitHigh - f.BitLow + 1)
			mask := uint32((uint64(1)<<width)-1) << uint(f.BitLow)
			return (row &^ mask) | ((value << uint(f.BitLow)) & mask), true
		}
	}
	return row, false
}

// Format is not used at the word level for table_descriptor types: tables
// are formatted row by row through Extract against each declared sub-field,
// driven by the table class (internal/entity), not by this single-value
// Type interface. It still satisfies fieldtype.Type for registration
// symmetry with the other type kinds.
func (TableDescriptor) Format(raw uint32) (string, error) { return "", nil }

func (TableDescriptor) Parse(s string) (uint32, error) { return 0, nil }
