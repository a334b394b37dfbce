package dbload

import (
	"fmt"
	"strconv"

	"github.com/panda-fpga/pandad/internal/fieldtype"
)

// parseFieldType turns a register-backed field's type tokens (everything
// after the class keyword) into a concrete fieldtype.Type.
func parseFieldType(tokens []string, bitMux, posMux fieldtype.MuxResolver) (fieldtype.Type, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("missing type")
	}
	switch tokens[0] {
	case "enum":
		if len(tokens) < 2 {
			return nil, fmt.Errorf("enum requires at least one value")
		}
		return fieldtype.Enum{Entries: tokens[1:]}, nil
	case "uint":
		max := uint32(0)
		if len(tokens) >= 2 {
			v, err := strconv.ParseUint(tokens[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("uint max: %w", err)
			}
			max = uint32(v)
		}
		return fieldtype.Uint{Max: max}, nil
	case "int":
		return fieldtype.Int{}, nil
	case "bit":
		return fieldtype.Bit{}, nil
	case "position":
		return fieldtype.Position{}, nil
	case "lut":
		return fieldtype.Lut{}, nil
	case "time":
		if len(tokens) != 3 {
			return nil, fmt.Errorf("time requires <prescale> <unit>")
		}
		prescale, err := strconv.ParseFloat(tokens[1], 64)
		if err != nil {
			return nil, fmt.Errorf("time prescale: %w", err)
		}
		return fieldtype.Time{Prescale: prescale, Unit: tokens[2]}, nil
	case "scalar":
		if len(tokens) != 4 {
			return nil, fmt.Errorf("scalar requires <scale> <offset> <units>")
		}
		scale, err := strconv.ParseFloat(tokens[1], 64)
		if err != nil {
			return nil, fmt.Errorf("scalar scale: %w", err)
		}
		offset, err := strconv.ParseFloat(tokens[2], 64)
		if err != nil {
			return nil, fmt.Errorf("scalar offset: %w", err)
		}
		return fieldtype.Scalar{Scale: scale, Offset: offset, Units: tokens[3]}, nil
	case "bit_mux":
		return fieldtype.BitMux{Resolver: bitMux}, nil
	case "pos_mux":
		return fieldtype.PosMux{Resolver: posMux}, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", tokens[0])
	}
}
