package dbload

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/dbparse"
	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/fieldtype"
	"github.com/panda-fpga/pandad/internal/hwaccess"
)

// buildEntity walks the config database's top-level block nodes and their
// field children, wiring every field to hw (register reads/writes) or to
// bus (bit/position bus snapshots), and registering capture-eligible
// outputs into capture.
//
// Block instances are assigned sequential blockType values in declaration
// order (0, 1, 2, ...); this is a dbload convention, not something the
// config database declares itself, since nothing downstream needs the raw
// number to be stable across runs.
func buildEntity(root *dbparse.Node, hw hwaccess.HardwareAccess, bus *busstate.State, capture *busstate.Registry) (*entity.Entity, error) {
	ent := entity.NewEntity()
	bitMux := busstate.BitMuxResolver{S: bus}
	posMux := busstate.PosMuxResolver{S: bus}

	for blockType, blockNode := range root.Children {
		if len(blockNode.Tokens) != 2 {
			return nil, fmt.Errorf("line %d: expected \"<block> <n>\"", blockNode.Line)
		}
		n, err := strconv.Atoi(blockNode.Tokens[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("line %d: bad instance count %q", blockNode.Line, blockNode.Tokens[1])
		}
		blockName := blockNode.Tokens[0]
		block := entity.NewBlock(blockName, n)

		for _, fieldNode := range blockNode.Children {
			field, err := buildField(uint32(blockType), blockName, n, fieldNode, hw, bus, capture, bitMux, posMux)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", fieldNode.Line, err)
			}
			block.AddField(field)
		}
		ent.AddBlock(block)
	}
	return ent, nil
}

func canonicalName(blockName string, n, inst int, fieldName string) string {
	if n != 1 {
		return fmt.Sprintf("%s[%d].%s", blockName, inst, fieldName)
	}
	return blockName + "." + fieldName
}

func buildField(blockType uint32, blockName string, n int, node *dbparse.Node, hw hwaccess.HardwareAccess, bus *busstate.State, capture *busstate.Registry, bitMux, posMux fieldtype.MuxResolver) (*entity.Field, error) {
	if len(node.Tokens) < 3 {
		return nil, fmt.Errorf("expected \"<field> <reg|slot> <class> ...\"")
	}
	fieldName := node.Tokens[0]
	number, err := strconv.ParseUint(node.Tokens[1], 0, 32)
	if err != nil {
		return nil, fmt.Errorf("field %s: bad register/slot %q", fieldName, node.Tokens[1])
	}
	classTok := node.Tokens[2]
	rest := node.Tokens[3:]

	switch classTok {
	case "param", "read", "write":
		return buildRegisterField(blockType, classTok, fieldName, n, uint32(number), rest, hw, bitMux, posMux)
	case "bit_in":
		return buildRegisterField(blockType, "bit_in", fieldName, n, uint32(number), []string{"bit_mux"}, hw, bitMux, posMux)
	case "pos_in":
		return buildRegisterField(blockType, "pos_in", fieldName, n, uint32(number), []string{"pos_mux"}, hw, bitMux, posMux)
	case "bit_out":
		return buildBitOutField(blockName, n, fieldName, uint32(number), bus)
	case "pos_out":
		return buildBusOutField(blockName, n, fieldName, uint32(number), entity.ClassPosOut, busstate.KindPosition, node, bus, capture)
	case "ext_out":
		return buildBusOutField(blockName, n, fieldName, uint32(number), entity.ClassExtOut, busstate.KindExtension, node, bus, capture)
	case "table":
		return buildTableField(blockType, fieldName, n, rest, hw)
	default:
		return nil, fmt.Errorf("field %s: unknown class %q", fieldName, classTok)
	}
}

var registerClasses = map[string]entity.Class{
	"param":  entity.ClassParam,
	"read":   entity.ClassRead,
	"write":  entity.ClassWrite,
	"bit_in": entity.ClassBitIn,
	"pos_in": entity.ClassPosIn,
}

func buildRegisterField(blockType uint32, classTok, fieldName string, n int, reg uint32, typeTokens []string, hw hwaccess.HardwareAccess, bitMux, posMux fieldtype.MuxResolver) (*entity.Field, error) {
	class, ok := registerClasses[classTok]
	if !ok {
		return nil, fmt.Errorf("field %s: not a register class %q", fieldName, classTok)
	}
	typ, err := parseFieldType(typeTokens, bitMux, posMux)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldName, err)
	}

	format := func(inst int) (string, error) {
		raw, err := hw.ReadReg(blockType, uint32(inst), reg)
		if err != nil {
			return "", err
		}
		return typ.Format(raw)
	}
	var put entity.PutFunc
	if class.IsWritable() {
		put = func(inst int, v string) error {
			raw, err := typ.Parse(v)
			if err != nil {
				return err
			}
			return hw.WriteReg(blockType, uint32(inst), reg, raw)
		}
	}
	return entity.NewField(fieldName, n, class, typ, format, put), nil
}

// buildBitOutField reads the field's current value straight from the
// shared bit bus; bit_out fields have no CAPTURE attribute (PCAP only ever
// captures position-bus derivations, spec §4.4), only a bus-slot name
// registration so bit_mux fields elsewhere can resolve it by name.
//
// Instance i of an N-instance block claims bus slot base+i (spec.md's own
// databases follow this convention, e.g. TTLIN1.VAL/TTLIN2.VAL occupying
// consecutive bit-bus wires), so a field declares only its base slot.
func buildBitOutField(blockName string, n int, fieldName string, base uint32, bus *busstate.State) (*entity.Field, error) {
	format := func(inst int) (string, error) {
		slot := base + uint32(inst)
		snap := bus.Snapshot()
		if slot >= busstate.BitBusLen {
			return "", fmt.Errorf("bit bus slot %d out of range", slot)
		}
		return fieldtype.Bit{}.Format(boolToRaw(snap.Bits[slot]))
	}
	field := entity.NewField(fieldName, n, entity.ClassBitOut, fieldtype.Bit{}, format, nil)
	for inst := 0; inst < n; inst++ {
		if err := bus.RegisterBitName(base+uint32(inst), canonicalName(blockName, n, inst, fieldName)); err != nil {
			return nil, err
		}
	}
	return field, nil
}

func boolToRaw(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// buildBusOutField wires a pos_out/ext_out field: its value is read from
// the shared position bus, and it carries a CAPTURE attribute that
// registers/deregisters it in capture as the attribute is written.
func buildBusOutField(blockName string, n int, fieldName string, base uint32, class entity.Class, kind busstate.OutputKind, node *dbparse.Node, bus *busstate.State, capture *busstate.Registry) (*entity.Field, error) {
	scale, offset := 1.0, 0.0
	units := ""
	for _, child := range node.Children {
		switch child.First() {
		case "SCALE":
			if len(child.Tokens) == 2 {
				if v, err := strconv.ParseFloat(child.Tokens[1], 64); err == nil {
					scale = v
				}
			}
		case "OFFSET":
			if len(child.Tokens) == 2 {
				if v, err := strconv.ParseFloat(child.Tokens[1], 64); err == nil {
					offset = v
				}
			}
		case "UNITS":
			if len(child.Tokens) == 2 {
				units = child.Tokens[1]
			}
		}
	}
	valType := fieldtype.Type(fieldtype.Scalar{Scale: scale, Offset: offset, Units: units})
	format := func(inst int) (string, error) {
		slot := base + uint32(inst)
		snap := bus.Snapshot()
		if slot >= busstate.PosBusLen {
			return "", fmt.Errorf("position bus slot %d out of range", slot)
		}
		return valType.Format(snap.Pos[slot])
	}
	field := entity.NewField(fieldName, n, class, valType, format, nil)
	for inst := 0; inst < n; inst++ {
		if err := bus.RegisterPosName(base+uint32(inst), canonicalName(blockName, n, inst, fieldName)); err != nil {
			return nil, err
		}
	}

	captureAttr := &entity.Attribute{Name: "CAPTURE", Group: entity.GroupConfig}
	captureAttr.GetEnum = func() []string { return busstate.EnumForKind(kind) }
	captureAttr.Format = func(inst int) (string, error) {
		name := canonicalName(blockName, n, inst, fieldName)
		for _, out := range capture.Snapshot() {
			if out.Name == name {
				return out.Info.Mode.String(), nil
			}
		}
		return busstate.CaptureNone.String(), nil
	}
	captureAttr.Put = func(inst int, v string) error {
		mode, err := busstate.ParseCaptureMode(kind, v)
		if err != nil {
			return err
		}
		return capture.Register(busstate.RegisteredOutput{
			Name:    canonicalName(blockName, n, inst, fieldName),
			BusSlot: int(base) + inst,
			Info:    busstate.NewCaptureInfo(mode),
			Kind:    kind,
			Scale:   scale,
			Offset:  offset,
			Units:   units,
		})
	}
	field.AddAttribute(captureAttr)
	return field, nil
}

// buildTableField wires a short/long hardware table. Rows are decimal
// words one per line, or a single base64-encoded little-endian blob when
// the BASE64 sentinel is used; TableFieldDesc sub-field packing (spec
// §4.2's multi-column long tables) is left to a future extension — every
// row here is a single flat uint32 word, which covers the common
// single-column case.
func buildTableField(blockType uint32, fieldName string, n int, tokens []string, hw hwaccess.HardwareAccess) (*entity.Field, error) {
	if len(tokens) < 1 {
		return nil, fmt.Errorf("table %s: missing short|long", fieldName)
	}

	// per-instance cached raw words: the readback source for GetMany/
	// persistence (table hardware is write-only) and the base that a
	// TABLE<< append payload is prepended onto.
	cache := make([][]uint32, n)

	switch tokens[0] {
	case "short":
		if len(tokens) != 5 {
			return nil, fmt.Errorf("table %s: short requires <resetReg> <fillReg> <lengthReg> <maxLen>", fieldName)
		}
		resetReg, fillReg, lengthReg, err := parseThreeRegs(tokens[1:4])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", fieldName, err)
		}
		maxLen, err := strconv.Atoi(tokens[4])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad maxLen %q", fieldName, tokens[4])
		}
		put := func(inst int, payload string) error {
			mode, lines := splitTablePayload(payload)
			words, err := decodeTableRows(mode, lines, cache[inst])
			if err != nil {
				return err
			}
			tbl, err := hw.OpenShortTable(blockType, uint32(inst), 1, resetReg, fillReg, lengthReg, maxLen)
			if err != nil {
				return err
			}
			if err := tbl.Write(words); err != nil {
				return err
			}
			cache[inst] = words
			return nil
		}
		field := entity.NewField(fieldName, n, entity.ClassTable, fieldtype.TableDescriptor{}, nil, put)
		attachTableGetMany(field, cache)
		return field, nil

	case "long":
		if len(tokens) != 4 {
			return nil, fmt.Errorf("table %s: long requires <baseReg> <lengthReg> <order>", fieldName)
		}
		baseReg, lengthReg, err := parseTwoRegs(tokens[1:3])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", fieldName, err)
		}
		order, err := strconv.Atoi(tokens[3])
		if err != nil {
			return nil, fmt.Errorf("table %s: bad order %q", fieldName, tokens[3])
		}
		put := func(inst int, payload string) error {
			mode, lines := splitTablePayload(payload)
			words, err := decodeTableRows(mode, lines, cache[inst])
			if err != nil {
				return err
			}
			tbl, err := hw.OpenLongTable(blockType, uint32(inst), 1, order, baseReg, lengthReg)
			if err != nil {
				return err
			}
			if err := tbl.Send(hwaccess.BlockSendBuffer{Data: words, More: false}); err != nil {
				return err
			}
			cache[inst] = words
			return tbl.Close()
		}
		field := entity.NewField(fieldName, n, entity.ClassTable, fieldtype.TableDescriptor{}, nil, put)
		attachTableGetMany(field, cache)
		return field, nil

	default:
		return nil, fmt.Errorf("table %s: unknown table kind %q", fieldName, tokens[0])
	}
}

// attachTableGetMany wires the default attribute's GetMany to read back the
// per-instance cached words, formatted as decimal rows.
func attachTableGetMany(field *entity.Field, cache [][]uint32) {
	attr, _ := field.Attribute("")
	attr.GetMany = func(inst int) ([]string, error) { return formatTableRows(cache[inst]), nil }
}

func parseThreeRegs(tokens []string) (a, b, c uint32, err error) {
	vals := make([]uint32, 3)
	for i, t := range tokens {
		v, e := strconv.ParseUint(t, 0, 32)
		if e != nil {
			return 0, 0, 0, fmt.Errorf("bad register %q", t)
		}
		vals[i] = uint32(v)
	}
	return vals[0], vals[1], vals[2], nil
}

func parseTwoRegs(tokens []string) (a, b uint32, err error) {
	vals := make([]uint32, 2)
	for i, t := range tokens {
		v, e := strconv.ParseUint(t, 0, 32)
		if e != nil {
			return 0, 0, fmt.Errorf("bad register %q", t)
		}
		vals[i] = uint32(v)
	}
	return vals[0], vals[1], nil
}

// splitTablePayload separates cmdserver's REPLACE/APPEND/BASE64 sentinel
// prefix line from the row lines beneath it.
func splitTablePayload(payload string) (mode string, lines []string) {
	parts := strings.SplitN(payload, "\n", 2)
	mode = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		lines = strings.Split(parts[1], "\n")
	}
	return mode, lines
}

// decodeTableRows parses the lines beneath the REPLACE/APPEND/BASE64
// sentinel into the words a table write actually sends to hardware.
// APPEND (spec §4.5's TABLE<<) prepends existing, the previous write's
// cached words, rather than replacing the table outright.
func decodeTableRows(mode string, lines []string, existing []uint32) ([]uint32, error) {
	if mode == "BASE64" {
		if len(lines) != 1 {
			return nil, fmt.Errorf("base64 table payload must be one line")
		}
		raw, err := base64.StdEncoding.DecodeString(lines[0])
		if err != nil {
			return nil, fmt.Errorf("bad base64 table payload: %w", err)
		}
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("base64 table payload is not a multiple of 4 bytes")
		}
		words := make([]uint32, len(raw)/4)
		for i := range words {
			words[i] = uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
		}
		return words, nil
	}
	words := make([]uint32, 0, len(lines))
	for _, l := range lines {
		v, err := strconv.ParseUint(l, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("bad table row %q", l)
		}
		words = append(words, uint32(v))
	}
	if mode == "APPEND" {
		combined := make([]uint32, 0, len(existing)+len(words))
		combined = append(combined, existing...)
		combined = append(combined, words...)
		return combined, nil
	}
	return words, nil
}

func formatTableRows(words []uint32) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strconv.FormatUint(uint64(w), 10)
	}
	return out
}
