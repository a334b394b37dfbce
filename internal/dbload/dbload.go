// Package dbload walks the three startup databases (config, registers,
// description — spec §4.1/§4.2) and builds the live entity.Entity, the
// hwaccess.RegisterMap for the named-register block, and the
// busstate.Registry of capture-eligible outputs.
//
// The three files share dbparse's indentation-sensitive grammar but differ
// in what each line means:
//
// registers database — one top-level "*REG <base>" node whose children are
// "<Name> <Offset>" pairs resolving the symbolic names hwaccess.RegisterMap
// needs (PCAP_ARM, BIT_READ_RST, ...):
//
//	*REG 0x1F
//	    BIT_READ_RST      0
//	    BIT_READ_VALUE    1
//	    PCAP_ARM          10
//
// config database — one top-level "<BlockName> <N>" node per block, whose
// children are one line per field: "<FieldName> <Number> <Class>
// [<type tokens>...]". <Number> is a hardware register offset for the
// register-backed classes (param, read, write, bit_in, pos_in) and a fixed
// capture/mux bus slot for the bus-backed classes (bit_out, pos_out,
// ext_out). A pos_out/ext_out field may carry a further-indented SCALE/
// OFFSET/UNITS line recording its scalar conversion:
//
//	TTLIN 6
//	    TERM     0 param enum High-Z 50-Ohm
//	    VAL      3 bit_out
//
//	INENC 4
//	    VAL      1 pos_out position
//	        SCALE  1e-3
//	        OFFSET 0
//	        UNITS  mm
//	    TABLE    0 table short 20 21 22 64
//
// description database — one top-level "<BlockName>" node per block, whose
// children are "<FieldName> <words...>" lines joined back with spaces as
// that field's Description.
//
// This grammar is an invented convention (spec.md leaves the on-disk syntax
// unspecified beyond "indentation-sensitive"); see DESIGN.md for the
// rationale.
package dbload

import (
	"fmt"
	"os"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/dbparse"
	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/hwaccess"
	"github.com/panda-fpga/pandad/internal/logx"
)

var log = logx.For("dbload")

// Result is everything startup needs out of the three databases.
type Result struct {
	Entity   *entity.Entity
	Registry *busstate.Registry
	Bus      *busstate.State
	Regs     *hwaccess.RegisterMap
}

// Paths names the three database files, per spec §6's -c/-r/-D flags.
type Paths struct {
	Config      string
	Registers   string
	Description string
}

// LoadRegisters parses only the registers database, independent of the
// config/description pair. main needs the RegisterMap before it can open
// the real hardware device, and Load itself needs an already-open
// hwaccess.HardwareAccess to wire register-backed fields — so opening real
// hardware is a two-step dance: LoadRegisters, hwaccess.Open, then Load.
func LoadRegisters(path string) (*hwaccess.RegisterMap, error) {
	root, err := parseFile(path)
	if err != nil {
		return nil, fmt.Errorf("registers database: %w", err)
	}
	regs, err := buildRegisterMap(root)
	if err != nil {
		return nil, fmt.Errorf("registers database: %w", err)
	}
	return regs, nil
}

// Load parses all three databases and wires the resulting entity model
// against hw. maxCaptureSlots bounds the capture bus (spec §4.4).
func Load(paths Paths, hw hwaccess.HardwareAccess, maxCaptureSlots int) (*Result, error) {
	regs, err := LoadRegisters(paths.Registers)
	if err != nil {
		return nil, err
	}

	cfgRoot, err := parseFile(paths.Config)
	if err != nil {
		return nil, fmt.Errorf("config database: %w", err)
	}
	bus := busstate.NewState()
	capture := busstate.NewRegistry(maxCaptureSlots)
	ent, err := buildEntity(cfgRoot, hw, bus, capture)
	if err != nil {
		return nil, fmt.Errorf("config database: %w", err)
	}

	if paths.Description != "" {
		descRoot, err := parseFile(paths.Description)
		if err != nil {
			return nil, fmt.Errorf("description database: %w", err)
		}
		if err := applyDescriptions(descRoot, ent); err != nil {
			return nil, fmt.Errorf("description database: %w", err)
		}
	}

	return &Result{Entity: ent, Registry: capture, Bus: bus, Regs: regs}, nil
}

func parseFile(path string) (*dbparse.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dbparse.Parse(path, f)
}
