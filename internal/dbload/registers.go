package dbload

import (
	"fmt"
	"strconv"

	"github.com/panda-fpga/pandad/internal/dbparse"
	"github.com/panda-fpga/pandad/internal/hwaccess"
)

// buildRegisterMap finds the single "*REG <base>" top-level node and turns
// its children into the offsets map hwaccess.NewRegisterMap validates.
func buildRegisterMap(root *dbparse.Node) (*hwaccess.RegisterMap, error) {
	var regNode *dbparse.Node
	for _, n := range root.Children {
		if n.First() == "*REG" {
			regNode = n
			break
		}
	}
	if regNode == nil {
		return nil, fmt.Errorf("no *REG block declared")
	}
	if len(regNode.Tokens) != 2 {
		return nil, fmt.Errorf("line %d: *REG requires exactly a base address", regNode.Line)
	}
	base, err := parseUint(regNode.Tokens[1])
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", regNode.Line, err)
	}

	offsets := make(map[string]uint32, len(regNode.Children))
	for _, child := range regNode.Children {
		if len(child.Tokens) != 2 {
			return nil, fmt.Errorf("line %d: expected \"<name> <offset>\"", child.Line)
		}
		off, err := parseUint(child.Tokens[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", child.Line, err)
		}
		offsets[child.Tokens[0]] = off
	}

	return hwaccess.NewRegisterMap(base, offsets)
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return uint32(v), nil
}
