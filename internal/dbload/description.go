package dbload

import (
	"fmt"
	"strings"

	"github.com/panda-fpga/pandad/internal/dbparse"
	"github.com/panda-fpga/pandad/internal/entity"
)

// applyDescriptions walks "<BlockName>" / "<FieldName> <words...>" nodes
// and sets the matching Field.Description. Unknown blocks/fields are
// skipped with a log, not a fatal error: the description database is
// documentation, and a stale entry should not stop the server booting.
func applyDescriptions(root *dbparse.Node, ent *entity.Entity) error {
	for _, blockNode := range root.Children {
		if len(blockNode.Tokens) != 1 {
			return fmt.Errorf("line %d: expected a bare block name", blockNode.Line)
		}
		block, ok := ent.Blocks[blockNode.Tokens[0]]
		if !ok {
			log.Warn("description for unknown block", "block", blockNode.Tokens[0])
			continue
		}
		for _, fieldNode := range blockNode.Children {
			if len(fieldNode.Tokens) < 2 {
				continue
			}
			field, ok := block.Fields[fieldNode.Tokens[0]]
			if !ok {
				log.Warn("description for unknown field", "block", block.Name, "field", fieldNode.Tokens[0])
				continue
			}
			field.Description = strings.Join(fieldNode.Tokens[1:], " ")
		}
	}
	return nil
}
