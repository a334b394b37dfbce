package entity

import (
	"strconv"
	"strings"
	"sync"

	"github.com/panda-fpga/pandad/internal/perr"
)

// Entity is the complete block/field model built at startup by
// internal/dbload, plus the global change-index counter that every
// mutation stamps.
type Entity struct {
	BlockOrder []string
	Blocks     map[string]*Block
	Change     GlobalChangeIndex

	mu sync.RWMutex
}

// NewEntity returns an empty model.
func NewEntity() *Entity {
	return &Entity{Blocks: make(map[string]*Block)}
}

// AddBlock registers a block, preserving declaration order. Startup-only;
// callers must not call this once the command/data servers are serving
// traffic.
func (e *Entity) AddBlock(b *Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.Blocks[b.Name]; !exists {
		e.BlockOrder = append(e.BlockOrder, b.Name)
	}
	e.Blocks[b.Name] = b
}

// Resolved is one successfully-parsed entity reference:
// block-name[index].field-name[.attr-name].
type Resolved struct {
	Block     *Block
	Instance  int
	Field     *Field
	AttrName  string // "" means the field's own default value
	Attribute *Attribute
}

// Resolve parses and looks up "block[index].field[.attr]". Index defaults
// to 0 when the block has exactly one instance and none is given.
func (e *Entity) Resolve(path string) (*Resolved, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, perr.New(perr.KindNotFound, "empty entity reference")
	}

	blockToken := parts[0]
	blockName := blockToken
	index := 0
	hasIndex := false
	if i := strings.IndexByte(blockToken, '['); i >= 0 {
		if !strings.HasSuffix(blockToken, "]") {
			return nil, perr.New(perr.KindParse, "malformed index in %q", blockToken)
		}
		blockName = blockToken[:i]
		idxStr := blockToken[i+1 : len(blockToken)-1]
		v, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, perr.New(perr.KindParse, "malformed index in %q", blockToken)
		}
		index = v
		hasIndex = true
	}

	e.mu.RLock()
	block, ok := e.Blocks[blockName]
	e.mu.RUnlock()
	if !ok {
		return nil, perr.New(perr.KindNotFound, "no such block %q", blockName)
	}
	if !hasIndex {
		if block.N != 1 {
			return nil, perr.New(perr.KindNotFound, "block %q requires an index (n=%d)", blockName, block.N)
		}
		index = 0
	}
	if index < 0 || index >= block.N {
		return nil, perr.New(perr.KindNotFound, "index %d out of range for block %q (n=%d)", index, blockName, block.N)
	}

	if len(parts) < 2 {
		return nil, perr.New(perr.KindNotFound, "no field specified for block %q", blockName)
	}
	fieldName := parts[1]
	field, ok := block.Fields[fieldName]
	if !ok {
		return nil, perr.New(perr.KindNotFound, "no such field %q on block %q", fieldName, blockName)
	}

	attrName := ""
	if len(parts) >= 3 {
		attrName = strings.Join(parts[2:], ".")
	}
	attr, ok := field.Attribute(attrName)
	if !ok {
		return nil, perr.New(perr.KindNotFound, "no such attribute %q on %s.%s", attrName, blockName, fieldName)
	}

	return &Resolved{
		Block:     block,
		Instance:  index,
		Field:     field,
		AttrName:  attrName,
		Attribute: attr,
	}, nil
}

// Bump assigns a fresh global change index and stamps it onto the field's
// default value and, if attrName is non-empty, the named attribute too.
// This is the single call site spec §4.3 calls bump_change_index.
func (e *Entity) Bump(field *Field, instance int, attrName string) uint64 {
	idx := e.Change.Next()
	field.Stamp(instance, attrName, idx)
	return idx
}

// Name reconstructs the canonical block[i].field.attr text for this
// resolution, used in *CHANGES responses and persistence records.
func (r *Resolved) Name() string {
	base := r.Block.Name
	if r.Block.N != 1 {
		base += "[" + strconv.Itoa(r.Instance) + "]"
	}
	base += "." + r.Field.Name
	if r.AttrName != "" {
		base += "." + r.AttrName
	}
	return base
}

// ChangedEntry is one changed name reported by ChangesSince, along with its
// formatted value when it is a plain scalar (table-class entries report no
// value here; the command server re-queries them as multi-line reads).
type ChangedEntry struct {
	Name  string
	Value string
	IsMulti bool
}

// ChangesSince scans every field/attribute for the given group and returns
// those whose change index exceeds `since`, plus the current global index
// (to be stored as the connection's new watermark for this group).
func (e *Entity) ChangesSince(group ChangeGroup, since uint64) ([]ChangedEntry, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []ChangedEntry
	for _, bname := range e.BlockOrder {
		block := e.Blocks[bname]
		for _, fname := range block.FieldOrder {
			field := block.Fields[fname]
			for _, attrName := range field.AttributeNames() {
				attr := field.attrs[attrName]
				if attr.Group != group {
					continue
				}
				for inst := 0; inst < field.N; inst++ {
					if attr.index(inst) <= since {
						continue
					}
					res := &Resolved{Block: block, Instance: inst, Field: field, AttrName: attrName, Attribute: attr}
					entry := ChangedEntry{Name: res.Name()}
					if field.Class == ClassTable && attrName == "" {
						entry.IsMulti = true
					} else if attr.Format != nil {
						if v, err := attr.Format(inst); err == nil {
							entry.Value = v
						}
					}
					out = append(out, entry)
				}
			}
		}
	}
	return out, e.Change.Current()
}
