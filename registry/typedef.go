package registry

import (
	"fmt"
	"strings"
)

// TypeKind is the shape of a runtime type.
type TypeKind int

const (
	KindComposite TypeKind = iota
	KindVariant
	KindSequence
	KindArray
	KindTuple
	KindPrimitive
	KindCompact
	KindBitSequence
)

// Field is a member of a composite type or of an enum variant.
type Field struct {
	Name     string
	Type     int
	TypeName string
}

// Variant is one arm of an enum. Calls, events and errors of a pallet are
// the variants of its call, event and error enums.
type Variant struct {
	Name   string
	Index  uint8
	Fields []Field
	Docs   []string
}

// Doc joins the variant docs into one line.
func (v *Variant) Doc() string {
	return strings.TrimSpace(strings.Join(v.Docs, " "))
}

// TypeDef is a portable type description, as found in runtime metadata.
type TypeDef struct {
	ID        int
	Path      []string
	Kind      TypeKind
	Primitive string
	Fields    []Field
	Variants  []Variant
	Elem      int
	Len       uint32
	Tuple     []int
	// BitStore is the store type of a bit sequence.
	BitStore int
}

// Name is the last path segment, or a structural name for anonymous types.
func (t *TypeDef) Name() string {
	if len(t.Path) > 0 {
		return t.Path[len(t.Path)-1]
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive
	case KindSequence:
		return "Vec"
	case KindArray:
		return fmt.Sprintf("[%d]", t.Len)
	case KindTuple:
		return "Tuple"
	case KindCompact:
		return "Compact"
	case KindBitSequence:
		return "BitVec"
	}
	return ""
}

// VariantByIndex finds the arm with the given index.
func (t *TypeDef) VariantByIndex(idx uint8) (*Variant, bool) {
	for i := range t.Variants {
		if t.Variants[i].Index == idx {
			return &t.Variants[i], true
		}
	}
	return nil, false
}

// VariantByName matches names ignoring case and underscores, so that
// submitLocalModel finds submit_local_model.
func (t *TypeDef) VariantByName(name string) (*Variant, bool) {
	want := foldName(name)
	for i := range t.Variants {
		if foldName(t.Variants[i].Name) == want {
			return &t.Variants[i], true
		}
	}
	return nil, false
}

func foldName(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, "_", ""), "-", ""))
}

// TypeTable holds type definitions indexed by id.
type TypeTable struct {
	defs map[int]*TypeDef
}

func newTypeTable() *TypeTable {
	return &TypeTable{defs: make(map[int]*TypeDef)}
}

func (tt *TypeTable) add(def *TypeDef) {
	tt.defs[def.ID] = def
}

// Lookup returns the definition for id.
func (tt *TypeTable) Lookup(id int) (*TypeDef, error) {
	def, ok := tt.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrUnknownType, id)
	}
	return def, nil
}

func (tt *TypeTable) Len() int {
	return len(tt.defs)
}

// isByte reports whether id is the u8 primitive.
func (tt *TypeTable) isByte(id int) bool {
	def, ok := tt.defs[id]
	return ok && def.Kind == KindPrimitive && def.Primitive == "u8"
}
