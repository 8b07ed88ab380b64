package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlRuntime is the hand-maintained runtime description format. Type
// expressions use Rust notation: u32, Vec<u8>, Option<H256>, Compact<u128>,
// [u8; 20], (u32, Bytes), or a name from the types section.
type yamlRuntime struct {
	Name             string              `yaml:"name"`
	SignedExtensions []string            `yaml:"signedExtensions"`
	Types            map[string]yamlType `yaml:"types"`
	Pallets          []yamlPallet        `yaml:"pallets"`
}

type yamlType struct {
	Alias    string
	Fields   []yamlField
	Variants []yamlVariant
}

func (t *yamlType) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Alias = value.Value
		return nil
	}
	var raw struct {
		Fields   []yamlField   `yaml:"fields"`
		Variants []yamlVariant `yaml:"variants"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	t.Fields, t.Variants = raw.Fields, raw.Variants
	return nil
}

type yamlField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type yamlVariant struct {
	Name   string      `yaml:"name"`
	Index  *int        `yaml:"index"`
	Fields []yamlField `yaml:"fields"`
	Docs   string      `yaml:"docs"`
}

type yamlStorage struct {
	Name     string   `yaml:"name"`
	Modifier string   `yaml:"modifier"`
	Hashers  []string `yaml:"hashers"`
	Key      string   `yaml:"key"`
	Value    string   `yaml:"value"`
	Docs     string   `yaml:"docs"`
}

type yamlPallet struct {
	Name    string        `yaml:"name"`
	Index   uint8         `yaml:"index"`
	Calls   []yamlVariant `yaml:"calls"`
	Events  []yamlVariant `yaml:"events"`
	Errors  []yamlVariant `yaml:"errors"`
	Storage []yamlStorage `yaml:"storage"`
}

var builtinAliases = map[string]string{
	"String":      "str",
	"Text":        "str",
	"Bytes":       "Vec<u8>",
	"Balance":     "u128",
	"BlockNumber": "u32",
	"Index":       "u32",
}

var primitives = map[string]bool{
	"bool": true, "char": true, "str": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true, "u256": true,
	"i8": true, "i16": true, "i32": true, "i64": true, "i128": true, "i256": true,
}

// typeBuilder interns type expressions into a TypeTable.
type typeBuilder struct {
	table  *TypeTable
	next   int
	byExpr map[string]int
	named  map[string]yamlType
}

func newTypeBuilder(named map[string]yamlType) *typeBuilder {
	return &typeBuilder{
		table:  newTypeTable(),
		byExpr: make(map[string]int),
		named:  named,
	}
}

func (b *typeBuilder) alloc(expr string, def *TypeDef) int {
	def.ID = b.next
	b.next++
	b.table.add(def)
	if expr != "" {
		b.byExpr[expr] = def.ID
	}
	return def.ID
}

// resolve returns the id of the type named by expr, building it on first use.
func (b *typeBuilder) resolve(expr string) (int, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	if expr == "" {
		return 0, fmt.Errorf("%w: empty type expression", ErrUnknownType)
	}
	if id, ok := b.byExpr[expr]; ok {
		return id, nil
	}

	if primitives[expr] {
		return b.alloc(expr, &TypeDef{Kind: KindPrimitive, Primitive: expr}), nil
	}
	if named, ok := b.named[expr]; ok {
		return b.resolveNamed(expr, named)
	}
	switch expr {
	case "H256", "Hash":
		elem, _ := b.resolve("u8")
		return b.alloc(expr, &TypeDef{Path: []string{"H256"}, Kind: KindArray, Elem: elem, Len: 32}), nil
	case "H160":
		elem, _ := b.resolve("u8")
		return b.alloc(expr, &TypeDef{Path: []string{"H160"}, Kind: KindArray, Elem: elem, Len: 20}), nil
	case "AccountId20":
		inner, err := b.resolve("[u8; 20]")
		if err != nil {
			return 0, err
		}
		return b.alloc(expr, &TypeDef{Path: []string{"AccountId20"}, Kind: KindComposite, Fields: []Field{{Type: inner, TypeName: "[u8; 20]"}}}), nil
	}
	if alias, ok := builtinAliases[expr]; ok {
		id, err := b.resolve(alias)
		if err != nil {
			return 0, err
		}
		b.byExpr[expr] = id
		return id, nil
	}

	switch {
	case strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")"):
		parts := splitTopLevel(expr[1 : len(expr)-1])
		def := &TypeDef{Kind: KindTuple}
		for _, p := range parts {
			id, err := b.resolve(p)
			if err != nil {
				return 0, err
			}
			def.Tuple = append(def.Tuple, id)
		}
		return b.alloc(expr, def), nil
	case strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]"):
		inner := expr[1 : len(expr)-1]
		semi := strings.LastIndex(inner, ";")
		if semi < 0 {
			return 0, fmt.Errorf("%w: array %q needs a length", ErrUnknownType, expr)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(inner[semi+1:]), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: array length in %q", ErrUnknownType, expr)
		}
		elem, err := b.resolve(inner[:semi])
		if err != nil {
			return 0, err
		}
		return b.alloc(expr, &TypeDef{Kind: KindArray, Elem: elem, Len: uint32(n)}), nil
	}

	open := strings.Index(expr, "<")
	if open > 0 && strings.HasSuffix(expr, ">") {
		outer, arg := expr[:open], expr[open+1:len(expr)-1]
		switch outer {
		case "Vec", "BoundedVec", "WeakBoundedVec":
			args := splitTopLevel(arg)
			elem, err := b.resolve(args[0])
			if err != nil {
				return 0, err
			}
			return b.alloc(expr, &TypeDef{Kind: KindSequence, Elem: elem}), nil
		case "Option":
			some, err := b.resolve(arg)
			if err != nil {
				return 0, err
			}
			return b.alloc(expr, &TypeDef{
				Path: []string{"Option"},
				Kind: KindVariant,
				Variants: []Variant{
					{Name: "None", Index: 0},
					{Name: "Some", Index: 1, Fields: []Field{{Type: some, TypeName: arg}}},
				},
			}), nil
		case "Compact":
			elem, err := b.resolve(arg)
			if err != nil {
				return 0, err
			}
			return b.alloc(expr, &TypeDef{Kind: KindCompact, Elem: elem}), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, expr)
}

func (b *typeBuilder) resolveNamed(name string, t yamlType) (int, error) {
	if t.Alias != "" {
		id, err := b.resolve(t.Alias)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		b.byExpr[name] = id
		return id, nil
	}
	// reserve the id first so self-referential types terminate
	def := &TypeDef{Path: []string{name}}
	id := b.alloc(name, def)
	if len(t.Variants) > 0 {
		def.Kind = KindVariant
		variants, err := b.variants(t.Variants)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		def.Variants = variants
		return id, nil
	}
	def.Kind = KindComposite
	fields, err := b.fields(t.Fields)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	def.Fields = fields
	return id, nil
}

func (b *typeBuilder) fields(in []yamlField) ([]Field, error) {
	out := make([]Field, 0, len(in))
	for _, f := range in {
		id, err := b.resolve(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out = append(out, Field{Name: f.Name, Type: id, TypeName: f.Type})
	}
	return out, nil
}

func (b *typeBuilder) variants(in []yamlVariant) ([]Variant, error) {
	out := make([]Variant, 0, len(in))
	seen := make(map[uint8]string, len(in))
	for i, v := range in {
		idx := i
		if v.Index != nil {
			idx = *v.Index
		}
		if idx < 0 || idx > 255 {
			return nil, fmt.Errorf("variant %s: index %d out of range", v.Name, idx)
		}
		if prev, dup := seen[uint8(idx)]; dup {
			return nil, fmt.Errorf("variant %s: index %d already used by %s", v.Name, idx, prev)
		}
		seen[uint8(idx)] = v.Name
		fields, err := b.fields(v.Fields)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		var docs []string
		if v.Docs != "" {
			docs = []string{strings.TrimSpace(v.Docs)}
		}
		out = append(out, Variant{Name: v.Name, Index: uint8(idx), Fields: fields, Docs: docs})
	}
	return out, nil
}

// enum allocates an anonymous variant type for a pallet's calls, events or errors.
func (b *typeBuilder) enum(path []string, in []yamlVariant) (int, error) {
	if len(in) == 0 {
		return -1, nil
	}
	variants, err := b.variants(in)
	if err != nil {
		return 0, err
	}
	return b.alloc("", &TypeDef{Path: path, Kind: KindVariant, Variants: variants}), nil
}

// splitTopLevel splits on commas outside <>, [] and ().
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '<', '[', '(':
			depth++
		case '>', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		parts = append(parts, last)
	}
	return parts
}

// parseYAML builds a registry from the YAML description.
func parseYAML(data []byte) (*Registry, error) {
	var rt yamlRuntime
	if err := yaml.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}
	b := newTypeBuilder(rt.Types)

	// named types first, in a stable order
	names := make([]string, 0, len(rt.Types))
	for name := range rt.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := b.resolve(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
		}
	}

	reg := newRegistry(b.table, SourceYAML)
	reg.Name = rt.Name
	reg.SignedExtensions = rt.SignedExtensions
	for _, yp := range rt.Pallets {
		p := &Pallet{Name: yp.Name, Index: yp.Index}
		var err error
		if p.CallType, err = b.enum([]string{yp.Name, "Call"}, yp.Calls); err != nil {
			return nil, fmt.Errorf("%w: %s calls: %v", ErrInvalidDescription, yp.Name, err)
		}
		if p.EventType, err = b.enum([]string{yp.Name, "Event"}, yp.Events); err != nil {
			return nil, fmt.Errorf("%w: %s events: %v", ErrInvalidDescription, yp.Name, err)
		}
		if p.ErrorType, err = b.enum([]string{yp.Name, "Error"}, yp.Errors); err != nil {
			return nil, fmt.Errorf("%w: %s errors: %v", ErrInvalidDescription, yp.Name, err)
		}
		for _, ys := range yp.Storage {
			entry, err := b.storageEntry(ys)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidDescription, yp.Name, ys.Name, err)
			}
			p.Storage = append(p.Storage, entry)
		}
		if err := reg.addPallet(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (b *typeBuilder) storageEntry(ys yamlStorage) (StorageEntry, error) {
	entry := StorageEntry{Name: ys.Name, KeyType: -1}
	switch strings.ToLower(ys.Modifier) {
	case "", "optional":
		entry.Optional = true
	case "default":
	default:
		return entry, fmt.Errorf("unknown modifier %q", ys.Modifier)
	}
	for _, h := range ys.Hashers {
		hasher, err := ParseHasher(h)
		if err != nil {
			return entry, err
		}
		entry.Hashers = append(entry.Hashers, hasher)
	}
	if ys.Key != "" {
		id, err := b.resolve(ys.Key)
		if err != nil {
			return entry, err
		}
		entry.KeyType = id
		if len(entry.Hashers) == 0 {
			entry.Hashers = []Hasher{Blake2_128Concat}
		}
	}
	id, err := b.resolve(ys.Value)
	if err != nil {
		return entry, err
	}
	entry.ValueType = id
	if ys.Docs != "" {
		entry.Docs = []string{ys.Docs}
	}
	return entry, nil
}
