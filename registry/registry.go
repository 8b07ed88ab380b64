// Package registry describes the runtime a client talks to: pallets and
// their call, event and error enums, storage entries, and the portable type
// table used to decode values. A registry is built either from the embedded
// YAML description or from the chain's own metadata.
package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/types"
)

var (
	ErrUnknownType         = errors.New("unknown type")
	ErrUnknownVariant      = errors.New("unknown variant")
	ErrUnknownPallet       = errors.New("unknown pallet")
	ErrUnknownCall         = errors.New("unknown call")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrUnknownError        = errors.New("unknown module error")
	ErrUnknownStorage      = errors.New("unknown storage entry")
	ErrInvalidDescription  = errors.New("invalid runtime description")
	ErrUnsupportedMetadata = errors.New("unsupported metadata")
)

// Source records where a registry came from.
type Source string

const (
	SourceYAML     Source = "yaml"
	SourceMetadata Source = "metadata"
)

// Hasher is a storage map key hasher.
type Hasher uint8

const (
	Blake2_128 Hasher = iota
	Blake2_256
	Blake2_128Concat
	Twox128
	Twox256
	Twox64Concat
	Identity
)

var hasherNames = []string{"Blake2_128", "Blake2_256", "Blake2_128Concat", "Twox128", "Twox256", "Twox64Concat", "Identity"}

func (h Hasher) String() string {
	if int(h) < len(hasherNames) {
		return hasherNames[h]
	}
	return fmt.Sprintf("Hasher(%d)", uint8(h))
}

// ParseHasher accepts the hasher names used in metadata.
func ParseHasher(s string) (Hasher, error) {
	for i, n := range hasherNames {
		if strings.EqualFold(n, s) {
			return Hasher(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hasher %q", s)
}

// Hash applies the hasher to an encoded key.
func (h Hasher) Hash(key []byte) []byte {
	switch h {
	case Blake2_128:
		return common.Blake2_128(key)
	case Blake2_256:
		return common.ComputeHash(key)
	case Blake2_128Concat:
		return common.Blake2_128Concat(key)
	case Twox128:
		return common.Twox128(key)
	case Twox256:
		return common.Twox256(key)
	case Twox64Concat:
		return common.Twox64Concat(key)
	}
	return append([]byte(nil), key...)
}

// StorageEntry describes one storage item of a pallet.
type StorageEntry struct {
	Name string
	// Optional entries read as None when absent; Default entries fall back
	// to Default.
	Optional bool
	Hashers  []Hasher
	// KeyType is -1 for plain values.
	KeyType   int
	ValueType int
	Default   []byte
	Docs      []string
}

// IsMap reports whether the entry is keyed.
func (s *StorageEntry) IsMap() bool {
	return s.KeyType >= 0
}

// Constant is a pallet constant with its encoded value.
type Constant struct {
	Name  string
	Type  int
	Value []byte
}

// Pallet is one runtime module. Enum type ids are -1 when absent.
type Pallet struct {
	Name          string
	Index         uint8
	StoragePrefix string
	CallType      int
	EventType     int
	ErrorType     int
	Storage       []StorageEntry
	Constants     []Constant
	Docs          []string
}

// Section is the lower camel case name used for event and error sections.
func (p *Pallet) Section() string {
	if p.Name == "" {
		return ""
	}
	return strings.ToLower(p.Name[:1]) + p.Name[1:]
}

// StorageEntry finds a storage item by name.
func (p *Pallet) StorageEntry(name string) (*StorageEntry, bool) {
	for i := range p.Storage {
		if p.Storage[i].Name == name {
			return &p.Storage[i], true
		}
	}
	return nil, false
}

// Constant finds a constant by name.
func (p *Pallet) Constant(name string) (*Constant, bool) {
	for i := range p.Constants {
		if p.Constants[i].Name == name {
			return &p.Constants[i], true
		}
	}
	return nil, false
}

// Registry is an immutable runtime description. It is safe for concurrent use.
type Registry struct {
	Name             string
	Source           Source
	SpecVersion      uint32
	SignedExtensions []string

	types   *TypeTable
	pallets []*Pallet
	byName  map[string]*Pallet
	byIndex map[uint8]*Pallet
}

func newRegistry(tt *TypeTable, source Source) *Registry {
	return &Registry{
		Source:  source,
		types:   tt,
		byName:  make(map[string]*Pallet),
		byIndex: make(map[uint8]*Pallet),
	}
}

func (r *Registry) addPallet(p *Pallet) error {
	if p.StoragePrefix == "" {
		p.StoragePrefix = p.Name
	}
	key := foldName(p.Name)
	if _, dup := r.byName[key]; dup {
		return fmt.Errorf("%w: pallet %s declared twice", ErrInvalidDescription, p.Name)
	}
	if prev, dup := r.byIndex[p.Index]; dup {
		return fmt.Errorf("%w: pallet %s reuses index %d of %s", ErrInvalidDescription, p.Name, p.Index, prev.Name)
	}
	r.byName[key] = p
	r.byIndex[p.Index] = p
	r.pallets = append(r.pallets, p)
	return nil
}

//go:embed runtime.yaml
var defaultRuntime []byte

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the registry parsed from the embedded description.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = parseYAML(defaultRuntime)
	})
	return defaultReg, defaultErr
}

// MustDefault is Default for callers that cannot proceed without it.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Parse builds a registry from a YAML description.
func Parse(data []byte) (*Registry, error) {
	return parseYAML(data)
}

// LoadFile reads a YAML description from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseYAML(data)
}

// Types exposes the type table for dynamic decoding.
func (r *Registry) Types() *TypeTable {
	return r.types
}

// Pallets lists pallets in declaration order.
func (r *Registry) Pallets() []*Pallet {
	return append([]*Pallet(nil), r.pallets...)
}

// Pallet looks a pallet up by name, ignoring case and underscores.
func (r *Registry) Pallet(name string) (*Pallet, error) {
	p, ok := r.byName[foldName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPallet, name)
	}
	return p, nil
}

// PalletByIndex looks a pallet up by its runtime index.
func (r *Registry) PalletByIndex(idx uint8) (*Pallet, error) {
	p, ok := r.byIndex[idx]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownPallet, idx)
	}
	return p, nil
}

// HasSignedExtension reports whether the runtime declares the extension.
func (r *Registry) HasSignedExtension(name string) bool {
	for _, ext := range r.SignedExtensions {
		if ext == name {
			return true
		}
	}
	return false
}

// CallInfo locates a call in the runtime.
type CallInfo struct {
	Pallet      string
	Method      string
	PalletIndex uint8
	CallIndex   uint8
	Args        []Field
}

// Call resolves pallet and method names to their indices and argument list.
func (r *Registry) Call(pallet, method string) (*CallInfo, error) {
	p, err := r.Pallet(pallet)
	if err != nil {
		return nil, err
	}
	if p.CallType < 0 {
		return nil, fmt.Errorf("%w: %s has no calls", ErrUnknownCall, p.Name)
	}
	def, err := r.types.Lookup(p.CallType)
	if err != nil {
		return nil, err
	}
	v, ok := def.VariantByName(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCall, p.Name, method)
	}
	return &CallInfo{
		Pallet:      p.Name,
		Method:      v.Name,
		PalletIndex: p.Index,
		CallIndex:   v.Index,
		Args:        v.Fields,
	}, nil
}

// Event returns the variant describing pallet.method.
func (r *Registry) Event(pallet, method string) (*Variant, error) {
	p, err := r.Pallet(pallet)
	if err != nil {
		return nil, err
	}
	if p.EventType < 0 {
		return nil, fmt.Errorf("%w: %s has no events", ErrUnknownEvent, p.Name)
	}
	def, err := r.types.Lookup(p.EventType)
	if err != nil {
		return nil, err
	}
	v, ok := def.VariantByName(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, p.Name, method)
	}
	return v, nil
}

// ModuleErrorInfo is the resolved description of a pallet error.
type ModuleErrorInfo struct {
	Section string
	Name    string
	Docs    []string
}

// String renders section.name: docs.
func (m *ModuleErrorInfo) String() string {
	return fmt.Sprintf("%s.%s: %s", m.Section, m.Name, strings.Join(m.Docs, " "))
}

// FindModuleError resolves a Module dispatch error. The first error byte is
// the variant index in the pallet's error enum.
func (r *Registry) FindModuleError(idx types.ModuleErrorIndex) (*ModuleErrorInfo, error) {
	p, err := r.PalletByIndex(idx.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownError, err)
	}
	if p.ErrorType < 0 {
		return nil, fmt.Errorf("%w: %s has no errors", ErrUnknownError, p.Name)
	}
	def, err := r.types.Lookup(p.ErrorType)
	if err != nil {
		return nil, err
	}
	v, ok := def.VariantByIndex(idx.Error[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s error %d", ErrUnknownError, p.Name, idx.Error[0])
	}
	return &ModuleErrorInfo{Section: p.Section(), Name: v.Name, Docs: v.Docs}, nil
}

// Storage resolves a storage item.
func (r *Registry) Storage(pallet, entry string) (*Pallet, *StorageEntry, error) {
	p, err := r.Pallet(pallet)
	if err != nil {
		return nil, nil, err
	}
	e, ok := p.StorageEntry(entry)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownStorage, p.Name, entry)
	}
	return p, e, nil
}

// DecodeStorage decodes a raw storage value. A nil raw value yields the
// entry default, or nil for optional entries.
func (r *Registry) DecodeStorage(entry *StorageEntry, raw []byte) (any, error) {
	if raw == nil {
		if entry.Optional || len(entry.Default) == 0 {
			return nil, nil
		}
		raw = entry.Default
	}
	return r.types.DecodeBytes(entry.ValueType, raw)
}

// DecodeEvents decodes the System.Events storage value.
func (r *Registry) DecodeEvents(raw []byte) ([]types.EventRecord, error) {
	rd := bytes.NewReader(raw)
	n, err := codec.DecodeCompact(rd)
	if err != nil {
		return nil, fmt.Errorf("event count: %w", err)
	}
	if n > maxSequenceLen {
		return nil, fmt.Errorf("event count %d too large", n)
	}
	records := make([]types.EventRecord, 0, n)
	for i := uint64(0); i < n; i++ {
		rec, err := r.decodeEventRecord(rd)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		records = append(records, rec)
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("%w: %d after events", codec.ErrTrailingBytes, rd.Len())
	}
	return records, nil
}

func (r *Registry) decodeEventRecord(rd io.Reader) (types.EventRecord, error) {
	var rec types.EventRecord
	if err := rec.Phase.UnmarshalSCALE(rd); err != nil {
		return rec, fmt.Errorf("phase: %w", err)
	}
	rec.PhaseName = rec.Phase.String()

	var idx [2]byte
	if _, err := io.ReadFull(rd, idx[:]); err != nil {
		return rec, err
	}
	rec.PalletIndex, rec.EventIndex = idx[0], idx[1]
	p, err := r.PalletByIndex(idx[0])
	if err != nil {
		return rec, err
	}
	if p.EventType < 0 {
		return rec, fmt.Errorf("%w: %s has no events", ErrUnknownEvent, p.Name)
	}
	def, err := r.types.Lookup(p.EventType)
	if err != nil {
		return rec, err
	}
	v, ok := def.VariantByIndex(idx[1])
	if !ok {
		return rec, fmt.Errorf("%w: %s event %d", ErrUnknownEvent, p.Name, idx[1])
	}
	rec.Section, rec.Method = p.Section(), v.Name
	for _, f := range v.Fields {
		val, err := r.types.Decode(f.Type, rd)
		if err != nil {
			return rec, fmt.Errorf("%s.%s field %s: %w", p.Name, v.Name, f.Name, err)
		}
		rec.Fields = append(rec.Fields, types.EventField{Name: f.Name, Type: f.TypeName, Value: val})
	}
	if err := codec.NewDecoder(rd).Decode(&rec.Topics); err != nil {
		return rec, fmt.Errorf("topics: %w", err)
	}
	return rec, nil
}

// DispatchErrorFromValue converts a dynamically decoded DispatchError.
func DispatchErrorFromValue(v any) (types.DispatchError, error) {
	vv, ok := v.(VariantValue)
	if !ok {
		return types.DispatchError{}, fmt.Errorf("dispatch error is %T, not an enum", v)
	}
	var (
		sub         string
		moduleIndex uint8
		moduleError []byte
	)
	switch inner := vv.Value.(type) {
	case VariantValue:
		sub = inner.Name
	case Composite:
		if idx, ok := inner.Get("index"); ok {
			n, _ := AsUint64(idx)
			moduleIndex = uint8(n)
		}
		if e, ok := inner.Get("error"); ok {
			moduleError, _ = AsBytes(e)
		}
	}
	return types.DispatchErrorFromVariant(vv.Name, sub, moduleIndex, moduleError)
}

// ExtrinsicFailure extracts the dispatch error of a System.ExtrinsicFailed event.
func ExtrinsicFailure(ev *types.EventRecord) (types.DispatchError, error) {
	if !ev.Is("system", "ExtrinsicFailed") {
		return types.DispatchError{}, fmt.Errorf("%s is not system.ExtrinsicFailed", ev.Name())
	}
	v, ok := ev.Field("dispatch_error")
	if !ok {
		if len(ev.Fields) == 0 {
			return types.DispatchError{}, errors.New("ExtrinsicFailed without fields")
		}
		v = ev.Fields[0].Value
	}
	return DispatchErrorFromValue(v)
}

// Describe renders a dispatch error the way users see it: module errors as
// section.name: docs, everything else by variant name.
func (r *Registry) Describe(e types.DispatchError) string {
	if e.IsModule() {
		if info, err := r.FindModuleError(e.Module); err == nil {
			return info.String()
		}
	}
	return e.String()
}
