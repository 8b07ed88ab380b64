package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/colorfulnotion/flchain/codec"
)

// MetadataMagic is "meta" read as a little endian u32.
const MetadataMagic uint32 = 0x6174656d

var primitiveCodes = []string{
	"bool", "char", "str",
	"u8", "u16", "u32", "u64", "u128", "u256",
	"i8", "i16", "i32", "i64", "i128", "i256",
}

type metaField struct {
	Name     *string
	Type     codec.Compact
	TypeName *string
	Docs     []string
}

type metaVariant struct {
	Name   string
	Fields []metaField
	Index  uint8
	Docs   []string
}

type metaParam struct {
	Name string
	Type *codec.Compact
}

// metaTypeDef is the TypeDef enum of the portable registry.
type metaTypeDef struct {
	Kind      TypeKind
	Fields    []metaField
	Variants  []metaVariant
	Elem      codec.Compact
	Len       uint32
	Tuple     []codec.Compact
	Primitive uint8
	BitStore  codec.Compact
	BitOrder  codec.Compact
}

func (d metaTypeDef) MarshalSCALE() ([]byte, error) {
	var body any
	switch d.Kind {
	case KindComposite:
		body = d.Fields
	case KindVariant:
		body = d.Variants
	case KindSequence, KindCompact:
		body = d.Elem
	case KindArray:
		body = struct {
			Len  uint32
			Elem codec.Compact
		}{d.Len, d.Elem}
	case KindTuple:
		body = d.Tuple
	case KindPrimitive:
		body = d.Primitive
	case KindBitSequence:
		body = struct{ Store, Order codec.Compact }{d.BitStore, d.BitOrder}
	default:
		return nil, fmt.Errorf("%w: type def %d", ErrUnsupportedMetadata, d.Kind)
	}
	enc, err := codec.Encode(body)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(d.Kind)}, enc...), nil
}

func (d *metaTypeDef) UnmarshalSCALE(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return err
	}
	*d = metaTypeDef{Kind: TypeKind(tag[0])}
	dec := codec.NewDecoder(r)
	switch d.Kind {
	case KindComposite:
		return dec.Decode(&d.Fields)
	case KindVariant:
		return dec.Decode(&d.Variants)
	case KindSequence, KindCompact:
		return dec.Decode(&d.Elem)
	case KindArray:
		if err := dec.Decode(&d.Len); err != nil {
			return err
		}
		return dec.Decode(&d.Elem)
	case KindTuple:
		return dec.Decode(&d.Tuple)
	case KindPrimitive:
		return dec.Decode(&d.Primitive)
	case KindBitSequence:
		if err := dec.Decode(&d.BitStore); err != nil {
			return err
		}
		return dec.Decode(&d.BitOrder)
	}
	return fmt.Errorf("%w: type def %d", ErrUnsupportedMetadata, tag[0])
}

type metaType struct {
	ID     codec.Compact
	Path   []string
	Params []metaParam
	Def    metaTypeDef
	Docs   []string
}

// metaStorageType is Plain(ty) or Map{hashers, key, value}.
type metaStorageType struct {
	Plain   bool
	Hashers []uint8
	Key     codec.Compact
	Value   codec.Compact
}

func (t metaStorageType) MarshalSCALE() ([]byte, error) {
	if t.Plain {
		return append([]byte{0}, codec.EncodeCompact(uint64(t.Value))...), nil
	}
	body, err := codec.Encode(struct {
		Hashers    []uint8
		Key, Value codec.Compact
	}{t.Hashers, t.Key, t.Value})
	if err != nil {
		return nil, err
	}
	return append([]byte{1}, body...), nil
}

func (t *metaStorageType) UnmarshalSCALE(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return err
	}
	*t = metaStorageType{Plain: tag[0] == 0}
	dec := codec.NewDecoder(r)
	switch tag[0] {
	case 0:
		return dec.Decode(&t.Value)
	case 1:
		if err := dec.Decode(&t.Hashers); err != nil {
			return err
		}
		if err := dec.Decode(&t.Key); err != nil {
			return err
		}
		return dec.Decode(&t.Value)
	}
	return fmt.Errorf("%w: storage entry type %d", ErrUnsupportedMetadata, tag[0])
}

type metaStorageEntry struct {
	Name     string
	Modifier uint8
	Type     metaStorageType
	Default  []byte
	Docs     []string
}

type metaStorage struct {
	Prefix  string
	Entries []metaStorageEntry
}

type metaTypeRef struct {
	Type codec.Compact
}

type metaConstant struct {
	Name  string
	Type  codec.Compact
	Value []byte
	Docs  []string
}

type metaPallet struct {
	Name      string
	Storage   *metaStorage
	Calls     *metaTypeRef
	Event     *metaTypeRef
	Constants []metaConstant
	Error     *metaTypeRef
	Index     uint8
	// Docs only exist from V15 on.
	Docs []string `scale:"-"`
}

type metaSignedExtension struct {
	Identifier       string
	Type             codec.Compact
	AdditionalSigned codec.Compact
}

type metaExtrinsicV14 struct {
	Type             codec.Compact
	Version          uint8
	SignedExtensions []metaSignedExtension
}

type metaExtrinsicV15 struct {
	Version          uint8
	AddressType      codec.Compact
	CallType         codec.Compact
	SignatureType    codec.Compact
	ExtraType        codec.Compact
	SignedExtensions []metaSignedExtension
}

// MetadataVersion reads the header of an encoded metadata blob.
func MetadataVersion(raw []byte) (uint8, error) {
	if len(raw) < 5 {
		return 0, fmt.Errorf("%w: %d bytes", ErrUnsupportedMetadata, len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw); magic != MetadataMagic {
		return 0, fmt.Errorf("%w: bad magic 0x%08x", ErrUnsupportedMetadata, magic)
	}
	return raw[4], nil
}

// FromMetadata builds a registry from V14 or V15 runtime metadata as
// returned by state_getMetadata.
func FromMetadata(raw []byte) (*Registry, error) {
	version, err := MetadataVersion(raw)
	if err != nil {
		return nil, err
	}
	if version != 14 && version != 15 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedMetadata, version)
	}
	dec := codec.NewDecoder(bytes.NewReader(raw[5:]))

	var lookup []metaType
	if err := dec.Decode(&lookup); err != nil {
		return nil, fmt.Errorf("%w: types: %v", ErrUnsupportedMetadata, err)
	}
	tt, err := typeTableFromMetadata(lookup)
	if err != nil {
		return nil, err
	}

	pallets, err := decodePallets(dec, version)
	if err != nil {
		return nil, fmt.Errorf("%w: pallets: %v", ErrUnsupportedMetadata, err)
	}

	var exts []metaSignedExtension
	if version == 14 {
		var ext metaExtrinsicV14
		err = dec.Decode(&ext)
		exts = ext.SignedExtensions
	} else {
		var ext metaExtrinsicV15
		err = dec.Decode(&ext)
		exts = ext.SignedExtensions
	}
	if err != nil {
		return nil, fmt.Errorf("%w: extrinsic: %v", ErrUnsupportedMetadata, err)
	}

	reg := newRegistry(tt, SourceMetadata)
	for _, e := range exts {
		reg.SignedExtensions = append(reg.SignedExtensions, e.Identifier)
	}
	for _, mp := range pallets {
		p, err := palletFromMetadata(mp)
		if err != nil {
			return nil, err
		}
		if err := reg.addPallet(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func decodePallets(dec *codec.Decoder, version uint8) ([]metaPallet, error) {
	if version == 14 {
		var pallets []metaPallet
		err := dec.Decode(&pallets)
		return pallets, err
	}
	var n codec.Compact
	if err := dec.Decode(&n); err != nil {
		return nil, err
	}
	pallets := make([]metaPallet, 0, min(uint64(n), 256))
	for i := uint64(0); i < uint64(n); i++ {
		var p metaPallet
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("pallet %d: %w", i, err)
		}
		if err := dec.Decode(&p.Docs); err != nil {
			return nil, fmt.Errorf("pallet %s docs: %w", p.Name, err)
		}
		pallets = append(pallets, p)
	}
	return pallets, nil
}

func typeTableFromMetadata(lookup []metaType) (*TypeTable, error) {
	tt := newTypeTable()
	for _, mt := range lookup {
		def := &TypeDef{ID: int(mt.ID), Path: mt.Path, Kind: mt.Def.Kind}
		switch mt.Def.Kind {
		case KindComposite:
			def.Fields = fieldsFromMetadata(mt.Def.Fields)
		case KindVariant:
			for _, v := range mt.Def.Variants {
				def.Variants = append(def.Variants, Variant{
					Name:   v.Name,
					Index:  v.Index,
					Fields: fieldsFromMetadata(v.Fields),
					Docs:   v.Docs,
				})
			}
		case KindSequence, KindCompact:
			def.Elem = int(mt.Def.Elem)
		case KindArray:
			def.Elem, def.Len = int(mt.Def.Elem), mt.Def.Len
		case KindTuple:
			for _, t := range mt.Def.Tuple {
				def.Tuple = append(def.Tuple, int(t))
			}
		case KindPrimitive:
			if int(mt.Def.Primitive) >= len(primitiveCodes) {
				return nil, fmt.Errorf("%w: primitive %d", ErrUnsupportedMetadata, mt.Def.Primitive)
			}
			def.Primitive = primitiveCodes[mt.Def.Primitive]
		case KindBitSequence:
			def.BitStore = int(mt.Def.BitStore)
		}
		tt.add(def)
	}
	return tt, nil
}

func fieldsFromMetadata(in []metaField) []Field {
	out := make([]Field, 0, len(in))
	for _, f := range in {
		field := Field{Type: int(f.Type)}
		if f.Name != nil {
			field.Name = *f.Name
		}
		if f.TypeName != nil {
			field.TypeName = *f.TypeName
		}
		out = append(out, field)
	}
	return out
}

func palletFromMetadata(mp metaPallet) (*Pallet, error) {
	p := &Pallet{
		Name:      mp.Name,
		Index:     mp.Index,
		CallType:  typeRef(mp.Calls),
		EventType: typeRef(mp.Event),
		ErrorType: typeRef(mp.Error),
		Docs:      mp.Docs,
	}
	for _, c := range mp.Constants {
		p.Constants = append(p.Constants, Constant{Name: c.Name, Type: int(c.Type), Value: c.Value})
	}
	if mp.Storage == nil {
		return p, nil
	}
	p.StoragePrefix = mp.Storage.Prefix
	for _, e := range mp.Storage.Entries {
		entry := StorageEntry{
			Name:      e.Name,
			Optional:  e.Modifier == 0,
			KeyType:   -1,
			ValueType: int(e.Type.Value),
			Default:   e.Default,
			Docs:      e.Docs,
		}
		if !e.Type.Plain {
			entry.KeyType = int(e.Type.Key)
			for _, h := range e.Type.Hashers {
				if int(h) >= len(hasherNames) {
					return nil, fmt.Errorf("%w: %s.%s hasher %d", ErrUnsupportedMetadata, mp.Name, e.Name, h)
				}
				entry.Hashers = append(entry.Hashers, Hasher(h))
			}
		}
		p.Storage = append(p.Storage, entry)
	}
	return p, nil
}

func typeRef(r *metaTypeRef) int {
	if r == nil {
		return -1
	}
	return int(r.Type)
}
