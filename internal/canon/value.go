// Package canon implements the canonical byte encoding and content hashing
// described for the object store: deterministic field order, fixed-width
// integers and floats, content-hash ordering for unordered collections, and
// explicit optional-field tagging. It is the generic replacement for the
// ad hoc per-type hash functions a hand-rolled cache layer would otherwise
// need one of for every struct it wants to fingerprint.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/kittclouds/gokitt/internal/errs"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KString Kind = iota
	KInt
	KFloat
	KBool
	KRef     // reference to another object, encoded by its content hash
	KSet     // unordered collection, sorted by per-element content hash before encoding
	KSeq     // ordered collection, encoded in the given order
	KObject  // nested object: an ordered list of named fields
	KOptional
)

// Value is a tagged union representing one encodable node. Object graphs
// are built by callers (typically the recipe package) from domain structs;
// Value itself carries no knowledge of Go types.
type Value struct {
	Kind   Kind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Ref    [32]byte
	Items  []Value // KSet, KSeq
	Fields []Field // KObject
	Inner  *Value  // KOptional; nil means the field is absent
}

// Field is one named member of a KObject value, in the order it must be
// encoded (recipe-declared order, not alphabetical).
type Field struct {
	Name string
	Val  Value
}

const maxDepth = 64

// Encode serializes v per the canonical encoding rules. It returns
// InvalidEncoding on NaN floats, non-UTF-8 strings, or graphs deep enough to
// indicate an accidental cycle.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns SHA256(Encode(v)).
func Hash(v Value) ([32]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

func encode(buf *bytes.Buffer, v Value, depth int) error {
	if depth > maxDepth {
		return errs.InvalidEncoding("graph too deep, suspected cycle")
	}
	switch v.Kind {
	case KString:
		if !utf8.ValidString(v.Str) {
			return errs.InvalidEncoding("non-UTF-8 string field")
		}
		writeUint64(buf, uint64(len(v.Str)))
		buf.WriteString(v.Str)
	case KInt:
		writeInt64(buf, v.Int)
	case KFloat:
		if math.IsNaN(v.Float) {
			return errs.InvalidEncoding("NaN in hashed float field")
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Float))
		buf.Write(b[:])
	case KBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KRef:
		buf.Write(v.Ref[:])
	case KSet:
		hashed, err := hashItems(v.Items, depth)
		if err != nil {
			return err
		}
		sort.Slice(hashed, func(i, j int) bool {
			return bytes.Compare(hashed[i].hash[:], hashed[j].hash[:]) < 0
		})
		writeUint64(buf, uint64(len(hashed)))
		for _, h := range hashed {
			buf.Write(h.encoded)
		}
	case KSeq:
		writeUint64(buf, uint64(len(v.Items)))
		for _, item := range v.Items {
			if err := encode(buf, item, depth+1); err != nil {
				return err
			}
		}
	case KObject:
		for _, f := range v.Fields {
			if err := encode(buf, f.Val, depth+1); err != nil {
				return err
			}
		}
	case KOptional:
		if v.Inner == nil {
			buf.WriteByte(0x00)
			return nil
		}
		buf.WriteByte(0x01)
		return encode(buf, *v.Inner, depth+1)
	default:
		return errs.InvalidEncoding("unknown value kind")
	}
	return nil
}

type hashedItem struct {
	hash    [32]byte
	encoded []byte
}

func hashItems(items []Value, depth int) ([]hashedItem, error) {
	out := make([]hashedItem, 0, len(items))
	for _, item := range items {
		var b bytes.Buffer
		if err := encode(&b, item, depth+1); err != nil {
			return nil, err
		}
		out = append(out, hashedItem{hash: sha256.Sum256(b.Bytes()), encoded: b.Bytes()})
	}
	return out, nil
}

func writeUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, n int64) {
	writeUint64(buf, uint64(n))
}

// Constructors -- small helpers so callers rarely build a Value literal by hand.

func Str(s string) Value   { return Value{Kind: KString, Str: s} }
func Int(n int64) Value    { return Value{Kind: KInt, Int: n} }
func Float(f float64) Value { return Value{Kind: KFloat, Float: f} }
func Bool(b bool) Value    { return Value{Kind: KBool, Bool: b} }
func Ref(hash [32]byte) Value { return Value{Kind: KRef, Ref: hash} }
func Set(items ...Value) Value { return Value{Kind: KSet, Items: items} }
func Seq(items ...Value) Value { return Value{Kind: KSeq, Items: items} }
func Object(fields ...Field) Value { return Value{Kind: KObject, Fields: fields} }

// Optional wraps a present value. Absent returns the missing-field marker.
func Optional(v *Value) Value {
	if v == nil {
		return Value{Kind: KOptional, Inner: nil}
	}
	return Value{Kind: KOptional, Inner: v}
}

func F(name string, v Value) Field { return Field{Name: name, Val: v} }
