// Package value implements the tagged-variant row value type called for by
// spec.md §9's design note, replacing an untyped map[string]interface{} for
// change-record column data.
package value

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates which field of a Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindDecimal
	KindTime
)

// Value is a single column's post-image (or pre-image, for deletes) value.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	i int64
	f float64
	s string
	b []byte
	d decimal.Decimal
	t time.Time
}

func Null() Value                    { return Value{Kind: KindNull} }
func Int(v int64) Value              { return Value{Kind: KindInt, i: v} }
func Float(v float64) Value          { return Value{Kind: KindFloat, f: v} }
func String(v string) Value          { return Value{Kind: KindString, s: v} }
func Bytes(v []byte) Value           { return Value{Kind: KindBytes, b: v} }
func Decimal(v decimal.Decimal) Value { return Value{Kind: KindDecimal, d: v} }
func Time(v time.Time) Value         { return Value{Kind: KindTime, t: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) Int() int64              { return v.i }
func (v Value) Float() float64          { return v.f }
func (v Value) String() string          { return v.s }
func (v Value) Bytes() []byte           { return v.b }
func (v Value) Decimal() decimal.Decimal { return v.d }
func (v Value) Time() time.Time         { return v.t }

// Hex returns the lowercase-hex encoding of a Value's bytes, or the value
// unchanged if it is already a string or is null. Applying Hex twice to the
// same encoded string is idempotent: once a Value carries KindString it is
// left alone on a second call (spec.md §8 property 2).
func (v Value) Hex() Value {
	switch v.Kind {
	case KindNull, KindString:
		return v
	case KindBytes:
		return String(hex.EncodeToString(v.b))
	default:
		return String(hex.EncodeToString([]byte(fmt.Sprintf("%v", v.Native()))))
	}
}

// Native returns the value as a plain Go type, for callers (SQL driver args,
// CSV projection fallbacks) that don't need the variant discrimination.
func (v Value) Native() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.b
	case KindDecimal:
		return v.d
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// FromNative wraps a value produced by a SQL driver (canal row images come
// back as interface{}) into the tagged variant.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case int64:
		return Int(t)
	case int32:
		return Int(int64(t))
	case int:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []byte:
		return Bytes(t)
	case string:
		return String(t)
	case time.Time:
		return Time(t)
	case decimal.Decimal:
		return Decimal(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
