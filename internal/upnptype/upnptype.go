// SPDX-License-Identifier: MIT

// Package upnptype implements the typed UPnP state-variable system: a
// closed set of wire types with parse, cast, compare, and range-check
// operations, plus a StateValue wrapper enforcing allowed-value, range,
// and step constraints before a mutation is accepted.
package upnptype

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidValue        = errors.New("upnptype: invalid value")
	ErrOutOfRange          = errors.New("upnptype: value out of range")
	ErrConstraintViolation = errors.New("upnptype: constraint violation")
)

// TypeTag enumerates the closed set of UPnP wire types.
type TypeTag int

const (
	TypeUI1 TypeTag = iota
	TypeUI2
	TypeUI4
	TypeI1
	TypeI2
	TypeI4
	TypeR4
	TypeR8
	TypeFixed14_4
	TypeBoolean
	TypeChar
	TypeString
	TypeBinBase64
	TypeBinHex
	TypeDate
	TypeDateTime
	TypeDateTimeTZ
	TypeTime
	TypeTimeTZ
	TypeUUID
	TypeURI
)

func (t TypeTag) String() string {
	switch t {
	case TypeUI1:
		return "ui1"
	case TypeUI2:
		return "ui2"
	case TypeUI4:
		return "ui4"
	case TypeI1:
		return "i1"
	case TypeI2:
		return "i2"
	case TypeI4:
		return "i4"
	case TypeR4:
		return "r4"
	case TypeR8:
		return "r8"
	case TypeFixed14_4:
		return "fixed.14.4"
	case TypeBoolean:
		return "boolean"
	case TypeChar:
		return "char"
	case TypeString:
		return "string"
	case TypeBinBase64:
		return "bin.base64"
	case TypeBinHex:
		return "bin.hex"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "dateTime"
	case TypeDateTimeTZ:
		return "dateTime.tz"
	case TypeTime:
		return "time"
	case TypeTimeTZ:
		return "time.tz"
	case TypeUUID:
		return "uuid"
	case TypeURI:
		return "uri"
	default:
		return "unknown"
	}
}

var intTypes = map[TypeTag][2]int64{
	TypeUI1: {0, math.MaxUint8},
	TypeUI2: {0, math.MaxUint16},
	TypeUI4: {0, math.MaxUint32},
	TypeI1:  {math.MinInt8, math.MaxInt8},
	TypeI2:  {math.MinInt16, math.MaxInt16},
	TypeI4:  {math.MinInt32, math.MaxInt32},
}

// Value is the canonical in-memory representation of a parsed/cast
// StateValue payload. Exactly one field is meaningful, selected by Type.
type Value struct {
	Type TypeTag

	Int    int64
	Float  float64
	Fixed  int64 // fixed.14.4 stored as value*10000
	Bool   bool
	Str    string
	Bin    []byte
	Time   time.Time
	HasTZ  bool
}

// Range describes an inclusive interval; Min/Max are normalized so Min <= Max.
type Range struct {
	Min, Max float64
}

func NewRange(a, b float64) Range {
	if a > b {
		a, b = b, a
	}
	return Range{Min: a, Max: b}
}

// Parse converts a textual wire form into a canonical Value.
func Parse(t TypeTag, wire string) (Value, error) {
	switch t {
	case TypeUI1, TypeUI2, TypeUI4, TypeI1, TypeI2, TypeI4:
		n, err := strconv.ParseInt(strings.TrimSpace(wire), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s is not an integer: %v", ErrInvalidValue, wire, err)
		}
		return Cast(t, n)
	case TypeR4, TypeR8:
		f, err := strconv.ParseFloat(strings.TrimSpace(wire), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s is not a float: %v", ErrInvalidValue, wire, err)
		}
		return Value{Type: t, Float: f}, nil
	case TypeFixed14_4:
		f, err := strconv.ParseFloat(strings.TrimSpace(wire), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s is not fixed.14.4: %v", ErrInvalidValue, wire, err)
		}
		return Value{Type: t, Fixed: int64(math.Round(f * 10000))}, nil
	case TypeBoolean:
		switch strings.TrimSpace(wire) {
		case "1", "true", "yes":
			return Value{Type: t, Bool: true}, nil
		case "0", "false", "no", "":
			return Value{Type: t, Bool: false}, nil
		default:
			return Value{}, fmt.Errorf("%w: %s is not boolean", ErrInvalidValue, wire)
		}
	case TypeChar:
		if len([]rune(wire)) != 1 {
			return Value{}, fmt.Errorf("%w: %q is not a single character", ErrInvalidValue, wire)
		}
		return Value{Type: t, Str: wire}, nil
	case TypeString, TypeURI:
		return Value{Type: t, Str: wire}, nil
	case TypeUUID:
		if !looksLikeUUID(wire) {
			return Value{}, fmt.Errorf("%w: %q is not a uuid", ErrInvalidValue, wire)
		}
		return Value{Type: t, Str: wire}, nil
	case TypeBinBase64:
		b, err := base64.StdEncoding.DecodeString(wire)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid base64: %v", ErrInvalidValue, err)
		}
		return Value{Type: t, Bin: b}, nil
	case TypeBinHex:
		b, err := hex.DecodeString(wire)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid hex: %v", ErrInvalidValue, err)
		}
		return Value{Type: t, Bin: b}, nil
	case TypeDate:
		tm, err := time.Parse("2006-01-02", wire)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid date: %v", ErrInvalidValue, err)
		}
		return Value{Type: t, Time: tm}, nil
	case TypeTime, TypeTimeTZ:
		layout := "15:04:05"
		hasTZ := t == TypeTimeTZ
		if hasTZ {
			layout = "15:04:05Z07:00"
		}
		tm, err := time.Parse(layout, wire)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid time: %v", ErrInvalidValue, err)
		}
		return Value{Type: t, Time: tm, HasTZ: hasTZ}, nil
	case TypeDateTime, TypeDateTimeTZ:
		hasTZ := t == TypeDateTimeTZ
		layout := time.RFC3339
		if !hasTZ {
			layout = "2006-01-02T15:04:05"
		}
		tm, err := time.Parse(layout, wire)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid dateTime: %v", ErrInvalidValue, err)
		}
		return Value{Type: t, Time: tm, HasTZ: hasTZ}, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, t)
	}
}

// Cast coerces a native Go input into the declared type with overflow checks.
func Cast(t TypeTag, in any) (Value, error) {
	if bounds, ok := intTypes[t]; ok {
		var n int64
		switch v := in.(type) {
		case int64:
			n = v
		case int:
			n = int64(v)
		case float64:
			n = int64(v)
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			n = parsed
		default:
			return Value{}, fmt.Errorf("%w: cannot cast %T to %s", ErrInvalidValue, in, t)
		}
		if n < bounds[0] || n > bounds[1] {
			return Value{}, fmt.Errorf("%w: %d outside %s bounds [%d,%d]", ErrOutOfRange, n, t, bounds[0], bounds[1])
		}
		return Value{Type: t, Int: n}, nil
	}

	switch t {
	case TypeR4, TypeR8:
		f, err := toFloat(in)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Float: f}, nil
	case TypeBoolean:
		switch v := in.(type) {
		case bool:
			return Value{Type: t, Bool: v}, nil
		case string:
			return Parse(t, v)
		default:
			return Value{}, fmt.Errorf("%w: cannot cast %T to boolean", ErrInvalidValue, in)
		}
	case TypeString, TypeURI, TypeUUID, TypeChar:
		s, ok := in.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: cannot cast %T to %s", ErrInvalidValue, in, t)
		}
		return Parse(t, s)
	default:
		s, ok := in.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: cannot cast %T to %s", ErrInvalidValue, in, t)
		}
		return Parse(t, s)
	}
}

func toFloat(in any) (float64, error) {
	switch v := in.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: cannot cast %T to float", ErrInvalidValue, in)
	}
}

// Compare returns -1, 0, or 1 for a total order over two values of the
// same type. Binary values compare lexicographically; dates/times as
// instants.
func Compare(a, b Value) (int, error) {
	if a.Type != b.Type {
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrInvalidValue, a.Type, b.Type)
	}
	switch a.Type {
	case TypeUI1, TypeUI2, TypeUI4, TypeI1, TypeI2, TypeI4:
		return cmpInt64(a.Int, b.Int), nil
	case TypeR4, TypeR8:
		return cmpFloat64(a.Float, b.Float), nil
	case TypeFixed14_4:
		return cmpInt64(a.Fixed, b.Fixed), nil
	case TypeBoolean:
		return cmpBool(a.Bool, b.Bool), nil
	case TypeBinBase64, TypeBinHex:
		return strings.Compare(string(a.Bin), string(b.Bin)), nil
	case TypeDate, TypeTime, TypeTimeTZ, TypeDateTime, TypeDateTimeTZ:
		switch {
		case a.Time.Before(b.Time):
			return -1, nil
		case a.Time.After(b.Time):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return strings.Compare(a.Str, b.Str), nil
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

// InRange reports whether v falls within the inclusive range, for
// numeric types only.
func InRange(v Value, r Range) bool {
	var n float64
	switch v.Type {
	case TypeUI1, TypeUI2, TypeUI4, TypeI1, TypeI2, TypeI4:
		n = float64(v.Int)
	case TypeR4, TypeR8:
		n = v.Float
	case TypeFixed14_4:
		n = float64(v.Fixed) / 10000
	default:
		return true
	}
	return n >= r.Min && n <= r.Max
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHexDigit(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
