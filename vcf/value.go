package vcf

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind discriminates the semantic interpretations of a field value.
type Kind uint8

const (
	KindMissing Kind = iota
	KindInteger
	KindFloat
	KindCharacter
	KindString
	KindFlag
	KindList
)

// Value is the semantic interpretation of a single field value under its
// declared type and number. Values parsed from text remember their original
// spelling so rendering them reproduces the input byte for byte.
type Value struct {
	kind Kind
	raw  string
	num  int64
	fnum float64
	str  string
	list []Value
}

func MissingValue() Value {
	return Value{kind: KindMissing}
}

func IntegerValue(num int64) Value {
	return Value{kind: KindInteger, num: num}
}

func FloatValue(fnum float64) Value {
	return Value{kind: KindFloat, fnum: fnum}
}

func CharacterValue(char rune) Value {
	return Value{kind: KindCharacter, str: string(char)}
}

func StringValue(str string) Value {
	return Value{kind: KindString, str: str}
}

func FlagValue() Value {
	return Value{kind: KindFlag}
}

func ListValue(elems ...Value) Value {
	return Value{kind: KindList, list: elems}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsMissing() bool {
	return v.kind == KindMissing
}

func (v Value) AsInt() (int64, bool) {
	return v.num, v.kind == KindInteger
}

func (v Value) AsFloat() (float64, bool) {
	return v.fnum, v.kind == KindFloat
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsCharacter() (rune, bool) {
	if v.kind != KindCharacter {
		return 0, false
	}
	char, _ := utf8.DecodeRuneInString(v.str)
	return char, true
}

// Elems returns the elements of a list value, nil for any other kind.
func (v Value) Elems() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// ParseValue interprets a raw field value under its declared type and number.
// A number of A, R, G, . or a fixed count above one yields a list whose
// elements are each a scalar or missing.
func ParseValue(raw string, number Number, typ FieldType) (Value, error) {
	if typ == TypeFlag {
		if raw != "" {
			return Value{}, fmt.Errorf("%w: flag field carries value %q", ErrTypeMismatch, raw)
		}
		return Value{kind: KindFlag}, nil
	}
	if raw == "." {
		return Value{kind: KindMissing, raw: raw}, nil
	}
	if count, ok := number.Fixed(); ok && count <= 1 {
		value, err := parseScalar(raw, typ)
		if err != nil {
			return Value{}, err
		}
		value.raw = raw
		return value, nil
	}

	parts := strings.Split(raw, ",")
	elems := make([]Value, len(parts))
	for i, part := range parts {
		if part == "." {
			elems[i] = Value{kind: KindMissing, raw: part}
			continue
		}
		value, err := parseScalar(part, typ)
		if err != nil {
			return Value{}, err
		}
		value.raw = part
		elems[i] = value
	}
	return Value{kind: KindList, raw: raw, list: elems}, nil
}

func parseScalar(raw string, typ FieldType) (Value, error) {
	switch typ {
	case TypeInteger:
		num, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, raw)
		}
		return Value{kind: KindInteger, num: num}, nil
	case TypeFloat:
		fnum, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrTypeMismatch, raw)
		}
		return Value{kind: KindFloat, fnum: fnum}, nil
	case TypeCharacter:
		if utf8.RuneCountInString(raw) != 1 {
			return Value{}, fmt.Errorf("%w: %q is not a single character", ErrTypeMismatch, raw)
		}
		return Value{kind: KindCharacter, str: raw}, nil
	case TypeString:
		if raw == "" {
			return Value{}, fmt.Errorf("%w: empty string value", ErrTypeMismatch)
		}
		return Value{kind: KindString, str: raw}, nil
	}
	return Value{}, fmt.Errorf("%w: unsupported field type %q", ErrTypeMismatch, typ)
}

// Render writes the value back out as field text. Parsed values reproduce
// their input exactly, constructed values use canonical spellings.
func (v Value) Render() string {
	if v.raw != "" {
		return v.raw
	}
	switch v.kind {
	case KindMissing:
		return "."
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.fnum, 'g', -1, 64)
	case KindCharacter, KindString:
		return v.str
	case KindFlag:
		return ""
	case KindList:
		parts := make([]string, len(v.list))
		for i, elem := range v.list {
			parts[i] = elem.Render()
		}
		return strings.Join(parts, ",")
	}
	return "."
}
