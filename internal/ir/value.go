package ir

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the value kinds allowed in canonical JSON.
// There is no float kind. Decimals are encoded as strings.
type Value interface {
	irValue()
}

// Null is the JSON null value. Used where an optional input is absent.
type Null struct{}

func (Null) irValue() {}

// String is a string value.
type String string

func (String) irValue() {}

// Int is an integer value.
type Int int64

func (Int) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object maps string keys to values. Iterate with SortedKeys.
type Object map[string]Value

func (Object) irValue() {}

// StringOrNull returns Null for an empty string.
func StringOrNull(s string) Value {
	if s == "" {
		return Null{}
	}
	return String(s)
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// sort.Strings orders by UTF-8 bytes, which differs for supplementary planes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
