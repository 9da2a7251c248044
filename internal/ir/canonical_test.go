package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null{}, `null`},
		{"nil", nil, `null`},
		{"string", String("venue-1"), `"venue-1"`},
		{"int", Int(-42), `-42`},
		{"true", Bool(true), `true`},
		{"false", Bool(false), `false`},
		{"empty array", Array{}, `[]`},
		{"empty object", Object{}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	obj := Object{
		"venue":  String("hall"),
		"end":    String("12:00"),
		"start":  String("09:00"),
		"ratio":  Int(3),
		"nested": Object{"b": Int(2), "a": Int(1)},
	}
	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"end":"12:00","nested":{"a":1,"b":2},"ratio":3,"start":"09:00","venue":"hall"}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(String("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_EscapesControlCharacters(t *testing.T) {
	got, err := MarshalCanonical(String("a\"b\\c\nd\x01"))
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd\u0001"`, string(got))
}

func TestMarshalCanonical_NFCNormalises(t *testing.T) {
	// "é" as e + combining acute vs precomposed U+00E9
	decomposed, err := MarshalCanonical(String("Cafe\u0301"))
	require.NoError(t, err)
	composed, err := MarshalCanonical(String("Caf\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	got, err := MarshalCanonical(String("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+FF61 sorts after U+1F600 in UTF-8 byte order but before it in UTF-16
	obj := Object{"\U0001F600": Int(1), "\uFF61": Int(2)}
	assert.Equal(t, []string{"\U0001F600", "\uFF61"}, obj.SortedKeys())
}
