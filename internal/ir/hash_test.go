package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	v := Object{"rule_id": String("r1"), "date": String("2026-10-20")}

	h1, err := Hash(DomainProjection, v)
	require.NoError(t, err)
	h2, err := Hash(DomainProjection, v)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestHash_DomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t,
		HashWithDomain("loom/projection/v1", data),
		HashWithDomain("loom/projection/v2", data))
}

func TestHash_NullDiffersFromEmptyString(t *testing.T) {
	h1, err := Hash(DomainProjection, Object{"exception": Null{}})
	require.NoError(t, err)
	h2, err := Hash(DomainProjection, Object{"exception": String("")})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestStringOrNull(t *testing.T) {
	assert.Equal(t, Null{}, StringOrNull(""))
	assert.Equal(t, String("x"), StringOrNull("x"))
}
