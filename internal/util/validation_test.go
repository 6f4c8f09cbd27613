package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("0b6f2c8e-9a41-4c55-8d7e-2f0c1a9b3e77"))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID("0B6F2C8E-9A41-4C55-8D7E-2F0C1A9B3E77"))
}

func TestIsValidEnum(t *testing.T) {
	values := []string{"development", "production"}
	assert.True(t, IsValidEnum("development", values))
	assert.True(t, IsValidEnum("", values))
	assert.False(t, IsValidEnum("staging", values))
}

func TestFilterUUIDs(t *testing.T) {
	a := "0b6f2c8e-9a41-4c55-8d7e-2f0c1a9b3e77"
	b := "1c7f3d9f-0b52-4d66-9e8f-3a1d2b0c4f88"

	assert.Equal(t, []string{a, b}, FilterUUIDs([]string{a, "nope", b, a, ""}))
	assert.Empty(t, FilterUUIDs(nil))
}
