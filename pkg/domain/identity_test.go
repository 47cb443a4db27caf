package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDIsUniqueAndNonZero(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.False(t, a.IsZero())
	assert.False(t, b.IsZero())
	assert.NotEqual(t, a, b)
	assert.Equal(t, string(a), a.String())
}

func TestEntityIDZero(t *testing.T) {
	var id EntityID
	assert.True(t, id.IsZero())
	assert.Equal(t, "", id.String())
}
