package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultBufferPolicy("u1").Validate())

	bad := []*BufferPolicy{
		{PreMinutes: -1, PostMinutes: 10, MaxBufferMinutes: 60},
		{PreMinutes: 10, PostMinutes: 10, MaxBufferMinutes: 0},
		{PreMinutes: 90, PostMinutes: 10, MaxBufferMinutes: 60},
	}
	for _, p := range bad {
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	}
}
