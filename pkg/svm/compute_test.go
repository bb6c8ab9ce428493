package svm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1_000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.Equal(t, uint64(400), cm.Consumed())

	assert.ErrorIs(t, cm.Consume(601), ErrComputeExceeded)
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.Equal(t, uint64(1_000), cm.Consumed())
}

func TestComputeMeterLimits(t *testing.T) {
	assert.Equal(t, CUDefault, NewComputeMeter(0).Limit())
	assert.Equal(t, CUMax, NewComputeMeter(CUMax*2).Limit())
}

func TestRentExemptMinimum(t *testing.T) {
	// 165-byte token account.
	assert.Equal(t, uint64(2_039_280), RentExemptMinimum(165))
	assert.Equal(t, uint64(890_880), RentExemptMinimum(0))
}
