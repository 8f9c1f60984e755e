package hashvec

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeterministic(t *testing.T) {
	p := New(32)
	ctx := context.Background()
	a, err := p.Encode(ctx, "fetch the weather report")
	require.NoError(t, err)
	b, err := p.Encode(ctx, "fetch the weather report")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeUnitNorm(t *testing.T) {
	p := New(64)
	v, err := p.Encode(context.Background(), "anything")
	require.NoError(t, err)
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestEncodeDiffersByInput(t *testing.T) {
	p := New(32)
	ctx := context.Background()
	a, err := p.Encode(ctx, "alpha")
	require.NoError(t, err)
	b, err := p.Encode(ctx, "beta")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncodeRejectsNonPositiveDim(t *testing.T) {
	p := New(0)
	_, err := p.Encode(context.Background(), "x")
	assert.Error(t, err)
}

func TestEncodeRespectsCancelledContext(t *testing.T) {
	p := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Encode(ctx, "x")
	assert.Error(t, err)
}

func TestDim(t *testing.T) {
	assert.Equal(t, 128, New(128).Dim())
}
