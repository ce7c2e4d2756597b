package safetygov

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/exchange"
)

type fakeGateway struct {
	exchange.Gateway
	ratio float64
	err   error
}

func (f *fakeGateway) GetMarginSafety(ctx context.Context) (float64, error) {
	return f.ratio, f.err
}

func TestGovernor_ProbeBoundary(t *testing.T) {
	g := New(1.15)

	ratio, tripped, err := g.Probe(context.Background(), &fakeGateway{ratio: 1.15})
	require.NoError(t, err)
	assert.Equal(t, 1.15, ratio)
	assert.True(t, tripped, "ratio == threshold must trip")

	ratio, tripped, err = g.Probe(context.Background(), &fakeGateway{ratio: 1.16})
	require.NoError(t, err)
	assert.Equal(t, 1.16, ratio)
	assert.False(t, tripped, "ratio just above threshold must not trip")
}

func TestGovernor_DefaultThreshold(t *testing.T) {
	g := New(0)
	assert.Equal(t, DefaultThreshold, g.Threshold())
}
