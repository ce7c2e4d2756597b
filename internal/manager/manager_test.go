package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/coordinator"
)

func TestManager_NextBotIDSkipsRegistered(t *testing.T) {
	m := New(nil, coordinator.New(), nil, nil, nil, false)

	require.Equal(t, "dynamic-volume-01", m.nextBotID("dynamic", "volume"))

	m.bots["dynamic-volume-01"] = &runningBot{}
	m.bots["dynamic-volume-02"] = &runningBot{}
	require.Equal(t, "dynamic-volume-03", m.nextBotID("dynamic", "volume"))

	// A different discriminator starts its own sequence.
	require.Equal(t, "static-XRPUSDT-01", m.nextBotID("static", "XRPUSDT"))
}

func TestManager_CensusEmptyFleet(t *testing.T) {
	m := New(nil, coordinator.New(), nil, nil, nil, false)
	census := m.Census()
	require.Empty(t, census.Bots)
	require.Empty(t, census.Search.CurrentSearcher)
}

func TestManager_StopUnknownBotErrors(t *testing.T) {
	m := New(nil, coordinator.New(), nil, nil, nil, false)
	err := m.StopBot(context.Background(), "nope")
	require.Error(t, err)
}
