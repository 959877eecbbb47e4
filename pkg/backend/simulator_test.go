package backend

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/pkg/core"
)

func params(seed int64) core.GenerationParams {
	return core.GenerationParams{
		Prompt: "a mountain lake",
		Model:  DefaultModel,
		Width:  16,
		Height: 16,
		Steps:  3,
		Seed:   seed,
	}
}

func TestGenerateDeterministic(t *testing.T) {
	sim := NewSimulator(0)
	ctx := context.Background()

	first, err := sim.Generate(ctx, params(42), nil)
	require.NoError(t, err)
	second, err := sim.Generate(ctx, params(42), nil)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first.Data, second.Data), "same seed must produce identical pixels")
	assert.Equal(t, int64(42), first.Seed)
	assert.Equal(t, DefaultModel, first.Model)

	other, err := sim.Generate(ctx, params(43), nil)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first.Data, other.Data), "different seeds must diverge")
}

func TestGenerateRandomSeed(t *testing.T) {
	sim := NewSimulator(0)

	artifact, err := sim.Generate(context.Background(), params(-1), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, artifact.Seed, int64(0), "a negative seed requests a fresh random one")
	assert.NotEmpty(t, artifact.Data)
}

func TestGenerateStepCallbacks(t *testing.T) {
	sim := NewSimulator(0)

	var steps []int
	_, err := sim.Generate(context.Background(), params(7), func(step, total int) {
		steps = append(steps, step)
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, steps)
}

func TestGenerateCancellation(t *testing.T) {
	sim := NewSimulator(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := sim.Generate(ctx, params(7), nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("generate did not observe cancellation")
	}
}

func TestResolveModelFallback(t *testing.T) {
	sim := NewSimulator(0)

	p := params(1)
	p.Model = "no-such-checkpoint"
	artifact, err := sim.Generate(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, artifact.Model)

	p.Model = ""
	artifact, err = sim.Generate(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, artifact.Model)
}

func TestModelsCopy(t *testing.T) {
	sim := NewSimulator(0)
	models := sim.Models()
	require.NotEmpty(t, models)
	models[0] = "mutated"
	assert.Equal(t, DefaultModel, sim.Models()[0])
}
