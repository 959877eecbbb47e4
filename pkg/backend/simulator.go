// Package backend provides the model-inference boundary. The engine
// treats it as an opaque function from parameters to image bytes plus
// timing metadata; this package ships a deterministic simulator standing
// in for a real diffusion pipeline.
package backend

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"time"

	"renderflow/pkg/core"
)

// DefaultModel is used when the requested model is unknown, mirroring
// the fallback behavior of checkpoint loaders.
const DefaultModel = "stable-diffusion-v1-5"

// Simulator renders deterministic PNG noise seeded by the request seed.
// It honors cooperative cancellation between steps, which is the
// contract the engine relies on.
type Simulator struct {
	// StepDelay is the simulated duration of one inference step.
	StepDelay time.Duration

	// Catalog lists the models the simulator claims to serve.
	Catalog []string
}

// NewSimulator creates a simulator with a small default catalog.
func NewSimulator(stepDelay time.Duration) *Simulator {
	return &Simulator{
		StepDelay: stepDelay,
		Catalog: []string{
			DefaultModel,
			"stable-diffusion-2-1",
			"stable-diffusion-xl-base-1.0",
		},
	}
}

// Models returns the available model identifiers.
func (s *Simulator) Models() []string {
	out := make([]string, len(s.Catalog))
	copy(out, s.Catalog)
	return out
}

// Generate produces the artifact for the given parameters, invoking
// onStep after each completed step. The context is checked between
// steps; a canceled context aborts without producing an artifact.
func (s *Simulator) Generate(ctx context.Context, params core.GenerationParams, onStep func(step, total int)) (*core.Artifact, error) {
	start := time.Now()

	seed := params.Seed
	if seed < 0 {
		seed = rand.Int63()
	}

	model := s.resolveModel(params.Model)
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < params.Steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.StepDelay):
		}
		if onStep != nil {
			onStep(i+1, params.Steps)
		}
	}

	data, err := renderPNG(rng, params.Width, params.Height)
	if err != nil {
		return nil, err
	}

	return &core.Artifact{
		Data:    data,
		Model:   model,
		Seed:    seed,
		Elapsed: time.Since(start),
	}, nil
}

func (s *Simulator) resolveModel(name string) string {
	if name == "" {
		return DefaultModel
	}
	for _, m := range s.Catalog {
		if m == name {
			return m
		}
	}
	return DefaultModel
}

func renderPNG(rng *rand.Rand, width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := color.RGBA{
		R: uint8(rng.Intn(256)),
		G: uint8(rng.Intn(256)),
		B: uint8(rng.Intn(256)),
		A: 255,
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: base.R + uint8(rng.Intn(32)),
				G: base.G + uint8(rng.Intn(32)),
				B: base.B + uint8(rng.Intn(32)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
