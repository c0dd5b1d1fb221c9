// Package ollama implements models.VisionEngine against an Ollama server
// hosting a multimodal model such as moondream.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/kiranshivaraju/captioner/internal/config"
	"github.com/kiranshivaraju/captioner/internal/imaging"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

const (
	shortCaptionPrompt  = "Write a short, one sentence caption for this image."
	normalCaptionPrompt = "Describe this image in detail."
	imageQuality        = 90
)

// Engine implements models.VisionEngine using the Ollama HTTP API.
type Engine struct {
	client    *api.Client
	model     string
	keepAlive time.Duration

	mu      sync.RWMutex
	options map[string]any
}

// NewEngine creates an Engine for the configured server and model.
// No request is made until Load.
func NewEngine(cfg config.OllamaConfig) (*Engine, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	return &Engine{
		client:    api.NewClient(base, http.DefaultClient),
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		options:   map[string]any{"temperature": 0},
	}, nil
}

func (e *Engine) Name() string { return "ollama" }

func (e *Engine) Model() string { return e.model }

// Load checks that the model exists and accepts images, pulls it into
// memory with an empty prompt, then inspects the running model to learn
// whether any of it landed in VRAM.
func (e *Engine) Load(ctx context.Context, device models.Device) (models.Device, error) {
	show, err := e.client.Show(ctx, &api.ShowRequest{Model: e.model})
	if err != nil {
		return "", e.classify(err)
	}
	if !hasVision(show) {
		return "", fmt.Errorf("%w: %s", ErrNoVision, e.model)
	}

	opts := map[string]any{"temperature": 0}
	if device == models.DeviceCPU {
		opts["num_gpu"] = 0
	}

	stream := false
	warmup := &api.GenerateRequest{
		Model:     e.model,
		Stream:    &stream,
		KeepAlive: e.keepAliveDuration(),
		Options:   opts,
	}
	if err := e.client.Generate(ctx, warmup, func(api.GenerateResponse) error { return nil }); err != nil {
		return "", e.classify(err)
	}

	placed := models.DeviceCPU
	running, err := e.client.ListRunning(ctx)
	if err != nil {
		return "", e.classify(err)
	}
	for _, m := range running.Models {
		if sameModel(m.Name, e.model) || sameModel(m.Model, e.model) {
			if m.SizeVRAM > 0 {
				placed = models.DeviceGPU
			}
			break
		}
	}

	if device == models.DeviceGPU && placed != models.DeviceGPU {
		return "", fmt.Errorf("%w: %s was loaded without GPU offload", ErrDeviceUnavailable, e.model)
	}

	e.mu.Lock()
	e.options = opts
	e.mu.Unlock()

	return placed, nil
}

func (e *Engine) Caption(ctx context.Context, img image.Image, length models.CaptionLength) (string, error) {
	prompt := normalCaptionPrompt
	if length == models.CaptionShort {
		prompt = shortCaptionPrompt
	}
	return e.generate(ctx, img, prompt)
}

func (e *Engine) Query(ctx context.Context, img image.Image, question string) (string, error) {
	return e.generate(ctx, img, question)
}

func (e *Engine) generate(ctx context.Context, img image.Image, prompt string) (string, error) {
	data, err := imaging.EncodeJPEG(img, imageQuality)
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	e.mu.RLock()
	opts := e.options
	e.mu.RUnlock()

	stream := false
	req := &api.GenerateRequest{
		Model:     e.model,
		Prompt:    prompt,
		Images:    []api.ImageData{data},
		Stream:    &stream,
		KeepAlive: e.keepAliveDuration(),
		Options:   opts,
	}

	var out strings.Builder
	err = e.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", e.classify(err)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (e *Engine) keepAliveDuration() *api.Duration {
	if e.keepAlive <= 0 {
		return nil
	}
	return &api.Duration{Duration: e.keepAlive}
}

// classify maps client errors onto package sentinels, leaving context
// errors untouched so callers can tell a deadline from a failure.
func (e *Engine) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se api.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, e.model)
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("ollama: %w", err)
}

// hasVision reports whether the model advertises image input. Servers that
// predate capability reporting send none; those are given the benefit of the doubt.
func hasVision(show *api.ShowResponse) bool {
	if len(show.Capabilities) == 0 {
		return true
	}
	for _, c := range show.Capabilities {
		if string(c) == "vision" {
			return true
		}
	}
	return false
}

func sameModel(a, b string) bool {
	return withTag(a) == withTag(b)
}

func withTag(name string) string {
	if name == "" || strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}

var _ models.VisionEngine = (*Engine)(nil)
