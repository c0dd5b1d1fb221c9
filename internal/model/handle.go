// Package model owns the process's single vision model. A Handle loads the
// engine lazily, remembers a failed load, and lets one generation run at a time.
package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kiranshivaraju/captioner/internal/config"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInference        = errors.New("inference failed")
)

// Handle wraps a VisionEngine. Create one per process and share it.
type Handle struct {
	engine    models.VisionEngine
	requested models.Device

	// sem guards both loading and generation; weight 1 means calls queue.
	sem *semaphore.Weighted

	mu      sync.RWMutex
	loaded  bool
	device  models.Device
	loadErr error

	calls atomic.Int64
}

// Stats is a point-in-time view of the handle.
type Stats struct {
	Engine string        `json:"engine"`
	Model  string        `json:"model"`
	Loaded bool          `json:"loaded"`
	Device models.Device `json:"device,omitempty"`
	Calls  int64         `json:"calls"`
}

// NewHandle returns a Handle for engine. Nothing is loaded until the first
// generation call.
func NewHandle(engine models.VisionEngine, cfg config.ModelConfig) *Handle {
	device := models.Device(cfg.Device)
	if device == "" {
		device = models.DeviceAuto
	}
	return &Handle{
		engine:    engine,
		requested: device,
		sem:       semaphore.NewWeighted(1),
	}
}

func (h *Handle) ShortCaption(ctx context.Context, img image.Image) (string, error) {
	return h.run(ctx, "short_caption", func(ctx context.Context) (string, error) {
		return h.engine.Caption(ctx, img, models.CaptionShort)
	})
}

func (h *Handle) NormalCaption(ctx context.Context, img image.Image) (string, error) {
	return h.run(ctx, "normal_caption", func(ctx context.Context) (string, error) {
		return h.engine.Caption(ctx, img, models.CaptionNormal)
	})
}

func (h *Handle) Query(ctx context.Context, img image.Image, question string) (string, error) {
	return h.run(ctx, "query", func(ctx context.Context) (string, error) {
		return h.engine.Query(ctx, img, question)
	})
}

// Device returns the device the model was loaded on, or "" before a successful load.
func (h *Handle) Device() models.Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.device
}

// Ready reports the cached load error without triggering a load. A handle
// that has not loaded yet is considered ready.
func (h *Handle) Ready(_ context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loadErr
}

func (h *Handle) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Engine: h.engine.Name(),
		Model:  h.engine.Model(),
		Loaded: h.loaded,
		Device: h.device,
		Calls:  h.calls.Load(),
	}
}

func (h *Handle) run(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	if err := h.Ready(ctx); err != nil {
		return "", err
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	if err := h.ensureLoaded(ctx); err != nil {
		return "", err
	}

	h.calls.Add(1)
	start := time.Now()
	text, err := h.call(ctx, fn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		slog.Warn("inference failed", "op", op, "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrInference, op, err)
	}
	slog.Debug("inference complete", "op", op, "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

// call runs fn, turning a panic in the engine into an error.
func (h *Handle) call(ctx context.Context, fn func(context.Context) (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn(ctx)
}

// ensureLoaded must be called with sem held.
func (h *Handle) ensureLoaded(ctx context.Context) error {
	h.mu.RLock()
	loaded, loadErr := h.loaded, h.loadErr
	h.mu.RUnlock()
	if loadErr != nil {
		return loadErr
	}
	if loaded {
		return nil
	}

	start := time.Now()
	device, err := h.load(ctx)
	if err != nil {
		// A caller giving up is not the model's fault; the next caller retries.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		wrapped := fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		h.mu.Lock()
		h.loadErr = wrapped
		h.mu.Unlock()
		slog.Error("model load failed",
			"engine", h.engine.Name(),
			"model", h.engine.Model(),
			"device", h.requested,
			"error", err,
		)
		return wrapped
	}

	h.mu.Lock()
	h.loaded = true
	h.device = device
	h.mu.Unlock()
	slog.Info("model loaded",
		"engine", h.engine.Name(),
		"model", h.engine.Model(),
		"device", device,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (h *Handle) load(ctx context.Context) (device models.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic during load: %v", r)
		}
	}()
	device, err = h.engine.Load(ctx, h.requested)
	if err != nil {
		return "", err
	}
	if device == models.DeviceAuto || device == "" {
		device = models.DeviceCPU
	}
	if h.requested == models.DeviceGPU && device != models.DeviceGPU {
		return "", fmt.Errorf("gpu requested, engine placed model on %s", device)
	}
	return device, nil
}
