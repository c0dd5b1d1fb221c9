// Package models contains shared data models used across the captioner codebase.
package models

import (
	"context"
	"image"
)

// Device is the compute device a model is placed on.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceGPU  Device = "gpu"
	DeviceCPU  Device = "cpu"
)

// CaptionLength selects how detailed a generated caption is.
type CaptionLength string

const (
	CaptionShort  CaptionLength = "short"
	CaptionNormal CaptionLength = "normal"
)

// VisionEngine is the interface every inference backend implements.
// Workers never call an engine directly; they go through model.Handle,
// which owns loading and serializes access.
type VisionEngine interface {
	// Load makes the model resident on the requested device and returns the
	// device it actually landed on. DeviceAuto lets the engine choose.
	Load(ctx context.Context, device Device) (Device, error)
	// Caption describes the image at the requested length.
	Caption(ctx context.Context, img image.Image, length CaptionLength) (string, error)
	// Query answers a free-text question about the image.
	Query(ctx context.Context, img image.Image, question string) (string, error)
	// Name returns the engine identifier (e.g., "ollama").
	Name() string
	// Model returns the model identifier served by the engine.
	Model() string
}
