package engine

import (
	"fmt"

	"github.com/kiranshivaraju/captioner/internal/config"
	"github.com/kiranshivaraju/captioner/internal/engine/mock"
	"github.com/kiranshivaraju/captioner/internal/engine/ollama"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// NewEngine constructs the inference engine named in config.
// Called once per process; the engine is then owned by a model.Handle.
func NewEngine(cfg config.ModelConfig) (models.VisionEngine, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewEngine(cfg.Ollama)
	case "mock":
		return mock.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q: must be one of ollama, mock", cfg.Provider)
	}
}
