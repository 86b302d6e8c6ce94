package imagegen

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digkill/BananaStudio/internal/models"
)

// Dispatcher selects exactly one provider per request.
type Dispatcher struct {
	seedream Provider
	glm      Provider
	chat     Provider
	log      *slog.Logger
}

func NewDispatcher(seedream, glm, chat Provider, log *slog.Logger) *Dispatcher {
	return &Dispatcher{seedream: seedream, glm: glm, chat: chat, log: log}
}

// Route applies the routing table, first match wins:
// doubao-seedream-4.5 → seedream, glm-image → glm, anything else → chat completions
// (image output for text-to-image, vision prompt for image-to-image).
func (d *Dispatcher) Route(req Request) Provider {
	switch req.Model {
	case models.ModelSeedream:
		return d.seedream
	case models.ModelGLMImage:
		return d.glm
	default:
		return d.chat
	}
}

// Generate validates the request, calls the routed provider and normalizes failures:
// anything that is not an input, configuration, timeout or cancellation error becomes a ProviderError.
func (d *Dispatcher) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider := d.Route(req)
	if provider == nil {
		return nil, ErrNotConfigured
	}

	result, err := provider.Generate(ctx, req)
	if err != nil {
		if d.log != nil {
			d.log.Error("generation failed", "provider", provider.Name(), "model", req.Model, "mode", req.Mode, "err", err)
		}
		var perr *ProviderError
		switch {
		case errors.As(err, &perr),
			errors.Is(err, ErrNotConfigured),
			errors.Is(err, ErrTimeout),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, &ProviderError{Provider: provider.Name(), Message: "generation failed", Err: err}
		}
	}
	if result == nil || (result.ImageURL == "" && result.Text == "") {
		return nil, &ProviderError{Provider: provider.Name(), Message: "empty result"}
	}
	if result.Provider == "" {
		result.Provider = provider.Name()
	}
	return result, nil
}
