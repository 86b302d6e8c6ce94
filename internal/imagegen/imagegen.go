// Package imagegen routes generation requests to the image providers and
// normalizes their responses into a single Result.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/BananaStudio/internal/models"
)

var (
	// ErrInvalidRequest marks client input problems, reported before any provider is contacted.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrTimeout is returned when an asynchronous task does not finish within the poll budget.
	ErrTimeout = errors.New("generation timed out")
	// ErrNotConfigured is returned when the selected provider has no credentials.
	ErrNotConfigured = errors.New("provider not configured")
)

// ProviderError wraps any upstream failure: transport errors, non-2xx statuses,
// malformed payloads and explicit error fields in successful responses.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status=%d %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type Request struct {
	Prompt string      `json:"prompt"`
	Image  string      `json:"image,omitempty"`
	Mode   models.Mode `json:"mode"`
	Model  string      `json:"model"`
}

// Validate checks the fields every provider relies on. Mode defaults to text-to-image.
func (r *Request) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return fmt.Errorf("%w: no prompt provided", ErrInvalidRequest)
	}
	if r.Mode == "" {
		r.Mode = models.ModeTextToImage
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Mode == models.ModeImageToImage && strings.TrimSpace(r.Image) == "" {
		return fmt.Errorf("%w: no image provided", ErrInvalidRequest)
	}
	return nil
}

// Result is what a provider produced. ImageURL is usually short-lived; Text is
// set when the provider answered with prose instead of an image.
type Result struct {
	ImageURL string
	Text     string
	Provider string
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}
