package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/BananaStudio/internal/imagegen"
	"github.com/digkill/BananaStudio/internal/models"
)

type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

type ImageArchiver interface {
	Archive(ctx context.Context, owner, sourceURL string) (string, error)
}

// bookkeepingTimeout bounds charging and archival once the provider has answered.
const bookkeepingTimeout = 2 * time.Minute

type GenerationService struct {
	credits     *CreditService
	generator   ImageGenerator
	archiver    ImageArchiver
	generations GenerationStore
	cost        int
	log         *slog.Logger
}

// GenerationResult keeps the provider URL and, when archival worked, the durable one.
type GenerationResult struct {
	TransientURL string
	DurableURL   *string
	Text         string
	Provider     string
	CreditsUsed  int
	GenerationID int64
}

// ImageURL prefers the archived copy.
func (r *GenerationResult) ImageURL() string {
	if r.DurableURL != nil {
		return *r.DurableURL
	}
	return r.TransientURL
}

// NewGenerationService wires the pipeline. archiver may be nil when storage is not configured.
func NewGenerationService(credits *CreditService, generator ImageGenerator, archiver ImageArchiver, generations GenerationStore, cost int, log *slog.Logger) *GenerationService {
	return &GenerationService{
		credits:     credits,
		generator:   generator,
		archiver:    archiver,
		generations: generations,
		cost:        cost,
		log:         log,
	}
}

// Generate checks credits, calls the provider, charges on success and archives the image.
// Guests are never charged. Archival and bookkeeping failures after a successful
// generation are logged and never fail the request.
func (s *GenerationService) Generate(ctx context.Context, id models.Identity, req imagegen.Request) (*GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cost := 0
	if id.Authenticated() {
		cost = s.cost
		ok, available, err := s.credits.CheckSufficient(ctx, id.UserID, cost)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &InsufficientCreditsError{Required: cost, Available: available}
		}
	}

	res, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{
		TransientURL: res.ImageURL,
		Text:         res.Text,
		Provider:     res.Provider,
	}

	// The image exists now; a client hanging up must not skip the charge or the history row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if cost > 0 {
		if err := s.credits.Deduct(ctx, id.UserID, cost); err != nil {
			if errors.Is(err, ErrInsufficientCredits) {
				s.log.Warn("generation delivered without charge, balance drained concurrently", "user", id.UserID, "cost", cost)
			} else {
				s.log.Error("deduct credits after generation", "user", id.UserID, "cost", cost, "err", err)
			}
		} else {
			result.CreditsUsed = cost
		}
	}

	if result.TransientURL == "" {
		return result, nil
	}
	s.persist(ctx, id, req, result)
	return result, nil
}

func (s *GenerationService) persist(ctx context.Context, id models.Identity, req imagegen.Request, result *GenerationResult) {
	owner := id.UserID
	if owner == "" {
		owner = id.GuestID
	}
	if owner == "" {
		return
	}

	if s.archiver != nil {
		durable, err := s.archiver.Archive(ctx, owner, result.TransientURL)
		if err != nil {
			s.log.Warn("archive generation, returning provider url", "owner", owner, "err", err)
		} else {
			result.DurableURL = &durable
		}
	}

	row := &models.Generation{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Mode:        req.Mode,
		ImageURL:    result.ImageURL(),
		CreditsUsed: result.CreditsUsed,
	}
	if id.Authenticated() {
		row.UserID = &id.UserID
	} else {
		row.GuestID = &id.GuestID
	}
	if err := s.generations.Create(ctx, row); err != nil {
		s.log.Error("record generation", "owner", owner, "err", err)
		return
	}
	result.GenerationID = row.ID
}
