package imagegen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digkill/BananaStudio/internal/models"
)

// SeedreamClient calls the synchronous images/generations endpoint that serves Doubao Seedream.
type SeedreamClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewSeedreamClient(apiKey, baseURL, model string, httpClient *http.Client, log *slog.Logger) *SeedreamClient {
	return &SeedreamClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		log:        log,
	}
}

func (c *SeedreamClient) Name() string { return "seedream" }

type seedreamRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Image          string `json:"image,omitempty"`
	ResponseFormat string `json:"response_format"`
	Size           string `json:"size"`
	Watermark      bool   `json:"watermark"`
}

type seedreamResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

func (c *SeedreamClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload := seedreamRequest{
		Model:          c.model,
		Prompt:         req.Prompt,
		ResponseFormat: "url",
		Size:           "2K",
	}
	// The source image is only meaningful when editing.
	if req.Mode == models.ModeImageToImage && req.Image != "" {
		payload.Image = req.Image
	}

	raw, err := doJSON(ctx, c.httpClient, c.Name(), http.MethodPost, c.baseURL+"/images/generations",
		map[string]string{"Authorization": "Bearer " + c.apiKey}, payload)
	if err != nil {
		return nil, err
	}

	var resp seedreamResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "decode response " + truncateBody(raw), Err: err}
	}
	if resp.Error.present() {
		return nil, &ProviderError{Provider: c.Name(), Message: resp.Error.Message}
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, &ProviderError{Provider: c.Name(), Message: "no image in response"}
	}

	if c.log != nil {
		c.log.Info("seedream image generated", "mode", req.Mode)
	}
	return &Result{ImageURL: resp.Data[0].URL, Provider: c.Name()}, nil
}
