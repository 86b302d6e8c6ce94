package imagegen

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digkill/BananaStudio/internal/models"
)

// OpenRouterClient uses an OpenAI-compatible chat-completions endpoint. Text-to-image
// asks for image output; image-to-image sends the picture as a vision part and usually
// gets prose back.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	aliases      map[string]string
	referer      string
	title        string
	httpClient   *http.Client
	log          *slog.Logger
}

type OpenRouterOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Referer      string
	Title        string
}

func NewOpenRouterClient(opts OpenRouterOptions, httpClient *http.Client, log *slog.Logger) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		defaultModel: opts.DefaultModel,
		aliases: map[string]string{
			models.ModelNanoBanana: opts.DefaultModel,
		},
		referer:    opts.Referer,
		title:      opts.Title,
		httpClient: httpClient,
		log:        log,
	}
}

func (c *OpenRouterClient) Name() string { return "openrouter" }

// upstreamModel maps public model names to OpenRouter ids; ids containing a slash pass through.
func (c *OpenRouterClient) upstreamModel(model string) string {
	if mapped, ok := c.aliases[model]; ok && mapped != "" {
		return mapped
	}
	if strings.Contains(model, "/") {
		return model
	}
	return c.defaultModel
}

type chatContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *chatImageURLPart `json:"image_url,omitempty"`
}

type chatImageURLPart struct {
	URL string `json:"url"`
}

type chatRequestMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model      string               `json:"model"`
	Messages   []chatRequestMessage `json:"messages"`
	Modalities []string             `json:"modalities,omitempty"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload := chatRequest{Model: c.upstreamModel(req.Model)}
	if req.Mode == models.ModeImageToImage {
		payload.Messages = []chatRequestMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &chatImageURLPart{URL: req.Image}},
			},
		}}
	} else {
		payload.Messages = []chatRequestMessage{{Role: "user", Content: req.Prompt}}
		payload.Modalities = []string{"image", "text"}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if c.referer != "" {
		headers["HTTP-Referer"] = c.referer
	}
	if c.title != "" {
		headers["X-Title"] = c.title
	}

	raw, err := doJSON(ctx, c.httpClient, c.Name(), http.MethodPost, c.baseURL+"/chat/completions", headers, payload)
	if err != nil {
		return nil, err
	}

	extract := ExtractImageURL
	if req.Mode == models.ModeImageToImage {
		// Vision answers are prose; only a structured images entry counts as an edited picture.
		extract = func(raw []byte) (string, string, error) { return extractImage(raw, false) }
	}
	imageURL, text, err := extract(raw)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: truncateBody(raw), Err: err}
	}
	if imageURL == "" && text == "" {
		return nil, &ProviderError{Provider: c.Name(), Message: "empty completion"}
	}

	if c.log != nil {
		c.log.Info("openrouter completion", "model", payload.Model, "mode", req.Mode, "has_image", imageURL != "")
	}
	return &Result{ImageURL: imageURL, Text: text, Provider: c.Name()}, nil
}
