package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/BananaStudio/internal/models"
)

// GLMClient talks to the asynchronous GLM image API: submit a job, then poll
// the result endpoint until it succeeds, fails, or the attempt budget runs out.
type GLMClient struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	log          *slog.Logger
}

type GLMOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	PollInterval time.Duration
	MaxAttempts  int
}

func NewGLMClient(opts GLMOptions, httpClient *http.Client, log *slog.Logger) *GLMClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 30
	}
	return &GLMClient{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		model:        opts.Model,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		httpClient:   httpClient,
		log:          log,
	}
}

func (c *GLMClient) Name() string { return "glm" }

func (c *GLMClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	taskID, err := c.createTask(ctx, req)
	if err != nil {
		return nil, err
	}

	imageURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Result{ImageURL: imageURL, Provider: c.Name()}, nil
}

type glmSubmitResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Data   struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

func (r glmSubmitResponse) taskID() string {
	for _, id := range []string{r.TaskID, r.Data.TaskID, r.ID} {
		if id != "" {
			return id
		}
	}
	return ""
}

func (c *GLMClient) createTask(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":  c.model,
		"prompt": req.Prompt,
	}
	if req.Mode == models.ModeImageToImage && req.Image != "" {
		payload["image_url"] = req.Image
	}

	raw, err := doJSON(ctx, c.httpClient, c.Name(), http.MethodPost, c.baseURL+"/async/images/generations", c.headers(), payload)
	if err != nil {
		return "", err
	}

	var resp glmSubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProviderError{Provider: c.Name(), Message: "decode submit response " + truncateBody(raw), Err: err}
	}
	if resp.Error.present() {
		return "", &ProviderError{Provider: c.Name(), Message: resp.Error.Message}
	}
	taskID := resp.taskID()
	if taskID == "" {
		return "", &ProviderError{Provider: c.Name(), Message: "empty task id in response"}
	}

	if c.log != nil {
		c.log.Info("glm task created", "task_id", taskID)
	}
	return taskID, nil
}

// glmStatusResponse accepts the flat and the data-wrapped result layouts.
type glmStatusResponse struct {
	TaskStatus  string        `json:"task_status"`
	Status      string        `json:"status"`
	ImageResult []glmImageRef `json:"image_result"`
	FailReason  string        `json:"fail_reason"`
	Data        struct {
		TaskStatus  string        `json:"task_status"`
		ImageResult []glmImageRef `json:"image_result"`
		ImageURLs   []string      `json:"image_urls"`
	} `json:"data"`
	Output struct {
		ImageURL string `json:"image_url"`
	} `json:"output"`
	Error *apiError `json:"error"`
}

type glmImageRef struct {
	URL string `json:"url"`
}

func (r glmStatusResponse) state() string {
	for _, s := range []string{r.TaskStatus, r.Data.TaskStatus, r.Status} {
		if s != "" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// imageURL applies a fixed precedence: image_result, data.image_result, data.image_urls, output.image_url.
func (r glmStatusResponse) imageURL() string {
	for _, ref := range r.ImageResult {
		if ref.URL != "" {
			return ref.URL
		}
	}
	for _, ref := range r.Data.ImageResult {
		if ref.URL != "" {
			return ref.URL
		}
	}
	for _, u := range r.Data.ImageURLs {
		if u != "" {
			return u
		}
	}
	return r.Output.ImageURL
}

func (c *GLMClient) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	statusURL := c.baseURL + "/async-result/" + url.PathEscape(taskID)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		raw, err := doJSON(ctx, c.httpClient, c.Name(), http.MethodGet, statusURL, c.headers(), nil)
		if err != nil {
			return "", err
		}

		var resp glmStatusResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", &ProviderError{Provider: c.Name(), Message: "decode status response " + truncateBody(raw), Err: err}
		}

		state := resp.state()
		if state == "" && resp.Error.present() {
			state = "FAIL"
		}
		switch state {
		case "SUCCESS":
			imageURL := resp.imageURL()
			if imageURL == "" {
				return "", &ProviderError{Provider: c.Name(), Message: "task succeeded without image url"}
			}
			if c.log != nil {
				c.log.Info("glm task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return imageURL, nil

		case "FAIL", "FAILED":
			reason := resp.FailReason
			if reason == "" && resp.Error.present() {
				reason = resp.Error.Message
			}
			if reason == "" {
				reason = "unknown error"
			}
			if c.log != nil {
				c.log.Error("glm task failed", "task_id", taskID, "reason", reason)
			}
			return "", &ProviderError{Provider: c.Name(), Message: "task failed: " + reason}

		default:
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("glm task pending", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			if attempt < c.maxAttempts-1 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(c.pollInterval):
				}
			}
		}
	}

	return "", fmt.Errorf("%w: task %s not finished after %d attempts", ErrTimeout, taskID, c.maxAttempts)
}

func (c *GLMClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
