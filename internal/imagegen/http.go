package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// doJSON sends an optional JSON body and returns the raw response body.
// Statuses >= 300 are turned into a ProviderError carrying the truncated body.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", provider, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Status: resp.StatusCode, Message: "read body", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: provider, Status: resp.StatusCode, Message: truncateBody(raw)}
	}
	return raw, nil
}

// apiError covers the `{"error": {"message": ...}}` and `{"error": "..."}` conventions.
type apiError struct {
	Message string
}

func (e *apiError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	if e.Message == "" && obj.Code != nil {
		e.Message = fmt.Sprintf("error code %v", obj.Code)
	}
	return nil
}

func (e *apiError) present() bool {
	return e != nil && e.Message != ""
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
