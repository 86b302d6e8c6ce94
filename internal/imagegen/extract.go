package imagegen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Images []imageRef `json:"images"`
	Error  *apiError  `json:"error"`
}

type chatMessage struct {
	Content messageContent `json:"content"`
	Images  []imageRef     `json:"images"`
}

// messageContent is either a plain string or a list of typed parts; only text parts are kept.
type messageContent string

func (c *messageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = messageContent(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content is neither string nor parts: %w", err)
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	*c = messageContent(strings.Join(texts, "\n"))
	return nil
}

// imageRef accepts the shapes providers use for a returned image:
// a bare string, {"image_url": {"url"}}, {"imageUrl": {"url"}}, {"image_url": "..."} or {"url"}.
type imageRef struct {
	URL string
}

func (r *imageRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.URL = s
		return nil
	}
	var obj struct {
		ImageURL      json.RawMessage `json:"image_url"`
		ImageURLCamel json.RawMessage `json:"imageUrl"`
		URL           string          `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unexpected image entry: %w", err)
	}
	for _, nested := range []json.RawMessage{obj.ImageURL, obj.ImageURLCamel} {
		if u := nestedURL(nested); u != "" {
			r.URL = u
			return nil
		}
	}
	r.URL = obj.URL
	return nil
}

func nestedURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)\s>]+)>?[^)]*\)`)
	dataImagePattern     = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
)

// ExtractImageURL decodes a chat-completion response and finds the generated image.
// Precedence, first non-empty wins:
//  1. top-level images[]
//  2. choices[0].message.images[] (image_url.url or imageUrl.url)
//  3. the target of the first markdown image in the message content
//  4. the first data:image URL in the message content
//
// Plain http(s) links in prose are never treated as images.
// When none matches, imageURL is empty and text carries the message content.
// An explicit error field or a response without choices or images is an error.
func ExtractImageURL(raw []byte) (imageURL, text string, err error) {
	return extractImage(raw, true)
}

// extractImage only looks inside the message content when inline is set.
func extractImage(raw []byte, inline bool) (imageURL, text string, err error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", fmt.Errorf("decode chat completion: %w", err)
	}
	if resp.Error.present() {
		return "", "", fmt.Errorf("provider error: %s", resp.Error.Message)
	}

	if u := firstImage(resp.Images); u != "" {
		return u, contentOf(resp), nil
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("response has no choices")
	}

	msg := resp.Choices[0].Message
	content := strings.TrimSpace(string(msg.Content))
	if u := firstImage(msg.Images); u != "" {
		return u, content, nil
	}
	if !inline {
		return "", content, nil
	}
	if m := markdownImagePattern.FindStringSubmatch(content); m != nil {
		return m[1], content, nil
	}
	if m := dataImagePattern.FindString(content); m != "" {
		return m, content, nil
	}
	return "", content, nil
}

func firstImage(refs []imageRef) string {
	for _, ref := range refs {
		if ref.URL != "" {
			return ref.URL
		}
	}
	return ""
}

func contentOf(resp chatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(string(resp.Choices[0].Message.Content))
}
