// Package reflection asks a chat-completion model for a short reflection on
// an entry's prose, as a thinking partner for the author.
package reflection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-5.1"
)

// DefaultPrompt is used when the owner has not stored a custom one.
const DefaultPrompt = `Read this article and offer sharp insights or questions that help the author think deeper.
Focus on the ending if relevant.
Always format your response as bullet points (using - or •).
Keep it brief - 2-4 bullet points maximum.
No emojis, no quotes, no preface.`

const systemMessage = "You are a sharp thinking partner. Respond in 2-3 sentences maximum. One key insight or question that adds real value. No quotes, no emojis, no preface."

// fallbackReflection stands in when the model returns nothing usable.
const fallbackReflection = "Let this page nudge you toward one small, kind step that matters today."

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("reflection: api key not configured")

// Client calls an OpenAI-compatible chat completions endpoint. One blocking
// round trip, no retry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	apiKey string
	model  string
}

// NewClient creates a client. An empty API key is allowed; calls fail with
// ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      defaultModel,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Reflect sends the assembled prompt and returns the model's reply. An empty
// or missing reply degrades to a canned line rather than an error.
func (c *Client) Reflect(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, detail)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return fallbackReflection, nil
	}
	message := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if message == "" {
		return fallbackReflection, nil
	}
	return message, nil
}

// BuildPrompt assembles the user prompt: the template, the full prose, and
// the ending (the last few paragraphs) called out separately.
func BuildPrompt(template, source string) string {
	tail := source
	paragraphs := splitParagraphs(source)
	if len(paragraphs) > 1 {
		start := len(paragraphs) - 3
		if start < 0 {
			start = 0
		}
		tail = strings.Join(paragraphs[start:], "\n\n")
	}

	return strings.Join([]string{
		template,
		"",
		"Article:",
		source,
		"",
		"Ending:",
		tail,
	}, "\n")
}

// splitParagraphs splits prose on blank lines.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, chunk := range strings.Split(text, "\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		paragraphs = append(paragraphs, chunk)
	}
	return paragraphs
}
