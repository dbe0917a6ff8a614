// Package proxy calls the hosted Gemini generateContent endpoint. Every
// failure is folded into a fixed Vietnamese reply so a chat turn never fails
// because of the model.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel           = "gemini-1.5-flash"
	DefaultTemperature     = 0.6
	DefaultMaxOutputTokens = 512
	DefaultTimeout         = 30 * time.Second

	maxLoggedBody = 512
)

// Replies returned instead of model output.
const (
	ReplyNotConfigured   = "Hệ thống chưa cấu hình API key, vui lòng liên hệ quản trị viên."
	ReplyConnectionError = "Xin lỗi, mình đang gặp lỗi kết nối. Bạn thử lại giúp mình nhé."
	ReplyBusy            = "Xin lỗi, hệ thống đang bận. Bạn thử lại sau nhé."
	ReplyNeedDetail      = "Mình chưa có câu trả lời phù hợp, bạn mô tả kỹ hơn giúp mình nhé."
)

// Config holds the upstream settings. Zero values fall back to the defaults.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// Client sends a system instruction plus conversation history and returns
// the model's text.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	maxOutputTokens int
	timeout         time.Duration
	httpClient      *http.Client
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:          strings.TrimSpace(cfg.APIKey),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		timeout:         cfg.Timeout,
		httpClient:      &http.Client{},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	if c.maxOutputTokens <= 0 {
		c.maxOutputTokens = DefaultMaxOutputTokens
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Complete makes exactly one generateContent call. It always returns a
// reply: the trimmed model text, or one of the Reply* strings.
func (c *Client) Complete(ctx context.Context, systemInstruction string, history []Turn) string {
	if !c.Configured() {
		slog.Warn("completion: API key is missing or empty")
		return ReplyNotConfigured
	}

	body, err := json.Marshal(c.buildRequest(systemInstruction, history))
	if err != nil {
		slog.Error("completion: marshaling request", "error", err)
		return ReplyBusy
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		slog.Error("completion: creating request", "error", err)
		return ReplyBusy
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("completion: request failed", "model", c.model, "error", redact(err.Error(), c.apiKey))
		return ReplyBusy
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("completion: reading response", "model", c.model, "error", err)
		return ReplyBusy
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || len(bytes.TrimSpace(respBody)) == 0 {
		slog.Warn("completion: unexpected response",
			"model", c.model, "status", resp.StatusCode, "body", truncate(string(respBody), maxLoggedBody))
		return ReplyConnectionError
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		slog.Error("completion: decoding response", "model", c.model, "error", err)
		return ReplyBusy
	}

	text := strings.TrimSpace(parsed.text())
	if text == "" {
		slog.Debug("completion: response carried no text", "model", c.model)
		return ReplyNeedDetail
	}
	return text
}

func (c *Client) buildRequest(systemInstruction string, history []Turn) generateRequest {
	contents := make([]content, 0, len(history))
	for _, t := range history {
		contents = append(contents, content{Role: mapRole(t.Role), Parts: []part{{Text: t.Text}}})
	}
	return generateRequest{
		SystemInstruction: content{Parts: []part{{Text: systemInstruction}}},
		Contents:          contents,
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
}

func (c *Client) endpoint() string {
	q := url.Values{"key": {c.apiKey}}
	return c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent?" + q.Encode()
}

// mapRole translates stored roles to the upstream vocabulary.
func mapRole(role string) string {
	if strings.EqualFold(role, "ASSISTANT") {
		return "model"
	}
	return "user"
}

// redact strips the API key from transport errors, which embed the URL.
func redact(s, key string) string {
	if key == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(s, key, "REDACTED")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
