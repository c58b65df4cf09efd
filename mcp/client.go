// Package mcp is the model transport: one blocking chat-completions
// request per decision cycle against any OpenAI-compatible provider.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Provider identifies the AI provider preset.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderGroq       Provider = "groq"
	ProviderCustom     Provider = "custom"
)

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	UseFullURL bool // use BaseURL as-is, without appending /chat/completions

	transport  *http.Transport
	httpClient *http.Client
}

// New returns a client with the OpenRouter defaults.
func New() *Client {
	return &Client{
		Provider: ProviderOpenRouter,
		BaseURL:  "https://openrouter.ai/api/v1",
		Model:    "openai/gpt-oss-20b:free",
		Timeout:  120 * time.Second,
	}
}

// SetOpenRouterKey configures the OpenRouter preset.
func (c *Client) SetOpenRouterKey(apiKey, model string) {
	c.Provider = ProviderOpenRouter
	c.APIKey = apiKey
	c.BaseURL = "https://openrouter.ai/api/v1"
	if model != "" {
		c.Model = model
	}
}

// SetDeepSeekAPIKey configures the DeepSeek preset.
func (c *Client) SetDeepSeekAPIKey(apiKey string) {
	c.Provider = ProviderDeepSeek
	c.APIKey = apiKey
	c.BaseURL = "https://api.deepseek.com/v1"
	c.Model = "deepseek-chat"
}

// SetGroqAPIKey configures the Groq preset. model may name any model Groq
// serves, e.g. "openai/gpt-4o" or "qwen/qwen2.5-72b-instruct".
func (c *Client) SetGroqAPIKey(apiKey, model string) {
	c.Provider = ProviderGroq
	c.APIKey = apiKey
	c.BaseURL = "https://api.groq.com/openai/v1"
	if model == "" {
		model = "llama-3.1-70b-versatile"
	}
	c.Model = model
}

// SetCustomAPI configures any OpenAI-format endpoint. A trailing "#" on
// the URL means "use the full URL as-is".
func (c *Client) SetCustomAPI(apiURL, apiKey, modelName string) {
	c.Provider = ProviderCustom
	c.APIKey = apiKey
	if strings.HasSuffix(apiURL, "#") {
		c.BaseURL = strings.TrimSuffix(apiURL, "#")
		c.UseFullURL = true
	} else {
		c.BaseURL = apiURL
	}
	c.Model = modelName
}

// CallWithMessages sends one system + user prompt pair and returns the raw
// response text. Network-level failures retry with backoff inside the
// call; API-level errors return immediately. A context timeout surfaces as
// a transport error, never as a parsed decision.
func (c *Client) CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("AI API key not set")
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := c.callOnce(ctx, systemPrompt, userPrompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) {
			return "", err
		}
		if attempt < maxRetries {
			wait := time.Duration(attempt) * 5 * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) callOnce(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	requestBody := map[string]interface{}{
		"model":       c.Model,
		"messages":    messages,
		"temperature": 0.5,
		"max_tokens":  4000,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}

	url := c.BaseURL
	if !c.UseFullURL {
		url = fmt.Sprintf("%s/chat/completions", c.BaseURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	if c.httpClient == nil {
		c.transport = &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		c.httpClient = &http.Client{
			Timeout:   c.Timeout,
			Transport: c.transport,
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// isRetryableError reports whether the error looks like a transient
// network failure.
func isRetryableError(err error) bool {
	errStr := err.Error()
	retryable := []string{
		"EOF",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"no such host",
		"broken pipe",
		"network is unreachable",
	}
	for _, fragment := range retryable {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}
