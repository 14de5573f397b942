package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"tutorlab/domain/dialogue"
	"tutorlab/models"
)

// ChatClient is a minimal OpenAI-compatible chat completion transport with
// usage and latency capture. No retries: a failed or timed-out call is
// reported as-is and the caller decides what it means.
type ChatClient struct {
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int

	httpClient *http.Client
}

// ChatResult is one completed chat call
type ChatResult struct {
	Content string
	Usage   dialogue.Usage
	Latency time.Duration
}

// NewChatClient builds a chat client from harness configuration
func NewChatClient(config *models.HarnessConfig) *ChatClient {
	log.Printf("[ChatClient] Initializing client with baseURL=%s, temp=%.2f, maxTokens=%d",
		config.OpenAIBaseURL, config.Temperature, config.MaxTokens)
	return &ChatClient{
		APIKey:      config.OpenAIKey,
		BaseURL:     config.OpenAIBaseURL,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
		httpClient:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float64       `json:"temperature,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete makes one chat completion call and reports content, token usage
// and wall-clock latency.
func (c *ChatClient) Complete(ctx context.Context, model, system, user string) (*ChatResult, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:         c.Temperature,
		MaxCompletionTokens: c.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("request timeout after %s: %w", latency, ctx.Err())
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse chat response envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in chat response")
	}

	log.Printf("[ChatClient] %s completed in %s (%d prompt + %d completion tokens)",
		model, latency, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return &ChatResult{
		Content: parsed.Choices[0].Message.Content,
		Usage: dialogue.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Latency: latency,
	}, nil
}
