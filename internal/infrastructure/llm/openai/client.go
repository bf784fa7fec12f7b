// Package openai talks to any OpenAI-compatible /chat/completions endpoint.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/llm/analysis"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options, executor *resilience.Executor) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Analyze(ctx context.Context, in domain.AnalysisInput) (domain.AnalysisResult, error) {
	if in.Empty() {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrInvalidInput, "openai analyze", fmt.Errorf("text or image is required"))
	}
	if c.apiKey == "" {
		return domain.AnalysisResult{}, analysis.MissingAPIKey("openai analyze")
	}

	var userContent any = analysis.UserPrompt(in)
	if len(in.Image) > 0 {
		userContent = []contentPart{
			{Type: "text", Text: analysis.UserPrompt(in)},
			imagePart(in.Image, analysis.ImageMIMEType(in)),
		}
	}

	raw, err := c.complete(ctx, "analyze", chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: analysis.SystemInstruction},
			{Role: "user", Content: userContent},
		},
		MaxTokens:      analysis.MaxOutputTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "openai analyze", err)
	}
	return analysis.Parse(raw)
}

// ExtractText asks the model to transcribe an image. An image without
// readable text yields "".
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", analysis.MissingAPIKey("openai extract text")
	}
	if len(image) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "openai extract text", fmt.Errorf("image is empty"))
	}

	mimeType = analysis.ImageMIMEType(domain.AnalysisInput{ImageMIMEType: mimeType})
	raw, err := c.complete(ctx, "extract_text", chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: analysis.OCRPrompt},
				imagePart(image, mimeType),
			},
		}},
		MaxTokens: analysis.MaxOutputTokens,
	})
	if err != nil {
		return "", domain.WrapError(domain.ErrAnalysisFailed, "openai extract text", err)
	}
	return analysis.CleanOCRText(raw), nil
}

func (c *Client) complete(ctx context.Context, operation string, req chatRequest) (string, error) {
	return resilience.Call(ctx, c.executor, "openai."+operation, func(callCtx context.Context) (string, error) {
		var resp chatResponse
		if err := c.postJSON(callCtx, "/chat/completions", req, &resp, operation); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai %s: response has no choices", operation)
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}, classifyOpenAIError)
}

func imagePart(image []byte, mimeType string) contentPart {
	return contentPart{
		Type: "image_url",
		ImageURL: &imageURL{
			URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
		},
	}
}
