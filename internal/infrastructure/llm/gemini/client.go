// Package gemini analyzes documents with Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/llm/analysis"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

const DefaultModel = "gemini-2.5-flash"

type Options struct {
	APIKey string
	Model  string
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models   contentGenerator
	model    string
	executor *resilience.Executor
}

// New returns a client even without an API key; calls then fail with a
// configuration error instead of reaching the network.
func New(ctx context.Context, opts Options, executor *resilience.Executor) (*Client, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	c := &Client{model: model, executor: executor}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return c, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.models = client.Models
	return c, nil
}

func (c *Client) Analyze(ctx context.Context, in domain.AnalysisInput) (domain.AnalysisResult, error) {
	if in.Empty() {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrInvalidInput, "gemini analyze", fmt.Errorf("text or image is required"))
	}
	if c.models == nil {
		return domain.AnalysisResult{}, analysis.MissingAPIKey("gemini analyze")
	}

	parts := []*genai.Part{genai.NewPartFromText(analysis.UserPrompt(in))}
	if len(in.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(in.Image, analysis.ImageMIMEType(in)))
	}
	raw, err := c.generate(ctx, "analyze", parts, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(analysis.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		MaxOutputTokens:   analysis.MaxOutputTokens,
	})
	if err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "gemini analyze", err)
	}
	return analysis.Parse(raw)
}

func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if c.models == nil {
		return "", analysis.MissingAPIKey("gemini extract text")
	}
	if len(image) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "gemini extract text", fmt.Errorf("image is empty"))
	}

	mimeType = analysis.ImageMIMEType(domain.AnalysisInput{ImageMIMEType: mimeType})
	raw, err := c.generate(ctx, "extract_text", []*genai.Part{
		genai.NewPartFromText(analysis.OCRPrompt),
		genai.NewPartFromBytes(image, mimeType),
	}, &genai.GenerateContentConfig{MaxOutputTokens: analysis.MaxOutputTokens})
	if err != nil {
		return "", domain.WrapError(domain.ErrAnalysisFailed, "gemini extract text", err)
	}
	return analysis.CleanOCRText(raw), nil
}

func (c *Client) generate(ctx context.Context, operation string, parts []*genai.Part, config *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return resilience.Call(ctx, c.executor, "gemini."+operation, func(callCtx context.Context) (string, error) {
		resp, err := c.models.GenerateContent(callCtx, c.model, contents, config)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return "", fmt.Errorf("gemini %s: response has no candidates", operation)
		}
		return strings.TrimSpace(resp.Text()), nil
	}, classifyGeminiError)
}

func classifyGeminiError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if code, ok := apiErrorCode(err); ok {
		retryable := code == 408 || code == 429 || code >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}
