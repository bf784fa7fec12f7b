// Package analysis holds the provider-independent half of document analysis:
// the instruction text and the tolerant decoding of model output.
package analysis

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const (
	DefaultImagePrompt = "Analyze this document image and extract key information."
	OCRPrompt          = "Extract all text from this image. Return only the extracted text, no additional commentary."

	// MaxOutputTokens caps every analysis response.
	MaxOutputTokens = 1000

	maxTextRunes = 12000
)

// SystemInstruction fixes the response schema and the closed category list.
const SystemInstruction = `You are an expert document analyzer. Analyze the provided document and extract key information.

Categorize the document into exactly one of these categories:
- invoices (invoices and bills)
- contracts (contracts and agreements)
- medical (medical documents)
- legal (legal documents)
- correspondence (letters and emails)
- financial (bank statements, financial reports)
- administrative (official documents)
- other (anything else)

Respond with a single JSON object in this exact format and nothing else:
{
  "category": "category_name",
  "confidence": 0.95,
  "extractedData": {
    "key_field_1": "value1",
    "key_field_2": "value2"
  },
  "summary": "Brief summary of the document",
  "keyInformation": ["key point 1", "key point 2"],
  "documentType": "Specific document type"
}`

var ErrMissingAPIKey = errors.New("AI provider API key is not configured")

// MissingAPIKey is returned before any network call when no key is set.
func MissingAPIKey(operation string) error {
	return domain.WrapError(domain.ErrAnalysisFailed, operation, ErrMissingAPIKey)
}

// UserPrompt is the text part of the user turn.
func UserPrompt(in domain.AnalysisInput) string {
	text := truncateRunes(strings.TrimSpace(in.Text), maxTextRunes)
	if len(in.Image) == 0 {
		return text
	}
	if text == "" {
		return DefaultImagePrompt
	}
	return DefaultImagePrompt + "\n\nText recognized in the image:\n" + text
}

// ImageMIMEType falls back to JPEG when the document did not declare an
// image type.
func ImageMIMEType(in domain.AnalysisInput) string {
	mimeType := strings.ToLower(strings.TrimSpace(in.ImageMIMEType))
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return "image/jpeg"
}

// CleanOCRText strips code fences some models wrap around plain text.
func CleanOCRText(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
