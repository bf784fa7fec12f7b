package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const (
	defaultConfidence   = 0.5
	defaultDocumentType = "Unknown"
)

// Parse decodes a model response into a fully defaulted result. Only a
// response that is not a JSON object is an error; every field that is
// missing or mistyped falls back to its default.
func Parse(raw string) (domain.AnalysisResult, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "parse analysis json", err)
	}

	return domain.AnalysisResult{
		Category:       parseCategory(fields["category"]),
		Confidence:     parseConfidence(fields["confidence"]),
		ExtractedData:  parseObject(fields["extractedData"]),
		Summary:        parseString(fields["summary"]),
		KeyInformation: parseStrings(fields["keyInformation"]),
		DocumentType:   parseDocumentType(fields["documentType"]),
	}, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

func parseCategory(v any) string {
	s, ok := v.(string)
	if !ok {
		return domain.CategoryOther
	}
	return domain.NormalizeCategory(s)
}

func parseConfidence(v any) float64 {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return defaultConfidence
		}
		f = parsed
	default:
		return defaultConfidence
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultConfidence
	}
	return math.Max(0, math.Min(1, f))
}

func parseObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func parseString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch value := item.(type) {
		case string:
			if s := strings.TrimSpace(value); s != "" {
				out = append(out, s)
			}
		case float64, bool:
			out = append(out, fmt.Sprint(value))
		}
	}
	return out
}

func parseDocumentType(v any) string {
	if s := parseString(v); s != "" {
		return s
	}
	return defaultDocumentType
}
