// Package registry routes a document to the extractor for its content type.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/infrastructure/extractor/office"
	"github.com/kirillkom/docvault/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/docvault/internal/infrastructure/extractor/plaintext"
)

const DefaultMaxBytes = 25 << 20

type Registry struct {
	byType   map[string]ports.TextExtractor
	text     ports.TextExtractor
	maxBytes int64
}

// New registers the PDF, office and plain-text extractors.
func New(maxBytes int64) *Registry {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	r := &Registry{
		byType:   make(map[string]ports.TextExtractor),
		text:     plaintext.NewExtractor(),
		maxBytes: maxBytes,
	}
	r.Register(pdf.NewExtractor(), "application/pdf")
	r.Register(office.NewWordExtractor(), office.MimeDOCX, office.MimeDOC)
	r.Register(office.NewSpreadsheetExtractor(), office.MimeXLSX)
	r.Register(r.text, "application/json", "application/xml")
	return r
}

func (r *Registry) Register(extractor ports.TextExtractor, mimeTypes ...string) {
	for _, mt := range mimeTypes {
		r.byType[baseType(mt)] = extractor
	}
}

// Extract returns "" without error when no extractor handles the type.
func (r *Registry) Extract(ctx context.Context, doc *domain.Document, body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, r.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("document exceeds %d bytes", r.maxBytes))
	}

	contentType := baseType(doc.MimeType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = baseType(mimetype.Detect(data).String())
	}

	extractor, ok := r.byType[contentType]
	if !ok && strings.HasPrefix(contentType, "text/") {
		extractor, ok = r.text, true
	}
	if !ok {
		return "", nil
	}
	return extractor.Extract(ctx, doc, bytes.NewReader(data))
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
