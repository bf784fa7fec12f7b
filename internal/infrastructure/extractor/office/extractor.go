// Package office extracts text from word-processor and spreadsheet files.
package office

import (
	"context"
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const (
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Legacy .doc conversion needs external tools (antiword); when they are
// missing the conversion error is returned and the caller falls back.
type WordExtractor struct{}

func NewWordExtractor() *WordExtractor {
	return &WordExtractor{}
}

func (e *WordExtractor) Extract(_ context.Context, doc *domain.Document, body io.Reader) (string, error) {
	mimeType := doc.MimeType
	if mimeType != MimeDOC {
		mimeType = MimeDOCX
	}
	res, err := docconv.Convert(body, mimeType, false)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", doc.OriginalName, err)
	}
	return strings.TrimSpace(res.Body), nil
}

// SpreadsheetExtractor renders each sheet as tab-separated rows under a
// sheet heading.
type SpreadsheetExtractor struct {
	maxRows int
}

func NewSpreadsheetExtractor() *SpreadsheetExtractor {
	return &SpreadsheetExtractor{maxRows: 2000}
}

func (e *SpreadsheetExtractor) Extract(ctx context.Context, doc *domain.Document, body io.Reader) (string, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return "", fmt.Errorf("open spreadsheet %s: %w", doc.OriginalName, err)
	}
	defer f.Close()

	var sb strings.Builder
	written := 0
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "# %s\n", sheet)
		for _, row := range rows {
			if written >= e.maxRows {
				return strings.TrimSpace(sb.String()), nil
			}
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
			written++
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
