package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Active reports whether the status blocks a new analysis attempt.
func (s DocumentStatus) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

type Document struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	OriginalName  string          `json:"originalName"`
	MimeType      string          `json:"mimeType"`
	Size          int64           `json:"size"`
	ObjectPath    string          `json:"objectPath"`
	Category      *string         `json:"category"`
	Status        DocumentStatus  `json:"status"`
	AIAnalysis    *AnalysisResult `json:"aiAnalysis"`
	ExtractedData map[string]any  `json:"extractedData"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (d *Document) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(d.MimeType), "image/")
}

// DocumentMetadata is the client-supplied part of a document, sent after the
// bytes have been uploaded to object storage.
type DocumentMetadata struct {
	Name         string `json:"name"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	ObjectPath   string `json:"objectPath"`
}

// DocumentPatch is a partial update. Nil fields are left untouched. There is
// intentionally no ObjectPath field.
type DocumentPatch struct {
	Name          *string
	Status        *DocumentStatus
	Category      *string
	AIAnalysis    *AnalysisResult
	ExtractedData map[string]any

	// ExpectedStatus turns the update into a compare-and-set: it applies only
	// when the current status is one of these values.
	ExpectedStatus []DocumentStatus
}

// Apply merges the patch into doc and enforces that analysis fields only
// survive on completed documents.
func (p DocumentPatch) Apply(doc *Document, now time.Time) {
	if p.Name != nil {
		doc.Name = *p.Name
	}
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.Category != nil {
		category := *p.Category
		doc.Category = &category
	}
	if p.AIAnalysis != nil {
		analysis := *p.AIAnalysis
		doc.AIAnalysis = &analysis
	}
	if p.ExtractedData != nil {
		doc.ExtractedData = p.ExtractedData
	}
	if doc.Status != StatusCompleted {
		doc.Category = nil
		doc.AIAnalysis = nil
		doc.ExtractedData = nil
	}
	if now.After(doc.UpdatedAt) {
		doc.UpdatedAt = now
	} else {
		doc.UpdatedAt = doc.UpdatedAt.Add(time.Microsecond)
	}
}

// Allows reports whether the compare-and-set guard accepts current.
func (p DocumentPatch) Allows(current DocumentStatus) bool {
	return statusIn(current, p.ExpectedStatus)
}

type QueueStatus = DocumentStatus

// QueueEntry tracks one analysis attempt for a document.
type QueueEntry struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	Status     QueueStatus     `json:"status"`
	Result     *AnalysisResult `json:"result"`
	Error      *string         `json:"error"`
	Attempt    int             `json:"attempt"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type QueuePatch struct {
	Status         *QueueStatus
	Result         *AnalysisResult
	Error          *string
	ExpectedStatus []QueueStatus
}

func (p QueuePatch) Apply(entry *QueueEntry, now time.Time) {
	if p.Status != nil {
		entry.Status = *p.Status
	}
	if p.Result != nil {
		result := *p.Result
		entry.Result = &result
	}
	if p.Error != nil {
		reason := *p.Error
		entry.Error = &reason
	}
	if now.After(entry.UpdatedAt) {
		entry.UpdatedAt = now
	} else {
		entry.UpdatedAt = entry.UpdatedAt.Add(time.Microsecond)
	}
}

func (p QueuePatch) Allows(current QueueStatus) bool {
	return statusIn(current, p.ExpectedStatus)
}

type Statistics struct {
	TotalDocuments    int            `json:"totalDocuments"`
	ProcessedToday    int            `json:"processedToday"`
	PendingProcessing int            `json:"pendingProcessing"`
	Categories        map[string]int `json:"categories"`
}

// UploadTicket is a pre-signed, single-object upload grant.
type UploadTicket struct {
	UploadURL  string    `json:"uploadURL"`
	ObjectPath string    `json:"objectPath"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func StatusPtr(s DocumentStatus) *DocumentStatus { return &s }

func StringPtr(s string) *string { return &s }

func statusIn(current DocumentStatus, allowed []DocumentStatus) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}
