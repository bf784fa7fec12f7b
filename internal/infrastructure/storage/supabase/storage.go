// Package supabase stores documents in a Supabase Storage bucket. Clients
// upload directly to Supabase with a signed upload URL.
package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/objectpath"
)

// Supabase signed upload URLs are valid for two hours and the TTL is not
// configurable per request.
const signedUploadTTL = 2 * time.Hour

type storageAPI interface {
	CreateSignedUploadUrl(bucketID, filePath string) (storage.SignedUploadUrlResponse, error)
	DownloadFile(bucketID, filePath string, urlOptions ...storage.UrlOptions) ([]byte, error)
	RemoveFile(bucketID string, paths []string) ([]storage.FileUploadResponse, error)
}

type Storage struct {
	api     storageAPI
	baseURL string
	bucket  string
	now     func() time.Time
}

// New builds a client against <projectURL>/storage/v1 authenticated with a
// service key.
func New(projectURL, serviceKey, bucket string) (*Storage, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" || strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("supabase url, key and bucket are required")
	}
	baseURL := projectURL + "/storage/v1"
	return &Storage{
		api:     storage.NewClient(baseURL, serviceKey, nil),
		baseURL: baseURL,
		bucket:  bucket,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Storage) IssueUploadURL(_ context.Context) (domain.UploadTicket, error) {
	key := "uploads/" + uuid.NewString()
	issuedAt := s.now()
	resp, err := s.api.CreateSignedUploadUrl(s.bucket, key)
	if err != nil {
		return domain.UploadTicket{}, domain.WrapError(domain.ErrStorageFailure, "create signed upload url", err)
	}

	uploadURL := resp.Url
	if !strings.HasPrefix(uploadURL, "http://") && !strings.HasPrefix(uploadURL, "https://") {
		uploadURL = s.baseURL + "/" + strings.TrimLeft(uploadURL, "/")
	}
	return domain.UploadTicket{
		UploadURL:  uploadURL,
		ObjectPath: objectpath.Canonical(key),
		ExpiresAt:  issuedAt.Add(signedUploadTTL),
	}, nil
}

func (s *Storage) NormalizePath(raw string) string {
	return objectpath.Normalize(raw)
}

// Open downloads the whole object; documents are small enough to buffer.
func (s *Storage) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	key, err := objectpath.Key(objectpath.Normalize(objectPath))
	if err != nil {
		return nil, err
	}
	data, err := s.api.DownloadFile(s.bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.WrapError(domain.ErrNotFound, "download object", fmt.Errorf("object %s: %v", key, err))
		}
		return nil, domain.WrapError(domain.ErrStorageFailure, "download object", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Storage) Delete(_ context.Context, objectPath string) error {
	key, err := objectpath.Key(objectpath.Normalize(objectPath))
	if err != nil {
		return err
	}
	if _, err := s.api.RemoveFile(s.bucket, []string{key}); err != nil {
		if isNotFound(err) {
			return domain.WrapError(domain.ErrNotFound, "remove object", fmt.Errorf("object %s: %v", key, err))
		}
		return domain.WrapError(domain.ErrStorageFailure, "remove object", err)
	}
	return nil
}

// storage-go reports HTTP failures as plain errors carrying the response body.
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}
