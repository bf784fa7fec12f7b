package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/objectpath"
)

const (
	defaultUploadTTL      = 15 * time.Minute
	defaultMaxUploadBytes = 50 << 20
	uploadKeyPrefix       = "uploads/"
	tokenIssuer           = "docvault-localfs"
)

type Options struct {
	// PublicBaseURL is the externally reachable origin of the API that serves
	// PUT /uploads/{key}.
	PublicBaseURL  string
	SigningSecret  string
	UploadTTL      time.Duration
	MaxUploadBytes int64
}

// Storage keeps objects on the local filesystem and acts as its own signed
// upload endpoint.
type Storage struct {
	basePath       string
	publicBaseURL  string
	secret         []byte
	ttl            time.Duration
	maxUploadBytes int64
	now            func() time.Time
}

func New(basePath string, opts Options) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if strings.TrimSpace(opts.SigningSecret) == "" {
		return nil, fmt.Errorf("upload signing secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = defaultUploadTTL
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Storage{
		basePath:       basePath,
		publicBaseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		secret:         []byte(opts.SigningSecret),
		ttl:            opts.UploadTTL,
		maxUploadBytes: opts.MaxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Storage) IssueUploadURL(_ context.Context) (domain.UploadTicket, error) {
	key := uploadKeyPrefix + uuid.NewString()
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   key,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(s.secret)
	if err != nil {
		return domain.UploadTicket{}, domain.WrapError(domain.ErrStorageFailure, "sign upload token", err)
	}

	return domain.UploadTicket{
		UploadURL:  fmt.Sprintf("%s/uploads/%s?token=%s", s.publicBaseURL, key, url.QueryEscape(token)),
		ObjectPath: objectpath.Canonical(key),
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *Storage) NormalizePath(raw string) string {
	return objectpath.Normalize(raw)
}

// ReceiveUpload stores the body of a signed PUT. Each key can be written once.
func (s *Storage) ReceiveUpload(_ context.Context, key, token string, body io.Reader) (string, error) {
	canonical := objectpath.Normalize(key)
	cleanKey, err := objectpath.Key(canonical)
	if err != nil {
		return "", err
	}
	if err := s.verifyToken(token, cleanKey); err != nil {
		return "", err
	}

	target := s.resolve(cleanKey)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", domain.WrapError(domain.ErrStorageFailure, "create object dir", err)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", domain.WrapError(domain.ErrAlreadyExists, "receive upload", fmt.Errorf("object %s", cleanKey))
		}
		return "", domain.WrapError(domain.ErrStorageFailure, "create file", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(body, s.maxUploadBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(target)
		return "", domain.WrapError(domain.ErrStorageFailure, "write file", copyErr)
	case written > s.maxUploadBytes:
		_ = os.Remove(target)
		return "", domain.WrapError(domain.ErrInvalidInput, "receive upload", fmt.Errorf("object exceeds %d bytes", s.maxUploadBytes))
	case closeErr != nil:
		_ = os.Remove(target)
		return "", domain.WrapError(domain.ErrStorageFailure, "close file", closeErr)
	}
	return canonical, nil
}

func (s *Storage) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	key, err := objectpath.Key(objectpath.Normalize(objectPath))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.resolve(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open object", fmt.Errorf("object %s", key))
		}
		return nil, domain.WrapError(domain.ErrStorageFailure, "open file", err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, objectPath string) error {
	key, err := objectpath.Key(objectpath.Normalize(objectPath))
	if err != nil {
		return err
	}
	if err := os.Remove(s.resolve(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.WrapError(domain.ErrNotFound, "delete object", fmt.Errorf("object %s", key))
		}
		return domain.WrapError(domain.ErrStorageFailure, "remove file", err)
	}
	return nil
}

func (s *Storage) verifyToken(raw, key string) error {
	if strings.TrimSpace(raw) == "" {
		return domain.WrapError(domain.ErrUnauthorized, "verify upload token", errors.New("token is required"))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.WrapError(domain.ErrUnauthorized, "verify upload token", err)
	}
	if claims.Subject != key {
		return domain.WrapError(domain.ErrUnauthorized, "verify upload token", fmt.Errorf("token is not valid for %s", key))
	}
	return nil
}

// resolve maps a cleaned key to a path under basePath.
func (s *Storage) resolve(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
