// Package storage handles document blobs on Google Cloud Storage:
// signed upload URLs, existence checks, downloads, and deletes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

var (
	unsafeChars       = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	repeatUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename strips any path components and reduces the name to a
// safe object-name alphabet. Names that sanitize to nothing are invalid.
func SanitizeFilename(filename string) (string, error) {
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "", apperr.Validation("Invalid filename")
	}
	sanitized := unsafeChars.ReplaceAllString(name, "_")
	sanitized = repeatUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		return "", apperr.Validation("Invalid filename")
	}
	return sanitized, nil
}

// ObjectPath is the canonical blob location for a document.
func ObjectPath(workspaceID, documentID, sanitizedFilename string) string {
	return fmt.Sprintf("%s/%s/%s", workspaceID, documentID, sanitizedFilename)
}

// Store wraps one GCS bucket.
type Store struct {
	client *gcs.Client
	bucket string

	// Explicit signing identity from JSON credentials; empty when running
	// on a platform identity, in which case the bucket handle signs.
	signEmail string
	signKey   []byte
}

// NewStore dials GCS and captures signing credentials when a JSON key is
// available.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewStore: %w", err)
	}
	s := &Store{client: client, bucket: bucket}
	if creds, err := google.FindDefaultCredentials(ctx, gcs.ScopeFullControl); err == nil && len(creds.JSON) > 0 {
		if conf, err := google.JWTConfigFromJSON(creds.JSON, gcs.ScopeFullControl); err == nil {
			s.signEmail = conf.Email
			s.signKey = conf.PrivateKey
		}
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

// Bucket is the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// SignedUploadURL creates a V4 PUT URL for the object. The client must
// upload with the exact content type.
func (s *Store) SignedUploadURL(objectPath, contentType string, expires time.Duration) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      http.MethodPut,
		Expires:     time.Now().Add(expires),
		ContentType: contentType,
	}
	if s.signEmail != "" {
		opts.GoogleAccessID = s.signEmail
		opts.PrivateKey = s.signKey
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("storage.SignedUploadURL: %w", err)
	}
	return url, nil
}

// ObjectExists reports whether the object is present in the bucket.
func (s *Store) ObjectExists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.ObjectExists: %w", err)
	}
	return true, nil
}

// Download reads the whole object into memory.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.Download: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage.Download: %w", err)
	}
	return data, nil
}

// Delete removes the object. A missing object reports false without error
// so delete flows stay idempotent.
func (s *Store) Delete(ctx context.Context, objectPath string) (bool, error) {
	err := s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.Delete: %w", err)
	}
	return true, nil
}
