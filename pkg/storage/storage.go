// Package storage defines the blob store holding message content and
// rendered bundle documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/edihub/edi-backend/pkg/enums"
)

// ErrNotFound is returned by Download when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Store persists opaque content by reference. Upload returns only after the
// content is durable.
type Store interface {
	Upload(ctx context.Context, category enums.FileStorageCategory, reference string, content []byte) error
	Download(ctx context.Context, category enums.FileStorageCategory, reference string) (io.ReadCloser, error)
	DeleteIfExists(ctx context.Context, category enums.FileStorageCategory, references []string) error
	Ping(ctx context.Context) error
}

// ObjectKey joins the category namespace and the reference.
func ObjectKey(category enums.FileStorageCategory, reference string) (string, error) {
	if !category.IsValid() {
		return "", fmt.Errorf("invalid storage category %q", category)
	}
	reference = strings.Trim(strings.TrimSpace(reference), "/")
	if reference == "" {
		return "", errors.New("storage reference is required")
	}
	return string(category) + "/" + reference, nil
}

// ReadAll downloads and fully reads an object.
func ReadAll(ctx context.Context, store Store, category enums.FileStorageCategory, reference string) ([]byte, error) {
	body, err := store.Download(ctx, category, reference)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
