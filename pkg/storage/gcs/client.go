// Package gcs stores blobs in Google Cloud Storage through the JSON API.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storagev1 "google.golang.org/api/storage/v1"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/storage"
)

const (
	pingTimeout = 5 * time.Second
	contentType = "application/octet-stream"
)

type Client struct {
	service         *storagev1.Service
	bucket          string
	uploadTimeout   time.Duration
	downloadTimeout time.Duration
}

var _ storage.Store = (*Client)(nil)

// NewClient builds the GCS backend and verifies the bucket is reachable.
func NewClient(ctx context.Context, cfg config.BlobConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	service, err := storagev1.NewService(ctx, clientOptions(cfg, gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs service: %w", err)
	}

	client := &Client{
		service:         service,
		bucket:          cfg.Bucket,
		uploadTimeout:   cfg.UploadTimeout,
		downloadTimeout: cfg.DownloadTimeout,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.Bucket), "gcs client initialized")
	}
	return client, nil
}

func clientOptions(cfg config.BlobConfig, gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		// emulator endpoints (fake-gcs-server) take no credentials
		return append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return append(opts, option.WithScopes(storagev1.DevstorageReadWriteScope))
}

func (c *Client) Upload(ctx context.Context, category enums.FileStorageCategory, reference string, content []byte) error {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.uploadTimeout)
	defer cancel()

	_, err = c.service.Objects.Insert(c.bucket, &storagev1.Object{Name: key, ContentType: contentType}).
		Media(bytes.NewReader(content), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	return nil
}

// Download returns the object body. The download timeout bounds the whole read,
// so callers must consume the body before it elapses.
func (c *Client) Download(ctx context.Context, category enums.FileStorageCategory, reference string) (io.ReadCloser, error) {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.downloadTimeout)

	resp, err := c.service.Objects.Get(c.bucket, key).Context(ctx).Download()
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("gcs download %s: %w", key, err)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) DeleteIfExists(ctx context.Context, category enums.FileStorageCategory, references []string) error {
	for _, reference := range references {
		key, err := storage.ObjectKey(category, reference)
		if err != nil {
			return err
		}
		if err := c.service.Objects.Delete(c.bucket, key).Context(ctx).Do(); err != nil && !isNotFound(err) {
			return fmt.Errorf("gcs delete %s: %w", key, err)
		}
	}
	return nil
}

// Ping lists at most one object, which requires storage.objects.list.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.service == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.service.Objects.List(c.bucket).MaxResults(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcs object check failed: %w", err)
	}
	return nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
