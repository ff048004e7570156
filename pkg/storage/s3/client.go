// Package s3 stores blobs in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/storage"
)

const (
	pingTimeout = 5 * time.Second
	// DeleteObjects accepts at most 1000 keys per request.
	deleteBatchSize = 1000
)

// objectAPI is the subset of *s3.Client the store needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

type Client struct {
	api             objectAPI
	bucket          string
	uploadTimeout   time.Duration
	downloadTimeout time.Duration
}

var _ storage.Store = (*Client)(nil)

// NewClient loads the AWS configuration, builds the S3 client and checks the bucket.
func NewClient(ctx context.Context, cfg config.BlobConfig, s3cfg config.S3Config, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket name is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	api := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = s3cfg.UsePathStyle
	})

	client := newClient(api, cfg)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("s3 health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.Bucket), "s3 client initialized")
	}
	return client, nil
}

func newClient(api objectAPI, cfg config.BlobConfig) *Client {
	return &Client{
		api:             api,
		bucket:          cfg.Bucket,
		uploadTimeout:   cfg.UploadTimeout,
		downloadTimeout: cfg.DownloadTimeout,
	}
}

func (c *Client) Upload(ctx context.Context, category enums.FileStorageCategory, reference string, content []byte) error {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.uploadTimeout)
	defer cancel()

	_, err = c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, category enums.FileStorageCategory, reference string) (io.ReadCloser, error) {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.downloadTimeout)

	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 download %s: %w", key, err)
	}
	return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, nil
}

// DeleteIfExists removes the objects in batches. S3 treats missing keys as deleted.
func (c *Client) DeleteIfExists(ctx context.Context, category enums.FileStorageCategory, references []string) error {
	keys := make([]types.ObjectIdentifier, 0, len(references))
	for _, reference := range references {
		key, err := storage.ObjectKey(category, reference)
		if err != nil {
			return err
		}
		keys = append(keys, types.ObjectIdentifier{Key: aws.String(key)})
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		out, err := c.api.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3 delete batch: %w", err)
		}
		for _, failed := range out.Errors {
			if aws.ToString(failed.Code) == "NoSuchKey" {
				continue
			}
			return fmt.Errorf("s3 delete %s: %s", aws.ToString(failed.Key), aws.ToString(failed.Message))
		}
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket check failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
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
