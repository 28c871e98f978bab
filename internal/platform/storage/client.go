package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrInvalidURI indicates a malformed gs:// reference.
	ErrInvalidURI = errors.New("storage: invalid gs:// uri")
)

// ObjectRef addresses a single object in a bucket.
type ObjectRef struct {
	Bucket string
	Object string
}

// String renders the reference back to gs:// form.
func (r ObjectRef) String() string {
	return fmt.Sprintf("gs://%s/%s", r.Bucket, r.Object)
}

// ParseURI splits a gs://bucket/object reference.
func ParseURI(uri string) (ObjectRef, error) {
	trimmed := strings.TrimSpace(uri)
	if !strings.HasPrefix(trimmed, "gs://") {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	rest := strings.TrimPrefix(trimmed, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return ObjectRef{Bucket: parts[0], Object: parts[1]}, nil
}

// IsURI reports whether the value looks like a gs:// reference.
func IsURI(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "gs://")
}

// Client wraps Cloud Storage object reads and writes.
type Client struct {
	client *gcs.Client
	logger *zap.Logger
}

type clientConfig struct {
	logger     *zap.Logger
	clientOpts []option.ClientOption
	client     *gcs.Client
}

// ClientOption customises Client construction.
type ClientOption func(*clientConfig)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClientOptions forwards Cloud client options.
func WithClientOptions(opts ...option.ClientOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithGCSClient injects a preconfigured storage client (primarily for tests).
func WithGCSClient(client *gcs.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.client = client
	}
}

// NewClient constructs a Cloud Storage client.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	client := cfg.client
	if client == nil {
		var err error
		client, err = gcs.NewClient(ctx, cfg.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("storage: create client: %w", err)
		}
	}

	return &Client{client: client, logger: cfg.logger}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Open returns a reader for the referenced object. The caller must close it.
func (c *Client) Open(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
	reader, err := c.client.Bucket(ref.Bucket).Object(ref.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
		}
		return nil, fmt.Errorf("storage: open %s: %w", ref, err)
	}
	return reader, nil
}

// Write stores the content under the referenced object with the given content type.
func (c *Client) Write(ctx context.Context, ref ObjectRef, contentType string, content io.Reader) error {
	writer := c.client.Bucket(ref.Bucket).Object(ref.Object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", ref, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", ref, err)
	}
	c.logger.Debug("storage: object written", zap.String("ref", ref.String()))
	return nil
}
