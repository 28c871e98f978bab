package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	pdfMimeType    = "application/pdf"
	defaultRetries = 3
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

var (
	// ErrNotFound indicates the requested file does not exist or is not visible to the service account.
	ErrNotFound = errors.New("drive: file not found")
	// ErrUnavailable wraps transient transport failures after retries are exhausted.
	ErrUnavailable = errors.New("drive: service unavailable")
)

// File describes the Drive metadata surfaced to callers.
type File struct {
	ID          string
	Name        string
	MimeType    string
	WebViewLink string
	ModifiedAt  time.Time
	Size        int64
}

// Page holds one page of a folder listing.
type Page struct {
	Files         []File
	NextPageToken string
}

// Client wraps the Drive v3 API with retries and logging.
type Client struct {
	service *drivev3.Service
	logger  *zap.Logger
	retries int
	sleep   func(context.Context, time.Duration) error
}

type clientConfig struct {
	logger     *zap.Logger
	retries    int
	clientOpts []option.ClientOption
	service    *drivev3.Service
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

// WithRetries overrides the transient-error retry budget.
func WithRetries(n int) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.retries = n
		}
	}
}

// WithClientOptions forwards Google API client options (credentials, scopes, endpoints).
func WithClientOptions(opts ...option.ClientOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithService injects a preconfigured Drive service (primarily for tests).
func WithService(service *drivev3.Service) ClientOption {
	return func(cfg *clientConfig) {
		cfg.service = service
	}
}

// NewClient constructs a Drive client using application default credentials unless overridden.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		logger:  zap.NewNop(),
		retries: defaultRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	service := cfg.service
	if service == nil {
		clientOpts := append([]option.ClientOption{option.WithScopes(drivev3.DriveScope)}, cfg.clientOpts...)
		var err error
		service, err = drivev3.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("drive: create service: %w", err)
		}
	}

	return &Client{
		service: service,
		logger:  cfg.logger,
		retries: cfg.retries,
		sleep:   gax.Sleep,
	}, nil
}

// Metadata fetches file metadata for the provided Drive file ID.
func (c *Client) Metadata(ctx context.Context, fileID string) (File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return File{}, fmt.Errorf("%w: empty file id", ErrNotFound)
	}

	var meta *drivev3.File
	err := c.withRetry(ctx, "files.get", func() error {
		var err error
		meta, err = c.service.Files.Get(fileID).
			SupportsAllDrives(true).
			Fields("id", "name", "mimeType", "webViewLink", "modifiedTime", "size").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return File{}, translateError(err)
	}

	return fileFromAPI(meta), nil
}

// Download streams the file content. The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, File, error) {
	meta, err := c.Metadata(ctx, fileID)
	if err != nil {
		return nil, File{}, err
	}

	var resp *http.Response
	err = c.withRetry(ctx, "files.download", func() error {
		var err error
		resp, err = c.service.Files.Get(fileID).
			SupportsAllDrives(true).
			Context(ctx).
			Download()
		return err
	})
	if err != nil {
		return nil, File{}, translateError(err)
	}

	return resp.Body, meta, nil
}

// UploadInput describes a file upload destination.
type UploadInput struct {
	Name     string
	FolderID string
	MimeType string
	Content  io.Reader
}

// Upload creates the file in Drive and returns its metadata including the web view link.
func (c *Client) Upload(ctx context.Context, in UploadInput) (File, error) {
	if in.Content == nil {
		return File{}, errors.New("drive: upload content is nil")
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = pdfMimeType
	}

	meta := &drivev3.File{
		Name:     strings.TrimSpace(in.Name),
		MimeType: mimeType,
	}
	if folder := strings.TrimSpace(in.FolderID); folder != "" {
		meta.Parents = []string{folder}
	}

	// Media uploads are not retried: the reader is consumed on the first attempt.
	created, err := c.service.Files.Create(meta).
		SupportsAllDrives(true).
		Media(in.Content, googleapi.ContentType(mimeType)).
		Fields("id", "name", "mimeType", "webViewLink", "modifiedTime", "size").
		Context(ctx).
		Do()
	if err != nil {
		return File{}, translateError(err)
	}

	return fileFromAPI(created), nil
}

// ListPDFs returns one page of PDF files contained in the given folder.
func (c *Client) ListPDFs(ctx context.Context, folderID string, pageSize int64, pageToken string) (Page, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return Page{}, fmt.Errorf("%w: empty folder id", ErrNotFound)
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	query := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", escapeQuery(folderID), pdfMimeType)

	var list *drivev3.FileList
	err := c.withRetry(ctx, "files.list", func() error {
		call := c.service.Files.List().
			Q(query).
			PageSize(pageSize).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			OrderBy("name").
			Fields("nextPageToken", "files(id, name, mimeType, webViewLink, modifiedTime, size)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		list, err = call.Do()
		return err
	})
	if err != nil {
		return Page{}, translateError(err)
	}

	page := Page{NextPageToken: list.NextPageToken}
	page.Files = make([]File, 0, len(list.Files))
	for _, f := range list.Files {
		page.Files = append(page.Files, fileFromAPI(f))
	}
	return page, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := c.retries
	if attempts <= 0 {
		attempts = 1
	}

	backoff := gax.Backoff{
		Initial:    retryBaseDelay,
		Max:        retryMaxDelay,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := backoff.Pause()
		c.logger.Warn("drive: transient error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Message)
		}
	}
	return err
}

func fileFromAPI(f *drivev3.File) File {
	if f == nil {
		return File{}
	}
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return File{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		WebViewLink: f.WebViewLink,
		ModifiedAt:  modified,
		Size:        f.Size,
	}
}

func escapeQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}
