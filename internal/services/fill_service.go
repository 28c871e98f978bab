package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/fieldmap"
	"github.com/tegaki-forms/api/internal/pdfform"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/platform/storage"
)

var (
	// ErrFillInvalidInput indicates the caller provided invalid arguments.
	ErrFillInvalidInput = errors.New("fill: invalid input")
	// ErrTemplateNotFound indicates the referenced template does not exist.
	ErrTemplateNotFound = errors.New("fill: template not found")
	// ErrTemplateUnreadable indicates the template is not a fillable PDF.
	ErrTemplateUnreadable = errors.New("fill: template unreadable")
	// ErrUpstreamUnavailable indicates Drive or Cloud Storage failed after retries.
	ErrUpstreamUnavailable = errors.New("fill: upstream unavailable")
)

const pdfContentType = "application/pdf"

// FillRequest carries one fill invocation. Fields holds the already
// normalised string map.
type FillRequest struct {
	TemplateFileID string
	Fields         map[string]string
	OutputName     string
	FolderID       string
	Mode           domain.FillMode
	WatermarkText  string
	RequestID      string
}

// FillResult is the outcome surfaced to the handler.
type FillResult struct {
	FilledCount int
	Skipped     []string
	File        drive.File
}

// DryRunResult reports resolution outcomes without touching Drive.
type DryRunResult struct {
	Template    drive.File
	FieldCount  int
	Resolutions []fieldmap.Resolution
	Skipped     []fieldmap.Skip
}

// FillService fills PDF templates and uploads the results.
type FillService interface {
	Fill(ctx context.Context, req FillRequest) (FillResult, error)
	DryRun(ctx context.Context, req FillRequest) (DryRunResult, error)
}

// FillServiceDeps bundles collaborators required to construct a fill service.
type FillServiceDeps struct {
	Opener          TemplateOpener
	Drive           DriveClient
	Storage         StorageClient
	Publisher       CompletionPublisher
	ArchiveBucket   string
	DefaultFolderID string
	Clock           func() time.Time
	NewID           func() string
	Logger          *zap.Logger
	Meter           metric.Meter
	Watermark       func(rs io.ReadSeeker, w io.Writer, text string, onTop bool) error
}

type fillService struct {
	opener          TemplateOpener
	drive           DriveClient
	storage         StorageClient
	publisher       CompletionPublisher
	archiveBucket   string
	defaultFolderID string
	clock           func() time.Time
	newID           func() string
	logger          *zap.Logger
	watermark       func(rs io.ReadSeeker, w io.Writer, text string, onTop bool) error

	fillCounter   metric.Int64Counter
	fieldsCounter metric.Int64Counter
	fillLatency   metric.Float64Histogram
}

var _ FillService = (*fillService)(nil)

// NewFillService assembles the fill orchestration service.
func NewFillService(deps FillServiceDeps) (FillService, error) {
	if deps.Opener == nil {
		return nil, errors.New("fill service: template opener is required")
	}
	if deps.Drive == nil {
		return nil, errors.New("fill service: drive client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	watermark := deps.Watermark
	if watermark == nil {
		watermark = pdfform.Watermark
	}

	s := &fillService{
		opener:          deps.Opener,
		drive:           deps.Drive,
		storage:         deps.Storage,
		publisher:       deps.Publisher,
		archiveBucket:   strings.TrimSpace(deps.ArchiveBucket),
		defaultFolderID: strings.TrimSpace(deps.DefaultFolderID),
		clock:           clock,
		newID:           newID,
		logger:          logger,
		watermark:       watermark,
	}

	if deps.Meter != nil {
		var err error
		s.fillCounter, err = deps.Meter.Int64Counter("fill.completed",
			metric.WithDescription("Number of fill requests by outcome"))
		if err != nil {
			return nil, fmt.Errorf("fill service: create fill counter: %w", err)
		}
		s.fieldsCounter, err = deps.Meter.Int64Counter("fill.fields.filled",
			metric.WithDescription("Number of form fields that received a value"))
		if err != nil {
			return nil, fmt.Errorf("fill service: create fields counter: %w", err)
		}
		s.fillLatency, err = deps.Meter.Float64Histogram("fill.duration",
			metric.WithDescription("End-to-end fill latency in milliseconds"),
			metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("fill service: create latency histogram: %w", err)
		}
	}

	return s, nil
}

func (s *fillService) Fill(ctx context.Context, req FillRequest) (FillResult, error) {
	start := s.clock()

	req, err := s.validate(req)
	if err != nil {
		return FillResult{}, err
	}

	doc, meta, cleanup, err := s.opener.Open(ctx, req.TemplateFileID)
	defer cleanup()
	if err != nil {
		s.record(ctx, req.Mode, "fetch_error", 0, start)
		return FillResult{}, translateTemplateError(err)
	}

	result := fieldmap.Resolve(doc.Fields(), req.Fields)
	lock := req.Mode == domain.FillModeLock || req.Mode == domain.FillModePrint

	applied, err := doc.Apply(result.Resolutions, lock)
	if err != nil {
		s.record(ctx, req.Mode, "apply_error", applied, start)
		return FillResult{}, fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
	}

	var filled bytes.Buffer
	if err := doc.WriteTo(&filled); err != nil {
		s.record(ctx, req.Mode, "write_error", applied, start)
		return FillResult{}, fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
	}

	output := &filled
	if req.WatermarkText != "" {
		var stamped bytes.Buffer
		onTop := req.Mode != domain.FillModePrint
		if err := s.watermark(bytes.NewReader(filled.Bytes()), &stamped, req.WatermarkText, onTop); err != nil {
			s.record(ctx, req.Mode, "watermark_error", applied, start)
			return FillResult{}, fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
		}
		output = &stamped
	}

	name := s.outputName(req.OutputName, meta.Name)
	uploaded, err := s.drive.Upload(ctx, drive.UploadInput{
		Name:     name,
		FolderID: s.folderID(req.FolderID),
		MimeType: pdfContentType,
		Content:  bytes.NewReader(output.Bytes()),
	})
	if err != nil {
		s.record(ctx, req.Mode, "upload_error", applied, start)
		if errors.Is(err, drive.ErrUnavailable) {
			return FillResult{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return FillResult{}, fmt.Errorf("fill: upload: %w", err)
	}

	s.archive(ctx, name, output.Bytes())
	s.publishCompleted(ctx, req, uploaded, applied)
	s.record(ctx, req.Mode, "ok", applied, start)

	s.logger.Info("fill completed",
		zap.String("template_file_id", req.TemplateFileID),
		zap.String("drive_file_id", uploaded.ID),
		zap.String("mode", string(req.Mode)),
		zap.Int("filled_count", applied),
		zap.Int("skipped_count", len(result.Skipped)),
	)

	return FillResult{
		FilledCount: applied,
		Skipped:     result.SkippedKeys(),
		File:        uploaded,
	}, nil
}

func (s *fillService) DryRun(ctx context.Context, req FillRequest) (DryRunResult, error) {
	req, err := s.validate(req)
	if err != nil {
		return DryRunResult{}, err
	}

	doc, meta, cleanup, err := s.opener.Open(ctx, req.TemplateFileID)
	defer cleanup()
	if err != nil {
		return DryRunResult{}, translateTemplateError(err)
	}

	fields := doc.Fields()
	result := fieldmap.Resolve(fields, req.Fields)
	return DryRunResult{
		Template:    meta,
		FieldCount:  len(fields),
		Resolutions: result.Resolutions,
		Skipped:     result.Skipped,
	}, nil
}

func (s *fillService) validate(req FillRequest) (FillRequest, error) {
	req.TemplateFileID = strings.TrimSpace(req.TemplateFileID)
	if req.TemplateFileID == "" {
		return req, fmt.Errorf("%w: templateFileId is required", ErrFillInvalidInput)
	}
	if len(req.Fields) == 0 {
		return req, fmt.Errorf("%w: fields must not be empty", ErrFillInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = domain.FillModeFill
	}
	req.OutputName = strings.TrimSpace(req.OutputName)
	req.WatermarkText = strings.TrimSpace(req.WatermarkText)
	return req, nil
}

func (s *fillService) outputName(requested, templateName string) string {
	name := requested
	if name == "" {
		base := strings.TrimSuffix(templateName, ".pdf")
		if base == "" {
			base = "document"
		}
		name = fmt.Sprintf("%s-filled-%s", base, strings.ToLower(s.newID()))
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func (s *fillService) folderID(requested string) string {
	if folder := strings.TrimSpace(requested); folder != "" {
		return folder
	}
	return s.defaultFolderID
}

// archive keeps a dated copy of the output in the configured bucket.
// Failures are logged, never fatal.
func (s *fillService) archive(ctx context.Context, name string, content []byte) {
	if s.storage == nil || s.archiveBucket == "" {
		return
	}
	ref := storage.ObjectRef{
		Bucket: s.archiveBucket,
		Object: fmt.Sprintf("filled/%s/%s", s.clock().UTC().Format("2006/01/02"), name),
	}
	if err := s.storage.Write(ctx, ref, pdfContentType, bytes.NewReader(content)); err != nil {
		s.logger.Warn("fill: archive copy failed", zap.String("ref", ref.String()), zap.Error(err))
	}
}

func (s *fillService) publishCompleted(ctx context.Context, req FillRequest, uploaded drive.File, applied int) {
	if s.publisher == nil {
		return
	}
	message := FillCompletedMessage{
		EventID:        s.newID(),
		TemplateFileID: req.TemplateFileID,
		DriveFileID:    uploaded.ID,
		DriveFileName:  uploaded.Name,
		WebViewLink:    uploaded.WebViewLink,
		FilledCount:    applied,
		Mode:           string(req.Mode),
		RequestID:      req.RequestID,
		CompletedAt:    s.clock().UTC(),
	}
	if _, err := s.publisher.PublishFillCompleted(ctx, message); err != nil {
		s.logger.Warn("fill: completion event publish failed", zap.Error(err))
	}
}

func (s *fillService) record(ctx context.Context, mode domain.FillMode, outcome string, applied int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("outcome", outcome),
	)
	if s.fillCounter != nil {
		s.fillCounter.Add(ctx, 1, attrs)
	}
	if s.fieldsCounter != nil && applied > 0 {
		s.fieldsCounter.Add(ctx, int64(applied), attrs)
	}
	if s.fillLatency != nil {
		s.fillLatency.Record(ctx, float64(s.clock().Sub(start))/float64(time.Millisecond), attrs)
	}
}

// translateTemplateError maps transport errors to the service sentinels.
func translateTemplateError(err error) error {
	switch {
	case errors.Is(err, drive.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	case errors.Is(err, drive.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	case errors.Is(err, pdfform.ErrNoForm), errors.Is(err, storage.ErrInvalidURI):
		return fmt.Errorf("%w: %v", ErrTemplateUnreadable, err)
	default:
		return err
	}
}
