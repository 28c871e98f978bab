package services

import (
	"context"
	"io"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/fieldmap"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/platform/storage"
)

// DriveClient is the slice of the Drive client the services consume.
type DriveClient interface {
	Metadata(ctx context.Context, fileID string) (drive.File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, drive.File, error)
	Upload(ctx context.Context, in drive.UploadInput) (drive.File, error)
	ListPDFs(ctx context.Context, folderID string, pageSize int64, pageToken string) (drive.Page, error)
}

// StorageClient covers the Cloud Storage operations used for gs:// templates
// and output archiving.
type StorageClient interface {
	Open(ctx context.Context, ref storage.ObjectRef) (io.ReadCloser, error)
	Write(ctx context.Context, ref storage.ObjectRef, contentType string, content io.Reader) error
}

// CompletionPublisher emits the fill.completed event after a successful
// upload.
type CompletionPublisher interface {
	PublishFillCompleted(ctx context.Context, message FillCompletedMessage) (string, error)
}

// FormDocument is the form manipulation surface backed by an open PDF.
type FormDocument interface {
	Fields() []domain.FormField
	Apply(resolutions []fieldmap.Resolution, lock bool) (int, error)
	WriteTo(w io.Writer) error
}

// TemplateOpener loads a template referenced by Drive file id or gs:// URI
// into a form document. The returned cleanup func releases any temp files and
// must always be called.
type TemplateOpener interface {
	Open(ctx context.Context, ref string) (FormDocument, drive.File, func(), error)
}
