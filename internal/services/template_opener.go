package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tegaki-forms/api/internal/pdfform"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/platform/storage"
)

// templateOpener resolves a template reference against Drive or Cloud
// Storage, spools the bytes to a per-request temp file, and parses the form.
type templateOpener struct {
	drive   DriveClient
	storage StorageClient
}

// NewTemplateOpener builds the production opener. The storage client may be
// nil when gs:// references are not used.
func NewTemplateOpener(driveClient DriveClient, storageClient StorageClient) (TemplateOpener, error) {
	if driveClient == nil {
		return nil, errors.New("template opener: drive client is required")
	}
	return &templateOpener{drive: driveClient, storage: storageClient}, nil
}

func (o *templateOpener) Open(ctx context.Context, ref string) (FormDocument, drive.File, func(), error) {
	reader, meta, err := o.fetch(ctx, ref)
	if err != nil {
		return nil, drive.File{}, func() {}, err
	}
	defer reader.Close()

	dir, err := os.MkdirTemp("", "tegaki-fill-*")
	if err != nil {
		return nil, drive.File{}, func() {}, fmt.Errorf("template opener: temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	tempPath := filepath.Join(dir, "template.pdf")
	file, err := os.Create(tempPath)
	if err != nil {
		cleanup()
		return nil, drive.File{}, func() {}, fmt.Errorf("template opener: temp file: %w", err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		cleanup()
		return nil, drive.File{}, func() {}, fmt.Errorf("template opener: spool template: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		cleanup()
		return nil, drive.File{}, func() {}, fmt.Errorf("template opener: rewind template: %w", err)
	}

	doc, err := pdfform.Read(file)
	file.Close()
	if err != nil {
		cleanup()
		return nil, drive.File{}, func() {}, err
	}
	return doc, meta, cleanup, nil
}

func (o *templateOpener) fetch(ctx context.Context, ref string) (io.ReadCloser, drive.File, error) {
	if storage.IsURI(ref) {
		if o.storage == nil {
			return nil, drive.File{}, errors.New("template opener: storage client not configured for gs:// templates")
		}
		objectRef, err := storage.ParseURI(ref)
		if err != nil {
			return nil, drive.File{}, err
		}
		reader, err := o.storage.Open(ctx, objectRef)
		if err != nil {
			return nil, drive.File{}, err
		}
		meta := drive.File{
			ID:       objectRef.String(),
			Name:     path.Base(objectRef.Object),
			MimeType: "application/pdf",
		}
		return reader, meta, nil
	}

	return o.drive.Download(ctx, strings.TrimSpace(ref))
}
