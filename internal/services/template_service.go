package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tegaki-forms/api/internal/domain"
)

var (
	// ErrTemplateInvalidInput indicates the caller provided invalid arguments.
	ErrTemplateInvalidInput = errors.New("template: invalid input")
	// ErrTemplateFolderRequired indicates no folder was given and none is configured.
	ErrTemplateFolderRequired = errors.New("template: folder id is required")
)

// TemplatePage is one page of discoverable templates.
type TemplatePage struct {
	Templates     []domain.Template
	NextPageToken string
}

// TemplateService exposes template discovery and field inspection.
type TemplateService interface {
	List(ctx context.Context, folderID string, pageSize int, pageToken string) (TemplatePage, error)
	Fields(ctx context.Context, fileID string) ([]domain.FormField, error)
}

// TemplateServiceDeps bundles collaborators for the template service.
type TemplateServiceDeps struct {
	Drive           DriveClient
	Opener          TemplateOpener
	DefaultFolderID string
	Logger          *zap.Logger
}

type templateService struct {
	drive           DriveClient
	opener          TemplateOpener
	defaultFolderID string
	logger          *zap.Logger
}

var _ TemplateService = (*templateService)(nil)

// NewTemplateService assembles the template discovery service.
func NewTemplateService(deps TemplateServiceDeps) (TemplateService, error) {
	if deps.Drive == nil {
		return nil, errors.New("template service: drive client is required")
	}
	if deps.Opener == nil {
		return nil, errors.New("template service: template opener is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &templateService{
		drive:           deps.Drive,
		opener:          deps.Opener,
		defaultFolderID: strings.TrimSpace(deps.DefaultFolderID),
		logger:          logger,
	}, nil
}

func (s *templateService) List(ctx context.Context, folderID string, pageSize int, pageToken string) (TemplatePage, error) {
	folder := strings.TrimSpace(folderID)
	if folder == "" {
		folder = s.defaultFolderID
	}
	if folder == "" {
		return TemplatePage{}, ErrTemplateFolderRequired
	}

	page, err := s.drive.ListPDFs(ctx, folder, int64(pageSize), pageToken)
	if err != nil {
		return TemplatePage{}, translateTemplateError(err)
	}

	templates := make([]domain.Template, 0, len(page.Files))
	for _, f := range page.Files {
		template := domain.Template{
			FileID:      f.ID,
			Name:        f.Name,
			WebViewLink: f.WebViewLink,
			Size:        f.Size,
		}
		if !f.ModifiedAt.IsZero() {
			template.ModifiedAt = f.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		templates = append(templates, template)
	}
	return TemplatePage{Templates: templates, NextPageToken: page.NextPageToken}, nil
}

func (s *templateService) Fields(ctx context.Context, fileID string) ([]domain.FormField, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("%w: fileId is required", ErrTemplateInvalidInput)
	}

	doc, _, cleanup, err := s.opener.Open(ctx, fileID)
	defer cleanup()
	if err != nil {
		return nil, translateTemplateError(err)
	}
	return doc.Fields(), nil
}
