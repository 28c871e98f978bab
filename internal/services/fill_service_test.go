package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/fieldmap"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/platform/storage"
)

type stubFormDocument struct {
	fields   []domain.FormField
	content  []byte
	applyErr error

	applied []fieldmap.Resolution
	locked  bool
}

func (d *stubFormDocument) Fields() []domain.FormField { return d.fields }

func (d *stubFormDocument) Apply(resolutions []fieldmap.Resolution, lock bool) (int, error) {
	if d.applyErr != nil {
		return 0, d.applyErr
	}
	d.applied = resolutions
	d.locked = lock
	return len(resolutions), nil
}

func (d *stubFormDocument) WriteTo(w io.Writer) error {
	_, err := w.Write(d.content)
	return err
}

type stubOpener struct {
	doc  FormDocument
	meta drive.File
	err  error

	openedRef string
	cleaned   bool
}

func (o *stubOpener) Open(_ context.Context, ref string) (FormDocument, drive.File, func(), error) {
	o.openedRef = ref
	cleanup := func() { o.cleaned = true }
	if o.err != nil {
		return nil, drive.File{}, cleanup, o.err
	}
	return o.doc, o.meta, cleanup, nil
}

type stubDriveClient struct {
	uploadResult drive.File
	uploadErr    error
	listPage     drive.Page
	listErr      error

	uploads     []drive.UploadInput
	uploadBody  []byte
	listFolders []string
}

func (d *stubDriveClient) Metadata(context.Context, string) (drive.File, error) {
	return drive.File{}, nil
}

func (d *stubDriveClient) Download(context.Context, string) (io.ReadCloser, drive.File, error) {
	return nil, drive.File{}, errors.New("not implemented")
}

func (d *stubDriveClient) Upload(_ context.Context, in drive.UploadInput) (drive.File, error) {
	d.uploads = append(d.uploads, in)
	if in.Content != nil {
		body, _ := io.ReadAll(in.Content)
		d.uploadBody = body
	}
	if d.uploadErr != nil {
		return drive.File{}, d.uploadErr
	}
	return d.uploadResult, nil
}

func (d *stubDriveClient) ListPDFs(_ context.Context, folderID string, _ int64, _ string) (drive.Page, error) {
	d.listFolders = append(d.listFolders, folderID)
	if d.listErr != nil {
		return drive.Page{}, d.listErr
	}
	return d.listPage, nil
}

type stubStorageClient struct {
	writeErr error

	writes     []storage.ObjectRef
	writeBody  []byte
	writeTypes []string
}

func (s *stubStorageClient) Open(context.Context, storage.ObjectRef) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (s *stubStorageClient) Write(_ context.Context, ref storage.ObjectRef, contentType string, content io.Reader) error {
	s.writes = append(s.writes, ref)
	s.writeTypes = append(s.writeTypes, contentType)
	body, _ := io.ReadAll(content)
	s.writeBody = body
	return s.writeErr
}

type stubPublisher struct {
	err      error
	messages []FillCompletedMessage
}

func (p *stubPublisher) PublishFillCompleted(_ context.Context, message FillCompletedMessage) (string, error) {
	p.messages = append(p.messages, message)
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func testFillDeps(opener *stubOpener, driveClient *stubDriveClient) FillServiceDeps {
	return FillServiceDeps{
		Opener: opener,
		Drive:  driveClient,
		Clock:  func() time.Time { return time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC) },
		NewID:  func() string { return "01TESTULID" },
	}
}

func TestFillServiceFillHappyPath(t *testing.T) {
	doc := &stubFormDocument{
		fields: []domain.FormField{
			{Name: "applicant_name", Type: domain.FieldTypeText},
			{Name: "agree", Type: domain.FieldTypeCheckbox, OnState: "On"},
		},
		content: []byte("%PDF-filled"),
	}
	opener := &stubOpener{doc: doc, meta: drive.File{ID: "tpl-1", Name: "application.pdf"}}
	driveClient := &stubDriveClient{
		uploadResult: drive.File{ID: "out-1", Name: "application-filled-01testulid.pdf", WebViewLink: "https://drive.example/out-1"},
	}
	archive := &stubStorageClient{}
	publisher := &stubPublisher{}

	deps := testFillDeps(opener, driveClient)
	deps.Storage = archive
	deps.ArchiveBucket = "fill-archive"
	deps.Publisher = publisher
	deps.DefaultFolderID = "folder-default"

	service, err := NewFillService(deps)
	if err != nil {
		t.Fatalf("NewFillService: %v", err)
	}

	result, err := service.Fill(context.Background(), FillRequest{
		TemplateFileID: " tpl-1 ",
		Fields: map[string]string{
			"Applicant Name": "Tanaka",
			"agree":          "yes",
			"unknown_key":    "x",
		},
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if opener.openedRef != "tpl-1" {
		t.Fatalf("expected trimmed template ref, got %q", opener.openedRef)
	}
	if !opener.cleaned {
		t.Fatalf("expected temp cleanup to run")
	}
	if result.FilledCount != 2 {
		t.Fatalf("expected 2 filled fields, got %d", result.FilledCount)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "unknown_key" {
		t.Fatalf("expected unknown_key skipped, got %v", result.Skipped)
	}
	if doc.locked {
		t.Fatalf("fill mode must not lock fields")
	}

	if len(driveClient.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(driveClient.uploads))
	}
	upload := driveClient.uploads[0]
	if upload.Name != "application-filled-01testulid.pdf" {
		t.Fatalf("unexpected output name %q", upload.Name)
	}
	if upload.FolderID != "folder-default" {
		t.Fatalf("expected default folder, got %q", upload.FolderID)
	}
	if !bytes.Equal(driveClient.uploadBody, doc.content) {
		t.Fatalf("uploaded bytes do not match document output")
	}
	if result.File.ID != "out-1" || result.File.WebViewLink != "https://drive.example/out-1" {
		t.Fatalf("unexpected result file %#v", result.File)
	}

	if len(archive.writes) != 1 {
		t.Fatalf("expected one archive write, got %d", len(archive.writes))
	}
	if archive.writes[0].Bucket != "fill-archive" {
		t.Fatalf("unexpected archive bucket %q", archive.writes[0].Bucket)
	}
	if !strings.HasPrefix(archive.writes[0].Object, "filled/2026/08/26/") {
		t.Fatalf("unexpected archive object %q", archive.writes[0].Object)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("expected one completion event, got %d", len(publisher.messages))
	}
	message := publisher.messages[0]
	if message.TemplateFileID != "tpl-1" || message.DriveFileID != "out-1" {
		t.Fatalf("unexpected completion message %#v", message)
	}
	if message.FilledCount != 2 || message.Mode != "fill" || message.RequestID != "req-1" {
		t.Fatalf("unexpected completion message %#v", message)
	}
}

func TestFillServiceValidation(t *testing.T) {
	tests := []struct {
		name string
		req  FillRequest
	}{
		{name: "missing template id", req: FillRequest{Fields: map[string]string{"a": "b"}}},
		{name: "empty fields", req: FillRequest{TemplateFileID: "tpl-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &stubOpener{doc: &stubFormDocument{}}
			service, err := NewFillService(testFillDeps(opener, &stubDriveClient{}))
			if err != nil {
				t.Fatalf("NewFillService: %v", err)
			}

			_, err = service.Fill(context.Background(), tt.req)
			if !errors.Is(err, ErrFillInvalidInput) {
				t.Fatalf("expected ErrFillInvalidInput, got %v", err)
			}
		})
	}
}

func TestFillServiceTemplateNotFound(t *testing.T) {
	opener := &stubOpener{err: fmt.Errorf("wrapped: %w", drive.ErrNotFound)}
	service, err := NewFillService(testFillDeps(opener, &stubDriveClient{}))
	if err != nil {
		t.Fatalf("NewFillService: %v", err)
	}

	_, err = service.Fill(context.Background(), FillRequest{
		TemplateFileID: "missing",
		Fields:         map[string]string{"a": "b"},
	})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if !opener.cleaned {
		t.Fatalf("expected cleanup to run on error")
	}
}

func TestFillServiceUploadUnavailable(t *testing.T) {
	doc := &stubFormDocument{
		fields:  []domain.FormField{{Name: "a", Type: domain.FieldTypeText}},
		content: []byte("%PDF"),
	}
	opener := &stubOpener{doc: doc, meta: drive.File{ID: "tpl-1", Name: "t.pdf"}}
	driveClient := &stubDriveClient{uploadErr: fmt.Errorf("wrapped: %w", drive.ErrUnavailable)}

	service, err := NewFillService(testFillDeps(opener, driveClient))
	if err != nil {
		t.Fatalf("NewFillService: %v", err)
	}

	_, err = service.Fill(context.Background(), FillRequest{
		TemplateFileID: "tpl-1",
		Fields:         map[string]string{"a": "b"},
	})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFillServiceModesAndWatermark(t *testing.T) {
	tests := []struct {
		name       string
		mode       domain.FillMode
		text       string
		wantLock   bool
		wantOnTop  bool
		wantMarked bool
	}{
		{name: "fill stamps on top", mode: domain.FillModeFill, text: "DRAFT", wantLock: false, wantOnTop: true, wantMarked: true},
		{name: "lock without text skips watermark", mode: domain.FillModeLock, wantLock: true},
		{name: "print marks under content", mode: domain.FillModePrint, text: "控", wantLock: true, wantOnTop: false, wantMarked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &stubFormDocument{
				fields:  []domain.FormField{{Name: "a", Type: domain.FieldTypeText}},
				content: []byte("%PDF"),
			}
			opener := &stubOpener{doc: doc, meta: drive.File{ID: "tpl-1", Name: "t.pdf"}}
			driveClient := &stubDriveClient{uploadResult: drive.File{ID: "out-1"}}

			var markedText string
			var markedOnTop bool
			deps := testFillDeps(opener, driveClient)
			deps.Watermark = func(rs io.ReadSeeker, w io.Writer, text string, onTop bool) error {
				markedText = text
				markedOnTop = onTop
				_, err := io.Copy(w, rs)
				return err
			}

			service, err := NewFillService(deps)
			if err != nil {
				t.Fatalf("NewFillService: %v", err)
			}

			_, err = service.Fill(context.Background(), FillRequest{
				TemplateFileID: "tpl-1",
				Fields:         map[string]string{"a": "b"},
				Mode:           tt.mode,
				WatermarkText:  tt.text,
			})
			if err != nil {
				t.Fatalf("Fill: %v", err)
			}

			if doc.locked != tt.wantLock {
				t.Fatalf("expected lock %v, got %v", tt.wantLock, doc.locked)
			}
			if tt.wantMarked {
				if markedText != tt.text {
					t.Fatalf("expected watermark text %q, got %q", tt.text, markedText)
				}
				if markedOnTop != tt.wantOnTop {
					t.Fatalf("expected onTop %v, got %v", tt.wantOnTop, markedOnTop)
				}
			} else if markedText != "" {
				t.Fatalf("expected no watermark, got %q", markedText)
			}
		})
	}
}

func TestFillServiceOutputName(t *testing.T) {
	doc := &stubFormDocument{
		fields:  []domain.FormField{{Name: "a", Type: domain.FieldTypeText}},
		content: []byte("%PDF"),
	}
	opener := &stubOpener{doc: doc, meta: drive.File{ID: "tpl-1", Name: "application.pdf"}}
	driveClient := &stubDriveClient{uploadResult: drive.File{ID: "out-1"}}

	service, err := NewFillService(testFillDeps(opener, driveClient))
	if err != nil {
		t.Fatalf("NewFillService: %v", err)
	}

	_, err = service.Fill(context.Background(), FillRequest{
		TemplateFileID: "tpl-1",
		Fields:         map[string]string{"a": "b"},
		OutputName:     "完成版",
		FolderID:       "folder-override",
	})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	upload := driveClient.uploads[0]
	if upload.Name != "完成版.pdf" {
		t.Fatalf("expected pdf suffix appended, got %q", upload.Name)
	}
	if upload.FolderID != "folder-override" {
		t.Fatalf("expected folder override, got %q", upload.FolderID)
	}
}

func TestFillServiceDryRun(t *testing.T) {
	doc := &stubFormDocument{
		fields: []domain.FormField{
			{Name: "applicant_name", Type: domain.FieldTypeText},
			{Name: "agree", Type: domain.FieldTypeCheckbox, OnState: "On"},
		},
	}
	opener := &stubOpener{doc: doc, meta: drive.File{ID: "tpl-1", Name: "application.pdf"}}
	driveClient := &stubDriveClient{}

	service, err := NewFillService(testFillDeps(opener, driveClient))
	if err != nil {
		t.Fatalf("NewFillService: %v", err)
	}

	result, err := service.DryRun(context.Background(), FillRequest{
		TemplateFileID: "tpl-1",
		Fields: map[string]string{
			"name":  "Tanaka",
			"agree": "maybe",
		},
	})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	if result.FieldCount != 2 {
		t.Fatalf("expected 2 template fields, got %d", result.FieldCount)
	}
	if len(result.Resolutions) != 1 || result.Resolutions[0].FieldName != "applicant_name" {
		t.Fatalf("unexpected resolutions %#v", result.Resolutions)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != fieldmap.ReasonBadBool {
		t.Fatalf("unexpected skips %#v", result.Skipped)
	}
	if len(doc.applied) != 0 {
		t.Fatalf("dry run must not apply values")
	}
	if len(driveClient.uploads) != 0 {
		t.Fatalf("dry run must not upload")
	}
}
