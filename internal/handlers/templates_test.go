package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/services"
)

type stubTemplateService struct {
	page      services.TemplatePage
	listErr   error
	fields    []domain.FormField
	fieldsErr error

	listCalls   []string
	fieldsCalls []string
}

func (s *stubTemplateService) List(_ context.Context, folderID string, _ int, _ string) (services.TemplatePage, error) {
	s.listCalls = append(s.listCalls, folderID)
	if s.listErr != nil {
		return services.TemplatePage{}, s.listErr
	}
	return s.page, nil
}

func (s *stubTemplateService) Fields(_ context.Context, fileID string) ([]domain.FormField, error) {
	s.fieldsCalls = append(s.fieldsCalls, fileID)
	if s.fieldsErr != nil {
		return nil, s.fieldsErr
	}
	return s.fields, nil
}

func TestTemplateHandlerList(t *testing.T) {
	svc := &stubTemplateService{
		page: services.TemplatePage{
			Templates: []domain.Template{
				{FileID: "tpl-1", Name: "application.pdf", WebViewLink: "https://drive.example/tpl-1"},
			},
			NextPageToken: "next-token",
		},
	}
	handlers := NewTemplateHandlers(WithTemplateService(svc))

	req := httptest.NewRequest(http.MethodGet, "/templates?folderId=folder-1&pageSize=10", nil)
	rr := httptest.NewRecorder()
	handlers.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Templates []struct {
			FileID string `json:"fileId"`
			Name   string `json:"name"`
		} `json:"templates"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(body.Templates) != 1 || body.Templates[0].FileID != "tpl-1" {
		t.Fatalf("unexpected templates %+v", body.Templates)
	}
	if body.NextPageToken != "next-token" {
		t.Fatalf("unexpected next token %q", body.NextPageToken)
	}
	if len(svc.listCalls) != 1 || svc.listCalls[0] != "folder-1" {
		t.Fatalf("unexpected list calls %v", svc.listCalls)
	}
}

func TestTemplateHandlerListInvalidPageSize(t *testing.T) {
	handlers := NewTemplateHandlers(WithTemplateService(&stubTemplateService{}))

	req := httptest.NewRequest(http.MethodGet, "/templates?pageSize=abc", nil)
	rr := httptest.NewRecorder()
	handlers.List(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTemplateHandlerListFolderRequired(t *testing.T) {
	svc := &stubTemplateService{listErr: services.ErrTemplateFolderRequired}
	handlers := NewTemplateHandlers(WithTemplateService(svc))

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rr := httptest.NewRecorder()
	handlers.List(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTemplateHandlerFields(t *testing.T) {
	svc := &stubTemplateService{
		fields: []domain.FormField{
			{Name: "applicant_name", Type: domain.FieldTypeText, Page: 1},
			{Name: "agree", Type: domain.FieldTypeCheckbox, Page: 1},
		},
	}
	handlers := NewTemplateHandlers(WithTemplateService(svc))

	req := httptest.NewRequest(http.MethodGet, "/fields?fileId=tpl-1", nil)
	rr := httptest.NewRecorder()
	handlers.Fields(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		FileID string `json:"fileId"`
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.FileID != "tpl-1" || len(body.Fields) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Fields[1].Type != "checkbox" {
		t.Fatalf("expected checkbox type, got %q", body.Fields[1].Type)
	}
}

func TestTemplateHandlerFieldsValidation(t *testing.T) {
	svc := &stubTemplateService{}
	handlers := NewTemplateHandlers(WithTemplateService(svc))

	req := httptest.NewRequest(http.MethodGet, "/fields", nil)
	rr := httptest.NewRecorder()
	handlers.Fields(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(svc.fieldsCalls) != 0 {
		t.Fatalf("service must not be called without fileId")
	}
}

func TestTemplateHandlerFieldsNotFound(t *testing.T) {
	svc := &stubTemplateService{fieldsErr: fmt.Errorf("wrapped: %w", services.ErrTemplateNotFound)}
	handlers := NewTemplateHandlers(WithTemplateService(svc))

	req := httptest.NewRequest(http.MethodGet, "/fields?fileId=missing", nil)
	rr := httptest.NewRecorder()
	handlers.Fields(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
