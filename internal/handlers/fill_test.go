package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/services"
)

type stubFillService struct {
	fillResult services.FillResult
	fillErr    error
	dryResult  services.DryRunResult
	dryErr     error

	fillRequests []services.FillRequest
	dryRequests  []services.FillRequest
}

func (s *stubFillService) Fill(_ context.Context, req services.FillRequest) (services.FillResult, error) {
	s.fillRequests = append(s.fillRequests, req)
	if s.fillErr != nil {
		return services.FillResult{}, s.fillErr
	}
	return s.fillResult, nil
}

func (s *stubFillService) DryRun(_ context.Context, req services.FillRequest) (services.DryRunResult, error) {
	s.dryRequests = append(s.dryRequests, req)
	if s.dryErr != nil {
		return services.DryRunResult{}, s.dryErr
	}
	return s.dryResult, nil
}

func postFill(t *testing.T, handlers *FillHandlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fill", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handlers.Fill(rr, req)
	return rr
}

func TestFillHandlerSuccess(t *testing.T) {
	svc := &stubFillService{
		fillResult: services.FillResult{
			FilledCount: 3,
			Skipped:     []string{"extra_key"},
			File: drive.File{
				ID:          "out-1",
				Name:        "application-filled.pdf",
				WebViewLink: "https://drive.example/out-1",
			},
		},
	}
	handlers := NewFillHandlers(WithFillService(svc))

	rr := postFill(t, handlers, `{
		"templateFileId": "tpl-1",
		"fields": {"name": "Tanaka", "agree": true, "count": 2},
		"mode": "lock",
		"watermarkText": "<b>DRAFT</b>"
	}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		OK          bool     `json:"ok"`
		FilledCount int      `json:"filledCount"`
		Skipped     []string `json:"skipped"`
		DriveFile   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"driveFile"`
		WebViewLink string `json:"webViewLink"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !body.OK || body.FilledCount != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.DriveFile.ID != "out-1" || body.WebViewLink != "https://drive.example/out-1" {
		t.Fatalf("unexpected drive file %+v", body)
	}
	if len(body.Skipped) != 1 || body.Skipped[0] != "extra_key" {
		t.Fatalf("unexpected skipped %v", body.Skipped)
	}

	if len(svc.fillRequests) != 1 {
		t.Fatalf("expected one service call, got %d", len(svc.fillRequests))
	}
	captured := svc.fillRequests[0]
	if captured.Mode != domain.FillModeLock {
		t.Fatalf("expected lock mode, got %q", captured.Mode)
	}
	if captured.Fields["agree"] != "true" || captured.Fields["count"] != "2" {
		t.Fatalf("expected normalised fields, got %#v", captured.Fields)
	}
	if captured.WatermarkText != "DRAFT" {
		t.Fatalf("expected sanitized watermark, got %q", captured.WatermarkText)
	}
}

func TestFillHandlerValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{
			name:       "missing template id",
			body:       `{"fields": {"a": "b"}}`,
			wantDetail: "templateFileId is required",
		},
		{
			name:       "empty fields",
			body:       `{"templateFileId": "tpl-1", "fields": {}}`,
			wantDetail: "fields must not be empty",
		},
		{
			name:       "absent fields",
			body:       `{"templateFileId": "tpl-1"}`,
			wantDetail: "fields must not be empty",
		},
		{
			name:       "invalid mode",
			body:       `{"templateFileId": "tpl-1", "fields": {"a": "b"}, "mode": "burn"}`,
			wantDetail: "not one of fill, lock, print",
		},
		{
			name:       "unsupported value type",
			body:       `{"templateFileId": "tpl-1", "fields": {"a": {"nested": true}}}`,
			wantDetail: "unsupported value type",
		},
		{
			name:       "malformed json",
			body:       `{"templateFileId"`,
			wantDetail: "decode request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubFillService{}
			handlers := NewFillHandlers(WithFillService(svc))

			rr := postFill(t, handlers, tt.body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			var body struct {
				Error  string `json:"error"`
				Detail string `json:"detail"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("parse response: %v", err)
			}
			if body.Error != "invalid_request" {
				t.Fatalf("expected invalid_request, got %q", body.Error)
			}
			if !strings.Contains(body.Detail, tt.wantDetail) {
				t.Fatalf("expected detail containing %q, got %q", tt.wantDetail, body.Detail)
			}
			if len(svc.fillRequests) != 0 {
				t.Fatalf("service must not be called on validation failure")
			}
		})
	}
}

func TestFillHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "template not found",
			err:        fmt.Errorf("wrapped: %w", services.ErrTemplateNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "template_not_found",
		},
		{
			name:       "upstream unavailable",
			err:        fmt.Errorf("wrapped: %w", services.ErrUpstreamUnavailable),
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_unavailable",
		},
		{
			name:       "template unreadable",
			err:        fmt.Errorf("wrapped: %w", services.ErrTemplateUnreadable),
			wantStatus: http.StatusBadRequest,
			wantCode:   "template_unreadable",
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubFillService{fillErr: tt.err}
			handlers := NewFillHandlers(WithFillService(svc))

			rr := postFill(t, handlers, `{"templateFileId": "tpl-1", "fields": {"a": "b"}}`)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("parse response: %v", err)
			}
			if body.Error != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, body.Error)
			}
		})
	}
}

func TestFillHandlerBodyLimit(t *testing.T) {
	svc := &stubFillService{}
	handlers := NewFillHandlers(WithFillService(svc), WithFillMaxBodyBytes(64))

	large := fmt.Sprintf(`{"templateFileId": "tpl-1", "fields": {"a": %q}}`, strings.Repeat("x", 256))
	rr := postFill(t, handlers, large)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rr.Code)
	}
}

func TestFillHandlerMaxFields(t *testing.T) {
	svc := &stubFillService{}
	handlers := NewFillHandlers(WithFillService(svc), WithFillMaxFields(2))

	rr := postFill(t, handlers, `{"templateFileId": "tpl-1", "fields": {"a": "1", "b": "2", "c": "3"}}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "limit") {
		t.Fatalf("expected limit detail, got %s", rr.Body.String())
	}
}

func TestDryRunHandler(t *testing.T) {
	svc := &stubFillService{
		dryResult: services.DryRunResult{
			Template:   drive.File{ID: "tpl-1", Name: "application.pdf"},
			FieldCount: 4,
		},
	}
	handlers := NewFillHandlers(WithFillService(svc))

	req := httptest.NewRequest(http.MethodPost, "/fill:dryRun", strings.NewReader(`{"templateFileId": "tpl-1", "fields": {"a": "b"}}`))
	rr := httptest.NewRecorder()
	handlers.DryRun(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		OK       bool `json:"ok"`
		Template struct {
			FileID string `json:"fileId"`
		} `json:"template"`
		FieldCount int `json:"fieldCount"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !body.OK || body.Template.FileID != "tpl-1" || body.FieldCount != 4 {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(svc.dryRequests) != 1 {
		t.Fatalf("expected one dry run call, got %d", len(svc.dryRequests))
	}
}
