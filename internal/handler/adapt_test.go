package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"icap-rewrite-go/internal/rewrite"
)

func TestAdaptHandler_Handle(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		contentType string
		body        string
		wantStatus  int
		wantBody    string
		wantHeader  string
	}{
		{
			name:        "respmod text rewritten",
			contentType: "text/plain",
			body:        "a ORIGINAL b",
			wantStatus:  http.StatusOK,
			wantBody:    "a REPLACED b",
			wantHeader:  "1",
		},
		{
			name:        "respmod uppercase text rewritten",
			query:       "?method=respmod",
			contentType: "TEXT/HTML; charset=utf-8",
			body:        "<b>ORIGINAL</b>",
			wantStatus:  http.StatusOK,
			wantBody:    "<b>REPLACED</b>",
			wantHeader:  "1",
		},
		{
			name:        "respmod json untouched",
			contentType: "application/json",
			body:        `{"v":"ORIGINAL"}`,
			wantStatus:  http.StatusOK,
			wantBody:    `{"v":"ORIGINAL"}`,
			wantHeader:  "1",
		},
		{
			name:        "reqmod untouched",
			query:       "?method=reqmod",
			contentType: "text/plain",
			body:        "ORIGINAL",
			wantStatus:  http.StatusOK,
			wantBody:    "ORIGINAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(t, testConfig(""))
			h := NewAdaptHandler(d.svc, d.logger)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/adapt"+tt.query, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get(rewrite.HeaderName); got != tt.wantHeader {
				t.Errorf("%s = %q, want %q", rewrite.HeaderName, got, tt.wantHeader)
			}
		})
	}
}

func TestAdaptHandler_Handle_BadMethod(t *testing.T) {
	d := newTestDeps(t, testConfig(""))
	h := NewAdaptHandler(d.svc, d.logger)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/adapt?method=options", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
}

func TestAdaptHandler_Handle_BudgetExhausted(t *testing.T) {
	cfg := testConfig("")
	cfg.Service.MaxTransactions = 1
	d := newTestDeps(t, cfg)
	h := NewAdaptHandler(d.svc, d.logger)

	// Hold the only slot with an open session.
	sess, err := d.engine.Begin(respModTx())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer sess.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/adapt", strings.NewReader("ORIGINAL"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
