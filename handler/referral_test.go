package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	referral "github.com/phbpx/referral-api"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeService struct {
	calls    int
	referrer referral.Referrer
	client   referral.Client
	id       string
	err      error
}

func (f *fakeService) Submit(ctx context.Context, referrer referral.Referrer, client referral.Client) (string, error) {
	f.calls++
	f.referrer = referrer
	f.client = client
	return f.id, f.err
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"first-name":          "Ana",
		"last-name":           "Souza",
		"email":               "ana@example.com",
		"whatsapp":            "(11) 98765-4321",
		"heard-about":         "Instagram",
		"client-first-name":   "Bruno",
		"client-last-name":    "Lima",
		"client-email":        "bruno@example.com",
		"client-whatsapp":     "(21) 91234-5678",
		"service-type":        "website",
		"project-description": "<b>Landing</b> page",
	}
}

func jsonRequest(t *testing.T, method string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, "/referrals", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h *ReferralHandler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	SecureHeaders(http.HandlerFunc(h.Submit)).ServeHTTP(rr, req)
	return rr
}

type response struct {
	Success    bool   `json:"success"`
	ReferrerID string `json:"referrer_id"`
	Message    string `json:"message"`
	ErrorCode  int    `json:"error_code"`
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func newHandler(svc referral.ReferralService) *ReferralHandler {
	return NewReferralHandler(Config{}, svc, otelzap.New(zap.NewNop()).Sugar())
}

func TestSubmitSuccess(t *testing.T) {
	svc := &fakeService{id: "referrer-1"}
	rr := serve(newHandler(svc), jsonRequest(t, http.MethodPost, validBody()))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	resp := decodeResponse(t, rr)
	if !resp.Success || resp.ReferrerID != "referrer-1" || resp.Message == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if svc.calls != 1 {
		t.Fatalf("service calls = %d", svc.calls)
	}
	if svc.referrer.Phone != "11987654321" || svc.client.Phone != "21912345678" {
		t.Errorf("phones not normalized: %q %q", svc.referrer.Phone, svc.client.Phone)
	}
	if svc.client.Description != "&lt;b&gt;Landing&lt;/b&gt; page" {
		t.Errorf("description = %q", svc.client.Description)
	}
}

func TestSubmitSecurityHeaders(t *testing.T) {
	rr := serve(newHandler(&fakeService{id: "r"}), jsonRequest(t, http.MethodPost, validBody()))

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"X-XSS-Protection":       "1; mode=block",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSubmitMethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			svc := &fakeService{}
			rr := serve(newHandler(svc), httptest.NewRequest(method, "/referrals", nil))

			if rr.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d", rr.Code)
			}
			resp := decodeResponse(t, rr)
			if resp.Success || resp.ErrorCode != http.StatusMethodNotAllowed {
				t.Errorf("unexpected response: %+v", resp)
			}
			if rr.Header().Get("Allow") != http.MethodPost {
				t.Errorf("Allow = %q", rr.Header().Get("Allow"))
			}
			if svc.calls != 0 {
				t.Error("store must not be touched")
			}
		})
	}
}

func TestSubmitMissingField(t *testing.T) {
	for _, key := range referral.SubmissionKeys {
		t.Run(key, func(t *testing.T) {
			body := validBody()
			delete(body, key)

			svc := &fakeService{}
			rr := serve(newHandler(svc), jsonRequest(t, http.MethodPost, body))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			resp := decodeResponse(t, rr)
			if resp.ErrorCode != http.StatusBadRequest || !strings.Contains(resp.Message, key) {
				t.Errorf("unexpected response: %+v", resp)
			}
			if svc.calls != 0 {
				t.Error("store must not be touched")
			}
		})
	}
}

func TestSubmitInvalidFormats(t *testing.T) {
	tests := []struct {
		key   string
		value interface{}
		msg   string
	}{
		{"email", "ana-at-example", "referrer email is invalid"},
		{"client-email", "bruno@", "client email is invalid"},
		{"whatsapp", "123", "referrer whatsapp must include area code and full number"},
		{"client-whatsapp", 98765432, "client whatsapp must include area code and full number"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			body := validBody()
			body[tt.key] = tt.value

			svc := &fakeService{}
			rr := serve(newHandler(svc), jsonRequest(t, http.MethodPost, body))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if resp := decodeResponse(t, rr); resp.Message != tt.msg {
				t.Errorf("message = %q, want %q", resp.Message, tt.msg)
			}
			if svc.calls != 0 {
				t.Error("store must not be touched")
			}
		})
	}
}

func TestSubmitNumericPhone(t *testing.T) {
	body := validBody()
	body["whatsapp"] = 11987654321

	svc := &fakeService{id: "r"}
	rr := serve(newHandler(svc), jsonRequest(t, http.MethodPost, body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if svc.referrer.Phone != "11987654321" {
		t.Errorf("phone = %q", svc.referrer.Phone)
	}
}

func TestSubmitFormFallback(t *testing.T) {
	form := url.Values{}
	for k, v := range validBody() {
		form.Set(k, v.(string))
	}
	req := httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	svc := &fakeService{id: "r"}
	rr := serve(newHandler(svc), req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if svc.referrer.Name != "Ana Souza" || svc.client.Email != "bruno@example.com" {
		t.Errorf("form not decoded: %+v %+v", svc.referrer, svc.client)
	}
}

func TestSubmitMalformedBodyReportsFirstField(t *testing.T) {
	for name, body := range map[string]string{
		"empty":         "",
		"broken json":   `{"first-name": `,
		"json array":    `["Ana"]`,
		"unknown keys":  `{"nome": "Ana"}`,
		"trailing data": `{"first-name": "Ana"}garbage`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			svc := &fakeService{}
			rr := serve(newHandler(svc), req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if resp := decodeResponse(t, rr); resp.Message != "field first-name is required" {
				t.Errorf("message = %q", resp.Message)
			}
			if svc.calls != 0 {
				t.Error("store must not be touched")
			}
		})
	}
}

func TestSubmitServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"duplicate client", referral.ErrDuplicateClient, http.StatusBadRequest, "client already registered previously"},
		{"storage", errors.New("insert client: connection refused"), http.StatusInternalServerError, "failed to register referral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			rr := serve(newHandler(svc), jsonRequest(t, http.MethodPost, validBody()))

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			resp := decodeResponse(t, rr)
			if resp.Success || resp.Message != tt.msg || resp.ErrorCode != tt.status {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestSubmitStorageErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := otelzap.New(zap.New(core)).Sugar()

	svc := &fakeService{err: errors.New("insert client: connection refused")}
	h := NewReferralHandler(Config{}, svc, log)
	rr := serve(h, jsonRequest(t, http.MethodPost, validBody()))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}

	entries := logs.FilterMessage("Submit").FilterField(zap.String("error", "insert client: connection refused")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged storage error, got %d", len(entries))
	}
	if entries[0].Level != zap.ErrorLevel {
		t.Errorf("level = %s, want error", entries[0].Level)
	}
}
