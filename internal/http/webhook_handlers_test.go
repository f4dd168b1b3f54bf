package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGraphWebhookEchoesValidationToken(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider-b?validationToken=tok-123", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if rec.Body.String() != "tok-123" {
		t.Errorf("body = %q, want the raw token", rec.Body.String())
	}
}

func TestGraphWebhookAcksNotifications(t *testing.T) {
	f := newRouterFixture(t)

	body := strings.NewReader(`{"value":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider-b", body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestGraphWebhookAcksMalformedPayload(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider-b", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	// A non-2xx answer would make the provider retry forever.
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestDirectoryWebhookIgnoresHandshake(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider-a", nil)
	req.Header.Set("X-Resource-State", "sync")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.logs.logs) != 0 {
		t.Errorf("handshake should not write sync logs, got %d", len(f.logs.logs))
	}
}
