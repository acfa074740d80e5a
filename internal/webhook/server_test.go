package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/config"
)

func testServer(t *testing.T, endpoints []config.WebhookEndpointConfig) (*Server, *bucket.Registry) {
	t.Helper()
	reg := bucket.NewRegistry(nil)
	for _, ep := range endpoints {
		reg.AddBucket(ep.Bucket)
	}
	cfg := &config.WebhookListenerConfig{Listen: "127.0.0.1:0", Endpoints: endpoints}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, reg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, reg
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event":"push"}`)
	signature := formatGitHubSignature(computeExpectedSignature(body, secret, "sha256"), "sha256")

	s, reg := testServer(t, []config.WebhookEndpointConfig{
		{
			Path:            "/webhook/github",
			Bucket:          "builds",
			Secret:          secret,
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodyBytes:    1048576,
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signature)
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp TriggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Bucket != "builds" {
		t.Errorf("Bucket = %v, want builds", resp.Bucket)
	}
	if !reg.IsWorkRunning("builds", resp.Identifier) {
		t.Error("expected work item to be queued")
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event":"push"}`)
	wrongSignature := "sha256=0000000000000000000000000000000000000000000000000000000000000000"

	s, _ := testServer(t, []config.WebhookEndpointConfig{
		{Path: "/webhook/github", Bucket: "builds", Secret: secret, SignatureHeader: "X-Hub-Signature-256"},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", wrongSignature)
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "forbidden" {
		t.Errorf("Error = %v, want generic 'forbidden'", resp.Error)
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	s, _ := testServer(t, []config.WebhookEndpointConfig{
		{Path: "/webhook/github", Bucket: "builds", Secret: "secret", SignatureHeader: "X-Hub-Signature-256"},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	secret := "test-secret"
	body := bytes.Repeat([]byte("a"), 2*1024*1024)
	signature := formatGitHubSignature(computeExpectedSignature(body, secret, "sha256"), "sha256")

	s, _ := testServer(t, []config.WebhookEndpointConfig{
		{
			Path:            "/webhook/github",
			Bucket:          "builds",
			Secret:          secret,
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodyBytes:    1048576,
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signature)
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleWebhook_UnknownPath(t *testing.T) {
	s, _ := testServer(t, []config.WebhookEndpointConfig{
		{Path: "/webhook/github", Bucket: "builds", Secret: "secret"},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/unknown", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	s, _ := testServer(t, []config.WebhookEndpointConfig{
		{Path: "/webhook/test", Bucket: "builds", Secret: "secret"},
	})

	ep := s.endpoints["/webhook/test"]
	if ep.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Errorf("MaxBodyBytes = %d, want %d", ep.MaxBodyBytes, DefaultMaxBodyBytes)
	}
}

func TestNew_RejectsMissingBucket(t *testing.T) {
	reg := bucket.NewRegistry(nil)
	cfg := &config.WebhookListenerConfig{
		Listen:    "127.0.0.1:0",
		Endpoints: []config.WebhookEndpointConfig{{Path: "/webhook/test", Secret: "secret"}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(cfg, reg, logger); err == nil {
		t.Fatal("expected error for endpoint with no bucket configured")
	}
}
