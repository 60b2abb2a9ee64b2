package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	if m.registry == nil {
		t.Error("registry should not be nil")
	}

	if m.Vault == nil {
		t.Error("Vault metrics should not be nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	// Test that the handler serves metrics
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	// Check for Go runtime metrics (always present)
	if !strings.Contains(body, "go_") {
		t.Error("expected Go runtime metrics in response")
	}

	// Check for process metrics (always present)
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics in response")
	}
}

func TestVaultMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.Vault.RecordOperation("store", "bucket", "ok", 0.12)
	m.Vault.RecordOperation("store", "drive", "error", 1.5)
	m.Vault.RecordOperation("retrieve", "bucket", "ok", 0.05)
	m.Vault.RecordKeyFallback()
	m.Vault.RecordMigration("migrated")
	m.Vault.RecordMigration("failed")
	m.Vault.RecordMigrationBatch(25)
	m.Vault.RecordAPIRequest("POST", "/vault/store", "200", 0.3)
	m.Vault.SetStoredTotals("bucket", 42, 1024*1024)

	// Verify metrics are exposed
	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body := w.Body.String()

	expectedMetrics := []string{
		"docvault_vault_operations_total",
		"docvault_vault_operation_duration_seconds",
		"docvault_keys_fallbacks_total",
		"docvault_migration_documents_total",
		"docvault_http_request_duration_seconds",
		"docvault_http_requests_total",
		"docvault_vault_documents_stored",
		"docvault_vault_bytes_stored",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics()

	registry := m.Registry()
	if registry == nil {
		t.Error("Registry() should not return nil")
	}

	// Verify we can gather metrics from the registry
	families, err := registry.Gather()
	if err != nil {
		t.Errorf("failed to gather metrics: %v", err)
	}

	if len(families) == 0 {
		t.Error("expected at least some metric families")
	}
}
