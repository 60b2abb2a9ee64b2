package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps HTTP client for vault API operations
type Client struct {
	baseURL    string
	actor      string
	httpClient *http.Client
}

// NewClient creates a new vault API client
func NewClient(server, actor string) *Client {
	// Ensure server has protocol prefix
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}

	return &Client{
		baseURL: strings.TrimSuffix(server, "/"),
		actor:   actor,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// request makes an HTTP request to the vault API
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// StoreResponse is the response from storing a document
type StoreResponse struct {
	Status           string           `json:"status"`
	VaultPath        string           `json:"vault_path"`
	VaultPaths       []string         `json:"vault_paths"`
	Encrypted        bool             `json:"encrypted"`
	EncryptionType   string           `json:"encryption_type"`
	StorageTimestamp string           `json:"storage_timestamp"`
	Failures         []BackendFailure `json:"failures"`
}

// BackendFailure reports a backend that could not take a write
type BackendFailure struct {
	Backend string `json:"backend"`
	Error   string `json:"error"`
}

// StoreDocument stores a document in the vault
func (c *Client) StoreDocument(ctx context.Context, fileID, fileName, contentType string, content []byte) (*StoreResponse, error) {
	body := map[string]interface{}{
		"file_id":      fileID,
		"file_name":    fileName,
		"content":      base64.StdEncoding.EncodeToString(content),
		"content_type": contentType,
	}

	var resp StoreResponse
	if err := c.request(ctx, http.MethodPost, "/vault/store", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Document is a retrieved vault document
type Document struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	VaultPath   string `json:"vault_path"`
	Encrypted   bool   `json:"encrypted"`
}

// GetDocument retrieves a document from the vault
func (c *Client) GetDocument(ctx context.Context, vaultPath string) (*Document, error) {
	var resp Document
	if err := c.request(ctx, http.MethodGet, "/vault/retrieve/"+vaultPath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListedDocument is one document in a listing
type ListedDocument struct {
	VaultPath        string `json:"vault_path"`
	FileID           string `json:"file_id"`
	FileName         string `json:"file_name"`
	Size             int64  `json:"size"`
	Encrypted        bool   `json:"encrypted"`
	StorageTimestamp string `json:"storage_timestamp"`
}

// ListResponse is the response from listing documents
type ListResponse struct {
	Documents     []ListedDocument  `json:"documents"`
	Total         int               `json:"total"`
	BackendErrors map[string]string `json:"backend_errors"`
}

// ListDocuments lists vault documents
func (c *Client) ListDocuments(ctx context.Context, prefix string, limit int) (*ListResponse, error) {
	path := "/vault/list"
	params := url.Values{}
	if prefix != "" {
		params.Add("prefix", prefix)
	}
	if limit > 0 {
		params.Add("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp ListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDocument removes a document from the vault
func (c *Client) DeleteDocument(ctx context.Context, vaultPath string) error {
	return c.request(ctx, http.MethodDelete, "/vault/delete/"+vaultPath, nil, nil)
}

// BackendStats summarizes one backend
type BackendStats struct {
	Documents int   `json:"documents"`
	Bytes     int64 `json:"bytes"`
	Encrypted int   `json:"encrypted"`
}

// Stats summarizes the vault
type Stats struct {
	TotalDocuments     int                     `json:"total_documents"`
	TotalBytes         int64                   `json:"total_bytes"`
	EncryptedDocuments int                     `json:"encrypted_documents"`
	EncryptionPercent  float64                 `json:"encryption_percent"`
	Backends           map[string]BackendStats `json:"backends"`
}

// Statistics fetches vault statistics
func (c *Client) Statistics(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.request(ctx, http.MethodGet, "/vault/statistics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MigrateResponse is the response from migrating a sensitive document
type MigrateResponse struct {
	Status          string `json:"status"`
	VaultPath       string `json:"vault_path"`
	FileHash        string `json:"file_hash"`
	EncryptionType  string `json:"encryption_type"`
	ComplianceLevel string `json:"compliance_level"`
	RetentionPolicy string `json:"retention_policy"`
}

// MigrateSensitive vaults a single classified document
func (c *Client) MigrateSensitive(ctx context.Context, fileID, fileName, contentType string, content []byte, findingCount int) (*MigrateResponse, error) {
	body := map[string]interface{}{
		"file_id":       fileID,
		"file_name":     fileName,
		"content":       base64.StdEncoding.EncodeToString(content),
		"content_type":  contentType,
		"finding_count": findingCount,
	}

	var resp MigrateResponse
	if err := c.request(ctx, http.MethodPost, "/vault/migrate-sensitive", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MigrationCandidate is one classifier result submitted for batch migration
type MigrationCandidate struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	FindingCount int    `json:"finding_count"`
}

// MigrationSummary is the outcome of a migration batch
type MigrationSummary struct {
	Migrated []MigratedItem `json:"migrated"`
	Failed   []FailedItem   `json:"failed"`
	Skipped  int            `json:"skipped"`
}

// MigratedItem is one successfully migrated document
type MigratedItem struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	VaultPath string `json:"vault_path"`
	FileHash  string `json:"file_hash"`
}

// FailedItem is one document that could not be migrated
type FailedItem struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// AutoMigrate runs a migration batch over classifier results
func (c *Client) AutoMigrate(ctx context.Context, candidates []MigrationCandidate) (*MigrationSummary, error) {
	body := map[string]interface{}{"candidates": candidates}

	var resp MigrationSummary
	if err := c.request(ctx, http.MethodPost, "/vault/auto-migrate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendStatus reports one backend's availability
type BackendStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error"`
}

// StorageStatusResponse reports backend availability and preference
type StorageStatusResponse struct {
	Backends          map[string]BackendStatus `json:"backends"`
	StoragePreference string                   `json:"storage_preference"`
}

// StorageStatus fetches per-backend availability
func (c *Client) StorageStatus(ctx context.Context) (*StorageStatusResponse, error) {
	var resp StorageStatusResponse
	if err := c.request(ctx, http.MethodGet, "/vault/storage-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditEntry is one audit trail record
type AuditEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	FileID    string `json:"file_id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Origin    string `json:"origin"`
}

// AuditLogsResponse is the response from listing audit entries
type AuditLogsResponse struct {
	Entries []AuditEntry `json:"audit_logs"`
	Total   int          `json:"total"`
}

// AuditLogs fetches recent audit trail entries
func (c *Client) AuditLogs(ctx context.Context, limit int) (*AuditLogsResponse, error) {
	path := "/vault/audit-logs"
	if limit > 0 {
		path += "?limit=" + fmt.Sprintf("%d", limit)
	}

	var resp AuditLogsResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks service liveness
func (c *Client) Health(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/vault/health", nil, nil)
}
