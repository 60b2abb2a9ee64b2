package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/audit"
	"github.com/docvault/docvault/internal/backend"
	"github.com/docvault/docvault/internal/crypto"
	"github.com/docvault/docvault/internal/keys"
	"github.com/docvault/docvault/internal/migration"
	"github.com/docvault/docvault/internal/vault"
)

// VaultService is the document operations surface the handler serves.
type VaultService interface {
	Store(ctx context.Context, req vault.StoreRequest) (vault.StoreResult, error)
	Retrieve(ctx context.Context, vaultPath, actor string) (vault.Document, error)
	List(ctx context.Context, prefix string, limit int) (vault.Listing, error)
	Delete(ctx context.Context, vaultPath, actor string) error
	MigrateSensitive(ctx context.Context, req vault.MigrateRequest) (vault.MigrateResult, error)
	Statistics(ctx context.Context) (vault.Stats, error)
	StorageStatus(ctx context.Context) map[backend.Kind]vault.BackendStatus
	StoragePreference() vault.Preference
}

// BatchMigrator runs classifier-driven migration batches.
type BatchMigrator interface {
	Run(ctx context.Context, candidates []migration.Candidate) migration.Summary
}

// AuditReader lists recent audit trail entries.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// VaultHandler serves the vault JSON API.
type VaultHandler struct {
	service  VaultService
	migrator BatchMigrator
	auditor  AuditReader
	logger   zerolog.Logger
}

// NewVaultHandler creates a vault API handler. migrator and auditor may be
// nil when batch migration or audit reading is not wired up; the matching
// endpoints then answer 503.
func NewVaultHandler(service VaultService, migrator BatchMigrator, auditor AuditReader, logger zerolog.Logger) *VaultHandler {
	return &VaultHandler{
		service:  service,
		migrator: migrator,
		auditor:  auditor,
		logger:   logger.With().Str("component", "vault_handler").Logger(),
	}
}

// RegisterRoutes registers vault routes on the given mux.
func (h *VaultHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /vault/store", h.HandleStore)
	mux.HandleFunc("GET /vault/retrieve/{path...}", h.HandleRetrieve)
	mux.HandleFunc("GET /vault/list", h.HandleList)
	mux.HandleFunc("DELETE /vault/delete/{path...}", h.HandleDelete)
	mux.HandleFunc("GET /vault/statistics", h.HandleStatistics)
	mux.HandleFunc("POST /vault/migrate-sensitive", h.HandleMigrateSensitive)
	mux.HandleFunc("POST /vault/auto-migrate", h.HandleAutoMigrate)
	mux.HandleFunc("GET /vault/storage-status", h.HandleStorageStatus)
	mux.HandleFunc("GET /vault/audit-logs", h.HandleAuditLogs)
	mux.HandleFunc("GET /vault/health", h.HandleHealth)
}

type storeRequest struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type storeResponse struct {
	Status           string                 `json:"status"`
	VaultPath        string                 `json:"vault_path"`
	VaultPaths       []string               `json:"vault_paths,omitempty"`
	Encrypted        bool                   `json:"encrypted"`
	EncryptionType   string                 `json:"encryption_type,omitempty"`
	StorageTimestamp string                 `json:"storage_timestamp"`
	Failures         []vault.BackendFailure `json:"failures,omitempty"`
}

// HandleStore stores a document in the vault.
func (h *VaultHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" || req.FileName == "" {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "file_id and file_name are required")
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "content must be base64 encoded")
		return
	}

	result, err := h.service.Store(r.Context(), vault.StoreRequest{
		SourceID:    req.FileID,
		Name:        req.FileName,
		Content:     content,
		ContentType: req.ContentType,
		Actor:       actorFrom(r),
		Origin:      r.RemoteAddr,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	paths := make([]string, 0, len(result.Addresses))
	for _, addr := range result.Addresses {
		paths = append(paths, addr.String())
	}

	h.writeJSON(w, http.StatusOK, storeResponse{
		Status:           "success",
		VaultPath:        result.Primary().String(),
		VaultPaths:       paths,
		Encrypted:        result.Encrypted,
		EncryptionType:   result.SchemeID,
		StorageTimestamp: result.StoredAt.Format(time.RFC3339),
		Failures:         result.Failures,
	})
}

type retrieveResponse struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	VaultPath   string `json:"vault_path"`
	Encrypted   bool   `json:"encrypted"`
}

// HandleRetrieve fetches a document. With download=true the raw content is
// streamed; otherwise the document is returned as JSON with base64 content.
func (h *VaultHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	vaultPath := restoreVaultPath(r.PathValue("path"))

	doc, err := h.service.Retrieve(r.Context(), vaultPath, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("download") == "true" {
		contentType := doc.Metadata.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Metadata.Name+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
		w.WriteHeader(http.StatusOK)
		w.Write(doc.Content)
		return
	}

	h.writeJSON(w, http.StatusOK, retrieveResponse{
		FileID:      doc.Metadata.SourceID,
		FileName:    doc.Metadata.Name,
		Content:     base64.StdEncoding.EncodeToString(doc.Content),
		ContentType: doc.Metadata.ContentType,
		VaultPath:   doc.Address.String(),
		Encrypted:   doc.Metadata.Encrypted,
	})
}

type listedDocument struct {
	VaultPath        string `json:"vault_path"`
	FileID           string `json:"file_id"`
	FileName         string `json:"file_name"`
	Size             int64  `json:"size"`
	Encrypted        bool   `json:"encrypted"`
	StorageTimestamp string `json:"storage_timestamp,omitempty"`
}

type listResponse struct {
	Documents     []listedDocument  `json:"documents"`
	Total         int               `json:"total"`
	BackendErrors map[string]string `json:"backend_errors,omitempty"`
}

// HandleList lists vault documents across backends, most recent first.
func (h *VaultHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeErrorStatus(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	listing, err := h.service.List(r.Context(), prefix, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := listResponse{Documents: make([]listedDocument, 0, len(listing.Documents))}
	for _, rec := range listing.Documents {
		doc := listedDocument{
			VaultPath: rec.Address.String(),
			FileID:    rec.Metadata.SourceID,
			FileName:  rec.Metadata.Name,
			Size:      rec.Size,
			Encrypted: rec.Metadata.Encrypted,
		}
		if !rec.Metadata.StoredAt.IsZero() {
			doc.StorageTimestamp = rec.Metadata.StoredAt.Format(time.RFC3339)
		}
		resp.Documents = append(resp.Documents, doc)
	}
	resp.Total = len(resp.Documents)
	if len(listing.BackendErrors) > 0 {
		resp.BackendErrors = make(map[string]string, len(listing.BackendErrors))
		for kind, msg := range listing.BackendErrors {
			resp.BackendErrors[string(kind)] = msg
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDelete removes a document from the vault.
func (h *VaultHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	vaultPath := restoreVaultPath(r.PathValue("path"))

	if err := h.service.Delete(r.Context(), vaultPath, actorFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"vault_path": vaultPath,
	})
}

// HandleStatistics reports vault totals and encryption coverage.
func (h *VaultHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type migrateRequest struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	Content      string `json:"content"`
	ContentType  string `json:"content_type"`
	FindingCount int    `json:"finding_count"`
}

type migrateResponse struct {
	Status          string `json:"status"`
	VaultPath       string `json:"vault_path"`
	FileHash        string `json:"file_hash"`
	EncryptionType  string `json:"encryption_type,omitempty"`
	ComplianceLevel string `json:"compliance_level"`
	RetentionPolicy string `json:"retention_policy"`
}

// HandleMigrateSensitive vaults a single classified document.
func (h *VaultHandler) HandleMigrateSensitive(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" || req.FileName == "" {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "file_id and file_name are required")
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "content must be base64 encoded")
		return
	}

	result, err := h.service.MigrateSensitive(r.Context(), vault.MigrateRequest{
		SourceID:     req.FileID,
		Name:         req.FileName,
		Content:      content,
		ContentType:  req.ContentType,
		FindingCount: req.FindingCount,
		Actor:        actorFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, migrateResponse{
		Status:          "success",
		VaultPath:       result.Primary().String(),
		FileHash:        result.Hash,
		EncryptionType:  result.SchemeID,
		ComplianceLevel: result.ComplianceLevel,
		RetentionPolicy: result.RetentionPolicy,
	})
}

type autoMigrateRequest struct {
	Candidates []migration.Candidate `json:"candidates"`
}

// HandleAutoMigrate runs a migration batch over classifier results.
func (h *VaultHandler) HandleAutoMigrate(w http.ResponseWriter, r *http.Request) {
	if h.migrator == nil {
		h.writeErrorStatus(w, r, http.StatusServiceUnavailable, "batch migration is not configured")
		return
	}

	var req autoMigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	summary := h.migrator.Run(r.Context(), req.Candidates)
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleStorageStatus reports per-backend availability and the configured
// storage preference.
func (h *VaultHandler) HandleStorageStatus(w http.ResponseWriter, r *http.Request) {
	status := h.service.StorageStatus(r.Context())

	backends := make(map[string]vault.BackendStatus, len(status))
	for kind, st := range status {
		backends[string(kind)] = st
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"backends":           backends,
		"storage_preference": string(h.service.StoragePreference()),
	})
}

type auditLogsResponse struct {
	Entries []audit.Entry `json:"audit_logs"`
	Total   int           `json:"total"`
}

// HandleAuditLogs lists recent audit trail entries, newest first.
func (h *VaultHandler) HandleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.auditor == nil {
		h.writeErrorStatus(w, r, http.StatusServiceUnavailable, "audit log reading is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeErrorStatus(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.auditor.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	h.writeJSON(w, http.StatusOK, auditLogsResponse{Entries: entries, Total: len(entries)})
}

// HandleHealth answers liveness probes.
func (h *VaultHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *VaultHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}

func (h *VaultHandler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.logger.Warn().
		Str("request_id", GetRequestID(r.Context())).
		Int("status", status).
		Str("error", message).
		Msg("request failed")
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps domain errors onto HTTP status codes.
func (h *VaultHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backend.ErrBadAddress), errors.Is(err, crypto.ErrFormat):
		status = http.StatusBadRequest
	case errors.Is(err, crypto.ErrIntegrity), errors.Is(err, keys.ErrUnknownScheme):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, backend.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrConfiguration):
		status = http.StatusInternalServerError
	}
	h.writeErrorStatus(w, r, status, err.Error())
}

// actorFrom identifies the caller for the audit trail.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

// restoreVaultPath undoes ServeMux path cleaning on vault addresses: the
// double slash in bucket://… collapses to bucket:/… during routing.
func restoreVaultPath(p string) string {
	if strings.Contains(p, ":/") && !strings.Contains(p, "://") {
		p = strings.Replace(p, ":/", "://", 1)
	}
	return p
}
