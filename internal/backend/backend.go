// Package backend provides the storage adapters documents are vaulted into:
// object storage (MinIO/S3) and folder storage (Google Drive). Adapters share
// one interface so the vault service can fan out across them without caring
// which family a document landed in.
package backend

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("backend: document not found")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("backend: storage unavailable")
)

// timestampLayout is the compact timestamp embedded in vault file names.
const timestampLayout = "20060102_150405"

// vaultFileName builds <source-id>_<timestamp>_<name>, the name every backend
// stores a document under. The timestamp keeps repeated stores of the same
// document at distinct addresses; the name is cleaned so it cannot smuggle
// path separators.
func vaultFileName(sourceID, name string, storedAt time.Time) string {
	name = path.Base(path.Clean(name))
	return fmt.Sprintf("%s_%s_%s", sourceID, storedAt.UTC().Format(timestampLayout), name)
}

// Metadata describes a stored document. It rides alongside the content as
// backend-native metadata (user metadata on objects, appProperties on Drive
// files) so every copy of a document is self-describing.
type Metadata struct {
	// SourceID is the caller-supplied identifier of the original document.
	SourceID string
	// Name is the original file name.
	Name string
	// StoredAt is when the document entered the vault.
	StoredAt time.Time
	// Encrypted reports whether the stored bytes are an encryption envelope.
	Encrypted bool
	// SchemeID names the mechanism that encrypted the content; empty means
	// plaintext.
	SchemeID string
	// ContentType is the MIME type of the original content.
	ContentType string
	// Hash is the SHA-256 of the original content, when computed.
	Hash string
	// Custom carries caller-supplied tags (retention policy, compliance
	// level, findings summaries).
	Custom map[string]string
}

// Record is a listed document: where it lives plus what is known about it.
type Record struct {
	Address  Address
	Metadata Metadata
	Size     int64
	Created  time.Time
	Updated  time.Time
}

// Well-known metadata keys. These match the tags the vault has always
// written, so documents stored by earlier deployments stay readable.
const (
	metaSourceID    = "original_file_id"
	metaName        = "original_file_name"
	metaStoredAt    = "storage_timestamp"
	metaEncrypted   = "encrypted"
	metaSchemeID    = "scheme_id"
	metaContentType = "content_type"
	metaHash        = "content_hash"
)

var wellKnownMeta = map[string]bool{
	metaSourceID:    true,
	metaName:        true,
	metaStoredAt:    true,
	metaEncrypted:   true,
	metaSchemeID:    true,
	metaContentType: true,
	metaHash:        true,
}

// toMap flattens metadata into the string map backends store natively.
func (m Metadata) toMap() map[string]string {
	out := make(map[string]string, len(m.Custom)+7)
	for k, v := range m.Custom {
		out[k] = v
	}
	out[metaSourceID] = m.SourceID
	out[metaName] = m.Name
	if !m.StoredAt.IsZero() {
		out[metaStoredAt] = m.StoredAt.UTC().Format(time.RFC3339)
	}
	out[metaEncrypted] = strconv.FormatBool(m.Encrypted)
	if m.SchemeID != "" {
		out[metaSchemeID] = m.SchemeID
	}
	if m.ContentType != "" {
		out[metaContentType] = m.ContentType
	}
	if m.Hash != "" {
		out[metaHash] = m.Hash
	}
	return out
}

// metadataFromMap rebuilds metadata from backend-native key/value pairs.
// Object stores canonicalize metadata keys (and listings prefix them with
// X-Amz-Meta-), so lookup is case-insensitive and prefix-tolerant.
func metadataFromMap(raw map[string]string) Metadata {
	norm := make(map[string]string, len(raw))
	for k, v := range raw {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		k = strings.ReplaceAll(k, "-", "_")
		norm[k] = v
	}

	m := Metadata{
		SourceID:    norm[metaSourceID],
		Name:        norm[metaName],
		SchemeID:    norm[metaSchemeID],
		ContentType: norm[metaContentType],
		Hash:        norm[metaHash],
	}
	if ts, err := time.Parse(time.RFC3339, norm[metaStoredAt]); err == nil {
		m.StoredAt = ts
	}
	m.Encrypted, _ = strconv.ParseBool(norm[metaEncrypted])

	for k, v := range norm {
		if wellKnownMeta[k] {
			continue
		}
		if m.Custom == nil {
			m.Custom = make(map[string]string)
		}
		m.Custom[k] = v
	}
	return m
}
