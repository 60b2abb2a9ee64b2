package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{
			name:  "bucket address",
			input: "bucket://documents/doc-1_20240115_103000_report.pdf",
			want:  Address{Kind: KindBucket, Path: "documents/doc-1_20240115_103000_report.pdf"},
		},
		{
			name:  "drive address",
			input: "drive://folder-abc/report.pdf",
			want:  Address{Kind: KindDrive, Path: "folder-abc/report.pdf"},
		},
		{name: "unknown kind", input: "ftp://somewhere/file", wantErr: true},
		{name: "no separator", input: "documents/file", wantErr: true},
		{name: "empty path", input: "bucket://", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
			assert.Equal(t, tt.input, addr.String())
		})
	}
}

func TestMetadata_MapRoundTrip(t *testing.T) {
	storedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	meta := Metadata{
		SourceID:    "doc-1",
		Name:        "report.pdf",
		StoredAt:    storedAt,
		Encrypted:   true,
		SchemeID:    "FIPS_AES256_GCM",
		ContentType: "application/pdf",
		Hash:        "abc123",
		Custom: map[string]string{
			"retention_policy": "7_years",
			"compliance_level": "FIPS_140_2",
		},
	}

	got := metadataFromMap(meta.toMap())
	assert.Equal(t, meta, got)
}

func TestMetadataFromMap_CanonicalizedKeys(t *testing.T) {
	// Object stores canonicalize user metadata keys, and listings prefix
	// them with X-Amz-Meta-. Both shapes must decode identically.
	raw := map[string]string{
		"X-Amz-Meta-Original_file_id":   "doc-1",
		"X-Amz-Meta-Original_file_name": "report.pdf",
		"X-Amz-Meta-Encrypted":          "true",
		"X-Amz-Meta-Scheme_id":          "vault-docs",
		"X-Amz-Meta-Storage_timestamp":  "2024-01-15T10:30:00Z",
	}

	meta := metadataFromMap(raw)
	assert.Equal(t, "doc-1", meta.SourceID)
	assert.Equal(t, "report.pdf", meta.Name)
	assert.True(t, meta.Encrypted)
	assert.Equal(t, "vault-docs", meta.SchemeID)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), meta.StoredAt)
}

func TestMetadataFromMap_UnencryptedDefault(t *testing.T) {
	meta := metadataFromMap(map[string]string{"original_file_id": "doc-1"})
	assert.False(t, meta.Encrypted)
	assert.Empty(t, meta.SchemeID)
}

func TestObjectKey(t *testing.T) {
	storedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	key := objectKey("doc-1", "report.pdf", storedAt)
	assert.Equal(t, "documents/doc-1_20240115_103000_report.pdf", key)

	// Path traversal in the name must not escape the documents prefix.
	key = objectKey("doc-2", "../../etc/passwd", storedAt)
	assert.Equal(t, "documents/doc-2_20240115_103000_passwd", key)
}

func TestVaultFileName_UniquePerStore(t *testing.T) {
	first := vaultFileName("f1", "report.txt", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	second := vaultFileName("f1", "report.txt", time.Date(2024, 1, 15, 10, 30, 1, 0, time.UTC))

	assert.Equal(t, "f1_20240115_103000_report.txt", first)
	assert.Equal(t, "f1_20240115_103001_report.txt", second)
	// Storing the same document twice must yield distinct addresses.
	assert.NotEqual(t, first, second)
}

func TestMatchesPrefix(t *testing.T) {
	storedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	meta := Metadata{SourceID: "f1", Name: "report.txt", StoredAt: storedAt}
	key := objectKey("f1", "report.txt", storedAt)

	tests := []struct {
		name   string
		prefix string
		want   bool
	}{
		{name: "full key prefix", prefix: "documents/", want: true},
		{name: "full key with source id", prefix: "documents/f1", want: true},
		{name: "source id", prefix: "f1", want: true},
		{name: "original name", prefix: "report", want: true},
		{name: "key without documents prefix", prefix: "f1_20240115", want: true},
		{name: "no match", prefix: "other-doc", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPrefix(meta, key, tt.prefix))
		})
	}
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s a file`, escapeQuery("it's a file"))
	assert.Equal(t, `back\\slash`, escapeQuery(`back\slash`))
}
