package backend

import "context"

// Adapter is a storage backend the vault can write documents into. Put
// derives the document's address from its identity and timestamp; all other
// operations take the address as the document's sole locator.
type Adapter interface {
	// Kind reports which backend family this adapter serves.
	Kind() Kind

	// Put stores content under a new address derived from sourceID, name
	// and the metadata timestamp.
	Put(ctx context.Context, sourceID, name string, data []byte, meta Metadata) (Address, error)

	// Get returns the stored content and its metadata.
	Get(ctx context.Context, addr Address) ([]byte, Metadata, error)

	// List returns stored documents, most recent first. prefix filters by
	// source ID or name; limit caps the result (0 means the adapter
	// default).
	List(ctx context.Context, prefix string, limit int) ([]Record, error)

	// Delete removes the addressed document. Deleting an absent document
	// returns ErrNotFound.
	Delete(ctx context.Context, addr Address) error

	// Exists reports whether the addressed document is present.
	Exists(ctx context.Context, addr Address) (bool, error)

	// Ensure bootstraps the backend (bucket, folder) idempotently.
	Ensure(ctx context.Context) error

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error
}
