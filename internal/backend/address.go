package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a storage backend family.
type Kind string

const (
	// KindBucket is object storage (S3/MinIO).
	KindBucket Kind = "bucket"
	// KindDrive is folder storage (Google Drive).
	KindDrive Kind = "drive"
)

// ErrBadAddress indicates a vault address that cannot be parsed or names an
// unknown backend kind.
var ErrBadAddress = errors.New("backend: bad vault address")

// Address locates a stored document. The wire format is <kind>://<path>,
// e.g. bucket://documents/doc-1_20240101_120000_report.pdf or
// drive://folder-id/report.pdf.
type Address struct {
	Kind Kind
	Path string
}

// ParseAddress parses the wire form of an address.
func ParseAddress(s string) (Address, error) {
	kind, path, ok := strings.Cut(s, "://")
	if !ok || path == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	switch Kind(kind) {
	case KindBucket, KindDrive:
		return Address{Kind: Kind(kind), Path: path}, nil
	default:
		return Address{}, fmt.Errorf("%w: unknown kind %q", ErrBadAddress, kind)
	}
}

// String renders the wire form of the address.
func (a Address) String() string {
	return fmt.Sprintf("%s://%s", a.Kind, a.Path)
}
