package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/docvault/docvault/internal/backend"
)

// workspaceExports maps Google Workspace document types to the MIME type
// their content is exported as. Binary files download as-is.
var workspaceExports = map[string]string{
	"application/vnd.google-apps.document":     "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
	"application/vnd.google-apps.presentation": "text/plain",
}

// DriveFetcher pulls candidate content from Google Drive by file ID.
type DriveFetcher struct {
	svc    *drive.Service
	logger zerolog.Logger
}

// NewDriveFetcher creates a Drive-backed content fetcher.
func NewDriveFetcher(svc *drive.Service, logger zerolog.Logger) *DriveFetcher {
	return &DriveFetcher{
		svc:    svc,
		logger: logger.With().Str("component", "drive_fetcher").Logger(),
	}
}

// Fetch downloads a file's content. Workspace documents cannot be
// downloaded raw; they are exported to their text form instead.
func (f *DriveFetcher) Fetch(ctx context.Context, sourceID string) ([]byte, string, error) {
	file, err := f.svc.Files.Get(sourceID).Fields("id, name, mimeType").Context(ctx).Do()
	if err != nil {
		if isDriveNotFound(err) {
			return nil, "", fmt.Errorf("%w: drive file %q", backend.ErrNotFound, sourceID)
		}
		return nil, "", fmt.Errorf("%w: get drive file %q: %v", backend.ErrUnavailable, sourceID, err)
	}

	if exportMime, ok := workspaceExports[file.MimeType]; ok {
		resp, err := f.svc.Files.Export(sourceID, exportMime).Context(ctx).Download()
		if err != nil {
			return nil, "", fmt.Errorf("export %q as %s: %w", sourceID, exportMime, err)
		}
		defer resp.Body.Close()
		content, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read export %q: %w", sourceID, err)
		}
		return content, exportMime, nil
	}

	if strings.HasPrefix(file.MimeType, "application/vnd.google-apps.") {
		// Folders, forms and other Workspace types with no text export.
		return nil, "", fmt.Errorf("drive file %q has no downloadable content (%s)", sourceID, file.MimeType)
	}

	resp, err := f.svc.Files.Get(sourceID).Context(ctx).Download()
	if err != nil {
		return nil, "", fmt.Errorf("download %q: %w", sourceID, err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %q: %w", sourceID, err)
	}
	return content, file.MimeType, nil
}

// Remove deletes the source file after a successful migration.
func (f *DriveFetcher) Remove(ctx context.Context, sourceID string) error {
	if err := f.svc.Files.Delete(sourceID).Context(ctx).Do(); err != nil {
		if isDriveNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete drive file %q: %w", sourceID, err)
	}
	f.logger.Info().Str("file_id", sourceID).Msg("removed migrated source file")
	return nil
}

func isDriveNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
