package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveConfig holds configuration for the Drive adapter.
type DriveConfig struct {
	// CredentialsFile is a service-account key file. When empty,
	// application default credentials are used.
	CredentialsFile string
	// FolderName is the vault folder documents are stored in.
	FolderName string
}

// NewDriveService builds an authenticated Drive client. It is shared between
// the storage adapter and the migration content fetcher.
func NewDriveService(ctx context.Context, credentialsFile string) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return svc, nil
}

// DriveStore vaults documents in a dedicated Google Drive folder. Document
// metadata rides in appProperties; addresses are
// drive://<folder-id>/<source-id>_<timestamp>_<name>.
type DriveStore struct {
	svc        *drive.Service
	folderName string
	folderID   string
	logger     zerolog.Logger
}

// NewDriveStore creates a Drive adapter. Ensure must run before documents
// are stored so the vault folder is resolved.
func NewDriveStore(svc *drive.Service, folderName string, logger zerolog.Logger) (*DriveStore, error) {
	if folderName == "" {
		return nil, errors.New("backend: drive folder name is required")
	}
	return &DriveStore{
		svc:        svc,
		folderName: folderName,
		logger:     logger.With().Str("component", "drive_store").Logger(),
	}, nil
}

// Kind reports the drive backend family.
func (s *DriveStore) Kind() Kind { return KindDrive }

// Ensure resolves or creates the vault folder and strips any public
// permission from it. Sensitive documents must never be link-shared.
func (s *DriveStore) Ensure(ctx context.Context) error {
	query := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false",
		folderMimeType, escapeQuery(s.folderName))

	list, err := s.svc.Files.List().Q(query).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: find vault folder: %v", ErrUnavailable, err)
	}

	if len(list.Files) > 0 {
		s.folderID = list.Files[0].Id
	} else {
		folder, err := s.svc.Files.Create(&drive.File{
			Name:     s.folderName,
			MimeType: folderMimeType,
		}).Fields("id").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("create vault folder: %w", err)
		}
		s.folderID = folder.Id
		s.logger.Info().Str("folder_id", s.folderID).Str("folder", s.folderName).Msg("created vault folder")
	}

	return s.stripPublicAccess(ctx, s.folderID)
}

func (s *DriveStore) stripPublicAccess(ctx context.Context, fileID string) error {
	perms, err := s.svc.Permissions.List(fileID).Fields("permissions(id, type)").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: list permissions: %v", ErrUnavailable, err)
	}
	for _, perm := range perms.Permissions {
		if perm.Type != "anyone" {
			continue
		}
		if err := s.svc.Permissions.Delete(fileID, perm.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("remove public permission: %w", err)
		}
		s.logger.Warn().Str("file_id", fileID).Msg("removed public access from vault folder")
	}
	return nil
}

// Put uploads content into the vault folder with metadata in appProperties.
// The file is stored under <source-id>_<timestamp>_<name> so repeated stores
// of the same document land at distinct addresses and each stays reachable.
func (s *DriveStore) Put(ctx context.Context, sourceID, name string, data []byte, meta Metadata) (Address, error) {
	if s.folderID == "" {
		return Address{}, errors.New("backend: drive store not ensured")
	}
	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now().UTC()
	}
	meta.SourceID = sourceID
	meta.Name = name

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fileName := vaultFileName(sourceID, name, meta.StoredAt)
	file, err := s.svc.Files.Create(&drive.File{
		Name:          fileName,
		Parents:       []string{s.folderID},
		AppProperties: meta.toMap(),
	}).Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields("id, name, size").Context(ctx).Do()
	if err != nil {
		return Address{}, fmt.Errorf("%w: upload %q: %v", ErrUnavailable, name, err)
	}

	s.logger.Info().
		Str("source_id", sourceID).
		Str("file_id", file.Id).
		Str("name", fileName).
		Bool("encrypted", meta.Encrypted).
		Msg("stored document in drive")

	return Address{Kind: KindDrive, Path: s.folderID + "/" + fileName}, nil
}

// Get downloads the addressed document and rebuilds its metadata from
// appProperties.
func (s *DriveStore) Get(ctx context.Context, addr Address) ([]byte, Metadata, error) {
	file, err := s.lookup(ctx, addr)
	if err != nil {
		return nil, Metadata{}, err
	}

	resp, err := s.svc.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		if isDriveNotFound(err) {
			return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return nil, Metadata{}, fmt.Errorf("%w: download %q: %v", ErrUnavailable, addr.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read %q: %w", addr.Path, err)
	}
	return data, metadataFromMap(file.AppProperties), nil
}

// List returns vault folder documents, most recently modified first.
func (s *DriveStore) List(ctx context.Context, prefix string, limit int) ([]Record, error) {
	if s.folderID == "" {
		return nil, errors.New("backend: drive store not ensured")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf("'%s' in parents and trashed = false", s.folderID)
	call := s.svc.Files.List().Q(query).
		Fields("files(id, name, size, createdTime, modifiedTime, appProperties)").
		OrderBy("modifiedTime desc").
		PageSize(int64(limit)).
		Context(ctx)

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	var records []Record
	for _, file := range list.Files {
		meta := metadataFromMap(file.AppProperties)
		if meta.Name == "" {
			meta.Name = file.Name
		}
		if prefix != "" && !strings.HasPrefix(meta.SourceID, prefix) && !strings.HasPrefix(file.Name, prefix) {
			continue
		}

		created, _ := time.Parse(time.RFC3339, file.CreatedTime)
		updated, _ := time.Parse(time.RFC3339, file.ModifiedTime)
		if meta.StoredAt.IsZero() {
			meta.StoredAt = created
		}

		records = append(records, Record{
			Address:  Address{Kind: KindDrive, Path: s.folderID + "/" + file.Name},
			Metadata: meta,
			Size:     file.Size,
			Created:  meta.StoredAt,
			Updated:  updated,
		})
	}
	return records, nil
}

// Delete removes the addressed document from the vault folder.
func (s *DriveStore) Delete(ctx context.Context, addr Address) error {
	file, err := s.lookup(ctx, addr)
	if err != nil {
		return err
	}
	if err := s.svc.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		if isDriveNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return fmt.Errorf("%w: delete %q: %v", ErrUnavailable, addr.Path, err)
	}
	s.logger.Info().Str("file_id", file.Id).Str("name", file.Name).Msg("deleted document from drive")
	return nil
}

// Exists reports whether the addressed document is present.
func (s *DriveStore) Exists(ctx context.Context, addr Address) (bool, error) {
	_, err := s.lookup(ctx, addr)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HealthCheck reports whether the Drive API is reachable.
func (s *DriveStore) HealthCheck(ctx context.Context) error {
	if _, err := s.svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// lookup resolves a drive address (folder-id/name) to the newest matching
// file in that folder.
func (s *DriveStore) lookup(ctx context.Context, addr Address) (*drive.File, error) {
	folderID, name, ok := strings.Cut(addr.Path, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, addr.Path)
	}

	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderID)
	list, err := s.svc.Files.List().Q(query).
		Fields("files(id, name, size, appProperties, createdTime, modifiedTime)").
		OrderBy("modifiedTime desc").
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %q: %v", ErrUnavailable, addr.Path, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return list.Files[0], nil
}

func isDriveNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

// escapeQuery escapes a value for interpolation into a Drive search query.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
