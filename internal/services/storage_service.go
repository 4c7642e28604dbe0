package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"homeproject-backend/internal/errs"
)

const maxImageBytes = 20 << 20

// ObjectStore is the object storage the service writes to.
// *supabase.StorageClient satisfies it.
type ObjectStore interface {
	UploadFile(ctx context.Context, userID string, projectID uuid.UUID, filename, contentType string, data []byte) (string, string, error)
	DeleteProjectFiles(ctx context.Context, userID string, projectID uuid.UUID) error
}

// StorageService copies project images and generated previews into object
// storage under users/{user_id}/projects/{project_id}/.
type StorageService struct {
	storageClient ObjectStore
	httpClient    *http.Client
	logger        zerolog.Logger
}

func NewStorageService(storageClient ObjectStore, logger zerolog.Logger) *StorageService {
	return &StorageService{
		storageClient: storageClient,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// MirrorPreview downloads a provider-hosted preview and stores a copy,
// returning the public URL of the copy.
func (s *StorageService) MirrorPreview(ctx context.Context, userID string, projectID uuid.UUID, remoteURL string) (string, error) {
	data, contentType, err := s.download(ctx, remoteURL)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("preview_%s%s", time.Now().UTC().Format("20060102_150405"), extension(contentType))
	storagePath, publicURL, err := s.storageClient.UploadFile(ctx, userID, projectID, filename, contentType, data)
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("project_id", projectID.String()).
		Str("storage_path", storagePath).
		Int("bytes", len(data)).
		Msg("mirrored preview")
	return publicURL, nil
}

// StoreProjectImage uploads a user supplied image and returns its public URL.
func (s *StorageService) StoreProjectImage(ctx context.Context, userID string, projectID uuid.UUID, filename, contentType string, data []byte) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", errs.Validation("unsupported content type %q", contentType)
	}
	if len(data) > maxImageBytes {
		return "", errs.Validation("image exceeds %d bytes", maxImageBytes)
	}

	name := fmt.Sprintf("input_%s_%s", time.Now().UTC().Format("20060102_150405"), sanitize(filename, contentType))
	_, publicURL, err := s.storageClient.UploadFile(ctx, userID, projectID, name, contentType, data)
	if err != nil {
		return "", err
	}
	return publicURL, nil
}

func (s *StorageService) DeleteProjectFiles(ctx context.Context, userID string, projectID uuid.UUID) error {
	return s.storageClient.DeleteProjectFiles(ctx, userID, projectID)
}

func (s *StorageService) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("failed to download file: status %d, body: %s", resp.StatusCode, string(body))
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("downloaded file is %q, not an image", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("downloaded image exceeds %d bytes", maxImageBytes)
	}
	return data, contentType, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func sanitize(filename, contentType string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range strings.TrimSuffix(base, path.Ext(base)) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" || name == "." {
		name = "image"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name + extension(contentType)
}
