package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider stores archives in a Google Cloud Storage bucket.
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStorageProvider creates a GCS provider. With no credentials path
// the default application credentials are used.
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("GCS storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     "backups/",
	}, nil
}

// Store uploads the archive and metadata under the run's object prefix.
func (p *GCSStorageProvider) Store(ctx context.Context, meta *RunMetadata, archivePath string) (string, error) {
	if meta == nil {
		return "", NewValidationError("run metadata is required", nil)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	bucket := p.client.Bucket(p.bucketName)
	runName := p.runObjectName(meta.ID)
	location := fmt.Sprintf("gs://%s/%s", p.bucketName, runName)

	if archivePath != "" {
		f, err := os.Open(archivePath)
		if err != nil {
			return "", NewStorageError("failed to open archive for upload", err)
		}
		defer f.Close()

		w := bucket.Object(runName + "/" + meta.ArchiveFile).NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.Metadata = map[string]string{
			"run-id":      meta.ID,
			"org-id":      meta.OrgID,
			"compression": string(meta.CompressionType),
			"checksum":    meta.Checksum,
		}
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			return "", NewStorageError("failed to write archive to GCS", err)
		}
		if err := w.Close(); err != nil {
			return "", NewStorageError("failed to upload archive to GCS", err)
		}
	}

	meta.StorageLocation = location
	data, err := meta.ToJSON()
	if err != nil {
		return "", err
	}
	w := bucket.Object(runName + "/" + metadataFileName).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", NewStorageError("failed to write run metadata to GCS", err)
	}
	if err := w.Close(); err != nil {
		return "", NewStorageError("failed to upload run metadata to GCS", err)
	}
	return location, nil
}

// Retrieve downloads a run's archive to destPath and verifies its checksum.
func (p *GCSStorageProvider) Retrieve(ctx context.Context, runID, destPath string) (*RunMetadata, error) {
	meta, err := p.GetMetadata(ctx, runID)
	if err != nil {
		return nil, err
	}
	if meta.ArchiveFile == "" {
		return nil, NewNotFoundError(fmt.Sprintf("run %s has no archive", runID), nil)
	}

	object := p.client.Bucket(p.bucketName).Object(p.runObjectName(runID) + "/" + meta.ArchiveFile)
	reader, err := object.NewReader(ctx)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download archive for run %s", runID), err)
	}
	defer reader.Close()

	if err := writeStream(destPath, reader); err != nil {
		return nil, err
	}
	if meta.Checksum != "" {
		if err := VerifyChecksum(destPath, meta.Checksum); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Delete removes every object under the run's prefix.
func (p *GCSStorageProvider) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return NewValidationError("run ID cannot be empty", nil)
	}

	bucket := p.client.Bucket(p.bucketName)
	it := bucket.Objects(ctx, &storage.Query{Prefix: p.runObjectName(runID) + "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return NewStorageError("failed to list run objects", err)
		}
		names = append(names, attrs.Name)
	}
	if len(names) == 0 {
		return NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
	}

	for _, name := range names {
		if err := bucket.Object(name).Delete(ctx); err != nil {
			return NewStorageError("failed to delete object "+name, err)
		}
	}
	return nil
}

// List iterates metadata objects and collects run metadata.
func (p *GCSStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*RunMetadata, error) {
	var runs []*RunMetadata

	prefix := p.prefix
	if filter.Prefix != "" {
		prefix += sanitizeRunID(filter.Prefix)
	}

	it := p.client.Bucket(p.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list runs from GCS", err)
		}
		if !strings.HasSuffix(attrs.Name, "/"+metadataFileName) {
			continue
		}
		runID := p.runIDFromObjectName(attrs.Name)
		if runID == "" {
			continue
		}
		meta, err := p.GetMetadata(ctx, runID)
		if err != nil {
			continue
		}
		runs = append(runs, meta)
		if filter.MaxItems > 0 && len(runs) >= filter.MaxItems {
			break
		}
	}
	return runs, nil
}

// GetMetadata downloads one run's metadata object.
func (p *GCSStorageProvider) GetMetadata(ctx context.Context, runID string) (*RunMetadata, error) {
	if runID == "" {
		return nil, NewValidationError("run ID cannot be empty", nil)
	}

	object := p.client.Bucket(p.bucketName).Object(p.runObjectName(runID) + "/" + metadataFileName)
	reader, err := object.NewReader(ctx)
	if err != nil {
		return nil, NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	defer reader.Close()

	return decodeMetadata(reader)
}

// HealthCheck verifies bucket access and list permission.
func (p *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	bucket := p.client.Bucket(p.bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		return NewStorageError("GCS health check failed: bucket not accessible", err)
	}
	it := bucket.Objects(ctx, &storage.Query{Prefix: p.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return NewStorageError("GCS health check failed: cannot list objects", err)
	}
	return nil
}

// Close releases the underlying client.
func (p *GCSStorageProvider) Close() error {
	return p.client.Close()
}

func (p *GCSStorageProvider) runObjectName(runID string) string {
	return p.prefix + sanitizeRunID(runID)
}

func (p *GCSStorageProvider) runIDFromObjectName(name string) string {
	if !strings.HasPrefix(name, p.prefix) {
		return ""
	}
	trimmed := strings.TrimPrefix(name, p.prefix)
	if !strings.HasSuffix(trimmed, "/"+metadataFileName) {
		return ""
	}
	return strings.TrimSuffix(trimmed, "/"+metadataFileName)
}
