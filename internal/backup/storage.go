package backup

import (
	"context"
)

// metadataFileName is stored next to every archive so runs can be listed
// without downloading or unpacking anything.
const metadataFileName = "metadata.json"

// StorageProvider stores backup archives and their run metadata.
type StorageProvider interface {
	// Store uploads the archive and metadata, returning the storage
	// location the run was written to.
	Store(ctx context.Context, meta *RunMetadata, archivePath string) (string, error)
	// Retrieve downloads a run's archive to destPath and returns its
	// metadata. The archive checksum is verified when metadata carries one.
	Retrieve(ctx context.Context, runID, destPath string) (*RunMetadata, error)
	// Delete removes a run's archive and metadata.
	Delete(ctx context.Context, runID string) error
	// List returns run metadata matching the filter, newest not guaranteed
	// first; callers sort.
	List(ctx context.Context, filter StorageFilter) ([]*RunMetadata, error)
	// GetMetadata fetches one run's metadata.
	GetMetadata(ctx context.Context, runID string) (*RunMetadata, error)
	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error
}

// NewStorageProvider builds the provider selected by the configuration.
func NewStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(config.Local)
	case StorageProviderS3:
		return NewS3StorageProvider(config.S3)
	case StorageProviderAzure:
		return NewAzureStorageProvider(config.Azure)
	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS)
	}
	return nil, NewConfigurationError("unsupported storage provider: "+string(config.Provider), nil)
}

// SupportedStorageProviders lists the available backends.
func SupportedStorageProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}
