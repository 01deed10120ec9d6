package backup

import (
	"encoding/json"
	"os"
	"time"

	"forcebackup/internal/bulk"
	"forcebackup/internal/sink"
)

// RunStatus tracks the lifecycle of one backup run.
type RunStatus string

const (
	RunStatusRunning            RunStatus = "RUNNING"
	RunStatusCompleted          RunStatus = "COMPLETED"
	RunStatusCompletedWithSkips RunStatus = "COMPLETED_WITH_SKIPS"
	RunStatusFailed             RunStatus = "FAILED"
)

// CompressionType selects the archive compression algorithm.
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType names the supported archive storage backends.
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// DefaultConcurrency is the number of objects extracted in parallel.
const DefaultConcurrency = 4

// RunConfig configures one backup run.
type RunConfig struct {
	// OutputDir receives the per-object CSV files, binary sidecars and the
	// relationship manifest.
	OutputDir string `yaml:"output_dir"`
	// Objects restricts the run to the named objects. Empty with
	// AllObjects set means every queryable object in the org.
	Objects    []string `yaml:"objects,omitempty"`
	AllObjects bool     `yaml:"all_objects"`
	// IncludeBinaries fetches base64 content (Attachment bodies, files)
	// into per-object blob directories.
	IncludeBinaries bool `yaml:"include_binaries"`
	// WhereClauses holds optional per-object SOQL filters, keyed by object.
	WhereClauses map[string]string `yaml:"where_clauses,omitempty"`
	// Limit caps the records extracted per object. Zero means no cap.
	Limit int `yaml:"limit,omitempty"`
	// Concurrency bounds parallel object extractions.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Compression selects the archive algorithm; empty or NONE leaves the
	// backup directory unarchived unless remote storage demands one.
	Compression      CompressionType `yaml:"compression,omitempty"`
	CompressionLevel int             `yaml:"compression_level,omitempty"`

	Encryption *EncryptionConfig `yaml:"encryption,omitempty"`
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
	Retention  *RetentionPolicy  `yaml:"retention,omitempty"`

	// Sink optionally mirrors the extracted rows into a secondary data
	// sink (a MySQL database or a second CSV tree) after extraction.
	Sink *sink.Config `yaml:"sink,omitempty"`

	// Progress receives extraction job progress while jobs are polled.
	// Observational only; nil disables it.
	Progress bulk.ProgressFunc `yaml:"-" json:"-"`
}

// Validate checks the configuration before a run starts.
func (c *RunConfig) Validate() error {
	if c.OutputDir == "" {
		return NewConfigurationError("output directory is required", nil)
	}
	if len(c.Objects) == 0 && !c.AllObjects {
		return NewConfigurationError("no objects selected: name objects or enable all_objects", nil)
	}
	if c.Compression != "" {
		switch c.Compression {
		case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		default:
			return NewConfigurationError("unsupported compression type: "+string(c.Compression), nil)
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Validate(); err != nil {
			return err
		}
	}
	if c.Encryption != nil && c.Encryption.Enabled {
		if err := c.Encryption.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RunConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Compression == "" {
		c.Compression = CompressionTypeNone
	}
}

// EncryptionConfig controls archive encryption.
type EncryptionConfig struct {
	Enabled bool `yaml:"enabled"`
	// KeySource is "env" or "file".
	KeySource string `yaml:"key_source,omitempty"`
	KeyEnvVar string `yaml:"key_env_var,omitempty"`
	KeyPath   string `yaml:"key_path,omitempty"`
	// KeyRetriever overrides key loading, used by tests and embedders.
	KeyRetriever func() ([]byte, error) `yaml:"-" json:"-"`
}

// Validate checks that an enabled configuration can produce a key.
func (c *EncryptionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.KeyRetriever != nil {
		return nil
	}
	switch c.KeySource {
	case "env":
		if c.KeyEnvVar == "" {
			return NewConfigurationError("encryption key_env_var is required for key_source env", nil)
		}
	case "file":
		if c.KeyPath == "" {
			return NewConfigurationError("encryption key_path is required for key_source file", nil)
		}
	default:
		return NewConfigurationError("encryption key_source must be env or file", nil)
	}
	return nil
}

// GetEncryptionKey loads the 32-byte AES key from the configured source.
func (c *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if c.KeyRetriever != nil {
		return c.KeyRetriever()
	}
	km := NewKeyManager(c)
	switch c.KeySource {
	case "env":
		return km.LoadKeyFromEnv(c.KeyEnvVar)
	case "file":
		return km.LoadKeyFromFile(c.KeyPath)
	}
	return nil, NewEncryptionError("no encryption key source configured", nil)
}

// StorageConfig selects and configures the archive storage backend.
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty"`
}

// Validate checks that the selected provider is configured.
func (c *StorageConfig) Validate() error {
	switch c.Provider {
	case StorageProviderLocal:
		if c.Local == nil {
			return NewConfigurationError("local storage configuration is required", nil)
		}
		return c.Local.Validate()
	case StorageProviderS3:
		if c.S3 == nil {
			return NewConfigurationError("S3 storage configuration is required", nil)
		}
		return c.S3.Validate()
	case StorageProviderAzure:
		if c.Azure == nil {
			return NewConfigurationError("Azure storage configuration is required", nil)
		}
		return c.Azure.Validate()
	case StorageProviderGCS:
		if c.GCS == nil {
			return NewConfigurationError("GCS storage configuration is required", nil)
		}
		return c.GCS.Validate()
	}
	return NewConfigurationError("unsupported storage provider: "+string(c.Provider), nil)
}

// LocalConfig configures local file system archive storage.
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions,omitempty"`
}

// Validate checks the local storage settings.
func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return NewConfigurationError("local storage base_path is required", nil)
	}
	return nil
}

func (c *LocalConfig) permissions() os.FileMode {
	if c.Permissions == 0 {
		return 0755
	}
	return c.Permissions
}

// S3Config configures Amazon S3 archive storage.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// Validate checks the S3 settings.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return NewConfigurationError("S3 bucket is required", nil)
	}
	if c.Region == "" {
		return NewConfigurationError("S3 region is required", nil)
	}
	return nil
}

// AzureConfig configures Azure Blob archive storage.
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
}

// Validate checks the Azure settings.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return NewConfigurationError("Azure account_name and account_key are required", nil)
	}
	if c.ContainerName == "" {
		return NewConfigurationError("Azure container_name is required", nil)
	}
	return nil
}

// GCSConfig configures Google Cloud Storage archive storage.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path,omitempty"`
	ProjectID       string `yaml:"project_id,omitempty"`
}

// Validate checks the GCS settings.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return NewConfigurationError("GCS bucket is required", nil)
	}
	return nil
}

// StorageFilter narrows storage listing operations.
type StorageFilter struct {
	Prefix   string
	MaxItems int
}

// ObjectSummary is the per-object outcome of a backup run.
type ObjectSummary struct {
	Object         string        `json:"object"`
	Records        int64         `json:"records"`
	Binaries       int           `json:"binaries,omitempty"`
	BinaryFailures int           `json:"binaryFailures,omitempty"`
	KeyStrategy    string        `json:"keyStrategy,omitempty"`
	DataFile       string        `json:"dataFile,omitempty"`
	Duration       time.Duration `json:"duration"`
	// Skipped objects were excluded without aborting the run; Error holds
	// the reason for skipped and failed objects alike.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the object produced no usable data.
func (s *ObjectSummary) Failed() bool {
	return s.Error != "" && !s.Skipped
}

// RunMetadata describes one completed (or failed) backup run. It is stored
// alongside the archive so runs can be listed without unpacking anything.
type RunMetadata struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"orgId,omitempty"`
	APIVersion  string          `json:"apiVersion"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
	Status      RunStatus       `json:"status"`
	Objects     []ObjectSummary `json:"objects"`

	TotalRecords  int64 `json:"totalRecords"`
	TotalBinaries int   `json:"totalBinaries,omitempty"`

	ArchiveFile     string          `json:"archiveFile,omitempty"`
	ArchiveSize     int64           `json:"archiveSize,omitempty"`
	Checksum        string          `json:"checksum,omitempty"`
	CompressionType CompressionType `json:"compressionType,omitempty"`
	Encrypted       bool            `json:"encrypted,omitempty"`
	StorageLocation string          `json:"storageLocation,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// ToJSON serializes the metadata for storage.
func (m *RunMetadata) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, NewStorageError("failed to serialize run metadata", err)
	}
	return data, nil
}

// Validate checks that the metadata is complete enough to store.
func (m *RunMetadata) Validate() error {
	if m.ID == "" {
		return NewValidationError("run metadata has no ID", nil)
	}
	if m.StartedAt.IsZero() {
		return NewValidationError("run metadata has no start time", nil)
	}
	return nil
}

// SkippedObjects returns the names of objects the run skipped.
func (m *RunMetadata) SkippedObjects() []string {
	var names []string
	for _, obj := range m.Objects {
		if obj.Skipped {
			names = append(names, obj.Object)
		}
	}
	return names
}
