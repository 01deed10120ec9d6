package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorageProvider stores archives on the local file system, one
// directory per run.
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates a local provider rooted at the configured
// base path, creating it when missing.
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("local storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	provider := &LocalStorageProvider{
		basePath:    config.BasePath,
		permissions: config.permissions(),
	}
	if err := os.MkdirAll(provider.basePath, provider.permissions); err != nil {
		return nil, NewStorageError("failed to create storage base directory", err)
	}
	return provider, nil
}

// Store copies the archive and writes metadata into the run's directory.
func (p *LocalStorageProvider) Store(ctx context.Context, meta *RunMetadata, archivePath string) (string, error) {
	if meta == nil {
		return "", NewValidationError("run metadata is required", nil)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	runDir := p.runDirectory(meta.ID)
	if err := os.MkdirAll(runDir, p.permissions); err != nil {
		return "", NewStorageError("failed to create run directory", err)
	}

	if archivePath != "" {
		dest := filepath.Join(runDir, filepath.Base(archivePath))
		if err := copyFile(archivePath, dest); err != nil {
			return "", NewStorageError("failed to copy archive into storage", err)
		}
	}

	meta.StorageLocation = runDir
	data, err := meta.ToJSON()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, metadataFileName), data, 0644); err != nil {
		return "", NewStorageError("failed to write run metadata", err)
	}
	return runDir, nil
}

// Retrieve copies a stored archive to destPath after verifying its checksum.
func (p *LocalStorageProvider) Retrieve(ctx context.Context, runID, destPath string) (*RunMetadata, error) {
	meta, err := p.GetMetadata(ctx, runID)
	if err != nil {
		return nil, err
	}
	if meta.ArchiveFile == "" {
		return nil, NewNotFoundError(fmt.Sprintf("run %s has no archive", runID), nil)
	}

	src := filepath.Join(p.runDirectory(runID), meta.ArchiveFile)
	if err := copyFile(src, destPath); err != nil {
		return nil, NewStorageError("failed to copy archive from storage", err)
	}
	if meta.Checksum != "" {
		if err := VerifyChecksum(destPath, meta.Checksum); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Delete removes a run's directory entirely.
func (p *LocalStorageProvider) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return NewValidationError("run ID cannot be empty", nil)
	}
	runDir := p.runDirectory(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	if err := os.RemoveAll(runDir); err != nil {
		return NewStorageError("failed to delete run directory", err)
	}
	return nil
}

// List walks the base path and collects run metadata.
func (p *LocalStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*RunMetadata, error) {
	var runs []*RunMetadata

	err := filepath.WalkDir(p.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == p.basePath {
			return nil
		}

		metadataPath := filepath.Join(path, metadataFileName)
		if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
			return nil
		}
		meta, err := loadMetadataFile(metadataPath)
		if err != nil {
			// unreadable entries are skipped, not fatal
			return filepath.SkipDir
		}
		if filter.Prefix != "" && !strings.HasPrefix(meta.ID, filter.Prefix) {
			return filepath.SkipDir
		}

		runs = append(runs, meta)
		if filter.MaxItems > 0 && len(runs) >= filter.MaxItems {
			return filepath.SkipAll
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, NewStorageError("failed to list runs", err)
	}
	return runs, nil
}

// GetMetadata reads one run's metadata file.
func (p *LocalStorageProvider) GetMetadata(ctx context.Context, runID string) (*RunMetadata, error) {
	if runID == "" {
		return nil, NewValidationError("run ID cannot be empty", nil)
	}
	metadataPath := filepath.Join(p.runDirectory(runID), metadataFileName)
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	return loadMetadataFile(metadataPath)
}

// HealthCheck verifies the base path is writable.
func (p *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(p.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return NewStorageError("storage health check failed: base directory not writable", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("storage health check failed: base directory not readable", err)
	}
	os.Remove(testFile)
	return nil
}

// BasePath returns the storage root.
func (p *LocalStorageProvider) BasePath() string {
	return p.basePath
}

func (p *LocalStorageProvider) runDirectory(runID string) string {
	return filepath.Join(p.basePath, sanitizeRunID(runID))
}

// sanitizeRunID keeps run IDs safe as path and object-key components.
func sanitizeRunID(runID string) string {
	sanitized := strings.ReplaceAll(runID, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	return sanitized
}

func loadMetadataFile(path string) (*RunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewStorageError("failed to read run metadata", err)
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, NewStorageError("failed to parse run metadata", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
