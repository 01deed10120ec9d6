package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forcebackup/internal/logging"
)

// encryptedSuffix marks archives sealed with AES-GCM.
const encryptedSuffix = ".enc"

// ArchiveInfo describes one packed archive.
type ArchiveInfo struct {
	Path         string          `json:"path"`
	OriginalSize int64           `json:"originalSize"`
	ArchiveSize  int64           `json:"archiveSize"`
	Checksum     string          `json:"checksum"`
	Compression  CompressionType `json:"compression"`
	Encrypted    bool            `json:"encrypted"`
	Duration     time.Duration   `json:"duration"`
}

// Archiver turns a backup directory into a single portable artifact:
// tar, then the configured compression, then optional encryption.
type Archiver struct {
	compression *CompressionManager
	encryption  *EncryptionManager
	algorithm   CompressionType
	level       int
	logger      *logging.Logger
}

// NewArchiver creates an archiver for one run.
func NewArchiver(algorithm CompressionType, level int, encConfig *EncryptionConfig, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Archiver{
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(encConfig),
		algorithm:   algorithm,
		level:       level,
		logger:      logger,
	}
}

// ArchiveName returns the file name an archive for runID will get, derived
// from the compression and encryption settings.
func (a *Archiver) ArchiveName(runID string) string {
	name := runID + ".tar" + Extension(a.algorithm)
	if a.encryption.IsEnabled() {
		name += encryptedSuffix
	}
	return name
}

// Pack archives the backup directory into destDir and returns the archive
// details, including the SHA-256 checksum of the final artifact.
func (a *Archiver) Pack(ctx context.Context, dir, destDir, runID string) (*ArchiveInfo, error) {
	start := time.Now()

	tarball, originalSize, err := tarDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}

	data, err := a.compression.Compress(tarball, a.algorithm, a.level)
	if err != nil {
		return nil, err
	}
	data, err = a.encryption.Encrypt(data)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(destDir, a.ArchiveName(runID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, NewArchiveError("failed to write archive "+path, err)
	}

	sum := sha256.Sum256(data)
	info := &ArchiveInfo{
		Path:         path,
		OriginalSize: originalSize,
		ArchiveSize:  int64(len(data)),
		Checksum:     hex.EncodeToString(sum[:]),
		Compression:  a.algorithm,
		Encrypted:    a.encryption.IsEnabled(),
		Duration:     time.Since(start),
	}
	a.logger.WithFields(map[string]interface{}{
		"archive": filepath.Base(path),
		"size":    info.ArchiveSize,
		"ratio":   CompressionRatio(info.OriginalSize, info.ArchiveSize),
	}).Debug("Backup archived")
	return info, nil
}

// Unpack reverses Pack into destDir. Compression and encryption are
// inferred from the archive file name.
func (a *Archiver) Unpack(ctx context.Context, archivePath, destDir string) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return NewArchiveError("failed to read archive "+archivePath, err)
	}

	name := filepath.Base(archivePath)
	if strings.HasSuffix(name, encryptedSuffix) {
		if !a.encryption.IsEnabled() {
			return NewEncryptionError("archive is encrypted but no encryption key is configured", nil)
		}
		if data, err = a.encryption.Decrypt(data); err != nil {
			return err
		}
		name = strings.TrimSuffix(name, encryptedSuffix)
	}

	algorithm := AlgorithmForExtension(filepath.Ext(name))
	if data, err = a.compression.Decompress(data, algorithm); err != nil {
		return err
	}

	return untar(ctx, bytes.NewReader(data), destDir)
}

// VerifyChecksum compares an archive file against an expected SHA-256 hex
// digest.
func VerifyChecksum(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return NewArchiveError("failed to open archive for verification", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return NewArchiveError("failed to hash archive", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != expected {
		return NewCorruptionError("archive checksum mismatch", nil)
	}
	return nil
}

// tarDirectory tars every regular file under dir with paths relative to it.
func tarDirectory(ctx context.Context, dir string) ([]byte, int64, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	var total int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		total += n
		return err
	})
	if err != nil {
		return nil, 0, NewArchiveError("failed to tar backup directory", err)
	}
	if err := tw.Close(); err != nil {
		return nil, 0, NewArchiveError("failed to finalize tar archive", err)
	}
	return buf.Bytes(), total, nil
}

// untar extracts a tar stream into destDir, refusing entries that would
// escape it.
func untar(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return NewArchiveError("failed to read tar entry", err)
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return NewArchiveError("tar entry escapes destination: "+header.Name, nil)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return NewArchiveError("failed to create directory "+target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return NewArchiveError("failed to create directory for "+target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return NewArchiveError("failed to create file "+target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return NewArchiveError("failed to extract "+target, err)
			}
			f.Close()
		}
	}
}
