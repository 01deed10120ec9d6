package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"forcebackup/internal/bulk"
	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/logging"
	"forcebackup/internal/relationship"
	"forcebackup/internal/salesforce"
	"forcebackup/internal/schema"
	"forcebackup/internal/sink"
)

// apiLimitWarnThreshold triggers a warning when the org has fewer daily API
// requests left than this before the run starts.
const apiLimitWarnThreshold = 1000

// Manager orchestrates a full backup run: schema inspection, bulk
// extraction per object, relationship manifest, optional archiving and
// storage upload.
type Manager struct {
	api       *salesforce.Client
	inspector *schema.Inspector
	bulk      *bulk.Client
	logger    *logging.Logger
	config    RunConfig
}

// NewManager creates a backup manager for one org connection.
func NewManager(api *salesforce.Client, logger *logging.Logger, config RunConfig) (*Manager, error) {
	if api == nil {
		return nil, NewConfigurationError("salesforce client is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	inspector := schema.NewInspector(api, logger)
	return &Manager{
		api:       api,
		inspector: inspector,
		bulk:      bulk.NewClient(api, inspector, logger, bulk.Options{Progress: config.Progress}),
		logger:    logger,
		config:    config,
	}, nil
}

// Run executes the backup. Per-object failures are recorded and the run
// continues; expired credentials abort it. The returned metadata is
// populated even when the run fails part-way.
func (m *Manager) Run(ctx context.Context) (*RunMetadata, error) {
	meta := &RunMetadata{
		ID:         uuid.NewString(),
		APIVersion: m.api.APIVersion(),
		StartedAt:  time.Now().UTC(),
		Status:     RunStatusRunning,
	}
	m.logger.WithFields(map[string]interface{}{
		"run_id":      meta.ID,
		"output_dir":  m.config.OutputDir,
		"concurrency": m.config.Concurrency,
	}).Info("Backup run started")

	orgID, err := m.api.OrgID(ctx)
	if err != nil {
		if apperrors.IsFatal(err) {
			meta.Status = RunStatusFailed
			return meta, err
		}
		meta.Warnings = append(meta.Warnings, "could not determine org ID: "+err.Error())
	}
	meta.OrgID = orgID

	m.checkAPILimits(ctx, meta)

	objects, err := m.resolveObjects(ctx)
	if err != nil {
		meta.Status = RunStatusFailed
		return meta, err
	}
	if err := os.MkdirAll(m.config.OutputDir, 0755); err != nil {
		meta.Status = RunStatusFailed
		return meta, NewStorageError("failed to create output directory "+m.config.OutputDir, err)
	}

	manifest := relationship.NewManifest(orgID, meta.APIVersion)
	if err := m.extractObjects(ctx, objects, manifest, meta); err != nil {
		meta.Status = RunStatusFailed
		meta.CompletedAt = time.Now().UTC()
		return meta, err
	}

	if err := manifest.Save(m.config.OutputDir); err != nil {
		meta.Status = RunStatusFailed
		meta.CompletedAt = time.Now().UTC()
		return meta, err
	}

	if m.config.Sink != nil {
		if err := m.exportToSink(ctx, manifest); err != nil {
			meta.Warnings = append(meta.Warnings, "sink export failed: "+err.Error())
			m.logger.Warnf("Sink export failed: %v", err)
		}
	}

	if err := m.finalize(ctx, meta); err != nil {
		meta.Status = RunStatusFailed
		meta.CompletedAt = time.Now().UTC()
		return meta, err
	}

	meta.CompletedAt = time.Now().UTC()
	if len(meta.SkippedObjects()) > 0 {
		meta.Status = RunStatusCompletedWithSkips
	} else {
		meta.Status = RunStatusCompleted
	}
	m.logger.WithFields(map[string]interface{}{
		"run_id":   meta.ID,
		"status":   string(meta.Status),
		"objects":  len(meta.Objects),
		"records":  meta.TotalRecords,
		"duration": meta.CompletedAt.Sub(meta.StartedAt).String(),
	}).Info("Backup run finished")
	return meta, nil
}

// checkAPILimits warns when the org is close to its daily request cap. The
// check itself failing is not worth more than a debug line.
func (m *Manager) checkAPILimits(ctx context.Context, meta *RunMetadata) {
	limits, err := m.api.Limits(ctx)
	if err != nil {
		m.logger.Debugf("API limit check failed: %v", err)
		return
	}
	if limit, ok := limits["DailyApiRequests"]; ok && limit.Remaining < apiLimitWarnThreshold {
		warning := fmt.Sprintf("org has only %d of %d daily API requests remaining", limit.Remaining, limit.Max)
		meta.Warnings = append(meta.Warnings, warning)
		m.logger.Warn(warning)
	}
}

// resolveObjects returns the objects this run extracts.
func (m *Manager) resolveObjects(ctx context.Context) ([]string, error) {
	if len(m.config.Objects) > 0 {
		return m.config.Objects, nil
	}
	objects, err := m.api.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Infof("Backing up all %d queryable objects", len(objects))
	return objects, nil
}

// extractObjects runs the per-object extractions through a bounded worker
// pool. A fatal error cancels the remaining work.
func (m *Manager) extractObjects(ctx context.Context, objects []string, manifest *relationship.Manifest, meta *RunMetadata) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i := 0; i < m.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for object := range jobs {
				summary, entry, err := m.backupObject(runCtx, object)

				mu.Lock()
				meta.Objects = append(meta.Objects, *summary)
				meta.TotalRecords += summary.Records
				meta.TotalBinaries += summary.Binaries
				if entry != nil {
					manifest.AddObject(entry)
				}
				if err != nil && apperrors.IsFatal(err) && fatalErr == nil {
					fatalErr = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}

	for _, object := range objects {
		select {
		case <-runCtx.Done():
		case jobs <- object:
		}
	}
	close(jobs)
	wg.Wait()

	return fatalErr
}

// backupObject extracts one object: describe, build the query with
// relationship sidecar columns, run the bulk job, download results and
// optionally binaries. Unsupported objects come back as skipped summaries
// with a nil error; other failures return the summary and the cause.
func (m *Manager) backupObject(ctx context.Context, object string) (*ObjectSummary, *relationship.ObjectManifest, error) {
	start := time.Now()
	summary := &ObjectSummary{Object: object}

	md, err := m.inspector.Describe(ctx, object)
	if err != nil {
		return m.objectFailed(summary, start, err), nil, err
	}

	selection := relationship.ChooseKeyStrategy(md)
	summary.KeyStrategy = string(selection.Strategy)
	mappings := relationship.BuildMappings(ctx, md, m.inspector)
	sidecars := relationship.AdditionalBackupColumns(mappings)

	renames := make(map[string]string, len(sidecars))
	for _, col := range sidecars {
		renames[col.Expression] = col.Name
	}

	soql := bulk.BuildQuery(md, sidecars, m.config.WhereClauses[object], m.config.Limit)
	job, err := m.bulk.CreateJob(ctx, object, soql)
	if err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrorTypeObjectUnsupported {
			summary.Skipped = true
			summary.Error = err.Error()
			summary.Duration = time.Since(start)
			m.logger.WithField("object", object).Warn("Object not supported by the Bulk API, skipping")
			return summary, nil, nil
		}
		return m.objectFailed(summary, start, err), nil, err
	}

	if err := m.bulk.Poll(ctx, job); err != nil {
		return m.objectFailed(summary, start, err), nil, err
	}

	dataFile := object + ".csv"
	csvPath := filepath.Join(m.config.OutputDir, dataFile)
	rows, err := m.bulk.DownloadResults(ctx, job, csvPath, renames)
	if err != nil {
		return m.objectFailed(summary, start, err), nil, err
	}
	summary.Records = rows
	summary.DataFile = dataFile

	if m.config.IncludeBinaries && md.HasBinaryField() {
		binDir := filepath.Join(m.config.OutputDir, object+"_files")
		binResult, binErr := m.bulk.DownloadBinaries(ctx, object, csvPath, binDir)
		if binResult != nil {
			summary.Binaries = binResult.Downloaded + binResult.Skipped
			summary.BinaryFailures = binResult.Failed
		}
		if binErr != nil {
			return m.objectFailed(summary, start, binErr), nil, binErr
		}
	}

	summary.Duration = time.Since(start)
	m.logger.LogObjectBackup(object, summary.Records, summary.Binaries, summary.Duration, nil)

	entry := &relationship.ObjectManifest{
		Object:      object,
		KeyStrategy: selection.Strategy,
		KeyFields:   selection.Fields,
		Mappings:    mappings,
		RecordCount: rows,
		BinaryField: md.BinaryField,
		DataFile:    dataFile,
	}
	return summary, entry, nil
}

func (m *Manager) objectFailed(summary *ObjectSummary, start time.Time, err error) *ObjectSummary {
	summary.Error = err.Error()
	summary.Duration = time.Since(start)
	m.logger.LogObjectBackup(summary.Object, summary.Records, summary.Binaries, summary.Duration, err)
	return summary
}

// exportToSink replays every extracted CSV through the configured sink.
func (m *Manager) exportToSink(ctx context.Context, manifest *relationship.Manifest) error {
	s, err := sink.New(*m.config.Sink)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, name := range manifest.ObjectNames() {
		entry := manifest.Object(name)
		columns, records, err := bulk.ReadRecords(filepath.Join(m.config.OutputDir, entry.DataFile))
		if err != nil {
			return err
		}
		if err := s.Begin(ctx, name, columns); err != nil {
			return err
		}
		for _, record := range records {
			values := make([]string, len(columns))
			for i, col := range columns {
				values[i] = record[col]
			}
			if err := s.Append(ctx, values); err != nil {
				return err
			}
		}
		if err := s.End(ctx); err != nil {
			return err
		}
	}
	m.logger.Infof("Exported %d objects to %s sink", len(manifest.Objects), m.config.Sink.Type)
	return nil
}

// finalize archives the backup directory and pushes the artifact to the
// configured storage backend, then applies retention.
func (m *Manager) finalize(ctx context.Context, meta *RunMetadata) error {
	archive, err := m.archiveRun(ctx, meta)
	if err != nil {
		return err
	}

	if m.config.Storage == nil {
		return nil
	}
	provider, err := NewStorageProvider(ctx, *m.config.Storage)
	if err != nil {
		return err
	}

	archivePath := ""
	if archive != nil {
		archivePath = archive.Path
	}
	location, err := provider.Store(ctx, meta, archivePath)
	if err != nil {
		return err
	}
	meta.StorageLocation = location
	m.logger.WithField("location", location).Info("Backup stored")

	if m.config.Retention.Enabled() {
		retention := NewRetentionManager(provider, *m.config.Retention, m.logger)
		result, err := retention.Apply(ctx, false)
		if err != nil {
			meta.Warnings = append(meta.Warnings, "retention failed: "+err.Error())
		} else if len(result.Deleted) > 0 {
			m.logger.Infof("Retention removed %d expired runs", len(result.Deleted))
		}
	}
	return nil
}

// archiveRun packs the output directory when compression or encryption is
// requested, or when a remote storage backend needs a single artifact.
func (m *Manager) archiveRun(ctx context.Context, meta *RunMetadata) (*ArchiveInfo, error) {
	encryptionEnabled := m.config.Encryption != nil && m.config.Encryption.Enabled
	needsArchive := m.config.Compression != CompressionTypeNone || encryptionEnabled ||
		(m.config.Storage != nil && m.config.Storage.Provider != StorageProviderLocal)
	if !needsArchive {
		return nil, nil
	}

	archiver := NewArchiver(m.config.Compression, m.config.CompressionLevel, m.config.Encryption, m.logger)
	info, err := archiver.Pack(ctx, m.config.OutputDir, filepath.Dir(m.config.OutputDir), meta.ID)
	if err != nil {
		return nil, err
	}

	meta.ArchiveFile = filepath.Base(info.Path)
	meta.ArchiveSize = info.ArchiveSize
	meta.Checksum = info.Checksum
	meta.CompressionType = info.Compression
	meta.Encrypted = info.Encrypted
	return info, nil
}
