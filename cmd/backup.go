package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forcebackup/internal/backup"
	"forcebackup/internal/bulk"
	"forcebackup/internal/display"
	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/sink"
)

var (
	backupOutputDir        string
	backupObjects          []string
	backupAllObjects       bool
	backupIncludeBinaries  bool
	backupWhere            []string
	backupLimit            int
	backupConcurrency      int
	backupCompression      string
	backupCompressionLevel int
	backupEncryptKeyEnv    string
	backupEncryptKeyFile   string
	backupSinkDSN          string
	backupSinkDir          string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up object data from a Salesforce org",
	Long: `Back up extracts the selected objects through Bulk API v2 query jobs
into per-object CSV files, optionally downloads binary content, and
writes the relationship manifest a later restore needs.

With compression or encryption configured the backup directory is packed
into a single archive; with a storage backend configured the archive is
uploaded and retention is applied.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutputDir, "output", "o", "", "backup output directory")
	backupCmd.Flags().StringSliceVar(&backupObjects, "objects", nil, "objects to back up (comma separated)")
	backupCmd.Flags().BoolVar(&backupAllObjects, "all-objects", false, "back up every queryable object")
	backupCmd.Flags().BoolVar(&backupIncludeBinaries, "include-binaries", false, "download binary content (attachments, files)")
	backupCmd.Flags().StringArrayVar(&backupWhere, "where", nil, `per-object SOQL filter, e.g. --where "Account=CreatedDate > 2024-01-01T00:00:00Z"`)
	backupCmd.Flags().IntVar(&backupLimit, "limit", 0, "cap records per object (0 = all)")
	backupCmd.Flags().IntVar(&backupConcurrency, "concurrency", 0, "objects extracted in parallel")
	backupCmd.Flags().StringVar(&backupCompression, "compression", "", "archive compression (none, gzip, lz4, zstd)")
	backupCmd.Flags().IntVar(&backupCompressionLevel, "compression-level", 0, "compression level (0 = algorithm default)")
	backupCmd.Flags().StringVar(&backupEncryptKeyEnv, "encrypt-key-env", "", "encrypt the archive with the hex key in this environment variable")
	backupCmd.Flags().StringVar(&backupEncryptKeyFile, "encrypt-key-file", "", "encrypt the archive with the 32-byte key in this file")
	backupCmd.Flags().StringVar(&backupSinkDSN, "sink-dsn", "", "mirror extracted rows into this MySQL DSN")
	backupCmd.Flags().StringVar(&backupSinkDir, "sink-dir", "", "mirror extracted rows as CSV into this directory")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	api, err := newSalesforceClient(logger)
	if err != nil {
		return err
	}
	config, err := buildBackupConfig()
	if err != nil {
		return err
	}
	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if !quiet {
		config.Progress = func(object string, state bulk.JobState, records int64) {
			fmt.Fprintf(os.Stderr, "  %s: %s, %d records processed\n", object, state, records)
		}
	}

	manager, err := backup.NewManager(api, logger, *config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	meta, runErr := manager.Run(ctx)
	if meta != nil {
		if renderErr := display.NewRenderer(os.Stdout, format).BackupSummary(meta); renderErr != nil {
			logger.Warnf("Failed to render summary: %v", renderErr)
		}
	}
	return runErr
}

// buildBackupConfig merges flags over the backup section of the config file.
func buildBackupConfig() (*backup.RunConfig, error) {
	config := &backup.RunConfig{
		OutputDir:       firstNonEmpty(backupOutputDir, viper.GetString("backup.output_dir")),
		Objects:         backupObjects,
		AllObjects:      backupAllObjects || viper.GetBool("backup.all_objects"),
		IncludeBinaries: backupIncludeBinaries || viper.GetBool("backup.include_binaries"),
		Limit:           backupLimit,
		Concurrency:     backupConcurrency,
	}
	if len(config.Objects) == 0 {
		config.Objects = viper.GetStringSlice("backup.objects")
	}
	if config.Limit == 0 {
		config.Limit = viper.GetInt("backup.limit")
	}
	if config.Concurrency == 0 {
		config.Concurrency = viper.GetInt("backup.concurrency")
	}

	compression := firstNonEmpty(backupCompression, viper.GetString("backup.compression"))
	if compression != "" {
		config.Compression = backup.CompressionType(strings.ToUpper(compression))
	}
	config.CompressionLevel = backupCompressionLevel
	if config.CompressionLevel == 0 {
		config.CompressionLevel = viper.GetInt("backup.compression_level")
	}

	where, err := parseWhereClauses(backupWhere)
	if err != nil {
		return nil, err
	}
	config.WhereClauses = where

	config.Encryption = buildEncryptionConfig()
	config.Storage = buildStorageConfig()
	config.Retention = buildRetentionPolicy()
	config.Sink = buildSinkConfig()
	return config, nil
}

// parseWhereClauses splits repeated Object=clause flags.
func parseWhereClauses(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	clauses := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		object, clause, found := strings.Cut(pair, "=")
		if !found || object == "" || clause == "" {
			return nil, fmt.Errorf("invalid --where value %q, want Object=SOQL-condition", pair)
		}
		clauses[strings.TrimSpace(object)] = strings.TrimSpace(clause)
	}
	return clauses, nil
}

func buildEncryptionConfig() *backup.EncryptionConfig {
	keyEnv := firstNonEmpty(backupEncryptKeyEnv, viper.GetString("backup.encryption.key_env_var"))
	keyFile := firstNonEmpty(backupEncryptKeyFile, viper.GetString("backup.encryption.key_path"))
	enabled := backupEncryptKeyEnv != "" || backupEncryptKeyFile != "" || viper.GetBool("backup.encryption.enabled")
	if !enabled {
		return nil
	}

	config := &backup.EncryptionConfig{Enabled: true}
	switch {
	case backupEncryptKeyEnv != "":
		config.KeySource = "env"
		config.KeyEnvVar = keyEnv
	case backupEncryptKeyFile != "":
		config.KeySource = "file"
		config.KeyPath = keyFile
	case viper.GetString("backup.encryption.key_source") == "file":
		config.KeySource = "file"
		config.KeyPath = keyFile
	default:
		config.KeySource = "env"
		config.KeyEnvVar = keyEnv
	}
	return config
}

func buildStorageConfig() *backup.StorageConfig {
	provider := viper.GetString("backup.storage.provider")
	if provider == "" {
		return nil
	}
	return &backup.StorageConfig{
		Provider: backup.StorageProviderType(strings.ToUpper(provider)),
		Local: &backup.LocalConfig{
			BasePath: viper.GetString("backup.storage.local.base_path"),
		},
		S3: &backup.S3Config{
			Bucket:    viper.GetString("backup.storage.s3.bucket"),
			Region:    viper.GetString("backup.storage.s3.region"),
			AccessKey: viper.GetString("backup.storage.s3.access_key"),
			SecretKey: viper.GetString("backup.storage.s3.secret_key"),
		},
		Azure: &backup.AzureConfig{
			AccountName:   viper.GetString("backup.storage.azure.account_name"),
			AccountKey:    viper.GetString("backup.storage.azure.account_key"),
			ContainerName: viper.GetString("backup.storage.azure.container_name"),
		},
		GCS: &backup.GCSConfig{
			Bucket:          viper.GetString("backup.storage.gcs.bucket"),
			CredentialsPath: viper.GetString("backup.storage.gcs.credentials_path"),
			ProjectID:       viper.GetString("backup.storage.gcs.project_id"),
		},
	}
}

func buildRetentionPolicy() *backup.RetentionPolicy {
	maxRuns := viper.GetInt("backup.retention.max_runs")
	maxAge := viper.GetDuration("backup.retention.max_age")
	if maxRuns <= 0 && maxAge <= 0 {
		return nil
	}
	return &backup.RetentionPolicy{
		MaxRuns: maxRuns,
		MaxAge:  maxAge,
	}
}

func buildSinkConfig() *sink.Config {
	dsn := firstNonEmpty(backupSinkDSN, viper.GetString("backup.sink.dsn"))
	dir := firstNonEmpty(backupSinkDir, viper.GetString("backup.sink.directory"))
	switch {
	case dsn != "":
		return &sink.Config{
			Type:        sink.TypeMySQL,
			DSN:         dsn,
			BatchSize:   viper.GetInt("backup.sink.batch_size"),
			TablePrefix: viper.GetString("backup.sink.table_prefix"),
		}
	case dir != "":
		return &sink.Config{Type: sink.TypeCSV, Directory: dir}
	}
	return nil
}
