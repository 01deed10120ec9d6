package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forcebackup/internal/display"
	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/restore"
	"forcebackup/internal/schema"
)

var (
	restoreDir             string
	restoreMode            string
	restoreBatchSize       int
	restoreDryRun          bool
	restoreStopOnError     bool
	restorePreserveIDs     bool
	restoreExternalIDField string
	restoreValidate        bool
	restoreObjects         []string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup into a Salesforce org",
	Long: `Restore loads the CSV files and relationship manifest of a backup
directory into the target org. Objects are written in dependency order,
lookup values are rewritten to the IDs the target org assigns, and
self-referencing or cyclic lookups are filled in by a second update pass.

A dry run walks the whole pipeline, validation and resolution included,
without writing anything.`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreDir, "dir", "d", "", "backup directory to restore from (required)")
	restoreCmd.Flags().StringVar(&restoreMode, "mode", "", "write mode: INSERT, UPDATE or UPSERT")
	restoreCmd.Flags().IntVar(&restoreBatchSize, "batch-size", 0, "records per write request (default 200)")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "resolve and validate without writing")
	restoreCmd.Flags().BoolVar(&restoreStopOnError, "stop-on-error", false, "abort an object on its first failed record")
	restoreCmd.Flags().BoolVar(&restorePreserveIDs, "preserve-ids", false, "upsert with the source record ID as the match key")
	restoreCmd.Flags().StringVar(&restoreExternalIDField, "external-id-field", "", "upsert match field for UPSERT mode")
	restoreCmd.Flags().BoolVar(&restoreValidate, "validate", true, "validate rows against the target schema before writing")
	restoreCmd.Flags().StringSliceVar(&restoreObjects, "objects", nil, "restrict the restore to these objects")
	restoreCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	api, err := newSalesforceClient(logger)
	if err != nil {
		return err
	}
	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	mode, err := restore.ParseMode(firstNonEmpty(restoreMode, viper.GetString("restore.mode"), string(restore.ModeInsert)))
	if err != nil {
		return err
	}
	batchSize := restoreBatchSize
	if batchSize == 0 {
		batchSize = viper.GetInt("restore.batch_size")
	}
	validate := restoreValidate
	if !cmd.Flags().Changed("validate") && viper.IsSet("restore.validate") {
		validate = viper.GetBool("restore.validate")
	}

	opts := restore.Options{
		Mode:            mode,
		BatchSize:       batchSize,
		DryRun:          restoreDryRun,
		StopOnError:     restoreStopOnError || viper.GetBool("restore.stop_on_error"),
		PreserveIDs:     restorePreserveIDs,
		ExternalIDField: restoreExternalIDField,
		ValidateRecords: validate,
		Objects:         restoreObjects,
	}
	if !quiet {
		opts.Progress = func(object string, completed, total int) {
			fmt.Fprintf(os.Stderr, "  %s: %d/%d records\n", object, completed, total)
		}
	}

	executor, err := restore.NewExecutor(api, schema.NewInspector(api, logger), logger, opts)
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

	result, runErr := executor.Restore(ctx, restoreDir)
	if result != nil {
		if renderErr := display.NewRenderer(os.Stdout, format).RestoreSummary(result); renderErr != nil {
			logger.Warnf("Failed to render summary: %v", renderErr)
		}
	}
	if runErr != nil {
		return runErr
	}
	if result != nil && result.Aborted {
		return fmt.Errorf("restore aborted before completion")
	}
	return nil
}
