package restore

import (
	"fmt"
	"strings"
	"time"

	"forcebackup/internal/errors"
)

// Mode selects how records are written into the target org.
type Mode string

const (
	// ModeInsert creates every record fresh; the target assigns new IDs.
	ModeInsert Mode = "INSERT"
	// ModeUpdate rewrites existing records matched by Id.
	ModeUpdate Mode = "UPDATE"
	// ModeUpsert matches on an external ID field, creating the record when
	// no match exists.
	ModeUpsert Mode = "UPSERT"
)

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeInsert:
		return ModeInsert, nil
	case ModeUpdate:
		return ModeUpdate, nil
	case ModeUpsert:
		return ModeUpsert, nil
	}
	return "", errors.NewAppError(errors.ErrorTypeValidation,
		fmt.Sprintf("unknown restore mode %q (want INSERT, UPDATE or UPSERT)", s), nil)
}

const (
	// DefaultBatchSize is the records-per-request default.
	DefaultBatchSize = 200
	// maxCompositeBatch is the collection endpoint's hard limit; larger
	// batches go through an ingest job instead.
	maxCompositeBatch = 200
)

// Options tunes a restore run.
type Options struct {
	Mode Mode
	// BatchSize bounds records per write request. Defaults to 200.
	BatchSize int
	// DryRun walks the whole pipeline, validation and resolution included,
	// without any write. The result has the same shape as a live run.
	DryRun bool
	// StopOnError aborts an object on its first failed record. Already
	// submitted batches stay; there is no rollback.
	StopOnError bool
	// PreserveIDs upserts with the source record ID as the match key.
	// Only meaningful when the target org is the source org.
	PreserveIDs bool
	// ExternalIDField is the upsert match field for ModeUpsert.
	ExternalIDField string
	// ValidateRecords runs schema validation before every write. Rows that
	// fail validation are counted as failures and never submitted.
	ValidateRecords bool
	// Objects restricts the restore to the named objects. Empty means
	// everything in the manifest.
	Objects []string
	// Progress receives a notification after every submitted batch with
	// the records handled so far out of the object's total. Observational
	// only; nil disables it.
	Progress ProgressFunc
}

// ProgressFunc receives per-object restore progress after each batch.
type ProgressFunc func(object string, completed, total int)

func (o *Options) normalize() error {
	if o.Mode == "" {
		o.Mode = ModeInsert
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Mode == ModeUpsert && !o.PreserveIDs && o.ExternalIDField == "" {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"UPSERT mode requires an external ID field or preserve-ids", nil)
	}
	return nil
}

// RecordFailure is one record's terminal failure within an object.
type RecordFailure struct {
	SourceID string
	Index    int
	Code     string
	Message  string
}

// ObjectResult is the outcome of restoring one object.
type ObjectResult struct {
	Object    string
	Total     int
	Succeeded int
	Failed    int
	// Deferred counts rows whose cyclic reference fields were written in
	// the follow-up pass.
	Deferred int
	Warnings []string
	Failures []RecordFailure
	Duration time.Duration
	// Skipped marks objects excluded before any write, with the reason in
	// Error.
	Skipped bool
	Error   string
}

// RunResult aggregates a whole restore run. Per-record failures live in the
// object results; only credential expiry aborts the run.
type RunResult struct {
	Order     []string
	Objects   []*ObjectResult
	StartedAt time.Time
	Duration  time.Duration
	// Aborted is set when the run stopped early; completed object results
	// are preserved.
	Aborted bool
	DryRun  bool
}

// TotalSucceeded sums succeeded records across objects.
func (r *RunResult) TotalSucceeded() int {
	var n int
	for _, obj := range r.Objects {
		n += obj.Succeeded
	}
	return n
}

// TotalFailed sums failed records across objects.
func (r *RunResult) TotalFailed() int {
	var n int
	for _, obj := range r.Objects {
		n += obj.Failed
	}
	return n
}

// Warnings collects all object warnings in run order.
func (r *RunResult) Warnings() []string {
	var all []string
	for _, obj := range r.Objects {
		all = append(all, obj.Warnings...)
	}
	return all
}
