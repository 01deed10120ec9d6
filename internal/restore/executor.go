package restore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"forcebackup/internal/bulk"
	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/logging"
	"forcebackup/internal/relationship"
	"forcebackup/internal/salesforce"
	"forcebackup/internal/schema"
)

// systemFields are populated by the platform and stripped before any write.
var systemFields = map[string]bool{
	"CreatedDate":        true,
	"CreatedById":        true,
	"LastModifiedDate":   true,
	"LastModifiedById":   true,
	"SystemModstamp":     true,
	"IsDeleted":          true,
	"LastActivityDate":   true,
	"LastViewedDate":     true,
	"LastReferencedDate": true,
	"attributes":         true,
}

// ingestPollInterval paces ingest job polling; ingest jobs are rare (only
// batches above the composite limit) and slower than query jobs.
const ingestPollInterval = 2 * time.Second

const maxIngestPollAttempts = 300

// Executor replays a backup directory into a target org.
type Executor struct {
	api       *salesforce.Client
	inspector *schema.Inspector
	orderer   *Orderer
	logger    *logging.Logger
	opts      Options

	store    *relationship.MappingStore
	resolver *Resolver

	// deferredValues holds cyclic reference values collected in pass one
	// and written back in pass two, keyed by object.
	deferredValues map[string][]deferredUpdate
}

// deferredUpdate is one withheld reference value of one record.
type deferredUpdate struct {
	sourceID string
	field    string
	value    string
	// targets are the objects whose ID mappings can resolve the value.
	targets []string
}

// NewExecutor creates an executor for one restore run.
func NewExecutor(api *salesforce.Client, inspector *schema.Inspector, logger *logging.Logger, opts Options) (*Executor, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Executor{
		api:            api,
		inspector:      inspector,
		orderer:        NewOrderer(logger),
		logger:         logger,
		opts:           opts,
		deferredValues: make(map[string][]deferredUpdate),
	}, nil
}

// Restore replays the backup at dir. Objects are processed in dependency
// order; per-object and per-record failures are collected, never
// propagated. Only credential expiry aborts the run, and results produced
// up to that point are returned alongside the error.
func (e *Executor) Restore(ctx context.Context, dir string) (*RunResult, error) {
	manifest, err := relationship.LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	objects := e.opts.Objects
	if len(objects) == 0 {
		objects = manifest.ObjectNames()
	}

	e.store = relationship.NewMappingStore(dir)
	e.resolver = NewResolver(e.api, e.store, e.logger)

	plan := e.orderer.Order(manifest, objects)
	result := &RunResult{
		Order:     plan.Order,
		StartedAt: time.Now(),
		DryRun:    e.opts.DryRun,
	}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
	}()

	for _, object := range plan.Order {
		select {
		case <-ctx.Done():
			result.Aborted = true
			return result, apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"restore cancelled", ctx.Err())
		default:
		}

		objResult, err := e.restoreObject(ctx, dir, manifest.Object(object), plan.DeferredFields(object))
		result.Objects = append(result.Objects, objResult)
		if err != nil {
			// Fatal: credentials are gone, nothing else can succeed.
			result.Aborted = true
			e.saveMappings()
			return result, err
		}
	}

	if !e.opts.DryRun {
		if err := e.applyDeferred(ctx, result); err != nil {
			result.Aborted = true
			e.saveMappings()
			return result, err
		}
	}

	e.saveMappings()
	return result, nil
}

func (e *Executor) saveMappings() {
	if e.opts.DryRun {
		return
	}
	if err := e.store.SaveAll(); err != nil {
		e.logger.Warnf("failed to persist ID mappings: %v", err)
	}
}

// restoreObject replays one object's CSV. The returned error is non-nil
// only for run-fatal conditions.
func (e *Executor) restoreObject(ctx context.Context, dir string, entry *relationship.ObjectManifest, deferredFields []string) (*ObjectResult, error) {
	start := time.Now()
	result := &ObjectResult{Object: entry.Object}
	defer func() {
		result.Duration = time.Since(start)
	}()

	dataFile := entry.DataFile
	if dataFile == "" {
		dataFile = entry.Object + ".csv"
	}
	_, rows, err := bulk.ReadRecords(filepath.Join(dir, dataFile))
	if err != nil {
		result.Skipped = true
		result.Error = err.Error()
		return result, nil
	}
	result.Total = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	md, err := e.inspector.Describe(ctx, entry.Object)
	if err != nil {
		if apperrors.IsFatal(err) {
			return result, err
		}
		result.Skipped = true
		result.Error = err.Error()
		return result, nil
	}

	idMap, err := e.store.Get(entry.Object)
	if err != nil {
		result.Skipped = true
		result.Error = err.Error()
		return result, nil
	}

	if err := e.primeLookups(ctx, entry, rows); err != nil {
		if apperrors.IsFatal(err) {
			return result, err
		}
		result.Warnings = append(result.Warnings, "lookup priming failed: "+err.Error())
	}

	deferred := make(map[string]bool, len(deferredFields))
	for _, f := range deferredFields {
		deferred[f] = true
	}

	batchSize := e.opts.BatchSize
	for offset := 0; offset < len(rows); offset += batchSize {
		end := offset + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		stop, err := e.processBatch(ctx, entry, md, idMap, rows[offset:end], offset, deferred, result)
		if err != nil {
			return result, err
		}
		if e.opts.Progress != nil {
			e.opts.Progress(entry.Object, result.Succeeded+result.Failed, result.Total)
		}
		if stop {
			break
		}

		select {
		case <-ctx.Done():
			return result, apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"restore cancelled", ctx.Err())
		default:
		}
	}

	e.logger.LogObjectBackup(entry.Object, int64(result.Succeeded), 0, result.Duration, nil)
	return result, nil
}

// primeLookups batch-loads the resolver cache from the sidecar columns so
// per-row resolution stays query-free.
func (e *Executor) primeLookups(ctx context.Context, entry *relationship.ObjectManifest, rows []map[string]string) error {
	for _, m := range entry.Mappings {
		if m.Polymorphic || m.TargetObject == "" {
			continue
		}
		if m.TargetExternalIDField != "" {
			values := columnValues(rows, relationship.ExternalIDColumn(m.RelationshipName))
			if err := e.resolver.Prime(ctx, m.TargetObject, m.TargetExternalIDField, values); err != nil {
				return err
			}
		}
		if m.TargetNameField != "" {
			values := columnValues(rows, relationship.NameColumn(m.RelationshipName))
			if err := e.resolver.Prime(ctx, m.TargetObject, m.TargetNameField, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func columnValues(rows []map[string]string, column string) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := row[column]; v != "" {
			values = append(values, v)
		}
	}
	return values
}

// processBatch prepares and submits one batch. Returns stop=true when
// StopOnError tripped; error only for run-fatal conditions.
func (e *Executor) processBatch(ctx context.Context, entry *relationship.ObjectManifest, md *schema.ObjectMetadata,
	idMap *relationship.IDMap, rows []map[string]string, offset int, deferred map[string]bool, result *ObjectResult) (bool, error) {

	records := make([]salesforce.SObject, 0, len(rows))
	sourceIDs := make([]string, 0, len(rows))

	for i, row := range rows {
		sourceID := row["Id"]

		prepared, warnings, err := e.prepareRow(ctx, entry, md, row, deferred)
		if err != nil {
			return false, err
		}
		result.Warnings = append(result.Warnings, warnings...)

		if e.opts.ValidateRecords {
			if problems := ValidateRow(md, prepared, e.opts.Mode); len(problems) > 0 {
				result.Failed++
				for _, p := range problems {
					result.Failures = append(result.Failures, RecordFailure{
						SourceID: sourceID,
						Index:    offset + i,
						Code:     "VALIDATION",
						Message:  p,
					})
				}
				if e.opts.StopOnError {
					return true, nil
				}
				continue
			}
		}

		records = append(records, salesforce.NewSObject(entry.Object, prepared))
		sourceIDs = append(sourceIDs, sourceID)
	}

	if len(records) == 0 {
		return false, nil
	}

	if e.opts.DryRun {
		result.Succeeded += len(records)
		return false, nil
	}

	batchNumber := offset/e.opts.BatchSize + 1
	batchStart := time.Now()

	if len(records) > maxCompositeBatch {
		// Above the collection endpoint limit the batch goes through a
		// bulk ingest job. ID mappings are recovered from the job's
		// successful-results CSV where the payload carried a match key;
		// insert jobs return no such key and record none.
		succeeded, failures, err := e.submitIngest(ctx, entry.Object, records, sourceIDs, offset, idMap)
		if err != nil {
			if apperrors.IsFatal(err) {
				return false, err
			}
			result.Failed += len(records)
			result.Failures = append(result.Failures, RecordFailure{
				Index:   offset,
				Code:    string(apperrors.GetErrorType(err)),
				Message: err.Error(),
			})
			return e.opts.StopOnError, nil
		}
		result.Succeeded += succeeded
		result.Failed += len(failures)
		result.Failures = append(result.Failures, failures...)
		e.logger.LogRestoreBatch(entry.Object, batchNumber, succeeded, len(failures), time.Since(batchStart))
		return len(failures) > 0 && e.opts.StopOnError, nil
	}

	results, err := e.submitComposite(ctx, entry.Object, records)
	if err != nil {
		if apperrors.IsFatal(err) {
			return false, err
		}
		// whole batch failed; count every record
		result.Failed += len(records)
		result.Failures = append(result.Failures, RecordFailure{
			Index:   offset,
			Code:    string(apperrors.GetErrorType(err)),
			Message: err.Error(),
		})
		return e.opts.StopOnError, nil
	}

	var failed int
	for i, saveResult := range results {
		if saveResult.Success {
			result.Succeeded++
			if i < len(sourceIDs) {
				idMap.Add(sourceIDs[i], saveResult.ID)
			}
			continue
		}
		failed++
		result.Failed++
		failure := RecordFailure{Index: offset + i}
		if i < len(sourceIDs) {
			failure.SourceID = sourceIDs[i]
		}
		if len(saveResult.Errors) > 0 {
			failure.Code = saveResult.Errors[0].StatusCode
			failure.Message = saveResult.Errors[0].Message
		}
		result.Failures = append(result.Failures, failure)
	}
	e.logger.LogRestoreBatch(entry.Object, batchNumber, len(results)-failed, failed, time.Since(batchStart))

	if failed > 0 && e.opts.StopOnError {
		return true, nil
	}
	return false, nil
}

// prepareRow cleans one CSV row into a write payload: system fields,
// sidecar columns and empty values are dropped, reference fields are
// rewritten through the resolver, deferred fields are withheld for the
// second pass.
func (e *Executor) prepareRow(ctx context.Context, entry *relationship.ObjectManifest, md *schema.ObjectMetadata,
	row map[string]string, deferred map[string]bool) (map[string]interface{}, []string, error) {

	mappingByField := make(map[string]relationship.Mapping, len(entry.Mappings))
	for _, m := range entry.Mappings {
		mappingByField[m.FieldName] = m
	}

	sourceID := row["Id"]
	prepared := make(map[string]interface{}, len(row))
	var warnings []string

	for name, value := range row {
		if systemFields[name] || name == bulk.BinaryPathColumn {
			continue
		}
		if len(name) > len(relationship.SidecarPrefix) && name[:len(relationship.SidecarPrefix)] == relationship.SidecarPrefix {
			continue
		}
		if value == "" {
			continue
		}

		if name == "Id" {
			// Id survives only where the write addresses records by it.
			if e.opts.Mode == ModeUpdate || e.opts.PreserveIDs {
				prepared["Id"] = value
			}
			continue
		}

		field := md.FieldByName(name)
		if field != nil {
			if e.opts.Mode == ModeInsert && !field.Createable {
				continue
			}
			if e.opts.Mode == ModeUpdate && !field.Updateable {
				continue
			}
		}

		if deferred[name] {
			targets := []string{entry.Object}
			if mapping, ok := mappingByField[name]; ok {
				targets = referenceCandidates(mapping)
			}
			e.recordDeferred(entry.Object, sourceID, name, value, targets)
			continue
		}

		if mapping, ok := mappingByField[name]; ok {
			resolution, err := e.resolver.Resolve(ctx, entry.Object, mapping, row)
			if err != nil {
				if apperrors.IsFatal(err) {
					return nil, warnings, err
				}
				resolution = Resolution{Unresolved: true}
			}
			if resolution.Unresolved {
				warnings = append(warnings, fmt.Sprintf(
					"%s: reference %s=%s could not be resolved, restored as null",
					entry.Object, name, value))
				continue
			}
			prepared[name] = resolution.TargetID
			continue
		}

		prepared[name] = value
	}

	return prepared, warnings, nil
}

func (e *Executor) recordDeferred(object, sourceID, field, value string, targets []string) {
	if sourceID == "" {
		return
	}
	e.deferredValues[object] = append(e.deferredValues[object], deferredUpdate{
		sourceID: sourceID,
		field:    field,
		value:    value,
		targets:  targets,
	})
}

// applyDeferred is the second pass: every reference withheld to break a
// cycle is written back via updates, using the ID mappings pass one
// produced. Unresolvable values stay null with a warning.
func (e *Executor) applyDeferred(ctx context.Context, result *RunResult) error {
	if len(e.deferredValues) == 0 {
		return nil
	}

	resultByObject := make(map[string]*ObjectResult, len(result.Objects))
	for _, objResult := range result.Objects {
		resultByObject[objResult.Object] = objResult
	}

	objects := make([]string, 0, len(e.deferredValues))
	for object := range e.deferredValues {
		objects = append(objects, object)
	}
	sort.Strings(objects)

	for _, object := range objects {
		objResult := resultByObject[object]
		if objResult == nil {
			objResult = &ObjectResult{Object: object}
			result.Objects = append(result.Objects, objResult)
		}

		idMap, err := e.store.Get(object)
		if err != nil {
			objResult.Warnings = append(objResult.Warnings, "deferred pass skipped: "+err.Error())
			continue
		}

		// fold per-record field updates together
		fieldsByRecord := make(map[string]map[string]interface{})
		for _, update := range e.deferredValues[object] {
			targetID, ok := idMap.Lookup(update.sourceID)
			if !ok {
				objResult.Warnings = append(objResult.Warnings, fmt.Sprintf(
					"%s: record %s was not restored, deferred %s not written",
					object, update.sourceID, update.field))
				continue
			}

			resolved := e.resolveDeferredValue(update)
			if resolved == "" {
				objResult.Warnings = append(objResult.Warnings, fmt.Sprintf(
					"%s: deferred reference %s=%s could not be resolved, left null",
					object, update.field, update.value))
				continue
			}

			fields, ok := fieldsByRecord[targetID]
			if !ok {
				fields = map[string]interface{}{"Id": targetID}
				fieldsByRecord[targetID] = fields
			}
			fields[update.field] = resolved
		}

		if len(fieldsByRecord) == 0 {
			continue
		}

		records := make([]salesforce.SObject, 0, len(fieldsByRecord))
		ids := make([]string, 0, len(fieldsByRecord))
		for id := range fieldsByRecord {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			records = append(records, salesforce.NewSObject(object, fieldsByRecord[id]))
		}

		for offset := 0; offset < len(records); offset += maxCompositeBatch {
			end := offset + maxCompositeBatch
			if end > len(records) {
				end = len(records)
			}

			results, err := e.api.UpdateRecords(ctx, records[offset:end])
			if err != nil {
				if apperrors.IsFatal(err) {
					return err
				}
				objResult.Warnings = append(objResult.Warnings,
					"deferred update batch failed: "+err.Error())
				continue
			}
			for i, saveResult := range results {
				if saveResult.Success {
					objResult.Deferred++
					continue
				}
				failure := RecordFailure{Code: "DEFERRED_UPDATE"}
				if len(saveResult.Errors) > 0 {
					failure.Code = saveResult.Errors[0].StatusCode
					failure.Message = saveResult.Errors[0].Message
				}
				if offset+i < len(ids) {
					failure.SourceID = ids[offset+i]
				}
				objResult.Failures = append(objResult.Failures, failure)
			}
		}
	}

	return nil
}

// resolveDeferredValue maps a withheld source record ID through the ID
// mappings of the field's possible targets.
func (e *Executor) resolveDeferredValue(update deferredUpdate) string {
	for _, target := range update.targets {
		idMap, err := e.store.Get(target)
		if err != nil {
			continue
		}
		if targetID, ok := idMap.Lookup(update.value); ok {
			return targetID
		}
	}
	return ""
}

func (e *Executor) submitComposite(ctx context.Context, object string, records []salesforce.SObject) ([]salesforce.SaveResult, error) {
	switch {
	case e.opts.Mode == ModeUpdate:
		return e.api.UpdateRecords(ctx, records)
	case e.opts.PreserveIDs:
		return e.api.UpsertRecords(ctx, object, "Id", records)
	case e.opts.Mode == ModeUpsert:
		return e.api.UpsertRecords(ctx, object, e.opts.ExternalIDField, records)
	default:
		return e.api.CreateRecords(ctx, records)
	}
}
