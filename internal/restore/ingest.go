package restore

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"sort"
	"time"

	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/relationship"
	"forcebackup/internal/salesforce"
)

// ingestOperation maps the restore mode to the ingest job operation.
func (e *Executor) ingestOperation() (operation, externalIDField string) {
	switch {
	case e.opts.Mode == ModeUpdate:
		return "update", ""
	case e.opts.PreserveIDs:
		return "upsert", "Id"
	case e.opts.Mode == ModeUpsert:
		return "upsert", e.opts.ExternalIDField
	default:
		return "insert", ""
	}
}

// submitIngest pushes one oversized batch through a bulk ingest job:
// create, upload CSV, close, poll, collect results. Failed-row source IDs
// come from the failed-records CSV; ID mappings are recovered from the
// successful-records CSV wherever the payload carried a match key.
func (e *Executor) submitIngest(ctx context.Context, object string, records []salesforce.SObject, sourceIDs []string, offset int, idMap *relationship.IDMap) (int, []RecordFailure, error) {
	data, err := recordsToCSV(records)
	if err != nil {
		return 0, nil, err
	}

	operation, externalIDField := e.ingestOperation()
	job, err := e.api.CreateIngestJob(ctx, object, operation, externalIDField)
	if err != nil {
		return 0, nil, err
	}
	if err := e.api.UploadIngestData(ctx, job.ID, bytes.NewReader(data)); err != nil {
		return 0, nil, err
	}
	if err := e.api.CloseIngestJob(ctx, job.ID); err != nil {
		return 0, nil, err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; ; attempt++ {
		state, err := e.api.GetIngestJob(ctx, job.ID)
		if err != nil {
			return 0, nil, err
		}

		switch state.State {
		case "JobComplete":
			failures, err := e.collectIngestFailures(ctx, job.ID, offset)
			if err != nil {
				return 0, nil, err
			}
			if idMap != nil {
				if err := e.recoverIngestMappings(ctx, job.ID, records, sourceIDs, idMap); err != nil {
					e.logger.Warnf("could not recover ID mappings from ingest job %s: %v", job.ID, err)
				}
			}
			succeeded := int(state.NumberRecordsProcessed - state.NumberRecordsFailed)
			if succeeded < 0 {
				succeeded = 0
			}
			return succeeded, failures, nil
		case "Failed", "Aborted":
			return 0, nil, apperrors.NewJobFailedError(object, job.ID, state.ErrorMessage)
		}

		if attempt >= maxIngestPollAttempts {
			return 0, nil, apperrors.NewJobTimedOutError(object, job.ID, attempt)
		}
		timer.Reset(ingestPollInterval)
		select {
		case <-ctx.Done():
			return 0, nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"restore cancelled while waiting for ingest job "+job.ID, ctx.Err())
		case <-timer.C:
		}
	}
}

// recoverIngestMappings reads the successful-records CSV of a finished
// ingest job and records old-to-new ID mappings. The results carry the
// submitted columns back, so rows correlate through the write's match key:
// Id for update and preserve-ids runs, the external ID field for upserts.
// Insert jobs return nothing the submitted rows can be matched on and
// record no mappings.
func (e *Executor) recoverIngestMappings(ctx context.Context, jobID string, records []salesforce.SObject, sourceIDs []string, idMap *relationship.IDMap) error {
	operation, externalIDField := e.ingestOperation()
	if operation == "insert" {
		return nil
	}
	keyField := "Id"
	if externalIDField != "" {
		keyField = externalIDField
	}

	sourceByKey := make(map[string]string, len(records))
	for i, record := range records {
		if i >= len(sourceIDs) || sourceIDs[i] == "" {
			continue
		}
		if key, _ := record[keyField].(string); key != "" {
			sourceByKey[key] = sourceIDs[i]
		}
	}
	if len(sourceByKey) == 0 {
		return nil
	}

	body, err := e.api.IngestSuccessfulResults(ctx, jobID)
	if err != nil {
		return err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeUnknown,
			"failed to read ingest success results", err)
	}

	newIDIdx, keyIdx := -1, -1
	for i, name := range header {
		switch name {
		case "sf__Id":
			newIDIdx = i
		case keyField:
			keyIdx = i
		}
	}
	if newIDIdx < 0 || keyIdx < 0 {
		return nil
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeUnknown,
				"failed to read ingest success row", err)
		}
		if newIDIdx >= len(row) || keyIdx >= len(row) || row[newIDIdx] == "" {
			continue
		}
		if sourceID, ok := sourceByKey[row[keyIdx]]; ok {
			idMap.Add(sourceID, row[newIDIdx])
		}
	}
	return nil
}

// collectIngestFailures parses the failed-records CSV. The platform adds
// sf__Error (and sf__Id) columns in front of the submitted fields.
func (e *Executor) collectIngestFailures(ctx context.Context, jobID string, offset int) ([]RecordFailure, error) {
	body, err := e.api.IngestFailedResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown,
			"failed to read ingest failure results", err)
	}

	errorIdx, idIdx := -1, -1
	for i, name := range header {
		switch name {
		case "sf__Error":
			errorIdx = i
		case "Id":
			idIdx = i
		}
	}

	var failures []RecordFailure
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return failures, apperrors.NewAppError(apperrors.ErrorTypeUnknown,
				"failed to read ingest failure row", err)
		}

		failure := RecordFailure{Index: offset, Code: "INGEST"}
		if errorIdx >= 0 && errorIdx < len(record) {
			failure.Message = record[errorIdx]
		}
		if idIdx >= 0 && idIdx < len(record) {
			failure.SourceID = record[idIdx]
		}
		failures = append(failures, failure)
	}
	return failures, nil
}

// recordsToCSV flattens the batch into ingest CSV. The column set is the
// union of all record fields; absent values become empty cells, which
// ingest treats as "leave unset".
func recordsToCSV(records []salesforce.SObject) ([]byte, error) {
	columnSet := make(map[string]bool)
	for _, record := range records {
		for name := range record {
			if name == "attributes" {
				continue
			}
			columnSet[name] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for name := range columnSet {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown, "failed to build ingest CSV", err)
	}

	row := make([]string, len(columns))
	for _, record := range records {
		for i, name := range columns {
			value, _ := record[name].(string)
			row[i] = value
		}
		if err := writer.Write(row); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown, "failed to build ingest CSV", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown, "failed to build ingest CSV", err)
	}
	return buf.Bytes(), nil
}
