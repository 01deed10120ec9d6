package salesforce

import (
	"context"
	"io"
)

// SObject is one record payload for the collection endpoints. The attributes
// entry carries the object type; everything else is field values.
type SObject map[string]interface{}

// NewSObject builds a record payload for the given object type.
func NewSObject(objectType string, fields map[string]interface{}) SObject {
	record := SObject{
		"attributes": map[string]string{"type": objectType},
	}
	for k, v := range fields {
		record[k] = v
	}
	return record
}

// SaveError is one error entry of a collection save result.
type SaveError struct {
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields"`
}

// SaveResult is one record outcome of a collection request.
type SaveResult struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Created bool        `json:"created"`
	Errors  []SaveError `json:"errors"`
}

// CreateRecords inserts up to 200 records via the composite collections
// endpoint. allOrNone is always false: each record succeeds or fails alone.
func (c *Client) CreateRecords(ctx context.Context, records []SObject) ([]SaveResult, error) {
	payload := map[string]interface{}{
		"allOrNone": false,
		"records":   records,
	}
	var results []SaveResult
	if err := c.PostJSON(ctx, c.RestPath("composite", "sobjects"), payload, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateRecords updates up to 200 records via the composite collections
// endpoint. Each record must carry its Id field.
func (c *Client) UpdateRecords(ctx context.Context, records []SObject) ([]SaveResult, error) {
	payload := map[string]interface{}{
		"allOrNone": false,
		"records":   records,
	}
	var results []SaveResult
	if err := c.PatchJSON(ctx, c.RestPath("composite", "sobjects"), payload, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UpsertRecords upserts up to 200 records keyed by the given external ID
// field via the composite collections endpoint.
func (c *Client) UpsertRecords(ctx context.Context, object, externalIDField string, records []SObject) ([]SaveResult, error) {
	payload := map[string]interface{}{
		"allOrNone": false,
		"records":   records,
	}
	var results []SaveResult
	path := c.RestPath("composite", "sobjects", object, externalIDField)
	if err := c.PatchJSON(ctx, path, payload, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// IngestJob is the state of a Bulk API v2 ingest job.
type IngestJob struct {
	ID                     string `json:"id"`
	Object                 string `json:"object"`
	Operation              string `json:"operation"`
	State                  string `json:"state"`
	ContentURL             string `json:"contentUrl"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int64  `json:"numberRecordsFailed"`
	ErrorMessage           string `json:"errorMessage"`
}

// CreateIngestJob opens a bulk ingest job. operation is insert, update or
// upsert; externalIDField is required for upsert only.
func (c *Client) CreateIngestJob(ctx context.Context, object, operation, externalIDField string) (*IngestJob, error) {
	payload := map[string]interface{}{
		"object":      object,
		"operation":   operation,
		"contentType": "CSV",
		"lineEnding":  "LF",
	}
	if externalIDField != "" {
		payload["externalIdFieldName"] = externalIDField
	}
	var job IngestJob
	if err := c.PostJSON(ctx, c.RestPath("jobs", "ingest"), payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UploadIngestData uploads the CSV batch for an ingest job.
func (c *Client) UploadIngestData(ctx context.Context, jobID string, data io.Reader) error {
	return c.PutCSV(ctx, c.RestPath("jobs", "ingest", jobID, "batches"), data)
}

// CloseIngestJob marks the uploaded data complete so processing starts.
func (c *Client) CloseIngestJob(ctx context.Context, jobID string) error {
	payload := map[string]string{"state": "UploadComplete"}
	return c.PatchJSON(ctx, c.RestPath("jobs", "ingest", jobID), payload, nil)
}

// GetIngestJob fetches the current state of an ingest job.
func (c *Client) GetIngestJob(ctx context.Context, jobID string) (*IngestJob, error) {
	var job IngestJob
	if err := c.GetJSON(ctx, c.RestPath("jobs", "ingest", jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// IngestFailedResults streams the failed-records CSV of a finished ingest
// job. The caller must close the reader.
func (c *Client) IngestFailedResults(ctx context.Context, jobID string) (io.ReadCloser, error) {
	body, _, err := c.Stream(ctx, c.RestPath("jobs", "ingest", jobID, "failedResults"))
	return body, err
}

// IngestSuccessfulResults streams the successful-records CSV of a finished
// ingest job. The caller must close the reader.
func (c *Client) IngestSuccessfulResults(ctx context.Context, jobID string) (io.ReadCloser, error) {
	body, _, err := c.Stream(ctx, c.RestPath("jobs", "ingest", jobID, "successfulResults"))
	return body, err
}
