package bulk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "forcebackup/internal/errors"
	"forcebackup/internal/logging"
	"forcebackup/internal/relationship"
	"forcebackup/internal/salesforce"
	"forcebackup/internal/schema"
)

const (
	// DefaultPollInterval is the pause between job state checks.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxPollAttempts bounds the polling loop. Combined with the
	// interval this gives a job five minutes to finish.
	DefaultMaxPollAttempts = 300

	// copyBufferSize is the fixed buffer used when streaming result CSV to
	// disk, independent of result size.
	copyBufferSize = 64 * 1024
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Progress        ProgressFunc
}

// Client drives the asynchronous query-job lifecycle for one org. Safe for
// concurrent use across objects.
type Client struct {
	api             *salesforce.Client
	inspector       *schema.Inspector
	logger          *logging.Logger
	pollInterval    time.Duration
	maxPollAttempts int
	progress        ProgressFunc
}

// NewClient creates a bulk extraction client.
func NewClient(api *salesforce.Client, inspector *schema.Inspector, logger *logging.Logger, opts Options) *Client {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	c := &Client{
		api:             api,
		inspector:       inspector,
		logger:          logger,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
		progress:        opts.Progress,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = DefaultMaxPollAttempts
	}
	return c
}

// BuildQuery assembles the extraction SOQL for an object: every queryable
// field in describe order, plus the relationship sidecar expressions.
func BuildQuery(md *schema.ObjectMetadata, sidecars []relationship.SidecarColumn, whereClause string, limit int) string {
	fields := md.QueryableFieldNames()
	for _, col := range sidecars {
		fields = append(fields, col.Expression)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(md.Name)
	if whereClause != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereClause)
	}
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}

type queryJobInfo struct {
	ID                     string `json:"id"`
	State                  string `json:"state"`
	ErrorMessage           string `json:"errorMessage"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
}

// unsupported entity markers in Bulk API rejection bodies
var unsupportedEntityMarkers = []string{
	"INVALIDENTITY",
	"is not supported by the Bulk API",
	"Entity is not query supported",
	"FeatureNotEnabled",
}

func isUnsupportedEntity(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	body, _ := appErr.Context["body"].(string)
	for _, marker := range unsupportedEntityMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// CreateJob submits a query job for an object. Objects the Bulk API refuses
// whole-sale surface as an unsupported-object error the caller records and
// skips; the run continues.
func (c *Client) CreateJob(ctx context.Context, object, soql string) (*ExtractionJob, error) {
	md, err := c.inspector.Describe(ctx, object)
	if err != nil {
		return nil, err
	}
	if !md.Queryable {
		return nil, apperrors.NewObjectUnsupportedError(object, "object is not queryable")
	}

	payload := map[string]string{
		"operation": "query",
		"query":     soql,
	}
	var info queryJobInfo
	if err := c.api.PostJSON(ctx, c.api.RestPath("jobs", "query"), payload, &info); err != nil {
		if isUnsupportedEntity(err) {
			return nil, apperrors.NewObjectUnsupportedError(object, "rejected by the Bulk API")
		}
		return nil, err
	}

	job := &ExtractionJob{
		ID:     info.ID,
		Object: object,
		Query:  soql,
		State:  JobState(info.State),
	}
	c.logger.WithFields(map[string]interface{}{
		"object": object,
		"job_id": job.ID,
		"state":  string(job.State),
	}).Debug("Query job created")
	return job, nil
}

// Poll drives a job to a terminal state, sleeping between checks and
// honoring context cancellation. On exhaustion the job is marked TimedOut
// locally; the server-side job is left alone.
func (c *Client) Poll(ctx context.Context, job *ExtractionJob) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for job.Attempts = 1; job.Attempts <= c.maxPollAttempts; job.Attempts++ {
		var info queryJobInfo
		if err := c.api.GetJSON(ctx, c.api.RestPath("jobs", "query", job.ID), &info); err != nil {
			return err
		}

		job.State = JobState(info.State)
		job.RecordsProcessed = info.NumberRecordsProcessed
		job.ErrorMessage = info.ErrorMessage
		c.logger.LogJobState(job.Object, job.ID, string(job.State), job.RecordsProcessed, job.Attempts)
		if c.progress != nil {
			c.progress(job.Object, job.State, job.RecordsProcessed)
		}

		switch job.State {
		case JobStateComplete:
			return nil
		case JobStateFailed:
			return apperrors.NewJobFailedError(job.Object, job.ID, job.ErrorMessage)
		case JobStateAborted:
			return apperrors.NewJobAbortedError(job.Object, job.ID)
		}

		if job.Attempts == c.maxPollAttempts {
			break
		}
		timer.Reset(c.pollInterval)
		select {
		case <-ctx.Done():
			return apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"extraction cancelled while waiting for job "+job.ID, ctx.Err())
		case <-timer.C:
		}
	}

	job.State = JobStateTimedOut
	return apperrors.NewJobTimedOutError(job.Object, job.ID, c.maxPollAttempts)
}

// DownloadResults streams a completed job's CSV to path, following
// Sforce-Locator pagination. The header row of follow-up pages is dropped,
// and header cells matching a key of renames are rewritten, which turns
// relationship traversal expressions into sidecar column names. Returns the
// number of data rows written.
func (c *Client) DownloadResults(ctx context.Context, job *ExtractionJob, path string, renames map[string]string) (int64, error) {
	if job.State != JobStateComplete {
		return 0, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("job %s is %s, results require JobComplete", job.ID, job.State), nil)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to create output file "+path, err)
	}
	defer out.Close()

	writer := bufio.NewWriterSize(out, copyBufferSize)
	var rows int64
	locator := ""
	firstPage := true

	for {
		resultPath := c.api.RestPath("jobs", "query", job.ID, "results")
		if locator != "" {
			resultPath += "?locator=" + url.QueryEscape(locator)
		}

		body, header, err := c.api.Stream(ctx, resultPath)
		if err != nil {
			return rows, err
		}

		pageRows, err := copyResultPage(writer, body, firstPage, renames)
		body.Close()
		if err != nil {
			return rows, apperrors.NewAppError(apperrors.ErrorTypeNetwork,
				"failed while streaming job results", err)
		}
		rows += pageRows
		firstPage = false

		locator = header.Get("Sforce-Locator")
		if locator == "" || locator == "null" {
			break
		}

		select {
		case <-ctx.Done():
			return rows, apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"download cancelled", ctx.Err())
		default:
		}
	}

	if err := writer.Flush(); err != nil {
		return rows, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to flush output file "+path, err)
	}
	return rows, nil
}

// copyResultPage streams one result page. The first line is the header: it
// is rewritten on the first page and discarded on every later one. Counts
// newline-terminated data rows.
func copyResultPage(w *bufio.Writer, r io.Reader, includeHeader bool, renames map[string]string) (int64, error) {
	reader := bufio.NewReaderSize(r, copyBufferSize)

	header, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, err
	}
	if includeHeader && header != "" {
		if _, werr := w.WriteString(renameHeader(header, renames)); werr != nil {
			return 0, werr
		}
	}
	if err == io.EOF {
		return 0, nil
	}

	var rows int64
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				if b == '\n' {
					rows++
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return rows, werr
			}
		}
		if rerr == io.EOF {
			return rows, nil
		}
		if rerr != nil {
			return rows, rerr
		}
	}
}

// renameHeader rewrites individual header cells. Header cells are plain
// field names or dotted traversals; they never contain commas or quotes.
func renameHeader(header string, renames map[string]string) string {
	if len(renames) == 0 {
		return header
	}
	line := strings.TrimRight(header, "\r\n")
	suffix := header[len(line):]

	cells := strings.Split(line, ",")
	for i, cell := range cells {
		cell = strings.Trim(cell, `"`)
		if replacement, ok := renames[cell]; ok {
			cells[i] = replacement
		} else {
			cells[i] = cell
		}
	}
	return strings.Join(cells, ",") + suffix
}
