package bulk

// JobState is the lifecycle state of an asynchronous query job. All states
// except TimedOut come from the server; TimedOut is synthesized locally when
// the polling budget runs out.
type JobState string

const (
	// JobStateQueued means the job is accepted but not yet running.
	JobStateQueued JobState = "Queued"
	// JobStateInProgress means the server is producing results.
	JobStateInProgress JobState = "InProgress"
	// JobStateComplete means results are ready for download.
	JobStateComplete JobState = "JobComplete"
	// JobStateFailed means the server gave up on the job.
	JobStateFailed JobState = "Failed"
	// JobStateAborted means the job was cancelled outside this tool.
	JobStateAborted JobState = "Aborted"
	// JobStateTimedOut means the job stayed non-terminal past the polling
	// budget. The job may still finish server-side; a later run can retry.
	JobStateTimedOut JobState = "TimedOut"
)

// Terminal reports whether the state ends the polling loop.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateFailed, JobStateAborted, JobStateTimedOut:
		return true
	}
	return false
}

// ExtractionJob tracks one object's query job through its lifecycle.
type ExtractionJob struct {
	ID               string
	Object           string
	Query            string
	State            JobState
	Attempts         int
	RecordsProcessed int64
	ErrorMessage     string
}

// ProgressFunc receives observational progress updates during polling and
// download. Implementations must not block.
type ProgressFunc func(object string, state JobState, recordsProcessed int64)
