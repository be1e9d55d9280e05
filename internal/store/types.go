package store

// EventKind names a journal event.
type EventKind string

const (
	EventJobScheduled EventKind = "job_scheduled"
	EventJobCompleted EventKind = "job_completed"
	EventJobFailed    EventKind = "job_failed"
	EventInvalidated  EventKind = "invalidated"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is one invocation of the dispatch loop against a workspace.
type Run struct {
	ID          string
	Workspace   string
	Fingerprint string // module-set fingerprint
	Targets     []string
	StartedSeq  int64
	Status      string
	EndedSeq    int64 // 0 while running
}

// Event is one journal record.
//
// Manifest holds input values for scheduled jobs, output values for
// completed jobs and the invalidated item names for invalidation events.
// Message carries the failure cause for failed jobs.
type Event struct {
	ID       string
	RunID    string
	Seq      int64
	Kind     EventKind
	JobID    string
	Module   string
	Manifest map[string][]string
	Message  string
}

// RecordKind distinguishes archived jobs from archived items.
type RecordKind string

const (
	RecordJob  RecordKind = "job"
	RecordItem RecordKind = "item"
)

// ArchiveRecord is a job or item removed from active state by invalidation.
type ArchiveRecord struct {
	RunID    string
	Seq      int64
	Location string // workspace folder the record's files were moved to
	Kind     RecordKind
	RecordID string
	Name     string // module for jobs, item name for items

	// Item fields.
	Value  string
	MadeBy string

	// Job fields: item instance ids per input and output.
	Inputs  map[string][]string
	Outputs map[string][]string
}
