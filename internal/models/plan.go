package models

// Sync statuses. A request moves planning -> planned -> applying -> done, or
// ends as aborted. Same-store requests end as noop without reaching planned.
const (
	SyncStatusPlanning = "planning"
	SyncStatusPlanned  = "planned"
	SyncStatusApplying = "applying"
	SyncStatusDone     = "done"
	SyncStatusAborted  = "aborted"
	SyncStatusNoop     = "noop"
)

// SyncRequest asks to copy bookmarks from one store into another
type SyncRequest struct {
	Source            string `json:"source"`
	Target            string `json:"target"`
	Limit             int    `json:"limit,omitempty"`
	AllowDuplicates   bool   `json:"allow_duplicates,omitempty"`
	DryRun            bool   `json:"dry_run"`
	FolderPath        string `json:"folder_path,omitempty"`
	MaxFailureDetails int    `json:"max_failure_details,omitempty"`
}

// PlanEntry is one bookmark the sync intends to create in the target
type PlanEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SyncPlan is the list of entries a sync will create, computed before any write
type SyncPlan struct {
	Entries          []PlanEntry `json:"entries"`
	SourceCount      int         `json:"source_count"`
	SkippedExisting  int         `json:"skipped_existing"`
	SkippedNoURL     int         `json:"skipped_no_url"`
	SkippedDuplicate int         `json:"skipped_duplicate"`
	Truncated        bool        `json:"truncated"`
}

// SyncOutcome is the recorded result of applying one plan entry
type SyncOutcome struct {
	Entry     PlanEntry `json:"entry"`
	Succeeded bool      `json:"succeeded"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// SyncResult is the terminal state of a sync request
type SyncResult struct {
	Status     string        `json:"status"`
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	Message    string        `json:"message,omitempty"`
	Code       string        `json:"code,omitempty"`
	Plan       *SyncPlan     `json:"plan,omitempty"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Failures   []SyncOutcome `json:"failures,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}
