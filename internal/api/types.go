package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes one (asset, variant) job in a transport-friendly format.
type Job struct {
	AssetID        string  `json:"assetId"`
	Variant        string  `json:"variant"`
	State          string  `json:"state"`
	QueuedAt       string  `json:"queuedAt,omitempty"`
	StartedAt      string  `json:"startedAt,omitempty"`
	SucceededAt    string  `json:"succeededAt,omitempty"`
	ErroredAt      string  `json:"erroredAt,omitempty"`
	ErrorMessage   string  `json:"errorMessage,omitempty"`
	FinalBitrate   int64   `json:"finalBitrate,omitempty"`
	Remux          bool    `json:"remux"`
	ManualOverride bool    `json:"manualOverride"`
	Prioritized    bool    `json:"prioritized"`
	AgeSeconds     float64 `json:"ageSeconds,omitempty"`
	Size           int64   `json:"size,omitempty"`
	URL            string  `json:"url,omitempty"`
}

// JobListResponse wraps the status table of one asset.
type JobListResponse struct {
	AssetID string `json:"assetId"`
	Jobs    []Job  `json:"jobs"`
}

// JobRef names a job.
type JobRef struct {
	AssetID string `json:"assetId"`
	Variant string `json:"variant"`
}

// JobReport describes the last job a worker finished.
type JobReport struct {
	JobRef
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	FinishedAt string `json:"finishedAt"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	Active      []JobRef       `json:"active"`
	JobsByState map[string]int `json:"jobsByState"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *JobReport     `json:"lastJob,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Backend      string             `json:"backend"`
	QueueDBPath  string             `json:"queueDbPath,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// EnqueueRequest queues one variant, or every applicable variant when
// Variant is empty.
type EnqueueRequest struct {
	AssetID        string `json:"assetId"`
	Variant        string `json:"variant,omitempty"`
	Remux          bool   `json:"remux"`
	ManualOverride bool   `json:"manualOverride"`
	Prioritized    bool   `json:"prioritized"`
}

// EnqueueResponse lists the variants that were newly queued.
type EnqueueResponse struct {
	Queued []string `json:"queued"`
}

// ResetRequest returns a job to pending.
type ResetRequest struct {
	AssetID string `json:"assetId"`
	Variant string `json:"variant"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
