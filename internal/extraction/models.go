package extraction

import "encoding/json"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Per-document state fields under the doc:<id>:* namespace.
const (
	fieldStatus         = "status"
	fieldMetadata       = "metadata"
	fieldResult         = "result"
	fieldError          = "error"
	fieldStartTime      = "startTime"
	fieldCompletedTime  = "completedTime"
	fieldProcessingTime = "processingTime"
	fieldErrorTime      = "errorTime"
)

var allFields = []string{
	fieldStatus, fieldMetadata, fieldResult, fieldError,
	fieldStartTime, fieldCompletedTime, fieldProcessingTime, fieldErrorTime,
}

// QueueRecord is one pending unit of work while resident in the list.
// The id is the sole join key to the document's state keys; uniqueness is
// the caller's responsibility.
type QueueRecord struct {
	ID        string          `json:"id"`
	FileData  string          `json:"fileData"` // base64
	FileName  string          `json:"fileName"`
	FileSize  int64           `json:"fileSize,omitempty"`
	Schema    json.RawMessage `json:"schema"`
	Model     string          `json:"model"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
	Status    Status          `json:"status"`
}

// Metadata mirrors the doc:<id>:metadata key.
type Metadata struct {
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	Model     string `json:"model"`
	Timestamp int64  `json:"timestamp"`
}

type EnqueueRequest struct {
	DocumentID string
	FileData   string
	FileName   string
	FileSize   int64
	Schema     json.RawMessage
	Model      string
	UserID     string
}

type EnqueueResult struct {
	DocumentID string
	// 1-based position in the list, i.e. the list length right after append.
	QueuePosition        int64
	EstimatedWaitMinutes int64
}

type FailedDocument struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

// BatchSummary reports one Batch Worker invocation.
type BatchSummary struct {
	Processed []string
	Failed    []FailedDocument
	Remaining int64
}

type Timestamps struct {
	Queued         *int64 `json:"queued"`
	Started        *int64 `json:"started"`
	Completed      *int64 `json:"completed"`
	ProcessingTime *int64 `json:"processingTime"`
}

// StatusResponse is the consolidated view of one document's state keys.
type StatusResponse struct {
	DocumentID string          `json:"documentId"`
	Status     Status          `json:"status"`
	Progress   int             `json:"progress"`
	Metadata   json.RawMessage `json:"metadata"`
	Result     json.RawMessage `json:"result"`
	Error      *string         `json:"error"`
	Timestamps Timestamps      `json:"timestamps"`
	// Seconds; only present while the document is still queued.
	EstimatedTimeRemaining *int64 `json:"estimatedTimeRemaining,omitempty"`
}

// Lifecycle events for the downstream feed.
const (
	EventQueued    = "document.queued"
	EventCompleted = "document.completed"
	EventFailed    = "document.failed"
)

type Event struct {
	Type       string
	DocumentID string
	UserID     string
	Error      string
}
