package models

import "time"

// ConversationSummary is the rolling-compaction summary for one conversation
// (§3, §4.9). Unique by conversation id. Watermark is monotonically
// non-decreasing: the count of non-system messages already covered.
type ConversationSummary struct {
	ConversationID  string    `json:"conversation_id"`
	SummaryText     string    `json:"summary_text"`
	Watermark       int       `json:"watermark"`
	CompactionCount int       `json:"compaction_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RequestStatus is the terminal status of a persisted request record.
type RequestStatus string

const (
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
)

// RequestRecord is the persisted record of one chat request (§3, §4.1).
type RequestRecord struct {
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	UserID           string        `json:"user_id"`
	SourceInstanceID string        `json:"source_instance_id,omitempty"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
	InputTokens      int           `json:"input_tokens"`
	OutputTokens     int           `json:"output_tokens"`
	CacheReadTokens  int           `json:"cache_read_tokens"`
	CacheWriteTokens int           `json:"cache_write_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Status           RequestStatus `json:"status"`
	LatencyMS        int64         `json:"latency_ms"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ToolCallRecord is an append-only persisted tool invocation (§3).
type ToolCallRecord struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	ToolName    string    `json:"tool_name"`
	Parameters  string    `json:"parameters"`
	ResultText  string    `json:"result_text"`
	Success     bool      `json:"success"`
	ExecutionMS int64     `json:"execution_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
