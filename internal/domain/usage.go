package domain

import (
	"time"
)

// UsageStatusSuccess is the result status recorded for a handler call that returned data.
const UsageStatusSuccess = "success"

// UsageRecord is one append-only accounting entry. RequestID is the dedup key.
type UsageRecord struct {
	RequestID    string    `json:"request_id"`
	SubscriberID string    `json:"subscriber_id"`
	ToolName     string    `json:"tool_name"`
	ResultStatus string    `json:"result_status"`
	Timestamp    time.Time `json:"timestamp"`
}

// Succeeded reports whether the record counts toward the subscriber's usage_count.
func (r UsageRecord) Succeeded() bool {
	return r.ResultStatus == UsageStatusSuccess
}
