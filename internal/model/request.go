package model

import (
	"encoding/json"
	"time"
)

// Request types recorded in the audit log.
const (
	RequestAuthentication = "authentication"
	RequestCheckTimeSlots = "check_for_time_slots"
)

// SbatRequest is the audit record of one upstream HTTP call. The newest
// successful authentication record doubles as the bearer token cache.
type SbatRequest struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	RequestType    string          `json:"request_type"`
	URL            string          `json:"url"`
	EmailUsed      string          `json:"email_used"`
	RequestBody    json.RawMessage `json:"request_body,omitempty"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   *string         `json:"response_body,omitempty"`
}
