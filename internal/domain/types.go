package domain

import (
	"encoding/json"
	"time"
)

// Task is one pending check-in. At most one exists per subject at any time;
// rescheduling replaces the previous due time.
type Task struct {
	SubjectID int64
	DueAt     time.Time
	Payload   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recurrence re-arms a subject's check-in from a cron expression every time
// a task for that subject fires.
type Recurrence struct {
	SubjectID int64
	CronExpr  string
	Payload   json.RawMessage
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one inbound platform update as carried by the relay. Raw is
// forwarded to the ingestion endpoint verbatim; Offset is the platform's
// update sequence number.
type Event struct {
	Offset int64
	Raw    json.RawMessage
}

// Update is the subset of a Telegram update the ingestion adapter inspects.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      *Chat  `json:"chat"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// PromptPayload is the task payload the dispatch loop hands to delivery.
type PromptPayload struct {
	Text string `json:"text"`
}
