package model

import "time"

// ActionType names an assistant operation for the action log.
type ActionType string

// Action type constants.
const (
	ActionExplain  ActionType = "EXPLAIN"
	ActionPropose  ActionType = "PROPOSE"
	ActionApply    ActionType = "APPLY"
	ActionRollback ActionType = "ROLLBACK"
)

// ActionLogOutputLimit caps the stored output summary; longer summaries are
// truncated with a trailing ellipsis.
const ActionLogOutputLimit = 500

// ActionLogEntry is one append-only record of an assistant call. Exactly one
// entry is written per operation, success or failure. InputSummary holds the
// redacted input description only; raw backend payloads are never stored.
type ActionLogEntry struct {
	CreatedAt     time.Time
	Topic         string
	InputSummary  string
	OutputSummary string
	Provider      string
	ErrorReason   string
	ActionType    ActionType
	OwnerID       string
	Confidence    *float64
	ID            int64
	LatencyMS     int64
	Success       bool
}

// TruncateOutput shortens an output summary to the storage limit, marking
// the cut with "...".
func TruncateOutput(s string) string {
	if len(s) <= ActionLogOutputLimit {
		return s
	}
	return s[:ActionLogOutputLimit] + "..."
}
