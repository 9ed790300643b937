package model

import "time"

// Audit actions emitted by the assistant. Every operation emits a
// *_requested entry once its target is known to exist, then exactly one of
// *_succeeded or *_failed.
const (
	AuditExplainRequested  = "ai.explain_requested"
	AuditExplainSucceeded  = "ai.explain_succeeded"
	AuditExplainFailed     = "ai.explain_failed"
	AuditProposeRequested  = "ai.propose_requested"
	AuditProposeSucceeded  = "ai.propose_succeeded"
	AuditProposeFailed     = "ai.propose_failed"
	AuditApplyRequested    = "ai.apply_requested"
	AuditApplySucceeded    = "ai.apply_succeeded"
	AuditApplyFailed       = "ai.apply_failed"
	AuditRollbackRequested = "ai.rollback_requested"
	AuditRollbackSucceeded = "ai.rollback_succeeded"
	AuditRollbackFailed    = "ai.rollback_failed"
	AuditAssistEnabled     = "ai.assist_enabled"
	AuditAssistDisabled    = "ai.assist_disabled"
)

// AuditEntry is one append-only audit trail record. Metadata holds small
// structured facts (ids, counts, reasons); never secrets or raw payloads.
type AuditEntry struct {
	CreatedAt time.Time
	Metadata  map[string]any
	Action    string
	OwnerID   string
	ID        int64
}
