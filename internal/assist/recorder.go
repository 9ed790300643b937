package assist

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

// opContext carries the bookkeeping for one assistant call: who asked, what
// they asked for, and when the call started. Every operation creates one up
// front and threads it through the recorder.
type opContext struct {
	started time.Time
	owner   string
	topic   string
	input   string
	action  model.ActionType
}

func (s *Service) newOp(owner string, action model.ActionType, topic string) *opContext {
	return &opContext{
		started: s.now(),
		owner:   owner,
		action:  action,
		topic:   topic,
	}
}

type auditSet struct {
	requested string
	succeeded string
	failed    string
}

var auditActions = map[model.ActionType]auditSet{
	model.ActionExplain:  {model.AuditExplainRequested, model.AuditExplainSucceeded, model.AuditExplainFailed},
	model.ActionPropose:  {model.AuditProposeRequested, model.AuditProposeSucceeded, model.AuditProposeFailed},
	model.ActionApply:    {model.AuditApplyRequested, model.AuditApplySucceeded, model.AuditApplyFailed},
	model.ActionRollback: {model.AuditRollbackRequested, model.AuditRollbackSucceeded, model.AuditRollbackFailed},
}

// auditRequested marks that the operation's target exists and work has
// begun. Permission denials and not-found short-circuits never reach this.
func (s *Service) auditRequested(ctx context.Context, op *opContext, metadata map[string]any) {
	s.appendAudit(ctx, op.owner, auditActions[op.action].requested, metadata)
}

// recordSuccess writes the operation's single action log entry and its
// succeeded audit entry.
func (s *Service) recordSuccess(ctx context.Context, op *opContext, output string, confidence *float64, metadata map[string]any) {
	// Recording must outlive a caller that already gave up, e.g. a backend
	// timeout that canceled the request context.
	ctx = context.WithoutCancel(ctx)

	entry := &model.ActionLogEntry{
		OwnerID:       op.owner,
		ActionType:    op.action,
		Topic:         op.topic,
		InputSummary:  op.input,
		OutputSummary: output,
		Confidence:    confidence,
		Provider:      s.advisor.Name(),
		Success:       true,
		LatencyMS:     s.now().Sub(op.started).Milliseconds(),
		CreatedAt:     s.now(),
	}
	if err := s.store.AppendActionLog(ctx, entry); err != nil {
		slog.Error("failed to append action log entry",
			"action", op.action, "owner", op.owner, "error", err)
	}

	s.appendAudit(ctx, op.owner, auditActions[op.action].succeeded, metadata)
}

// recordFailure writes the operation's single action log entry with
// success=false and its failed audit entry. Called on every failure path,
// whether or not a requested entry was written first.
func (s *Service) recordFailure(ctx context.Context, op *opContext, cause error, metadata map[string]any) {
	ctx = context.WithoutCancel(ctx)
	reason := ReasonOf(cause)
	slog.Debug("assistant call failed",
		"action", op.action, "owner", op.owner, "status", StatusOf(cause), "reason", reason)

	entry := &model.ActionLogEntry{
		OwnerID:       op.owner,
		ActionType:    op.action,
		Topic:         op.topic,
		InputSummary:  op.input,
		OutputSummary: cause.Error(),
		Provider:      s.advisor.Name(),
		Success:       false,
		ErrorReason:   reason,
		LatencyMS:     s.now().Sub(op.started).Milliseconds(),
		CreatedAt:     s.now(),
	}
	if err := s.store.AppendActionLog(ctx, entry); err != nil {
		slog.Error("failed to append action log entry",
			"action", op.action, "owner", op.owner, "error", err)
	}

	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["reason"] = reason
	s.appendAudit(ctx, op.owner, auditActions[op.action].failed, metadata)
}

func (s *Service) appendAudit(ctx context.Context, owner, action string, metadata map[string]any) {
	ctx = context.WithoutCancel(ctx)
	entry := &model.AuditEntry{
		OwnerID:   owner,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("failed to append audit entry",
			"action", action, "owner", owner, "error", err)
	}
}
