package assist

import "context"

// checkEnabled enforces the owner's assist permission flag. Every entry
// point that reaches the backend or mutates data calls this first. Denials
// are recorded with the same shape regardless of which operation was
// denied: one failed action log entry and one *_failed audit entry with
// reason permission_denied, and no *_requested entry.
func (s *Service) checkEnabled(ctx context.Context, op *opContext) error {
	enabled, err := s.store.GetAssistEnabled(ctx, op.owner)
	if err != nil {
		failure := internalError(ReasonStorageFailed, "failed to check assist permission", err)
		s.recordFailure(ctx, op, failure, nil)
		return failure
	}
	if !enabled {
		denial := permissionError()
		s.recordFailure(ctx, op, denial, nil)
		return denial
	}
	return nil
}
