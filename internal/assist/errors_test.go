package assist

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("disk on fire")

	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"permission", permissionError(), 403, ReasonPermissionDenied},
		{"validation", validationError(ReasonInvalidTopic, "unknown topic"), 400, ReasonInvalidTopic},
		{"not found", notFoundError(ReasonNotFound, "proposal %s not found", "p1"), 404, ReasonNotFound},
		{"conflict", conflictError(ReasonStaleCategory, "category changed"), 409, ReasonStaleCategory},
		{"internal", internalError(ReasonStorageFailed, "query failed", cause), 500, ReasonStorageFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, StatusOf(tc.err))
			assert.Equal(t, tc.reason, ReasonOf(tc.err))

			// The classification survives further wrapping.
			wrapped := fmt.Errorf("handler: %w", tc.err)
			assert.Equal(t, tc.status, StatusOf(wrapped))
			assert.Equal(t, tc.reason, ReasonOf(wrapped))
		})
	}
}

func TestForeignErrorsDefaultToInternal(t *testing.T) {
	err := errors.New("something else entirely")
	assert.Equal(t, 500, StatusOf(err))
	assert.Empty(t, ReasonOf(err))
	assert.False(t, IsPermissionDenied(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.False(t, IsValidation(err))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsPermissionDenied(permissionError()))
	assert.False(t, IsPermissionDenied(validationError(ReasonInvalidTopic, "nope")))

	assert.True(t, IsValidation(validationError(ReasonNoFindings, "nothing")))
	assert.False(t, IsValidation(notFoundError(ReasonNotFound, "missing")))

	assert.True(t, IsNotFound(notFoundError(ReasonSubscriptionNotFound, "missing")))
	assert.True(t, IsConflict(conflictError(ReasonStaleCategory, "drifted")))
	assert.False(t, IsConflict(internalError(ReasonStorageFailed, "broken", nil)))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	assert.EqualError(t, validationError(ReasonInvalidTopic, "unknown topic: %s", "mystery"),
		"unknown topic: mystery")

	cause := errors.New("connection refused")
	err := internalError(ReasonBackendFailed, "recommendation backend failed", cause)
	assert.EqualError(t, err, "recommendation backend failed: connection refused")
	require.ErrorIs(t, err, cause, "the original cause stays reachable")

	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ReasonBackendFailed, ae.Reason)
}
