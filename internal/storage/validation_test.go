package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/tmetzger/subtrack/internal/model"
)

func TestValidateSubscription(t *testing.T) {
	valid := &model.Subscription{
		ID:       "sub-1",
		OwnerID:  "owner-1",
		Name:     "Netflix",
		Amount:   15.99,
		Currency: "USD",
		Interval: model.IntervalMonthly,
	}
	if err := validateSubscription(valid); err != nil {
		t.Errorf("validateSubscription(valid) error = %v, want nil", err)
	}

	if err := validateSubscription(nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("validateSubscription(nil) error = %v, want ErrNilParameter", err)
	}

	noID := *valid
	noID.ID = ""
	if err := validateSubscription(&noID); !errors.Is(err, ErrInvalidSubscription) {
		t.Errorf("missing id error = %v, want ErrInvalidSubscription", err)
	}

	noOwner := *valid
	noOwner.OwnerID = ""
	if err := validateSubscription(&noOwner); !errors.Is(err, ErrInvalidSubscription) {
		t.Errorf("missing owner error = %v, want ErrInvalidSubscription", err)
	}
}

func TestValidateProposal(t *testing.T) {
	valid := testProposal("owner-1")
	if err := validateProposal(valid); err != nil {
		t.Errorf("validateProposal(valid) error = %v, want nil", err)
	}

	badStatus := *valid
	badStatus.Status = model.ProposalStatus("PENDING")
	if err := validateProposal(&badStatus); !errors.Is(err, ErrInvalidProposal) {
		t.Errorf("unknown status error = %v, want ErrInvalidProposal", err)
	}
}

func TestValidatePatch(t *testing.T) {
	valid := testPatch("owner-1", "proposal-1")
	if err := validatePatch(valid); err != nil {
		t.Errorf("validatePatch(valid) error = %v, want nil", err)
	}

	broken := *valid
	broken.RollbackPatch = broken.RollbackPatch[:1]
	if err := validatePatch(&broken); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("broken mirror error = %v, want ErrInvalidPatch", err)
	}
}

func TestValidateLogEntries(t *testing.T) {
	entry := &model.ActionLogEntry{OwnerID: "owner-1", ActionType: model.ActionPropose}
	if err := validateActionLogEntry(entry); err != nil {
		t.Errorf("validateActionLogEntry(valid) error = %v, want nil", err)
	}

	badType := &model.ActionLogEntry{OwnerID: "owner-1", ActionType: model.ActionType("SUMMARIZE")}
	if err := validateActionLogEntry(badType); !errors.Is(err, ErrInvalidLogEntry) {
		t.Errorf("unknown action type error = %v, want ErrInvalidLogEntry", err)
	}

	audit := &model.AuditEntry{OwnerID: "owner-1", Action: model.AuditProposeRequested, CreatedAt: time.Now()}
	if err := validateAuditEntry(audit); err != nil {
		t.Errorf("validateAuditEntry(valid) error = %v, want nil", err)
	}

	noAction := &model.AuditEntry{OwnerID: "owner-1"}
	if err := validateAuditEntry(noAction); !errors.Is(err, ErrInvalidLogEntry) {
		t.Errorf("missing action error = %v, want ErrInvalidLogEntry", err)
	}
}
