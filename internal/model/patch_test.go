package model

import (
	"strings"
	"testing"
)

func TestPatch_Validate(t *testing.T) {
	forward := []CategoryChange{
		{SubscriptionID: "sub-1", FromCategory: strPtr("Misc"), ToCategory: strPtr("Music")},
		{SubscriptionID: "sub-2", FromCategory: nil, ToCategory: strPtr("Cloud")},
	}
	rollback := []CategoryChange{
		{SubscriptionID: "sub-1", FromCategory: strPtr("Music"), ToCategory: strPtr("Misc")},
		{SubscriptionID: "sub-2", FromCategory: strPtr("Cloud"), ToCategory: nil},
	}

	valid := Patch{
		Type:          ProposalRecategorize,
		Status:        PatchApplied,
		ForwardPatch:  forward,
		RollbackPatch: rollback,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	t.Run("savings type rejected", func(t *testing.T) {
		p := valid
		p.Type = ProposalSavingsList
		err := p.Validate()
		if err == nil {
			t.Fatal("Validate() accepted a savings patch")
		}
		if !strings.Contains(err.Error(), "RECATEGORIZE") {
			t.Errorf("error %q does not mention the supported type", err)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		p := valid
		p.RollbackPatch = rollback[:1]
		if err := p.Validate(); err == nil {
			t.Error("Validate() accepted mismatched patch lengths")
		}
	})

	t.Run("subscription mismatch", func(t *testing.T) {
		p := valid
		p.RollbackPatch = []CategoryChange{
			{SubscriptionID: "sub-9", FromCategory: strPtr("Music"), ToCategory: strPtr("Misc")},
			rollback[1],
		}
		if err := p.Validate(); err == nil {
			t.Error("Validate() accepted rollback for a different subscription")
		}
	})

	t.Run("broken mirror", func(t *testing.T) {
		p := valid
		p.RollbackPatch = []CategoryChange{
			{SubscriptionID: "sub-1", FromCategory: strPtr("Music"), ToCategory: strPtr("Video")},
			rollback[1],
		}
		if err := p.Validate(); err == nil {
			t.Error("Validate() accepted a rollback that is not the forward inverse")
		}
	})

	t.Run("empty forward", func(t *testing.T) {
		p := valid
		p.ForwardPatch = nil
		p.RollbackPatch = nil
		if err := p.Validate(); err == nil {
			t.Error("Validate() accepted an empty patch")
		}
	})
}

func TestTruncateOutput(t *testing.T) {
	short := "brief summary"
	if got := TruncateOutput(short); got != short {
		t.Errorf("TruncateOutput(short) = %q, want unchanged", got)
	}

	exact := strings.Repeat("a", ActionLogOutputLimit)
	if got := TruncateOutput(exact); got != exact {
		t.Error("TruncateOutput modified a summary at exactly the limit")
	}

	long := strings.Repeat("b", ActionLogOutputLimit+100)
	got := TruncateOutput(long)
	if len(got) != ActionLogOutputLimit+3 {
		t.Errorf("TruncateOutput length = %d, want %d", len(got), ActionLogOutputLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("TruncateOutput did not append ellipsis")
	}
}
