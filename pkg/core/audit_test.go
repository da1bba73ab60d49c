package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditAppendOrder(t *testing.T) {
	audit := NewAudit()
	audit.AddEntry(LineageEntry{Step: "a", StepIndex: 0, RowID: "r1", Outcome: OutcomeApplied})
	audit.AddEntry(LineageEntry{Step: "a", StepIndex: 0, RowID: "r2", Outcome: OutcomeFailed, Err: &Error{Kind: ErrorKindInvalidValue}})
	audit.AddEntry(LineageEntry{Step: "b", StepIndex: 1, RowID: "r1", Outcome: OutcomeApplied})

	entries := audit.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Step)
	assert.Equal(t, "b", entries[2].Step)
	assert.Equal(t, 3, audit.Len())
}

func TestAuditRowHistory(t *testing.T) {
	audit := NewAudit()
	audit.AddEntry(LineageEntry{Step: "clean", StepIndex: 0, RowID: "r1", Outcome: OutcomeApplied})
	audit.AddEntry(LineageEntry{Step: "clean", StepIndex: 0, RowID: "r2", Outcome: OutcomeApplied})
	audit.AddEntry(LineageEntry{Step: "derive", StepIndex: 1, RowID: "r1", Outcome: OutcomeFailed, Err: &Error{Kind: ErrorKindTypeMismatch}})

	history := audit.RowHistory("r1")
	require.Len(t, history, 2)
	assert.Equal(t, "clean", history[0].Step)
	assert.Equal(t, "derive", history[1].Step)
	assert.Equal(t, OutcomeFailed, history[1].Outcome)

	assert.Empty(t, audit.RowHistory("missing"))
}

func TestAuditErrors(t *testing.T) {
	audit := NewAudit()
	assert.False(t, audit.HasErrors())

	audit.AddEntry(LineageEntry{Step: "a", RowID: "r1", Outcome: OutcomeApplied})
	audit.AddEntry(LineageEntry{
		Step:    "a",
		RowID:   "r2",
		Outcome: OutcomeFailed,
		Err:     &Error{Kind: ErrorKindDivisionByZero, RowID: "r2"},
	})

	require.True(t, audit.HasErrors())
	errs := audit.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, ErrorKindDivisionByZero, errs[0].Kind)
}

func TestAuditEntriesReturnsCopy(t *testing.T) {
	audit := NewAudit()
	audit.AddEntry(LineageEntry{Step: "a", RowID: "r1", Outcome: OutcomeApplied})

	entries := audit.Entries()
	entries[0].Step = "mutated"

	assert.Equal(t, "a", audit.Entries()[0].Step)
}

func TestAuditMerge(t *testing.T) {
	first := NewAudit()
	first.AddEntry(LineageEntry{Step: "a", RowID: "r1", Outcome: OutcomeApplied})
	first.AddStepLog(StepLog{Step: "a", RowsIn: 1})

	second := NewAudit()
	second.AddEntry(LineageEntry{Step: "a", RowID: "r2", Outcome: OutcomeFiltered})
	second.AddRemoved(RemovedRow{Step: "a", RowID: "r2", Reason: "a"})

	first.Merge(second)
	first.Merge(nil)

	assert.Equal(t, 2, first.Len())
	assert.Len(t, first.Removed(), 1)
	assert.Len(t, first.StepLogs(), 1)
}
