package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/pkg/models"
)

type memWriter struct {
	entries []*models.AuditLogEntry
	err     error
}

func (w *memWriter) Write(ctx context.Context, entry *models.AuditLogEntry) error {
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

func sampleRecord() Record {
	return Record{
		Scope: models.WorkspaceScope{
			TenantID:    "acme",
			ProjectID:   "platform",
			WorkspaceID: "ws-7",
		},
		UserID:       "u-42",
		Action:       "generate",
		SourcePaths:  []string{"main.go", "pkg/util.go"},
		Instruction:  "rewrite the retry loop with exponential backoff",
		ContextText:  "func retry() { /* the whole file */ }",
		ResponseText: "here is the rewritten loop with backoff applied",
		Outcome:      models.OutcomeOK,
		Tokens:       123,
		Started:      time.Now().Add(-250 * time.Millisecond),
	}
}

func TestRecordProducesHashOnlyEntry(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w)

	rec := sampleRecord()
	entry := r.Record(context.Background(), rec)

	require.Len(t, w.entries, 1)
	assert.NotEmpty(t, entry.LogID)
	assert.Equal(t, "acme", entry.TenantID)
	assert.Equal(t, 2, entry.SourceCount)
	assert.Equal(t, models.OutcomeOK, entry.Outcome)
	assert.GreaterOrEqual(t, entry.LatencyMS, int64(250))
	assert.Len(t, entry.InstructionHash, 64)
	assert.Len(t, entry.ResponseHash, 64)
}

func TestEntryNeverLeaksText(t *testing.T) {
	// Non-leakage invariant: no substring of the original texts longer than
	// the hash output appears anywhere in the persisted entry fields.
	rec := sampleRecord()
	entry := BuildEntry(rec)

	persisted := strings.Join([]string{
		entry.LogID, entry.TenantID, entry.ProjectID, entry.WorkspaceID,
		entry.UserID, entry.Action, entry.InstructionHash, entry.ContextHash,
		entry.ResponseHash, string(entry.Outcome),
	}, "|")

	for _, text := range []string{rec.Instruction, rec.ContextText, rec.ResponseText} {
		for _, word := range strings.Fields(text) {
			if len(word) < 4 {
				continue // too short to be meaningful leakage
			}
			assert.NotContains(t, persisted, word)
		}
	}
}

func TestEntryRecordedForAllOutcomes(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w)

	for _, outcome := range []models.Outcome{
		models.OutcomeOK, models.OutcomeBlocked, models.OutcomeError, models.OutcomeCancelled,
	} {
		rec := sampleRecord()
		rec.Outcome = outcome
		r.Record(context.Background(), rec)
	}

	require.Len(t, w.entries, 4)
	assert.Equal(t, models.OutcomeCancelled, w.entries[3].Outcome)
}

func TestRecordSurvivesWriterFailure(t *testing.T) {
	// A failed audit write must never panic or block the response path.
	w := &memWriter{err: assert.AnError}
	r := NewRecorder(w)

	entry := r.Record(context.Background(), sampleRecord())
	assert.NotNil(t, entry)
}

func TestRecordSurvivesCancelledRequest(t *testing.T) {
	// Audit completeness must not depend on the client staying connected.
	w := &memWriter{}
	r := NewRecorder(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := sampleRecord()
	rec.Outcome = models.OutcomeCancelled
	r.Record(ctx, rec)

	require.Len(t, w.entries, 1)
	assert.Equal(t, models.OutcomeCancelled, w.entries[0].Outcome)
}

func TestContentHashCanonicalization(t *testing.T) {
	assert.Equal(t, ContentHash("hello\nworld"), ContentHash("hello\r\nworld\n"))
	assert.Equal(t, ContentHash("  spaced  "), ContentHash("spaced"))
	assert.Empty(t, ContentHash(""))
	assert.Empty(t, ContentHash("   \n  "))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}

func TestPartitionNaming(t *testing.T) {
	ts := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "audit_log_202603", PartitionFor(ts))
}
