package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/promptgate/pkg/models"
)

// Record is what the pipeline hands the recorder. Instruction, context and
// response text arrive here once, are reduced to digests, and are never
// stored or logged.
type Record struct {
	Scope        models.WorkspaceScope
	UserID       string
	Action       string
	SourcePaths  []string
	Instruction  string
	ContextText  string
	ResponseText string
	Outcome      models.Outcome
	Tokens       int
	Started      time.Time
}

// Writer persists a finished audit entry. The production writer is the
// river-backed queue; tests substitute their own.
type Writer interface {
	Write(ctx context.Context, entry *models.AuditLogEntry) error
}

// Recorder turns pipeline records into metadata-only audit entries.
type Recorder struct {
	writer Writer
}

// NewRecorder creates a recorder over a writer.
func NewRecorder(writer Writer) *Recorder {
	return &Recorder{writer: writer}
}

// Record builds and persists the audit entry for a mediated action. The
// write uses a context detached from the request so a client disconnect
// cannot suppress the trail, and a write failure never surfaces to the
// response path.
func (r *Recorder) Record(ctx context.Context, rec Record) *models.AuditLogEntry {
	entry := BuildEntry(rec)

	// Audit completeness must not depend on the client staying connected.
	writeCtx := context.WithoutCancel(ctx)
	if err := r.writer.Write(writeCtx, entry); err != nil {
		log.Error().
			Err(err).
			Str("log_id", entry.LogID).
			Str("action", entry.Action).
			Msg("audit write enqueue failed")
	}
	return entry
}

// BuildEntry reduces a record to its persistable, text-free form.
func BuildEntry(rec Record) *models.AuditLogEntry {
	now := time.Now().UTC()
	latency := int64(0)
	if !rec.Started.IsZero() {
		latency = now.Sub(rec.Started).Milliseconds()
	}

	return &models.AuditLogEntry{
		LogID:           uuid.NewString(),
		Timestamp:       now,
		TenantID:        rec.Scope.TenantID,
		ProjectID:       rec.Scope.ProjectID,
		WorkspaceID:     rec.Scope.WorkspaceID,
		UserID:          rec.UserID,
		Action:          rec.Action,
		SourceCount:     len(rec.SourcePaths),
		SourcePaths:     rec.SourcePaths,
		InstructionHash: ContentHash(rec.Instruction),
		ContextHash:     ContentHash(rec.ContextText),
		ResponseHash:    ContentHash(rec.ResponseText),
		Outcome:         rec.Outcome,
		TokensEstimated: rec.Tokens,
		LatencyMS:       latency,
	}
}

// ContentHash returns the hex SHA-256 of the canonicalized text. Empty text
// hashes to the empty string so absent fields are distinguishable from
// hashed-empty ones.
func ContentHash(text string) string {
	canonical := Canonicalize(text)
	if canonical == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Canonicalize normalizes text before hashing so trivially different
// renderings of the same content produce a stable digest.
func Canonicalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
