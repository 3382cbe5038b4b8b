package models

import (
	"time"
)

// Workspace scoping

// WorkspaceScope identifies the tenant/project/workspace boundary a request
// is allowed to touch. It is established once per request from a validated
// identity token and never mutated afterward.
type WorkspaceScope struct {
	TenantID    string `json:"tenant_id"`
	ProjectID   string `json:"project_id"`
	WorkspaceID string `json:"workspace_id"`
	RootPath    string `json:"-"` // absolute workspace root, never serialized
}

// SourceKind is the origin of a context source.
type SourceKind string

const (
	SourceSelection SourceKind = "selection"
	SourceFile      SourceKind = "file"
	SourceRetrieval SourceKind = "retrieval"
	SourceFolder    SourceKind = "folder"
)

// ContextSource is one untrusted content reference in a context-build request.
// Path is always workspace-relative; byte offsets apply to selection sources.
type ContextSource struct {
	Kind      SourceKind `json:"kind"`
	Path      string     `json:"path,omitempty"`
	StartByte int64      `json:"start_byte,omitempty"`
	EndByte   int64      `json:"end_byte,omitempty"`
	Content   string     `json:"content,omitempty"` // inline content, used for selections
	Query     string     `json:"query,omitempty"`   // retrieval query
}

// TaskType classifies a request for packing-policy purposes only. It never
// changes security behavior.
type TaskType string

const (
	TaskAutocomplete TaskType = "autocomplete"
	TaskRefactor     TaskType = "refactor"
	TaskBugfix       TaskType = "bugfix"
	TaskExplain      TaskType = "explain"
	TaskSearch       TaskType = "search"
	TaskChat         TaskType = "chat"
)

// ContextBuildRequest is the inbound payload for the context-build endpoint.
// Instruction and source content are consumed synchronously and never
// persisted beyond the active call.
type ContextBuildRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Action      string          `json:"action"`
	Instruction string          `json:"instruction"`
	Sources     []ContextSource `json:"sources"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	MaxChars    int             `json:"max_chars,omitempty"`
	TaskType    TaskType        `json:"task_type,omitempty"`
	Generate    bool            `json:"generate"`
}

// MessageRole is the role of a prompt message.
type MessageRole string

const (
	RoleSystem MessageRole = "system"
	RoleUser   MessageRole = "user"
)

// PromptMessage is one message of the assembled prompt. Ephemeral: it exists
// only for the duration of the call to the inference collaborator.
type PromptMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ContextBuildMetadata describes how the prompt was assembled, without
// carrying any of its content.
type ContextBuildMetadata struct {
	Action         string `json:"action"`
	SourceCount    int    `json:"source_count"`
	TokensEstimate int    `json:"tokens_estimate"`
	ContextHash    string `json:"context_hash"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// ContextBuildResponse is the outbound payload for the context-build endpoint.
type ContextBuildResponse struct {
	Messages []PromptMessage      `json:"messages"`
	Response string               `json:"response,omitempty"` // inference output when generate=true
	Metadata ContextBuildMetadata `json:"metadata"`
}

// Patch endpoints

// PatchValidateRequest asks whether a unified diff could be applied.
type PatchValidateRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Diff        string `json:"diff"`
}

// PatchValidateResponse reports the validation outcome and touched files.
type PatchValidateResponse struct {
	Valid  bool     `json:"valid"`
	Reason string   `json:"reason,omitempty"`
	Files  []string `json:"files"`
}

// PatchApplyRequest applies (or dry-runs) a unified diff against the workspace.
type PatchApplyRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Diff        string `json:"diff"`
	DryRun      bool   `json:"dry_run"`
}

// PatchApplyResponse reports the application outcome.
type PatchApplyResponse struct {
	Success      bool     `json:"success"`
	AppliedFiles []string `json:"applied_files"`
	Conflicts    []string `json:"conflicts,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// ErrorResponse is the fixed wire shape for all error payloads.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Audit

// Outcome is the terminal state of a mediated action.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// AuditLogEntry is the metadata-only record persisted for every mediated
// action. It never contains raw instruction, context, or response text;
// only content hashes and source paths.
type AuditLogEntry struct {
	LogID           string    `json:"log_id" db:"log_id"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	ProjectID       string    `json:"project_id" db:"project_id"`
	WorkspaceID     string    `json:"workspace_id" db:"workspace_id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Action          string    `json:"action" db:"action"`
	SourceCount     int       `json:"source_count" db:"source_count"`
	SourcePaths     []string  `json:"source_paths" db:"source_paths"`
	InstructionHash string    `json:"instruction_hash" db:"instruction_hash"`
	ContextHash     string    `json:"context_hash" db:"context_hash"`
	ResponseHash    string    `json:"response_hash" db:"response_hash"`
	Outcome         Outcome   `json:"outcome" db:"outcome"`
	TokensEstimated int       `json:"tokens_estimated" db:"tokens_estimated"`
	LatencyMS       int64     `json:"latency_ms" db:"latency_ms"`
}

// RetrievalChunk is one ranked result from the retrieval collaborator.
// Provenance is preserved for packing decisions; chunks are never re-ranked
// by the gateway.
type RetrievalChunk struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
