package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/audit"
	"github.com/promptgate/internal/contextbuild"
	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/policy"
	"github.com/promptgate/pkg/models"
)

// handleContextBuild runs the full mediation pipeline: collect, classify,
// pack, render, pre-scan, generate, post-scan, audit. No response bytes
// leave before the post-scan has passed, and every terminal outcome is
// audited, including client disconnects.
func (s *Server) handleContextBuild(c echo.Context) error {
	started := time.Now()

	var req models.ContextBuildRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, gateerr.New(gateerr.CodeInvalidRequest, "malformed request body"))
	}
	if req.Action == "" {
		return writeError(c, gateerr.New(gateerr.CodeInvalidRequest, "action is required"))
	}
	if !s.registry.Has(req.Action) {
		return writeError(c, gateerr.TemplateNotFound(req.Action))
	}

	scope, ok := GetScope(c)
	if !ok {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "missing workspace scope"))
	}
	if req.WorkspaceID != "" && req.WorkspaceID != scope.WorkspaceID {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "workspace does not match token scope"))
	}
	userID := GetUserID(c)

	ctx := c.Request().Context()

	// Collect. Path validation failures abort before any content is read.
	// The blocked outcome is reserved for policy scans; validation and
	// collection failures audit as errors.
	items, err := s.collector.Collect(ctx, scope, req.Sources)
	if err != nil {
		s.recorder.Record(ctx, audit.Record{
			Scope:       scope,
			UserID:      userID,
			Action:      req.Action,
			Instruction: req.Instruction,
			Outcome:     models.OutcomeError,
			Started:     started,
		})
		return writeError(c, err)
	}

	// Classify and pack.
	current, retrieved := splitItems(items)
	signals := contextbuild.Signals{
		Instruction:  req.Instruction,
		HasFile:      hasKind(req.Sources, models.SourceFile),
		HasSelection: hasKind(req.Sources, models.SourceSelection),
		Explicit:     req.TaskType,
	}
	signals.CursorOnly = req.Instruction == "" && signals.HasSelection && !signals.HasFile
	taskType := contextbuild.Classify(signals)

	packed := contextbuild.Pack(taskType, current, retrieved, s.budget(req))
	contextText := strings.Join(packed.Sections, "\n\n")

	record := audit.Record{
		Scope:       scope,
		UserID:      userID,
		Action:      req.Action,
		SourcePaths: packed.SourcePaths,
		Instruction: req.Instruction,
		ContextText: contextText,
		Tokens:      contextbuild.EstimateTokens(contextText),
		Started:     started,
	}

	// Pre-scan covers everything that would leave the boundary.
	if decision := s.scanner.Scan(req.Instruction+"\n"+contextText, policy.PhasePre); !decision.Allowed {
		log.Warn().
			Str("rule_id", decision.RuleID).
			Str("workspace_id", scope.WorkspaceID).
			Msg("outbound content blocked by policy")
		record.Outcome = models.OutcomeBlocked
		s.recorder.Record(ctx, record)
		return writeError(c, gateerr.PolicyViolation())
	}

	messages, err := s.registry.Render(req.Action, map[string]string{
		"instruction": req.Instruction,
		"context":     contextText,
	})
	if err != nil {
		record.Outcome = models.OutcomeError
		s.recorder.Record(ctx, record)
		return writeError(c, err)
	}

	metadata := models.ContextBuildMetadata{
		Action:         req.Action,
		SourceCount:    len(packed.SourcePaths),
		TokensEstimate: contextbuild.EstimateTokens(contextText),
		ContextHash:    audit.ContentHash(contextText),
		Truncated:      packed.Truncated,
	}

	// Pack-only mode: hand the messages back without calling upstream.
	if !req.Generate {
		record.Outcome = models.OutcomeOK
		s.recorder.Record(ctx, record)
		return c.JSON(http.StatusOK, models.ContextBuildResponse{
			Messages: messages,
			Metadata: metadata,
		})
	}

	if err := s.limiters.Wait(ctx, scope.WorkspaceID); err != nil {
		record.Outcome = models.OutcomeCancelled
		s.recorder.Record(ctx, record)
		return writeError(c, gateerr.New(gateerr.CodeInvalidRequest, "request cancelled"))
	}

	response, err := s.inference.Generate(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away mid-call; the trail still gets its entry.
			record.Outcome = models.OutcomeCancelled
			s.recorder.Record(ctx, record)
			return nil
		}
		record.Outcome = models.OutcomeError
		s.recorder.Record(ctx, record)
		return writeError(c, err)
	}

	// Post-scan must pass before any response bytes are released.
	if decision := s.scanner.Scan(response, policy.PhasePost); !decision.Allowed {
		log.Warn().
			Str("rule_id", decision.RuleID).
			Str("workspace_id", scope.WorkspaceID).
			Msg("model response blocked by policy")
		record.ResponseText = response
		record.Outcome = models.OutcomeBlocked
		s.recorder.Record(ctx, record)
		return writeError(c, gateerr.PolicyViolation())
	}

	record.ResponseText = response
	record.Outcome = models.OutcomeOK
	s.recorder.Record(ctx, record)

	return c.JSON(http.StatusOK, models.ContextBuildResponse{
		Messages: messages,
		Response: response,
		Metadata: metadata,
	})
}

// budget clamps client-requested ceilings to the configured maximums.
func (s *Server) budget(req models.ContextBuildRequest) contextbuild.Budget {
	b := contextbuild.Budget{
		MaxTokens: s.cfg.Budget.MaxTokens,
		MaxChars:  s.cfg.Budget.MaxChars,
	}
	if req.MaxTokens > 0 && (b.MaxTokens <= 0 || req.MaxTokens < b.MaxTokens) {
		b.MaxTokens = req.MaxTokens
	}
	if req.MaxChars > 0 && (b.MaxChars <= 0 || req.MaxChars < b.MaxChars) {
		b.MaxChars = req.MaxChars
	}
	return b
}

// splitItems separates the primary item (the first file or selection, the
// one the user is looking at) from everything packed around it.
func splitItems(items []contextbuild.Item) (*contextbuild.Item, []contextbuild.Item) {
	var current *contextbuild.Item
	retrieved := make([]contextbuild.Item, 0, len(items))
	for i := range items {
		kind := items[i].Source.Kind
		if current == nil && (kind == models.SourceFile || kind == models.SourceSelection) {
			current = &items[i]
			continue
		}
		retrieved = append(retrieved, items[i])
	}
	return current, retrieved
}

func hasKind(sources []models.ContextSource, kind models.SourceKind) bool {
	for _, src := range sources {
		if src.Kind == kind {
			return true
		}
	}
	return false
}
