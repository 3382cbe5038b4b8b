package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/promptgate/internal/audit"
	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/pkg/models"
)

// handlePatchValidate checks a diff without touching file contents. Every
// outcome is audited with the diff hash, rejections included.
func (s *Server) handlePatchValidate(c echo.Context) error {
	started := time.Now()

	var req models.PatchValidateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, gateerr.New(gateerr.CodeInvalidRequest, "malformed request body"))
	}

	scope, ok := GetScope(c)
	if !ok {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "missing workspace scope"))
	}
	if req.WorkspaceID != "" && req.WorkspaceID != scope.WorkspaceID {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "workspace does not match token scope"))
	}

	result, err := s.gate.Validate(scope, req.Diff)

	record := audit.Record{
		Scope:       scope,
		UserID:      GetUserID(c),
		Action:      "patch_validate",
		SourcePaths: result.Files,
		ContextText: req.Diff,
		Started:     started,
	}

	if err != nil {
		record.Outcome = models.OutcomeError
		s.recorder.Record(c.Request().Context(), record)
		if gateerr.IsCode(err, gateerr.CodeSecurity) {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, models.PatchValidateResponse{
			Valid:  false,
			Reason: result.Message,
			Files:  result.Files,
		})
	}

	record.Outcome = models.OutcomeOK
	s.recorder.Record(c.Request().Context(), record)
	return c.JSON(http.StatusOK, models.PatchValidateResponse{
		Valid: true,
		Files: result.Files,
	})
}

// handlePatchApply applies (or dry-runs) a diff. The outcome is audited
// with the diff hash, never the diff text.
func (s *Server) handlePatchApply(c echo.Context) error {
	started := time.Now()

	var req models.PatchApplyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, gateerr.New(gateerr.CodeInvalidRequest, "malformed request body"))
	}

	scope, ok := GetScope(c)
	if !ok {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "missing workspace scope"))
	}
	if req.WorkspaceID != "" && req.WorkspaceID != scope.WorkspaceID {
		return writeError(c, gateerr.New(gateerr.CodeUnauthorized, "workspace does not match token scope"))
	}

	result, err := s.gate.Apply(scope, req.Diff, req.DryRun)

	record := audit.Record{
		Scope:       scope,
		UserID:      GetUserID(c),
		Action:      "patch_apply",
		SourcePaths: result.Files,
		ContextText: req.Diff,
		Started:     started,
	}
	if req.DryRun {
		record.Action = "patch_dry_run"
	}

	switch {
	case err == nil:
		record.Outcome = models.OutcomeOK
		s.recorder.Record(c.Request().Context(), record)
		return c.JSON(http.StatusOK, models.PatchApplyResponse{
			Success:      true,
			AppliedFiles: result.Applied,
			Message:      string(result.State),
		})

	case gateerr.IsCode(err, gateerr.CodePatchConflict):
		record.Outcome = models.OutcomeBlocked
		s.recorder.Record(c.Request().Context(), record)
		return c.JSON(http.StatusConflict, models.PatchApplyResponse{
			Success:   false,
			Conflicts: result.Conflicts,
			Message:   result.Message,
		})

	default:
		record.Outcome = models.OutcomeError
		s.recorder.Record(c.Request().Context(), record)
		return writeError(c, err)
	}
}
