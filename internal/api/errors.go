package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/pkg/models"
)

// statusFor maps taxonomy codes to HTTP status.
func statusFor(code gateerr.Code) int {
	switch code {
	case gateerr.CodeSecurity:
		return http.StatusForbidden
	case gateerr.CodePolicyViolation:
		return http.StatusForbidden
	case gateerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case gateerr.CodeTemplateNotFound, gateerr.CodeInvalidAction:
		return http.StatusNotFound
	case gateerr.CodeInvalidRequest:
		return http.StatusBadRequest
	case gateerr.CodePatchConflict:
		return http.StatusConflict
	case gateerr.CodePatchRejected:
		return http.StatusUnprocessableEntity
	case gateerr.CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the fixed {error, code, detail?} payload. The client
// message is the taxonomy message only; wrapped causes go to the log, not
// the wire.
func writeError(c echo.Context, err error) error {
	code := gateerr.CodeOf(err)
	status := statusFor(code)

	log.Debug().
		Err(err).
		Str("code", string(code)).
		Int("status", status).
		Str("path", c.Path()).
		Msg("request failed")

	return c.JSON(status, models.ErrorResponse{
		Error: gateerr.MessageOf(err),
		Code:  string(code),
	})
}
