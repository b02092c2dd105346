package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirmapper/internal/platform/fhir"
)

// ErrorHandler renders errors that reach echo as OperationOutcome bodies.
// Messages from non-HTTP errors are logged, never returned.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var msg string
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprintf("%v", he.Message)
		}

		var outcome *fhir.OperationOutcome
		switch code {
		case http.StatusNotFound:
			outcome = fhir.NotFoundOutcome(c.Request().URL.Path)
		case http.StatusMethodNotAllowed:
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported,
				c.Request().Method+" not allowed on "+c.Request().URL.Path)
		case http.StatusRequestEntityTooLarge:
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTooLarge, "request body too large")
		case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
			outcome = fhir.TimeoutOutcome()
		default:
			if code >= 500 {
				outcome = fhir.InternalErrorOutcome("internal server error")
			} else {
				outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, msg)
			}
		}

		rid, _ := c.Get("request_id").(string)
		logger.WithLevel(outcomeLevel(code, outcome)).
			Err(err).
			Str("request_id", rid).
			Int("status", code).
			Str("issue", outcome.Issue[0].Code).
			Msg("error response")

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, outcome)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

// outcomeLevel logs server failures as errors and rejected requests as
// warnings; outcomes without error issues stay at debug.
func outcomeLevel(code int, outcome *fhir.OperationOutcome) zerolog.Level {
	switch {
	case code >= 500:
		return zerolog.ErrorLevel
	case outcome.HasErrors():
		return zerolog.WarnLevel
	default:
		return zerolog.DebugLevel
	}
}
