package fhir

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// FHIRContentType is the FHIR JSON content type with charset.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// ContentNegotiation picks the response media type for the mapping routes.
// The _format query parameter wins over the Accept header. Responses are
// plain application/json unless the caller asks for application/fhir+json,
// and anything that is not JSON gets a 406.
func ContentNegotiation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requested := c.QueryParam("_format")
			if requested == "" {
				requested = c.Request().Header.Get(echo.HeaderAccept)
			}
			if requested == "" {
				return next(c)
			}

			mediaType, ok := negotiate(requested)
			if !ok {
				return c.JSON(http.StatusNotAcceptable, NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported,
					"unsupported format "+requested+"; use application/json or application/fhir+json"))
			}
			if mediaType == "application/fhir+json" {
				// c.JSON keeps a Content-Type that is already set.
				c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
			}
			return next(c)
		}
	}
}

// negotiate returns the first JSON media type in a comma separated list,
// ignoring quality parameters.
func negotiate(list string) (string, bool) {
	for _, part := range strings.Split(list, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch normalizeFormat(mediaType) {
		case "application/fhir+json":
			return "application/fhir+json", true
		case "json", "application/json", "*/*", "application/*":
			return "application/json", true
		}
	}
	return "", false
}

// normalizeFormat lowercases and trims a media type and restores a "+" that
// query decoding turned into a space ("application/fhir json").
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	return strings.ReplaceAll(f, "fhir json", "fhir+json")
}
