package claim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirmapper/internal/platform/fhir"
	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

const (
	paramClaimID  = "PayerClaimUniqueIdentifier"
	paramClaimIDs = "PayerClaimUniqueIdentifiers"
)

type singleRequest struct {
	PayerClaimUniqueIdentifier string `json:"PayerClaimUniqueIdentifier" validate:"required"`
}

type bulkRequest struct {
	PayerClaimUniqueIdentifiers []string `json:"PayerClaimUniqueIdentifiers" validate:"required,dive,required"`
}

type Handler struct {
	svc      *Service
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	methods := []string{http.MethodGet, http.MethodPost}
	api.Match(methods, "/MapFHIR", h.MapFHIR)
	api.Match(methods, "/MapFHIRBulk", h.MapFHIRBulk)
}

// MapFHIR maps a single claim. The identifier comes from the query string,
// falling back to the JSON body when the query parameter is absent.
func (h *Handler) MapFHIR(c echo.Context) error {
	id := c.QueryParam(paramClaimID)
	if id == "" {
		var req singleRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return bodyError(c, err, paramClaimID, "request body is not valid JSON")
		}
		if err := h.validate.Struct(req); err != nil {
			return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome(paramClaimID))
		}
		id = req.PayerClaimUniqueIdentifier
	}

	eob, err := h.svc.MapSingle(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, paramClaimID)
	}
	return c.JSON(http.StatusOK, fhirmodels.Envelope{Output: eob})
}

// MapFHIRBulk maps every identifier in the request body.
func (h *Handler) MapFHIRBulk(c echo.Context) error {
	var req bulkRequest
	if err := decodeBody(c.Request().Body, &req); err != nil {
		return bodyError(c, err, paramClaimIDs, "must be a JSON array of strings")
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, validationOutcome(paramClaimIDs, err))
	}

	docs, err := h.svc.MapBulk(c.Request().Context(), req.PayerClaimUniqueIdentifiers)
	if err != nil {
		return h.fail(c, err, paramClaimIDs)
	}
	out := make([]fhirmodels.Envelope, len(docs))
	for i, d := range docs {
		out[i] = fhirmodels.Envelope{Output: d}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) fail(c echo.Context, err error, field string) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome(field, err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn().Err(err).Str("request_id", requestID(c)).Msg("claim mapping timed out")
		return c.JSON(http.StatusGatewayTimeout, fhir.TimeoutOutcome())
	default:
		h.logger.Error().Err(err).Str("request_id", requestID(c)).Msg("claim mapping failed")
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("internal server error"))
	}
}

var errTrailingContent = errors.New("unexpected content after JSON body")

// decodeBody reads exactly one JSON value from body. An empty body decodes to
// the zero value so validation reports the missing field.
func decodeBody(body io.Reader, v interface{}) error {
	if body == nil {
		return nil
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return errTrailingContent
	}
}

// bodyError passes HTTP errors raised while reading the body (such as the
// body limit) through to the error handler and reports anything else as 400.
func bodyError(c echo.Context, err error, field, message string) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome(field, message))
}

func validationOutcome(field string, err error) *fhir.OperationOutcome {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" && !strings.Contains(fe.Namespace(), "[") {
			return fhir.RequiredFieldOutcome(field)
		}
		return fhir.ValidationOutcome(field, "entries must be non-empty strings")
	}
	return fhir.ValidationOutcome(field, err.Error())
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
