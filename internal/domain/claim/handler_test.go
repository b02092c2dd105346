package claim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirmapper/internal/platform/fhir"
	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

func newTestHandler(repo *mockRepo) (*Handler, *echo.Echo) {
	svc := newTestService(repo, ServiceOptions{BulkWorkers: 2})
	h := NewHandler(svc, zerolog.Nop())
	e := echo.New()
	return h, e
}

func seededRepo() *mockRepo {
	repo := newMockRepo()
	repo.lines["CLM-1"] = linesN(3)
	repo.headers["CLM-1"] = []*Header{sampleHeader()}
	repo.lines["CLM-2"] = linesN(1)
	return repo
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) fhir.OperationOutcome {
	t.Helper()
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil {
		t.Fatalf("decode OperationOutcome: %v", err)
	}
	if oo.ResourceType != "OperationOutcome" || len(oo.Issue) == 0 {
		t.Fatalf("unexpected OperationOutcome: %s", rec.Body.String())
	}
	return oo
}

// -- MapFHIR --

func TestHandler_MapFHIR_Query(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	req := httptest.NewRequest(http.MethodGet, "/?PayerClaimUniqueIdentifier=CLM-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var env fhirmodels.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Output == nil || len(env.Output.Item) != 3 {
		t.Fatalf("expected 3 items, got %+v", env.Output)
	}
	if env.Output.Created != "2023-03-05" {
		t.Errorf("expected created 2023-03-05, got %q", env.Output.Created)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"ExplanationOfBenefit"`) {
		t.Errorf("expected resourceType in body: %s", rec.Body.String())
	}
}

func TestHandler_MapFHIR_Body(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	body := `{"PayerClaimUniqueIdentifier":"CLM-1"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), `{"Output":`) {
		t.Errorf("expected Output envelope, got %s", rec.Body.String())
	}
}

func TestHandler_MapFHIR_BodyTrailingContent(t *testing.T) {
	repo := seededRepo()
	h, e := newTestHandler(repo)
	body := `{"PayerClaimUniqueIdentifier":"CLM-1"}{"PayerClaimUniqueIdentifier":"CLM-2"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if oo := decodeOutcome(t, rec); oo.Issue[0].Code != fhir.IssueTypeInvalid {
		t.Errorf("expected invalid issue, got %q", oo.Issue[0].Code)
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"single object", `{"PayerClaimUniqueIdentifiers":["A"]}`, false},
		{"trailing whitespace", "{\"PayerClaimUniqueIdentifiers\":[\"A\"]}\n\t ", false},
		{"empty", ``, false},
		{"trailing text", `{"PayerClaimUniqueIdentifiers":["A"]} trailing`, true},
		{"two objects", `{} {}`, true},
		{"trailing bracket", `{}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req bulkRequest
			err := decodeBody(strings.NewReader(tt.body), &req)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeBody(%q) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

func TestHandler_MapFHIR_QueryTakesPrecedence(t *testing.T) {
	repo := seededRepo()
	h, e := newTestHandler(repo)
	body := `{"PayerClaimUniqueIdentifier":"CLM-2"}`
	req := httptest.NewRequest(http.MethodPost, "/?PayerClaimUniqueIdentifier=CLM-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.claimCalls) != 1 || repo.claimCalls[0] != "CLM-1" {
		t.Errorf("expected query identifier to be used, got %v", repo.claimCalls)
	}
}

func TestHandler_MapFHIR_Missing(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty body", "", fhir.IssueTypeRequired},
		{"empty object", "{}", fhir.IssueTypeRequired},
		{"blank value", `{"PayerClaimUniqueIdentifier":""}`, fhir.IssueTypeRequired},
		{"not json", "CLM-1", fhir.IssueTypeInvalid},
		{"wrong type", `{"PayerClaimUniqueIdentifier":42}`, fhir.IssueTypeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seededRepo()
			h, e := newTestHandler(repo)
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.MapFHIR(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			oo := decodeOutcome(t, rec)
			if oo.Issue[0].Code != tt.wantCode {
				t.Errorf("expected issue code %q, got %q", tt.wantCode, oo.Issue[0].Code)
			}
			if repo.calls() != 0 {
				t.Errorf("expected no repository calls, got %d", repo.calls())
			}
		})
	}
}

func TestHandler_MapFHIR_WhitespaceQuery(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	req := httptest.NewRequest(http.MethodGet, "/?PayerClaimUniqueIdentifier=%20%20", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_MapFHIR_DataSourceError(t *testing.T) {
	repo := seededRepo()
	repo.err = errors.New(`pq: password authentication failed for user "sa"`)
	h, e := newTestHandler(repo)
	req := httptest.NewRequest(http.MethodGet, "/?PayerClaimUniqueIdentifier=CLM-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	oo := decodeOutcome(t, rec)
	if oo.Issue[0].Code != fhir.IssueTypeException {
		t.Errorf("expected exception issue, got %q", oo.Issue[0].Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("response leaks data source detail: %s", rec.Body.String())
	}
}

func TestHandler_MapFHIR_Timeout(t *testing.T) {
	repo := seededRepo()
	repo.err = context.DeadlineExceeded
	h, e := newTestHandler(repo)
	req := httptest.NewRequest(http.MethodGet, "/?PayerClaimUniqueIdentifier=CLM-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if oo := decodeOutcome(t, rec); oo.Issue[0].Code != fhir.IssueTypeTimeout {
		t.Errorf("expected timeout issue, got %q", oo.Issue[0].Code)
	}
}

// -- MapFHIRBulk --

func TestHandler_MapFHIRBulk(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	body := `{"PayerClaimUniqueIdentifiers":["CLM-1","CLM-2","UNKNOWN"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIRBulk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out []fhirmodels.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(out))
	}
	wantItems := []int{3, 1, 0}
	for i, env := range out {
		if len(env.Output.Item) != wantItems[i] {
			t.Errorf("envelope %d: expected %d items, got %d", i, wantItems[i], len(env.Output.Item))
		}
		if env.Output.Status != "" {
			t.Errorf("envelope %d: expected no header mapping, got status %q", i, env.Output.Status)
		}
	}
}

func TestHandler_MapFHIRBulk_EmptyArray(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"PayerClaimUniqueIdentifiers":[]}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIRBulk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected [], got %s", got)
	}
}

func TestHandler_MapFHIRBulk_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing field", `{}`, fhir.IssueTypeRequired},
		{"null field", `{"PayerClaimUniqueIdentifiers":null}`, fhir.IssueTypeRequired},
		{"empty body", ``, fhir.IssueTypeRequired},
		{"not an array", `{"PayerClaimUniqueIdentifiers":"CLM-1"}`, fhir.IssueTypeInvalid},
		{"blank entry", `{"PayerClaimUniqueIdentifiers":["CLM-1",""]}`, fhir.IssueTypeInvalid},
		{"malformed", `{"PayerClaimUniqueIdentifiers":[`, fhir.IssueTypeInvalid},
		{"trailing text", `{"PayerClaimUniqueIdentifiers":["CLM-1"]} trailing`, fhir.IssueTypeInvalid},
		{"second value", `{"PayerClaimUniqueIdentifiers":["CLM-1"]} {}`, fhir.IssueTypeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seededRepo()
			h, e := newTestHandler(repo)
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.MapFHIRBulk(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if oo := decodeOutcome(t, rec); oo.Issue[0].Code != tt.wantCode {
				t.Errorf("expected issue code %q, got %q", tt.wantCode, oo.Issue[0].Code)
			}
			if repo.calls() != 0 {
				t.Errorf("expected no repository calls, got %d", repo.calls())
			}
		})
	}
}

func TestHandler_MapFHIRBulk_DataSourceError(t *testing.T) {
	repo := seededRepo()
	repo.err = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	h, e := newTestHandler(repo)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"PayerClaimUniqueIdentifiers":["CLM-1"]}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MapFHIRBulk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("response leaks data source detail: %s", rec.Body.String())
	}
}

// -- Routes --

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(seededRepo())
	h.RegisterRoutes(e.Group("/api"))

	tests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/api/MapFHIR?PayerClaimUniqueIdentifier=CLM-1", ""},
		{http.MethodPost, "/api/MapFHIR", `{"PayerClaimUniqueIdentifier":"CLM-1"}`},
		{http.MethodPost, "/api/MapFHIRBulk", `{"PayerClaimUniqueIdentifiers":["CLM-1"]}`},
		{http.MethodGet, "/api/MapFHIRBulk", `{"PayerClaimUniqueIdentifiers":["CLM-1"]}`},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s %s: expected 200, got %d", tt.method, tt.target, rec.Code)
		}
	}
}
