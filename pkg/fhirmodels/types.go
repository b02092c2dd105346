package fhirmodels

// Common FHIR value set constants used by the ExplanationOfBenefit mapping.

// ExplanationOfBenefitStatus values per FHIR R4.
const (
	EOBStatusActive         = "active"
	EOBStatusCancelled      = "cancelled"
	EOBStatusDraft          = "draft"
	EOBStatusEnteredInError = "entered-in-error"
)

// Use codes per FHIR R4 claim-use.
const (
	UseClaim            = "claim"
	UsePreauthorization = "preauthorization"
	UsePredetermination = "predetermination"
)

// ClaimProcessingCodes (RemittanceOutcome) per FHIR R4.
const (
	OutcomeQueued   = "queued"
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomePartial  = "partial"
)

// Code systems referenced by the mapping.
const (
	SystemBenefitCategory    = "http://terminology.hl7.org/CodeSystem/ex-benefitcategory"
	SystemAdjudication       = "http://terminology.hl7.org/CodeSystem/adjudication"
	SystemC4BBIdentifierType = "http://hl7.org/fhir/us/carin-bb/CodeSystem/C4BBIdentifierType"
	SystemClaimType          = "https://www.hl7.org/fhir/codesystem-claim-type.html"
)

// Adjudication category codes.
const (
	AdjudicationSubmitted = "submitted"
	AdjudicationBenefit   = "benefit"
)

// Placeholder references for resources that are not resolved yet.
const (
	PatientPlaceholder      = "Patient/"
	OrganizationPlaceholder = "Organization/"
	CoveragePlaceholder     = "Coverage/"
)

// String returns a pointer to s.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
