package fhirmodels

import "encoding/json"

// Coding is a FHIR Coding. Code is a pointer so that an explicitly empty code
// can be told apart from an absent one when serialized.
type Coding struct {
	System  string  `json:"system,omitempty"`
	Code    *string `json:"code,omitempty"`
	Display string  `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

// Period uses FHIR date strings rather than time.Time because the mapping
// only ever passes through already formatted values.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Money struct {
	Value    *float64 `json:"value,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Item is ExplanationOfBenefit.item.
type Item struct {
	Sequence         int               `json:"sequence"`
	Category         *CodeableConcept  `json:"category,omitempty"`
	ProductOrService *CodeableConcept  `json:"productOrService,omitempty"`
	Modifier         []CodeableConcept `json:"modifier,omitempty"`
}

// Total is ExplanationOfBenefit.total.
type Total struct {
	Category CodeableConcept `json:"category"`
	Amount   Money           `json:"amount"`
}

// Insurance is ExplanationOfBenefit.insurance.
type Insurance struct {
	Focal    bool      `json:"focal"`
	Coverage Reference `json:"coverage"`
}

// Payment is ExplanationOfBenefit.payment.
type Payment struct {
	Type   *CodeableConcept `json:"type,omitempty"`
	Date   string           `json:"date,omitempty"`
	Amount *Money           `json:"amount,omitempty"`
}

type Diagnosis struct {
	Sequence                 int              `json:"sequence"`
	DiagnosisCodeableConcept *CodeableConcept `json:"diagnosisCodeableConcept,omitempty"`
}

type Procedure struct {
	Sequence                 int              `json:"sequence"`
	Date                     string           `json:"date,omitempty"`
	ProcedureCodeableConcept *CodeableConcept `json:"procedureCodeableConcept,omitempty"`
}

type SupportingInfo struct {
	Sequence int             `json:"sequence"`
	Category CodeableConcept `json:"category"`
}

// ExplanationOfBenefit is the subset of the FHIR R4 ExplanationOfBenefit
// resource produced by the claim mapper. Diagnosis, Procedure, SupportingInfo,
// Payment, BillablePeriod and Outcome are part of the schema but are not
// populated from claim data yet.
type ExplanationOfBenefit struct {
	Identifier     []Identifier     `json:"identifier,omitempty"`
	Status         string           `json:"status,omitempty"`
	Type           *CodeableConcept `json:"type,omitempty"`
	Use            string           `json:"use,omitempty"`
	Patient        *Reference       `json:"patient,omitempty"`
	BillablePeriod *Period          `json:"billablePeriod,omitempty"`
	Created        string           `json:"created,omitempty"`
	Insurer        *Reference       `json:"insurer,omitempty"`
	Provider       *Reference       `json:"provider,omitempty"`
	Outcome        string           `json:"outcome,omitempty"`
	Disposition    string           `json:"disposition,omitempty"`
	SupportingInfo []SupportingInfo `json:"supportingInfo,omitempty"`
	Diagnosis      []Diagnosis      `json:"diagnosis,omitempty"`
	Procedure      []Procedure      `json:"procedure,omitempty"`
	Insurance      []Insurance      `json:"insurance,omitempty"`
	Item           []Item           `json:"item,omitempty"`
	Total          []Total          `json:"total,omitempty"`
	Payment        *Payment         `json:"payment,omitempty"`
}

// MarshalJSON adds the resourceType property required by FHIR JSON.
func (eob ExplanationOfBenefit) MarshalJSON() ([]byte, error) {
	type alias ExplanationOfBenefit
	return json.Marshal(struct {
		ResourceType string `json:"resourceType"`
		alias
	}{
		ResourceType: "ExplanationOfBenefit",
		alias:        alias(eob),
	})
}

// Envelope is the response wrapper returned by both mapping operations.
type Envelope struct {
	Output *ExplanationOfBenefit `json:"Output"`
}
