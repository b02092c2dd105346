package claim

import "time"

// Header maps to one row of the Claim table. Every column is nullable; a
// null value leaves the corresponding document field at its default.
type Header struct {
	PayerClaimUniqueIdentifier *string    `db:"PayerClaimUniqueIdentifier" json:"payer_claim_unique_identifier,omitempty"`
	ClaimProcessingStatusCode  *string    `db:"ClaimProcessingStatusCode" json:"claim_processing_status_code,omitempty"`
	PatientAccountNumber       *string    `db:"PatientAccountNumber" json:"patient_account_number,omitempty"`
	ClaimReceivedDateMedical   *time.Time `db:"ClaimReceivedDateMedical" json:"claim_received_date_medical,omitempty"`
	ClaimTotalSubmittedAmount  *float64   `db:"ClaimTotalSubmittedAmount" json:"claim_total_submitted_amount,omitempty"`
}

// Line maps to one row returned by the selectclaims lookup.
type Line struct {
	LineNumber    *int    `db:"LineNumber" json:"line_number,omitempty"`
	ModifierCode1 *string `db:"ModifierCode1" json:"modifier_code_1,omitempty"`
	ModifierCode2 *string `db:"ModifierCode2" json:"modifier_code_2,omitempty"`
	ModifierCode3 *string `db:"ModifierCode3" json:"modifier_code_3,omitempty"`
	ModifierCode4 *string `db:"ModifierCode4" json:"modifier_code_4,omitempty"`
}

// ModifierCodes returns the four modifier columns in order.
func (l *Line) ModifierCodes() [4]*string {
	return [4]*string{l.ModifierCode1, l.ModifierCode2, l.ModifierCode3, l.ModifierCode4}
}

// Rows is everything fetched for one claim identifier. Headers is empty when
// only line rows were requested.
type Rows struct {
	ID      string
	Lines   []*Line
	Headers []*Header
}
