package claim

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirmapper/internal/mapping"
	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

const (
	identifierTypeText    = "Claim unique identifier"
	identifierTypeCode    = "uc"
	identifierTypeDisplay = "Unique Claim ID"
	claimTypeCode         = "Institutional"
	claimTypeText         = "Hospital, clinic and typically inpatient claims."
	statusCodeCancelled   = "cancelled"
	createdDateLayout     = "2006-01-02"
)

// MapperOptions controls how absent column values are rendered.
type MapperOptions struct {
	// NullAsPlaceholder renders an absent modifier code as Placeholder
	// instead of omitting the code.
	NullAsPlaceholder bool
	Placeholder       string
	// Extensions fills document sections that claim data does not cover.
	Extensions *mapping.Table
}

// Mapper turns claim rows into ExplanationOfBenefit documents.
type Mapper struct {
	opts MapperOptions
}

func NewMapper(opts MapperOptions) *Mapper {
	return &Mapper{opts: opts}
}

// MapLines builds one item per line row. Rows are mapped in parallel but the
// result keeps row order: each worker writes only its own slot.
func (m *Mapper) MapLines(ctx context.Context, lines []*Line) ([]fhirmodels.Item, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	items := make([]fhirmodels.Item, len(lines))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, l := range lines {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			items[i] = m.mapLine(l)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("map lines: %w", err)
	}
	return items, nil
}

func (m *Mapper) mapLine(l *Line) fhirmodels.Item {
	item := fhirmodels.Item{
		Category: &fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{System: fhirmodels.SystemBenefitCategory}},
		},
		ProductOrService: &fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{}},
		},
	}
	if l.LineNumber != nil {
		item.Sequence = *l.LineNumber
	}
	codes := l.ModifierCodes()
	codings := make([]fhirmodels.Coding, len(codes))
	for i, code := range codes {
		codings[i] = fhirmodels.Coding{
			Display: fmt.Sprintf("Modifier code-%d", i+1),
			Code:    m.code(code),
		}
	}
	item.Modifier = []fhirmodels.CodeableConcept{{Coding: codings}}
	return item
}

func (m *Mapper) code(v *string) *string {
	if v != nil {
		return fhirmodels.String(*v)
	}
	if m.opts.NullAsPlaceholder {
		return fhirmodels.String(m.opts.Placeholder)
	}
	return nil
}

// ApplyHeader copies header columns onto eob. A null column leaves the
// matching field at its zero value.
func (m *Mapper) ApplyHeader(eob *fhirmodels.ExplanationOfBenefit, h *Header) {
	eob.Identifier = []fhirmodels.Identifier{{
		Type: &fhirmodels.CodeableConcept{
			Text: identifierTypeText,
			Coding: []fhirmodels.Coding{{
				System:  fhirmodels.SystemC4BBIdentifierType,
				Code:    fhirmodels.String(identifierTypeCode),
				Display: identifierTypeDisplay,
			}},
		},
		Value: deref(h.PayerClaimUniqueIdentifier),
	}}

	eob.Status = Status(deref(h.ClaimProcessingStatusCode))

	// TODO: derive type from the claim's bill type once the Claim table carries it.
	eob.Type = &fhirmodels.CodeableConcept{
		Coding: []fhirmodels.Coding{{
			System:  fhirmodels.SystemClaimType,
			Code:    fhirmodels.String(claimTypeCode),
			Display: claimTypeCode,
		}},
		Text: claimTypeText,
	}
	eob.Use = fhirmodels.UseClaim

	eob.Patient = &fhirmodels.Reference{
		Reference: fhirmodels.PatientPlaceholder,
		Display:   deref(h.PatientAccountNumber),
	}
	if h.ClaimReceivedDateMedical != nil {
		eob.Created = h.ClaimReceivedDateMedical.Format(createdDateLayout)
	}
	eob.Insurer = &fhirmodels.Reference{Reference: fhirmodels.OrganizationPlaceholder}
	eob.Provider = &fhirmodels.Reference{Reference: fhirmodels.OrganizationPlaceholder}

	eob.Total = []fhirmodels.Total{{
		Category: fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{
				System: fhirmodels.SystemAdjudication,
				Code:   fhirmodels.String(fhirmodels.AdjudicationSubmitted),
			}},
		},
		Amount: fhirmodels.Money{Value: h.ClaimTotalSubmittedAmount},
	}}
	eob.Insurance = []fhirmodels.Insurance{{
		Focal:    true,
		Coverage: fhirmodels.Reference{Reference: fhirmodels.CoveragePlaceholder},
	}}

	// Not populated from claim data yet; see the mapping extension table.
	eob.Payment = &fhirmodels.Payment{}
	eob.BillablePeriod = &fhirmodels.Period{}
	eob.Diagnosis = nil
	eob.Procedure = nil
	eob.SupportingInfo = nil
}

// Build assembles a document from fetched rows. Header rows are applied in
// order, so the last one wins. withHeader=false skips them entirely.
func (m *Mapper) Build(ctx context.Context, rows *Rows, withHeader bool) (*fhirmodels.ExplanationOfBenefit, error) {
	eob := &fhirmodels.ExplanationOfBenefit{}
	items, err := m.MapLines(ctx, rows.Lines)
	if err != nil {
		return nil, err
	}
	eob.Item = items
	if withHeader {
		for _, h := range rows.Headers {
			m.ApplyHeader(eob, h)
		}
		if len(rows.Headers) > 0 {
			m.opts.Extensions.Apply(eob)
		}
	}
	return eob, nil
}

// Status maps a claim processing status code. Only the exact, case-sensitive
// code "cancelled" yields a cancelled document.
func Status(code string) string {
	if code == statusCodeCancelled {
		return fhirmodels.EOBStatusCancelled
	}
	return fhirmodels.EOBStatusActive
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
