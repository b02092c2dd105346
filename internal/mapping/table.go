// Package mapping holds the extension table for ExplanationOfBenefit sections
// that claim data does not populate yet. Each rule sets one document field to
// a literal value, so new sections can be filled in field by field without
// touching the claim mapper.
package mapping

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

// Rule sets a single document field.
type Rule struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// Table is an ordered list of rules.
type Table struct {
	Rules []Rule `yaml:"rules"`
}

type setter func(eob *fhirmodels.ExplanationOfBenefit, value string)

var setters = map[string]setter{
	"outcome":     func(eob *fhirmodels.ExplanationOfBenefit, v string) { eob.Outcome = v },
	"disposition": func(eob *fhirmodels.ExplanationOfBenefit, v string) { eob.Disposition = v },
	"type.text": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		if eob.Type == nil {
			eob.Type = &fhirmodels.CodeableConcept{}
		}
		eob.Type.Text = v
	},
	"payment.type.text": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		p := payment(eob)
		if p.Type == nil {
			p.Type = &fhirmodels.CodeableConcept{}
		}
		p.Type.Text = v
	},
	"payment.date": func(eob *fhirmodels.ExplanationOfBenefit, v string) { payment(eob).Date = v },
	"billablePeriod.start": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		billablePeriod(eob).Start = v
	},
	"billablePeriod.end": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		billablePeriod(eob).End = v
	},
	"patient.reference": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		if eob.Patient == nil {
			eob.Patient = &fhirmodels.Reference{}
		}
		eob.Patient.Reference = v
	},
	"insurer.reference": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		eob.Insurer = &fhirmodels.Reference{Reference: v}
	},
	"provider.reference": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		eob.Provider = &fhirmodels.Reference{Reference: v}
	},
	"insurance.coverage.reference": func(eob *fhirmodels.ExplanationOfBenefit, v string) {
		if len(eob.Insurance) == 0 {
			eob.Insurance = []fhirmodels.Insurance{{Focal: true}}
		}
		for i := range eob.Insurance {
			eob.Insurance[i].Coverage.Reference = v
		}
	},
}

func payment(eob *fhirmodels.ExplanationOfBenefit) *fhirmodels.Payment {
	if eob.Payment == nil {
		eob.Payment = &fhirmodels.Payment{}
	}
	return eob.Payment
}

func billablePeriod(eob *fhirmodels.ExplanationOfBenefit) *fhirmodels.Period {
	if eob.BillablePeriod == nil {
		eob.BillablePeriod = &fhirmodels.Period{}
	}
	return eob.BillablePeriod
}

// Fields returns the sorted list of field paths a rule may target.
func Fields() []string {
	out := make([]string, 0, len(setters))
	for f := range setters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Load reads a YAML rule file. An empty path yields an empty table.
func Load(path string) (*Table, error) {
	if path == "" {
		return &Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate rejects rules that target unknown fields.
func (t *Table) Validate() error {
	for i, r := range t.Rules {
		if _, ok := setters[r.Field]; !ok {
			return fmt.Errorf("rule %d: unknown field %q", i, r.Field)
		}
	}
	return nil
}

// Len returns the number of rules. A nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rules)
}

// Apply runs the rules against eob in order. A nil table is a no-op.
func (t *Table) Apply(eob *fhirmodels.ExplanationOfBenefit) {
	if t == nil || eob == nil {
		return
	}
	for _, r := range t.Rules {
		if set, ok := setters[r.Field]; ok {
			set(eob, r.Value)
		}
	}
}
