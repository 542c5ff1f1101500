package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Idkasam/kora-sdk/pkg/budget"
)

//go:embed mandates.schema.json
var mandatesSchemaJSON string

const mandatesSchemaURL = "https://kora.schemas.local/mandates.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func mandatesSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(mandatesSchemaURL, bytes.NewReader([]byte(mandatesSchemaJSON))); err != nil {
			schemaErr = fmt.Errorf("mandate schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(mandatesSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("mandate schema compile failed: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

type mandateFile struct {
	Mandates []mandateEntry `yaml:"mandates"`
}

type mandateEntry struct {
	ID                     string    `yaml:"id"`
	Version                int64     `yaml:"version"`
	Currency               *string   `yaml:"currency"`
	DailyLimitCents        *int64    `yaml:"daily_limit_cents"`
	MonthlyLimitCents      *int64    `yaml:"monthly_limit_cents"`
	PerTransactionMaxCents *int64    `yaml:"per_transaction_max_cents"`
	AllowedVendors         *[]string `yaml:"allowed_vendors"`
	EnforcementMode        *string   `yaml:"enforcement_mode"`
}

// LoadMandates reads a YAML mandate file.
func LoadMandates(path string) ([]budget.Mandate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load mandates %q: %w", path, err)
	}
	mandates, err := ParseMandates(data)
	if err != nil {
		return nil, fmt.Errorf("parse mandates %q: %w", path, err)
	}
	return mandates, nil
}

// ParseMandates validates YAML mandate definitions against the embedded
// schema and fills unset limits with the sandbox defaults.
func ParseMandates(data []byte) ([]budget.Mandate, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	// Round-trip through JSON so the validator sees JSON types.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("mandates are not JSON-compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	s, err := mandatesSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("mandates failed validation: %w", err)
	}

	var file mandateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(file.Mandates))
	out := make([]budget.Mandate, 0, len(file.Mandates))
	for _, e := range file.Mandates {
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate mandate %q", e.ID)
		}
		seen[e.ID] = true
		out = append(out, e.mandate())
	}
	return out, nil
}

func (e mandateEntry) mandate() budget.Mandate {
	m := budget.DefaultMandate(e.ID)
	m.Version = e.Version
	if e.Currency != nil {
		m.Currency = *e.Currency
	}
	if e.DailyLimitCents != nil {
		m.DailyLimitCents = *e.DailyLimitCents
	}
	if e.MonthlyLimitCents != nil {
		m.MonthlyLimitCents = *e.MonthlyLimitCents
	}
	m.PerTransactionMaxCents = e.PerTransactionMaxCents
	if e.AllowedVendors != nil {
		m.AllowedVendors = append([]string{}, (*e.AllowedVendors)...)
	}
	if e.EnforcementMode != nil {
		m.EnforcementMode = *e.EnforcementMode
	}
	return m
}
