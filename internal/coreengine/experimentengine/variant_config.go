package experimentengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Every variant schema admits an "extensions" object for keys a newer client
// may send; everything else outside the declared properties is rejected.
const extensionsProperty = `"extensions": {"type": "object"}`

var variantSchemas = map[string]string{
	datastore.ExperimentTypeCriticWeight: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["weights"],
		"properties": {
			"weights": {
				"type": "object",
				"minProperties": 1,
				"additionalProperties": {"type": "number", "minimum": 0}
			},
			"judge_ids": {"type": "array", "items": {"type": "string", "minLength": 1}},
			` + extensionsProperty + `
		}
	}`,
	datastore.ExperimentTypePromptTemplate: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["prompt_template"],
		"properties": {
			"prompt_template": {"type": "string", "minLength": 1},
			"judge_ids": {"type": "array", "items": {"type": "string", "minLength": 1}},
			` + extensionsProperty + `
		}
	}`,
	datastore.ExperimentTypeModel: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["model_id"],
		"properties": {
			"model_id": {"type": "string", "minLength": 1},
			"judge_ids": {"type": "array", "items": {"type": "string", "minLength": 1}},
			` + extensionsProperty + `
		}
	}`,
	datastore.ExperimentTypeProfile: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["profile"],
		"properties": {
			"profile": {"type": "string", "minLength": 1},
			"policy": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"pass_threshold": {"type": "number", "minimum": 0, "maximum": 100},
					"regenerate_threshold": {"type": "number", "minimum": 0, "maximum": 100},
					"quarantine_threshold": {"type": "number", "minimum": 0, "maximum": 100},
					"critical_flags": {"type": "array", "items": {"type": "string"}},
					"high_severity_flags": {"type": "array", "items": {"type": "string"}},
					"sample_rate": {"type": "number", "minimum": 0, "maximum": 1},
					"disagreement_threshold": {"type": "number", "minimum": 0}
				}
			},
			` + extensionsProperty + `
		}
	}`,
}

// compiledSchemas holds one compiled schema per experiment type.
type compiledSchemas map[string]*jsonschema.Schema

func compileVariantSchemas() (compiledSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	out := compiledSchemas{}
	for kind, schema := range variantSchemas {
		url := "mem://variants/" + kind + ".json"
		if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
			return nil, fmt.Errorf("add %s variant schema: %w", kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s variant schema: %w", kind, err)
		}
		out[kind] = compiled
	}
	return out, nil
}

// VariantConfig is the typed form of one arm of an experiment. Exactly one of
// the per-type fields is set, matching Type.
type VariantConfig struct {
	Type           string
	CriticWeight   *CriticWeightVariant
	PromptTemplate *PromptTemplateVariant
	Model          *ModelVariant
	Profile        *ProfileVariant
	// Extensions carries keys this version does not interpret.
	Extensions map[string]any
}

// CriticWeightVariant replaces per-judge weights.
type CriticWeightVariant struct {
	Weights  map[string]float64 `json:"weights"`
	JudgeIDs []string           `json:"judge_ids,omitempty"`
}

// PromptTemplateVariant replaces the judge prompt template.
type PromptTemplateVariant struct {
	PromptTemplate string   `json:"prompt_template"`
	JudgeIDs       []string `json:"judge_ids,omitempty"`
}

// ModelVariant replaces the judge model id.
type ModelVariant struct {
	ModelID  string   `json:"model_id"`
	JudgeIDs []string `json:"judge_ids,omitempty"`
}

// ProfileVariant names a policy profile and the fields it overrides.
type ProfileVariant struct {
	Profile string                         `json:"profile"`
	Policy  *decisionengine.PolicyOverride `json:"policy,omitempty"`
}

type extensionsOnly struct {
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ParseVariant validates raw against the schema for kind and decodes it.
// Every failure is an apperrors.ValidationError naming field.
func (s compiledSchemas) ParseVariant(kind, field string, raw json.RawMessage) (*VariantConfig, error) {
	schema, ok := s[kind]
	if !ok {
		return nil, apperrors.Invalid("experiment_type", "unknown experiment type %q", kind)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperrors.Invalid(field, "%s is required", field)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Invalid(field, "%s is not valid JSON: %v", field, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, apperrors.Invalid(field, "%s does not match the %s variant shape: %s", field, kind, leafMessage(ve))
		}
		return nil, apperrors.Invalid(field, "%s: %v", field, err)
	}

	cfg := &VariantConfig{Type: kind}
	var target any
	switch kind {
	case datastore.ExperimentTypeCriticWeight:
		cfg.CriticWeight = &CriticWeightVariant{}
		target = cfg.CriticWeight
	case datastore.ExperimentTypePromptTemplate:
		cfg.PromptTemplate = &PromptTemplateVariant{}
		target = cfg.PromptTemplate
	case datastore.ExperimentTypeModel:
		cfg.Model = &ModelVariant{}
		target = cfg.Model
	case datastore.ExperimentTypeProfile:
		cfg.Profile = &ProfileVariant{}
		target = cfg.Profile
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, apperrors.Invalid(field, "%s: %v", field, err)
	}
	var ext extensionsOnly
	_ = json.Unmarshal(raw, &ext)
	cfg.Extensions = ext.Extensions
	return cfg, nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if leaf.InstanceLocation == "" {
		return leaf.Message
	}
	return leaf.InstanceLocation + ": " + leaf.Message
}

// Overrides turns the variant into decision-engine overrides.
func (v *VariantConfig) Overrides() *decisionengine.Overrides {
	o := &decisionengine.Overrides{}
	switch {
	case v.CriticWeight != nil:
		o.Weights = v.CriticWeight.Weights
		o.JudgeIDs = v.CriticWeight.JudgeIDs
	case v.PromptTemplate != nil:
		o.PromptTemplate = v.PromptTemplate.PromptTemplate
		o.JudgeIDs = v.PromptTemplate.JudgeIDs
	case v.Model != nil:
		o.ModelID = v.Model.ModelID
		o.JudgeIDs = v.Model.JudgeIDs
	case v.Profile != nil:
		o.PolicyProfile = v.Profile.Profile
		o.Policy = v.Profile.Policy
	}
	return o
}
