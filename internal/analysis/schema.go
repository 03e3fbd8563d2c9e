package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"visitnote/internal/domain"
	"visitnote/internal/ports"
)

// ResponseSchema describes the analysis JSON so providers can request constrained output.
func ResponseSchema() *ports.ResponseSchema {
	str := func() *ports.ResponseSchema { return &ports.ResponseSchema{Type: "string"} }

	threats := make([]string, 0, len(domain.ThreatLevels))
	for _, level := range domain.ThreatLevels {
		threats = append(threats, string(level))
	}

	return &ports.ResponseSchema{
		Type: "object",
		Properties: map[string]*ports.ResponseSchema{
			"soap": {
				Type: "object",
				Properties: map[string]*ports.ResponseSchema{
					"subjective": str(),
					"objective":  str(),
					"assessment": str(),
					"plan":       str(),
				},
				Required: []string{"subjective", "objective", "assessment", "plan"},
			},
			"carePlan": {
				Type: "array",
				Items: &ports.ResponseSchema{
					Type: "object",
					Properties: map[string]*ports.ResponseSchema{
						"problem":      str(),
						"goal":         str(),
						"intervention": str(),
					},
					Required: []string{"problem", "goal", "intervention"},
				},
			},
			"summary":        str(),
			"threatLevel":    {Type: "string", Enum: threats},
			"otsuboneWisdom": str(),
		},
		Required: []string{"soap", "carePlan", "summary", "threatLevel", "otsuboneWisdom"},
	}
}

type rawAnalysis struct {
	Soap           *rawCareNote    `json:"soap"`
	CarePlan       *[]rawPlanEntry `json:"carePlan"`
	Summary        *string         `json:"summary"`
	ThreatLevel    *string         `json:"threatLevel"`
	OtsuboneWisdom *string         `json:"otsuboneWisdom"`
}

type rawCareNote struct {
	Subjective *string `json:"subjective"`
	Objective  *string `json:"objective"`
	Assessment *string `json:"assessment"`
	Plan       *string `json:"plan"`
}

type rawPlanEntry struct {
	Problem      *string `json:"problem"`
	Goal         *string `json:"goal"`
	Intervention *string `json:"intervention"`
}

// ParseAnalysis decodes model output into an AnalysisResult. Every key is required.
func ParseAnalysis(text string) (domain.AnalysisResult, error) {
	body := stripFence(text)
	if body == "" {
		return domain.AnalysisResult{}, &domain.SchemaError{Reason: "empty response"}
	}

	var raw rawAnalysis
	decoder := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := decoder.Decode(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return domain.AnalysisResult{}, &domain.SchemaError{Field: typeErr.Field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
		}
		return domain.AnalysisResult{}, &domain.SchemaError{Reason: err.Error()}
	}
	if decoder.More() {
		return domain.AnalysisResult{}, &domain.SchemaError{Reason: "trailing data after JSON object"}
	}

	var result domain.AnalysisResult
	if raw.Soap == nil {
		return result, missing("soap")
	}
	soapFields := []struct {
		name  string
		value *string
		dest  *string
	}{
		{"soap.subjective", raw.Soap.Subjective, &result.Soap.Subjective},
		{"soap.objective", raw.Soap.Objective, &result.Soap.Objective},
		{"soap.assessment", raw.Soap.Assessment, &result.Soap.Assessment},
		{"soap.plan", raw.Soap.Plan, &result.Soap.Plan},
	}
	for _, field := range soapFields {
		if field.value == nil {
			return domain.AnalysisResult{}, missing(field.name)
		}
		*field.dest = *field.value
	}

	if raw.CarePlan == nil {
		return domain.AnalysisResult{}, missing("carePlan")
	}
	result.CarePlan = make([]domain.CarePlanEntry, 0, len(*raw.CarePlan))
	for i, entry := range *raw.CarePlan {
		if entry.Problem == nil || entry.Goal == nil || entry.Intervention == nil {
			return domain.AnalysisResult{}, missing(fmt.Sprintf("carePlan[%d]", i))
		}
		result.CarePlan = append(result.CarePlan, domain.CarePlanEntry{
			Problem:      *entry.Problem,
			Goal:         *entry.Goal,
			Intervention: *entry.Intervention,
		})
	}

	if raw.Summary == nil {
		return domain.AnalysisResult{}, missing("summary")
	}
	result.Summary = *raw.Summary

	if raw.ThreatLevel == nil {
		return domain.AnalysisResult{}, missing("threatLevel")
	}
	result.ThreatLevel = domain.ThreatLevel(strings.TrimSpace(*raw.ThreatLevel))
	if !result.ThreatLevel.Valid() {
		return domain.AnalysisResult{}, &domain.SchemaError{Field: "threatLevel", Reason: fmt.Sprintf("unknown tier %q", *raw.ThreatLevel)}
	}

	if raw.OtsuboneWisdom == nil {
		return domain.AnalysisResult{}, missing("otsuboneWisdom")
	}
	result.OtsuboneWisdom = *raw.OtsuboneWisdom
	return result, nil
}

func missing(field string) error {
	return &domain.SchemaError{Field: field, Reason: "missing required value"}
}

// stripFence removes a ```json fence some models wrap around structured output.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}
