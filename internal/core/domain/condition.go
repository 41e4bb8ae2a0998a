package domain

import "strings"

type EvidenceCategory string

const (
	CategoryScripture EvidenceCategory = "scripture"
	CategoryTradition EvidenceCategory = "tradition"
	CategoryScholar   EvidenceCategory = "scholar"
)

type EvidenceRole string

const (
	RoleSymptom   EvidenceRole = "symptom"
	RoleTreatment EvidenceRole = "treatment"
	RoleGeneral   EvidenceRole = "general"
)

type Evidence struct {
	Locator   string           `json:"locator,omitempty" yaml:"locator"`
	Quote     string           `json:"quote" yaml:"quote"`
	Reference string           `json:"reference" yaml:"reference"`
	Category  EvidenceCategory `json:"category" yaml:"category"`
	Role      EvidenceRole     `json:"role,omitempty" yaml:"role"`
}

// IntensityRule adds Bonus to a condition's related-theme score when the signal
// intensity exceeds Above. An empty Emotion applies to any primary label.
type IntensityRule struct {
	Emotion string  `json:"emotion,omitempty" yaml:"emotion"`
	Above   float64 `json:"above" yaml:"above"`
	Bonus   float64 `json:"bonus" yaml:"bonus"`
}

func (r IntensityRule) Applies(signal EmotionalSignal) bool {
	if signal.Intensity <= r.Above {
		return false
	}
	return r.Emotion == "" || equalFold(r.Emotion, signal.Primary)
}

type Condition struct {
	Name           string          `json:"name" yaml:"name"`
	DisplayName    string          `json:"display_name" yaml:"display_name"`
	SourceRange    string          `json:"source_range,omitempty" yaml:"source_range"`
	Triggers       []string        `json:"triggers" yaml:"triggers"`
	Evidence       []Evidence      `json:"evidence" yaml:"evidence"`
	IntensityRules []IntensityRule `json:"intensity_rules,omitempty" yaml:"intensity_rules"`
}

// EvidenceByRole returns evidence tagged with any of the given roles, in curated order.
func (c Condition) EvidenceByRole(roles ...EvidenceRole) []Evidence {
	out := make([]Evidence, 0, len(c.Evidence))
	for _, ev := range c.Evidence {
		for _, role := range roles {
			if ev.Role == role {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

type EmotionalSignal struct {
	Primary   string   `json:"primary"`
	Intensity float64  `json:"intensity"`
	Triggers  []string `json:"triggers,omitempty"`
	Context   string   `json:"context,omitempty"`
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
