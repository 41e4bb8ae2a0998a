// Package taxonomy loads the curated condition catalogue used by the
// structured matcher.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/evidence"
)

//go:embed default.yaml
var defaultCatalogue []byte

// Taxonomy is read-only after Load.
type Taxonomy struct {
	version    int
	conditions []domain.Condition
}

type file struct {
	Version    int                `yaml:"version"`
	Conditions []domain.Condition `yaml:"conditions"`
}

// Load reads the catalogue at path, or the embedded default when path is
// empty.
func Load(path string, classifier *evidence.Parser) (*Taxonomy, error) {
	data := defaultCatalogue
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
		}
		data = raw
	}
	return Parse(data, classifier)
}

// Parse decodes and validates a YAML catalogue. Evidence without a category
// is classified from its reference; evidence without a role is general.
func Parse(data []byte, classifier *evidence.Parser) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse taxonomy", err)
	}
	if classifier == nil {
		classifier = evidence.NewParser(evidence.Options{})
	}

	seen := make(map[string]struct{}, len(f.Conditions))
	var problems []error
	for i := range f.Conditions {
		c := &f.Conditions[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			problems = append(problems, fmt.Errorf("condition %d: name is required", i))
			continue
		}
		if _, dup := seen[c.Name]; dup {
			problems = append(problems, fmt.Errorf("condition %q: duplicate name", c.Name))
		}
		seen[c.Name] = struct{}{}
		if c.DisplayName == "" {
			c.DisplayName = c.Name
		}
		if len(c.Triggers) == 0 {
			problems = append(problems, fmt.Errorf("condition %q: at least one trigger is required", c.Name))
		}
		for j := range c.Evidence {
			if err := normalizeEvidence(&c.Evidence[j], c.Name, classifier); err != nil {
				problems = append(problems, fmt.Errorf("condition %q evidence %d: %w", c.Name, j, err))
			}
		}
	}
	if len(problems) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate taxonomy", errors.Join(problems...))
	}
	return &Taxonomy{version: f.Version, conditions: f.Conditions}, nil
}

func normalizeEvidence(ev *domain.Evidence, condition string, classifier *evidence.Parser) error {
	ev.Quote = strings.Join(strings.Fields(ev.Quote), " ")
	ev.Reference = strings.Join(strings.Fields(ev.Reference), " ")
	if ev.Quote == "" || ev.Reference == "" {
		return errors.New("quote and reference are required")
	}
	switch ev.Category {
	case "":
		ev.Category = classifier.Classify(ev.Reference)
	case domain.CategoryScripture, domain.CategoryTradition, domain.CategoryScholar:
	default:
		return fmt.Errorf("unknown category %q", ev.Category)
	}
	switch ev.Role {
	case "":
		ev.Role = domain.RoleGeneral
	case domain.RoleSymptom, domain.RoleTreatment, domain.RoleGeneral:
	default:
		return fmt.Errorf("unknown role %q", ev.Role)
	}
	if ev.Locator == "" {
		ev.Locator = "taxonomy:" + condition
	}
	return nil
}

func (t *Taxonomy) Version() int {
	return t.version
}

func (t *Taxonomy) Len() int {
	return len(t.conditions)
}

// Conditions returns a copy of the catalogue.
func (t *Taxonomy) Conditions() []domain.Condition {
	out := make([]domain.Condition, len(t.conditions))
	for i, c := range t.conditions {
		c.Triggers = append([]string(nil), c.Triggers...)
		c.Evidence = append([]domain.Evidence(nil), c.Evidence...)
		c.IntensityRules = append([]domain.IntensityRule(nil), c.IntensityRules...)
		out[i] = c
	}
	return out
}
