package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hydrokb/resolver/rules"
)

// Document is a self-contained knowledge base: rule sets plus the catalog
// they refer to. It is the file form served by the CLI and imported by the API.
type Document struct {
	Name          string
	Purpose       string
	Rules         []*rules.Rule
	Algorithms    []AlgorithmRecord
	Components    []ComponentMeta
	EdgeOverrides []EdgeOverride
}

type fileDocument struct {
	Name          string            `yaml:"name"`
	Purpose       string            `yaml:"purpose"`
	Rules         []fileRule        `yaml:"rules"`
	Algorithms    []AlgorithmRecord `yaml:"algorithms"`
	Components    []ComponentMeta   `yaml:"components"`
	EdgeOverrides []EdgeOverride    `yaml:"edgeOverrides"`
}

// fileRule defaults Active to true and Combinator to NONE for single-atom rules
type fileRule struct {
	ID         string           `yaml:"id"`
	Name       string           `yaml:"name"`
	Category   rules.Category   `yaml:"category"`
	Combinator rules.Combinator `yaml:"combinator"`
	Conditions []rules.Atom     `yaml:"conditions"`
	Conclusion rules.Atom       `yaml:"conclusion"`
	Active     *bool            `yaml:"active"`
}

func (f fileRule) rule() *rules.Rule {
	r := &rules.Rule{
		ID:         f.ID,
		Name:       f.Name,
		Category:   rules.Category(strings.ToLower(string(f.Category))),
		Combinator: rules.Combinator(strings.ToUpper(string(f.Combinator))),
		Conditions: f.Conditions,
		Conclusion: f.Conclusion,
		Active:     true,
	}
	if f.Active != nil {
		r.Active = *f.Active
	}
	if r.Combinator == "" && len(r.Conditions) == 1 {
		r.Combinator = rules.CombinatorNone
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	return r
}

// ParseDocument decodes a YAML knowledge base. Unknown keys are rejected.
// Rules are not validated here: malformed rules are skipped when compiled.
func ParseDocument(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw fileDocument
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	doc := &Document{
		Name:          raw.Name,
		Purpose:       raw.Purpose,
		Algorithms:    raw.Algorithms,
		Components:    raw.Components,
		EdgeOverrides: raw.EdgeOverrides,
	}
	for _, fr := range raw.Rules {
		doc.Rules = append(doc.Rules, fr.rule())
	}
	return doc, nil
}

// LoadFile reads and parses a YAML knowledge base file
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Store builds the in-memory catalog of the document
func (d *Document) Store() (*InMemoryStore, error) {
	return NewInMemoryStore(d.Algorithms, d.Components, d.EdgeOverrides)
}

// RuleStore builds an ordered in-memory rule store from the document
func (d *Document) RuleStore() (*rules.InMemoryRuleStore, error) {
	return rules.NewInMemoryRuleStoreFrom(d.Rules)
}

// Marshal renders the document back to YAML
func (d *Document) Marshal() ([]byte, error) {
	raw := fileDocument{
		Name:          d.Name,
		Purpose:       d.Purpose,
		Algorithms:    d.Algorithms,
		Components:    d.Components,
		EdgeOverrides: d.EdgeOverrides,
	}
	for _, r := range d.Rules {
		active := r.Active
		raw.Rules = append(raw.Rules, fileRule{
			ID:         r.ID,
			Name:       r.Name,
			Category:   r.Category,
			Combinator: r.Combinator,
			Conditions: r.Conditions,
			Conclusion: r.Conclusion,
			Active:     &active,
		})
	}
	return yaml.Marshal(raw)
}
