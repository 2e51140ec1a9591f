package knowledgebase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hydrokb/resolver/catalog"
)

const (
	maxNameLength      = 64
	maxRuleIDLength    = 100
	maxRules           = 10000
	maxConditions      = 200
	maxConditionName   = 100
	maxConditionValue  = 4096
	maxRequestedInputs = 500
)

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	ruleIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)
)

// reservedNames collide with API path segments
var reservedNames = map[string]bool{
	"all":     true,
	"import":  true,
	"new":     true,
	"health":  true,
	"metrics": true,
	"resolve": true,
}

// ValidateName checks a knowledge base name
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("knowledge base name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("knowledge base name length %d exceeds maximum of %d characters", len(name), maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("knowledge base name %q must match pattern %s", name, namePattern)
	}
	if reservedNames[name] {
		return fmt.Errorf("cannot use reserved name %q", name)
	}
	return nil
}

// ValidateRuleID checks a rule identifier
func ValidateRuleID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("rule id cannot be empty")
	}
	if len(id) > maxRuleIDLength {
		return fmt.Errorf("rule id length %d exceeds maximum of %d characters", len(id), maxRuleIDLength)
	}
	if !ruleIDPattern.MatchString(id) {
		return fmt.Errorf("rule id %q must match pattern %s", id, ruleIDPattern)
	}
	return nil
}

// ValidateConditionName rejects blank names, surrounding whitespace and control characters
func ValidateConditionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("condition name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("condition name %q has leading or trailing whitespace", name)
	}
	if len(name) > maxConditionName {
		return fmt.Errorf("condition name length %d exceeds maximum of %d characters", len(name), maxConditionName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("condition name %q contains a control character", name)
		}
	}
	return nil
}

// ValidateScenario checks caller-supplied conditions and data names
func ValidateScenario(conditions map[string]string, existingData []string) error {
	if len(conditions) > maxConditions {
		return fmt.Errorf("scenario has %d conditions, maximum allowed is %d", len(conditions), maxConditions)
	}
	for name, value := range conditions {
		if err := ValidateConditionName(name); err != nil {
			return err
		}
		if len(value) > maxConditionValue {
			return fmt.Errorf("value of condition %q exceeds %d bytes", name, maxConditionValue)
		}
	}
	if len(existingData) > maxRequestedInputs {
		return fmt.Errorf("existing data lists %d entries, maximum allowed is %d", len(existingData), maxRequestedInputs)
	}
	for i, d := range existingData {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("existing data entry %d is empty", i)
		}
	}
	return nil
}

// ValidateDocument checks a knowledge base before it is registered or imported.
// Rule contents are left to the engine, which skips malformed rules.
func ValidateDocument(doc *catalog.Document) error {
	if err := ValidateName(doc.Name); err != nil {
		return err
	}
	if len(doc.Rules) > maxRules {
		return fmt.Errorf("knowledge base has %d rules, maximum allowed is %d", len(doc.Rules), maxRules)
	}

	// Malformed rules are compiled and skipped individually
	ids := make(map[string]bool, len(doc.Rules))
	for _, r := range doc.Rules {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		if ids[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		ids[r.ID] = true
	}

	components := make(map[string]bool, len(doc.Components))
	for _, c := range doc.Components {
		if err := c.Validate(); err != nil {
			return err
		}
		components[c.ComponentID] = true
	}
	for _, a := range doc.Algorithms {
		if err := a.Validate(); err != nil {
			return err
		}
		if !components[a.ComponentID] {
			return fmt.Errorf("algorithm %s refers to unknown component %s", a.ID, a.ComponentID)
		}
	}
	return nil
}
