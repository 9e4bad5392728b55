package trac

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

type ruleMode int

const (
	ruleCreate ruleMode = iota
	ruleUpdate
)

// PropertyRule constrains one ticket property. An empty Allowed set means the
// property is unconstrained: the tracker is left as the final arbiter for
// values it never advertised choices for.
type PropertyRule struct {
	Allowed []string
}

// Validate checks a value against the permitted set, case-insensitively and
// anchored: the value must equal one permitted value apart from letter case.
// A blank value clears the property and always passes.
func (r PropertyRule) Validate(value string) error {
	if len(r.Allowed) == 0 || value == "" {
		return nil
	}
	for _, allowed := range r.Allowed {
		if strings.EqualFold(value, allowed) {
			return nil
		}
	}
	return apperrors.NewValidationError(
		fmt.Sprintf("%q is not one of the permitted values", value),
		map[string]any{"allowed": r.Allowed})
}

// metadataFor maps a singular property name to its permitted-value cache.
// Properties without a cache entry stay unconstrained.
func (t *Ticket) metadataFor(name string) []string {
	switch name {
	case "type":
		return t.metadata.types
	case "priority":
		return t.metadata.priorities
	case "component":
		return t.metadata.components
	case "milestone":
		return t.metadata.milestones
	case "severity":
		return t.metadata.severities
	case "resolution":
		return t.metadata.resolutions
	}
	return nil
}

// validationRules builds the per-property rule set for one create or update
// call from the cached metadata, loading it first when needed.
func (t *Ticket) validationRules(ctx context.Context, mode ruleMode, names []string) (map[string]PropertyRule, error) {
	if err := t.loadCreateMetadata(ctx); err != nil {
		return nil, err
	}
	if mode == ruleUpdate {
		if err := t.loadUpdateMetadata(ctx); err != nil {
			return nil, err
		}
	}
	rules := make(map[string]PropertyRule, len(names))
	for _, name := range names {
		rules[name] = PropertyRule{Allowed: t.metadataFor(name)}
	}
	return rules, nil
}

// validateProperties checks each supplied property against its rule. A
// property with no rule at all is not writable in this mode.
func validateProperties(rules map[string]PropertyRule, props map[string]string) error {
	for name, value := range props {
		rule, ok := rules[name]
		if !ok {
			return apperrors.NewValidationError(
				fmt.Sprintf("property %q cannot be set here", name),
				map[string]any{"property": name})
		}
		if err := rule.Validate(value); err != nil {
			clientErr := apperrors.ToClientError(err)
			if clientErr.Details == nil {
				clientErr.Details = map[string]any{}
			}
			clientErr.Details["property"] = name
			return clientErr
		}
	}
	return nil
}
