// Package schema provides the validation seam for inbound payloads. Full
// JSON Schema enforcement is an external capability; the built-in rule
// validator covers required fields and the vendor extension key contract.
package schema

import (
	"regexp"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

// Validator checks a named payload shape.
type Validator interface {
	Validate(name string, payload map[string]any) error
}

// Schema names understood by the rule validator.
const (
	PlatformRequest = "platform_request"
	Bid             = "bid"
	EventExposure   = "event_cpx_exposure"
	EventClick      = "event_cpc_click"
	EventConversion = "event_cpa_conversion"
)

// EventSchemaFor resolves the schema name for an event type. The legacy
// unprefixed names are accepted as aliases.
func EventSchemaFor(eventType string) (string, bool) {
	switch eventType {
	case "cpx_exposure", "exposure":
		return EventExposure, true
	case "cpc_click", "click":
		return EventClick, true
	case "cpa_conversion", "conversion":
		return EventConversion, true
	}

	return "", false
}

// extKeyPattern is the contract for vendor extension namespaces.
var extKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

var requiredByName = map[string][]string{
	PlatformRequest: {
		"request_id", "session_id", "platform_id", "query_text",
		"locale", "geo", "timestamp", "auth",
	},
	EventExposure:   {"serve_token", "event_type", "timestamp"},
	EventClick:      {"serve_token", "event_type", "timestamp"},
	EventConversion: {"serve_token", "event_type", "timestamp"},
}

// RuleValidator is the built-in Validator.
type RuleValidator struct{}

// NewRuleValidator creates the built-in validator.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

// Validate checks the payload against the named rule set.
func (v *RuleValidator) Validate(name string, payload map[string]any) error {
	required, known := requiredByName[name]
	if !known && name != Bid {
		return fault.New(fault.KindSchemaInvalid, "unknown schema %q", name)
	}

	if payload == nil {
		return fault.New(fault.KindSchemaInvalid, "%s payload must be an object", name)
	}

	for _, field := range required {
		if value, ok := payload[field]; !ok || value == nil {
			return fault.New(fault.KindSchemaInvalid, "%s is missing required field %q", name, field)
		}
	}

	if name == Bid && len(payload) == 0 {
		return fault.New(fault.KindSchemaInvalid, "bid payload must not be empty")
	}

	if ext, ok := payload["ext"].(map[string]any); ok {
		for key := range ext {
			if !extKeyPattern.MatchString(key) {
				return fault.New(fault.KindSchemaInvalid, "extension key %q violates the vendor id contract", key)
			}
		}
	}

	return nil
}
