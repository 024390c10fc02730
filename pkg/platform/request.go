package platform

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/fault"
)

var requiredFields = []string{
	"request_id", "session_id", "platform_id", "query_text",
	"locale", "geo", "timestamp", "auth",
}

// BuildContextRequest maps the external PlatformRequest onto the internal
// ContextRequest schema used for bidder fanout.
func BuildContextRequest(platformRequest map[string]any, operator config.OperatorConfig) (*ContextRequest, error) {
	for _, field := range requiredFields {
		if value, ok := platformRequest[field]; !ok || value == nil {
			return nil, fault.New(fault.KindMissingRequiredField, "platform request missing required field %q", field)
		}
	}

	requestID := stringValue(platformRequest["request_id"])

	cr := &ContextRequest{
		ContextID:      "ctx_" + requestID,
		RequestID:      requestID,
		SessionID:      stringValue(platformRequest["session_id"]),
		PlatformID:     stringValue(platformRequest["platform_id"]),
		OperatorID:     operator.ID,
		QueryText:      stringValue(platformRequest["query_text"]),
		Locale:         stringValue(platformRequest["locale"]),
		Geo:            platformRequest["geo"],
		Timestamp:      stringValue(platformRequest["timestamp"]),
		Auth:           platformRequest["auth"],
		AllowedFormats: stringList(platformRequest["allowed_formats"]),
		Surface:        stringValue(platformRequest["platform_surface"]),
		Verticals:      stringList(platformRequest["verticals"]),
		ServeTokenHint: stringValue(platformRequest["serve_token_hint"]),
		CategoryPools:  platformRequest["category_pools"],
		Categories:     platformRequest["categories"],
		Pools:          platformRequest["pools"],
		Context:        mapValue(platformRequest["context"]),
		Features:       mapValue(platformRequest["features"]),
	}

	if len(cr.AllowedFormats) == 0 {
		cr.AllowedFormats = operator.AllowedFormats
	}

	if intent := mapValue(platformRequest["intent"]); intent != nil {
		cr.Intent = &Intent{
			Type:           stringValue(intent["type"]),
			DecisionPhase:  stringValue(intent["decision_phase"]),
			ContextSummary: stringValue(intent["context_summary"]),
			TurnIndex:      intValue(intent["turn_index"]),
		}
	}

	if floor, ok := platformRequest["cpx_floor"]; ok && floor != nil {
		normalized, err := FormatCPXFloor(floor)
		if err != nil {
			return nil, err
		}

		cr.Pricing = &Pricing{CPXFloor: normalized}
	}

	if ext := NormalizeExtensions(platformRequest); len(ext) > 0 {
		cr.Extensions = ext
	}

	return cr, nil
}

// FormatCPXFloor normalizes a price floor to a fixed 2-decimal string.
func FormatCPXFloor(value any) (string, error) {
	var (
		d   decimal.Decimal
		err error
	)

	switch v := value.(type) {
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		d, err = decimal.NewFromString(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	default:
		return "", fault.New(fault.KindSchemaInvalid, "cpx_floor must be numeric")
	}

	if err != nil {
		return "", fault.Wrap(fault.KindSchemaInvalid, err, "cpx_floor must be numeric")
	}

	return d.StringFixed(2), nil
}

var vendorIDPattern = regexp.MustCompile(`[^a-z0-9_-]`)

// SlugVendorID derives the extension namespace for a platform id.
func SlugVendorID(platformID string) string {
	if platformID == "" {
		return "platform"
	}

	slug := vendorIDPattern.ReplaceAllString(strings.ToLower(platformID), "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "platform"
	}

	return slug
}

// NormalizeExtensions preserves vendor-namespaced extensions and tucks the
// platform's own metadata (model, messages, platform_surface) under the
// platform's vendor id for downstream bidders.
func NormalizeExtensions(platformRequest map[string]any) map[string]any {
	ext := map[string]any{}
	if raw := mapValue(platformRequest["ext"]); raw != nil {
		ext = copyMap(raw)
	}

	metadata := map[string]any{}

	for _, key := range []string{"model", "messages", "platform_surface"} {
		if value := platformRequest[key]; !isEmpty(value) {
			metadata[key] = value
		}
	}

	if len(metadata) == 0 {
		if len(ext) == 0 {
			return nil
		}

		return ext
	}

	vendorID := SlugVendorID(stringValue(platformRequest["platform_id"]))

	bucket := mapValue(ext[vendorID])
	if bucket == nil {
		bucket = map[string]any{}
	}

	merged := map[string]any{}
	if existing := mapValue(bucket["platform_request"]); existing != nil {
		for k, v := range existing {
			merged[k] = v
		}
	}

	for k, v := range metadata {
		merged[k] = v
	}

	bucket["platform_request"] = merged
	ext[vendorID] = bucket

	return ext
}

func stringValue(v any) string {
	s, _ := v.(string)

	return s
}

func mapValue(v any) map[string]any {
	m, _ := v.(map[string]any)

	return m
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)

		return out
	case []any:
		var out []string

		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}

	return 0
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}

	return false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}

	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}

		return out
	}

	return v
}

