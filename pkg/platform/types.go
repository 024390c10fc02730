// Package platform maps external platform requests onto the internal
// ContextRequest used for bidder fanout.
package platform

// ContextRequest is the typed spine handed to the auction runner and
// published to bidders. Vendor extensions stay in a raw blob; classification
// hints keep their loose shape (scalar or list) until pool classification.
type ContextRequest struct {
	ContextID      string         `json:"context_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	SessionID      string         `json:"session_id"`
	PlatformID     string         `json:"platform_id,omitempty"`
	OperatorID     string         `json:"operator_id,omitempty"`
	QueryText      string         `json:"query_text"`
	Locale         string         `json:"locale,omitempty"`
	Geo            any            `json:"geo,omitempty"`
	Timestamp      string         `json:"ts,omitempty"`
	Intent         *Intent        `json:"intent,omitempty"`
	AllowedFormats []string       `json:"allowed_formats,omitempty"`
	Auth           any            `json:"auth,omitempty"`
	Surface        string         `json:"surface,omitempty"`
	Pricing        *Pricing       `json:"pricing,omitempty"`
	Verticals      []string       `json:"verticals,omitempty"`
	Extensions     map[string]any `json:"ext,omitempty"`
	ServeTokenHint string         `json:"serve_token_hint,omitempty"`

	// Classification hints, consulted in this order by the pool classifier.
	CategoryPools any            `json:"category_pools,omitempty"`
	Categories    any            `json:"categories,omitempty"`
	Pools         any            `json:"pools,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Features      map[string]any `json:"features,omitempty"`
}

// Intent describes where in the conversation the request sits.
type Intent struct {
	Type           string `json:"type,omitempty"`
	DecisionPhase  string `json:"decision_phase,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`
	TurnIndex      int    `json:"turn_index,omitempty"`
}

// Pricing carries the platform's normalized price constraints.
type Pricing struct {
	CPXFloor string `json:"cpx_floor"`
}
