// Package engine implements the core temporal/sequential rule-matching
// engine: field predicates, flag templating, a flag store, the default
// single-rule evaluator, a pluggable evaluation chain, and the main
// per-record analysis loop.
package engine

// Record is one input event: an unordered key-value mapping. Values are
// expected to be one of int64/float64/bool/string/[]byte, but any
// concrete Go type is accepted — unsupported types simply fail to match.
type Record map[string]any

// FieldMatchSpec is one (target-field, comparison) pair within a Rule's
// FieldCheckList. MatchCode's absolute value selects the comparator; a
// negative MatchCode inverts the result.
type FieldMatchSpec struct {
	FieldName    string `yaml:"field_name" json:"field_name" validate:"required"`
	MatchContent any    `yaml:"match_content" json:"match_content"`
	MatchCode    int    `yaml:"match_code" json:"match_code" validate:"required,is-match-code"`

	// SliceFrom/SliceTo are consumed by the Slicer plugin only; the
	// default evaluator ignores them.
	SliceFrom *int `yaml:"slice_from,omitempty" json:"slice_from,omitempty"`
	SliceTo   *int `yaml:"slice_to,omitempty" json:"slice_to,omitempty"`
}

// Rule is a guarded transition: a field predicate plus a prior-flag
// precondition, producing a new flag and/or removing an existing one.
type Rule struct {
	Name string `yaml:"name" json:"name"`

	Operator       int              `yaml:"operator" json:"operator" validate:"required,is-operator-code"`
	FieldCheckList []FieldMatchSpec `yaml:"field_check_list,omitempty" json:"field_check_list,omitempty" validate:"dive"`

	PrevFlag    string `yaml:"prev_flag,omitempty" json:"prev_flag,omitempty"`
	CurrentFlag string `yaml:"current_flag,omitempty" json:"current_flag,omitempty"`
	RemoveFlag  string `yaml:"remove_flag,omitempty" json:"remove_flag,omitempty"`

	PluginNames string `yaml:"plugin_names,omitempty" json:"plugin_names,omitempty"`

	// Extra, plugin-owned fields. ThresholdLifetime consumes
	// Threshold/Lifetime; TimedFlag consumes Delay/Expire; MultiFlag
	// consumes PrevFlags/RemoveFlags/MultiFlagOperator; MultiPlugin
	// consumes MultiPluginMode. The core never reads these itself.
	Threshold         int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Lifetime          int      `yaml:"lifetime,omitempty" json:"lifetime,omitempty"`
	Delay             float64  `yaml:"delay,omitempty" json:"delay,omitempty"`
	Expire            float64  `yaml:"expire,omitempty" json:"expire,omitempty"`
	PrevFlags         []string `yaml:"prev_flags,omitempty" json:"prev_flags,omitempty"`
	RemoveFlags       []string `yaml:"remove_flags,omitempty" json:"remove_flags,omitempty"`
	MultiFlagOperator int      `yaml:"multi_flag_operator,omitempty" json:"multi_flag_operator,omitempty"`
	MultiPluginMode   int      `yaml:"multi_plugin_mode,omitempty" json:"multi_plugin_mode,omitempty"`
}

// Hit records one successful rule evaluation against one record.
type Hit struct {
	Record       Record
	Rule         Rule
	PriorPayload any
	CurrentFlag  string
	NewPayload   any
}

// Match codes for FieldMatchSpec.MatchCode (absolute value).
const (
	MatchEqual            = 1
	MatchTextContains      = 2
	MatchRegex             = 3
	MatchGreaterThan       = 4
	MatchLengthEqual       = 5
	MatchLengthGreaterThan = 6
)

// Rule.Operator aggregation codes.
const (
	OpAND = 1
	OpOR  = 2
)
