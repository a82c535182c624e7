package ruleconfig

import "github.com/segmentio/encoding/json"

// marshalJSON uses the same fast segmentio JSON encoder that cmd/tflow
// uses for its invocation payload, rather than encoding/json.
func marshalJSON(rs *RuleSet) ([]byte, error) {
	return json.Marshal(rs)
}
