package engine

// EvalFieldList aggregates a rule's FieldCheckList under its Operator
// (§4.1). An empty list passes trivially; if every spec referenced a
// field absent from the record, the aggregate is false regardless of
// operator — a rule cannot fire on a record none of its specs apply to.
func EvalFieldList(rec Record, checks []FieldMatchSpec, operator int, byteDecoding string) bool {
	if len(checks) == 0 {
		return true
	}

	negate := operator < 0
	op := operator
	if negate {
		op = -op
	}

	applicable := 0
	var aggregate bool
	switch op {
	case OpOR:
		aggregate = false
	default: // OpAND and any other positive code default to AND semantics
		aggregate = true
	}

	for _, spec := range checks {
		result, ok := EvalFieldMatch(rec, spec, byteDecoding)
		if !ok {
			continue
		}
		applicable++
		switch op {
		case OpOR:
			aggregate = aggregate || result
		default:
			aggregate = aggregate && result
		}
	}

	if applicable == 0 {
		return false
	}
	if negate {
		return !aggregate
	}
	return aggregate
}

// RuleEvaluator is the default single-rule test (§4.4): field predicate
// first, then the prior-flag precondition.
type RuleEvaluator struct {
	Flags        *FlagStore
	ByteDecoding string
}

// NewRuleEvaluator builds the default evaluator over the given store.
func NewRuleEvaluator(flags *FlagStore, byteDecoding string) *RuleEvaluator {
	return &RuleEvaluator{Flags: flags, ByteDecoding: byteDecoding}
}

// Evaluate implements §4.4 steps 1-4.
func (e *RuleEvaluator) Evaluate(rec Record, rule Rule) (hit bool, priorPayload any) {
	if !EvalFieldList(rec, rule.FieldCheckList, rule.Operator, e.ByteDecoding) {
		return false, nil
	}

	if rule.PrevFlag == "" {
		return true, nil
	}

	prev, _ := RenderTemplate(rule.PrevFlag, rec, e.ByteDecoding)
	payload, ok := e.Flags.Get(prev)
	if !ok {
		return false, nil
	}
	return true, payload
}
