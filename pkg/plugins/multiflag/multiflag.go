// Package multiflag implements the MultiFlag plugin (§4.7): a rule can
// depend on several prior flags at once (PrevFlags), combined under
// MultiFlagOperator, and remove several flags at once (RemoveFlags) on
// success.
package multiflag

import "tflow/pkg/engine"

// Sign-negation operator codes for MultiFlagOperator.
const (
	OperatorAND = 1
	OperatorOR  = 2
)

// Plugin is the MultiFlag plugin. It holds no sidecar state; all of its
// bookkeeping is derived fresh from the host's FlagStore each call.
type Plugin struct {
	host engine.PluginHost
}

// New constructs a MultiFlag plugin bound to host.
func New(host engine.PluginHost) *Plugin {
	return &Plugin{host: host}
}

// AnalyseSingleData implements engine.Plugin. With at most one
// PrevFlags entry, it delegates to the same single-flag semantics as
// the default evaluator; otherwise it evaluates the field check itself
// and combines every rendered PrevFlags lookup under MultiFlagOperator.
// On success, every RemoveFlags entry is removed on either path.
func (p *Plugin) AnalyseSingleData(rec engine.Record, rule *engine.Rule) (bool, any) {
	var hit bool
	var payload any
	if len(rule.PrevFlags) <= 1 {
		hit, payload = p.singleFlagPath(rec, rule)
	} else {
		if !p.host.FieldCheck(rec, rule.FieldCheckList, rule.Operator) {
			return false, nil
		}
		hit, payload = p.checkMulti(rec, rule)
	}
	if !hit {
		return false, nil
	}

	for _, tpl := range rule.RemoveFlags {
		flag, ok := p.host.FlagGenerator(rec, tpl)
		if ok && flag != "" {
			p.host.RemoveFlag(flag)
		}
	}

	return true, payload
}

func (p *Plugin) singleFlagPath(rec engine.Record, rule *engine.Rule) (bool, any) {
	if !p.host.FieldCheck(rec, rule.FieldCheckList, rule.Operator) {
		return false, nil
	}
	if len(rule.PrevFlags) == 0 {
		if rule.PrevFlag == "" {
			return true, nil
		}
		prev, _ := p.host.FlagGenerator(rec, rule.PrevFlag)
		payload, ok := p.host.Flags().Get(prev)
		if !ok {
			return false, nil
		}
		return true, payload
	}

	flag, _ := p.host.FlagGenerator(rec, rule.PrevFlags[0])
	payload, ok := p.host.Flags().Get(flag)
	if !ok {
		return false, nil
	}
	return true, payload
}

// checkMulti implements MultiPrevFlagCheck: combine every PrevFlags hit
// under MultiFlagOperator's sign-negated AND/OR. A negative operator
// inverts the combined result and, when that inverted result holds,
// returns (true,nil) without surfacing a payload; a positive operator
// that holds surfaces the payload when exactly one PrevFlags entry was
// found, collapsing to (true,nil) on more than one. A combined result
// that does not hold returns (false,nil).
func (p *Plugin) checkMulti(rec engine.Record, rule *engine.Rule) (bool, any) {
	op := rule.MultiFlagOperator
	negate := op < 0
	if negate {
		op = -op
	}
	if op == 0 {
		op = OperatorAND
	}

	var hits []any
	var aggregate bool
	switch op {
	case OperatorOR:
		aggregate = false
	default:
		aggregate = true
	}

	for _, tpl := range rule.PrevFlags {
		flag, _ := p.host.FlagGenerator(rec, tpl)
		payload, ok := p.host.Flags().Get(flag)
		switch op {
		case OperatorOR:
			aggregate = aggregate || ok
		default:
			aggregate = aggregate && ok
		}
		if ok {
			hits = append(hits, payload)
		}
	}

	if negate {
		// Negated operator: the inverted combined predicate decides the
		// rule, without surfacing a specific payload.
		if aggregate {
			return false, nil
		}
		return true, nil
	}

	if !aggregate {
		return false, nil
	}
	if len(hits) == 1 {
		return true, hits[0]
	}
	return true, nil
}

func (p *Plugin) PluginInstructions() string {
	return "MultiFlag: evaluates several PrevFlags at once, combined under MultiFlagOperator, removing every RemoveFlags entry on success."
}

func (p *Plugin) ExtraRuleFields() map[string]string {
	return map[string]string{
		"PrevFlags":         "[]string: templates for multiple prior-flag preconditions",
		"RemoveFlags":       "[]string: templates for flags removed on a successful hit",
		"MultiFlagOperator": "int: |1|=AND |2|=OR over PrevFlags hits, sign negates the combined result",
	}
}
