// Package multiplugin implements the MultiPlugin plugin (§4.7): it
// composes a rule's own PluginNames list either in parallel (each named
// plugin sees an independent copy of record/rule) or serially (each
// plugin sees the mutation left behind by the previous one).
package multiplugin

import (
	"maps"
	"reflect"
	"strings"

	"tflow/pkg/engine"
)

const (
	ModeParallel = 0
	ModeSerial   = 1
)

// Plugin is the MultiPlugin plugin. name is this plugin's own
// registered name, used to reject self-nesting.
type Plugin struct {
	host engine.PluginHost
	exec func(name string, rec engine.Record, rule *engine.Rule) (bool, any)
	name string
}

// New constructs a MultiPlugin plugin bound to host, re-entering other
// plugins via exec (ordinarily engine.Engine.PluginExec).
func New(host engine.PluginHost, exec func(string, engine.Record, *engine.Rule) (bool, any), name string) *Plugin {
	return &Plugin{host: host, exec: exec, name: name}
}

type result struct {
	hit     bool
	payload any
}

// AnalyseSingleData implements engine.Plugin. PluginNames naming this
// plugin itself is ignored (nesting is disallowed, validated at rule
// load time — see pkg/ruleconfig), not re-entered here as a defensive
// second guard against infinite recursion.
func (p *Plugin) AnalyseSingleData(rec engine.Record, rule *engine.Rule) (bool, any) {
	names := splitNames(rule.PluginNames)

	switch rule.MultiPluginMode {
	case ModeSerial:
		return p.runSerial(rec, rule, names)
	default:
		return p.runParallel(rec, rule, names)
	}
}

func (p *Plugin) runParallel(rec engine.Record, rule *engine.Rule, names []string) (bool, any) {
	var seen []result
	for _, name := range names {
		if name == p.name {
			continue
		}
		recCopy := maps.Clone(rec)
		ruleCopy := *rule
		ruleCopy.FieldCheckList = append([]engine.FieldMatchSpec(nil), rule.FieldCheckList...)

		h, payload := p.exec(name, recCopy, &ruleCopy)
		if !h {
			return false, nil
		}
		seen = append(seen, result{hit: h, payload: payload})
	}

	r, ok := collapseResults(seen)
	if !ok {
		return false, nil
	}
	return r.hit, r.payload
}

// collapseResults mirrors pkg/engine's PluginChain.collapseResults:
// payload is an unrestricted duck-typed value (slice, map, func are
// all legal) so results cannot be deduplicated through a map key
// without risking a panic on an unhashable type. reflect.DeepEqual
// tolerates any of them.
func collapseResults(results []result) (result, bool) {
	if len(results) == 0 {
		return result{}, false
	}
	first := results[0]
	for _, r := range results[1:] {
		if r.hit != first.hit || !reflect.DeepEqual(r.payload, first.payload) {
			return result{}, false
		}
	}
	return first, true
}

func (p *Plugin) runSerial(rec engine.Record, rule *engine.Rule, names []string) (bool, any) {
	var last result
	ran := false
	for _, name := range names {
		if name == p.name {
			continue
		}
		h, payload := p.exec(name, rec, rule)
		if !h {
			return false, nil
		}
		last = result{hit: h, payload: payload}
		ran = true
	}
	if !ran {
		return false, nil
	}
	return last.hit, last.payload
}

func splitNames(names string) []string {
	parts := strings.Split(names, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (p *Plugin) PluginInstructions() string {
	return "MultiPlugin: composes the named plugins in parallel (independent copies) or serially (shared mutation), per MultiPluginMode. Self-nesting is disallowed."
}

func (p *Plugin) ExtraRuleFields() map[string]string {
	return map[string]string{
		"MultiPluginMode": "int: 0=parallel (each named plugin gets an independent copy of record/rule), 1=serial (plugins share mutation)",
	}
}
