package engine

import (
	"reflect"
	"strings"
)

// Plugin intercepts single-rule evaluation (§6 "Plugin contract"). A
// plugin is instantiated with a reference to the engine so it can call
// back into FieldCheck/FlagGenerator/RemoveFlag/PluginExec.
type Plugin interface {
	// AnalyseSingleData replaces RuleEvaluator.Evaluate for rules that
	// name this plugin. rule is a pointer so a plugin may rewrite it
	// (as Slicer does) and have later plugins in a serial composition
	// observe the mutation, per §4.6.
	AnalyseSingleData(rec Record, rule *Rule) (hit bool, payload any)

	// PluginInstructions documents the plugin for operators.
	PluginInstructions() string

	// ExtraRuleFields describes the rule fields this plugin consumes,
	// for rule-schema introspection (name -> human description).
	ExtraRuleFields() map[string]string
}

// PluginHost is the callback surface a plugin receives at construction,
// generalizing the Python reference's "pass a reference to the engine"
// design (§9) without creating an import cycle: plugins depend on this
// narrow interface, the engine satisfies it.
type PluginHost interface {
	FieldCheck(rec Record, checks []FieldMatchSpec, operator int) bool
	FlagGenerator(rec Record, tpl string) (string, bool)
	RemoveFlag(flag string)
	PluginExec(name string, rec Record, rule *Rule) (bool, any)
	Flags() *FlagStore
}

// PluginChain resolves a rule's PluginNames and runs serial AND
// composition over the named plugins (§4.6).
type PluginChain struct {
	registry map[string]Plugin
	fallback *RuleEvaluator
}

// NewPluginChain builds a chain over a plugin registry, falling back to
// the default evaluator when a rule names no plugins.
func NewPluginChain(registry map[string]Plugin, fallback *RuleEvaluator) *PluginChain {
	return &PluginChain{registry: registry, fallback: fallback}
}

type pluginResult struct {
	hit     bool
	payload any
}

// Evaluate implements §4.6: split PluginNames on ';', run each plugin in
// order, accumulate (hit,payload) tuples, stop at the first false. If
// the surviving set collapses to exactly one distinct tuple, return it;
// any disagreement among plugins that all reported success is failure.
func (c *PluginChain) Evaluate(rec Record, rule *Rule) (hit bool, payload any) {
	names := splitPluginNames(rule.PluginNames)
	if len(names) == 0 {
		return c.fallback.Evaluate(rec, *rule)
	}

	var seen []pluginResult
	for _, name := range names {
		p, ok := c.registry[name]
		if !ok {
			// Unknown plugin name: treat as a load failure the engine
			// already swallowed (§7 "plugin raises" policy) — skip it.
			continue
		}
		h, pl := p.AnalyseSingleData(rec, rule)
		if !h {
			return false, nil
		}
		seen = append(seen, pluginResult{hit: h, payload: pl})
	}

	r, ok := collapseResults(seen)
	if !ok {
		return false, nil
	}
	return r.hit, r.payload
}

// collapseResults implements "if the set collapses to exactly one
// distinct tuple" (§4.6) without using payload as a map key: payload
// is an unrestricted duck-typed value (§6) and may be a slice, map, or
// func — none of which are comparable, so a map keyed on pluginResult
// would panic. reflect.DeepEqual tolerates any of them.
func collapseResults(results []pluginResult) (pluginResult, bool) {
	if len(results) == 0 {
		return pluginResult{}, false
	}
	first := results[0]
	for _, r := range results[1:] {
		if r.hit != first.hit || !reflect.DeepEqual(r.payload, first.payload) {
			return pluginResult{}, false
		}
	}
	return first, true
}

func splitPluginNames(names string) []string {
	if names == "" {
		return nil
	}
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
