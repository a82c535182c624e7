// Package slicer implements the Slicer plugin (§4.7): it rewrites
// FieldCheckList entries carrying SliceFrom/SliceTo into a synthetic
// boolean field computed over a slice of the target value, then
// delegates to the default evaluator.
package slicer

import (
	"encoding/base64"
	"fmt"
	"strings"

	"tflow/pkg/engine"
)

// Plugin is the Slicer plugin. It holds no sidecar state of its own; it
// only rewrites the record and rule it is given before delegating.
type Plugin struct {
	host engine.PluginHost
	name string
}

// New constructs a Slicer plugin bound to host. name is the plugin's
// registered name, used as the synthesized-field prefix
// (<name>_Result_<i>), matching the reference implementation's
// <PluginName>_Result_<i> convention.
func New(host engine.PluginHost, name string) *Plugin {
	return &Plugin{host: host, name: name}
}

// AnalyseSingleData implements engine.Plugin. Only Equal and
// TextContains are supported for sliced fields (§4.7); any other match
// code on a sliced spec is left untouched and falls through to the
// default evaluator's normal (non-sliced) handling.
func (p *Plugin) AnalyseSingleData(rec engine.Record, rule *engine.Rule) (bool, any) {
	checks := rule.FieldCheckList

	for i, spec := range checks {
		if spec.SliceFrom == nil && spec.SliceTo == nil {
			continue
		}
		code := spec.MatchCode
		if code < 0 {
			code = -code
		}
		if code != engine.MatchEqual && code != engine.MatchTextContains {
			continue
		}

		synthKey := fmt.Sprintf("%s_Result_%d", p.name, i)
		result := p.evalSliced(rec, spec, code)
		// Mutate the shared record map and the rule's own field-check
		// list in place, so a later plugin in a serial composition
		// observes the rewrite (§4.6).
		rec[synthKey] = result
		checks[i] = engine.FieldMatchSpec{
			FieldName:    synthKey,
			MatchContent: true,
			MatchCode:    engine.MatchEqual,
		}
	}
	rule.FieldCheckList = checks

	if !p.host.FieldCheck(rec, rule.FieldCheckList, rule.Operator) {
		return false, nil
	}

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

func (p *Plugin) evalSliced(rec engine.Record, spec engine.FieldMatchSpec, code int) bool {
	target, present := rec[spec.FieldName]
	if !present {
		return false
	}

	sliced, ok := sliceValue(target, spec.SliceFrom, spec.SliceTo)
	if !ok {
		return false
	}

	switch code {
	case engine.MatchEqual:
		return sliceEquals(sliced, spec.MatchContent)
	case engine.MatchTextContains:
		return sliceContains(sliced, spec.MatchContent)
	default:
		return false
	}
}

func sliceValue(target any, from, to *int) (any, bool) {
	switch t := target.(type) {
	case string:
		lo, hi := boundsOf(len(t), from, to)
		if lo < 0 || hi > len(t) || lo > hi {
			return "", false
		}
		return t[lo:hi], true
	case []byte:
		lo, hi := boundsOf(len(t), from, to)
		if lo < 0 || hi > len(t) || lo > hi {
			return nil, false
		}
		return t[lo:hi], true
	default:
		return nil, false
	}
}

func boundsOf(length int, from, to *int) (int, int) {
	lo, hi := 0, length
	if from != nil {
		lo = *from
	}
	if to != nil {
		hi = *to
	}
	return lo, hi
}

func sliceEquals(sliced, matchContent any) bool {
	if b, isBytes := sliced.([]byte); isBytes {
		decoded, ok := base64MatchContent(matchContent)
		if !ok {
			return false
		}
		return string(b) == decoded
	}
	return fmt.Sprint(sliced) == fmt.Sprint(matchContent)
}

// sliceContains tests whether the sliced value is contained in
// MatchContent — the reverse direction of the main predicate's
// evalTextContains. This mirrors AnalyzerPluginSlicer.py's
// `matchResult = (targetData in matchContent)`, which is coded
// independently of AnalyseLib.py's `_DefaultFieldCheck` TextMatching
// branch (`matchContent in TargetData`) and was never brought in line
// with it upstream.
func sliceContains(sliced, matchContent any) bool {
	var slicedStr, matchStr string
	if b, isBytes := sliced.([]byte); isBytes {
		decoded, ok := base64MatchContent(matchContent)
		if !ok {
			return false
		}
		slicedStr = string(b)
		matchStr = decoded
	} else {
		slicedStr = fmt.Sprint(sliced)
		matchStr = fmt.Sprint(matchContent)
	}
	return strings.Contains(strings.ToLower(matchStr), strings.ToLower(slicedStr))
}

func base64MatchContent(mc any) (string, bool) {
	s, ok := mc.(string)
	if !ok {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (p *Plugin) PluginInstructions() string {
	return "Slicer: evaluates Equal/TextContains against a slice of the target field instead of its full value."
}

func (p *Plugin) ExtraRuleFields() map[string]string {
	return map[string]string{
		"SliceFrom": "int: slice start index applied to the target field before comparison",
		"SliceTo":   "int: slice end index applied to the target field before comparison",
	}
}
