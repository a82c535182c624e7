package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MetricsSink receives engine activity for external reporting (e.g.
// pkg/engmetrics' CloudWatch collector). All methods must tolerate a
// nil dimensions map and must not block the analysis loop.
type MetricsSink interface {
	RecordRuleEvaluated(ruleName string, hit bool, dims map[string]string)
	RecordFlagInstalled(dims map[string]string)
	RecordAnalyseDuration(d time.Duration, dims map[string]string)
	RecordRecordsProcessed(count int, dims map[string]string)
}

// HostRef is an indirection that lets a Plugin be constructed with a
// PluginHost before the *Engine it will be registered on exists yet:
// WithPlugin needs an already-built Plugin, but a Plugin needs a host,
// and the host is the Engine that NewEngine is still constructing.
// Build plugins against a zero-value HostRef, pass them to
// WithPlugin, then set Engine on the HostRef once NewEngine returns —
// plugins never call host methods before the first Analyse.
type HostRef struct {
	Engine *Engine
}

func (h *HostRef) FieldCheck(rec Record, checks []FieldMatchSpec, operator int) bool {
	return h.Engine.FieldCheck(rec, checks, operator)
}

func (h *HostRef) FlagGenerator(rec Record, tpl string) (string, bool) {
	return h.Engine.FlagGenerator(rec, tpl)
}

func (h *HostRef) RemoveFlag(flag string) { h.Engine.RemoveFlag(flag) }

func (h *HostRef) PluginExec(name string, rec Record, rule *Rule) (bool, any) {
	return h.Engine.PluginExec(name, rec, rule)
}

func (h *HostRef) Flags() *FlagStore { return h.Engine.Flags() }

// ActionFunc is the user-supplied hit callback (§6 "Action callback
// contract"). Returning nil suppresses installation/emission for this
// rule on this record only.
type ActionFunc func(ctx context.Context, rec Record, rule Rule, priorPayload any, currentFlag string) any

// DefaultAction mirrors the reference implementation's
// _DummyActionFunc: a fresh unique identifier, used whenever the caller
// does not supply an ActionFunc.
func DefaultAction(context.Context, Record, Rule, any, string) any {
	return uuid.New().String()
}

// Engine runs the main per-record analysis loop (§4.5). One Engine
// instance is single-threaded cooperative: Analyse processes one record
// to completion before returning (§5).
type Engine struct {
	mu    sync.Mutex
	flags *FlagStore
	rules []Rule
	chain *PluginChain

	registry     map[string]Plugin
	byteDecoding string
	action       ActionFunc
	metrics      MetricsSink
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPlugin registers a named plugin, analogous to the reference
// implementation's directory-scanned plugin loader (§6) — Go has no
// idiomatic equivalent to loading arbitrary modules from a directory at
// runtime, so the registry is built explicitly by the caller instead
// (see DESIGN.md).
func WithPlugin(name string, p Plugin) Option {
	return func(e *Engine) { e.registry[name] = p }
}

// WithAction overrides the default action callback.
func WithAction(a ActionFunc) Option {
	return func(e *Engine) { e.action = a }
}

// WithByteDecoding sets the byte-string decoding scheme used when
// rendering templates and evaluating byte-typed field values. Defaults
// to "utf-16", matching the reference implementation's default.
func WithByteDecoding(scheme string) Option {
	return func(e *Engine) { e.byteDecoding = scheme }
}

// WithMetrics attaches a MetricsSink; rule/flag activity is reported to
// it from Analyse. Unset by default (no-op).
func WithMetrics(m MetricsSink) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs an engine over the given rule set in declaration
// order.
func NewEngine(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		flags:        NewFlagStore(),
		rules:        rules,
		registry:     make(map[string]Plugin),
		byteDecoding: "utf-16",
		action:       DefaultAction,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.chain = NewPluginChain(e.registry, NewRuleEvaluator(e.flags, e.byteDecoding))
	return e
}

// Flags exposes the flag store to plugins via the PluginHost interface.
func (e *Engine) Flags() *FlagStore { return e.flags }

// FieldCheck exposes field-list aggregation to plugins (PluginHost).
func (e *Engine) FieldCheck(rec Record, checks []FieldMatchSpec, operator int) bool {
	return EvalFieldList(rec, checks, operator, e.byteDecoding)
}

// FlagGenerator exposes template rendering to plugins (PluginHost).
func (e *Engine) FlagGenerator(rec Record, tpl string) (string, bool) {
	return RenderTemplate(tpl, rec, e.byteDecoding)
}

// RemoveFlag deletes a flag from the store; safe to call with a flag
// that is absent.
func (e *Engine) RemoveFlag(flag string) {
	e.flags.Remove(flag)
}

// PluginExec lets one plugin re-enter another named plugin directly
// (supplemented from original_source/AnalyseLib.py's PluginExec; used
// by MultiPlugin).
func (e *Engine) PluginExec(name string, rec Record, rule *Rule) (bool, any) {
	p, ok := e.registry[name]
	if !ok {
		return false, nil
	}
	return p.AnalyseSingleData(rec, rule)
}

// Analyse runs one record through every rule in declaration order
// (§4.5) and returns the set of newly produced payloads.
func (e *Engine) Analyse(ctx context.Context, rec Record) []any {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var hits []any
	for i := range e.rules {
		rule := e.rules[i]
		hit, prior := e.chain.Evaluate(rec, &rule)
		if e.metrics != nil {
			e.metrics.RecordRuleEvaluated(rule.Name, hit, nil)
		}
		if !hit {
			continue
		}

		curFlag, _ := RenderTemplate(rule.CurrentFlag, rec, e.byteDecoding)
		remFlag, _ := RenderTemplate(rule.RemoveFlag, rec, e.byteDecoding)

		newPayload := e.action(ctx, rec, rule, prior, curFlag)
		if newPayload == nil {
			continue
		}

		if curFlag != "" && !e.flags.Has(curFlag) {
			e.flags.Remove(remFlag)
			e.flags.Install(curFlag, newPayload)
			hits = append(hits, newPayload)
			if e.metrics != nil {
				e.metrics.RecordFlagInstalled(nil)
			}
		} else {
			// Conflict policy (§4.5 step 6): an empty CurrentFlag or an
			// already-installed one means the rule still counts as
			// evaluated, but no installation, removal, or emission
			// happens.
			log.Ctx(ctx).Debug().
				Str("rule", rule.Name).
				Str("flag", curFlag).
				Msg("no current flag to install, or already installed; conflict policy applied")
		}
	}
	if e.metrics != nil {
		e.metrics.RecordAnalyseDuration(time.Since(start), nil)
		e.metrics.RecordRecordsProcessed(1, nil)
	}
	return hits
}

// Clear purges the flag store and every plugin's sidecar state (§4, §5
// "On Clear(): cancel all outstanding timers").
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.Clear()
	for name, p := range e.registry {
		if c, ok := p.(interface{ Clear() }); ok {
			c.Clear()
		} else {
			log.Debug().Str("plugin", name).Msg("plugin does not implement Clear; skipping sidecar reset")
		}
	}
}

// Validate reports a descriptive error for malformed top-level input
// (§7 "Invalid input type"): a nil rule set, or a rule referencing a
// PluginNames entry with no registered plugin.
func (e *Engine) Validate() error {
	if e.rules == nil {
		return fmt.Errorf("engine: rule set is nil")
	}
	for _, r := range e.rules {
		for _, name := range splitPluginNames(r.PluginNames) {
			if _, ok := e.registry[name]; !ok {
				return fmt.Errorf("engine: rule %q references unregistered plugin %q", r.Name, name)
			}
		}
	}
	return nil
}
