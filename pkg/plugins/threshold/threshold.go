// Package threshold implements the ThresholdLifetime plugin (§4.7):
// counter-gated flag activation with a bounded number of subsequent
// fires, layered on top of the engine's FlagStore without modifying it.
package threshold

import (
	"sync"

	"tflow/pkg/engine"
)

// cacheItem mirrors the reference implementation's CacheItem: it tracks
// how many more qualifying hits are needed before the flag becomes
// effective (Threshold) and how many effective fires remain (Lifetime).
// Once retired, the entry is kept (valid=false) rather than deleted, so
// a retired flag never resets back to Pending on a later match.
type cacheItem struct {
	threshold int
	lifetime  int
	payload   any
	valid     bool
}

// consumeThreshold reports whether the threshold is already used up
// (Threshold<=0 means "effective immediately"); otherwise it counts this
// hit toward the threshold and the flag is not yet effective.
func (c *cacheItem) consumeThreshold() (effective bool) {
	if c.threshold <= 0 {
		return true
	}
	c.threshold--
	return false
}

// consumeLifetime decrements lifetime once effective; Lifetime==0 means
// "permanent" (never retires via lifetime exhaustion).
func (c *cacheItem) consumeLifetime() (stillValid bool) {
	if c.lifetime == 0 {
		return true
	}
	c.lifetime--
	return c.lifetime > 0
}

// Plugin is the ThresholdLifetime plugin. It owns a private
// flag -> cacheItem map independent of the engine's FlagStore.
type Plugin struct {
	mu    sync.Mutex
	host  engine.PluginHost
	cache map[string]*cacheItem
}

// New constructs a ThresholdLifetime plugin bound to host.
func New(host engine.PluginHost) *Plugin {
	return &Plugin{host: host, cache: make(map[string]*cacheItem)}
}

// Peek reports whether flag is currently valid without consuming
// threshold or lifetime (supplemented from original_source's FlagPeek).
func (p *Plugin) Peek(flag string) (payload any, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, exists := p.cache[flag]
	if !exists || !item.valid {
		return nil, false
	}
	return item.payload, true
}

// checkPrev consumes one qualifying hit against an already-produced
// flag (the PrevFlag a dependent rule is waiting on).
func (p *Plugin) checkPrev(flag string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, exists := p.cache[flag]
	if !exists || !item.valid {
		return nil, false
	}
	return p.consume(flag, item)
}

// gateCurrent consumes one qualifying hit against the flag a rule is
// itself trying to produce, creating the cache entry on first sight.
func (p *Plugin) gateCurrent(flag string, threshold, lifetime int, priorPayload any) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, exists := p.cache[flag]
	if !exists {
		if threshold == 0 && lifetime == 0 {
			// No counters configured: behave as an ungated flag.
			return priorPayload, true
		}
		item = &cacheItem{threshold: threshold, lifetime: lifetime, payload: priorPayload, valid: true}
		p.cache[flag] = item
		if item.threshold <= 0 {
			return p.consume(flag, item)
		}
		item.threshold-- // first sighting counts toward the threshold
		return nil, false
	}
	if !item.valid {
		return nil, false // already retired
	}
	return p.consume(flag, item)
}

// consume applies one qualifying hit to an existing, valid entry:
// threshold gating first, then lifetime bookkeeping on every hit after
// the threshold has reached zero.
func (p *Plugin) consume(flag string, item *cacheItem) (any, bool) {
	if !item.consumeThreshold() {
		return nil, false // still pending
	}
	if !item.consumeLifetime() {
		item.valid = false
		p.host.RemoveFlag(flag)
		return item.payload, true // final fire, then retired
	}
	return item.payload, true
}

// RemoveFlag drops the cache entry for flag and forwards to the engine,
// mirroring AnalyzerPluginThresholdLifetime.RemoveFlag.
func (p *Plugin) RemoveFlag(flag string) {
	p.mu.Lock()
	delete(p.cache, flag)
	p.mu.Unlock()
	p.host.RemoveFlag(flag)
}

// AnalyseSingleData implements engine.Plugin. A rule with a non-empty
// PrevFlag is gated by the producing flag's remaining threshold/
// lifetime; an entry rule (empty PrevFlag) gates its own CurrentFlag
// the same way, so a rule can require N+1 matching records before its
// first fire even with no upstream dependency (§8 invariant 6, S4).
func (p *Plugin) AnalyseSingleData(rec engine.Record, rule *engine.Rule) (bool, any) {
	if !p.host.FieldCheck(rec, rule.FieldCheckList, rule.Operator) {
		return false, nil
	}

	if rule.PrevFlag != "" {
		prev, _ := p.host.FlagGenerator(rec, rule.PrevFlag)
		payload, hit := p.checkPrev(prev)
		if !hit {
			return false, nil
		}
		return true, payload
	}

	curFlag, hasCur := p.host.FlagGenerator(rec, rule.CurrentFlag)
	if !hasCur || curFlag == "" {
		return true, nil
	}
	payload, hit := p.gateCurrent(curFlag, rule.Threshold, rule.Lifetime, nil)
	return hit, payload
}

func (p *Plugin) PluginInstructions() string {
	return "ThresholdLifetime: gates flag activation behind a hit counter (Threshold) and bounds the number of subsequent fires (Lifetime)."
}

func (p *Plugin) ExtraRuleFields() map[string]string {
	return map[string]string{
		"Threshold": "int: number of qualifying hits required before the flag becomes effective (0 = immediate)",
		"Lifetime":  "int: number of effective fires allowed before retirement (0 = permanent)",
	}
}

// Clear drops all sidecar state (engine.Engine.Clear calls this via the
// optional Clear() interface).
func (p *Plugin) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*cacheItem)
}
