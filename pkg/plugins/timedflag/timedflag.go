// Package timedflag implements the TimedFlag plugin (§4.7): a flag is
// not considered live until Delay seconds after it would be installed,
// and is forcibly retired Expire seconds after becoming live. Both
// timers run on background goroutines and must serialize safely with
// the engine and tolerate cancellation (§5).
package timedflag

import (
	"sync"
	"time"

	"tflow/pkg/engine"
)

// timerState tracks the outstanding background work for one flag. gen
// is bumped on every (re-)arm so a fired-but-superseded callback can
// recognize it is stale and become a no-op, per §5's cancellation
// requirement.
type timerState struct {
	gen         uint64
	delayTimer  *time.Timer
	expireTimer *time.Timer
}

// Plugin is the TimedFlag plugin.
type Plugin struct {
	mu     sync.Mutex
	host   engine.PluginHost
	live   map[string]bool
	timers map[string]*timerState
}

// New constructs a TimedFlag plugin bound to host.
func New(host engine.PluginHost) *Plugin {
	return &Plugin{
		host:   host,
		live:   make(map[string]bool),
		timers: make(map[string]*timerState),
	}
}

// IsLive reports whether flag is currently in the live-set, i.e. Delay
// has elapsed and Expire has not.
func (p *Plugin) IsLive(flag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[flag]
}

// AnalyseSingleData implements engine.Plugin. A PrevFlag precondition is
// checked against the live-set rather than raw FlagStore presence; on a
// hit, the rule's own CurrentFlag is armed with its Delay/Expire timers.
func (p *Plugin) AnalyseSingleData(rec engine.Record, rule *engine.Rule) (bool, any) {
	if !p.host.FieldCheck(rec, rule.FieldCheckList, rule.Operator) {
		return false, nil
	}

	var prior any
	if rule.PrevFlag != "" {
		prev, _ := p.host.FlagGenerator(rec, rule.PrevFlag)
		if !p.IsLive(prev) {
			return false, nil
		}
		payload, _ := p.host.Flags().Get(prev)
		prior = payload
	}

	curFlag, hasCur := p.host.FlagGenerator(rec, rule.CurrentFlag)
	if hasCur && curFlag != "" {
		p.arm(curFlag, rule.Delay, rule.Expire)
	}

	return true, prior
}

// arm (re-)schedules delay/expire for flag, cancelling any timers
// already outstanding for it (§5 "conflict-with-reset").
func (p *Plugin) arm(flag string, delaySec, expireSec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, exists := p.timers[flag]
	if !exists {
		st = &timerState{}
		p.timers[flag] = st
	}
	st.gen++
	gen := st.gen
	if st.delayTimer != nil {
		st.delayTimer.Stop()
		st.delayTimer = nil
	}
	if st.expireTimer != nil {
		st.expireTimer.Stop()
		st.expireTimer = nil
	}

	if delaySec > 0 {
		st.delayTimer = time.AfterFunc(durationOf(delaySec), func() {
			p.onDelayElapsed(flag, gen, expireSec)
		})
		return
	}

	// Delay of zero: live immediately.
	p.live[flag] = true
	if expireSec > 0 {
		st.expireTimer = time.AfterFunc(durationOf(expireSec), func() {
			p.onExpire(flag, gen)
		})
	}
}

func (p *Plugin) onDelayElapsed(flag string, gen uint64, expireSec float64) {
	p.mu.Lock()
	st, exists := p.timers[flag]
	if !exists || st.gen != gen {
		p.mu.Unlock()
		return // superseded or cleared
	}
	p.live[flag] = true
	if expireSec > 0 {
		st.expireTimer = time.AfterFunc(durationOf(expireSec), func() {
			p.onExpire(flag, gen)
		})
	}
	p.mu.Unlock()
}

func (p *Plugin) onExpire(flag string, gen uint64) {
	p.mu.Lock()
	st, exists := p.timers[flag]
	if !exists || st.gen != gen {
		p.mu.Unlock()
		return // superseded or cleared
	}
	delete(p.live, flag)
	delete(p.timers, flag)
	p.mu.Unlock()
	p.host.RemoveFlag(flag)
}

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func (p *Plugin) PluginInstructions() string {
	return "TimedFlag: a flag becomes live Delay seconds after it is produced and is retired Expire seconds after becoming live."
}

func (p *Plugin) ExtraRuleFields() map[string]string {
	return map[string]string{
		"Delay":  "float: seconds after production before the flag is considered live",
		"Expire": "float: seconds after becoming live before the flag is forcibly retired",
	}
}

// Clear cancels every outstanding timer and resets the live-set (§5 "On
// Clear(): cancel all outstanding timers").
func (p *Plugin) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.timers {
		if st.delayTimer != nil {
			st.delayTimer.Stop()
		}
		if st.expireTimer != nil {
			st.expireTimer.Stop()
		}
	}
	p.timers = make(map[string]*timerState)
	p.live = make(map[string]bool)
}
