package ruleconfig

import (
	"context"

	"tflow/pkg/engine"
)

// DryRunResult summarizes how a rule set behaves over sample records,
// without installing anything into a live FlagStore or invoking the
// action function for real (the teacher's VersionedConfiguration.DryRun
// equivalent, generalized from a single drop/keep decision to an
// engine hit count per record).
type DryRunResult struct {
	TotalRecords int
	HitRecords   int
	TotalHits    int
	RuleHits     map[string]int
}

// DryRun builds a scratch engine.Engine from the rule set (fresh
// FlagStore, no plugins registered) and analyses each sample record,
// tallying which rules fire. A rule counts as firing whenever the
// engine calls the action for it, whether or not it installs a flag.
// A rule that names any plugin never fires in a dry run: with no
// plugin registered, its plugin chain reports no hit, so its RuleHits
// entry stays at 0.
func (rs *RuleSet) DryRun(ctx context.Context, samples []engine.Record) *DryRunResult {
	result := &DryRunResult{
		TotalRecords: len(samples),
		RuleHits:     make(map[string]int),
	}
	for _, r := range rs.Rules {
		result.RuleHits[r.Name] = 0
	}

	fired := 0
	eng := engine.NewEngine(rs.Rules, engine.WithAction(func(_ context.Context, _ engine.Record, rule engine.Rule, _ any, _ string) any {
		result.RuleHits[rule.Name]++
		fired++
		return true // a non-nil sentinel payload; DryRun never persists it
	}))

	for _, rec := range samples {
		fired = 0
		eng.Analyse(ctx, rec)
		if fired > 0 {
			result.HitRecords++
			result.TotalHits += fired
		}
	}
	return result
}
