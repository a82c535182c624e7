// Package honeypot is an illustrative, non-core consumer of pkg/engine
// (spec §6): it classifies records by a DataType field, routes each to
// the subset of rules declared for that type, and tracks confirmed
// events through taint propagation across a process/file "black list",
// adapted from original_source/NeoHoney_Analyse.py. The matching
// engine itself has no notion of DataType, taint, or events — all of
// that lives here, on top of engine.Engine.
package honeypot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tflow/pkg/engine"
)

// EventItem is the action payload landed by a critical rule: an
// in-progress or confirmed honeypot event, carrying the behavior
// history that led to it.
type EventItem struct {
	ID               string
	HoneyID          int64
	StartTimestamp   int64
	StartSessionID   string
	StartProcessName string
	AttackType       string
	Level            int
	ContentText      string
	Landed           bool   // true once persisted via EventStore
	PersistedID      string // EventStore-assigned identifier once landed

	dataQueue []engine.Record
}

// AppendContentLine appends one rule's rendered description to the
// event's running narrative (EventItem.AppendContentLine in the
// original).
func (e *EventItem) AppendContentLine(line string) {
	if line == "" {
		return
	}
	e.ContentText += line + "\n"
}

// Notifier broadcasts a landed event's narrative to an external
// channel. *engnotify.Broadcaster satisfies this; a nil Notifier is
// valid (no external broadcast, landing still happens).
type Notifier interface {
	Broadcast(ctx context.Context, message string) error
}

// EventStore persists landed events and their subsequent detail data.
// A nil EventStore is valid: events are tracked in memory only, never
// persisted (Non-goals §1 exclude built-in persistence of engine
// state; this interface keeps persistence strictly opt-in and outside
// the core).
type EventStore interface {
	InsertEvent(ctx context.Context, item *EventItem) (id string, err error)
	AppendDetail(ctx context.Context, eventID string, rec engine.Record, mark string) error
}

// RuleMeta carries the honeypot-specific fields the bare engine.Rule
// doesn't: which DataType the rule applies to, how the event should be
// scored, and whether a hit lands the event in the store.
type RuleMeta struct {
	DataType    string
	AttackType  string
	Level       int
	ContentLine string
	IsCritical  bool
}

// Rule pairs an engine rule with its honeypot metadata.
type Rule struct {
	engine.Rule
	Meta RuleMeta
}

// Analyser runs one engine.Engine per DataType (rules are partitioned
// by DataType since the original's SingleRuleTest discards any rule
// whose DataType doesn't match the incoming record) and layers taint
// propagation, event tracking, and EventStore persistence on top.
type Analyser struct {
	mu sync.Mutex

	engines map[string]*engine.Engine
	meta    map[string]map[string]RuleMeta // DataType -> rule name -> meta

	events map[string]*EventItem // EventID -> EventItem, for rules that reference an already-landed event

	// blacklist maps a taint key (a SessionID, or "<HoneyID>:<path>")
	// to the set of events it is associated with — the original's
	// _blackList dict, generalized from Python sets to string-keyed
	// maps of EventItem pointers.
	blacklist map[string]map[*EventItem]struct{}

	store    EventStore
	notifier Notifier
}

// SetNotifier attaches a Notifier that land() broadcasts to whenever a
// critical rule lands a new event. Call before Analyse is used
// concurrently; a nil Notifier disables broadcasting.
func (a *Analyser) SetNotifier(n Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = n
}

// NewAnalyser partitions rules by DataType and constructs one engine
// per partition, sharing no FlagStore across partitions (a flag
// produced by a ProcInfo rule is never visible to a FileInfo rule,
// matching the original's per-DataType rule dictionaries).
func NewAnalyser(rules []Rule, store EventStore, opts ...engine.Option) *Analyser {
	byType := make(map[string][]engine.Rule)
	metaByType := make(map[string]map[string]RuleMeta)

	for _, r := range rules {
		byType[r.Meta.DataType] = append(byType[r.Meta.DataType], r.Rule)
		if metaByType[r.Meta.DataType] == nil {
			metaByType[r.Meta.DataType] = make(map[string]RuleMeta)
		}
		metaByType[r.Meta.DataType][r.Name] = r.Meta
	}

	a := &Analyser{
		engines:   make(map[string]*engine.Engine),
		meta:      metaByType,
		events:    make(map[string]*EventItem),
		blacklist: make(map[string]map[*EventItem]struct{}),
		store:     store,
	}
	for dataType, rs := range byType {
		a.engines[dataType] = engine.NewEngine(rs, append(append([]engine.Option{}, opts...), engine.WithAction(a.actionFor(dataType)))...)
	}
	return a
}

// actionFor builds the ActionFunc for one DataType's engine: it is
// where _RuleTriggered's business logic lives (event creation/update,
// critical-rule landing, blacklist maintenance).
func (a *Analyser) actionFor(dataType string) engine.ActionFunc {
	return func(ctx context.Context, rec engine.Record, rule engine.Rule, prior any, currentFlag string) any {
		meta := a.meta[dataType][rule.Name]

		item, isNewEvent := a.resolveEventItem(rec, rule, meta, prior)
		if item == nil {
			return nil
		}

		if isNewEvent {
			item.AppendContentLine(meta.ContentLine)
			item.dataQueue = append(item.dataQueue, rec)
		} else if item.Landed {
			// Tracking an already-landed event: write through
			// immediately and skip the critical-rule landing path,
			// mirroring the original's "demote to ordinary rule" branch.
			if a.store != nil {
				if err := a.store.AppendDetail(ctx, item.PersistedID, rec, meta.ContentLine); err != nil {
					log.Ctx(ctx).Error().Err(err).Str("event", item.PersistedID).Msg("failed to append honeypot event detail")
				}
			}
			return item
		} else {
			item.AppendContentLine(meta.ContentLine)
			item.dataQueue = append(item.dataQueue, rec)
		}

		if meta.IsCritical {
			item.AttackType = meta.AttackType
			item.Level = meta.Level
			a.land(ctx, item)
		}

		return item
	}
}

// resolveEventItem returns the EventItem a hit should be associated
// with: the one already tracked via PrevFlag (prior), or a freshly
// created one for an entry-point rule.
func (a *Analyser) resolveEventItem(rec engine.Record, rule engine.Rule, meta RuleMeta, prior any) (*EventItem, bool) {
	if prior != nil {
		item, ok := prior.(*EventItem)
		if !ok {
			return nil, false
		}
		return item, false
	}

	honeyID, _ := rec["HoneyID"].(int64)
	ts, _ := rec["Timestamp"].(int64)
	sessionID, _ := rec["SessionID"].(string)
	procName, _ := rec["ProcessName"].(string)

	return &EventItem{
		ID:               uuid.New().String(),
		HoneyID:          honeyID,
		StartTimestamp:   ts,
		StartSessionID:   sessionID,
		StartProcessName: procName,
		AttackType:       meta.AttackType,
	}, true
}

// land persists item via the EventStore (if configured), flushes its
// queued behavior data, and enrolls the session that started it into
// the blacklist so later records can be tainted.
func (a *Analyser) land(ctx context.Context, item *EventItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		id, err := a.store.InsertEvent(ctx, item)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to land honeypot event")
			return
		}
		item.PersistedID = id
		for _, rec := range item.dataQueue {
			if err := a.store.AppendDetail(ctx, id, rec, ""); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("failed to append queued honeypot event detail")
			}
		}
	}
	item.Landed = true
	item.dataQueue = nil
	a.events[item.ID] = item

	if item.StartSessionID != "" {
		a.taint(item.StartSessionID, item)
	}

	if a.notifier != nil {
		msg := fmt.Sprintf("honeypot event landed: id=%s honeyID=%d attackType=%s level=%d session=%s process=%s\n%s",
			item.ID, item.HoneyID, item.AttackType, item.Level, item.StartSessionID, item.StartProcessName, item.ContentText)
		if err := a.notifier.Broadcast(ctx, msg); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("event", item.ID).Msg("failed to broadcast landed honeypot event")
		}
	}
}

func (a *Analyser) taint(key string, item *EventItem) {
	set, ok := a.blacklist[key]
	if !ok {
		set = make(map[*EventItem]struct{})
		a.blacklist[key] = set
	}
	set[item] = struct{}{}
}

// taintedEvents returns the events associated with key, or nil.
func (a *Analyser) taintedEvents(key string) map[*EventItem]struct{} {
	return a.blacklist[key]
}

// Analyse routes rec to the engine registered for its DataType,
// propagating taint across process/file lineage first (§ taint
// propagation, generalized from the original's two taint-check rounds
// over ProcInfo/FileInfo/SampleInfo/ModuleInfo data types).
func (a *Analyser) Analyse(ctx context.Context, rec engine.Record) []any {
	a.mu.Lock()
	a.propagateTaint(rec)
	eng, ok := a.engines[dataTypeOf(rec)]
	a.mu.Unlock()

	if !ok {
		return nil
	}
	hits := eng.Analyse(ctx, rec)

	// Events this very call already wrote rec into (via the critical-
	// rule landing path or the tracked-event write-through inside
	// actionFor) must not be written again below, mirroring the
	// original's ExcludeEventData parameter to
	// __LoopThroughEventItemSet.
	excluded := make(map[*EventItem]struct{}, len(hits))
	for _, h := range hits {
		if item, ok := h.(*EventItem); ok {
			excluded[item] = struct{}{}
		}
	}

	a.mu.Lock()
	a.writeThroughTaintedEvents(ctx, rec, excluded)
	a.mu.Unlock()

	return hits
}

func dataTypeOf(rec engine.Record) string {
	dt, _ := rec["DataType"].(string)
	return dt
}

// propagateTaint carries an EventItem association from a parent
// session/path to the child it is producing, so a later record keyed
// on the child is recognized as tainted too (ProcInfo process-create,
// FileInfo file-create, SampleInfo landing, ModuleInfo load-as-module).
func (a *Analyser) propagateTaint(rec engine.Record) {
	parentKey, childKey := taintLineage(rec)
	if parentKey == "" || childKey == "" {
		return
	}
	for item := range a.taintedEvents(parentKey) {
		a.taint(childKey, item)
	}
}

func taintLineage(rec engine.Record) (parentKey, childKey string) {
	honeyID, _ := rec["HoneyID"].(int64)
	sessionID, _ := rec["SessionID"].(string)

	switch dataTypeOf(rec) {
	case "ProcInfo":
		if pid, ok := rec["OpPID"].(int64); ok {
			ts, _ := rec["Timestamp"].(int64)
			return sessionID, fmt.Sprintf("%d#%d#%d", honeyID, pid, ts)
		}
	case "FileInfo":
		if path, ok := rec["OpFilePath"].(string); ok {
			return sessionID, fmt.Sprintf("%d:%s", honeyID, path)
		}
	case "SampleInfo":
		if name, ok := rec["SampleName"].(string); ok {
			return sessionID, fmt.Sprintf("%d:%s", honeyID, name)
		}
	case "ModuleInfo":
		if path, ok := rec["ModulePath"].(string); ok {
			return fmt.Sprintf("%d:%s", honeyID, path), sessionID
		}
	}
	return "", ""
}

// writeThroughTaintedEvents persists rec against every already-landed
// event it is associated with via taint, independent of whatever the
// rule engine itself decided for this record (the original's
// __LoopThroughEventItemSet, run after AnalyseMain on each call).
func (a *Analyser) writeThroughTaintedEvents(ctx context.Context, rec engine.Record, excluded map[*EventItem]struct{}) {
	if a.store == nil {
		return
	}
	key := sessionOrPathKey(rec)
	for item := range a.taintedEvents(key) {
		if _, skip := excluded[item]; skip {
			continue
		}
		if !item.Landed || item.PersistedID == "" {
			continue
		}
		if err := a.store.AppendDetail(ctx, item.PersistedID, rec, ""); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to write through tainted honeypot event")
		}
	}
}

func sessionOrPathKey(rec engine.Record) string {
	sessionID, _ := rec["SessionID"].(string)
	return sessionID
}
