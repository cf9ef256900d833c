package pipeline

import "sort"

// Policy holds the configurable parts of enable propagation.
type Policy struct {
	// ASRExcludesManual makes enabling speech recognition disable the
	// manual transcription stage.
	ASRExcludesManual bool
}

// RuleClass orders rules within one propagation step.
type RuleClass int

const (
	// RuleRequirement enables prerequisites or disables dependants.
	RuleRequirement RuleClass = iota
	// RuleViability keeps at least one transcript-producing stage enabled.
	RuleViability
	// RuleExclusivity disables a mutually exclusive alternative.
	RuleExclusivity
)

// Rule fires when its owning stage is toggled to Trigger and sets Target to Set.
type Rule struct {
	Name    string
	Class   RuleClass
	Trigger bool
	Target  StageKind
	Set     bool
	When    func(t *Task, p Policy) bool
}

func neitherTranscriptStage(t *Task, _ Policy) bool {
	return !t.Operations[StageASR].Enabled && !t.Operations[StageTranscription].Enabled
}

var (
	asrRules = []Rule{
		{Name: "asr-off-needs-manual", Class: RuleViability, Trigger: false, Target: StageTranscription, Set: true},
		{Name: "asr-excludes-manual", Class: RuleExclusivity, Trigger: true, Target: StageTranscription, Set: false,
			When: func(_ *Task, p Policy) bool { return p.ASRExcludesManual }},
	}
	transcriptionRules = []Rule{
		{Name: "manual-off-needs-asr", Class: RuleViability, Trigger: false, Target: StageASR, Set: true,
			When: func(t *Task, _ Policy) bool { return !t.Operations[StageASR].Enabled }},
	}
	alignmentRules = []Rule{
		{Name: "alignment-off-drops-phonetic", Class: RuleRequirement, Trigger: false, Target: StagePhonetic, Set: false},
		{Name: "alignment-needs-transcript", Class: RuleRequirement, Trigger: true, Target: StageASR, Set: true,
			When: neitherTranscriptStage},
	}
	phoneticRules = []Rule{
		{Name: "phonetic-needs-alignment", Class: RuleRequirement, Trigger: true, Target: StageAlignment, Set: true},
	}
	downstreamRules = []Rule{
		{Name: "downstream-needs-transcript", Class: RuleRequirement, Trigger: true, Target: StageASR, Set: true,
			When: neitherTranscriptStage},
	}
)

// Toggle describes one enabled-flag change made during propagation.
type Toggle struct {
	Kind       StageKind
	Enabled    bool
	Propagated bool
	Rule       string
}

// canPropagate reports whether propagation may set op to enabled.
func canPropagate(op *Operation, enabled bool) bool {
	if op.UserToggled {
		return false
	}
	if !enabled && (op.State() == StatusFinished || op.Strategy().AlwaysEnabled) {
		return false
	}
	return true
}

// setEnabled toggles the root operation and, when propagate is set, applies
// the strategy rules. Precedence within a pass: reversal of effects caused by
// an earlier opposite toggle of the same stage, then requirement, viability
// and exclusivity rules. An operation changed earlier in the pass is pinned.
// Repeating a toggle is a no-op.
func setEnabled(t *Task, kind StageKind, enabled, user, propagate bool, policy Policy) []Toggle {
	root := t.Operations[kind]
	if user {
		root.UserToggled = true
	}
	if root.Enabled == enabled {
		return nil
	}
	root.Enabled = enabled
	root.Provenance = nil
	changes := []Toggle{{Kind: kind, Enabled: enabled}}
	if !propagate {
		return changes
	}

	pinned := map[StageKind]bool{kind: true}
	for _, op := range t.Operations {
		prov := op.Provenance
		if pinned[op.Kind] || prov == nil || prov.Source != kind || prov.SourceEnabled == enabled {
			continue
		}
		op.Provenance = nil
		if op.Enabled == prov.Previous || !canPropagate(op, prov.Previous) {
			continue
		}
		op.Enabled = prov.Previous
		pinned[op.Kind] = true
		changes = append(changes, Toggle{Kind: op.Kind, Enabled: op.Enabled, Propagated: true, Rule: "revert:" + prov.Rule})
	}

	type trigger struct {
		kind    StageKind
		enabled bool
	}
	work := []trigger{{kind, enabled}}
	for len(work) > 0 {
		tr := work[0]
		work = work[1:]
		for _, rule := range orderedRules(tr.kind, tr.enabled) {
			target := t.Operations[rule.Target]
			if pinned[target.Kind] || target.Enabled == rule.Set {
				continue
			}
			if rule.When != nil && !rule.When(t, policy) {
				continue
			}
			if !canPropagate(target, rule.Set) {
				continue
			}
			target.Provenance = &Provenance{Source: kind, SourceEnabled: enabled, Previous: target.Enabled, Rule: rule.Name}
			target.Enabled = rule.Set
			pinned[target.Kind] = true
			changes = append(changes, Toggle{Kind: target.Kind, Enabled: rule.Set, Propagated: true, Rule: rule.Name})
			work = append(work, trigger{target.Kind, rule.Set})
		}
	}
	return changes
}

func orderedRules(kind StageKind, enabled bool) []Rule {
	var rules []Rule
	for _, rule := range StrategyFor(kind).Rules {
		if rule.Trigger == enabled {
			rules = append(rules, rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Class < rules[j].Class })
	return rules
}

// applyTranscriptSupplied disables speech recognition and manual
// transcription on a task whose transcript arrived out-of-band.
func applyTranscriptSupplied(t *Task) []Toggle {
	var changes []Toggle
	for _, kind := range []StageKind{StageASR, StageTranscription} {
		op := t.Operations[kind]
		if !op.Enabled || op.State() == StatusFinished {
			continue
		}
		op.Enabled = false
		op.Provenance = nil
		changes = append(changes, Toggle{Kind: kind, Enabled: false, Propagated: true, Rule: "transcript-supplied"})
	}
	return changes
}

// DefaultEnabled resolves the enable flag each new task starts with: the
// built-in strategy default, overridden by explicit configuration. With
// ASRExcludesManual, manual transcription defaults off while recognition is
// on unless configured explicitly.
func DefaultEnabled(overrides map[StageKind]bool, policy Policy) [StageCount]bool {
	var out [StageCount]bool
	for _, kind := range StageKinds() {
		st := StrategyFor(kind)
		out[kind] = st.DefaultEnabled
		if v, ok := overrides[kind]; ok {
			out[kind] = v
		}
		if st.AlwaysEnabled {
			out[kind] = true
		}
	}
	if _, explicit := overrides[StageTranscription]; policy.ASRExcludesManual && out[StageASR] && !explicit {
		out[StageTranscription] = false
	}
	return out
}
