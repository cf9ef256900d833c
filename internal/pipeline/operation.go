package pipeline

import (
	"fmt"
	"time"

	"scribe/internal/services"
	"scribe/internal/workitem"
)

// Round is one execution attempt of a stage. Only the last round of an
// operation is ever mutated.
type Round struct {
	Status    Status          `json:"status"`
	Results   []workitem.Item `json:"results,omitempty"`
	Protocol  string          `json:"protocol,omitempty"`
	StartedAt time.Time       `json:"started_at,omitzero"`
	Duration  time.Duration   `json:"duration,omitempty"`
}

func (r Round) clone() Round {
	r.Results = workitem.CloneItems(r.Results)
	return r
}

// Provenance records that an operation's enabled flag was set by propagation.
type Provenance struct {
	Source        StageKind `json:"source"`
	SourceEnabled bool      `json:"source_enabled"`
	Previous      bool      `json:"previous"`
	Rule          string    `json:"rule"`
}

// Operation is one stage instance owned by a task.
type Operation struct {
	ID          int64
	TaskID      int64
	Kind        StageKind
	Provider    string
	Enabled     bool
	UserToggled bool
	Provenance  *Provenance
	Rounds      []Round
}

// State is the status of the last round; no rounds means pending.
func (o *Operation) State() Status {
	if len(o.Rounds) == 0 {
		return StatusPending
	}
	return o.Rounds[len(o.Rounds)-1].Status
}

// Strategy returns the behaviour table entry for the operation's kind.
func (o *Operation) Strategy() Strategy {
	return StrategyFor(o.Kind)
}

// Current returns the last round, or nil when none exists.
func (o *Operation) Current() *Round {
	if len(o.Rounds) == 0 {
		return nil
	}
	return &o.Rounds[len(o.Rounds)-1]
}

// LastResult returns the last result of the current round when it finished.
func (o *Operation) LastResult() (workitem.Item, bool) {
	cur := o.Current()
	if cur == nil || cur.Status != StatusFinished || len(cur.Results) == 0 {
		return workitem.Item{}, false
	}
	return cur.Results[len(cur.Results)-1], true
}

// Clone returns a deep copy.
func (o *Operation) Clone() *Operation {
	out := *o
	if o.Provenance != nil {
		prov := *o.Provenance
		out.Provenance = &prov
	}
	out.Rounds = make([]Round, len(o.Rounds))
	for i, r := range o.Rounds {
		out.Rounds[i] = r.clone()
	}
	return &out
}

// begin moves the operation into status to. A pending or ready current round
// is reused; otherwise a new round is appended.
func (o *Operation) begin(to Status, now time.Time) {
	if cur := o.Current(); cur != nil && (cur.Status == StatusPending || cur.Status == StatusReady) {
		cur.Status = to
		if to.Running() || to == StatusReady {
			cur.StartedAt = now
		}
		return
	}
	round := Round{Status: to}
	if to.Running() || to == StatusReady {
		round.StartedAt = now
	}
	o.Rounds = append(o.Rounds, round)
}

// appendRound starts a fresh round in status.
func (o *Operation) appendRound(status Status) {
	o.Rounds = append(o.Rounds, Round{Status: status})
}

// changeState moves the current round to status, validating the transition.
func (o *Operation) changeState(to Status, now time.Time) error {
	cur := o.Current()
	from := StatusPending
	if cur != nil {
		from = cur.Status
	}
	if !canTransition(from, to) {
		return services.Wrap(services.ErrValidation, o.Kind.String(), "change state",
			fmt.Sprintf("operation %d cannot move from %s to %s", o.ID, from, to), nil)
	}
	if cur == nil {
		o.begin(to, now)
		return nil
	}
	cur.Status = to
	switch {
	case to.Running():
		if cur.StartedAt.IsZero() {
			cur.StartedAt = now
		}
	case to.Terminal():
		if !cur.StartedAt.IsZero() {
			cur.Duration = now.Sub(cur.StartedAt)
		}
	}
	return nil
}
