// Package dialog implements the frame-based dialog state tracker. The
// tracker is pure: it decides the next action from the NLU output and the
// session's dialog frame without performing I/O.
package dialog

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Reasons qualifying ask_slot actions.
const (
	ReasonMissing  = "missing"
	ReasonInvalid  = "invalid"
	ReasonRejected = "rejected"
)

// Party size bounds accepted for bookings.
const (
	MinPartySize = 1
	MaxPartySize = 40
)

// Input is everything the tracker looks at for one turn.
type Input struct {
	NLU       models.IntentResult
	Entities  []models.Entity
	Utterance string
	Dialog    models.DialogState
	// Slots holds the confirmed values; it is never modified.
	Slots map[string]string
	// Gazetteer validates city values.
	Gazetteer models.Gazetteer
	Now       time.Time
}

// Decision is the tracker's output. Slots is the complete new slot map
// and contains only validated, confirmed values.
type Decision struct {
	Action models.DialogAction
	Dialog models.DialogState
	Slots  map[string]string
}

// Options tunes the tracker.
type Options struct {
	TopK int
}

// Tracker decides dialog actions against an intent catalog.
type Tracker struct {
	catalog *intents.Catalog
	opts    Options
}

// New creates a tracker.
func New(catalog *intents.Catalog, opts Options) *Tracker {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Tracker{catalog: catalog, opts: opts}
}

// turn is the working state of one Track call.
type turn struct {
	in     Input
	state  models.DialogState
	slots  map[string]string
	trace  []models.DialogStateName
	intent intents.Intent
}

func (t *turn) visit(s models.DialogStateName) {
	t.state.State = s
	if len(t.trace) == 0 || t.trace[len(t.trace)-1] != s {
		t.trace = append(t.trace, s)
	}
}

func (t *turn) decide(a models.DialogAction) Decision {
	a.Transitions = t.trace
	if a.Intent == "" {
		a.Intent = t.state.Intent
	}
	return Decision{Action: a, Dialog: t.state, Slots: t.slots}
}

// Track runs one transition of the state machine.
func (tr *Tracker) Track(in Input) Decision {
	t := &turn{
		in:    in,
		state: in.Dialog,
		slots: maps.Clone(in.Slots),
	}
	if t.slots == nil {
		t.slots = map[string]string{}
	}
	if t.state.State == "" {
		t.state.State = models.StateIdle
	}
	t.trace = []models.DialogStateName{t.state.State}

	label := in.NLU.Label
	intent, known := tr.catalog.Get(label)

	// A value for the slot being collected or confirmed continues the
	// active intent whatever the classifier made of the utterance.
	if active, ok := tr.activeIntent(t.state); ok {
		switch {
		case t.state.State == models.StateConfirming && tr.hasSlotEntity(t.state.PendingSlot, in.Entities):
			t.intent = active
			return tr.correct(t)
		case t.state.State == models.StateConfirming && label == intents.Affirm:
			t.intent = active
			return tr.affirm(t)
		case t.state.State == models.StateConfirming && label == intents.Deny:
			t.intent = active
			return tr.deny(t)
		case t.state.State == models.StateCollecting && tr.hasSlotEntity(t.state.PendingSlot, in.Entities) &&
			(!known || intent.Kind != intents.KindTask || intent.ID == active.ID):
			t.intent = active
			return tr.advance(t)
		}
	}

	switch {
	case !known || label == models.IntentUnknown:
		return tr.fallback(t)
	case intent.Kind == intents.KindCanned:
		// Zero-slot intents leave the frame untouched.
		return Decision{
			Action: models.DialogAction{
				Kind:        models.ActionAnswer,
				Intent:      intent.ID,
				Transitions: []models.DialogStateName{t.state.State},
			},
			Dialog: in.Dialog,
			Slots:  t.slots,
		}
	case intent.Kind == intents.KindAct:
		// Affirm/deny with nothing to confirm.
		return tr.fallback(t)
	}

	// New or repeated task intent.
	t.intent = intent
	if t.state.Intent != intent.ID || t.state.State == models.StateIdle || t.state.State == models.StateResolved {
		t.state = models.DialogState{State: models.StateIdle, Intent: intent.ID}
		t.visit(models.StateIdle)
		for _, name := range intent.Optional {
			delete(t.slots, name)
		}
		if len(tr.missing(intent, t.slots)) > 0 {
			t.visit(models.StateCollecting)
		}
	}
	return tr.advance(t)
}

func (tr *Tracker) activeIntent(s models.DialogState) (intents.Intent, bool) {
	if s.State != models.StateCollecting && s.State != models.StateConfirming {
		return intents.Intent{}, false
	}
	in, ok := tr.catalog.Get(s.Intent)
	return in, ok && in.Kind == intents.KindTask
}

func (tr *Tracker) hasSlotEntity(slot string, entities []models.Entity) bool {
	def, ok := tr.catalog.Slot(slot)
	return ok && len(models.EntitiesOfType(entities, def.Entity)) > 0
}

func (tr *Tracker) missing(intent intents.Intent, slots map[string]string) []string {
	var out []string
	for _, name := range intent.Required {
		if slots[name] == "" {
			out = append(out, name)
		}
	}
	return out
}

func (tr *Tracker) fallback(t *turn) Decision {
	t.state = models.DialogState{State: models.StateIdle}
	t.visit(models.StateIdle)
	return t.decide(models.DialogAction{Kind: models.ActionFallback, Intent: models.IntentUnknown})
}

// slotIssue is the first problem found while applying entities.
type slotIssue struct {
	slot    string
	reason  string
	options []string
}

// advance applies the turn's entities to the intent's slots and moves to
// the next state.
func (tr *Tracker) advance(t *turn) Decision {
	var (
		invalid   *slotIssue
		ambiguous *slotIssue
		pending   string
		pendingV  string
	)
	for _, name := range t.intent.Slots() {
		def, ok := tr.catalog.Slot(name)
		if !ok {
			continue
		}
		cands := models.EntitiesOfType(t.in.Entities, def.Entity)
		if len(cands) == 0 {
			continue
		}
		if opts := options(cands); len(opts) > 1 {
			if ambiguous == nil {
				ambiguous = &slotIssue{slot: name, options: opts}
			}
			continue
		}
		value, ok := tr.validate(def, cands[0], t.in)
		if !ok {
			if invalid == nil {
				invalid = &slotIssue{slot: name, reason: ReasonInvalid}
			}
			continue
		}
		if def.Confirm && t.slots[name] != value {
			if pending == "" {
				pending, pendingV = name, value
				delete(t.slots, name)
			}
			continue
		}
		t.slots[name] = value
	}

	switch {
	case invalid != nil:
		return tr.ask(t, invalid.slot, ReasonInvalid)
	case ambiguous != nil:
		t.state.PendingSlot, t.state.PendingValue = ambiguous.slot, ""
		t.visit(models.StateCollecting)
		return t.decide(models.DialogAction{
			Kind:    models.ActionClarify,
			Slot:    ambiguous.slot,
			Options: ambiguous.options,
		})
	case pending != "":
		return tr.confirm(t, pending, pendingV)
	}
	return tr.resolve(t)
}

// resolve asks for the next missing slot or answers.
func (tr *Tracker) resolve(t *turn) Decision {
	if missing := tr.missing(t.intent, t.slots); len(missing) > 0 {
		return tr.ask(t, missing[0], ReasonMissing)
	}
	t.visit(models.StateResolved)
	action := tr.answer(t)
	// Nothing left to fill: the frame returns to Idle for the next request.
	t.state = models.DialogState{State: models.StateIdle, Intent: t.intent.ID}
	action.Transitions = t.trace
	return Decision{Action: action, Dialog: t.state, Slots: t.slots}
}

func (tr *Tracker) ask(t *turn, slot, reason string) Decision {
	t.state.PendingSlot, t.state.PendingValue = slot, ""
	t.visit(models.StateCollecting)
	return t.decide(models.DialogAction{Kind: models.ActionAskSlot, Slot: slot, Reason: reason})
}

func (tr *Tracker) confirm(t *turn, slot, value string) Decision {
	t.state.PendingSlot, t.state.PendingValue = slot, value
	t.visit(models.StateConfirming)
	return t.decide(models.DialogAction{Kind: models.ActionConfirm, Slot: slot, Value: value})
}

func (tr *Tracker) affirm(t *turn) Decision {
	t.slots[t.state.PendingSlot] = t.state.PendingValue
	t.state.PendingSlot, t.state.PendingValue = "", ""
	t.visit(models.StateResolved)
	return tr.resolve(t)
}

func (tr *Tracker) deny(t *turn) Decision {
	slot := t.state.PendingSlot
	delete(t.slots, slot)
	t.state.PendingValue = ""
	t.visit(models.StateCollecting)
	return t.decide(models.DialogAction{Kind: models.ActionAskSlot, Slot: slot, Reason: ReasonRejected})
}

// correct handles a new value for the slot under confirmation.
func (tr *Tracker) correct(t *turn) Decision {
	def, _ := tr.catalog.Slot(t.state.PendingSlot)
	t.in.Entities = models.EntitiesOfType(t.in.Entities, def.Entity)
	t.state.PendingValue = ""
	return tr.advance(t)
}

func (tr *Tracker) answer(t *turn) models.DialogAction {
	a := models.DialogAction{
		Kind:         models.ActionAnswer,
		Intent:       t.intent.ID,
		Capabilities: slices.Clone(t.intent.Capabilities),
		Slots:        maps.Clone(t.slots),
	}
	switch t.intent.Answer {
	case intents.AnswerSearch:
		a.Search = &models.SearchRequest{
			Class: t.intent.Class,
			Query: t.in.Utterance,
			Filters: models.Filters{
				City:      t.slots["city"],
				Category:  slotIf(t.intent, t.slots, "category"),
				PriceBand: slotIf(t.intent, t.slots, "price_band"),
			},
			TopK: tr.opts.TopK,
		}
	case intents.AnswerLookup:
		a.Search = &models.SearchRequest{
			Class:    t.intent.Class,
			RecordID: t.slots["attraction"],
			TopK:     1,
		}
	}
	return a
}

func slotIf(in intents.Intent, slots map[string]string, name string) string {
	if slices.Contains(in.Slots(), name) {
		return slots[name]
	}
	return ""
}

// options lists the distinct candidates. Candidates sharing a display
// value are told apart by record id.
func options(cands []models.Entity) []string {
	if len(cands) == 1 && !cands[0].Ambiguous {
		return []string{cands[0].Value}
	}
	seen := map[string]int{}
	for _, c := range cands {
		seen[strings.ToLower(c.Value)]++
	}
	var out []string
	dedup := map[string]bool{}
	for _, c := range cands {
		opt := c.Value
		if seen[strings.ToLower(c.Value)] > 1 && c.RecordID != "" {
			opt = c.Value + " (" + c.RecordID + ")"
		}
		if !dedup[opt] {
			dedup[opt] = true
			out = append(out, opt)
		}
	}
	return out
}

// validate checks a candidate value before it may reach the slot map and
// returns the canonical value.
func (tr *Tracker) validate(def intents.Slot, e models.Entity, in Input) (string, bool) {
	v := strings.TrimSpace(e.Value)
	if v == "" {
		return "", false
	}
	switch def.Entity {
	case models.EntityCity:
		city, ok := in.Gazetteer.City(v)
		return city.Name, ok
	case models.EntityAttraction, models.EntityHotel, models.EntityRestaurant:
		return e.RecordID, e.RecordID != ""
	case models.EntityDateRange:
		loc := in.Now.Location()
		start, end, err := models.ParseDateRange(v, loc)
		if err != nil {
			return "", false
		}
		y, m, d := in.Now.Date()
		if start.Before(time.Date(y, m, d, 0, 0, 0, 0, loc)) {
			return "", false
		}
		return models.FormatDateRange(start, end), true
	case models.EntityPartySize:
		n, err := strconv.Atoi(v)
		if err != nil || n < MinPartySize || n > MaxPartySize {
			return "", false
		}
		return strconv.Itoa(n), true
	case models.EntityPriceBand:
		switch v {
		case models.PriceBudget, models.PriceMid, models.PriceLuxury:
			return v, true
		}
		return "", false
	default:
		return strings.ToLower(v), true
	}
}
