// Package intents defines the intent and slot catalog shared by the NLU
// engine and the dialog tracker.
package intents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

//go:embed default_intents.yaml
var defaultCatalog []byte

// Kind groups intents by how the dialog handles them.
type Kind string

const (
	// KindCanned intents need no slots and are answered from templates.
	KindCanned Kind = "canned"
	// KindTask intents collect slots and need retrieval or capabilities.
	KindTask Kind = "task"
	// KindAct intents are dialog acts (affirm, deny) that only carry
	// meaning while a value is being confirmed.
	KindAct Kind = "act"
)

// Answer names how a resolved task intent is answered.
type Answer string

const (
	AnswerSearch     Answer = "search"
	AnswerLookup     Answer = "lookup"
	AnswerBooking    Answer = "booking"
	AnswerCapability Answer = "capability"
)

// Well-known intent ids the dialog tracker reacts to.
const (
	Affirm = "affirm"
	Deny   = "deny"
)

// DefaultRuleConfidence applies to rules of intents that do not set one.
const DefaultRuleConfidence = 0.97

// ErrInvalidCatalog is returned when a catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid intent catalog")

// Slot describes one fillable slot.
type Slot struct {
	Name   string            `yaml:"-"`
	Entity models.EntityType `yaml:"entity"`
	// Confirm marks high-stakes slots that need an explicit yes.
	Confirm bool `yaml:"confirm"`
}

// Intent is one catalog entry.
type Intent struct {
	ID           string             `yaml:"id"`
	Kind         Kind               `yaml:"kind"`
	Enabled      *bool              `yaml:"enabled"`
	Required     []string           `yaml:"required"`
	Optional     []string           `yaml:"optional"`
	Class        models.EntityClass `yaml:"class"`
	Answer       Answer             `yaml:"answer"`
	Capabilities []string           `yaml:"capabilities"`
	// RuleConfidence is reported when an anchored rule matches.
	RuleConfidence float64             `yaml:"rule_confidence"`
	Rules          map[string][]string `yaml:"rules"`
	Cues           map[string][]string `yaml:"cues"`
	Examples       map[string][]string `yaml:"examples"`
}

// IsEnabled reports whether the intent takes part in classification.
// Intents are enabled unless explicitly switched off.
func (i Intent) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

// Canned reports whether the intent is answered from templates alone.
func (i Intent) Canned() bool {
	return i.Kind == KindCanned
}

// Slots returns required followed by optional slot names.
func (i Intent) Slots() []string {
	out := make([]string, 0, len(i.Required)+len(i.Optional))
	out = append(out, i.Required...)
	return append(out, i.Optional...)
}

type catalogFile struct {
	Slots   map[string]Slot `yaml:"slots"`
	Intents []Intent        `yaml:"intents"`
}

// Catalog is an immutable, validated intent catalog.
type Catalog struct {
	slots   map[string]Slot
	intents []Intent
	byID    map[string]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Disabled intents are dropped.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{slots: make(map[string]Slot, len(f.Slots)), byID: map[string]int{}}
	for name, s := range f.Slots {
		s.Name = name
		c.slots[name] = s
	}
	for _, in := range f.Intents {
		if !in.IsEnabled() {
			continue
		}
		if err := c.validate(in); err != nil {
			return nil, err
		}
		if in.RuleConfidence == 0 {
			in.RuleConfidence = DefaultRuleConfidence
		}
		c.byID[in.ID] = len(c.intents)
		c.intents = append(c.intents, in)
	}
	if len(c.intents) == 0 {
		return nil, fmt.Errorf("%w: no enabled intents", ErrInvalidCatalog)
	}
	return c, nil
}

func (c *Catalog) validate(in Intent) error {
	if in.ID == "" {
		return fmt.Errorf("%w: intent without id", ErrInvalidCatalog)
	}
	if in.ID == models.IntentUnknown {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidCatalog, in.ID)
	}
	if _, dup := c.byID[in.ID]; dup {
		return fmt.Errorf("%w: duplicate intent %q", ErrInvalidCatalog, in.ID)
	}
	switch in.Kind {
	case KindCanned, KindAct:
		if len(in.Required) > 0 {
			return fmt.Errorf("%w: %s intent %q cannot require slots", ErrInvalidCatalog, in.Kind, in.ID)
		}
	case KindTask:
		if !slices.Contains([]Answer{AnswerSearch, AnswerLookup, AnswerBooking, AnswerCapability}, in.Answer) {
			return fmt.Errorf("%w: intent %q has unknown answer %q", ErrInvalidCatalog, in.ID, in.Answer)
		}
		if in.Answer == AnswerSearch || in.Answer == AnswerLookup {
			if !in.Class.Valid() {
				return fmt.Errorf("%w: intent %q needs a valid class", ErrInvalidCatalog, in.ID)
			}
		}
	default:
		return fmt.Errorf("%w: intent %q has unknown kind %q", ErrInvalidCatalog, in.ID, in.Kind)
	}
	for _, name := range in.Slots() {
		if _, ok := c.slots[name]; !ok {
			return fmt.Errorf("%w: intent %q uses undefined slot %q", ErrInvalidCatalog, in.ID, name)
		}
	}
	if in.RuleConfidence < 0 || in.RuleConfidence > 1 {
		return fmt.Errorf("%w: intent %q rule confidence out of range", ErrInvalidCatalog, in.ID)
	}
	for lang, patterns := range in.Rules {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: intent %q rule %q (%s): %v", ErrInvalidCatalog, in.ID, p, lang, err)
			}
		}
	}
	return nil
}

// Get looks up an intent by id.
func (c *Catalog) Get(id string) (Intent, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Intent{}, false
	}
	return c.intents[i], true
}

// Slot looks up a slot definition.
func (c *Catalog) Slot(name string) (Slot, bool) {
	s, ok := c.slots[name]
	return s, ok
}

// SlotForEntity returns the slot names among names that the entity type fills.
func (c *Catalog) SlotForEntity(names []string, t models.EntityType) (string, bool) {
	for _, n := range names {
		if s, ok := c.slots[n]; ok && s.Entity == t {
			return n, true
		}
	}
	return "", false
}

// Intents returns all enabled intents in catalog order.
func (c *Catalog) Intents() []Intent {
	return slices.Clone(c.intents)
}

// Labels returns the enabled intent ids in catalog order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.intents))
	for i, in := range c.intents {
		out[i] = in.ID
	}
	return out
}

// IsCanned reports whether id names a canned intent.
func (c *Catalog) IsCanned(id string) bool {
	in, ok := c.Get(id)
	return ok && in.Canned()
}
