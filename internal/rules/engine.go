package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sheetlink/companion/internal/profile"
)

var (
	ErrBadAmount       = errors.New("rules: amount must be a positive number")
	ErrUnknownAbility  = errors.New("rules: unknown ability")
	ErrSlotsExhausted  = errors.New("rules: no spell slots remaining at that level")
	ErrUnknownAction   = errors.New("rules: no such action on this sheet")
	ErrActionExhausted = errors.New("rules: action has no uses left")
	ErrUnknownRest     = errors.New("rules: rest type must be short or long")
)

// CheckInput describes a requested roll.
type CheckInput struct {
	Formula      string
	Ability      string
	Advantage    bool
	Disadvantage bool
	Label        string
}

// CheckOutcome is a resolved roll. Dropped holds the discarded set when
// advantage or disadvantage forced a second roll.
type CheckOutcome struct {
	Formula  string `json:"formula"`
	Rolls    []int  `json:"rolls"`
	Dropped  []int  `json:"dropped,omitempty"`
	Modifier int    `json:"modifier,omitempty"`
	Total    int    `json:"total"`
	Label    string `json:"label,omitempty"`
}

// CastOutcome reports a spell cast and the slot spent for it.
type CastOutcome struct {
	Spell     string `json:"spell"`
	SlotLevel int    `json:"slot_level,omitempty"`
	SlotsLeft int    `json:"slots_left,omitempty"`
	Cantrip   bool   `json:"cantrip,omitempty"`
}

// HealOutcome reports applied healing. Healed can be lower than Requested
// when the sheet was already near full.
type HealOutcome struct {
	Requested int `json:"requested"`
	Healed    int `json:"healed"`
	HP        int `json:"hp"`
	MaxHP     int `json:"max_hp"`
}

// DamageOutcome reports applied damage after temporary hit points soaked
// their share.
type DamageOutcome struct {
	Amount     int    `json:"amount"`
	DamageType string `json:"damage_type,omitempty"`
	Absorbed   int    `json:"absorbed,omitempty"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"max_hp"`
	Down       bool   `json:"down,omitempty"`
}

// RestOutcome lists what a rest recovered.
type RestOutcome struct {
	Type         string   `json:"type"`
	HPRestored   int      `json:"hp_restored,omitempty"`
	SlotsReset   bool     `json:"slots_reset,omitempty"`
	ActionsReset []string `json:"actions_reset,omitempty"`
}

// ActionOutcome reports a limited-use feature being spent.
type ActionOutcome struct {
	Action    string `json:"action"`
	Remaining int    `json:"remaining"`
}

// Engine computes command effects against a character sheet. Implementations
// mutate the sheet in place and return a JSON-ready outcome for the command
// result and the view broadcast.
type Engine interface {
	Check(sheet *profile.Sheet, in CheckInput) (CheckOutcome, error)
	Cast(sheet *profile.Sheet, spell string, slotLevel int) (CastOutcome, error)
	Heal(sheet *profile.Sheet, amount int) (HealOutcome, error)
	TakeDamage(sheet *profile.Sheet, amount int, damageType string) (DamageOutcome, error)
	Rest(sheet *profile.Sheet, restType string) (RestOutcome, error)
	UseAction(sheet *profile.Sheet, action string) (ActionOutcome, error)
}

// Standard is the d20-style implementation of Engine.
type Standard struct {
	roller *Roller
}

// NewStandard creates the standard engine on top of the given roller.
func NewStandard(roller *Roller) *Standard {
	return &Standard{roller: roller}
}

var _ Engine = (*Standard)(nil)

var abilityNames = map[string]bool{
	"str": true, "dex": true, "con": true,
	"int": true, "wis": true, "cha": true,
}

// abilityModifier converts an ability score to its modifier,
// floor((score-10)/2) with proper flooring below 10.
func abilityModifier(score int) int {
	mod := (score - 10) / 2
	if score < 10 && (score-10)%2 != 0 {
		mod--
	}
	return mod
}

// Check rolls the given formula, defaulting to a plain d20. Advantage and
// disadvantage roll the whole formula twice and keep the better or worse
// total; when both are asked for they cancel out.
func (e *Standard) Check(sheet *profile.Sheet, in CheckInput) (CheckOutcome, error) {
	formula := in.Formula
	if strings.TrimSpace(formula) == "" {
		formula = "1d20"
	}
	spec, err := ParseFormula(formula)
	if err != nil {
		return CheckOutcome{}, err
	}

	abilityMod := 0
	if in.Ability != "" {
		key := strings.ToLower(strings.TrimSpace(in.Ability))
		if !abilityNames[key] {
			return CheckOutcome{}, fmt.Errorf("%w: %q", ErrUnknownAbility, in.Ability)
		}
		abilityMod = abilityModifier(sheet.Abilities[key])
	}

	first := e.roller.Roll(spec)
	out := CheckOutcome{
		Formula:  first.Formula,
		Rolls:    first.Rolls,
		Modifier: first.Modifier + abilityMod,
		Total:    first.Total + abilityMod,
		Label:    in.Label,
	}

	if in.Advantage != in.Disadvantage {
		second := e.roller.Roll(spec)
		keepFirst := first.Total >= second.Total
		if in.Disadvantage {
			keepFirst = first.Total <= second.Total
		}
		if !keepFirst {
			out.Rolls = second.Rolls
			out.Dropped = first.Rolls
			out.Total = second.Total + abilityMod
		} else {
			out.Dropped = second.Rolls
		}
	}
	return out, nil
}

// Cast spends a spell slot at the requested level. Level 0 is a cantrip and
// costs nothing.
func (e *Standard) Cast(sheet *profile.Sheet, spell string, slotLevel int) (CastOutcome, error) {
	if slotLevel == 0 {
		return CastOutcome{Spell: spell, Cantrip: true}, nil
	}
	pool, ok := sheet.SpellSlots[slotLevel]
	if !ok || pool.Remaining() == 0 {
		return CastOutcome{}, fmt.Errorf("%w (level %d)", ErrSlotsExhausted, slotLevel)
	}
	pool.Used++
	return CastOutcome{
		Spell:     spell,
		SlotLevel: slotLevel,
		SlotsLeft: pool.Remaining(),
	}, nil
}

// Heal raises HP, capped at the sheet maximum.
func (e *Standard) Heal(sheet *profile.Sheet, amount int) (HealOutcome, error) {
	if amount <= 0 {
		return HealOutcome{}, ErrBadAmount
	}
	healed := amount
	if sheet.HP+healed > sheet.MaxHP {
		healed = sheet.MaxHP - sheet.HP
	}
	sheet.HP += healed
	return HealOutcome{
		Requested: amount,
		Healed:    healed,
		HP:        sheet.HP,
		MaxHP:     sheet.MaxHP,
	}, nil
}

// TakeDamage applies damage, temporary hit points first.
func (e *Standard) TakeDamage(sheet *profile.Sheet, amount int, damageType string) (DamageOutcome, error) {
	if amount <= 0 {
		return DamageOutcome{}, ErrBadAmount
	}
	absorbed := amount
	if absorbed > sheet.TempHP {
		absorbed = sheet.TempHP
	}
	sheet.TempHP -= absorbed
	remaining := amount - absorbed
	if remaining > sheet.HP {
		remaining = sheet.HP
	}
	sheet.HP -= remaining

	return DamageOutcome{
		Amount:     amount,
		DamageType: damageType,
		Absorbed:   absorbed,
		HP:         sheet.HP,
		MaxHP:      sheet.MaxHP,
		Down:       sheet.HP == 0,
	}, nil
}

// Rest recovers resources. A short rest recharges short-rest actions only;
// a long rest restores HP, clears temporary HP and resets slots and actions.
func (e *Standard) Rest(sheet *profile.Sheet, restType string) (RestOutcome, error) {
	restType = strings.ToLower(strings.TrimSpace(restType))
	out := RestOutcome{Type: restType}

	switch restType {
	case "short":
		out.ActionsReset = resetActions(sheet, "short")
	case "long":
		out.HPRestored = sheet.MaxHP - sheet.HP
		sheet.HP = sheet.MaxHP
		sheet.TempHP = 0
		for _, pool := range sheet.SpellSlots {
			if pool.Used > 0 {
				pool.Used = 0
				out.SlotsReset = true
			}
		}
		out.ActionsReset = resetActions(sheet, "short", "long", "")
	default:
		return RestOutcome{}, fmt.Errorf("%w: %q", ErrUnknownRest, restType)
	}
	return out, nil
}

// UseAction spends one use of a limited feature, matched case-insensitively.
func (e *Standard) UseAction(sheet *profile.Sheet, action string) (ActionOutcome, error) {
	want := strings.ToLower(strings.TrimSpace(action))
	for name, use := range sheet.Actions {
		if strings.ToLower(name) != want {
			continue
		}
		if use.Max > 0 && use.Used >= use.Max {
			return ActionOutcome{}, fmt.Errorf("%w: %s", ErrActionExhausted, name)
		}
		use.Used++
		remaining := use.Max - use.Used
		if use.Max == 0 {
			remaining = -1
		}
		return ActionOutcome{Action: name, Remaining: remaining}, nil
	}
	return ActionOutcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// resetActions clears Used on actions whose recharge matches any of the
// given kinds, returning the affected names sorted for stable output.
func resetActions(sheet *profile.Sheet, kinds ...string) []string {
	match := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		match[k] = true
	}
	var reset []string
	for name, use := range sheet.Actions {
		if use.Used > 0 && match[use.Recharge] {
			use.Used = 0
			reset = append(reset, name)
		}
	}
	sort.Strings(reset)
	return reset
}
