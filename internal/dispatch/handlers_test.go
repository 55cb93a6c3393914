package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
	"github.com/sheetlink/companion/internal/rules"
)

var errNoSheet = errors.New("no matching character")

// TestRollHandler_BareRoll verifies a plain dice roll needs no character sheet
func TestRollHandler_BareRoll(t *testing.T) {
	chars := &fakeCharacters{resolveErr: errNoSheet}
	h := NewRollHandler(chars, rules.NewStandard(rules.NewRoller(42)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRoll, ""), map[string]interface{}{"formula": "2d6+3"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if effect.Kind != relay.CommandRoll {
		t.Errorf("Expected kind roll, got %s", effect.Kind)
	}
	if effect.Character != "" {
		t.Errorf("Expected no character on bare roll, got %s", effect.Character)
	}
	out, ok := effect.Detail.(rules.CheckOutcome)
	if !ok {
		t.Fatalf("Expected CheckOutcome detail, got %T", effect.Detail)
	}
	if out.Formula != "2d6+3" {
		t.Errorf("Expected formula 2d6+3, got %s", out.Formula)
	}
}

// TestRollHandler_AbilityCheck verifies ability checks pull the sheet's modifier
func TestRollHandler_AbilityCheck(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{Name: "Aria", Abilities: map[string]int{"int": 16}}}
	h := NewRollHandler(chars, rules.NewStandard(rules.NewRoller(42)))
	shadow := rules.NewRoller(42)

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRoll, ""), map[string]interface{}{"ability": "int"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := shadow.Roll(rules.DiceSpec{Count: 1, Sides: 20})
	out := effect.Detail.(rules.CheckOutcome)
	if out.Total != want.Total+3 {
		t.Errorf("Expected total %d, got %d", want.Total+3, out.Total)
	}
	if effect.CharacterName != "Aria" {
		t.Errorf("Expected character Aria, got %s", effect.CharacterName)
	}
}

// TestRollHandler_DiceAlias verifies the legacy dice argument still works
func TestRollHandler_DiceAlias(t *testing.T) {
	chars := &fakeCharacters{resolveErr: errNoSheet}
	h := NewRollHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRoll, ""), map[string]interface{}{"dice": "1d4"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out := effect.Detail.(rules.CheckOutcome); out.Formula != "1d4" {
		t.Errorf("Expected formula 1d4, got %s", out.Formula)
	}
}

// TestRollHandler_UnknownCharacter verifies an unresolvable target fails the roll
func TestRollHandler_UnknownCharacter(t *testing.T) {
	chars := &fakeCharacters{resolveErr: errNoSheet}
	h := NewRollHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	if _, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRoll, ""), map[string]interface{}{"character": "Vex"}); !errors.Is(err, errNoSheet) {
		t.Errorf("Expected resolve error, got %v", err)
	}
}

// TestCastHandler verifies the slot spend lands back in the sheet store
func TestCastHandler(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{
		Name:       "Aria",
		SpellSlots: map[int]*profile.SlotPool{1: {Max: 3, Used: 0}},
	}}
	h := NewCastHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandCast, ""), map[string]interface{}{"spell": "Magic Missile", "slotLevel": float64(1)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	out := effect.Detail.(rules.CastOutcome)
	if out.Spell != "Magic Missile" || out.SlotsLeft != 2 {
		t.Errorf("Expected Magic Missile with 2 slots left, got %+v", out)
	}
	if chars.saves != 1 {
		t.Errorf("Expected 1 sheet save, got %d", chars.saves)
	}
}

// TestCastHandler_MissingSpell verifies the spell name is required
func TestCastHandler_MissingSpell(t *testing.T) {
	h := NewCastHandler(&fakeCharacters{}, rules.NewStandard(rules.NewRoller(1)))

	if _, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandCast, ""), map[string]interface{}{}); err == nil {
		t.Error("Expected error for missing spell name")
	}
}

// TestDamageHandler verifies damage flows through temp HP into the saved sheet
func TestDamageHandler(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{Name: "Brom", HP: 20, MaxHP: 30, TempHP: 4}}
	h := NewDamageHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandTakeDamage, ""), map[string]interface{}{"amount": float64(10), "damageType": "fire"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	out := effect.Detail.(rules.DamageOutcome)
	if out.Absorbed != 4 || out.HP != 14 {
		t.Errorf("Expected 4 absorbed and HP 14, got %+v", out)
	}
	if chars.sheet.HP != 14 || chars.sheet.TempHP != 0 {
		t.Errorf("Expected saved sheet 14/0 temp, got %d/%d", chars.sheet.HP, chars.sheet.TempHP)
	}
}

// TestRestHandler_DefaultsToLong verifies a bare rest means the full night
func TestRestHandler_DefaultsToLong(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{Name: "Aria", HP: 5, MaxHP: 24}}
	h := NewRestHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRest, ""), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	out := effect.Detail.(rules.RestOutcome)
	if out.Type != "long" {
		t.Errorf("Expected long rest by default, got %s", out.Type)
	}
	if out.HPRestored != 19 || chars.sheet.HP != 24 {
		t.Errorf("Expected full heal, got restored %d hp %d", out.HPRestored, chars.sheet.HP)
	}
}

// TestRestHandler_TypeAlias verifies both restType and type arguments work
func TestRestHandler_TypeAlias(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{Name: "Aria", HP: 5, MaxHP: 24}}
	h := NewRestHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandRest, ""), map[string]interface{}{"type": "short"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out := effect.Detail.(rules.RestOutcome); out.Type != "short" {
		t.Errorf("Expected short rest, got %s", out.Type)
	}
	if chars.sheet.HP != 5 {
		t.Errorf("Expected HP untouched by short rest, got %d", chars.sheet.HP)
	}
}

// TestUseActionHandler verifies the spend reaches the saved sheet
func TestUseActionHandler(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{
		Name:    "Brom",
		Actions: map[string]*profile.ActionUse{"Rage": {Max: 3, Used: 0, Recharge: "long"}},
	}}
	h := NewUseActionHandler(chars, rules.NewStandard(rules.NewRoller(1)))

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandUseAction, ""), map[string]interface{}{"action": "rage"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	out := effect.Detail.(rules.ActionOutcome)
	if out.Action != "Rage" || out.Remaining != 2 {
		t.Errorf("Expected Rage with 2 remaining, got %+v", out)
	}
	if chars.saves != 1 {
		t.Errorf("Expected 1 sheet save, got %d", chars.saves)
	}
}

// TestUseActionHandler_MissingAction verifies the action name is required
func TestUseActionHandler_MissingAction(t *testing.T) {
	h := NewUseActionHandler(&fakeCharacters{}, rules.NewStandard(rules.NewRoller(1)))

	if _, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandUseAction, ""), map[string]interface{}{}); err == nil {
		t.Error("Expected error for missing action name")
	}
}

// TestEndTurnHandler verifies turn events work labeled, unlabeled and fail on
// an explicit unknown character
func TestEndTurnHandler(t *testing.T) {
	chars := &fakeCharacters{sheet: profile.Sheet{Name: "Aria"}}
	h := NewEndTurnHandler(chars)

	effect, err := h.Execute(context.Background(), pendingCommand("cmd-1", relay.CommandEndTurn, ""), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if effect.CharacterName != "Aria" {
		t.Errorf("Expected active character label, got %q", effect.CharacterName)
	}
	detail := effect.Detail.(map[string]interface{})
	if detail["turnEnded"] != true {
		t.Errorf("Expected turnEnded detail, got %v", detail)
	}
	if chars.saves != 0 {
		t.Errorf("Expected no sheet mutation on end turn, got %d saves", chars.saves)
	}

	// No active profile just means an unlabeled turn event
	hNoActive := NewEndTurnHandler(&fakeCharacters{resolveErr: errNoSheet})
	effect, err = hNoActive.Execute(context.Background(), pendingCommand("cmd-3", relay.CommandEndTurn, ""), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed without active profile: %v", err)
	}
	if effect.CharacterName != "" {
		t.Errorf("Expected unlabeled turn event, got %q", effect.CharacterName)
	}

	if _, err := hNoActive.Execute(context.Background(), pendingCommand("cmd-4", relay.CommandEndTurn, ""), map[string]interface{}{"character": "Vex"}); !errors.Is(err, errNoSheet) {
		t.Errorf("Expected resolve error for explicit unknown character, got %v", err)
	}
}
