package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
	"github.com/sheetlink/companion/internal/rules"
)

// argString pulls a string argument, empty when absent or mistyped.
func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// argInt pulls a numeric argument. JSON numbers decode as float64, but chat
// producers sometimes quote them.
func argInt(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

// argBool pulls a boolean argument.
func argBool(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func newEffect(cmd relay.CommandRecord, slotKey, characterName string, detail interface{}) *Effect {
	return &Effect{
		Kind:          cmd.Type,
		CommandID:     cmd.ID,
		Character:     slotKey,
		CharacterName: characterName,
		Detail:        detail,
	}
}

// RollHandler resolves dice checks.
type RollHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewRollHandler(characters Characters, engine rules.Engine) *RollHandler {
	return &RollHandler{characters: characters, engine: engine}
}

func (h *RollHandler) Name() string { return relay.CommandRoll }

func (h *RollHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	formula := argString(args, "formula")
	if formula == "" {
		formula = argString(args, "dice")
	}
	in := rules.CheckInput{
		Formula:      formula,
		Ability:      argString(args, "ability"),
		Advantage:    argBool(args, "advantage"),
		Disadvantage: argBool(args, "disadvantage"),
		Label:        argString(args, "label"),
	}

	// A bare roll needs no sheet; an ability check or an explicit character
	// target does.
	name := argString(args, "character")
	slotKey := ""
	sheet := &profile.Sheet{}
	if name != "" || in.Ability != "" {
		key, sh, err := h.characters.ResolveCharacter(name)
		if err != nil {
			return nil, err
		}
		slotKey, sheet = key, sh
	}

	out, err := h.engine.Check(sheet, in)
	if err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// CastHandler spends spell slots.
type CastHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewCastHandler(characters Characters, engine rules.Engine) *CastHandler {
	return &CastHandler{characters: characters, engine: engine}
}

func (h *CastHandler) Name() string { return relay.CommandCast }

func (h *CastHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	spell := argString(args, "spell")
	if spell == "" {
		return nil, errors.New("cast: missing spell name")
	}
	level := argInt(args, "slotLevel")
	if level == 0 {
		level = argInt(args, "level")
	}

	slotKey, sheet, err := h.characters.ResolveCharacter(argString(args, "character"))
	if err != nil {
		return nil, err
	}
	out, err := h.engine.Cast(sheet, spell, level)
	if err != nil {
		return nil, err
	}
	if err := h.characters.SaveSheet(slotKey, sheet); err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// HealHandler applies healing.
type HealHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewHealHandler(characters Characters, engine rules.Engine) *HealHandler {
	return &HealHandler{characters: characters, engine: engine}
}

func (h *HealHandler) Name() string { return relay.CommandHeal }

func (h *HealHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	slotKey, sheet, err := h.characters.ResolveCharacter(argString(args, "character"))
	if err != nil {
		return nil, err
	}
	out, err := h.engine.Heal(sheet, argInt(args, "amount"))
	if err != nil {
		return nil, err
	}
	if err := h.characters.SaveSheet(slotKey, sheet); err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// DamageHandler applies damage.
type DamageHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewDamageHandler(characters Characters, engine rules.Engine) *DamageHandler {
	return &DamageHandler{characters: characters, engine: engine}
}

func (h *DamageHandler) Name() string { return relay.CommandTakeDamage }

func (h *DamageHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	slotKey, sheet, err := h.characters.ResolveCharacter(argString(args, "character"))
	if err != nil {
		return nil, err
	}
	out, err := h.engine.TakeDamage(sheet, argInt(args, "amount"), argString(args, "damageType"))
	if err != nil {
		return nil, err
	}
	if err := h.characters.SaveSheet(slotKey, sheet); err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// RestHandler runs short and long rests.
type RestHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewRestHandler(characters Characters, engine rules.Engine) *RestHandler {
	return &RestHandler{characters: characters, engine: engine}
}

func (h *RestHandler) Name() string { return relay.CommandRest }

func (h *RestHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	restType := argString(args, "restType")
	if restType == "" {
		restType = argString(args, "type")
	}
	if restType == "" {
		restType = "long" // a bare rest from chat means the full night
	}

	slotKey, sheet, err := h.characters.ResolveCharacter(argString(args, "character"))
	if err != nil {
		return nil, err
	}
	out, err := h.engine.Rest(sheet, restType)
	if err != nil {
		return nil, err
	}
	if err := h.characters.SaveSheet(slotKey, sheet); err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// UseActionHandler spends limited-use features.
type UseActionHandler struct {
	characters Characters
	engine     rules.Engine
}

func NewUseActionHandler(characters Characters, engine rules.Engine) *UseActionHandler {
	return &UseActionHandler{characters: characters, engine: engine}
}

func (h *UseActionHandler) Name() string { return relay.CommandUseAction }

func (h *UseActionHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	action := argString(args, "action")
	if action == "" {
		return nil, errors.New("useAction: missing action name")
	}

	slotKey, sheet, err := h.characters.ResolveCharacter(argString(args, "character"))
	if err != nil {
		return nil, err
	}
	out, err := h.engine.UseAction(sheet, action)
	if err != nil {
		return nil, err
	}
	if err := h.characters.SaveSheet(slotKey, sheet); err != nil {
		return nil, err
	}
	return newEffect(cmd, slotKey, sheet.Name, out), nil
}

// EndTurnHandler relays turn advancement to the views. Initiative lives in
// the views, not in the sheet cache, so there is nothing to mutate here.
type EndTurnHandler struct {
	characters Characters
}

func NewEndTurnHandler(characters Characters) *EndTurnHandler {
	return &EndTurnHandler{characters: characters}
}

func (h *EndTurnHandler) Name() string { return relay.CommandEndTurn }

func (h *EndTurnHandler) Execute(ctx context.Context, cmd relay.CommandRecord, args map[string]interface{}) (*Effect, error) {
	name := argString(args, "character")
	slotKey, characterName := "", ""
	if key, sheet, err := h.characters.ResolveCharacter(name); err == nil {
		slotKey, characterName = key, sheet.Name
	} else if name != "" {
		// An explicit but unknown character is a real failure; no active
		// profile just means an unlabeled turn event.
		return nil, err
	}
	return newEffect(cmd, slotKey, characterName, map[string]interface{}{"turnEnded": true}), nil
}
