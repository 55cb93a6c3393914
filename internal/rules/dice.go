// Package rules computes the sheet effects of chat commands. The engine sits
// behind an interface so another game system can be dropped in; the standard
// implementation covers d20-style play.
package rules

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmptyFormula   = errors.New("rules: empty dice formula")
	ErrInvalidFormula = errors.New("rules: invalid dice formula")
)

// Dice formulas look like "2d6+3", "d20", "4d8-1". One term, one optional
// modifier. Bounds keep a hostile chat message from rolling a million dice.
var formulaPattern = regexp.MustCompile(`^(\d*)[dD](\d+)([+-]\d+)?$`)

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

// DiceSpec is a parsed dice formula.
type DiceSpec struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the parsed dice back in formula form.
func (s DiceSpec) String() string {
	out := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	if s.Modifier > 0 {
		out += fmt.Sprintf("+%d", s.Modifier)
	} else if s.Modifier < 0 {
		out += strconv.Itoa(s.Modifier)
	}
	return out
}

// ParseFormula parses a chat dice formula. Whitespace is tolerated, the
// leading count defaults to 1.
func ParseFormula(formula string) (DiceSpec, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(formula), " ", "")
	if trimmed == "" {
		return DiceSpec{}, ErrEmptyFormula
	}

	m := formulaPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return DiceSpec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	spec := DiceSpec{Count: 1}
	if m[1] != "" {
		spec.Count, _ = strconv.Atoi(m[1])
	}
	spec.Sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		spec.Modifier, _ = strconv.Atoi(m[3])
	}

	if spec.Count < 1 || spec.Count > maxDiceCount || spec.Sides < 2 || spec.Sides > maxDiceSides {
		return DiceSpec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}
	return spec, nil
}

// RollResult is one resolved dice roll.
type RollResult struct {
	Formula  string `json:"formula"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier,omitempty"`
	Total    int    `json:"total"`
}

// Roller produces die results. Deterministic with respect to the seed: the
// same seed and the same sequence of Roll calls always produce the same
// values, which is what the handler tests rely on.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller from an explicit seed.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// NewTimeRoller creates a roller seeded from the wall clock.
func NewTimeRoller() *Roller {
	return NewRoller(time.Now().UnixNano())
}

// Roll resolves a parsed spec into individual die values plus the modifier.
func (r *Roller) Roll(spec DiceSpec) RollResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rolls := make([]int, spec.Count)
	total := spec.Modifier
	for i := 0; i < spec.Count; i++ {
		rolls[i] = r.rng.Intn(spec.Sides) + 1
		total += rolls[i]
	}

	return RollResult{
		Formula:  spec.String(),
		Rolls:    rolls,
		Modifier: spec.Modifier,
		Total:    total,
	}
}
