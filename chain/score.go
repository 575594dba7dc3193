package chain

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultScoreFormula awards a fixed base plus three points per second left
// on the clock.
const DefaultScoreFormula = "100 + remaining * 3"

// ScorePolicy computes the points for an accepted timed answer from an
// expression over:
//
//	remaining  whole seconds left on the turn timer
//	duration   the configured turn length in seconds
//	chain      chain length including the new link
type ScorePolicy struct {
	formula string
	program *vm.Program
}

func scoreEnv(remaining, duration, chain int) map[string]any {
	return map[string]any{
		"remaining": remaining,
		"duration":  duration,
		"chain":     chain,
	}
}

func NewScorePolicy(formula string) (*ScorePolicy, error) {
	formula = strings.TrimSpace(formula)
	if formula == "" {
		formula = DefaultScoreFormula
	}

	program, err := expr.Compile(formula, expr.Env(scoreEnv(0, 0, 0)))
	if err != nil {
		return nil, fmt.Errorf("%w: compile score formula %q: %w", ErrInvalidSetting, formula, err)
	}

	p := &ScorePolicy{formula: formula, program: program}

	if _, err := p.Points(0, 30, 1); err != nil {
		return nil, err
	}

	return p, nil
}

// Points evaluates the formula. Fractional results are rounded to the
// nearest point and negative ones clamp to zero.
func (p *ScorePolicy) Points(remaining, duration, chain int) (int, error) {
	out, err := expr.Run(p.program, scoreEnv(remaining, duration, chain))
	if err != nil {
		return 0, fmt.Errorf("evaluate score formula %q: %w", p.formula, err)
	}

	var points int
	switch v := out.(type) {
	case int:
		points = v
	case int64:
		points = int(v)
	case float64:
		points = int(math.Round(v))
	default:
		return 0, fmt.Errorf("%w: score formula %q returned %T", ErrInvalidSetting, p.formula, out)
	}

	return max(points, 0), nil
}

func (p *ScorePolicy) String() string {
	return p.formula
}
