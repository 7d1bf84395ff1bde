package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// guardProgram is a compiled CEL guard expression. Guards run after the
// threshold check and can veto an auto-merge; they never force one.
// Evaluation is fail-closed: any error counts as a veto.
type guardProgram struct {
	expr string
	prg  cel.Program
}

// GuardInput is the activation visible to guard expressions.
type GuardInput struct {
	Subject   string
	Predicate string
	Object    string
	Trust     float64
	Tier      string
	ModelConf float64
}

func compileGuard(expr string) (*guardProgram, error) {
	env, err := cel.NewEnv(
		cel.StdLib(),
		cel.Variable("subject", cel.StringType),
		cel.Variable("predicate", cel.StringType),
		cel.Variable("object", cel.StringType),
		cel.Variable("trust", cel.DoubleType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("model_conf", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues.Err() != nil {
		return nil, fmt.Errorf("guard compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.CostLimit(10000),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("guard program: %w", err)
	}
	return &guardProgram{expr: expr, prg: prg}, nil
}

// GuardAllows evaluates the predicate's guard, if any. No guard means allow.
func (p *PredicatePolicy) GuardAllows(in GuardInput) bool {
	if p.guard == nil {
		return true
	}
	val, _, err := p.guard.prg.Eval(map[string]any{
		"subject":    in.Subject,
		"predicate":  in.Predicate,
		"object":     in.Object,
		"trust":      in.Trust,
		"tier":       in.Tier,
		"model_conf": in.ModelConf,
	})
	if err != nil {
		return false
	}
	allowed, ok := val.Value().(bool)
	return ok && allowed
}
