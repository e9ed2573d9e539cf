package claimcheck

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
)

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// Expression compiles a CEL expression over the token payload, exposed as
// the map variable claims, into a Check:
//
//	claimcheck.Expression(`claims.tenant == "acme" && "admin" in claims.roles`, "")
//
// The expression must evaluate to a boolean. Evaluation errors, such as a
// reference to an absent claim, reject the token like a false result. An
// empty errMsg reports the expression itself.
func Expression(expr, errMsg string) (Check, error) {
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	if errMsg == "" {
		errMsg = fmt.Sprintf("Claims do not satisfy %q", expr)
	}

	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.Unauthorized("")
		}
		out, _, err := program.Eval(map[string]any{"claims": payload})
		if err != nil {
			return bearer.InvalidToken(errMsg)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return bearer.InvalidToken(errMsg)
		}
		return nil
	}, nil
}

// MustExpression is like Expression but panics if expr does not compile.
func MustExpression(expr, errMsg string) Check {
	c, err := Expression(expr, errMsg)
	if err != nil {
		panic(err)
	}
	return c
}
