package transmit

import (
	"context"
	"strings"

	"github.com/google/cel-go/cel"
)

// CELAuthorizer compiles a CEL expression into an Authorizer, letting channel
// rules live in configuration instead of code. Two variables are in scope:
//
//	ctx     the stream context value (dyn)
//	params  the parameters extracted from the channel pattern (map<string,string>)
//
// Example: `ctx.id == params.id` for the pattern "chats/:id/messages".
//
// The context value is handed to CEL as-is, so it should be a JSON-like
// value (map, slice, scalar). An expression that does not evaluate to a
// boolean, or errors at evaluation time, denies the subscription.
func CELAuthorizer[C any](expr string) (Authorizer[C], error) {
	expr = strings.TrimSpace(expr)
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.DynType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, streamContext C, params map[string]string) (bool, error) {
		if params == nil {
			params = map[string]string{}
		}
		out, _, err := prog.Eval(map[string]any{
			"ctx":    any(streamContext),
			"params": params,
		})
		if err != nil {
			return false, err
		}
		b, ok := out.Value().(bool)
		return ok && b, nil
	}, nil
}
