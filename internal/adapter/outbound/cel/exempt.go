// Package cel compiles policy exemption expressions. An exemption is a CEL
// expression over request attributes; when it evaluates to true the policy
// is skipped entirely for that request.
package cel

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/flux-gate/fluxgate/internal/domain/identity"
)

// maxExpressionLength caps exemption expressions to keep evaluation cheap.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket nesting in expressions.
const maxNestingDepth = 50

// NewRequestEnvironment creates a CEL environment exposing the request
// attributes available to exemption expressions:
//   - method, path, host, client_ip: strings
//   - headers: map of lowercased header name to first value
//
// Example: headers["x-internal"] == "1" || path.startsWith("/health")
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("client_ip", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// Compiler turns exemption expressions into request predicates. Compiled
// programs are cached by expression hash, so policies sharing an expression
// share one program. Safe for concurrent use.
type Compiler struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[uint64]cel.Program
}

// NewCompiler creates a Compiler with the request environment.
func NewCompiler() (*Compiler, error) {
	env, err := NewRequestEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create request environment: %w", err)
	}
	return &Compiler{env: env, cache: make(map[uint64]cel.Program)}, nil
}

// CompileExempt validates and compiles an exemption expression, returning a
// predicate usable as a policy's Exempt hook. Evaluation errors fail safe:
// the policy is NOT exempted when the expression cannot be evaluated.
func (c *Compiler) CompileExempt(expression string) (func(*http.Request) bool, error) {
	prg, err := c.compile(expression)
	if err != nil {
		return nil, err
	}

	return func(r *http.Request) bool {
		result, _, err := prg.Eval(activation(r))
		if err != nil {
			return false
		}
		exempt, ok := result.Value().(bool)
		return ok && exempt
	}, nil
}

// compile returns the cached program for expression, compiling on miss.
func (c *Compiler) compile(expression string) (cel.Program, error) {
	if err := validateExpression(expression); err != nil {
		return nil, err
	}

	key := xxhash.Sum64String(expression)
	c.mu.RLock()
	prg, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("exemption expression must return bool, got %v", ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	c.mu.Lock()
	c.cache[key] = prg
	c.mu.Unlock()
	return prg, nil
}

// validateExpression enforces the safety limits before compilation.
func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// activation builds the per-request variable bindings.
func activation(r *http.Request) map[string]any {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	return map[string]any{
		"method":    r.Method,
		"path":      r.URL.Path,
		"host":      r.Host,
		"client_ip": identity.ClientAddr(r),
		"headers":   headers,
	}
}
