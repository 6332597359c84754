// internal/service/order/infrastructure/rule/cel_discount_engine.go
package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"mall/internal/service/order/domain/port"
)

// DefaultDiscountRule VIP 用户满 100 打 95 折，其余无折扣。
const DefaultDiscountRule = `isVip && subtotal >= 100.0 ? subtotal * 0.05 : 0.0`

// CelDiscountEngine 用 CEL 表达式计算折扣金额，
// 规则来自配置中心，可以不发版调整营销策略。
// 表达式在构造时编译一次，Evaluate 只做求值。
type CelDiscountEngine struct {
	program cel.Program
	rule    string
}

func NewCelDiscountEngine(ruleExpr string) (*CelDiscountEngine, error) {
	if ruleExpr == "" {
		ruleExpr = DefaultDiscountRule
	}

	env, err := cel.NewEnv(
		cel.Variable("userId", cel.IntType),
		cel.Variable("isVip", cel.BoolType),
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	ast, issues := env.Compile(ruleExpr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile discount rule %q", ruleExpr)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}

	return &CelDiscountEngine{program: program, rule: ruleExpr}, nil
}

var _ port.DiscountEngine = (*CelDiscountEngine)(nil)

func (e *CelDiscountEngine) Evaluate(ctx context.Context, fact port.DiscountFact) (float64, error) {
	out, _, err := e.program.ContextEval(ctx, map[string]interface{}{
		"userId":    fact.UserID,
		"isVip":     fact.IsVIP,
		"subtotal":  fact.Subtotal,
		"itemCount": int64(fact.ItemCount),
	})
	if err != nil {
		return 0, errors.Wrap(err, "evaluate discount rule")
	}

	switch v := out.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("discount rule returned non-numeric value %T", v)
	}
}
