package rule

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// CELAdmissionPolicy 是 port.AdmissionPolicy 接口的 CEL 实现。
// 表达式对订单的每一行求值，任意一行为 false 即拒绝整个订单。
// 可用变量：product_id (string)、quantity (int)、lines (int，订单行数)。
type CELAdmissionPolicy struct {
	expr    string
	program cel.Program // 空表达式时为 nil，放行所有订单
}

// NewCELAdmissionPolicy 编译规则，语法错误或返回值不是 bool 时报错
func NewCELAdmissionPolicy(expr string) (*CELAdmissionPolicy, error) {
	if expr == "" {
		return &CELAdmissionPolicy{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("product_id", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("lines", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile admission rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("admission rule %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for admission rule %q", expr)
	}
	return &CELAdmissionPolicy{expr: expr, program: prg}, nil
}

// Allow 实现了 port.AdmissionPolicy 接口。
func (p *CELAdmissionPolicy) Allow(_ context.Context, lines []domain.OrderLine) (bool, error) {
	if p.program == nil {
		return true, nil
	}
	for _, l := range lines {
		out, _, err := p.program.Eval(map[string]any{
			"product_id": l.ProductID.String(),
			"quantity":   int64(l.Quantity),
			"lines":      int64(len(lines)),
		})
		if err != nil {
			return false, errors.Wrapf(err, "evaluate admission rule %q", p.expr)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return false, errors.Errorf("admission rule %q returned %T", p.expr, out.Value())
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}
