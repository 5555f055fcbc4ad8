package rule

import (
	"encoding/json"
	"sync"

	"github.com/dop251/goja"
	api "github.com/signoff-io/signoff/api/v1"
)

// Evaluator evaluates routing rules written as javascript boolean
// expressions over request attributes. Attributes are bound both as
// plain variables (amount > 5000) and as $ ($.amount > 5000). Compiled
// programs are cached per expression source.
type Evaluator struct {
	mu       sync.Mutex
	programs map[string]*goja.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		programs: make(map[string]*goja.Program),
	}
}

func (e *Evaluator) program(expression string) (*goja.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[expression]; ok {
		return p, nil
	}
	p, err := goja.Compile("rule", expression, true)
	if err != nil {
		return nil, api.NewRoutingError(api.REASON_BAD_RULE, "invalid rule %q: %v", expression, err)
	}
	e.programs[expression] = p
	return p, nil
}

// Eval returns the boolean value of expression against attributes. An
// empty expression always evaluates true.
func (e *Evaluator) Eval(expression string, attributes map[string]any) (bool, error) {
	if len(expression) == 0 {
		return true, nil
	}
	p, err := e.program(expression)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	data, err := json.Marshal(attributes)
	if err != nil {
		return false, api.NewRoutingError(api.REASON_BAD_RULE, "attributes not serializable: %v", err)
	}
	_, err = vm.RunString("var $ = " + string(data) + ";")
	if err != nil {
		return false, api.NewRoutingError(api.REASON_BAD_RULE, "error binding attributes: %v", err)
	}
	for k, v := range attributes {
		vm.Set(k, v)
	}
	val, err := vm.RunProgram(p)
	if err != nil {
		return false, api.NewRoutingError(api.REASON_BAD_RULE, "error evaluating rule %q: %v", expression, err)
	}
	return val.ToBoolean(), nil
}
