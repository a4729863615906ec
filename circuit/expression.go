package circuit

import (
	"math/big"
	"regexp"
	"strings"

	"go.dedis.ch/mpcluster/crypto/field"
	"go.dedis.ch/mpcluster/peer"
	"golang.org/x/xerrors"
)

var (
	validExpression = regexp.MustCompile(`^[a-zA-Z0-9_\+\-\*\/\^()\.]+$`).MatchString
	isOperand       = regexp.MustCompile(`^[a-zA-Z0-9_\.]+$`).MatchString
	isNumber        = regexp.MustCompile(`^[0-9]+$`).MatchString
)

// FromExpression compiles an infix expression over variables and integer
// constants into a circuit with one output. Supported operators are + - * and
// ^ with a constant exponent. Variables become inputs in order of first
// appearance. '+' and '-' are binary only.
func FromExpression(name, expr string) (*Circuit, error) {
	postfix, err := infixToPostfix(expr)
	if err != nil {
		return nil, &peer.CircuitError{Source: name, Err: err}
	}

	b := newBuilder()

	for _, token := range postfix {
		switch token {
		case "+", "-", "*", "^", "/":
			err = b.apply(token)
		default:
			b.push(token)
		}
		if err != nil {
			return nil, &peer.CircuitError{Source: name, Err: err}
		}
	}

	if len(b.stack) != 1 {
		return nil, peer.NewCircuitError(name, "malformed expression %q", expr)
	}

	out := b.wire(b.stack[0])
	return b.circuit(name, out)
}

// InputNames returns the variables of an expression in the order
// FromExpression assigns them to input wires.
func InputNames(expr string) ([]string, error) {
	postfix, err := infixToPostfix(expr)
	if err != nil {
		return nil, err
	}

	names := []string{}
	seen := map[string]struct{}{}
	for _, token := range postfix {
		if !isOperand(token) || isNumber(token) {
			continue
		}
		if _, ok := seen[token]; !ok {
			seen[token] = struct{}{}
			names = append(names, token)
		}
	}
	return names, nil
}

func infixToPostfix(infix string) ([]string, error) {
	infix = strings.ReplaceAll(infix, " ", "")
	if !validExpression(infix) {
		return nil, xerrors.Errorf("expression contains illegal character")
	}

	s := Stack{}
	postfix := []string{}

	curOperand := ""
	for _, char := range infix {
		opchar := string(char)
		if isOperand(opchar) {
			curOperand += opchar
			continue
		}
		if curOperand != "" {
			postfix = append(postfix, curOperand)
		}
		curOperand = ""

		switch char {
		case '(':
			s.Push(opchar)
		case ')':
			for s.Top() != "(" {
				if s.IsEmpty() {
					return nil, xerrors.Errorf("unbalanced parenthesis")
				}
				postfix = append(postfix, s.Top())
				s.Pop()
			}
			s.Pop()
		default:
			for !s.IsEmpty() && prec(opchar) <= prec(s.Top()) {
				postfix = append(postfix, s.Top())
				s.Pop()
			}
			s.Push(opchar)
		}
	}
	if curOperand != "" {
		postfix = append(postfix, curOperand)
	}

	for !s.IsEmpty() {
		if s.Top() == "(" {
			return nil, xerrors.Errorf("unbalanced parenthesis")
		}
		postfix = append(postfix, s.Top())
		s.Pop()
	}
	return postfix, nil
}

// Stack is a stack of tokens.
type Stack []string

// IsEmpty checks if the stack is empty.
func (st *Stack) IsEmpty() bool {
	return len(*st) == 0
}

// Push a new value onto the stack.
func (st *Stack) Push(str string) {
	*st = append(*st, str)
}

// Pop removes the top element. Returns false if the stack is empty.
func (st *Stack) Pop() bool {
	if st.IsEmpty() {
		return false
	}
	*st = (*st)[:len(*st)-1]
	return true
}

// Top returns the top element, or "" if the stack is empty.
func (st *Stack) Top() string {
	if st.IsEmpty() {
		return ""
	}
	return (*st)[len(*st)-1]
}

// prec returns the precedence of an operator.
func prec(s string) int {
	switch s {
	case "^":
		return 3
	case "*", "/":
		return 2
	case "+", "-":
		return 1
	default:
		return -1
	}
}

// operand is either a wire or a constant that has not been materialized.
type operand struct {
	wire    int
	isConst bool
	value   field.Element
	exp     *big.Int
}

type builder struct {
	names  []string
	vars   map[string]int
	gates  []pendingGate
	stack  []operand
	consts map[string]int
}

type pendingGate struct {
	op    Op
	in    []int
	value field.Element
}

func newBuilder() *builder {
	return &builder{
		vars:   map[string]int{},
		consts: map[string]int{},
	}
}

func (b *builder) push(token string) {
	if isNumber(token) {
		v, _ := new(big.Int).SetString(token, 10)
		b.stack = append(b.stack, operand{isConst: true, value: field.FromBig(v), exp: v})
		return
	}

	idx, ok := b.vars[token]
	if !ok {
		idx = len(b.names)
		b.vars[token] = idx
		b.names = append(b.names, token)
	}
	b.stack = append(b.stack, operand{wire: -1 - idx})
}

// gate records a gate and returns the operand of its output. Input wires are
// encoded as negative numbers until the input count is known.
func (b *builder) gate(op Op, value field.Element, in ...int) operand {
	b.gates = append(b.gates, pendingGate{op: op, in: in, value: value})
	return operand{wire: len(b.gates) - 1}
}

func (b *builder) wire(o operand) int {
	if !o.isConst {
		return o.wire
	}

	key := o.value.String()
	if w, ok := b.consts[key]; ok {
		return w
	}
	w := b.gate(OpConst, o.value).wire
	b.consts[key] = w
	return w
}

func (b *builder) apply(op string) error {
	if len(b.stack) < 2 {
		return xerrors.Errorf("operator %s is missing an operand", op)
	}
	x, y := b.stack[len(b.stack)-2], b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-2]

	var res operand
	var err error

	switch op {
	case "+":
		res = b.add(x, y)
	case "-":
		res = b.sub(x, y)
	case "*":
		res = b.mul(x, y)
	case "^":
		res, err = b.pow(x, y)
	default:
		err = xerrors.Errorf("operator %s is not supported", op)
	}
	if err != nil {
		return err
	}

	b.stack = append(b.stack, res)
	return nil
}

func constant(v field.Element) operand {
	return operand{isConst: true, value: v, exp: v.Big()}
}

func (b *builder) add(x, y operand) operand {
	switch {
	case x.isConst && y.isConst:
		return constant(x.value.Add(y.value))
	case x.isConst:
		return b.gate(OpAddConst, x.value, y.wire)
	case y.isConst:
		return b.gate(OpAddConst, y.value, x.wire)
	default:
		return b.gate(OpAdd, field.Zero(), x.wire, y.wire)
	}
}

func (b *builder) sub(x, y operand) operand {
	switch {
	case x.isConst && y.isConst:
		return constant(x.value.Sub(y.value))
	case x.isConst:
		neg := b.gate(OpNeg, field.Zero(), y.wire)
		return b.gate(OpAddConst, x.value, neg.wire)
	case y.isConst:
		return b.gate(OpAddConst, y.value.Neg(), x.wire)
	default:
		return b.gate(OpSub, field.Zero(), x.wire, y.wire)
	}
}

func (b *builder) mul(x, y operand) operand {
	switch {
	case x.isConst && y.isConst:
		return constant(x.value.Mul(y.value))
	case x.isConst:
		return b.gate(OpMulConst, x.value, y.wire)
	case y.isConst:
		return b.gate(OpMulConst, y.value, x.wire)
	default:
		return b.gate(OpMul, field.Zero(), x.wire, y.wire)
	}
}

func (b *builder) pow(x, y operand) (operand, error) {
	if !y.isConst {
		return operand{}, xerrors.Errorf("exponent must be a constant")
	}
	if !y.exp.IsUint64() {
		return operand{}, xerrors.Errorf("exponent %s is too large", y.exp)
	}
	k := y.exp.Uint64()

	if x.isConst {
		return constant(x.value.Pow(k)), nil
	}
	if k == 0 {
		return constant(field.One()), nil
	}

	// square and multiply, most significant bit first
	res := x
	for i := bitLen(k) - 2; i >= 0; i-- {
		res = b.mul(res, res)
		if k>>uint(i)&1 == 1 {
			res = b.mul(res, x)
		}
	}
	return res, nil
}

func bitLen(k uint64) int {
	n := 0
	for k > 0 {
		n++
		k >>= 1
	}
	return n
}

func (b *builder) circuit(name string, out int) (*Circuit, error) {
	inputs := len(b.names)
	resolve := func(w int) int {
		if w < 0 {
			return -1 - w
		}
		return inputs + w
	}

	gates := make([]Gate, len(b.gates))
	for i, g := range b.gates {
		in := make([]int, len(g.in))
		for j, w := range g.in {
			in[j] = resolve(w)
		}
		gates[i] = Gate{Op: g.op, In: in, Const: g.value, Out: inputs + i}
	}

	return New(name, inputs, gates, []int{resolve(out)})
}
