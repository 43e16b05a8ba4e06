package gxps

import (
	"math"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/gxps/pkg/ast"
	"github.com/gxps/pkg/shapes"
	"github.com/pkg/errors"
)

var (
	ErrSelfReference     = errors.Wrap(ErrValidation, "expression references its own peak")
	ErrCircularReference = errors.Wrap(ErrValidation, "circular peak reference")
)

var exprParser = participle.MustBuild[ast.Expression]()

type node interface {
	eval() (float64, error)
}

type number float64

func (n number) eval() (float64, error) {
	return float64(n), nil
}

// Reference to the same alias of a sibling peak
type reference struct {
	peak  *Peak
	alias shapes.Alias
}

func (r reference) eval() (float64, error) {
	par, ok := r.peak.param(r.alias)
	if !ok {
		return 0, errors.Errorf("peak %s has no %s", r.peak.name, r.alias)
	}
	return par.resolve()
}

type negation struct {
	operand node
}

func (n negation) eval() (float64, error) {
	v, err := n.operand.eval()
	return -v, err
}

type binary struct {
	op          string
	left, right node
}

func (b binary) eval() (float64, error) {
	l, err := b.left.eval()
	if err != nil {
		return 0, err
	}
	r, err := b.right.eval()
	if err != nil {
		return 0, err
	}

	var v float64
	switch b.op {
	case "+":
		v = l + r
	case "-":
		v = l - r
	case "*":
		v = l * r
	case "/":
		if r == 0 {
			return 0, errors.New("division by zero")
		}
		v = l / r
	default:
		return 0, errors.Errorf("unknown operator %q", b.op)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("expression is not finite")
	}
	return v, nil
}

// A parsed constraint expression, bound to the peaks it references
type expression struct {
	// as entered by the user
	source string
	root   node
	refs   []reference
}

func (e *expression) eval() (float64, error) {
	return e.root.eval()
}

func (e *expression) references(p *Peak) bool {
	for _, r := range e.refs {
		if r.peak == p {
			return true
		}
	}
	return false
}

// Binds the AST of one expression to the peaks of a spectrum
type binder struct {
	spectrum *ModeledSpectrum
	owner    *Peak
	alias    shapes.Alias
	refs     []reference
}

// compileExpression parses src as the constraint of owner's alias. Every
// identifier names a sibling peak and stands for that peak's same alias.
func (m *ModeledSpectrum) compileExpression(src string, owner *Peak, alias shapes.Alias) (*expression, error) {
	tree, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, errors.Wrapf(ErrValidation, "invalid expression %q: %v", src, err)
	}

	b := &binder{spectrum: m, owner: owner, alias: alias}
	root, err := b.expression(tree)
	if err != nil {
		return nil, err
	}
	expr := &expression{source: src, root: root, refs: b.refs}
	if err := checkCycle(owner, alias, expr); err != nil {
		return nil, err
	}
	return expr, nil
}

func (b *binder) expression(e *ast.Expression) (node, error) {
	n, err := b.term(e.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range e.Right {
		r, err := b.term(op.Term)
		if err != nil {
			return nil, err
		}
		n = binary{op: op.Operator, left: n, right: r}
	}
	return n, nil
}

func (b *binder) term(t *ast.Term) (node, error) {
	n, err := b.factor(t.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range t.Right {
		r, err := b.factor(op.Factor)
		if err != nil {
			return nil, err
		}
		n = binary{op: op.Operator, left: n, right: r}
	}
	return n, nil
}

func (b *binder) factor(f *ast.Factor) (node, error) {
	var (
		n   node
		err error
	)
	switch {
	case f.Number != nil:
		n = number(*f.Number)
	case f.Ref != nil:
		n, err = b.reference(*f.Ref)
	case f.Sub != nil:
		n, err = b.expression(f.Sub)
	default:
		err = errors.Wrap(ErrValidation, "empty expression factor")
	}
	if err != nil {
		return nil, err
	}
	if f.Negated {
		n = negation{operand: n}
	}
	return n, nil
}

func (b *binder) reference(name string) (node, error) {
	if strings.EqualFold(name, b.owner.name) {
		return nil, errors.Wrapf(ErrSelfReference, "%s.%s", b.owner.name, b.alias)
	}
	peak, ok := b.spectrum.Peak(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPeak, "%q in expression", name)
	}
	if _, ok := peak.param(b.alias); !ok {
		return nil, errors.Wrapf(ErrValidation, "peak %s (%s) has no %s", peak.name, peak.shape, b.alias)
	}
	ref := reference{peak: peak, alias: b.alias}
	b.refs = append(b.refs, ref)
	return ref, nil
}

type paramKey struct {
	peak  *Peak
	alias shapes.Alias
}

// checkCycle walks the references of expr and fails if any path leads back
// to the parameter it is meant to constrain
func checkCycle(owner *Peak, alias shapes.Alias, expr *expression) error {
	visited := make(map[paramKey]bool)

	var visit func(r reference) error
	visit = func(r reference) error {
		if r.peak == owner && r.alias == alias {
			return errors.Wrapf(ErrCircularReference, "%s.%s", owner.name, alias)
		}
		key := paramKey{r.peak, r.alias}
		if visited[key] {
			return nil
		}
		visited[key] = true

		par, ok := r.peak.param(r.alias)
		if !ok || par.expr == nil {
			return nil
		}
		for _, next := range par.expr.refs {
			if err := visit(next); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range expr.refs {
		if err := visit(r); err != nil {
			return err
		}
	}
	return nil
}
