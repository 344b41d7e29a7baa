package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/soham407/sqlquest/internal/storage"
)

// ------------------------------ Three-valued logic ------------------------------

type triValue int

const (
	tvFalse triValue = iota
	tvTrue
	tvUnknown
)

func toTri(v storage.Value) triValue {
	if v.IsNull() {
		return tvUnknown
	}
	if toNumeric(v).Float64() != 0 {
		return tvTrue
	}
	return tvFalse
}

func fromTri(t triValue) storage.Value {
	switch t {
	case tvTrue:
		return storage.Int(1)
	case tvFalse:
		return storage.Int(0)
	}
	return storage.Null()
}

func triNot(t triValue) triValue {
	switch t {
	case tvTrue:
		return tvFalse
	case tvFalse:
		return tvTrue
	}
	return tvUnknown
}

func triBool(b bool) triValue {
	if b {
		return tvTrue
	}
	return tvFalse
}

// compareValues compares two non-NULL values that both come from columns. A
// number compared with text that looks like a number compares numerically.
func compareValues(a, b storage.Value) int {
	if a.IsNumeric() && b.Kind() == storage.KindText {
		if n, ok := storage.ParseNumber(b.Str()); ok {
			b = n
		}
	} else if b.IsNumeric() && a.Kind() == storage.KindText {
		if n, ok := storage.ParseNumber(a.Str()); ok {
			a = n
		}
	}
	return storage.Compare(a, b)
}

type affinity int

const (
	affNone affinity = iota
	affNumeric
	affText
)

// exprAffinity follows SQLite: column references and CASTs carry a type,
// every other expression has none. A column's affinity is read off its value,
// which storage has already coerced to the column type.
func exprAffinity(e Expr, v storage.Value) affinity {
	switch e := e.(type) {
	case *ColumnRef:
		switch {
		case v.IsNumeric():
			return affNumeric
		case v.Kind() == storage.KindText:
			return affText
		}
	case *Cast:
		if e.Type == storage.TextType {
			return affText
		}
		return affNumeric
	}
	return affNone
}

// compareExprs compares the non-NULL values of le and re. Numeric affinity on
// either side converts numeric-looking text on the other; otherwise text
// affinity renders a bare number as text. Without affinity, numbers sort
// before text and 1 = '1' is false.
func compareExprs(le, re Expr, l, r storage.Value) int {
	la, ra := exprAffinity(le, l), exprAffinity(re, r)
	switch {
	case la == affNumeric && ra != affNumeric:
		r = applyNumeric(r)
	case ra == affNumeric && la != affNumeric:
		l = applyNumeric(l)
	case la == affText && ra == affNone && r.IsNumeric():
		r = storage.Text(r.Str())
	case ra == affText && la == affNone && l.IsNumeric():
		l = storage.Text(l.Str())
	}
	return storage.Compare(l, r)
}

func applyNumeric(v storage.Value) storage.Value {
	if v.Kind() == storage.KindText {
		if n, ok := storage.ParseNumber(v.Str()); ok {
			return n
		}
	}
	return v
}

// compareSQL is SQL equality: unknown when either side is NULL.
func compareSQL(a, b storage.Value) triValue {
	if a.IsNull() || b.IsNull() {
		return tvUnknown
	}
	return triBool(compareValues(a, b) == 0)
}

// predicate evaluates e as a filter condition: only true passes.
func (ex *executor) predicate(e Expr, sc *scope) (bool, error) {
	v, err := ex.eval(e, sc)
	if err != nil {
		return false, err
	}
	return toTri(v) == tvTrue, nil
}

// ------------------------------ Evaluation ------------------------------

func (ex *executor) eval(e Expr, sc *scope) (storage.Value, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Val, nil
	case *ColumnRef:
		return ex.evalColumn(x, sc)
	case *Unary:
		return ex.evalUnary(x, sc)
	case *Binary:
		return ex.evalBinary(x, sc)
	case *IsNull:
		v, err := ex.eval(x.X, sc)
		if err != nil {
			return v, err
		}
		return storage.Bool(v.IsNull() != x.Not), nil
	case *Between:
		return ex.evalBetween(x, sc)
	case *InList:
		return ex.evalInList(x, sc)
	case *InSubquery:
		return ex.evalInSubquery(x, sc)
	case *Like:
		return ex.evalLike(x, sc)
	case *Exists:
		rel, err := ex.runSelect(x.Sub, sc)
		if err != nil {
			return storage.Null(), err
		}
		return storage.Bool((len(rel.rows) > 0) != x.Not), nil
	case *ScalarSubquery:
		rel, err := ex.runSelect(x.Sub, sc)
		if err != nil {
			return storage.Null(), err
		}
		if len(rel.cols) != 1 {
			return storage.Null(), fmt.Errorf("sub-select returns %d columns - expected 1", len(rel.cols))
		}
		if len(rel.rows) == 0 {
			return storage.Null(), nil
		}
		return rel.rows[0][0], nil
	case *Case:
		return ex.evalCase(x, sc)
	case *Cast:
		v, err := ex.eval(x.X, sc)
		if err != nil || v.IsNull() {
			return v, err
		}
		return castValue(v, x.Type), nil
	case *FuncCall:
		return ex.evalFuncCall(x, sc)
	}
	return storage.Null(), fmt.Errorf("unsupported expression %T", e)
}

func (ex *executor) evalColumn(ref *ColumnRef, sc *scope) (storage.Value, error) {
	v, err := sc.resolve(ref)
	if err == nil || ref.Table != "" {
		return v, err
	}
	for s := sc; s != nil; s = s.outer {
		target, ok := s.aliases.lookup(ref.Name)
		if !ok {
			continue
		}
		key := strings.ToLower(ref.Name)
		if s.aliases.active[key] {
			break
		}
		s.aliases.active[key] = true
		v, aerr := ex.eval(target, s)
		delete(s.aliases.active, key)
		return v, aerr
	}
	return v, err
}

func (ex *executor) evalUnary(u *Unary, sc *scope) (storage.Value, error) {
	v, err := ex.eval(u.X, sc)
	if err != nil {
		return v, err
	}
	switch u.Op {
	case "NOT":
		return fromTri(triNot(toTri(v))), nil
	case "+":
		return v, nil
	}
	if v.IsNull() {
		return v, nil
	}
	n := toNumeric(v)
	if n.Kind() == storage.KindInt {
		if n.Int64() == math.MinInt64 {
			return storage.Float(-n.Float64()), nil
		}
		return storage.Int(-n.Int64()), nil
	}
	return storage.Float(-n.Float64()), nil
}

func (ex *executor) evalBinary(b *Binary, sc *scope) (storage.Value, error) {
	if b.Op == "AND" || b.Op == "OR" {
		return ex.evalLogical(b, sc)
	}
	l, err := ex.eval(b.L, sc)
	if err != nil {
		return l, err
	}
	r, err := ex.eval(b.R, sc)
	if err != nil {
		return r, err
	}
	switch b.Op {
	case "IS", "IS NOT":
		same := (l.IsNull() && r.IsNull()) || (!l.IsNull() && !r.IsNull() && compareExprs(b.L, b.R, l, r) == 0)
		return storage.Bool(same == (b.Op == "IS")), nil
	case "||":
		if l.IsNull() || r.IsNull() {
			return storage.Null(), nil
		}
		return storage.Text(l.Str() + r.Str()), nil
	case "=", "<>", "<", "<=", ">", ">=":
		if l.IsNull() || r.IsNull() {
			return storage.Null(), nil
		}
		c := compareExprs(b.L, b.R, l, r)
		var ok bool
		switch b.Op {
		case "=":
			ok = c == 0
		case "<>":
			ok = c != 0
		case "<":
			ok = c < 0
		case "<=":
			ok = c <= 0
		case ">":
			ok = c > 0
		case ">=":
			ok = c >= 0
		}
		return storage.Bool(ok), nil
	}
	return arithmetic(b.Op, l, r)
}

// evalLogical short-circuits AND/OR with three-valued logic.
func (ex *executor) evalLogical(b *Binary, sc *scope) (storage.Value, error) {
	lv, err := ex.eval(b.L, sc)
	if err != nil {
		return lv, err
	}
	l := toTri(lv)
	if b.Op == "AND" && l == tvFalse {
		return fromTri(tvFalse), nil
	}
	if b.Op == "OR" && l == tvTrue {
		return fromTri(tvTrue), nil
	}
	rv, err := ex.eval(b.R, sc)
	if err != nil {
		return rv, err
	}
	r := toTri(rv)
	if b.Op == "AND" {
		switch {
		case r == tvFalse:
			return fromTri(tvFalse), nil
		case l == tvTrue && r == tvTrue:
			return fromTri(tvTrue), nil
		}
		return fromTri(tvUnknown), nil
	}
	switch {
	case r == tvTrue:
		return fromTri(tvTrue), nil
	case l == tvFalse && r == tvFalse:
		return fromTri(tvFalse), nil
	}
	return fromTri(tvUnknown), nil
}

// arithmetic applies + - * / %. Integer operands stay integers (division
// truncates); division or modulo by zero yields NULL.
func arithmetic(op string, l, r storage.Value) (storage.Value, error) {
	if l.IsNull() || r.IsNull() {
		return storage.Null(), nil
	}
	l, r = toNumeric(l), toNumeric(r)
	if op == "%" {
		d := r.Int64()
		if d == 0 {
			return storage.Null(), nil
		}
		if l.Kind() == storage.KindInt && r.Kind() == storage.KindInt {
			return storage.Int(l.Int64() % d), nil
		}
		return storage.Float(float64(l.Int64() % d)), nil
	}
	if l.Kind() == storage.KindInt && r.Kind() == storage.KindInt {
		a, b := l.Int64(), r.Int64()
		switch op {
		case "+":
			if s := a + b; (s > a) == (b > 0) {
				return storage.Int(s), nil
			}
		case "-":
			if d := a - b; (d < a) == (b > 0) {
				return storage.Int(d), nil
			}
		case "*":
			if a == 0 || b == 0 {
				return storage.Int(0), nil
			}
			if p := a * b; p/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
				return storage.Int(p), nil
			}
		case "/":
			if b == 0 {
				return storage.Null(), nil
			}
			if !(a == math.MinInt64 && b == -1) {
				return storage.Int(a / b), nil
			}
		default:
			return storage.Null(), fmt.Errorf("unknown operator %s", op)
		}
		// Integer overflow falls back to floating point.
	}
	a, b := l.Float64(), r.Float64()
	switch op {
	case "+":
		return storage.Float(a + b), nil
	case "-":
		return storage.Float(a - b), nil
	case "*":
		return storage.Float(a * b), nil
	case "/":
		if b == 0 {
			return storage.Null(), nil
		}
		return storage.Float(a / b), nil
	}
	return storage.Null(), fmt.Errorf("unknown operator %s", op)
}

func (ex *executor) evalBetween(bt *Between, sc *scope) (storage.Value, error) {
	x, err := ex.eval(bt.X, sc)
	if err != nil {
		return x, err
	}
	lo, err := ex.eval(bt.Lo, sc)
	if err != nil {
		return lo, err
	}
	hi, err := ex.eval(bt.Hi, sc)
	if err != nil {
		return hi, err
	}
	ge := triUnknownOr(x, lo, func() bool { return compareExprs(bt.X, bt.Lo, x, lo) >= 0 })
	le := triUnknownOr(x, hi, func() bool { return compareExprs(bt.X, bt.Hi, x, hi) <= 0 })
	var t triValue
	switch {
	case ge == tvFalse || le == tvFalse:
		t = tvFalse
	case ge == tvTrue && le == tvTrue:
		t = tvTrue
	default:
		t = tvUnknown
	}
	if bt.Not {
		t = triNot(t)
	}
	return fromTri(t), nil
}

func triUnknownOr(a, b storage.Value, ok func() bool) triValue {
	if a.IsNull() || b.IsNull() {
		return tvUnknown
	}
	return triBool(ok())
}

// inResult folds membership: true on a match, unknown if no match but a NULL
// was seen, false otherwise. eq compares x with the i-th candidate.
func inResult(x storage.Value, candidates []storage.Value, not bool, eq func(i int) bool) storage.Value {
	if x.IsNull() {
		return storage.Null()
	}
	t := tvFalse
	for i, c := range candidates {
		cmp := tvUnknown
		if !c.IsNull() {
			cmp = triBool(eq(i))
		}
		switch cmp {
		case tvTrue:
			t = tvTrue
		case tvUnknown:
			t = tvUnknown
		}
		if t == tvTrue {
			break
		}
	}
	if not {
		t = triNot(t)
	}
	return fromTri(t)
}

func (ex *executor) evalInList(in *InList, sc *scope) (storage.Value, error) {
	x, err := ex.eval(in.X, sc)
	if err != nil {
		return x, err
	}
	vals := make([]storage.Value, len(in.List))
	for i, e := range in.List {
		if vals[i], err = ex.eval(e, sc); err != nil {
			return storage.Null(), err
		}
	}
	return inResult(x, vals, in.Not, func(i int) bool {
		return compareExprs(in.X, in.List[i], x, vals[i]) == 0
	}), nil
}

func (ex *executor) evalInSubquery(in *InSubquery, sc *scope) (storage.Value, error) {
	x, err := ex.eval(in.X, sc)
	if err != nil {
		return x, err
	}
	rel, err := ex.runSelect(in.Sub, sc)
	if err != nil {
		return storage.Null(), err
	}
	if len(rel.cols) != 1 {
		return storage.Null(), fmt.Errorf("sub-select returns %d columns - expected 1", len(rel.cols))
	}
	vals := make([]storage.Value, len(rel.rows))
	for i, r := range rel.rows {
		vals[i] = r[0]
	}
	// The sub-select's column counts as a column reference.
	return inResult(x, vals, in.Not, func(i int) bool {
		return compareExprs(in.X, &ColumnRef{}, x, vals[i]) == 0
	}), nil
}

func (ex *executor) evalLike(lk *Like, sc *scope) (storage.Value, error) {
	x, err := ex.eval(lk.X, sc)
	if err != nil {
		return x, err
	}
	pat, err := ex.eval(lk.Pattern, sc)
	if err != nil {
		return pat, err
	}
	var esc rune
	if lk.Escape != nil {
		ev, err := ex.eval(lk.Escape, sc)
		if err != nil {
			return ev, err
		}
		if ev.IsNull() {
			return storage.Null(), nil
		}
		if utf8.RuneCountInString(ev.Str()) != 1 {
			return storage.Null(), fmt.Errorf("ESCAPE expression must be a single character")
		}
		esc, _ = utf8.DecodeRuneInString(ev.Str())
	}
	if x.IsNull() || pat.IsNull() {
		return storage.Null(), nil
	}
	return storage.Bool(likeMatch(x.Str(), pat.Str(), esc) != lk.Not), nil
}

func (ex *executor) evalCase(c *Case, sc *scope) (storage.Value, error) {
	var operand storage.Value
	if c.Operand != nil {
		var err error
		if operand, err = ex.eval(c.Operand, sc); err != nil {
			return operand, err
		}
	}
	for _, w := range c.Whens {
		cond, err := ex.eval(w.Cond, sc)
		if err != nil {
			return cond, err
		}
		hit := false
		if c.Operand != nil {
			hit = !operand.IsNull() && !cond.IsNull() && compareExprs(c.Operand, w.Cond, operand, cond) == 0
		} else {
			hit = toTri(cond) == tvTrue
		}
		if hit {
			return ex.eval(w.Result, sc)
		}
	}
	if c.Else != nil {
		return ex.eval(c.Else, sc)
	}
	return storage.Null(), nil
}

// castValue converts a non-NULL value. Text that is not a number casts to 0,
// and a float cast to an integer truncates, saturating at the int64 range.
func castValue(v storage.Value, typ storage.ColType) storage.Value {
	switch typ {
	case storage.IntType:
		n := v
		if v.Kind() == storage.KindText {
			n = numericPrefix(v.Str())
		}
		return storage.Int(n.Int64())
	case storage.FloatType:
		if v.Kind() == storage.KindText {
			return storage.Float(numericPrefix(v.Str()).Float64())
		}
		return storage.Float(v.Float64())
	}
	return storage.Text(v.Str())
}

// numericPrefix parses the longest leading number of s ("12abc" is 12).
func numericPrefix(s string) storage.Value {
	s = strings.TrimSpace(s)
	best := storage.Int(0)
	for i := 1; i <= len(s); i++ {
		if n, ok := storage.ParseNumber(s[:i]); ok {
			best = n
		}
	}
	return best
}

func (ex *executor) evalFuncCall(fc *FuncCall, sc *scope) (storage.Value, error) {
	if isAggregateCall(fc) {
		return ex.evalAggregate(fc, sc)
	}
	if fc.Star || fc.Distinct {
		return storage.Null(), fmt.Errorf("%w %s()", ErrAggregateMisuse, fc.Name)
	}
	args := make([]storage.Value, len(fc.Args))
	for i, a := range fc.Args {
		v, err := ex.eval(a, sc)
		if err != nil {
			return v, err
		}
		args[i] = v
	}
	return callScalar(fc.Name, args)
}

func (ex *executor) evalAggregate(fc *FuncCall, sc *scope) (storage.Value, error) {
	if sc.group == nil {
		return storage.Null(), fmt.Errorf("%w %s()", ErrAggregateMisuse, fc.Name)
	}
	if fc.Star {
		if fc.Name != "COUNT" {
			return storage.Null(), fmt.Errorf("wrong number of arguments to function %s()", fc.Name)
		}
		return storage.Int(int64(len(sc.group))), nil
	}
	want := 1
	if fc.Name == "GROUP_CONCAT" && len(fc.Args) == 2 {
		want = 2
	}
	if len(fc.Args) != want {
		return storage.Null(), fmt.Errorf("wrong number of arguments to function %s()", fc.Name)
	}
	vals := make([]storage.Value, len(sc.group))
	sep := ","
	for i, r := range sc.group {
		if err := ex.checkCtx(); err != nil {
			return storage.Null(), err
		}
		rowScope := &scope{cols: sc.cols, row: r, aliases: sc.aliases, outer: sc.outer}
		v, err := ex.eval(fc.Args[0], rowScope)
		if err != nil {
			return v, err
		}
		vals[i] = v
		if i == 0 && want == 2 {
			sv, err := ex.eval(fc.Args[1], rowScope)
			if err != nil {
				return sv, err
			}
			sep = sv.Str()
		}
	}
	return aggregate(fc, vals, sep)
}
