package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/soham407/sqlquest/internal/storage"
)

// ResultSet is the tabular output of a query.
type ResultSet struct {
	Cols []string
	Rows [][]storage.Value
}

// Options bound a single execution.
type Options struct {
	// MaxRows caps the size of every relation built while executing,
	// including join products and subquery results. Zero means no cap.
	MaxRows int
}

// ExecScript runs the statements of sc in order against db and returns the
// result set of the first statement that produces one (nil if none does).
// Execution stops at the first failing statement; earlier statements stay
// applied and the failing one leaves no partial changes. Failures are
// reported as *RuntimeError.
func ExecScript(ctx context.Context, db *storage.DB, sc *Script, opts Options) (*ResultSet, error) {
	var first *ResultSet
	for i, st := range sc.Statements {
		rs, err := Execute(ctx, db, st, opts)
		if err != nil {
			return nil, &RuntimeError{Statement: i + 1, Err: err}
		}
		if rs != nil && first == nil {
			first = rs
		}
	}
	return first, nil
}

// Execute runs one statement. Queries return a result set; other statements
// return nil.
func Execute(ctx context.Context, db *storage.DB, st Statement, opts Options) (*ResultSet, error) {
	ex := &executor{ctx: ctx, db: db, maxRows: opts.MaxRows}
	switch s := st.(type) {
	case *Select:
		rel, err := ex.runSelect(s, nil)
		if err != nil {
			return nil, err
		}
		return &ResultSet{Cols: rel.names(), Rows: rel.rows}, nil
	case *CreateTable:
		return nil, ex.executeCreateTable(s)
	case *DropTable:
		return nil, ex.executeDropTable(s)
	case *AlterTable:
		return nil, ex.executeAlterTable(s)
	case *Insert:
		return nil, ex.executeInsert(s)
	case *Update:
		return nil, ex.executeUpdate(s)
	case *Delete:
		return nil, ex.executeDelete(s)
	case *TxControl:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported statement %T", st)
}

// ------------------------------ Relations ------------------------------

type colInfo struct {
	table  string // alias or table name the column is reachable through
	name   string
	hidden bool // merged away by USING / NATURAL
}

type relation struct {
	cols []colInfo
	rows [][]storage.Value
}

func (r *relation) names() []string {
	out := make([]string, len(r.cols))
	for i, c := range r.cols {
		out[i] = c.name
	}
	return out
}

// scope is the evaluation environment of one row. group is set while
// evaluating aggregate queries and holds every row of the current group.
type scope struct {
	cols    []colInfo
	row     []storage.Value
	group   [][]storage.Value
	aliases *aliasSet
	outer   *scope
}

// aliasSet exposes result-column aliases to WHERE, HAVING and ORDER BY as a
// fallback for names that match no source column.
type aliasSet struct {
	items  []projItem
	active map[string]bool
}

func (a *aliasSet) lookup(name string) (Expr, bool) {
	if a == nil {
		return nil, false
	}
	for _, it := range a.items {
		if it.alias != "" && strings.EqualFold(it.alias, name) {
			return it.expr, true
		}
	}
	return nil, false
}

func (sc *scope) resolve(ref *ColumnRef) (storage.Value, error) {
	for s := sc; s != nil; s = s.outer {
		idx := -1
		for i, c := range s.cols {
			if !strings.EqualFold(c.name, ref.Name) {
				continue
			}
			if ref.Table != "" {
				if !strings.EqualFold(c.table, ref.Table) {
					continue
				}
			} else if c.hidden {
				continue
			}
			if idx >= 0 {
				return storage.Null(), fmt.Errorf("ambiguous column name: %s", refName(ref))
			}
			idx = i
		}
		if idx >= 0 {
			if s.row == nil {
				return storage.Null(), nil
			}
			return s.row[idx], nil
		}
	}
	return storage.Null(), fmt.Errorf("no such column: %s", refName(ref))
}

func refName(ref *ColumnRef) string {
	if ref.Table != "" {
		return ref.Table + "." + ref.Name
	}
	return ref.Name
}

type executor struct {
	ctx     context.Context
	db      *storage.DB
	maxRows int
	ctes    []map[string]*relation
	ticks   int
}

// checkCtx polls the context every few hundred row operations.
func (ex *executor) checkCtx() error {
	ex.ticks++
	if ex.ticks&255 != 0 || ex.ctx == nil {
		return nil
	}
	return ex.ctx.Err()
}

func (ex *executor) checkRows(n int) error {
	if ex.maxRows > 0 && n > ex.maxRows {
		return fmt.Errorf("%w: more than %d rows", ErrRowLimit, ex.maxRows)
	}
	return nil
}

// ------------------------------ DDL ------------------------------

func (ex *executor) executeCreateTable(s *CreateTable) error {
	if ex.db.Has(s.Name) {
		if s.IfNotExists {
			return nil
		}
		return fmt.Errorf("table %s %w", s.Name, storage.ErrTableExists)
	}
	if s.AsSelect == nil {
		// Parsed scripts are cached and shared, so the table gets its own
		// column slice.
		return ex.db.Put(storage.NewTable(s.Name, slices.Clone(s.Cols)))
	}
	rel, err := ex.runSelect(s.AsSelect, nil)
	if err != nil {
		return err
	}
	cols := make([]storage.Column, len(rel.cols))
	for i, c := range rel.cols {
		cols[i] = storage.Column{Name: c.name, Type: inferType(rel.rows, i)}
	}
	t := storage.NewTable(s.Name, cols)
	rows := storage.CloneRows(rel.rows)
	for _, r := range rows {
		for i := range r {
			if r[i], err = t.Coerce(i, r[i]); err != nil {
				return err
			}
		}
	}
	if err := t.Replace(rows); err != nil {
		return err
	}
	return ex.db.Put(t)
}

// inferType picks a column affinity from the first non-NULL value.
func inferType(rows [][]storage.Value, col int) storage.ColType {
	for _, r := range rows {
		switch r[col].Kind() {
		case storage.KindInt:
			return storage.IntType
		case storage.KindFloat:
			return storage.FloatType
		case storage.KindText:
			return storage.TextType
		}
	}
	return storage.TextType
}

func (ex *executor) executeDropTable(s *DropTable) error {
	err := ex.db.Drop(s.Name)
	if s.IfExists && errors.Is(err, storage.ErrNoSuchTable) {
		return nil
	}
	return err
}

func (ex *executor) executeAlterTable(s *AlterTable) error {
	t, err := ex.db.Get(s.Name)
	if err != nil {
		return err
	}
	switch {
	case s.AddColumn != nil:
		return t.AddColumn(*s.AddColumn)
	case s.RenameTo != "":
		return ex.db.Rename(s.Name, s.RenameTo)
	}
	return t.RenameColumn(s.RenameCol[0], s.RenameCol[1])
}

// ------------------------------ DML ------------------------------

func (ex *executor) executeInsert(s *Insert) error {
	t, err := ex.db.Get(s.Table)
	if err != nil {
		return err
	}
	target := make([]int, 0, len(t.Cols))
	if len(s.Cols) == 0 {
		for i := range t.Cols {
			target = append(target, i)
		}
	} else {
		seen := map[int]bool{}
		for _, name := range s.Cols {
			i, err := t.ColIndex(name)
			if err != nil {
				return fmt.Errorf("table %s has no column named %s", t.Name, name)
			}
			if seen[i] {
				return fmt.Errorf("column %s specified more than once", name)
			}
			seen[i] = true
			target = append(target, i)
		}
	}

	var input [][]storage.Value
	if s.Query != nil {
		rel, err := ex.runSelect(s.Query, nil)
		if err != nil {
			return err
		}
		input = rel.rows
	} else {
		for _, exprs := range s.Rows {
			row := make([]storage.Value, len(exprs))
			for i, e := range exprs {
				if row[i], err = ex.eval(e, &scope{}); err != nil {
					return err
				}
			}
			input = append(input, row)
		}
	}

	fresh := make([][]storage.Value, 0, len(input))
	for _, in := range input {
		if len(in) != len(target) && !(len(in) == 0 && s.Query == nil) {
			if len(s.Cols) == 0 {
				return fmt.Errorf("table %s has %d columns but %d values were supplied", t.Name, len(t.Cols), len(in))
			}
			return fmt.Errorf("%d values for %d columns", len(in), len(target))
		}
		row := make([]storage.Value, len(t.Cols))
		for i, c := range t.Cols {
			if c.Default != nil {
				row[i] = *c.Default
			}
		}
		for k, v := range in {
			row[target[k]] = v
		}
		for i := range row {
			if row[i], err = t.Coerce(i, row[i]); err != nil {
				return err
			}
		}
		fresh = append(fresh, row)
	}
	if err := ex.checkRows(len(t.Rows) + len(fresh)); err != nil {
		return err
	}
	rows := make([][]storage.Value, 0, len(t.Rows)+len(fresh))
	rows = append(rows, t.Rows...)
	rows = append(rows, fresh...)
	return t.Replace(rows)
}

func tableScopeCols(t *storage.Table, alias string) []colInfo {
	name := t.Name
	if alias != "" {
		name = alias
	}
	cols := make([]colInfo, len(t.Cols))
	for i, c := range t.Cols {
		cols[i] = colInfo{table: name, name: c.Name}
	}
	return cols
}

func (ex *executor) executeUpdate(s *Update) error {
	t, err := ex.db.Get(s.Table)
	if err != nil {
		return err
	}
	targets := make([]int, len(s.Sets))
	for i, a := range s.Sets {
		if targets[i], err = t.ColIndex(a.Col); err != nil {
			return fmt.Errorf("no such column: %s", a.Col)
		}
	}
	cols := tableScopeCols(t, s.Alias)
	rows := make([][]storage.Value, len(t.Rows))
	for ri, r := range t.Rows {
		if err := ex.checkCtx(); err != nil {
			return err
		}
		sc := &scope{cols: cols, row: r}
		match := true
		if s.Where != nil {
			if match, err = ex.predicate(s.Where, sc); err != nil {
				return err
			}
		}
		if !match {
			rows[ri] = r
			continue
		}
		nr := make([]storage.Value, len(r))
		copy(nr, r)
		for i, a := range s.Sets {
			v, err := ex.eval(a.Val, sc)
			if err != nil {
				return err
			}
			if nr[targets[i]], err = t.Coerce(targets[i], v); err != nil {
				return err
			}
		}
		rows[ri] = nr
	}
	return t.Replace(rows)
}

func (ex *executor) executeDelete(s *Delete) error {
	t, err := ex.db.Get(s.Table)
	if err != nil {
		return err
	}
	if s.Where == nil {
		return t.Replace(nil)
	}
	cols := tableScopeCols(t, "")
	var keep [][]storage.Value
	for _, r := range t.Rows {
		if err := ex.checkCtx(); err != nil {
			return err
		}
		match, err := ex.predicate(s.Where, &scope{cols: cols, row: r})
		if err != nil {
			return err
		}
		if !match {
			keep = append(keep, r)
		}
	}
	return t.Replace(keep)
}

// ------------------------------ SELECT ------------------------------

func (ex *executor) runSelect(sel *Select, outer *scope) (*relation, error) {
	if len(sel.With) > 0 {
		frame := make(map[string]*relation, len(sel.With))
		ex.ctes = append(ex.ctes, frame)
		defer func() { ex.ctes = ex.ctes[:len(ex.ctes)-1] }()
		for _, cte := range sel.With {
			rel, err := ex.runSelect(cte.Query, outer)
			if err != nil {
				return nil, err
			}
			rel = &relation{cols: append([]colInfo(nil), rel.cols...), rows: rel.rows}
			if len(cte.Cols) > 0 {
				if len(cte.Cols) != len(rel.cols) {
					return nil, fmt.Errorf("table %s has %d values for %d columns", cte.Name, len(rel.cols), len(cte.Cols))
				}
				for i, n := range cte.Cols {
					rel.cols[i].name = n
				}
			}
			for i := range rel.cols {
				rel.cols[i].table = cte.Name
				rel.cols[i].hidden = false
			}
			frame[strings.ToLower(cte.Name)] = rel
		}
	}

	var (
		rel  *relation
		keys [][]storage.Value
		err  error
	)
	if core, ok := sel.Body.(*SelectCore); ok {
		rel, keys, err = ex.runCore(core, sel.OrderBy, outer)
	} else {
		rel, err = ex.runSetExpr(sel.Body, outer)
		if err == nil && len(sel.OrderBy) > 0 {
			keys, err = outputOrderKeys(rel, sel.OrderBy)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(sel.OrderBy) > 0 {
		sortRows(rel.rows, keys, sel.OrderBy)
	}
	return ex.applyLimit(rel, sel, outer)
}

func (ex *executor) applyLimit(rel *relation, sel *Select, outer *scope) (*relation, error) {
	if sel.Limit == nil {
		return rel, nil
	}
	bound := func(e Expr, what string) (int64, error) {
		v, err := ex.eval(e, &scope{outer: outer})
		if err != nil {
			return 0, err
		}
		n, ok := storage.CoerceTo(storage.IntType, v)
		if v.IsNull() || !ok {
			return 0, fmt.Errorf("datatype mismatch: %s must be an integer", what)
		}
		return n.Int64(), nil
	}
	limit, err := bound(sel.Limit, "LIMIT")
	if err != nil {
		return nil, err
	}
	var offset int64
	if sel.Offset != nil {
		if offset, err = bound(sel.Offset, "OFFSET"); err != nil {
			return nil, err
		}
	}
	rows := rel.rows
	if offset > 0 {
		rows = rows[min(offset, int64(len(rows))):]
	}
	if limit >= 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return &relation{cols: rel.cols, rows: rows}, nil
}

func (ex *executor) runSetExpr(body SetExpr, outer *scope) (*relation, error) {
	switch b := body.(type) {
	case *SelectCore:
		rel, _, err := ex.runCore(b, nil, outer)
		return rel, err
	case *Values:
		return ex.runValues(b, outer)
	case *Compound:
		return ex.runCompound(b, outer)
	}
	return nil, fmt.Errorf("unsupported query body %T", body)
}

func (ex *executor) runValues(v *Values, outer *scope) (*relation, error) {
	rel := &relation{}
	for i := range v.Rows[0] {
		rel.cols = append(rel.cols, colInfo{name: fmt.Sprintf("column%d", i+1)})
	}
	for _, exprs := range v.Rows {
		row := make([]storage.Value, len(exprs))
		for i, e := range exprs {
			val, err := ex.eval(e, &scope{outer: outer})
			if err != nil {
				return nil, err
			}
			row[i] = val
		}
		rel.rows = append(rel.rows, row)
	}
	return rel, nil
}

func (ex *executor) runCompound(c *Compound, outer *scope) (*relation, error) {
	left, err := ex.runSetExpr(c.L, outer)
	if err != nil {
		return nil, err
	}
	right, err := ex.runSetExpr(c.R, outer)
	if err != nil {
		return nil, err
	}
	if len(left.cols) != len(right.cols) {
		return nil, fmt.Errorf("SELECTs to the left and right of %s do not have the same number of result columns", c.Op)
	}
	out := &relation{cols: left.cols}
	switch {
	case c.Op == SetUnion && c.All:
		out.rows = append(append(out.rows, left.rows...), right.rows...)
	case c.Op == SetUnion:
		out.rows = distinctRows(append(append([][]storage.Value(nil), left.rows...), right.rows...))
	default:
		inRight := make(map[string]bool, len(right.rows))
		for _, r := range right.rows {
			inRight[storage.RowKey(r)] = true
		}
		for _, r := range distinctRows(left.rows) {
			if inRight[storage.RowKey(r)] == (c.Op == SetIntersect) {
				out.rows = append(out.rows, r)
			}
		}
	}
	return out, ex.checkRows(len(out.rows))
}

func distinctRows(rows [][]storage.Value) [][]storage.Value {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := storage.RowKey(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// runCore evaluates one SELECT core. When order is non-empty it also returns
// one sort key tuple per output row, evaluated in the row's source context so
// ORDER BY may use columns and aggregates that are not projected.
func (ex *executor) runCore(core *SelectCore, order []OrderItem, outer *scope) (*relation, [][]storage.Value, error) {
	src, err := ex.buildFrom(core.From, outer)
	if err != nil {
		return nil, nil, err
	}
	items, outCols, err := expandProjections(core.Projs, src.cols)
	if err != nil {
		return nil, nil, err
	}
	aliases := &aliasSet{items: items, active: map[string]bool{}}

	rows := src.rows
	if core.Where != nil {
		filtered := make([][]storage.Value, 0, len(rows))
		for _, r := range rows {
			if err := ex.checkCtx(); err != nil {
				return nil, nil, err
			}
			ok, err := ex.predicate(core.Where, &scope{cols: src.cols, row: r, aliases: aliases, outer: outer})
			if err != nil {
				return nil, nil, err
			}
			if ok {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	ordKeys := resolveOrderTargets(order, items)

	var scopes []*scope
	if isAggregateQuery(core, order) {
		if scopes, err = ex.groupScopes(core, items, src.cols, rows, aliases, outer); err != nil {
			return nil, nil, err
		}
	} else {
		scopes = make([]*scope, len(rows))
		for i, r := range rows {
			scopes[i] = &scope{cols: src.cols, row: r, aliases: aliases, outer: outer}
		}
	}

	out := &relation{cols: outCols}
	var keys [][]storage.Value
	for _, sc := range scopes {
		if err := ex.checkCtx(); err != nil {
			return nil, nil, err
		}
		row := make([]storage.Value, len(items))
		for i, it := range items {
			if row[i], err = ex.eval(it.expr, sc); err != nil {
				return nil, nil, err
			}
		}
		out.rows = append(out.rows, row)
		if len(order) > 0 {
			k := make([]storage.Value, len(order))
			for i, oi := range order {
				if ordKeys[i] >= 0 {
					k[i] = row[ordKeys[i]]
				} else if k[i], err = ex.eval(oi.Expr, sc); err != nil {
					return nil, nil, err
				}
			}
			keys = append(keys, k)
		}
	}

	if core.Distinct {
		seen := make(map[string]struct{}, len(out.rows))
		var rows [][]storage.Value
		var dkeys [][]storage.Value
		for i, r := range out.rows {
			k := storage.RowKey(r)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			rows = append(rows, r)
			if keys != nil {
				dkeys = append(dkeys, keys[i])
			}
		}
		out.rows, keys = rows, dkeys
	}
	if out.rows == nil {
		out.rows = [][]storage.Value{}
	}
	return out, keys, ex.checkRows(len(out.rows))
}

type projItem struct {
	expr  Expr
	alias string
}

// expandProjections resolves stars against the source columns and names the
// output columns.
func expandProjections(projs []SelectItem, src []colInfo) ([]projItem, []colInfo, error) {
	var items []projItem
	var cols []colInfo
	for _, p := range projs {
		if p.Star {
			matched := false
			for _, c := range src {
				if c.hidden || (p.StarTable != "" && !strings.EqualFold(c.table, p.StarTable)) {
					continue
				}
				matched = true
				items = append(items, projItem{expr: &ColumnRef{Table: c.table, Name: c.name}})
				cols = append(cols, colInfo{name: c.name})
			}
			if !matched {
				if p.StarTable != "" {
					return nil, nil, fmt.Errorf("no such table: %s", p.StarTable)
				}
				return nil, nil, fmt.Errorf("no tables specified")
			}
			continue
		}
		name := p.Alias
		if name == "" {
			if ref, ok := p.Expr.(*ColumnRef); ok {
				name = ref.Name
			} else {
				name = p.Text
			}
		}
		items = append(items, projItem{expr: p.Expr, alias: p.Alias})
		cols = append(cols, colInfo{name: name})
	}
	return items, cols, nil
}

// resolveOrderTargets maps ORDER BY items that name an output column (by
// ordinal or by alias) to that column; -1 means evaluate the expression.
func resolveOrderTargets(order []OrderItem, items []projItem) []int {
	out := make([]int, len(order))
	for i, oi := range order {
		out[i] = -1
		switch e := oi.Expr.(type) {
		case *Literal:
			if e.Val.Kind() == storage.KindInt {
				if n := int(e.Val.Int64()); n >= 1 && n <= len(items) {
					out[i] = n - 1
				}
			}
		case *ColumnRef:
			if e.Table != "" {
				continue
			}
			for j, it := range items {
				if it.alias != "" && strings.EqualFold(it.alias, e.Name) {
					out[i] = j
					break
				}
			}
		}
	}
	return out
}

// outputOrderKeys builds sort keys for compound queries, whose ORDER BY may
// only reference result columns.
func outputOrderKeys(rel *relation, order []OrderItem) ([][]storage.Value, error) {
	idx := make([]int, len(order))
	for i, oi := range order {
		idx[i] = -1
		switch e := oi.Expr.(type) {
		case *Literal:
			if e.Val.Kind() == storage.KindInt {
				if n := int(e.Val.Int64()); n >= 1 && n <= len(rel.cols) {
					idx[i] = n - 1
				}
			}
		case *ColumnRef:
			for j, c := range rel.cols {
				if strings.EqualFold(c.name, e.Name) {
					idx[i] = j
					break
				}
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%s ORDER BY term does not match any column in the result set", ordinal(i+1))
		}
	}
	keys := make([][]storage.Value, len(rel.rows))
	for r, row := range rel.rows {
		k := make([]storage.Value, len(idx))
		for i, j := range idx {
			k[i] = row[j]
		}
		keys[r] = k
	}
	return keys, nil
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	}
	return fmt.Sprintf("%dth", n)
}

// sortRows orders rows by their keys. NULLs sort first ascending and last
// descending unless NULLS FIRST/LAST says otherwise.
func sortRows(rows, keys [][]storage.Value, order []OrderItem) {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for i, oi := range order {
			c := compareForOrder(ka[i], kb[i], oi)
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	sorted := make([][]storage.Value, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func compareForOrder(a, b storage.Value, oi OrderItem) int {
	if a.IsNull() || b.IsNull() {
		if a.IsNull() && b.IsNull() {
			return 0
		}
		nullsFirst := !oi.Desc
		switch oi.Nulls {
		case NullsFirst:
			nullsFirst = true
		case NullsLast:
			nullsFirst = false
		}
		if a.IsNull() == nullsFirst {
			return -1
		}
		return 1
	}
	c := storage.Compare(a, b)
	if oi.Desc {
		return -c
	}
	return c
}

// ------------------------------ Grouping ------------------------------

func isAggregateQuery(core *SelectCore, order []OrderItem) bool {
	if len(core.GroupBy) > 0 || core.Having != nil {
		return true
	}
	for _, p := range core.Projs {
		if p.Expr != nil && hasAggregate(p.Expr) {
			return true
		}
	}
	for _, oi := range order {
		if hasAggregate(oi.Expr) {
			return true
		}
	}
	return false
}

// hasAggregate walks e without descending into subqueries.
func hasAggregate(e Expr) bool {
	switch x := e.(type) {
	case *FuncCall:
		if isAggregateCall(x) {
			return true
		}
		for _, a := range x.Args {
			if hasAggregate(a) {
				return true
			}
		}
	case *Unary:
		return hasAggregate(x.X)
	case *Binary:
		return hasAggregate(x.L) || hasAggregate(x.R)
	case *IsNull:
		return hasAggregate(x.X)
	case *Between:
		return hasAggregate(x.X) || hasAggregate(x.Lo) || hasAggregate(x.Hi)
	case *InList:
		if hasAggregate(x.X) {
			return true
		}
		for _, a := range x.List {
			if hasAggregate(a) {
				return true
			}
		}
	case *InSubquery:
		return hasAggregate(x.X)
	case *Like:
		return hasAggregate(x.X) || hasAggregate(x.Pattern)
	case *Case:
		if x.Operand != nil && hasAggregate(x.Operand) {
			return true
		}
		for _, w := range x.Whens {
			if hasAggregate(w.Cond) || hasAggregate(w.Result) {
				return true
			}
		}
		return x.Else != nil && hasAggregate(x.Else)
	case *Cast:
		return hasAggregate(x.X)
	}
	return false
}

// groupScopes partitions rows by the GROUP BY keys (in first-seen order),
// filters groups with HAVING and returns one aggregate scope per surviving
// group. Without GROUP BY all rows form a single group, even when empty.
func (ex *executor) groupScopes(core *SelectCore, items []projItem, cols []colInfo, rows [][]storage.Value, aliases *aliasSet, outer *scope) ([]*scope, error) {
	groupExprs := make([]Expr, len(core.GroupBy))
	for i, g := range core.GroupBy {
		groupExprs[i] = groupTarget(g, items, cols)
	}

	var groups [][][]storage.Value
	if len(groupExprs) == 0 {
		groups = [][][]storage.Value{rows}
	} else {
		index := map[string]int{}
		for _, r := range rows {
			if err := ex.checkCtx(); err != nil {
				return nil, err
			}
			sc := &scope{cols: cols, row: r, outer: outer}
			key := make([]storage.Value, len(groupExprs))
			for i, g := range groupExprs {
				v, err := ex.eval(g, sc)
				if err != nil {
					return nil, err
				}
				key[i] = v
			}
			k := storage.RowKey(key)
			gi, ok := index[k]
			if !ok {
				gi = len(groups)
				index[k] = gi
				groups = append(groups, nil)
			}
			groups[gi] = append(groups[gi], r)
		}
	}

	out := make([]*scope, 0, len(groups))
	for _, g := range groups {
		var first []storage.Value
		if len(g) > 0 {
			first = g[0]
		}
		sc := &scope{cols: cols, row: first, group: g, aliases: aliases, outer: outer}
		if first == nil {
			sc.row = make([]storage.Value, len(cols))
		}
		if core.Having != nil {
			ok, err := ex.predicate(core.Having, sc)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, sc)
	}
	return out, nil
}

// groupTarget lets GROUP BY name a result column by ordinal or alias when the
// term does not resolve to a source column.
func groupTarget(g Expr, items []projItem, cols []colInfo) Expr {
	switch e := g.(type) {
	case *Literal:
		if e.Val.Kind() == storage.KindInt {
			if n := int(e.Val.Int64()); n >= 1 && n <= len(items) {
				return items[n-1].expr
			}
		}
	case *ColumnRef:
		if e.Table != "" {
			return g
		}
		for _, c := range cols {
			if !c.hidden && strings.EqualFold(c.name, e.Name) {
				return g
			}
		}
		for _, it := range items {
			if it.alias != "" && strings.EqualFold(it.alias, e.Name) {
				return it.expr
			}
		}
	}
	return g
}

// ------------------------------ FROM ------------------------------

func (ex *executor) buildFrom(item FromItem, outer *scope) (*relation, error) {
	switch f := item.(type) {
	case nil:
		return &relation{rows: [][]storage.Value{{}}}, nil
	case *TableRef:
		return ex.scanTable(f)
	case *DerivedTable:
		rel, err := ex.runSelect(f.Sub, outer)
		if err != nil {
			return nil, err
		}
		cols := make([]colInfo, len(rel.cols))
		for i, c := range rel.cols {
			cols[i] = colInfo{table: f.Alias, name: c.name}
		}
		return &relation{cols: cols, rows: rel.rows}, nil
	case *Join:
		return ex.buildJoin(f, outer)
	}
	return nil, fmt.Errorf("unsupported FROM item %T", item)
}

func (ex *executor) scanTable(ref *TableRef) (*relation, error) {
	name := ref.Name
	if ref.Alias != "" {
		name = ref.Alias
	}
	for i := len(ex.ctes) - 1; i >= 0; i-- {
		if rel, ok := ex.ctes[i][strings.ToLower(ref.Name)]; ok {
			cols := make([]colInfo, len(rel.cols))
			for j, c := range rel.cols {
				cols[j] = colInfo{table: name, name: c.name}
			}
			return &relation{cols: cols, rows: rel.rows}, nil
		}
	}
	t, err := ex.db.Get(ref.Name)
	if err != nil {
		if rel, ok := lookupVirtual(ex.db, ref.Name, name); ok {
			return rel, nil
		}
		return nil, err
	}
	return &relation{cols: tableScopeCols(t, ref.Alias), rows: t.Rows}, nil
}

func (ex *executor) buildJoin(j *Join, outer *scope) (*relation, error) {
	left, err := ex.buildFrom(j.L, outer)
	if err != nil {
		return nil, err
	}
	right, err := ex.buildFrom(j.R, outer)
	if err != nil {
		return nil, err
	}
	cols := make([]colInfo, 0, len(left.cols)+len(right.cols))
	cols = append(cols, left.cols...)
	cols = append(cols, right.cols...)

	using := j.Using
	if j.Natural {
		using = nil
		for _, rc := range right.cols {
			if rc.hidden {
				continue
			}
			for _, lc := range left.cols {
				if !lc.hidden && strings.EqualFold(lc.name, rc.name) {
					using = append(using, rc.name)
					break
				}
			}
		}
	}
	type pair struct{ l, r int }
	var pairs []pair
	for _, name := range using {
		li, ri := findVisible(left.cols, name), findVisible(right.cols, name)
		if li < 0 || ri < 0 {
			return nil, fmt.Errorf("cannot join using column %s - column not present in both tables", name)
		}
		pairs = append(pairs, pair{li, len(left.cols) + ri})
		cols[len(left.cols)+ri].hidden = true
	}

	match := func(row []storage.Value) (bool, error) {
		for _, p := range pairs {
			if compareSQL(row[p.l], row[p.r]) != tvTrue {
				return false, nil
			}
		}
		if j.On == nil {
			return true, nil
		}
		return ex.predicate(j.On, &scope{cols: cols, row: row, outer: outer})
	}

	width := len(cols)
	leftNulls := make([]storage.Value, len(left.cols))
	rightNulls := make([]storage.Value, len(right.cols))
	rightMatched := make([]bool, len(right.rows))
	var rows [][]storage.Value
	for _, l := range left.rows {
		matched := false
		for ri, r := range right.rows {
			if err := ex.checkCtx(); err != nil {
				return nil, err
			}
			row := make([]storage.Value, 0, width)
			row = append(append(row, l...), r...)
			if j.Kind != JoinCross {
				ok, err := match(row)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			matched = true
			rightMatched[ri] = true
			rows = append(rows, row)
			if err := ex.checkRows(len(rows)); err != nil {
				return nil, err
			}
		}
		if !matched && (j.Kind == JoinLeft || j.Kind == JoinFull) {
			row := make([]storage.Value, 0, width)
			rows = append(rows, append(append(row, l...), rightNulls...))
		}
	}
	if j.Kind == JoinRight || j.Kind == JoinFull {
		for ri, r := range right.rows {
			if rightMatched[ri] {
				continue
			}
			row := make([]storage.Value, 0, width)
			row = append(append(row, leftNulls...), r...)
			// Rows that exist only on the right carry the USING value on
			// the visible left column.
			for _, p := range pairs {
				row[p.l] = row[p.r]
			}
			rows = append(rows, row)
		}
	}
	if err := ex.checkRows(len(rows)); err != nil {
		return nil, err
	}
	return &relation{cols: cols, rows: rows}, nil
}

func findVisible(cols []colInfo, name string) int {
	for i, c := range cols {
		if !c.hidden && strings.EqualFold(c.name, name) {
			return i
		}
	}
	return -1
}
