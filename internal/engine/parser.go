package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/soham407/sqlquest/internal/storage"
)

// Parser is a recursive-descent parser over the pre-lexed token stream of one
// script.
type Parser struct {
	src   string
	toks  []token
	i     int
	depth int
	err   *SyntaxError // lexical error found while pre-lexing
}

// maxDepth bounds both nesting (parentheses, subqueries, prefix operators)
// and the length of operator chains, so every recursive walk over the tree
// stays well within the goroutine stack.
const maxDepth = 1000

func (p *Parser) enter() error {
	if p.depth >= maxDepth {
		return p.errf("parser stack overflow")
	}
	p.depth++
	return nil
}

func (p *Parser) leave() { p.depth-- }

// charge accounts for one more node on a left-deep operator chain; release
// gives the chain's depth back once the chain is complete.
func (p *Parser) charge(n *int) error {
	if p.depth >= maxDepth {
		return p.errf("expression tree is too large (maximum depth %d)", maxDepth)
	}
	p.depth++
	*n++
	return nil
}

func (p *Parser) release(n *int) { p.depth -= *n }

// NewParser lexes sql and prepares a parser for it.
func NewParser(sql string) *Parser {
	p := &Parser{src: sql}
	lx := newLexer(sql)
	for {
		tok := lx.nextToken()
		if tok.Typ == tError {
			p.err = newSyntaxError(sql, tok, tok.Val)
			tok = token{Typ: tEOF, Pos: tok.Pos, End: tok.Pos}
		}
		p.toks = append(p.toks, tok)
		if tok.Typ == tEOF {
			break
		}
	}
	return p
}

// Parse parses a whole script. Either every statement parses or an error is
// returned; nothing is executed here.
func Parse(sql string) (*Script, error) {
	return NewParser(sql).ParseScript()
}

func (p *Parser) cur() token { return p.toks[p.i] }

func (p *Parser) peekTok(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) next() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

// prevEnd is the end offset of the last consumed token.
func (p *Parser) prevEnd() int {
	if p.i == 0 {
		return 0
	}
	return p.toks[p.i-1].End
}

func (p *Parser) isSymbol(sym string) bool {
	t := p.cur()
	return t.Typ == tSymbol && t.Val == sym
}

func (p *Parser) isKeyword(kws ...string) bool {
	t := p.cur()
	if t.Typ != tKeyword {
		return false
	}
	for _, kw := range kws {
		if t.Val == kw {
			return true
		}
	}
	return false
}

// isWord matches a contextual (non-reserved) word such as NULLS or KEY.
func (p *Parser) isWord(w string) bool {
	t := p.cur()
	return t.Typ == tIdent && strings.EqualFold(t.Val, w)
}

func (p *Parser) acceptSymbol(sym string) bool {
	if p.isSymbol(sym) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptWord(w string) bool {
	if p.isWord(w) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectSymbol(sym string) error {
	if p.acceptSymbol(sym) {
		return nil
	}
	return p.errf("expected %q", sym)
}

func (p *Parser) expectKeyword(kw string) error {
	if p.acceptKeyword(kw) {
		return nil
	}
	return p.errf("expected %s", kw)
}

func (p *Parser) expectWord(w string) error {
	if p.acceptWord(w) {
		return nil
	}
	return p.errf("expected %s", w)
}

func (p *Parser) errf(format string, a ...any) error {
	if p.err != nil && p.cur().Typ == tEOF {
		return p.err
	}
	return newSyntaxError(p.src, p.cur(), fmt.Sprintf(format, a...))
}

// ParseScript parses every statement of the script. Empty statements between
// semicolons are skipped.
func (p *Parser) ParseScript() (*Script, error) {
	sc := &Script{}
	for {
		for p.acceptSymbol(";") {
		}
		if p.cur().Typ == tEOF {
			if p.err != nil {
				return nil, p.err
			}
			return sc, nil
		}
		st, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		sc.Statements = append(sc.Statements, st)
		if !p.isSymbol(";") && p.cur().Typ != tEOF {
			return nil, p.errf("expected end of statement")
		}
	}
}

// ParseStatement parses a single statement at the current position.
func (p *Parser) ParseStatement() (Statement, error) {
	t := p.cur()
	switch {
	case p.isKeyword("SELECT", "WITH", "VALUES"):
		return p.parseSelectStmt()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("ALTER"):
		return p.parseAlter()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isWord("BEGIN"), p.isWord("COMMIT"), p.isWord("ROLLBACK"), p.isKeyword("END"):
		p.next()
		p.acceptWord("TRANSACTION")
		verb := strings.ToUpper(t.Val)
		if verb == "END" {
			verb = "COMMIT"
		}
		return &TxControl{Verb: verb}, nil
	case t.Typ == tEOF:
		return nil, p.errf("expected a statement")
	}
	return nil, p.errf("expected SELECT, INSERT, UPDATE, DELETE, CREATE, DROP or ALTER")
}

// ------------------------------ DDL ------------------------------

func (p *Parser) parseCreate() (Statement, error) {
	p.next() // CREATE
	if !p.acceptWord("TEMP") {
		p.acceptWord("TEMPORARY")
	}
	if !p.isKeyword("TABLE") {
		return nil, p.errf("only CREATE TABLE is supported")
	}
	p.next()
	ct := &CreateTable{}
	if p.acceptKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ct.IfNotExists = true
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	ct.Name = name
	if p.acceptKeyword("AS") {
		sel, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		ct.AsSelect = sel
		return ct, nil
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		if p.isKeyword("PRIMARY", "UNIQUE", "CONSTRAINT") || p.isWord("FOREIGN") || p.isWord("CHECK") {
			if err := p.parseTableConstraint(ct.Cols); err != nil {
				return nil, err
			}
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			for _, c := range ct.Cols {
				if strings.EqualFold(c.Name, col.Name) {
					return nil, p.errf("duplicate column name: %s", col.Name)
				}
			}
			ct.Cols = append(ct.Cols, col)
		}
		if p.acceptSymbol(")") {
			break
		}
		if err := p.expectSymbol(","); err != nil {
			return nil, err
		}
	}
	if len(ct.Cols) == 0 {
		return nil, p.errf("a table needs at least one column")
	}
	return ct, nil
}

func (p *Parser) parseColumnDef() (storage.Column, error) {
	name, err := p.parseName("column name")
	if err != nil {
		return storage.Column{}, err
	}
	col := storage.Column{Name: name, Type: storage.TextType}
	if p.cur().Typ == tIdent && !p.isWord("DEFAULT") && !p.isWord("REFERENCES") {
		typ, decl, err := p.parseType()
		if err != nil {
			return col, err
		}
		col.Type, col.DeclType = typ, decl
	}
	return col, p.parseColumnConstraints(&col)
}

// parseType reads a type name such as INT, VARCHAR(50) or DOUBLE PRECISION.
func (p *Parser) parseType() (storage.ColType, string, error) {
	t := p.cur()
	if t.Typ != tIdent {
		return 0, "", p.errf("expected a type name")
	}
	typ, ok := storage.ParseColType(t.Val)
	if !ok {
		return 0, "", p.errf("unknown type name %s", t.Val)
	}
	start := t.Pos
	p.next()
	for p.isWord("PRECISION") || p.isWord("VARYING") {
		p.next()
	}
	if p.acceptSymbol("(") {
		for {
			if p.cur().Typ != tNumber {
				return 0, "", p.errf("expected a type size")
			}
			p.next()
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return 0, "", err
		}
	}
	return typ, strings.ToUpper(p.src[start:p.prevEnd()]), nil
}

func (p *Parser) parseColumnConstraints(col *storage.Column) error {
	for {
		switch {
		case p.acceptKeyword("CONSTRAINT"):
			if _, err := p.parseName("constraint name"); err != nil {
				return err
			}
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectWord("KEY"); err != nil {
				return err
			}
			if !p.acceptKeyword("ASC") {
				p.acceptKeyword("DESC")
			}
			p.acceptWord("AUTOINCREMENT")
			col.PrimaryKey = true
		case p.acceptKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return err
			}
			col.NotNull = true
		case p.acceptKeyword("NULL"):
		case p.acceptKeyword("UNIQUE"):
			col.Unique = true
		case p.acceptWord("DEFAULT"):
			v, err := p.parseDefault()
			if err != nil {
				return err
			}
			col.Default = &v
		case p.acceptWord("REFERENCES"):
			if err := p.skipReferences(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *Parser) parseDefault() (storage.Value, error) {
	var e Expr
	var err error
	if p.acceptSymbol("(") {
		e, err = p.parseExpr()
		if err == nil {
			err = p.expectSymbol(")")
		}
	} else {
		e, err = p.parseUnary()
	}
	if err != nil {
		return storage.Null(), err
	}
	lit, ok := e.(*Literal)
	if !ok {
		return storage.Null(), p.errf("DEFAULT must be a constant")
	}
	return lit.Val, nil
}

func (p *Parser) skipReferences() error {
	if _, err := p.parseName("table name"); err != nil {
		return err
	}
	if p.isSymbol("(") {
		if _, err := p.parseNameList(); err != nil {
			return err
		}
	}
	return nil
}

// parseTableConstraint handles table-level PRIMARY KEY / UNIQUE on a single
// column and skips FOREIGN KEY clauses.
func (p *Parser) parseTableConstraint(cols []storage.Column) error {
	if p.acceptKeyword("CONSTRAINT") {
		if _, err := p.parseName("constraint name"); err != nil {
			return err
		}
	}
	switch {
	case p.acceptKeyword("PRIMARY"), p.acceptKeyword("UNIQUE"):
		pk := p.toks[p.i-1].Val == "PRIMARY"
		if pk {
			if err := p.expectWord("KEY"); err != nil {
				return err
			}
		}
		names, err := p.parseNameList()
		if err != nil {
			return err
		}
		if len(names) != 1 {
			return p.errf("multi-column keys are not supported")
		}
		for i := range cols {
			if strings.EqualFold(cols[i].Name, names[0]) {
				if pk {
					cols[i].PrimaryKey = true
				} else {
					cols[i].Unique = true
				}
				return nil
			}
		}
		return p.errf("no such column: %s", names[0])
	case p.acceptWord("FOREIGN"):
		if err := p.expectWord("KEY"); err != nil {
			return err
		}
		if _, err := p.parseNameList(); err != nil {
			return err
		}
		if err := p.expectWord("REFERENCES"); err != nil {
			return err
		}
		return p.skipReferences()
	}
	return p.errf("CHECK constraints are not supported")
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	dt := &DropTable{}
	if p.acceptKeyword("IF") {
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		dt.IfExists = true
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	dt.Name = name
	return dt, nil
}

func (p *Parser) parseAlter() (Statement, error) {
	p.next() // ALTER
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	at := &AlterTable{Name: name}
	switch {
	case p.acceptWord("ADD"):
		p.acceptWord("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		at.AddColumn = &col
	case p.acceptWord("RENAME"):
		if p.acceptWord("TO") {
			to, err := p.parseName("table name")
			if err != nil {
				return nil, err
			}
			at.RenameTo = to
			break
		}
		p.acceptWord("COLUMN")
		from, err := p.parseName("column name")
		if err != nil {
			return nil, err
		}
		if err := p.expectWord("TO"); err != nil {
			return nil, err
		}
		to, err := p.parseName("column name")
		if err != nil {
			return nil, err
		}
		at.RenameCol = [2]string{from, to}
	default:
		return nil, p.errf("expected ADD or RENAME")
	}
	return at, nil
}

// ------------------------------ DML ------------------------------

func (p *Parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	ins := &Insert{Table: name}
	if p.isSymbol("(") && !(p.peekTok(1).Typ == tKeyword && p.peekTok(1).Val == "SELECT") {
		cols, err := p.parseNameList()
		if err != nil {
			return nil, err
		}
		ins.Cols = cols
	}
	switch {
	case p.acceptKeyword("VALUES"):
		rows, err := p.parseValueRows()
		if err != nil {
			return nil, err
		}
		ins.Rows = rows
	case p.isKeyword("SELECT", "WITH"):
		sel, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		ins.Query = sel
	case p.acceptWord("DEFAULT"):
		if err := p.expectKeyword("VALUES"); err != nil {
			return nil, err
		}
		ins.Rows = [][]Expr{{}}
	default:
		return nil, p.errf("expected VALUES or SELECT")
	}
	return ins, nil
}

func (p *Parser) parseValueRows() ([][]Expr, error) {
	var rows [][]Expr
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, p.errf("all VALUES must have the same number of terms")
		}
		rows = append(rows, row)
		if !p.acceptSymbol(",") {
			return rows, nil
		}
	}
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	up := &Update{Table: name}
	if alias, ok, err := p.parseAlias(); err != nil {
		return nil, err
	} else if ok {
		up.Alias = alias
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseName("column name")
		if err != nil {
			return nil, err
		}
		if p.acceptSymbol(".") {
			if col, err = p.parseName("column name"); err != nil {
				return nil, err
			}
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		up.Sets = append(up.Sets, Assignment{Col: col, Val: val})
		if !p.acceptSymbol(",") {
			break
		}
	}
	if p.acceptKeyword("WHERE") {
		if up.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return up, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	del := &Delete{Table: name}
	if p.acceptKeyword("WHERE") {
		if del.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return del, nil
}

// ------------------------------ SELECT ------------------------------

func (p *Parser) parseSelectStmt() (*Select, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	sel := &Select{}
	if p.acceptKeyword("WITH") {
		p.acceptWord("RECURSIVE")
		for {
			cte, err := p.parseCTE()
			if err != nil {
				return nil, err
			}
			sel.With = append(sel.With, cte)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}
	body, err := p.parseCompound()
	if err != nil {
		return nil, err
	}
	sel.Body = body
	if err := p.parseOrderByClause(sel); err != nil {
		return nil, err
	}
	if err := p.parseLimitOffset(sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func (p *Parser) parseCTE() (CTE, error) {
	name, err := p.parseName("CTE name")
	if err != nil {
		return CTE{}, err
	}
	cte := CTE{Name: name}
	if p.isSymbol("(") {
		if cte.Cols, err = p.parseNameList(); err != nil {
			return cte, err
		}
	}
	if err := p.expectKeyword("AS"); err != nil {
		return cte, err
	}
	if err := p.expectSymbol("("); err != nil {
		return cte, err
	}
	if cte.Query, err = p.parseSelectStmt(); err != nil {
		return cte, err
	}
	return cte, p.expectSymbol(")")
}

func (p *Parser) parseCompound() (SetExpr, error) {
	left, err := p.parseSelectTerm()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for {
		var op SetOp
		switch {
		case p.acceptKeyword("UNION"):
			op = SetUnion
		case p.acceptKeyword("INTERSECT"):
			op = SetIntersect
		case p.acceptKeyword("EXCEPT"):
			op = SetExcept
		default:
			return left, nil
		}
		all := p.acceptKeyword("ALL")
		if all && op != SetUnion {
			return nil, p.errf("ALL is only supported with UNION")
		}
		right, err := p.parseSelectTerm()
		if err != nil {
			return nil, err
		}
		left = &Compound{Op: op, All: all, L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseSelectTerm() (SetExpr, error) {
	if p.acceptKeyword("VALUES") {
		rows, err := p.parseValueRows()
		if err != nil {
			return nil, err
		}
		return &Values{Rows: rows}, nil
	}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	core := &SelectCore{}
	if p.acceptKeyword("DISTINCT") {
		core.Distinct = true
	} else {
		p.acceptKeyword("ALL")
	}
	if err := p.parseProjections(core); err != nil {
		return nil, err
	}
	if err := p.parseFromClause(core); err != nil {
		return nil, err
	}
	if err := p.parseWhereClause(core); err != nil {
		return nil, err
	}
	if err := p.parseGroupByClause(core); err != nil {
		return nil, err
	}
	if err := p.parseHavingClause(core); err != nil {
		return nil, err
	}
	return core, nil
}

func (p *Parser) parseProjections(core *SelectCore) error {
	for {
		switch {
		case p.acceptSymbol("*"):
			core.Projs = append(core.Projs, SelectItem{Star: true})
		case isNameTok(p.cur()) && p.peekTok(1).Typ == tSymbol && p.peekTok(1).Val == "." &&
			p.peekTok(2).Typ == tSymbol && p.peekTok(2).Val == "*":
			table := p.next().Val
			p.next()
			p.next()
			core.Projs = append(core.Projs, SelectItem{Star: true, StarTable: table})
		default:
			start := p.cur().Pos
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			item := SelectItem{Expr: e, Text: strings.TrimSpace(p.src[start:p.prevEnd()])}
			alias, ok, err := p.parseAlias()
			if err != nil {
				return err
			}
			if ok {
				item.Alias = alias
			}
			core.Projs = append(core.Projs, item)
		}
		if !p.acceptSymbol(",") {
			return nil
		}
	}
}

func isNameTok(t token) bool { return t.Typ == tIdent || t.Typ == tQuotedIdent }

// parseAlias reads an optional "[AS] name".
func (p *Parser) parseAlias() (string, bool, error) {
	if p.acceptKeyword("AS") {
		if p.cur().Typ == tString {
			return p.next().Val, true, nil
		}
		if t := p.cur(); t.Typ == tKeyword && aliasKeyword(t.Val) {
			p.next()
			return p.src[t.Pos:t.End], true, nil
		}
		name, err := p.parseName("alias")
		return name, err == nil, err
	}
	if isNameTok(p.cur()) && !p.isContextualClauseWord() {
		return p.next().Val, true, nil
	}
	return "", false, nil
}

// aliasKeyword reports keywords that SQLite also accepts as a name after AS.
func aliasKeyword(kw string) bool {
	switch kw {
	case "LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS", "NATURAL",
		"ASC", "DESC", "BY", "CAST", "END", "IF", "LIKE", "OFFSET", "WITH":
		return true
	}
	return false
}

// isContextualClauseWord reports words that may follow a table or expression
// and must not be taken as an implicit alias.
func (p *Parser) isContextualClauseWord() bool {
	for _, w := range []string{"NULLS", "ESCAPE", "COLLATE"} {
		if p.isWord(w) {
			return true
		}
	}
	return false
}

func (p *Parser) parseFromClause(core *SelectCore) error {
	if !p.acceptKeyword("FROM") {
		return nil
	}
	left, err := p.parseTablePrimary()
	if err != nil {
		return err
	}
	for {
		j := &Join{L: left}
		switch {
		case p.acceptSymbol(","):
			j.Kind = JoinCross
		case p.isKeyword("JOIN", "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL"):
			if err := p.parseJoinKind(j); err != nil {
				return err
			}
		default:
			core.From = left
			return nil
		}
		if j.R, err = p.parseTablePrimary(); err != nil {
			return err
		}
		if j.Kind != JoinCross && !j.Natural {
			switch {
			case p.acceptKeyword("ON"):
				if j.On, err = p.parseExpr(); err != nil {
					return err
				}
			case p.acceptKeyword("USING"):
				if j.Using, err = p.parseNameList(); err != nil {
					return err
				}
			}
		}
		left = j
	}
}

func (p *Parser) parseJoinKind(j *Join) error {
	j.Natural = p.acceptKeyword("NATURAL")
	switch {
	case p.acceptKeyword("CROSS"):
		j.Kind = JoinCross
	case p.acceptKeyword("LEFT"):
		p.acceptKeyword("OUTER")
		j.Kind = JoinLeft
	case p.acceptKeyword("RIGHT"):
		p.acceptKeyword("OUTER")
		j.Kind = JoinRight
	case p.acceptKeyword("FULL"):
		p.acceptKeyword("OUTER")
		j.Kind = JoinFull
	default:
		p.acceptKeyword("INNER")
		j.Kind = JoinInner
	}
	return p.expectKeyword("JOIN")
}

func (p *Parser) parseTablePrimary() (FromItem, error) {
	if p.acceptSymbol("(") {
		if !p.isKeyword("SELECT", "WITH", "VALUES") {
			return nil, p.errf("expected a subquery")
		}
		sub, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		alias, _, err := p.parseAlias()
		if err != nil {
			return nil, err
		}
		return &DerivedTable{Sub: sub, Alias: alias}, nil
	}
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	if p.acceptSymbol(".") {
		// schema-qualified, as in sys.tables
		sub, err := p.parseName("table name")
		if err != nil {
			return nil, err
		}
		name += "." + sub
	}
	ref := &TableRef{Name: name}
	alias, ok, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	if ok {
		ref.Alias = alias
	}
	return ref, nil
}

func (p *Parser) parseWhereClause(core *SelectCore) error {
	if !p.acceptKeyword("WHERE") {
		return nil
	}
	e, err := p.parseExpr()
	core.Where = e
	return err
}

func (p *Parser) parseGroupByClause(core *SelectCore) error {
	if !p.acceptKeyword("GROUP") {
		return nil
	}
	if err := p.expectKeyword("BY"); err != nil {
		return err
	}
	list, err := p.parseExprList()
	core.GroupBy = list
	return err
}

func (p *Parser) parseHavingClause(core *SelectCore) error {
	if !p.acceptKeyword("HAVING") {
		return nil
	}
	e, err := p.parseExpr()
	core.Having = e
	return err
}

func (p *Parser) parseOrderByClause(sel *Select) error {
	if !p.acceptKeyword("ORDER") {
		return nil
	}
	if err := p.expectKeyword("BY"); err != nil {
		return err
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		item := OrderItem{Expr: e}
		if p.acceptKeyword("DESC") {
			item.Desc = true
		} else {
			p.acceptKeyword("ASC")
		}
		if p.acceptWord("NULLS") {
			switch {
			case p.acceptWord("FIRST"):
				item.Nulls = NullsFirst
			case p.acceptWord("LAST"):
				item.Nulls = NullsLast
			default:
				return p.errf("expected FIRST or LAST")
			}
		}
		sel.OrderBy = append(sel.OrderBy, item)
		if !p.acceptSymbol(",") {
			return nil
		}
	}
}

func (p *Parser) parseLimitOffset(sel *Select) error {
	if !p.acceptKeyword("LIMIT") {
		if p.isKeyword("OFFSET") {
			return p.errf("OFFSET requires LIMIT")
		}
		return nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return err
	}
	sel.Limit = first
	switch {
	case p.acceptKeyword("OFFSET"):
		sel.Offset, err = p.parseExpr()
	case p.acceptSymbol(","):
		// LIMIT offset, count
		sel.Offset = first
		sel.Limit, err = p.parseExpr()
	}
	return err
}

// ------------------------------ Names ------------------------------

func (p *Parser) parseName(what string) (string, error) {
	if isNameTok(p.cur()) {
		return p.next().Val, nil
	}
	return "", p.errf("expected %s", what)
}

func (p *Parser) parseNameList() ([]string, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		n, err := p.parseName("column name")
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		if !p.acceptSymbol(",") {
			break
		}
	}
	return names, p.expectSymbol(")")
}

// ------------------------------ Expressions ------------------------------

func (p *Parser) parseExprList() ([]Expr, error) {
	var list []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.acceptSymbol(",") {
			return list, nil
		}
	}
}

func (p *Parser) parseExpr() (Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if ex, ok := x.(*Exists); ok {
			ex.Not = !ex.Not
			return ex, nil
		}
		return &Unary{Op: "NOT", X: x}, nil
	}
	return p.parseEquality()
}

// parseEquality handles =, <>, IS, IN, LIKE and BETWEEN, which share a
// precedence level below the relational operators.
func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for built := false; ; built = true {
		if built {
			if err := p.charge(&n); err != nil {
				return nil, err
			}
		}
		if p.isSymbol("=") || p.isSymbol("<>") {
			op := p.next().Val
			right, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: op, L: left, R: right}
			continue
		}
		if p.acceptKeyword("IS") {
			not := p.acceptKeyword("NOT")
			if p.acceptKeyword("NULL") {
				left = &IsNull{X: left, Not: not}
				continue
			}
			right, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			op := "IS"
			if not {
				op = "IS NOT"
			}
			left = &Binary{Op: op, L: left, R: right}
			continue
		}
		if p.acceptWord("ISNULL") {
			left = &IsNull{X: left}
			continue
		}
		if p.acceptWord("NOTNULL") {
			left = &IsNull{X: left, Not: true}
			continue
		}
		not := false
		if p.isKeyword("NOT") && p.peekTok(1).Typ == tKeyword {
			switch p.peekTok(1).Val {
			case "IN", "LIKE", "BETWEEN":
				p.next()
				not = true
			}
		}
		switch {
		case p.acceptKeyword("IN"):
			e, err := p.parseInTail(left, not)
			if err != nil {
				return nil, err
			}
			left = e
		case p.acceptKeyword("LIKE"):
			pat, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			lk := &Like{X: left, Pattern: pat, Not: not}
			if p.acceptWord("ESCAPE") {
				if lk.Escape, err = p.parseComparison(); err != nil {
					return nil, err
				}
			}
			left = lk
		case p.acceptKeyword("BETWEEN"):
			lo, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			left = &Between{X: left, Lo: lo, Hi: hi, Not: not}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseInTail(left Expr, not bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.isKeyword("SELECT", "WITH", "VALUES") {
		sub, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &InSubquery{X: left, Sub: sub, Not: not}, nil
	}
	var list []Expr
	if !p.isSymbol(")") {
		var err error
		if list, err = p.parseExprList(); err != nil {
			return nil, err
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &InList{X: left, List: list, Not: not}, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.isSymbol("<") || p.isSymbol("<=") || p.isSymbol(">") || p.isSymbol(">=") {
		op := p.next().Val
		right, err := p.parseAddSub()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseAddSub() (Expr, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.isSymbol("+") || p.isSymbol("-") {
		op := p.next().Val
		right, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseMulDiv() (Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.isSymbol("*") || p.isSymbol("/") || p.isSymbol("%") {
		op := p.next().Val
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseConcat() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	n := 0
	defer p.release(&n)
	for p.acceptSymbol("||") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "||", L: left, R: right}
		if err := p.charge(&n); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isSymbol("-") || p.isSymbol("+") {
		op := p.next().Val
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok && lit.Val.IsNumeric() {
			if op == "+" {
				return lit, nil
			}
			if lit.Val.Kind() == storage.KindInt {
				return &Literal{Val: storage.Int(-lit.Val.Int64())}, nil
			}
			return &Literal{Val: storage.Float(-lit.Val.Float64())}, nil
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.Typ {
	case tNumber:
		p.next()
		return &Literal{Val: parseNumberLiteral(t.Val)}, nil
	case tString:
		p.next()
		return &Literal{Val: storage.Text(t.Val)}, nil
	case tKeyword:
		switch t.Val {
		case "NULL":
			p.next()
			return &Literal{Val: storage.Null()}, nil
		case "TRUE", "FALSE":
			p.next()
			return &Literal{Val: storage.Bool(t.Val == "TRUE")}, nil
		case "CASE":
			return p.parseCase()
		case "CAST":
			return p.parseCast()
		case "EXISTS":
			p.next()
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			sub, err := p.parseSelectStmt()
			if err != nil {
				return nil, err
			}
			return &Exists{Sub: sub}, p.expectSymbol(")")
		case "LEFT", "RIGHT":
			if p.peekTok(1).Typ == tSymbol && p.peekTok(1).Val == "(" {
				p.next()
				return p.parseFuncCall(t.Val)
			}
		}
	case tIdent, tQuotedIdent:
		p.next()
		if t.Typ == tIdent && p.isSymbol("(") {
			return p.parseFuncCall(strings.ToUpper(t.Val))
		}
		if p.acceptSymbol(".") {
			col, err := p.parseName("column name")
			if err != nil {
				return nil, err
			}
			return &ColumnRef{Table: t.Val, Name: col}, nil
		}
		return &ColumnRef{Name: t.Val}, nil
	case tSymbol:
		if t.Val == "(" {
			p.next()
			if p.isKeyword("SELECT", "WITH", "VALUES") {
				sub, err := p.parseSelectStmt()
				if err != nil {
					return nil, err
				}
				return &ScalarSubquery{Sub: sub}, p.expectSymbol(")")
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return e, p.expectSymbol(")")
		}
	}
	return nil, p.errf("expected an expression")
}

func parseNumberLiteral(s string) storage.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return storage.Int(i)
	}
	f, _ := strconv.ParseFloat(s, 64)
	return storage.Float(f)
}

func (p *Parser) parseFuncCall(name string) (Expr, error) {
	p.next() // (
	fc := &FuncCall{Name: name}
	if p.acceptSymbol("*") {
		fc.Star = true
		return fc, p.expectSymbol(")")
	}
	if p.acceptSymbol(")") {
		return fc, nil
	}
	fc.Distinct = p.acceptKeyword("DISTINCT")
	args, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	fc.Args = args
	return fc, p.expectSymbol(")")
}

func (p *Parser) parseCase() (Expr, error) {
	p.next() // CASE
	c := &Case{}
	var err error
	if !p.isKeyword("WHEN") {
		if c.Operand, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	for p.acceptKeyword("WHEN") {
		var w When
		if w.Cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		if w.Result, err = p.parseExpr(); err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, w)
	}
	if len(c.Whens) == 0 {
		return nil, p.errf("expected WHEN")
	}
	if p.acceptKeyword("ELSE") {
		if c.Else, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return c, p.expectKeyword("END")
}

func (p *Parser) parseCast() (Expr, error) {
	p.next() // CAST
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typ, _, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return &Cast{X: x, Type: typ}, p.expectSymbol(")")
}
