package engine

import "github.com/soham407/sqlquest/internal/storage"

// ------------------------------ Expressions ------------------------------

// Expr is any scalar expression node.
type Expr interface{ exprNode() }

type (
	// Literal holds a constant value.
	Literal struct{ Val storage.Value }
	// ColumnRef refers to a column, optionally qualified by a table or alias.
	ColumnRef struct{ Table, Name string }
	// Unary represents -, + and NOT.
	Unary struct {
		Op string
		X  Expr
	}
	// Binary represents arithmetic, concatenation, comparison, IS and AND/OR.
	Binary struct {
		Op   string
		L, R Expr
	}
	// IsNull represents X IS [NOT] NULL.
	IsNull struct {
		X   Expr
		Not bool
	}
	// Between represents X [NOT] BETWEEN Lo AND Hi.
	Between struct {
		X, Lo, Hi Expr
		Not       bool
	}
	// InList represents X [NOT] IN (a, b, ...).
	InList struct {
		X    Expr
		List []Expr
		Not  bool
	}
	// InSubquery represents X [NOT] IN (SELECT ...).
	InSubquery struct {
		X   Expr
		Sub *Select
		Not bool
	}
	// Like represents X [NOT] LIKE Pattern [ESCAPE Escape].
	Like struct {
		X, Pattern, Escape Expr
		Not                bool
	}
	// Exists represents [NOT] EXISTS (SELECT ...).
	Exists struct {
		Sub *Select
		Not bool
	}
	// ScalarSubquery is a parenthesized SELECT used as a value.
	ScalarSubquery struct{ Sub *Select }
	// Case represents both the simple and the searched CASE forms.
	Case struct {
		Operand Expr
		Whens   []When
		Else    Expr
	}
	// When is one WHEN ... THEN ... arm of a Case.
	When struct{ Cond, Result Expr }
	// Cast represents CAST(X AS type).
	Cast struct {
		X    Expr
		Type storage.ColType
	}
	// FuncCall represents a scalar or aggregate function call.
	FuncCall struct {
		Name     string // upper-cased
		Args     []Expr
		Star     bool // COUNT(*)
		Distinct bool
	}
)

func (*Literal) exprNode()        {}
func (*ColumnRef) exprNode()      {}
func (*Unary) exprNode()          {}
func (*Binary) exprNode()         {}
func (*IsNull) exprNode()         {}
func (*Between) exprNode()        {}
func (*InList) exprNode()         {}
func (*InSubquery) exprNode()     {}
func (*Like) exprNode()           {}
func (*Exists) exprNode()         {}
func (*ScalarSubquery) exprNode() {}
func (*Case) exprNode()           {}
func (*Cast) exprNode()           {}
func (*FuncCall) exprNode()       {}

// ------------------------------ Statements ------------------------------

// Statement is any parsed SQL statement.
type Statement interface{ stmtNode() }

type (
	// CreateTable is CREATE TABLE with column definitions or AS SELECT.
	CreateTable struct {
		Name        string
		IfNotExists bool
		Cols        []storage.Column
		AsSelect    *Select
	}
	// DropTable is DROP TABLE [IF EXISTS].
	DropTable struct {
		Name     string
		IfExists bool
	}
	// AlterTable is ALTER TABLE with exactly one of its actions set.
	AlterTable struct {
		Name      string
		AddColumn *storage.Column
		RenameTo  string
		RenameCol [2]string // old, new
	}
	// Insert is INSERT INTO with either literal rows or a query.
	Insert struct {
		Table string
		Cols  []string
		Rows  [][]Expr
		Query *Select
	}
	// Update is UPDATE ... SET ... [WHERE].
	Update struct {
		Table string
		Alias string
		Sets  []Assignment
		Where Expr
	}
	// Assignment is one col = expr pair of an UPDATE.
	Assignment struct {
		Col string
		Val Expr
	}
	// Delete is DELETE FROM ... [WHERE].
	Delete struct {
		Table string
		Where Expr
	}
	// TxControl is BEGIN, COMMIT or ROLLBACK. Every statement already commits
	// on its own, so these are accepted and do nothing.
	TxControl struct{ Verb string }
)

func (*CreateTable) stmtNode() {}
func (*DropTable) stmtNode()   {}
func (*AlterTable) stmtNode()  {}
func (*Insert) stmtNode()      {}
func (*Update) stmtNode()      {}
func (*Delete) stmtNode()      {}
func (*TxControl) stmtNode()   {}
func (*Select) stmtNode()      {}

// ------------------------------ Queries ------------------------------

// Select is a full query: optional CTEs, a body (simple select, compound or
// VALUES), and the ORDER BY / LIMIT that apply to the whole body.
type Select struct {
	With    []CTE
	Body    SetExpr
	OrderBy []OrderItem
	Limit   Expr
	Offset  Expr
}

// CTE is one WITH entry.
type CTE struct {
	Name  string
	Cols  []string
	Query *Select
}

// SetExpr is the body of a Select.
type SetExpr interface{ setNode() }

// SelectCore is a single SELECT ... FROM ... WHERE ... GROUP BY ... HAVING.
type SelectCore struct {
	Distinct bool
	Projs    []SelectItem
	From     FromItem
	Where    Expr
	GroupBy  []Expr
	Having   Expr
}

// SelectItem is one projection. Star items expand to all columns (of StarTable
// when set).
type SelectItem struct {
	Expr      Expr
	Alias     string
	Text      string // source text, used to name unaliased columns
	Star      bool
	StarTable string
}

// SetOp enumerates compound operators.
type SetOp int

const (
	SetUnion SetOp = iota
	SetIntersect
	SetExcept
)

func (op SetOp) String() string {
	switch op {
	case SetIntersect:
		return "INTERSECT"
	case SetExcept:
		return "EXCEPT"
	}
	return "UNION"
}

// Compound combines two bodies with UNION [ALL], INTERSECT or EXCEPT.
type Compound struct {
	Op   SetOp
	All  bool
	L, R SetExpr
}

// Values is a VALUES (...), (...) body.
type Values struct{ Rows [][]Expr }

func (*SelectCore) setNode() {}
func (*Compound) setNode()   {}
func (*Values) setNode()     {}

// NullsOrder selects where NULLs sort in an ORDER BY item.
type NullsOrder int

const (
	NullsDefault NullsOrder = iota
	NullsFirst
	NullsLast
)

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr  Expr
	Desc  bool
	Nulls NullsOrder
}

// FromItem is a table source in FROM.
type FromItem interface{ fromNode() }

// JoinKind enumerates join flavors.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

type (
	// TableRef names a base table or CTE.
	TableRef struct{ Name, Alias string }
	// DerivedTable is a parenthesized subquery in FROM.
	DerivedTable struct {
		Sub   *Select
		Alias string
	}
	// Join combines two sources.
	Join struct {
		Kind    JoinKind
		L, R    FromItem
		On      Expr
		Using   []string
		Natural bool
	}
)

func (*TableRef) fromNode()     {}
func (*DerivedTable) fromNode() {}
func (*Join) fromNode()         {}

// Script is a parsed batch of statements in source order.
type Script struct {
	Statements []Statement
}
