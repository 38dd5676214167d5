// Package services contains business logic implementations.
package services

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// StatementKind represents the effect class of a SQL statement.
type StatementKind int

const (
	KindSelect StatementKind = iota
	KindWith
	KindExplain
	KindInsert
	KindUpdate
	KindDelete
	KindMerge
	KindUpsert
	KindDangerous
	KindUnparseable
)

// String returns the string representation of the statement kind.
func (k StatementKind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindWith:
		return "WITH"
	case KindExplain:
		return "EXPLAIN"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindMerge:
		return "MERGE"
	case KindUpsert:
		return "UPSERT"
	case KindDangerous:
		return "DANGEROUS"
	case KindUnparseable:
		return "UNPARSEABLE"
	default:
		return "UNKNOWN"
	}
}

// IsReadOnly reports whether the kind only reads data.
func (k StatementKind) IsReadOnly() bool {
	return k == KindSelect || k == KindWith || k == KindExplain
}

// Statement is the classifier output. It is one of *ParsedStatement,
// *KeywordStatement or *UnparseableStatement.
type Statement interface {
	Kind() StatementKind
	statement()
}

// ParsedStatement is a statement understood through its syntax tree.
type ParsedStatement struct {
	kind StatementKind
	// HasWhere is true when every UPDATE or DELETE in the statement,
	// including data-modifying CTEs, carries a WHERE clause.
	HasWhere bool
	// WhereTrivial is true when any of those WHERE clauses matches a
	// trivial predicate. Only set for UPDATE and DELETE.
	WhereTrivial bool
	// TrivialPattern names the matched trivial predicate.
	TrivialPattern string
}

func (s *ParsedStatement) Kind() StatementKind { return s.kind }
func (*ParsedStatement) statement()            {}

// KeywordStatement is a statement classified by its leading keyword alone.
type KeywordStatement struct {
	kind    StatementKind
	Keyword string
}

func (s *KeywordStatement) Kind() StatementKind { return s.kind }
func (*KeywordStatement) statement()            {}

// UnparseableStatement is text that could not be read as exactly one
// statement.
type UnparseableStatement struct {
	Reason string
}

func (*UnparseableStatement) Kind() StatementKind { return KindUnparseable }
func (*UnparseableStatement) statement()          {}

// dangerousKeywords are schema, permission, maintenance and session
// commands. They are refused before any parse is attempted.
var dangerousKeywords = map[string]bool{
	"DROP": true, "TRUNCATE": true, "ALTER": true, "CREATE": true,
	"GRANT": true, "REVOKE": true, "RENAME": true, "COMMENT": true,
	"VACUUM": true, "ANALYZE": true, "REINDEX": true, "CLUSTER": true,
	"CHECKPOINT": true, "LOCK": true, "UNLOCK": true, "COPY": true,
	"ATTACH": true, "DETACH": true, "INSTALL": true, "LOAD": true,
	"PRAGMA": true, "SET": true, "RESET": true, "CALL": true, "DO": true,
	"EXECUTE": true, "PREPARE": true, "DEALLOCATE": true, "DISCARD": true,
	"REFRESH": true, "REASSIGN": true, "SECURITY": true, "IMPORT": true,
	"LISTEN": true, "NOTIFY": true, "BEGIN": true, "START": true,
	"COMMIT": true, "END": true, "ROLLBACK": true, "SAVEPOINT": true,
	"RELEASE": true, "SHUTDOWN": true, "KILL": true, "FLUSH": true,
}

// IsDangerousKeyword reports whether the keyword is on the denylist.
func IsDangerousKeyword(keyword string) bool {
	return dangerousKeywords[strings.ToUpper(keyword)]
}

// StatementClassifier turns SQL text into a Statement. It holds no state
// and is safe for concurrent use.
type StatementClassifier struct{}

// NewStatementClassifier creates a new statement classifier.
func NewStatementClassifier() *StatementClassifier {
	return &StatementClassifier{}
}

// Classify classifies sql. It never returns nil.
func (c *StatementClassifier) Classify(sql string) Statement {
	keyword := leadingKeyword(sql)
	if dangerousKeywords[keyword] {
		return &KeywordStatement{kind: KindDangerous, Keyword: keyword}
	}

	tokens, err := scanSQL(sql)
	if err != nil {
		return &UnparseableStatement{Reason: err.Error()}
	}
	if len(tokens) == 0 {
		return &UnparseableStatement{Reason: "empty statement"}
	}
	if hasMultipleStatements(tokens) {
		return &UnparseableStatement{Reason: "multiple statements are not allowed"}
	}

	switch keyword {
	case "EXPLAIN":
		return &KeywordStatement{kind: KindExplain, Keyword: keyword}
	case "MERGE":
		return &KeywordStatement{kind: KindMerge, Keyword: keyword}
	case "UPSERT":
		return &KeywordStatement{kind: KindUpsert, Keyword: keyword}
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return &UnparseableStatement{Reason: err.Error()}
	}
	if len(tree.Stmts) == 0 || tree.Stmts[0].Stmt == nil {
		return &UnparseableStatement{Reason: "empty statement"}
	}
	if len(tree.Stmts) > 1 {
		return &UnparseableStatement{Reason: "multiple statements are not allowed"}
	}

	return classifyNode(tree.Stmts[0].Stmt, keyword)
}

func classifyNode(node *pg_query.Node, keyword string) Statement {
	var a analysis

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if selectHasInto(n.SelectStmt) {
			return &KeywordStatement{kind: KindDangerous, Keyword: "SELECT INTO"}
		}
		a.kind = KindSelect
		if n.SelectStmt.GetWithClause() != nil {
			a.kind = KindWith
		}
		a.visitWith(n.SelectStmt.GetWithClause())
	case *pg_query.Node_InsertStmt:
		a.kind = KindInsert
		a.visitWith(n.InsertStmt.GetWithClause())
	case *pg_query.Node_UpdateStmt:
		a.kind = KindUpdate
		a.visitWhere(n.UpdateStmt.GetWhereClause())
		a.visitWith(n.UpdateStmt.GetWithClause())
	case *pg_query.Node_DeleteStmt:
		a.kind = KindDelete
		a.visitWhere(n.DeleteStmt.GetWhereClause())
		a.visitWith(n.DeleteStmt.GetWithClause())
	case *pg_query.Node_MergeStmt:
		return &KeywordStatement{kind: KindMerge, Keyword: "MERGE"}
	default:
		// Parsed, but not a statement kind this policy knows how to judge.
		return &KeywordStatement{kind: KindDangerous, Keyword: keyword}
	}

	if a.merge {
		return &KeywordStatement{kind: KindMerge, Keyword: "MERGE"}
	}

	stmt := &ParsedStatement{kind: a.kind}
	if a.mutations > 0 {
		stmt.HasWhere = a.wheres == a.mutations
		stmt.WhereTrivial = a.trivial != ""
		stmt.TrivialPattern = a.trivial
	}
	return stmt
}

// analysis accumulates what a statement and its CTEs do.
type analysis struct {
	kind      StatementKind
	merge     bool
	mutations int // UPDATE and DELETE statements seen
	wheres    int // of those, how many had a WHERE
	trivial   string
}

func (a *analysis) visitWhere(where *pg_query.Node) {
	a.mutations++
	if where == nil {
		return
	}
	a.wheres++
	if a.trivial == "" {
		a.trivial = matchTrivialPredicate(where)
	}
}

// visitWith inspects CTE bodies. A data-modifying CTE promotes the
// statement to the strongest write kind it contains.
func (a *analysis) visitWith(with *pg_query.WithClause) {
	if with == nil {
		return
	}
	for _, cte := range with.GetCtes() {
		q := cte.GetCommonTableExpr().GetCtequery()
		if q == nil {
			continue
		}
		switch n := q.Node.(type) {
		case *pg_query.Node_SelectStmt:
			a.visitWith(n.SelectStmt.GetWithClause())
		case *pg_query.Node_InsertStmt:
			a.promote(KindInsert)
			a.visitWith(n.InsertStmt.GetWithClause())
		case *pg_query.Node_UpdateStmt:
			a.promote(KindUpdate)
			a.visitWhere(n.UpdateStmt.GetWhereClause())
			a.visitWith(n.UpdateStmt.GetWithClause())
		case *pg_query.Node_DeleteStmt:
			a.promote(KindDelete)
			a.visitWhere(n.DeleteStmt.GetWhereClause())
			a.visitWith(n.DeleteStmt.GetWithClause())
		case *pg_query.Node_MergeStmt:
			a.merge = true
		}
	}
}

var writeRank = map[StatementKind]int{
	KindSelect: 0, KindWith: 0, KindInsert: 1, KindUpdate: 2, KindDelete: 3,
}

func (a *analysis) promote(k StatementKind) {
	if writeRank[k] > writeRank[a.kind] {
		a.kind = k
	}
}

func selectHasInto(s *pg_query.SelectStmt) bool {
	if s == nil {
		return false
	}
	if s.GetIntoClause() != nil {
		return true
	}
	return selectHasInto(s.GetLarg()) || selectHasInto(s.GetRarg())
}

// trivialPredicate matches one WHERE shape that holds for every row.
type trivialPredicate struct {
	name  string
	match func(*pg_query.Node) bool
}

// trivialPredicates is the fixed list of recognized always-true WHERE
// shapes. It inspects the immediate tree shape only and does no constant
// folding, so WHERE 1+0=1 is not recognized.
var trivialPredicates = []trivialPredicate{
	{name: "boolean TRUE", match: isTrueLiteral},
	{name: "bare numeric literal", match: func(n *pg_query.Node) bool {
		_, ok := numericLiteral(n)
		return ok
	}},
	{name: "identical numeric literals", match: equalityOf(numericLiteral)},
	{name: "identical string literals", match: equalityOf(stringLiteral)},
	{name: "identical column references", match: equalityOf(columnRefName)},
}

// matchTrivialPredicate returns the name of the first trivial predicate
// matching where, or "".
func matchTrivialPredicate(where *pg_query.Node) string {
	for _, p := range trivialPredicates {
		if p.match(where) {
			return p.name
		}
	}
	return ""
}

func isTrueLiteral(n *pg_query.Node) bool {
	c := n.GetAConst()
	if c == nil || c.GetIsnull() {
		return false
	}
	b := c.GetBoolval()
	return b != nil && b.GetBoolval()
}

func numericLiteral(n *pg_query.Node) (string, bool) {
	c := n.GetAConst()
	if c == nil || c.GetIsnull() {
		return "", false
	}
	if i := c.GetIval(); i != nil {
		return strconv.FormatFloat(float64(i.GetIval()), 'g', -1, 64), true
	}
	if f := c.GetFval(); f != nil {
		v, err := strconv.ParseFloat(f.GetFval(), 64)
		if err != nil {
			return f.GetFval(), true
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true
	}
	return "", false
}

func stringLiteral(n *pg_query.Node) (string, bool) {
	c := n.GetAConst()
	if c == nil || c.GetIsnull() {
		return "", false
	}
	if s := c.GetSval(); s != nil {
		return s.GetSval(), true
	}
	return "", false
}

func columnRefName(n *pg_query.Node) (string, bool) {
	ref := n.GetColumnRef()
	if ref == nil {
		return "", false
	}
	parts := make([]string, 0, len(ref.GetFields()))
	for _, f := range ref.GetFields() {
		switch {
		case f.GetString_() != nil:
			parts = append(parts, f.GetString_().GetSval())
		case f.GetAStar() != nil:
			parts = append(parts, "*")
		default:
			return "", false
		}
	}
	return strings.Join(parts, "."), len(parts) > 0
}

// equalityOf matches `x = y` where extract yields the same value for both
// operands.
func equalityOf(extract func(*pg_query.Node) (string, bool)) func(*pg_query.Node) bool {
	return func(n *pg_query.Node) bool {
		expr := n.GetAExpr()
		if expr == nil || expr.GetKind() != pg_query.A_Expr_Kind_AEXPR_OP {
			return false
		}
		if !isOperator(expr.GetName(), "=") {
			return false
		}
		l, lok := extract(expr.GetLexpr())
		r, rok := extract(expr.GetRexpr())
		return lok && rok && l == r
	}
}

func isOperator(name []*pg_query.Node, op string) bool {
	if len(name) == 0 {
		return false
	}
	// qualified operators such as OPERATOR(pg_catalog.=) end with the symbol
	return name[len(name)-1].GetString_().GetSval() == op
}
