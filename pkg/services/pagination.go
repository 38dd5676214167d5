package services

import (
	"strconv"
	"strings"

	"github.com/TFMV/sqlguard/pkg/models"
)

var aggregateFunctions = map[string]bool{
	"COUNT": true,
	"SUM":   true,
	"AVG":   true,
	"MAX":   true,
	"MIN":   true,
}

// Paginator bounds the result size of read statements.
type Paginator struct {
	maxPageSize     int
	defaultPageSize int
	autoLimit       bool
}

// NewPaginator creates a paginator from the policy limits.
func NewPaginator(cfg PolicyConfig) *Paginator {
	return &Paginator{
		maxPageSize:     cfg.MaxPageSize,
		defaultPageSize: cfg.DefaultPageSize,
		autoLimit:       cfg.AutoLimitEnabled,
	}
}

// Paginate decides the SQL to run for a read statement and the page window
// to report. A statement whose outermost query already bounds its rows is
// returned as is. A LIMIT inside a subquery or CTE does not bound the outer
// result, so such statements still get a LIMIT appended.
//
// Text that does not lex as a single statement is never rewritten.
func (p *Paginator) Paginate(sql string, pageSize, offset *int) models.PaginationPlan {
	plan := models.PaginationPlan{
		SQL:      sql,
		PageSize: p.effectivePageSize(pageSize),
	}
	if offset != nil && *offset > 0 {
		plan.Offset = *offset
	}

	tokens, err := scanSQL(sql)
	if err != nil || len(tokens) == 0 || hasMultipleStatements(tokens) {
		return plan
	}

	if hasLimitClause(tokens) {
		plan.Limited = true
		return plan
	}
	if isSingleRowAggregate(tokens) {
		return plan
	}
	if !p.autoLimit && pageSize == nil {
		return plan
	}

	// Cut at the end of real content so trailing terminators and comments
	// cannot swallow the appended clause.
	var b strings.Builder
	b.WriteString(sql[:contentEnd(tokens)])
	b.WriteString(" LIMIT ")
	b.WriteString(strconv.Itoa(plan.PageSize))
	if plan.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(plan.Offset))
	}

	plan.SQL = b.String()
	plan.Limited = true
	plan.Rewritten = true
	return plan
}

func (p *Paginator) effectivePageSize(requested *int) int {
	size := p.defaultPageSize
	if requested != nil && *requested > 0 {
		size = *requested
	}
	if size > p.maxPageSize {
		size = p.maxPageSize
	}
	return size
}

// hasLimitClause reports a LIMIT, OFFSET or FETCH FIRST/NEXT at
// parenthesis depth 0. Row limits in subqueries are not counted.
func hasLimitClause(tokens []sqlToken) bool {
	return topLevelWordSeq(tokens, "LIMIT") ||
		topLevelWordSeq(tokens, "OFFSET") ||
		topLevelWordSeq(tokens, "FETCH", "FIRST") ||
		topLevelWordSeq(tokens, "FETCH", "NEXT")
}

// isSingleRowAggregate reports an ungrouped top-level aggregate, which
// yields exactly one row. Window aggregates return one row per input row.
func isSingleRowAggregate(tokens []sqlToken) bool {
	return topLevelCall(tokens, aggregateFunctions) &&
		!topLevelWordSeq(tokens, "GROUP", "BY") &&
		!topLevelWordSeq(tokens, "OVER")
}
