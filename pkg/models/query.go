// Package models provides data structures used throughout the query tool server.
package models

import (
	"time"
)

// QueryRequest represents one inbound query tool call after its argument
// shapes have been checked. Parameters are still untyped at this point.
type QueryRequest struct {
	SQL        string        `json:"sql"`
	Parameters []interface{} `json:"parameters,omitempty"`
	PageSize   *int          `json:"pageSize,omitempty"`
	Offset     *int          `json:"offset,omitempty"`
	RequestID  string        `json:"-"`
}

// QueryResult represents the rows produced by a read statement.
type QueryResult struct {
	Columns       []string                 `json:"columns"`
	Rows          []map[string]interface{} `json:"rows"`
	TotalRows     int64                    `json:"total_rows"`
	ExecutionTime time.Duration            `json:"execution_time"`
}

// UpdateResult represents the result of a write statement.
type UpdateResult struct {
	RowsAffected  int64         `json:"rows_affected"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// PaginationPlan is the SQL actually sent to the engine together with the
// page window reported back to the caller.
type PaginationPlan struct {
	SQL      string
	PageSize int
	Offset   int
	// Limited is set when the executed SQL carries a row bound, either one
	// the caller wrote or one appended by the rewriter.
	Limited bool
	// Rewritten is set only when a bound was appended.
	Rewritten bool
}

// HasMore reports whether another page may exist. It is a heuristic: a full
// page is assumed to have a successor.
//
// It is always false for unlimited plans. Those are single-row aggregates
// such as SELECT COUNT(*) FROM t, and reads run with auto-limit disabled and
// no page size requested. Their results are complete even when the row
// count happens to equal PageSize.
func (p PaginationPlan) HasMore(rowsReturned int) bool {
	return p.Limited && p.PageSize > 0 && rowsReturned == p.PageSize
}
