package models

import (
	"github.com/TFMV/sqlguard/pkg/errors"
)

// OutcomeKind identifies the terminal state of one query pipeline run.
type OutcomeKind int

const (
	OutcomeRows OutcomeKind = iota
	OutcomeAffected
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRows:
		return "rows"
	case OutcomeAffected:
		return "affected"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Pagination is the page window reported alongside read results.
type Pagination struct {
	HasMore  bool `json:"hasMore"`
	PageSize int  `json:"pageSize"`
	Offset   int  `json:"offset"`
}

// ExecutionOutcome is the terminal result of the query pipeline.
type ExecutionOutcome struct {
	Kind          OutcomeKind
	StatementKind string
	Rows          []map[string]interface{}
	RowCount      int64
	Pagination    *Pagination
	Rejection     *errors.Error
	// PayloadBytes is the serialized row set size measured by the result
	// governor.
	PayloadBytes int
}

// Rejected builds a rejected outcome.
func Rejected(statementKind string, err *errors.Error) *ExecutionOutcome {
	return &ExecutionOutcome{
		Kind:          OutcomeRejected,
		StatementKind: statementKind,
		Rejection:     err,
	}
}

// RowsResponse is the wire body for a successful read.
type RowsResponse struct {
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int64                    `json:"rowCount"`
	Pagination Pagination               `json:"pagination"`
}

// AffectedResponse is the wire body for a successful write.
type AffectedResponse struct {
	RowCount int64 `json:"rowCount"`
}

// ErrorResponse is the wire body for every failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// PolicyResponse describes the active access policy.
type PolicyResponse struct {
	AccessMode       string `json:"accessMode"`
	MaxPageSize      int    `json:"maxPageSize"`
	DefaultPageSize  int    `json:"defaultPageSize"`
	AutoLimitEnabled bool   `json:"autoLimitEnabled"`
	MaxPayloadBytes  int    `json:"maxPayloadBytes"`
	Driver           string `json:"driver,omitempty"`
}
