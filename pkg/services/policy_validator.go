package services

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/TFMV/sqlguard/pkg/errors"
)

// AccessMode is the process-wide trust regime for statements.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

func (m AccessMode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// ParseAccessMode parses "read-only" or "read-write". Underscores and case
// are tolerated.
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", "read-only", "readonly", "ro":
		return ReadOnly, nil
	case "read-write", "readwrite", "rw":
		return ReadWrite, nil
	default:
		return ReadOnly, fmt.Errorf("unknown access mode %q (want read-only or read-write)", s)
	}
}

// Rejection reasons. Callers and tests match on these substrings.
const (
	ReasonNotAllowed    = "operation not allowed"
	ReasonReadOnly      = "only SELECT/WITH/EXPLAIN allowed"
	ReasonMissingWhere  = "must include a WHERE clause"
	ReasonTrivialWhere  = "cannot use trivial WHERE clauses"
	ReasonNotSupported  = "not currently supported"
	ReasonInvalidSyntax = "invalid SQL syntax"
	ReasonUnknownKind   = "unrecognized statement"
)

// PolicyValidator decides whether a classified statement may run.
type PolicyValidator struct{}

// NewPolicyValidator creates a new policy validator.
func NewPolicyValidator() *PolicyValidator {
	return &PolicyValidator{}
}

// Validate returns nil to allow the statement, or a POLICY_REJECTED error
// carrying a stable reason. The decision depends only on stmt and mode.
func (v *PolicyValidator) Validate(stmt Statement, mode AccessMode) error {
	switch s := stmt.(type) {
	case *UnparseableStatement:
		return reject("unparseable", "%s: %s", ReasonInvalidSyntax, s.Reason).
			WithHint("Check the statement for typos and send exactly one statement per call")

	case *KeywordStatement:
		return v.validateKeyword(s, mode)

	case *ParsedStatement:
		return v.validateParsed(s, mode)

	default:
		return reject("unknown", "%s", ReasonUnknownKind)
	}
}

func (v *PolicyValidator) validateKeyword(s *KeywordStatement, mode AccessMode) error {
	switch s.Kind() {
	case KindDangerous:
		return reject("dangerous", "%s %s", s.Keyword, ReasonNotAllowed).
			WithDetail("keyword", s.Keyword)
	case KindExplain:
		return nil
	case KindMerge, KindUpsert:
		if mode == ReadOnly {
			return readOnlyRejection(s.Kind())
		}
		return reject("unsupported", "%s statements are %s", s.Kind(), ReasonNotSupported).
			WithHint("Rewrite the statement as separate INSERT and UPDATE statements with explicit WHERE clauses")
	default:
		return reject("unknown", "%s: %s", ReasonUnknownKind, s.Keyword)
	}
}

func (v *PolicyValidator) validateParsed(s *ParsedStatement, mode AccessMode) error {
	kind := s.Kind()
	if kind.IsReadOnly() {
		return nil
	}
	if mode == ReadOnly {
		return readOnlyRejection(kind)
	}

	switch kind {
	case KindInsert:
		return nil
	case KindUpdate, KindDelete:
		if !s.HasWhere {
			return reject("missing_where", "%s statements %s", kind, ReasonMissingWhere).
				WithHint("Add a WHERE clause that selects the rows to change")
		}
		if s.WhereTrivial {
			return reject("trivial_where", "%s statements %s", kind, ReasonTrivialWhere).
				WithDetail("pattern", s.TrivialPattern).
				WithHint("Use a WHERE clause that references real column values")
		}
		return nil
	default:
		return reject("unknown", "%s: %s", ReasonUnknownKind, kind)
	}
}

func readOnlyRejection(kind StatementKind) *errors.Error {
	return reject("read_only", "%s is not permitted in read-only mode: %s", kind, ReasonReadOnly)
}

func reject(category, format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.CodePolicyRejected, format, args...).
		WithDetail("category", category)
}

// RejectionCategory returns the stable category label of a policy error,
// suitable as a metrics label.
func RejectionCategory(err error) string {
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Details == nil {
		return "other"
	}
	if c, ok := e.Details["category"].(string); ok {
		return c
	}
	return "other"
}
